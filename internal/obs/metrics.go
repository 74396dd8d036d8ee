// Package obs carries ambient operational metrics, a Metrics/Observer pattern
// scaled down to the handful of counters a cooperative scheduler can usefully
// expose: sweep counts, message delivery/drop counts, and per-core busy time.
package obs

import (
	"sync/atomic"
	"time"
)

// Metrics tracks kernel-wide operational counters.
type Metrics struct {
	Sweeps          atomic.Uint64 // scheduler passes completed, across both cores
	MessagesRouted  atomic.Uint64 // messages postman delivered successfully
	MessagesDropped atomic.Uint64 // messages postman could not deliver (full inbox, unknown recipient)
	TasksExecuted   atomic.Uint64 // task step functions invoked
	IRQEventsFired  atomic.Uint64 // ISR callbacks that made it past anti-bounce filtering
	IRQEventsBounced atomic.Uint64 // ISR callbacks suppressed by anti-bounce

	CoreBusyNs [2]atomic.Int64 // cumulative time each core spent inside a task's Run

	StartTime atomic.Int64 // UnixNano
}

// NewMetrics returns a zeroed metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSweep increments the sweep counter.
func (m *Metrics) RecordSweep() { m.Sweeps.Add(1) }

// RecordTaskRun increments the task-execution counter and, when coreID is in
// range, adds dur to that core's cumulative busy time.
func (m *Metrics) RecordTaskRun(coreID int, dur time.Duration) {
	m.TasksExecuted.Add(1)
	if coreID >= 0 && coreID < len(m.CoreBusyNs) {
		m.CoreBusyNs[coreID].Add(int64(dur))
	}
}

// RecordDelivery records one message delivery outcome.
func (m *Metrics) RecordDelivery(ok bool) {
	if ok {
		m.MessagesRouted.Add(1)
	} else {
		m.MessagesDropped.Add(1)
	}
}

// RecordIRQEvent records one demultiplexed interrupt, tallying whether it passed
// anti-bounce filtering or was suppressed.
func (m *Metrics) RecordIRQEvent(delivered bool) {
	if delivered {
		m.IRQEventsFired.Add(1)
	} else {
		m.IRQEventsBounced.Add(1)
	}
}

// Snapshot is a point-in-time copy of Metrics, safe to read without races.
type Snapshot struct {
	Sweeps           uint64
	MessagesRouted   uint64
	MessagesDropped  uint64
	TasksExecuted    uint64
	IRQEventsFired   uint64
	IRQEventsBounced uint64
	CoreBusyNs       [2]int64
	UptimeNs         int64
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Sweeps:           m.Sweeps.Load(),
		MessagesRouted:   m.MessagesRouted.Load(),
		MessagesDropped:  m.MessagesDropped.Load(),
		TasksExecuted:    m.TasksExecuted.Load(),
		IRQEventsFired:   m.IRQEventsFired.Load(),
		IRQEventsBounced: m.IRQEventsBounced.Load(),
		UptimeNs:         time.Now().UnixNano() - m.StartTime.Load(),
	}
	for i := range m.CoreBusyNs {
		s.CoreBusyNs[i] = m.CoreBusyNs[i].Load()
	}
	return s
}

// Observer lets the scheduler report events to a pluggable sink. The scheduler
// calls ObserveSweep and ObserveTaskRun; nothing in the kernel calls
// ObserveDelivery or ObserveIRQEvent. The Observer/NoOpObserver/MetricsObserver split lets a caller
// swap in a no-op during tests without branching on nil.
type Observer interface {
	ObserveSweep()
	ObserveTaskRun(coreID int, dur time.Duration)
	ObserveDelivery(ok bool)
	ObserveIRQEvent(delivered bool)
}

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSweep()                            {}
func (NoOpObserver) ObserveTaskRun(int, time.Duration)         {}
func (NoOpObserver) ObserveDelivery(bool)                      {}
func (NoOpObserver) ObserveIRQEvent(bool)                      {}

// MetricsObserver implements Observer by recording into a Metrics instance.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver returns an Observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSweep()                    { o.metrics.RecordSweep() }
func (o *MetricsObserver) ObserveTaskRun(coreID int, dur time.Duration) {
	o.metrics.RecordTaskRun(coreID, dur)
}
func (o *MetricsObserver) ObserveDelivery(ok bool)      { o.metrics.RecordDelivery(ok) }
func (o *MetricsObserver) ObserveIRQEvent(delivered bool) { o.metrics.RecordIRQEvent(delivered) }

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = NoOpObserver{}
