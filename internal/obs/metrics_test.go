package obs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordTaskRunAccumulatesPerCoreBusyTime(t *testing.T) {
	m := NewMetrics()
	m.RecordTaskRun(0, 10*time.Millisecond)
	m.RecordTaskRun(0, 5*time.Millisecond)
	m.RecordTaskRun(1, 1*time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, int64(15*time.Millisecond), snap.CoreBusyNs[0])
	assert.Equal(t, int64(1*time.Millisecond), snap.CoreBusyNs[1])
	assert.Equal(t, uint64(3), snap.TasksExecuted)
}

func TestMetrics_RecordDeliverySplitsRoutedAndDropped(t *testing.T) {
	m := NewMetrics()
	m.RecordDelivery(true)
	m.RecordDelivery(true)
	m.RecordDelivery(false)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.MessagesRouted)
	assert.Equal(t, uint64(1), snap.MessagesDropped)
}

func TestMetricsObserver_DelegatesToMetrics(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)
	o.ObserveSweep()
	o.ObserveIRQEvent(true)
	o.ObserveIRQEvent(false)

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.Sweeps)
	assert.Equal(t, uint64(1), snap.IRQEventsFired)
	assert.Equal(t, uint64(1), snap.IRQEventsBounced)
}

func TestNoOpObserver_NeverPanics(t *testing.T) {
	var o Observer = NoOpObserver{}
	assert.NotPanics(t, func() {
		o.ObserveSweep()
		o.ObserveTaskRun(0, time.Second)
		o.ObserveDelivery(true)
		o.ObserveIRQEvent(true)
	})
}
