// Package taskstate holds the per-task descriptor and the fixed-capacity registry
// of tasks. After INIT, only task-manager calls the attribute setters below.
package taskstate

import (
	"strings"
	"sync/atomic"

	"github.com/mjklaren/tism/internal/config"
	"github.com/mjklaren/tism/internal/message"
	"github.com/mjklaren/tism/internal/ringbuf"
)

// State is a task's lifecycle state. INIT/RUN/STOP/DOWN are reserved; any other
// value is a user-defined state the task's own step function interprets.
type State int32

const (
	StateDown State = iota
	StateStop
	StateRun
	StateInit
)

// TaskFunc is a task's step function: given its own id it runs to completion and
// returns OK (0) or a non-zero error code.
type TaskFunc func(id TaskID) uint8

// TaskID is a task's slot index in the registry, [0, num_tasks).
type TaskID int

// NoCore is the sentinel value of RunningOnCore when a task is not currently
// executing on any core.
const NoCore = -1

// Descriptor is one task's mutable attribute block. Every field the scheduler reads
// on both cores is atomic; there is no mutex. The single-writer discipline is
// structural, enforced by only task-manager ever calling the setters.
type Descriptor struct {
	ID       TaskID
	Name     string
	Entry    TaskFunc

	state         atomic.Int32
	priority      atomic.Uint32
	sleeping      atomic.Bool
	wakeAtMicros  atomic.Uint64
	debugLevel    atomic.Int32
	runningOnCore atomic.Int32

	// Inbound is this task's owned mailbox: written by postman, read only by the
	// task itself. ISR-fired events for the IRQ handler go to its separate private
	// ingest ring, not here.
	Inbound *ringbuf.Ring[message.Message]

	// Outbound is rebound by the scheduler, every time it runs this task, to the
	// current core's outbound staging ring: a weak reference, not this task's own.
	Outbound *ringbuf.Ring[message.Message]
}

// IsSystemTask reports whether name carries the reserved system-task prefix.
func IsSystemTask(name string) bool {
	return strings.HasPrefix(name, config.SystemTaskPrefix)
}

func newDescriptor(id TaskID, name string, entry TaskFunc, priority uint32, inboundCapacity int) *Descriptor {
	d := &Descriptor{
		ID:      id,
		Name:    name,
		Entry:   entry,
		Inbound: ringbuf.New[message.Message](inboundCapacity),
	}
	d.state.Store(int32(StateInit))
	d.priority.Store(priority)
	d.runningOnCore.Store(NoCore)
	return d
}

// State/SetState, Priority/SetPriority, Sleeping/SetSleeping, WakeAt/SetWakeAt,
// DebugLevel/SetDebugLevel: only task-manager calls the Set* forms after INIT.

func (d *Descriptor) State() State           { return State(d.state.Load()) }
func (d *Descriptor) SetState(s State)       { d.state.Store(int32(s)) }
func (d *Descriptor) Priority() uint32       { return d.priority.Load() }
func (d *Descriptor) SetPriority(p uint32)   { d.priority.Store(p) }
func (d *Descriptor) Sleeping() bool         { return d.sleeping.Load() }
func (d *Descriptor) SetSleeping(s bool)     { d.sleeping.Store(s) }
func (d *Descriptor) WakeAtMicros() uint64   { return d.wakeAtMicros.Load() }
func (d *Descriptor) SetWakeAtMicros(t uint64) { d.wakeAtMicros.Store(t) }
func (d *Descriptor) DebugLevel() int32      { return d.debugLevel.Load() }
func (d *Descriptor) SetDebugLevel(l int32)  { d.debugLevel.Store(l) }
func (d *Descriptor) RunningOnCore() int32   { return d.runningOnCore.Load() }
func (d *Descriptor) SetRunningOnCore(c int32) { d.runningOnCore.Store(c) }

// IsSystemTask reports whether this descriptor's own name carries the reserved
// prefix.
func (d *Descriptor) IsSystemTask() bool { return IsSystemTask(d.Name) }
