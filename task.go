package tism

import (
	"github.com/mjklaren/tism/internal/config"
	"github.com/mjklaren/tism/internal/eventlog"
	"github.com/mjklaren/tism/internal/message"
	"github.com/mjklaren/tism/internal/platform"
	"github.com/mjklaren/tism/internal/taskmgr"
	"github.com/mjklaren/tism/internal/taskstate"
)

// TaskFunc is the task-author-facing step function: given a context bound to its
// own task, it runs one synchronous step to completion and returns OK (0) or a
// non-zero error code. A task never suspends mid-step and never blocks.
type TaskFunc func(ctx *TaskContext) uint8

// Lifecycle states a task's step function switches on, as int32 to match
// TaskContext.State's return type. StateInit/StateRun/StateStop/StateDown are
// reserved; a task body may use any other value as a user-defined sub-state.
const (
	StateDown = int32(taskstate.StateDown)
	StateStop = int32(taskstate.StateStop)
	StateRun  = int32(taskstate.StateRun)
	StateInit = int32(taskstate.StateInit)
)

// TaskContext is the only surface a task body needs: its own identity, plus
// lookup-by-name, post/peek/pop, attribute-change requests, timer set/cancel,
// GPIO subscribe/unsubscribe, and logging.
type TaskContext struct {
	sys *System
	id  taskstate.TaskID
}

func newTaskContext(sys *System, id taskstate.TaskID) *TaskContext {
	return &TaskContext{sys: sys, id: id}
}

func (c *TaskContext) self() *taskstate.Descriptor { return c.sys.registry.Get(c.id) }

// ID returns this task's own id.
func (c *TaskContext) ID() TaskID { return c.id }

// Name returns this task's registered name.
func (c *TaskContext) Name() string {
	if d := c.self(); d != nil {
		return d.Name
	}
	return ""
}

// State returns this task's current lifecycle state (INIT/RUN/STOP/DOWN, or a
// user-defined value the task itself interprets).
func (c *TaskContext) State() int32 {
	if d := c.self(); d != nil {
		return int32(d.State())
	}
	return int32(taskstate.StateDown)
}

// IsAwake reports whether this task is not currently put to sleep.
func (c *TaskContext) IsAwake() bool {
	d := c.self()
	return d != nil && !d.Sleeping()
}

// IsSystemTask reports whether this task carries the reserved system-task name
// prefix, and so is entitled to change another system task's attributes.
func (c *TaskContext) IsSystemTask() bool {
	d := c.self()
	return d != nil && d.IsSystemTask()
}

// AllTaskIDs returns every registered task's id, including this one.
func (c *TaskContext) AllTaskIDs() []TaskID {
	all := c.sys.registry.All()
	ids := make([]TaskID, len(all))
	for i, d := range all {
		ids[i] = d.ID
	}
	return ids
}

// IsTaskAwake reports whether the task identified by id is not currently asleep.
func (c *TaskContext) IsTaskAwake(id TaskID) bool {
	d := c.sys.registry.Get(id)
	return d != nil && !d.Sleeping()
}

// TaskName returns the registered name of the task identified by id.
func (c *TaskContext) TaskName(id TaskID) string {
	if d := c.sys.registry.Get(id); d != nil {
		return d.Name
	}
	return ""
}

// FindTask looks up another task's id by name.
func (c *TaskContext) FindTask(name string) (TaskID, bool) {
	d := c.sys.registry.Find(name)
	if d == nil {
		return 0, false
	}
	return d.ID, true
}

// Post addresses a raw message to recipient. Most callers use the narrower
// Ping/RequestXxx/Subscribe helpers below instead of building a Message directly.
func (c *TaskContext) Post(recipient TaskID, kind message.Kind, payload, aux uint32) bool {
	d := c.self()
	if d == nil {
		return false
	}
	return d.Outbound.Write(message.Message{
		SenderTask:    uint8(c.id),
		RecipientTask: uint8(recipient),
		Kind:          kind,
		Payload:       payload,
		Aux:           aux,
	})
}

// PeekInbound returns the oldest unread message addressed to this task without
// removing it.
func (c *TaskContext) PeekInbound() (message.Message, bool) {
	d := c.self()
	if d == nil {
		var zero message.Message
		return zero, false
	}
	return d.Inbound.Peek()
}

// PopInbound discards the oldest unread message addressed to this task.
func (c *TaskContext) PopInbound() {
	if d := c.self(); d != nil {
		d.Inbound.Pop()
	}
}

// Ping sends a PING to target; the reply (an ECHO carrying the same payload)
// arrives later as an ordinary inbound message.
func (c *TaskContext) Ping(target TaskID, payload uint32) bool {
	return c.Post(target, message.KindPing, payload, 0)
}

func (c *TaskContext) taskManager() TaskID {
	d := c.sys.registry.Find(config.SystemTaskPrefix + "TaskManager")
	if d == nil {
		return 0
	}
	return d.ID
}

func (c *TaskContext) authorize(targetIsSystem bool, kind message.Kind) error {
	if err := taskmgr.Authorize(c.IsSystemTask(), targetIsSystem, kind); err != nil {
		return NewTaskError("TaskContext.authorize", int(c.id), ErrInvalidOperation, err.Error())
	}
	return nil
}

func (c *TaskContext) targetIsSystem(target TaskID) bool {
	d := c.sys.registry.Get(target)
	return d != nil && d.IsSystemTask()
}

// RequestSleep asks task-manager to put target to sleep (or wake it, if asleep is
// false). Rejected synchronously, before the message is even sent, if target is a
// system task and this task is not; task-manager repeats the same check itself
// once the message lands, so a forged or buggy caller can't bypass it.
func (c *TaskContext) RequestSleep(target TaskID, asleep bool) error {
	if err := c.authorize(c.targetIsSystem(target), message.KindSetTaskSleep); err != nil {
		return err
	}
	payload := uint32(0)
	if asleep {
		payload = 1
	}
	c.Post(c.taskManager(), message.KindSetTaskSleep, payload, uint32(target))
	return nil
}

// RequestWakeUpAt asks task-manager to set target's next wake-up deltaMicros from
// now.
func (c *TaskContext) RequestWakeUpAt(target TaskID, deltaMicros uint32) error {
	if err := c.authorize(c.targetIsSystem(target), message.KindSetTaskWakeUpTime); err != nil {
		return err
	}
	c.Post(c.taskManager(), message.KindSetTaskWakeUpTime, deltaMicros, uint32(target))
	return nil
}

// RequestPriority asks task-manager to change target's priority (re-invocation
// interval, in microseconds).
func (c *TaskContext) RequestPriority(target TaskID, priority uint32) error {
	if err := c.authorize(c.targetIsSystem(target), message.KindSetTaskPriority); err != nil {
		return err
	}
	c.Post(c.taskManager(), message.KindSetTaskPriority, priority, uint32(target))
	return nil
}

// RequestState asks task-manager to set target's lifecycle state directly (no
// authorization check in the original: any task may drive another into STOP/DOWN,
// matching TISM_TaskManager.c's unconditional SET_TASK_STATE branch).
func (c *TaskContext) RequestState(target TaskID, state int32) {
	c.Post(c.taskManager(), message.KindSetTaskState, uint32(state), uint32(target))
}

// RequestDebugLevel asks task-manager to change target's debug level.
func (c *TaskContext) RequestDebugLevel(target TaskID, level int32) {
	c.Post(c.taskManager(), message.KindSetTaskDebug, uint32(level), uint32(target))
}

// WakeAllTasks asks task-manager to wake every currently-sleeping task.
func (c *TaskContext) WakeAllTasks() {
	c.Post(c.taskManager(), message.KindWakeAllTasks, 0, 0)
}

// DedicateTo asks task-manager to put every other non-system task to sleep so that
// only target (which must already be awake, and must not itself be a system task)
// keeps running. Rejected synchronously if target is a system task.
func (c *TaskContext) DedicateTo(target TaskID) error {
	if err := c.authorize(c.targetIsSystem(target), message.KindDedicateToTask); err != nil {
		return err
	}
	c.Post(c.taskManager(), message.KindDedicateToTask, 0, uint32(target))
	return nil
}

// RequestSystemStop asks task-manager to drive the whole system into STOP. Any
// task, system or not, may request a shutdown; there is no authorization check
// on this particular control message.
func (c *TaskContext) RequestSystemStop() {
	c.Post(c.taskManager(), message.KindSetSysState, uint32(taskmgr.SystemStop), 0)
}

func (c *TaskContext) irqHandler() TaskID {
	d := c.sys.registry.Find(config.SystemTaskPrefix + "IRQHandler")
	if d == nil {
		return 0
	}
	return d.ID
}

// SubscribeGPIO subscribes this task to pin's events, with an anti-bounce window
// and pull direction. antiBounceUs is clamped to what fits the wire message's
// 24-bit anti-bounce field.
func (c *TaskContext) SubscribeGPIO(pin uint8, events platform.GPIOEvent, antiBounceUs uint32, pullDown bool) error {
	if platform.IsReserved(pin) {
		return NewTaskError("TaskContext.SubscribeGPIO", int(c.id), ErrInvalidOperation, "reserved GPIO")
	}
	if antiBounceUs > c.sys.cfg.AntiBounceMaxMicros {
		antiBounceUs = c.sys.cfg.AntiBounceMaxMicros
	}
	aux := antiBounceUs & 0xFFFFFF
	if pullDown {
		aux |= 0x01000000
	}
	c.Post(c.irqHandler(), message.Kind(pin), uint32(events), aux)
	return nil
}

// UnsubscribeGPIO withdraws this task's subscription to pin.
func (c *TaskContext) UnsubscribeGPIO(pin uint8) {
	c.Post(c.irqHandler(), message.Kind(pin), 0, 0)
}

// NowUs returns the current monotonic microsecond reading, for tasks that keep
// their own virtual timers rather than using SetTimer (original_source's
// TISM_SoftwareTimerSetVirtual pattern).
func (c *TaskContext) NowUs() uint64 {
	return c.sys.platform.NowUs()
}

// Priority returns this task's current re-invocation interval in microseconds.
func (c *TaskContext) Priority() uint32 {
	if d := c.self(); d != nil {
		return d.Priority()
	}
	return 0
}

// InitGPIO initializes pin as a directly-driven output, bypassing the IRQ
// subscription path; for tasks that own a pin outright (an LED, a relay) rather
// than listening for edges on it.
func (c *TaskContext) InitGPIO(pin uint8) error {
	if platform.IsReserved(pin) && pin != platform.GPIOOnboardLED {
		return NewTaskError("TaskContext.InitGPIO", int(c.id), ErrInvalidOperation, "reserved GPIO")
	}
	c.sys.platform.Init(pin)
	c.sys.platform.SetDirection(pin, true)
	return nil
}

// WriteGPIO drives pin high or low. Call InitGPIO first.
func (c *TaskContext) WriteGPIO(pin uint8, high bool) {
	c.sys.platform.Write(pin, high)
}

func (c *TaskContext) timerService() TaskID {
	d := c.sys.registry.Find(config.SystemTaskPrefix + "SoftwareTimer")
	if d == nil {
		return 0
	}
	return d.ID
}

// SetTimer schedules a timer under timerID, firing deltaMicros from now. If
// repetitive, it reschedules itself every periodMillis after first firing, with
// the expiry delivered as a message whose Kind equals timerID, letting a task
// demultiplex several concurrent timers by message kind the same way it would any
// other application message. The assigned sequence number needed for
// CancelTimerBySeq arrives separately, as a KindTimerSet reply.
func (c *TaskContext) SetTimer(timerID uint8, deltaMicros uint32, repetitive bool, periodMillis uint32) {
	aux := uint32(timerID)
	if repetitive {
		aux |= 1 << 8
		aux |= periodMillis << 9
	}
	c.Post(c.timerService(), message.KindTimerSet, deltaMicros, aux)
}

// CancelTimer cancels every pending timer this task armed under timerID.
func (c *TaskContext) CancelTimer(timerID uint8) {
	c.Post(c.timerService(), message.KindTimerCancel, uint32(timerID), 0)
}

// CancelTimerBySeq cancels exactly one pending timer by its assigned sequence
// number.
func (c *TaskContext) CancelTimerBySeq(seq uint32) {
	c.Post(c.timerService(), message.KindTimerCancelBySeq, seq, 0)
}

func (c *TaskContext) eventLogger() TaskID {
	d := c.sys.registry.Find(config.SystemTaskPrefix + "EventLogger")
	if d == nil {
		return 0
	}
	return d.ID
}

// Logf writes a notify-level formatted line through the event logger.
func (c *TaskContext) Logf(format string, args ...any) {
	if d := c.self(); d != nil {
		eventlog.Notify(c.sys.logPool, c.sys.cfg.EventLogEntryLength, d, c.eventLogger(), format, args...)
	}
}

// Errorf writes an error-level formatted line through the event logger.
func (c *TaskContext) Errorf(format string, args ...any) {
	if d := c.self(); d != nil {
		eventlog.Error(c.sys.logPool, c.sys.cfg.EventLogEntryLength, d, c.eventLogger(), format, args...)
	}
}
