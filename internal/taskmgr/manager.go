// Package taskmgr implements the task manager: the sole mutator of task and system
// attributes, reached only by message, so that only one instance ever applies a
// change at a time. Grounded on original_source/TISM_TaskManager.c.
package taskmgr

import (
	"github.com/mjklaren/tism/internal/config"
	"github.com/mjklaren/tism/internal/message"
	"github.com/mjklaren/tism/internal/platform"
	"github.com/mjklaren/tism/internal/taskstate"
)

type managerError string

func (e managerError) Error() string { return string(e) }

const errUnauthorized = managerError("attempt to change priority, wakeup time, sleep state, or dedication of a system task by a non-system task is not allowed")

// SystemState is the system's forward-only runlevel.
type SystemState uint8

const (
	SystemInit SystemState = iota
	SystemStop
	SystemRun
	SystemDown
)

// Manager is the task-manager task.
type Manager struct {
	registry *taskstate.Registry
	clock    platform.Clock
	cfg      config.Config
	logf     func(taskstate.TaskID, string, ...any)

	state SystemState
}

// New builds a task manager bound to registry and clock.
func New(registry *taskstate.Registry, clock platform.Clock, cfg config.Config, logf func(taskstate.TaskID, string, ...any)) *Manager {
	return &Manager{registry: registry, clock: clock, cfg: cfg, logf: logf, state: SystemInit}
}

// State returns the current system runlevel.
func (m *Manager) State() SystemState { return m.state }

// SetStateDirect sets the system runlevel without going through a message. The
// scheduler is the one caller allowed to do this: it is the boot authority for the
// INIT→RUN and RUN→STOP transitions, the same way it mutates its own bootstrap
// ordering directly rather than asking itself for permission.
func (m *Manager) SetStateDirect(s SystemState) { m.state = s }

// Run is this task's step function, registered under
// config.SystemTaskPrefix+"TaskManager".
func (m *Manager) Run(id taskstate.TaskID) uint8 {
	self := m.registry.Get(id)
	if self == nil {
		return uint8(1)
	}

	switch self.State() {
	case taskstate.StateInit:
		// Bring TaskManager and Postman to sleep; they are only ever woken by an
		// incoming message. IRQHandler is not touched here: it puts itself to sleep at
		// INIT and, once woken by its first request, stays awake, since ISR-fired
		// events arrive on its private ingest ring, which postman can never see and so
		// can never wake it for.
		for _, name := range []string{
			config.SystemTaskPrefix + "TaskManager",
			config.SystemTaskPrefix + "Postman",
		} {
			if d := m.registry.Find(name); d != nil {
				d.SetSleeping(true)
			}
		}

	case taskstate.StateRun:
		count := 0
		for self.Inbound.MessagesWaiting() > 0 && count < m.cfg.MaxMessagesPerRing {
			rec, ok := self.Inbound.Peek()
			if !ok {
				break
			}
			m.apply(self, rec)
			self.Inbound.Pop()
			count++
		}
		// Go back to sleep; only a new inbound message (or the scheduler's
		// bookkeeping) wakes task-manager again.
		self.SetSleeping(true)

	case taskstate.StateStop:
		self.SetState(taskstate.StateDown)
	}
	return 0
}

// apply is the control-message switch: the single place every task attribute is
// ever mutated after INIT.
func (m *Manager) apply(self *taskstate.Descriptor, rec message.Message) {
	switch rec.Kind {
	case message.KindPing:
		self.Outbound.Write(message.Message{
			SenderTask:    uint8(self.ID),
			RecipientTask: rec.SenderTask,
			Kind:          message.KindEcho,
			Payload:       rec.Payload,
		})

	case message.KindSetTaskSleep:
		m.setSleep(rec)

	case message.KindSetTaskWakeUpTime:
		m.setWakeUpTime(rec)

	case message.KindSetSysState:
		m.state = SystemState(rec.Payload)

	case message.KindSetTaskState:
		m.setTaskState(rec)

	case message.KindSetTaskPriority:
		m.setPriority(rec)

	case message.KindWakeAllTasks:
		m.wakeAll()

	case message.KindDedicateToTask:
		m.dedicate(rec)

	case message.KindSetTaskDebug:
		m.setDebug(rec)
	}
}

func (m *Manager) target(rec message.Message) *taskstate.Descriptor {
	return m.registry.Get(taskstate.TaskID(rec.Aux))
}

func (m *Manager) authorized(requester uint8, target *taskstate.Descriptor, kind message.Kind) bool {
	req := m.registry.Get(taskstate.TaskID(requester))
	reqIsSystem := req != nil && req.IsSystemTask()
	targetIsSystem := target != nil && target.IsSystemTask()
	if err := Authorize(reqIsSystem, targetIsSystem, kind); err != nil {
		m.log(requester, err.Error())
		return false
	}
	return true
}

func (m *Manager) setSleep(rec message.Message) {
	target := m.target(rec)
	if target == nil || !m.authorized(rec.SenderTask, target, message.KindSetTaskSleep) {
		return
	}
	if rec.Payload == 0 {
		if target.Sleeping() {
			target.SetSleeping(false)
			target.SetWakeAtMicros(m.clock.NowUs())
		}
	} else {
		target.SetSleeping(true)
	}
}

func (m *Manager) setWakeUpTime(rec message.Message) {
	target := m.target(rec)
	if target == nil || !m.authorized(rec.SenderTask, target, message.KindSetTaskWakeUpTime) {
		return
	}
	target.SetWakeAtMicros(m.clock.NowUs() + uint64(rec.Payload))
}

func (m *Manager) setTaskState(rec message.Message) {
	target := m.target(rec)
	if target == nil {
		return
	}
	target.SetState(taskstate.State(rec.Payload))
}

func (m *Manager) setPriority(rec message.Message) {
	target := m.target(rec)
	if target == nil || !m.authorized(rec.SenderTask, target, message.KindSetTaskPriority) {
		return
	}
	target.SetPriority(rec.Payload)
}

func (m *Manager) setDebug(rec message.Message) {
	target := m.target(rec)
	if target == nil {
		return
	}
	target.SetDebugLevel(int32(rec.Payload))
}

func (m *Manager) wakeAll() {
	now := m.clock.NowUs()
	for _, d := range m.registry.All() {
		if d.Sleeping() {
			d.SetWakeAtMicros(now)
			d.SetSleeping(false)
		}
	}
}

// dedicate puts every non-system task other than the target to sleep, provided the
// target itself is currently awake. Use with caution, per the original comment.
func (m *Manager) dedicate(rec message.Message) {
	target := m.target(rec)
	if target == nil || !m.authorized(rec.SenderTask, target, message.KindDedicateToTask) {
		return
	}
	if target.Sleeping() {
		m.log(rec.SenderTask, "task to dedicate to is sleeping; aborting")
		return
	}
	for _, d := range m.registry.All() {
		if d.ID != target.ID && !d.IsSystemTask() {
			d.SetSleeping(true)
		}
	}
}

func (m *Manager) log(id uint8, msg string) {
	if m.logf != nil {
		m.logf(taskstate.TaskID(id), msg)
	}
}
