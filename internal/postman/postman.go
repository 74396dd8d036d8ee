// Package postman implements message delivery: draining both cores' outbound
// staging rings into each recipient's own inbound ring, then asking task-manager
// to wake whoever just received mail. Grounded on original_source/TISM_Postman.c.
package postman

import (
	"github.com/mjklaren/tism/internal/config"
	"github.com/mjklaren/tism/internal/message"
	"github.com/mjklaren/tism/internal/platform"
	"github.com/mjklaren/tism/internal/ringbuf"
	"github.com/mjklaren/tism/internal/taskstate"
)

// Postman is the message-delivery task.
type Postman struct {
	registry *taskstate.Registry
	clock    platform.Clock
	cfg      config.Config
	outbound []*ringbuf.Ring[message.Message]
	logf     func(taskstate.TaskID, string, ...any)

	receivedMail []bool // per task ID, cleared after notifying task-manager
}

// New builds a postman bound to registry and the per-core outbound rings
// produced by taskstate.NewOutboundRings.
func New(registry *taskstate.Registry, clock platform.Clock, cfg config.Config, outbound []*ringbuf.Ring[message.Message], logf func(taskstate.TaskID, string, ...any)) *Postman {
	return &Postman{registry: registry, clock: clock, cfg: cfg, outbound: outbound, logf: logf}
}

// Run is this task's step function, registered under
// config.SystemTaskPrefix+"Postman".
func (p *Postman) Run(id taskstate.TaskID) uint8 {
	self := p.registry.Get(id)
	if self == nil {
		return uint8(1)
	}

	switch self.State() {
	case taskstate.StateInit:
		p.receivedMail = make([]bool, p.cfg.MaxTasks)

	case taskstate.StateRun:
		count := 0
		count = p.drainOwnInbound(self, count)
		count = p.drainOutboundRings(count)
		p.notifyTaskManager(self)
		// Go to sleep directly; asking task-manager to do it would be circular
		// (task-manager itself is woken by postman).
		self.SetSleeping(true)

	case taskstate.StateStop:
		self.SetState(taskstate.StateDown)
	}
	return 0
}

func (p *Postman) drainOwnInbound(self *taskstate.Descriptor, count int) int {
	for self.Inbound.MessagesWaiting() > 0 && count < p.cfg.MaxMessagesPerRing {
		rec, ok := self.Inbound.Peek()
		if !ok {
			break
		}
		if rec.Kind == message.KindPing {
			self.Outbound.Write(message.Message{
				SenderTask:    uint8(self.ID),
				RecipientTask: rec.SenderTask,
				Kind:          message.KindEcho,
				Payload:       rec.Payload,
			})
		}
		self.Inbound.Pop()
		count++
	}
	return count
}

func (p *Postman) drainOutboundRings(count int) int {
	taskMgr := p.registry.Find(config.SystemTaskPrefix + "TaskManager")

	for _, ring := range p.outbound {
		for ring.MessagesWaiting() > 0 && count < p.cfg.MaxMessagesPerRing {
			rec, ok := ring.Peek()
			if !ok {
				break
			}

			recipient := p.registry.Get(taskstate.TaskID(rec.RecipientTask))
			if recipient == nil {
				p.log(taskstate.TaskID(rec.SenderTask), "message %d type %d from task %d to %d could not be delivered: unknown recipient", rec.Payload, rec.Kind, rec.SenderTask, rec.RecipientTask)
			} else if !recipient.Inbound.Write(rec) {
				p.log(taskstate.TaskID(rec.SenderTask), "message %d type %d from task %d to %d could not be delivered: inbox full", rec.Payload, rec.Kind, rec.SenderTask, rec.RecipientTask)
			} else if taskMgr == nil || recipient.ID != taskMgr.ID {
				// task-manager is run right after postman whether or not it sleeps;
				// no wake request needed.
				p.receivedMail[recipient.ID] = true
			}

			ring.Pop()
			count++
		}
	}
	return count
}

// notifyTaskManager asks task-manager to wake every task that received mail this
// sweep, batched into a single message each rather than one per delivery.
func (p *Postman) notifyTaskManager(self *taskstate.Descriptor) {
	taskMgr := p.registry.Find(config.SystemTaskPrefix + "TaskManager")
	if taskMgr == nil {
		return
	}
	for taskID, received := range p.receivedMail {
		if !received {
			continue
		}
		taskMgr.Inbound.Write(message.Message{
			SenderTask:    uint8(self.ID),
			RecipientTask: uint8(taskMgr.ID),
			Kind:          message.KindSetTaskSleep,
			Payload:       0,
			Aux:           uint32(taskID),
		})
		p.receivedMail[taskID] = false
	}
}

func (p *Postman) log(id taskstate.TaskID, format string, args ...any) {
	if p.logf == nil {
		return
	}
	p.logf(id, format, args...)
}
