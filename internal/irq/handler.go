// Package irq implements the interrupt ingestion path: an ISR callback that writes
// into a lock-free ring, and a demultiplexer task that fans fired events out to
// subscribers with per-subscription anti-bounce filtering. Grounded on
// original_source/TISM_IRQHandler.c.
package irq

import (
	"github.com/mjklaren/tism/internal/config"
	"github.com/mjklaren/tism/internal/message"
	"github.com/mjklaren/tism/internal/platform"
	"github.com/mjklaren/tism/internal/ringbuf"
	"github.com/mjklaren/tism/internal/taskstate"
)

// subscription is one entry in a GPIO's subscriber list. HostID is stored
// explicitly and kept as part of this entry's identity; the original source
// overwrote it with TaskID before the field could ever be read back.
type subscription struct {
	hostID          uint8
	taskID          taskstate.TaskID
	events          platform.GPIOEvent
	antiBounceUs    uint32
	lastDeliveredAt uint64
}

type gpioSlot struct {
	initialized bool
	pullDown    bool
	eventMask   platform.GPIOEvent
	subs        []*subscription
}

// Handler is the IRQ ingest + demultiplex task.
type Handler struct {
	registry *taskstate.Registry
	gpio     platform.GPIO
	clock    platform.Clock
	cfg      config.Config
	logf     func(taskstate.TaskID, string, ...any)

	ingest *ringbuf.Ring[message.Message]
	gpios  [platform.NumberOfGPIOPorts]gpioSlot
}

// New builds an IRQ handler bound to registry, gpio, and clock. logf receives
// human-readable diagnostics (wired to the event logger by boot glue).
func New(registry *taskstate.Registry, gpio platform.GPIO, clock platform.Clock, cfg config.Config, logf func(taskstate.TaskID, string, ...any)) *Handler {
	return &Handler{registry: registry, gpio: gpio, clock: clock, cfg: cfg, logf: logf}
}

// Run is this task's step function, registered under the name
// config.SystemTaskPrefix+"IRQHandler".
func (h *Handler) Run(id taskstate.TaskID) uint8 {
	self := h.registry.Get(id)
	if self == nil {
		return uint8(1)
	}

	switch self.State() {
	case taskstate.StateInit:
		h.ingest = ringbuf.New[message.Message](h.cfg.MaxMessagesPerRing)
		for i := range h.gpios {
			h.gpios[i] = gpioSlot{pullDown: true}
		}
		self.SetSleeping(true)

	case taskstate.StateRun:
		// Stays awake on its own priority interval rather than sleeping between
		// messages: ISR-fired events land in the ingest ring, which postman never
		// sees and so can never wake this task for, unlike a normal task's Inbound.
		h.drainIngest(self)
		h.drainInbound(self)

	case taskstate.StateStop:
		self.SetState(taskstate.StateDown)
	}
	return 0
}

// isrCallback is registered with the platform GPIO as the interrupt entry point.
// It runs in "ISR context": a single producer writing into the ingest ring, never
// blocking, never logging. Ingest overflow is a dropped event with no retry; it
// is not logged from ISR context.
func (h *Handler) isrCallback(pin uint8, events platform.GPIOEvent) {
	h.ingest.Write(message.Message{
		Kind:            message.Kind(pin),
		Payload:         uint32(events),
		TimestampMicros: h.clock.NowUs(),
	})
	h.gpio.AcknowledgeIRQ(pin, events)
}

func (h *Handler) drainIngest(self *taskstate.Descriptor) {
	count := 0
	for h.ingest.MessagesWaiting() > 0 && count < h.cfg.MaxMessagesPerRing {
		rec, ok := h.ingest.Peek()
		if !ok {
			break
		}
		h.demux(self, rec)
		h.ingest.Pop()
		count++
	}
}

func (h *Handler) demux(self *taskstate.Descriptor, rec message.Message) {
	pin := uint8(rec.Kind)
	if int(pin) >= len(h.gpios) || !h.gpios[pin].initialized {
		return
	}
	events := platform.GPIOEvent(rec.Payload)
	for _, s := range h.gpios[pin].subs {
		if s.events&events == 0 {
			continue
		}
		if s.antiBounceUs != 0 && rec.TimestampMicros <= s.lastDeliveredAt+uint64(s.antiBounceUs) {
			continue
		}
		pullDown := uint32(0)
		if h.gpios[pin].pullDown {
			pullDown = 1
		}
		self.Outbound.Write(message.Message{
			SenderTask:    uint8(self.ID),
			RecipientTask: uint8(s.taskID),
			Kind:          message.Kind(pin),
			Payload:       uint32(events),
			Aux:           pullDown,
		})
		s.lastDeliveredAt = rec.TimestampMicros
	}
}

func (h *Handler) drainInbound(self *taskstate.Descriptor) {
	count := 0
	for self.Inbound.MessagesWaiting() > 0 && count < h.cfg.MaxMessagesPerRing {
		rec, ok := self.Inbound.Peek()
		if !ok {
			break
		}
		h.handleRequest(self, rec)
		self.Inbound.Pop()
		count++
	}
}

func (h *Handler) handleRequest(self *taskstate.Descriptor, rec message.Message) {
	switch {
	case rec.Kind == message.KindPing:
		self.Outbound.Write(message.Message{
			SenderTask:    uint8(self.ID),
			RecipientTask: rec.SenderTask,
			Kind:          message.KindEcho,
			Payload:       rec.Payload,
		})
	case int(rec.Kind) < len(h.gpios):
		h.handleSubscription(self, rec)
	default:
		h.log(self.ID, "invalid GPIO subscription (%d) requested by %d; ignoring", rec.Kind, rec.SenderTask)
	}
}

// handleSubscription applies a subscribe/unsubscribe request addressed to this
// handler. payload==0 means unsubscribe; aux packs anti-bounce microseconds in the
// low 24 bits and the pull-down flag in bit 24.
func (h *Handler) handleSubscription(self *taskstate.Descriptor, rec message.Message) {
	pin := uint8(rec.Kind)
	if platform.IsReserved(pin) {
		h.log(self.ID, "rejected subscription on reserved GPIO %d from task %d", pin, rec.SenderTask)
		return
	}

	slot := &h.gpios[pin]
	unsubscribe := rec.Payload == 0

	if !slot.initialized {
		if unsubscribe {
			h.log(self.ID, "unsubscribe from uninitialized GPIO %d requested by task %d; ignoring", pin, rec.SenderTask)
			return
		}
		h.gpio.Init(pin)
		h.gpio.SetDirection(pin, false)
		pullDown := rec.Aux&0x01000000 != 0
		if pullDown {
			h.gpio.PullDown(pin)
		} else {
			h.gpio.PullUp(pin)
		}
		slot.initialized = true
		slot.pullDown = pullDown
		slot.subs = append(slot.subs, &subscription{
			hostID:       rec.SenderHost,
			taskID:       taskstate.TaskID(rec.SenderTask),
			events:       platform.GPIOEvent(rec.Payload),
			antiBounceUs: rec.Aux & 0xFFFFFF,
		})
	} else {
		h.updateSubscription(slot, rec, unsubscribe)
	}

	if len(slot.subs) > 0 {
		slot.eventMask = combinedMask(slot.subs)
		h.gpio.EnableIRQ(pin, slot.eventMask, h.isrCallback)
	} else {
		slot.eventMask = 0
		// Disable the hardware IRQ once the last subscriber leaves, rather than
		// leaving it armed with no listener.
		h.gpio.EnableIRQ(pin, 0, nil)
	}
}

func (h *Handler) updateSubscription(slot *gpioSlot, rec message.Message, unsubscribe bool) {
	idx := -1
	for i, s := range slot.subs {
		if s.hostID == rec.SenderHost && s.taskID == taskstate.TaskID(rec.SenderTask) {
			idx = i
			break
		}
	}
	if idx < 0 {
		if unsubscribe {
			return
		}
		slot.subs = append(slot.subs, &subscription{
			hostID:       rec.SenderHost,
			taskID:       taskstate.TaskID(rec.SenderTask),
			events:       platform.GPIOEvent(rec.Payload),
			antiBounceUs: rec.Aux & 0xFFFFFF,
		})
		return
	}
	if unsubscribe {
		slot.subs = append(slot.subs[:idx], slot.subs[idx+1:]...)
		return
	}
	slot.subs[idx].events = platform.GPIOEvent(rec.Payload)
}

func combinedMask(subs []*subscription) platform.GPIOEvent {
	var mask platform.GPIOEvent
	for _, s := range subs {
		mask |= s.events
	}
	return mask
}

func (h *Handler) log(id taskstate.TaskID, format string, args ...any) {
	if h.logf != nil {
		h.logf(id, format, args...)
	}
}
