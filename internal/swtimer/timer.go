// Package swtimer implements the software timer service: a deadline-ordered min-heap
// of pending timers, serviced by a dedicated task that stays awake while timers are
// pending and schedules itself for the earliest deadline. Grounded on
// original_source/TISM_SoftwareTimer.c, restructured to use a heap over the
// original's linked list (container/heap, stdlib; no suitable third-party
// priority-queue library appeared anywhere in the retrieved corpus).
package swtimer

import (
	"container/heap"

	"github.com/mjklaren/tism/internal/config"
	"github.com/mjklaren/tism/internal/message"
	"github.com/mjklaren/tism/internal/platform"
	"github.com/mjklaren/tism/internal/taskstate"
)

// entry is one pending timer.
type entry struct {
	seq          uint32
	timerID      uint8 // caller-chosen; becomes the Kind of the expiry message
	ownerHost    uint8
	ownerTask    taskstate.TaskID
	deadline     uint64
	periodMicros uint32 // 0 for a one-shot timer
	index        int    // heap housekeeping
}

type timerHeap []*entry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline < h[j].deadline }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Service is the software timer task: drains its inbound ring for SET/CANCEL
// requests, then expires any entry whose deadline has passed, posting a
// message back to the owner.
type Service struct {
	registry *taskstate.Registry
	clock    platform.Clock
	cfg      config.Config

	heap   timerHeap
	bySeq  map[uint32]*entry
	nextSeq uint32
}

// New builds a timer service bound to registry and clock.
func New(registry *taskstate.Registry, clock platform.Clock, cfg config.Config) *Service {
	return &Service{registry: registry, clock: clock, cfg: cfg, bySeq: make(map[uint32]*entry)}
}

// Run is this task's step function, registered under
// config.SystemTaskPrefix+"SoftwareTimer".
func (s *Service) Run(id taskstate.TaskID) uint8 {
	self := s.registry.Get(id)
	if self == nil {
		return uint8(1)
	}

	switch self.State() {
	case taskstate.StateInit:
		heap.Init(&s.heap)
		self.SetSleeping(true)

	case taskstate.StateRun:
		s.drainInbound(self)
		s.expire(self)
		if s.heap.Len() > 0 {
			// Stay awake and come back at the earliest pending deadline.
			self.SetWakeAtMicros(s.heap[0].deadline)
		} else {
			self.SetSleeping(true)
		}

	case taskstate.StateStop:
		self.SetState(taskstate.StateDown)
	}
	return 0
}

func (s *Service) drainInbound(self *taskstate.Descriptor) {
	count := 0
	for self.Inbound.MessagesWaiting() > 0 && count < s.cfg.MaxMessagesPerRing {
		rec, ok := self.Inbound.Peek()
		if !ok {
			break
		}
		s.handle(self, rec)
		self.Inbound.Pop()
		count++
	}
}

func (s *Service) handle(self *taskstate.Descriptor, rec message.Message) {
	switch rec.Kind {
	case message.KindPing:
		self.Outbound.Write(message.Message{
			SenderTask:    uint8(self.ID),
			RecipientTask: rec.SenderTask,
			Kind:          message.KindEcho,
			Payload:       rec.Payload,
		})

	case message.KindTimerSet:
		s.set(self, rec)

	case message.KindTimerCancel:
		s.cancelByID(taskstate.TaskID(rec.SenderTask), uint8(rec.Payload))

	case message.KindTimerCancelBySeq:
		s.cancelBySeq(rec.Payload)
	}
}

// set schedules a new timer. rec.Payload holds the deadline delta in
// microseconds from now. rec.Aux packs, low to high: the caller's timer_id (bits
// 0-7), the repetitive flag (bit 8), and the period in milliseconds when
// repetitive (bits 9-31), mirroring TISM_SoftwareTimerSet's millisecond interval.
// The assigned sequence number is echoed back to the caller via a TimerSet reply
// so it can also cancel precisely by sequence later.
func (s *Service) set(self *taskstate.Descriptor, rec message.Message) {
	timerID := uint8(rec.Aux & 0xFF)
	repetitive := rec.Aux&(1<<8) != 0
	periodMillis := rec.Aux >> 9

	seq := s.nextSeq
	s.nextSeq++ // wraps at 2^32, a plain monotonic sequence counter

	e := &entry{
		seq:       seq,
		timerID:   timerID,
		ownerHost: rec.SenderHost,
		ownerTask: taskstate.TaskID(rec.SenderTask),
		deadline:  s.clock.NowUs() + uint64(rec.Payload),
	}
	if repetitive {
		e.periodMicros = periodMillis * 1000
	}
	heap.Push(&s.heap, e)
	s.bySeq[seq] = e

	self.Outbound.Write(message.Message{
		SenderTask:    uint8(self.ID),
		RecipientTask: rec.SenderTask,
		Kind:          message.KindTimerSet,
		Payload:       seq,
	})
}

func (s *Service) cancelBySeq(seq uint32) {
	e, ok := s.bySeq[seq]
	if !ok {
		return
	}
	s.removeFromHeap(e)
	delete(s.bySeq, seq)
}

// cancelByID cancels every pending timer owned by owner under timerID, matching
// TISM_SoftwareTimerCancelTimer's (TaskID, TimerID) search. A task may have armed
// the same timer_id more than once (e.g. re-arming before the first fired); all
// matching entries are removed, not just one.
func (s *Service) cancelByID(owner taskstate.TaskID, timerID uint8) {
	for seq, e := range s.bySeq {
		if e.ownerTask == owner && e.timerID == timerID {
			s.removeFromHeap(e)
			delete(s.bySeq, seq)
		}
	}
}

func (s *Service) removeFromHeap(e *entry) {
	if e.index < 0 || e.index >= len(s.heap) || s.heap[e.index] != e {
		return
	}
	heap.Remove(&s.heap, e.index)
}

func (s *Service) expire(self *taskstate.Descriptor) {
	now := s.clock.NowUs()
	for s.heap.Len() > 0 && s.heap[0].deadline <= now {
		e := heap.Pop(&s.heap).(*entry)
		delete(s.bySeq, e.seq)

		self.Outbound.Write(message.Message{
			SenderTask:    uint8(self.ID),
			RecipientTask: uint8(e.ownerTask),
			Kind:          message.Kind(e.timerID),
			Payload:       e.seq,
		})

		if e.periodMicros > 0 {
			e.deadline = now + uint64(e.periodMicros)
			heap.Push(&s.heap, e)
			s.bySeq[e.seq] = e
		}
	}
}
