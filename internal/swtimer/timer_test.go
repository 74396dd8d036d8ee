package swtimer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjklaren/tism/internal/config"
	"github.com/mjklaren/tism/internal/message"
	"github.com/mjklaren/tism/internal/platform"
	"github.com/mjklaren/tism/internal/ringbuf"
	"github.com/mjklaren/tism/internal/taskstate"
)

type fakeClock struct{ now uint64 }

func (c *fakeClock) NowUs() uint64      { return c.now }
func (c *fakeClock) SleepMs(ms uint32)  {}

func newTestService(t *testing.T) (*Service, *taskstate.Registry, *fakeClock, taskstate.TaskID) {
	t.Helper()
	cfg := config.DefaultConfig()
	reg := taskstate.NewRegistry(cfg)
	clk := &fakeClock{}
	s := New(reg, clk, cfg)

	desc, err := reg.Register(s.Run, "TISM_SoftwareTimer", cfg.PriorityHigh, 0)
	require.NoError(t, err)
	desc.Outbound = ringbuf.New[message.Message](cfg.MaxMessagesPerRing)

	s.Run(desc.ID)
	desc.SetState(taskstate.StateRun)
	return s, reg, clk, desc.ID
}

func TestService_OneShotFiresOnceAtDeadline(t *testing.T) {
	s, reg, clk, id := newTestService(t)
	self := reg.Get(id)

	self.Inbound.Write(message.Message{SenderTask: 3, Kind: message.KindTimerSet, Payload: 1000})
	s.Run(id)

	ack, ok := self.Outbound.Peek()
	require.True(t, ok)
	assert.Equal(t, message.KindTimerSet, ack.Kind)
	assert.Equal(t, uint8(3), ack.RecipientTask)
	seq := ack.Payload
	self.Outbound.Pop()

	clk.now = 999
	s.Run(id)
	_, ok = self.Outbound.Peek()
	assert.False(t, ok, "must not fire before its deadline")

	clk.now = 1000
	s.Run(id)
	expiry, ok := self.Outbound.Peek()
	require.True(t, ok)
	assert.Equal(t, seq, expiry.Payload)
	assert.Equal(t, message.Kind(0), expiry.Kind, "expiry carries the timer_id (0 here) as its Kind")
	self.Outbound.Pop()

	clk.now = 5000
	s.Run(id)
	_, ok = self.Outbound.Peek()
	assert.False(t, ok, "one-shot timer must not re-fire")
}

func TestService_RepetitiveTimerReschedules(t *testing.T) {
	s, reg, clk, id := newTestService(t)
	self := reg.Get(id)

	// Repetitive flag in bit 8, 200 ms period in bits 9-31.
	self.Inbound.Write(message.Message{SenderTask: 4, Kind: message.KindTimerSet, Payload: 500, Aux: (200 << 9) | (1 << 8)})
	s.Run(id)
	self.Outbound.Pop() // ack

	clk.now = 500
	s.Run(id)
	_, ok := self.Outbound.Peek()
	require.True(t, ok)
	self.Outbound.Pop()

	clk.now = 200_499
	s.Run(id)
	_, ok = self.Outbound.Peek()
	assert.False(t, ok)

	clk.now = 200_500
	s.Run(id)
	_, ok = self.Outbound.Peek()
	assert.True(t, ok, "repetitive timer must fire again one period later")
}

func TestService_CancelBySeqPreventsExpiry(t *testing.T) {
	s, reg, clk, id := newTestService(t)
	self := reg.Get(id)

	self.Inbound.Write(message.Message{SenderTask: 6, Kind: message.KindTimerSet, Payload: 100})
	s.Run(id)
	ack, _ := self.Outbound.Peek()
	seq := ack.Payload
	self.Outbound.Pop()

	self.Inbound.Write(message.Message{SenderTask: 6, Kind: message.KindTimerCancelBySeq, Payload: seq})
	s.Run(id)

	clk.now = 1000
	s.Run(id)
	_, ok := self.Outbound.Peek()
	assert.False(t, ok, "cancelled timer must never expire")
}

func TestService_CancelByIDRemovesAllOwnedTimers(t *testing.T) {
	s, reg, clk, id := newTestService(t)
	self := reg.Get(id)

	self.Inbound.Write(message.Message{SenderTask: 8, Kind: message.KindTimerSet, Payload: 50})
	s.Run(id)
	self.Outbound.Pop()
	self.Inbound.Write(message.Message{SenderTask: 8, Kind: message.KindTimerSet, Payload: 60})
	s.Run(id)
	self.Outbound.Pop()

	self.Inbound.Write(message.Message{SenderTask: 8, Kind: message.KindTimerCancel})
	s.Run(id)

	clk.now = 1000
	s.Run(id)
	_, ok := self.Outbound.Peek()
	assert.False(t, ok)
	assert.Equal(t, 0, s.heap.Len())
}

var _ platform.Clock = (*fakeClock)(nil)
