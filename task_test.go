package tism

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjklaren/tism/internal/config"
	"github.com/mjklaren/tism/internal/eventlog"
	"github.com/mjklaren/tism/internal/message"
	"github.com/mjklaren/tism/internal/platform"
)

func newTestSystem(t *testing.T) (*System, *MockPlatform) {
	t.Helper()
	plat := NewMockPlatform(1000)
	sys, err := New(plat, testConfig(), eventlog.Config{Level: eventlog.LevelAll, Output: nilWriter{}})
	require.NoError(t, err)
	return sys, plat
}

// pumpClock advances a MockPlatform's clock in the background so that tasks
// whose staggered initial wake time lies beyond "now" eventually become
// eligible to run. Without this the clock never moves and only the first task
// in each priority band (plus the unconditionally-driven system tasks) would
// ever execute past its INIT call.
func pumpClock(ctx context.Context, plat *MockPlatform, stepUs uint64, every time.Duration) {
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				plat.Advance(stepUs)
			}
		}
	}()
}

func TestTaskContext_PostDeliversToRecipientInbound(t *testing.T) {
	sys, plat := newTestSystem(t)

	var mu sync.Mutex
	var received []message.Message

	_, err := sys.RegisterTask("receiver", testConfig().PriorityNormal, func(ctx *TaskContext) uint8 {
		for {
			rec, ok := ctx.PeekInbound()
			if !ok {
				break
			}
			mu.Lock()
			received = append(received, rec)
			mu.Unlock()
			ctx.PopInbound()
		}
		return 0
	})
	require.NoError(t, err)

	_, err = sys.RegisterTask("sender", testConfig().PriorityNormal, func(ctx *TaskContext) uint8 {
		if target, ok := ctx.FindTask("receiver"); ok {
			ctx.Post(target, message.Kind(200), 42, 7)
		}
		return 0
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	pumpClock(ctx, plat, 2000, 2*time.Millisecond)
	require.NoError(t, sys.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, received)
	assert.Equal(t, message.Kind(200), received[0].Kind)
	assert.EqualValues(t, 42, received[0].Payload)
	assert.EqualValues(t, 7, received[0].Aux)
}

func TestTaskContext_RequestSleep_RejectsNonSystemRequesterTargetingSystemTask(t *testing.T) {
	sys, _ := newTestSystem(t)

	var rejectErr atomic.Value
	_, err := sys.RegisterTask("requester", testConfig().PriorityNormal, func(ctx *TaskContext) uint8 {
		if target, ok := ctx.FindTask(config.SystemTaskPrefix + "Postman"); ok {
			if err := ctx.RequestSleep(target, true); err != nil {
				rejectErr.Store(err)
			}
		}
		return 0
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, sys.Run(ctx))

	got := rejectErr.Load()
	require.NotNil(t, got)
	assert.Error(t, got.(error))
}

func TestTaskContext_RequestSleep_AllowsTargetingSelf(t *testing.T) {
	sys, _ := newTestSystem(t)

	_, err := sys.RegisterTask("sleeper", testConfig().PriorityNormal, func(ctx *TaskContext) uint8 {
		if err := ctx.RequestSleep(ctx.ID(), true); err != nil {
			t.Errorf("unexpected rejection: %v", err)
		}
		return 0
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.NoError(t, sys.Run(ctx))
}

func TestTaskContext_SubscribeGPIO_RejectsReservedPin(t *testing.T) {
	sys, _ := newTestSystem(t)

	var subErr atomic.Value
	_, err := sys.RegisterTask("subscriber", testConfig().PriorityNormal, func(ctx *TaskContext) uint8 {
		if err := ctx.SubscribeGPIO(platform.GPIOPowerSave, platform.EventEdgeFall, 0, false); err != nil {
			subErr.Store(err)
		}
		return 0
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.NoError(t, sys.Run(ctx))

	got := subErr.Load()
	require.NotNil(t, got)
	assert.Error(t, got.(error))
}

func TestTaskContext_SubscribeGPIO_DeliversFiredEventToSubscriber(t *testing.T) {
	sys, plat := newTestSystem(t)

	const pin = 10
	var mu sync.Mutex
	var gotEvent bool

	_, err := sys.RegisterTask("button", testConfig().PriorityNormal, func(ctx *TaskContext) uint8 {
		switch ctx.State() {
		case StateInit:
			require.NoError(t, ctx.SubscribeGPIO(pin, platform.EventEdgeFall, 0, false))
		case StateRun:
			for {
				rec, ok := ctx.PeekInbound()
				if !ok {
					break
				}
				if rec.Kind == message.Kind(pin) {
					mu.Lock()
					gotEvent = true
					mu.Unlock()
				}
				ctx.PopInbound()
			}
		}
		return 0
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pumpClock(ctx, plat, 2000, 2*time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		plat.Fire(pin, platform.EventEdgeFall)
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	require.NoError(t, sys.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, gotEvent)
}

func TestTaskContext_SetTimer_FiresAckThenExpiry(t *testing.T) {
	sys, plat := newTestSystem(t)

	const timerID = 77

	var mu sync.Mutex
	var sawAck, sawExpiry bool
	var armed bool

	_, err := sys.RegisterTask("timed", testConfig().PriorityNormal, func(ctx *TaskContext) uint8 {
		for {
			rec, ok := ctx.PeekInbound()
			if !ok {
				break
			}
			switch rec.Kind {
			case message.KindTimerSet:
				mu.Lock()
				sawAck = true
				mu.Unlock()
			case message.Kind(timerID):
				mu.Lock()
				sawExpiry = true
				mu.Unlock()
			}
			ctx.PopInbound()
		}
		if !armed {
			armed = true
			ctx.SetTimer(timerID, 0, false, 0)
		}
		return 0
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	pumpClock(ctx, plat, 2000, 2*time.Millisecond)
	require.NoError(t, sys.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, sawAck)
	assert.True(t, sawExpiry)
}

func TestTaskContext_LogfWritesThroughEventLogger(t *testing.T) {
	var out bytes.Buffer
	sys, err := New(NewMockPlatform(1000), testConfig(), eventlog.Config{Level: eventlog.LevelAll, Output: &out})
	require.NoError(t, err)

	_, err = sys.RegisterTask("logger-user", testConfig().PriorityNormal, func(ctx *TaskContext) uint8 {
		ctx.Logf("hello %d", 1)
		return 0
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.NoError(t, sys.Run(ctx))
	assert.Contains(t, out.String(), "hello 1")
}
