package tism

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjklaren/tism/internal/eventlog"
)

// TestIntegration_GracefulStop confirms any task may call RequestSystemStop and
// have the system drive itself to a clean halt, without the caller ever
// cancelling its own context.
func TestIntegration_GracefulStop(t *testing.T) {
	plat := NewMockPlatform(1000)
	sys, err := New(plat, testConfig(), eventlog.Config{Level: eventlog.LevelAll, Output: nilWriter{}})
	require.NoError(t, err)

	var mu sync.Mutex
	var sawStop bool
	var requested bool

	_, err = sys.RegisterTask("stopper", testConfig().PriorityNormal, func(ctx *TaskContext) uint8 {
		switch ctx.State() {
		case StateRun:
			if !requested {
				requested = true
				ctx.RequestSystemStop()
			}
		case StateStop:
			mu.Lock()
			sawStop = true
			mu.Unlock()
		}
		return 0
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pumpClock(ctx, plat, 700, time.Millisecond)

	require.NoError(t, sys.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, sawStop, "stopper should have been invoked once with state=STOP during shutdown")
}

// TestIntegration_PriorityFairness confirms the scheduler's priority ordering
// holds end to end: over a window of simulated time, HIGH-priority tasks run at
// least as often as NORMAL, which runs at least as often as LOW.
func TestIntegration_PriorityFairness(t *testing.T) {
	plat := NewMockPlatform(1000)
	sys, err := New(plat, testConfig(), eventlog.Config{Level: eventlog.LevelAll, Output: nilWriter{}})
	require.NoError(t, err)

	var high, normal, low atomic.Int64

	_, err = sys.RegisterTask("high-task", testConfig().PriorityHigh, func(ctx *TaskContext) uint8 {
		high.Add(1)
		return 0
	})
	require.NoError(t, err)

	_, err = sys.RegisterTask("normal-task", testConfig().PriorityNormal, func(ctx *TaskContext) uint8 {
		normal.Add(1)
		return 0
	})
	require.NoError(t, err)

	_, err = sys.RegisterTask("low-task", testConfig().PriorityLow, func(ctx *TaskContext) uint8 {
		low.Add(1)
		return 0
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	pumpClock(ctx, plat, 700, time.Millisecond)

	require.NoError(t, sys.Run(ctx))

	h, n, l := high.Load(), normal.Load(), low.Load()
	assert.GreaterOrEqual(t, h, n, "HIGH-priority task should run at least as often as NORMAL")
	assert.GreaterOrEqual(t, n, l, "NORMAL-priority task should run at least as often as LOW")
	assert.Greater(t, l, int64(0), "the LOW-priority task should still have run at least once")
}

// TestIntegration_SleepWakeViaMailbox confirms a sleeping task's mailbox
// receiving a message is what wakes it, through task-manager's own notification
// path, not through its own polling.
func TestIntegration_SleepWakeViaMailbox(t *testing.T) {
	plat := NewMockPlatform(1000)
	sys, err := New(plat, testConfig(), eventlog.Config{Level: eventlog.LevelAll, Output: nilWriter{}})
	require.NoError(t, err)

	var mu sync.Mutex
	var delivered bool

	_, err = sys.RegisterTask("sleeper", testConfig().PriorityNormal, func(ctx *TaskContext) uint8 {
		if ctx.State() == StateInit {
			require.NoError(t, ctx.RequestSleep(ctx.ID(), true))
			return 0
		}
		for {
			rec, ok := ctx.PeekInbound()
			if !ok {
				break
			}
			if rec.Kind == 250 && rec.Payload == 1 {
				mu.Lock()
				delivered = true
				mu.Unlock()
			}
			ctx.PopInbound()
		}
		return 0
	})
	require.NoError(t, err)

	_, err = sys.RegisterTask("waker", testConfig().PriorityNormal, func(ctx *TaskContext) uint8 {
		if target, ok := ctx.FindTask("sleeper"); ok {
			ctx.Post(target, 250, 1, 0)
		}
		return 0
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	pumpClock(ctx, plat, 700, time.Millisecond)

	require.NoError(t, sys.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, delivered, "sleeping task should wake and process the message once it arrives")
}
