package watchdog

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjklaren/tism"
	"github.com/mjklaren/tism/internal/config"
	"github.com/mjklaren/tism/internal/eventlog"
	"github.com/mjklaren/tism/internal/message"
)

func newTestSystem(t *testing.T) (*tism.System, *tism.MockPlatform, config.Config) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.StartupDelay = 0
	cfg.MaxMessagesPerRing = 8
	plat := tism.NewMockPlatform(1000)
	sys, err := tism.New(plat, cfg, eventlog.Config{Level: eventlog.LevelAll, Output: io.Discard})
	require.NoError(t, err)
	return sys, plat, cfg
}

func pumpClock(ctx context.Context, plat *tism.MockPlatform, stepUs uint64, every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				plat.Advance(stepUs)
			}
		}
	}()
}

// TestWatchdog_PingsAwakeTaskAndClearsOutstandingOnEcho confirms a normal round
// trip (original_source/TISM_Watchdog.c's happy path) neither logs a warning nor
// leaves the outstanding request marked valid.
func TestWatchdog_PingsAwakeTaskAndClearsOutstandingOnEcho(t *testing.T) {
	sys, plat, cfg := newTestSystem(t)

	var mu sync.Mutex
	var repliedCount int

	_, err := sys.RegisterTask("responder", cfg.PriorityNormal, func(ctx *tism.TaskContext) uint8 {
		for {
			rec, ok := ctx.PeekInbound()
			if !ok {
				break
			}
			if rec.Kind == message.KindPing {
				ctx.Post(tism.TaskID(rec.SenderTask), message.KindEcho, rec.Payload, 0)
				mu.Lock()
				repliedCount++
				mu.Unlock()
			}
			ctx.PopInbound()
		}
		return 0
	})
	require.NoError(t, err)

	wd := New(5*time.Millisecond, 50*time.Millisecond)
	_, err = sys.RegisterTask("watcher", cfg.PriorityLow, wd.Run)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	pumpClock(ctx, plat, 2000, 2*time.Millisecond)
	require.NoError(t, sys.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, repliedCount, 0, "responder should have replied to at least one ping round")
	for _, out := range wd.sent {
		assert.False(t, out.valid, "every outstanding ping answered with a matching ECHO should be cleared")
	}
}

// TestWatchdog_SkipsSleepingTasks confirms pingRound never sends to a task that
// is not currently awake, matching AllTaskIDs/IsTaskAwake gating in pingRound.
func TestWatchdog_SkipsSleepingTasks(t *testing.T) {
	sys, plat, cfg := newTestSystem(t)

	_, err := sys.RegisterTask("sleeper", cfg.PriorityNormal, func(ctx *tism.TaskContext) uint8 {
		if ctx.State() == tism.StateInit {
			require.NoError(t, ctx.RequestSleep(ctx.ID(), true))
		}
		return 0
	})
	require.NoError(t, err)

	wd := New(5*time.Millisecond, 50*time.Millisecond)
	_, err = sys.RegisterTask("watcher", cfg.PriorityLow, wd.Run)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	pumpClock(ctx, plat, 2000, 2*time.Millisecond)
	require.NoError(t, sys.Run(ctx))

	sleeperID, ok := func() (tism.TaskID, bool) {
		for id, out := range wd.sent {
			_ = out
			return id, true
		}
		return 0, false
	}()
	if ok {
		t.Fatalf("watchdog should never have pinged the sleeping task, but recorded an outstanding ping for id %d", sleeperID)
	}
}
