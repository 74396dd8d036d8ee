// Package watchdog implements TISM_Watchdog: a regular (non-system) task that pings
// every awake task once per check interval and logs a warning if an echo takes too
// long, or arrives for a request that's no longer the outstanding one. Grounded on
// original_source/TISM_Watchdog.c, built entirely against the public tism package
// like any other task author would.
package watchdog

import (
	"time"

	"github.com/mjklaren/tism"
	"github.com/mjklaren/tism/internal/message"
)

// maxCounter bounds the ping sequence counter, matching the original's wraparound.
const maxCounter = 65536

// outstanding tracks one in-flight PING sent to a task.
type outstanding struct {
	sentAtMicros uint64
	seq          uint32
	valid        bool
}

// Watchdog is the liveness-checking task. CheckInterval is the period between ping
// rounds; Timeout is the round-trip threshold that triggers a logged warning.
type Watchdog struct {
	CheckInterval time.Duration
	Timeout       time.Duration

	sent        map[tism.TaskID]*outstanding
	pingCounter uint32
	nextRoundAt uint64
}

// New builds a watchdog with the given check interval and response timeout.
func New(checkInterval, timeout time.Duration) *Watchdog {
	return &Watchdog{CheckInterval: checkInterval, Timeout: timeout}
}

// Run is this task's step function.
func (w *Watchdog) Run(ctx *tism.TaskContext) uint8 {
	switch ctx.State() {
	case tism.StateInit:
		w.sent = make(map[tism.TaskID]*outstanding)
		w.pingCounter = 0
		w.nextRoundAt = 0

	case tism.StateRun:
		for {
			rec, ok := ctx.PeekInbound()
			if !ok {
				break
			}
			w.handle(ctx, rec)
			ctx.PopInbound()
		}
		w.pingRound(ctx)

	case tism.StateStop:
		ctx.RequestState(ctx.ID(), tism.StateDown)
	}
	return 0
}

func (w *Watchdog) handle(ctx *tism.TaskContext, rec message.Message) {
	switch rec.Kind {
	case message.KindPing:
		ctx.Post(tism.TaskID(rec.SenderTask), message.KindEcho, rec.Payload, 0)

	case message.KindEcho:
		w.handleEcho(ctx, rec)
	}
}

// handleEcho matches a reply against the outstanding request sent to that sender,
// and warns if the round trip took too long or the payload doesn't match.
func (w *Watchdog) handleEcho(ctx *tism.TaskContext, rec message.Message) {
	sender := tism.TaskID(rec.SenderTask)
	out, ok := w.sent[sender]
	if !ok || !out.valid || out.seq != rec.Payload {
		ctx.Errorf("invalid ECHO response received on PING request from %d (%s)", sender, ctx.TaskName(sender))
		return
	}

	delay := time.Duration(ctx.NowUs()-out.sentAtMicros) * time.Microsecond
	out.valid = false
	if delay > w.Timeout {
		ctx.Errorf("ECHO response from %d (%s) exceeded maximum delay (%s, took %s)", sender, ctx.TaskName(sender), w.Timeout, delay)
	}
}

// pingRound sends a fresh PING to every awake task other than itself, once per
// CheckInterval. Waking early to process an incoming echo does not restart the
// round early; it only fires once the interval has actually elapsed.
func (w *Watchdog) pingRound(ctx *tism.TaskContext) {
	now := ctx.NowUs()
	if now < w.nextRoundAt {
		return
	}

	self := ctx.ID()
	for _, id := range ctx.AllTaskIDs() {
		if id == self || !ctx.IsTaskAwake(id) {
			continue
		}
		ctx.Post(id, message.KindPing, w.pingCounter, 0)
		w.sent[id] = &outstanding{sentAtMicros: now, seq: w.pingCounter, valid: true}
		w.pingCounter = (w.pingCounter + 1) % maxCounter
	}
	w.nextRoundAt = now + uint64(w.CheckInterval.Microseconds())
}
