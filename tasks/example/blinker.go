package example

import (
	"github.com/mjklaren/tism"
	"github.com/mjklaren/tism/internal/message"
)

// blinkPeriodUs is the default on/off half-period of the LED at its slow rate.
const blinkPeriodUs = 1_000_000

// blinkTimerID identifies Blinker's own rate-flip timer, so its expiry
// message can be told apart from TriggerKind and from any other timer this task
// might arm.
const blinkTimerID = 200

// blinkTimerMillis is the period of Blinker's repetitive software timer, armed
// once at INIT; every expiry flips the blink rate.
const blinkTimerMillis = 20_000

// Blinker toggles an LED on GPIO Pin, flipping its blink rate between slow and
// fast whenever it either receives a message on TriggerKind (typically a button
// edge forwarded by Button) or its own repetitive software timer expires.
type Blinker struct {
	Pin         uint8
	TriggerKind message.Kind

	lightOn  bool
	fast     bool
	toggleAt uint64
}

// NewBlinker returns a Blinker driving pin, reacting to messages of kind trigger.
func NewBlinker(pin uint8, trigger message.Kind) *Blinker {
	return &Blinker{Pin: pin, TriggerKind: trigger}
}

// Run is this task's step function.
func (b *Blinker) Run(ctx *tism.TaskContext) uint8 {
	switch ctx.State() {
	case tism.StateInit:
		if err := ctx.InitGPIO(b.Pin); err != nil {
			ctx.Errorf("failed to initialize GPIO %d: %v", b.Pin, err)
			return 1
		}
		b.lightOn = false
		b.fast = false
		ctx.WriteGPIO(b.Pin, false)
		b.toggleAt = ctx.NowUs() + blinkPeriodUs
		ctx.SetTimer(blinkTimerID, blinkTimerMillis*1000, true, blinkTimerMillis)

	case tism.StateRun:
		for {
			rec, ok := ctx.PeekInbound()
			if !ok {
				break
			}
			b.handle(ctx, rec)
			ctx.PopInbound()
		}
		b.toggle(ctx)

	case tism.StateStop:
		ctx.RequestState(ctx.ID(), tism.StateDown)
	}
	return 0
}

func (b *Blinker) handle(ctx *tism.TaskContext, rec message.Message) {
	switch {
	case rec.Kind == message.KindPing:
		ctx.Post(tism.TaskID(rec.SenderTask), message.KindEcho, rec.Payload, 0)

	case rec.Kind == message.Kind(blinkTimerID):
		// Its own rate-flip timer expired. Flip the blink rate.
		b.fast = !b.fast
		ctx.Logf("blink rate changed to fast=%v by timer", b.fast)

	case rec.Kind == b.TriggerKind:
		b.fast = !b.fast
		ctx.Logf("blink rate changed to fast=%v by trigger", b.fast)
	}
}

// toggle flips the LED once its own virtual timer has expired, polled once per
// run the same way original_source's TISM_SoftwareTimerSetVirtual is checked.
func (b *Blinker) toggle(ctx *tism.TaskContext) {
	if ctx.NowUs() < b.toggleAt {
		return
	}
	b.lightOn = !b.lightOn
	ctx.WriteGPIO(b.Pin, b.lightOn)

	period := uint64(blinkPeriodUs)
	if b.fast {
		period /= 4
	}
	b.toggleAt = ctx.NowUs() + period
}
