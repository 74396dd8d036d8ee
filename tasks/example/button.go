// Package example ships two illustrative application tasks built purely against
// the public tism package: Button, a producer that reacts to a GPIO press, and
// Blinker, a consumer that blinks the onboard LED and varies its rate from both a
// software timer and a message from Button. Grounded on
// original_source/ExampleTask1.c and original_source/ExampleTask2.c.
package example

import (
	"github.com/mjklaren/tism"
	"github.com/mjklaren/tism/internal/message"
	"github.com/mjklaren/tism/internal/platform"
)

// Button reacts to a press of a button wired to a GPIO and forwards the edge to
// every task in Targets. The GPIO is configured with an internal pull-up; the
// button is expected to pull the pin low when pressed.
type Button struct {
	Pin          uint8
	AntiBounceUs uint32
	Targets      []string

	presses  uint32
	targetID []tism.TaskID
}

// NewButton returns a Button wired to pin, forwarding edges to the named targets.
func NewButton(pin uint8, antiBounceUs uint32, targets ...string) *Button {
	return &Button{Pin: pin, AntiBounceUs: antiBounceUs, Targets: targets}
}

// Run is this task's step function.
func (b *Button) Run(ctx *tism.TaskContext) uint8 {
	switch ctx.State() {
	case tism.StateInit:
		b.targetID = b.targetID[:0]
		for _, name := range b.Targets {
			if id, ok := ctx.FindTask(name); ok {
				b.targetID = append(b.targetID, id)
			}
		}
		if err := ctx.SubscribeGPIO(b.Pin, platform.EventEdgeFall|platform.EventEdgeRise, b.AntiBounceUs, false); err != nil {
			ctx.Errorf("failed to subscribe to GPIO %d: %v", b.Pin, err)
			return 1
		}
		ctx.RequestSleep(ctx.ID(), true)

	case tism.StateRun:
		for {
			rec, ok := ctx.PeekInbound()
			if !ok {
				break
			}
			b.handle(ctx, rec)
			ctx.PopInbound()
		}
		ctx.RequestSleep(ctx.ID(), true)

	case tism.StateStop:
		ctx.RequestState(ctx.ID(), tism.StateDown)
	}
	return 0
}

func (b *Button) handle(ctx *tism.TaskContext, rec message.Message) {
	switch {
	case rec.Kind == message.KindPing:
		ctx.Post(tism.TaskID(rec.SenderTask), message.KindEcho, rec.Payload, 0)

	case rec.Kind == message.Kind(b.Pin):
		b.presses++
		ctx.Logf("button edge %d observed, %d total", rec.Payload, b.presses)
		for _, id := range b.targetID {
			ctx.Post(id, message.Kind(b.Pin), rec.Payload, 0)
		}
	}
}
