// Package platform defines the primitives the host must supply a running kernel
// (a monotonic clock, GPIO operations, and second-core bring-up) and ships
// SimPlatform, an in-process implementation used by both the production entry
// point (cmd/tism-sim) and every test: a real backend and a deterministic one
// behind the same interface.
package platform

// Clock supplies the monotonic microsecond counter every gate check reads.
type Clock interface {
	NowUs() uint64
	SleepMs(ms uint32)
}

// GPIOEvent is the bitmask of edge/level conditions a GPIO can report.
type GPIOEvent uint32

const (
	EventLevelLow GPIOEvent = 1 << iota
	EventLevelHigh
	EventEdgeFall
	EventEdgeRise
)

// GPIOCallback is the ISR entry point: invoked with the firing pin and the event
// bits that triggered it.
type GPIOCallback func(pin uint8, events GPIOEvent)

// GPIO is the electrical-configuration surface the host exposes. EnableIRQ with a
// zero mask and a nil callback disables interrupts on the pin, used when a GPIO's
// subscription list empties.
type GPIO interface {
	Init(pin uint8)
	SetDirection(pin uint8, output bool)
	Write(pin uint8, high bool)
	PullUp(pin uint8)
	PullDown(pin uint8)
	EnableIRQ(pin uint8, mask GPIOEvent, cb GPIOCallback)
	AcknowledgeIRQ(pin uint8, events GPIOEvent)
}

// CoreLauncher brings up the non-bootstrap core.
type CoreLauncher interface {
	LaunchCore1(entry func())
}

// Platform bundles every primitive the kernel needs from its host.
type Platform interface {
	Clock
	GPIO
	CoreLauncher
}
