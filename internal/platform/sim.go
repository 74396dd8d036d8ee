package platform

import (
	"sync"
	"time"
)

// SimPlatform is a deterministic, goroutine-driven Platform: a monotonic clock
// derived from time.Now(), and an in-memory GPIO bank that lets tests (and
// cmd/tism-sim's demo workload) fire interrupts synchronously instead of wiring
// real hardware.
type SimPlatform struct {
	epoch time.Time

	mu    sync.Mutex
	pins  map[uint8]*pinState
}

type pinState struct {
	output    bool
	high      bool
	pulledUp  bool
	mask      GPIOEvent
	callback  GPIOCallback
}

// NewSimPlatform returns a ready-to-use simulated platform.
func NewSimPlatform() *SimPlatform {
	return &SimPlatform{epoch: time.Now(), pins: make(map[uint8]*pinState)}
}

func (p *SimPlatform) NowUs() uint64 {
	return uint64(time.Since(p.epoch).Microseconds())
}

func (p *SimPlatform) SleepMs(ms uint32) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

func (p *SimPlatform) pin(id uint8) *pinState {
	ps, ok := p.pins[id]
	if !ok {
		ps = &pinState{}
		p.pins[id] = ps
	}
	return ps
}

func (p *SimPlatform) Init(pin uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pin(pin)
}

func (p *SimPlatform) SetDirection(pin uint8, output bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pin(pin).output = output
}

func (p *SimPlatform) Write(pin uint8, high bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pin(pin).high = high
}

func (p *SimPlatform) PullUp(pin uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pin(pin).pulledUp = true
}

func (p *SimPlatform) PullDown(pin uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pin(pin).pulledUp = false
}

func (p *SimPlatform) EnableIRQ(pin uint8, mask GPIOEvent, cb GPIOCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ps := p.pin(pin)
	ps.mask = mask
	ps.callback = cb
}

func (p *SimPlatform) AcknowledgeIRQ(pin uint8, events GPIOEvent) {
	// Simulated hardware needs no acknowledgement; kept to satisfy the interface
	// and to mirror the real board's callback contract.
}

func (p *SimPlatform) LaunchCore1(entry func()) {
	go entry()
}

// Fire simulates an interrupt on pin with the given event bits, invoking the
// currently-registered callback (if any) exactly as a real ISR dispatch would.
// Used by tests and by the demo workload in cmd/tism-sim to drive burst scenarios.
func (p *SimPlatform) Fire(pin uint8, events GPIOEvent) {
	p.mu.Lock()
	ps, ok := p.pins[pin]
	p.mu.Unlock()
	if !ok || ps.callback == nil || ps.mask&events == 0 {
		return
	}
	ps.callback(pin, events)
}

var _ Platform = (*SimPlatform)(nil)
