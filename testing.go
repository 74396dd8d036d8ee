package tism

import (
	"sync"

	"github.com/mjklaren/tism/internal/platform"
)

// MockClock is a settable, call-tracking platform.Clock for task-author tests:
// advance it explicitly rather than depending on wall-clock sleeps, matching the
// teacher's MockBackend call-tracking idiom applied to the platform surface.
type MockClock struct {
	mu        sync.Mutex
	nowUs     uint64
	sleepCalls int
}

// NewMockClock returns a clock starting at the given microsecond value.
func NewMockClock(startUs uint64) *MockClock {
	return &MockClock{nowUs: startUs}
}

// NowUs implements platform.Clock.
func (c *MockClock) NowUs() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowUs
}

// SleepMs implements platform.Clock as a no-op that still advances the clock and
// counts the call, so deterministic tests never actually block.
func (c *MockClock) SleepMs(ms uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleepCalls++
	c.nowUs += uint64(ms) * 1000
}

// Advance moves the clock forward by deltaUs microseconds.
func (c *MockClock) Advance(deltaUs uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowUs += deltaUs
}

// Set pins the clock to an exact microsecond value.
func (c *MockClock) Set(us uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowUs = us
}

// SleepCalls returns how many times SleepMs has been called.
func (c *MockClock) SleepCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleepCalls
}

// mockPin tracks one GPIO's configured state for MockGPIO.
type mockPin struct {
	direction  bool // true = output
	high       bool
	pulledUp   bool
	pulledDown bool
	mask       platform.GPIOEvent
	callback   platform.GPIOCallback
}

// MockGPIO is a call-tracking, in-memory platform.GPIO for task-author tests. Fire
// lets a test simulate an interrupt exactly as a real ISR dispatch would.
type MockGPIO struct {
	mu   sync.Mutex
	pins map[uint8]*mockPin

	initCalls          int
	acknowledgeIRQCalls int
}

// NewMockGPIO returns an empty MockGPIO.
func NewMockGPIO() *MockGPIO {
	return &MockGPIO{pins: make(map[uint8]*mockPin)}
}

func (g *MockGPIO) pin(id uint8) *mockPin {
	p, ok := g.pins[id]
	if !ok {
		p = &mockPin{}
		g.pins[id] = p
	}
	return p
}

// Init implements platform.GPIO.
func (g *MockGPIO) Init(pin uint8) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initCalls++
	g.pin(pin)
}

// SetDirection implements platform.GPIO.
func (g *MockGPIO) SetDirection(pin uint8, output bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pin(pin).direction = output
}

// Write implements platform.GPIO.
func (g *MockGPIO) Write(pin uint8, high bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pin(pin).high = high
}

// PullUp implements platform.GPIO.
func (g *MockGPIO) PullUp(pin uint8) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.pin(pin)
	p.pulledUp, p.pulledDown = true, false
}

// PullDown implements platform.GPIO.
func (g *MockGPIO) PullDown(pin uint8) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.pin(pin)
	p.pulledUp, p.pulledDown = false, true
}

// EnableIRQ implements platform.GPIO. A zero mask and nil callback disables the
// interrupt source, matching the real handler's disable-on-empty-unsubscribe rule.
func (g *MockGPIO) EnableIRQ(pin uint8, mask platform.GPIOEvent, cb platform.GPIOCallback) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.pin(pin)
	p.mask = mask
	p.callback = cb
}

// AcknowledgeIRQ implements platform.GPIO.
func (g *MockGPIO) AcknowledgeIRQ(pin uint8, events platform.GPIOEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.acknowledgeIRQCalls++
}

// Fire simulates an interrupt on pin with the given event bits, invoking the
// currently-registered callback (if any) exactly as a real ISR dispatch would.
func (g *MockGPIO) Fire(pin uint8, events platform.GPIOEvent) {
	g.mu.Lock()
	p, ok := g.pins[pin]
	g.mu.Unlock()
	if !ok || p.callback == nil || p.mask&events == 0 {
		return
	}
	p.callback(pin, events)
}

// IsArmed reports whether pin currently has a non-zero interrupt mask.
func (g *MockGPIO) IsArmed(pin uint8) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pins[pin]
	return ok && p.mask != 0
}

// InitCalls returns how many times Init has been called.
func (g *MockGPIO) InitCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.initCalls
}

// MockPlatform composes MockClock and MockGPIO with a goroutine-based
// CoreLauncher, satisfying platform.Platform whole for System-level tests.
type MockPlatform struct {
	*MockClock
	*MockGPIO
}

// NewMockPlatform returns a MockPlatform starting at clock value startUs.
func NewMockPlatform(startUs uint64) *MockPlatform {
	return &MockPlatform{MockClock: NewMockClock(startUs), MockGPIO: NewMockGPIO()}
}

// LaunchCore1 implements platform.CoreLauncher by running entry on its own
// goroutine, the same way the production SimPlatform does.
func (p *MockPlatform) LaunchCore1(entry func()) {
	go entry()
}

var (
	_ platform.Clock    = (*MockClock)(nil)
	_ platform.GPIO     = (*MockGPIO)(nil)
	_ platform.Platform = (*MockPlatform)(nil)
)
