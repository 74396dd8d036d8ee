// Package config holds the system-wide constants a running kernel is bootstrapped
// with. A Config is built once at boot and is immutable from the moment the
// scheduler leaves INIT.
package config

import "time"

// SystemTaskPrefix marks a task name as a "system task": one entitled to change
// another system task's sleep/priority/wake-time attributes (see the task-manager
// authorization rule).
const SystemTaskPrefix = "TISM_"

// Config collects every tunable a host needs to set at boot. Defaults below are
// not derived from the original firmware's constants where the two differ (see
// DESIGN.md).
type Config struct {
	// MaxTasks is the maximum number of tasks that may ever be registered.
	MaxTasks int
	// MaxCores is the number of scheduler core loops to run.
	MaxCores int
	// MaxMessagesPerRing is the default ring capacity for a task's inbound
	// mailbox and for each core's outbound staging ring.
	MaxMessagesPerRing int

	// PriorityHigh, PriorityNormal, PriorityLow are re-invocation intervals in
	// microseconds; numerically smaller means more frequent.
	PriorityHigh   uint32
	PriorityNormal uint32
	PriorityLow    uint32

	// StartupDelay is added to every task's first RUN wake-up time after INIT; the
	// scheduler does not pause before running INIT.
	StartupDelay time.Duration
	// WatchdogCheckInterval is the ping cycle period.
	WatchdogCheckInterval time.Duration
	// WatchdogTaskTimeout is the echo-response threshold before a warning is
	// logged.
	WatchdogTaskTimeout time.Duration

	// EventLogEntryLength bounds a single formatted log line, in bytes.
	EventLogEntryLength int
	// AntiBounceMaxMicros is the largest anti-bounce timeout a subscription may
	// request (24-bit field).
	AntiBounceMaxMicros uint32

	// ReadyIndicatorGPIO is the output pin driven high only while the system is
	// in RUN.
	ReadyIndicatorGPIO uint8
}

// DefaultConfig returns the kernel's stated production defaults.
func DefaultConfig() Config {
	return Config{
		MaxTasks:              30,
		MaxCores:               2,
		MaxMessagesPerRing:    25,
		PriorityHigh:          2500,
		PriorityNormal:        5000,
		PriorityLow:           10000,
		StartupDelay:          5000 * time.Millisecond,
		WatchdogCheckInterval: 30 * time.Second,
		WatchdogTaskTimeout:   5 * time.Second,
		EventLogEntryLength:   150,
		AntiBounceMaxMicros:   16777215,
		ReadyIndicatorGPIO:    22,
	}
}

// Validate reports whether the configuration is internally consistent enough to
// boot with.
func (c Config) Validate() error {
	switch {
	case c.MaxTasks <= 0 || c.MaxTasks > 250:
		return errInvalid("MaxTasks must be in (0, 250]")
	case c.MaxCores <= 0:
		return errInvalid("MaxCores must be positive")
	case c.MaxMessagesPerRing < 2:
		return errInvalid("MaxMessagesPerRing must be at least 2")
	case c.PriorityHigh == 0 || c.PriorityNormal == 0 || c.PriorityLow == 0:
		return errInvalid("priority intervals must be positive")
	case c.PriorityHigh > c.PriorityNormal || c.PriorityNormal > c.PriorityLow:
		return errInvalid("priorities must satisfy HIGH <= NORMAL <= LOW")
	}
	return nil
}

type configError string

func (e configError) Error() string { return string(e) }

func errInvalid(msg string) error { return configError("config: " + msg) }
