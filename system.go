// Package tism is a minimal, cooperative, non-preemptive dual-core microcontroller
// kernel: a fixed-capacity task table, a message-passing postman, a sole-mutator
// task manager, an interrupt demultiplexer, a software timer, and a two-core
// scheduler, all driven from a host-provided platform (clock, GPIO, core launcher).
// System is the boot-glue surface a host program uses to stand one up; task.go
// defines the public contract task authors build against.
package tism

import (
	"context"
	"fmt"
	"os"

	"github.com/mjklaren/tism/internal/config"
	"github.com/mjklaren/tism/internal/eventlog"
	"github.com/mjklaren/tism/internal/irq"
	"github.com/mjklaren/tism/internal/message"
	"github.com/mjklaren/tism/internal/obs"
	"github.com/mjklaren/tism/internal/platform"
	"github.com/mjklaren/tism/internal/postman"
	"github.com/mjklaren/tism/internal/ringbuf"
	"github.com/mjklaren/tism/internal/scheduler"
	"github.com/mjklaren/tism/internal/swtimer"
	"github.com/mjklaren/tism/internal/taskmgr"
	"github.com/mjklaren/tism/internal/taskstate"
)

// TaskID identifies a registered task by its slot in the task table.
type TaskID = taskstate.TaskID

// System owns the task table and every system task (task-manager, postman, IRQ
// handler, software timer, event logger), and boots the dual-core scheduler once
// the host has finished calling RegisterTask.
type System struct {
	registry *taskstate.Registry
	cfg      config.Config
	platform platform.Platform
	outbound []*ringbuf.Ring[message.Message]
	logPool  *eventlog.TextPool

	taskMgr  *taskmgr.Manager
	logger   *eventlog.Logger
	sched    *scheduler.Scheduler
	observer obs.Observer
}

// New builds a System bound to plat, validates cfg, and registers the five system
// tasks (task-manager, postman, IRQ handler, software timer, event logger). The
// host registers its own tasks with RegisterTask before calling Run.
func New(plat platform.Platform, cfg config.Config, logCfg eventlog.Config) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, WrapError("tism.New", err)
	}

	registry := taskstate.NewRegistry(cfg)
	outbound := taskstate.NewOutboundRings(cfg)
	logPool := eventlog.NewTextPool()

	bootLogf := func(id taskstate.TaskID, format string, args ...any) {
		fmt.Fprintf(os.Stderr, "boot: task %d: %s\n", id, fmt.Sprintf(format, args...))
	}

	s := &System{
		registry: registry,
		cfg:      cfg,
		platform: plat,
		outbound: outbound,
		logPool:  logPool,
		observer: obs.NoOpObserver{},
	}

	taskMgr := taskmgr.New(registry, plat, cfg, bootLogf)
	s.taskMgr = taskMgr
	if _, err := registry.Register(taskMgr.Run, config.SystemTaskPrefix+"TaskManager", cfg.PriorityHigh, 0); err != nil {
		return nil, WrapError("tism.New", err)
	}

	pm := postman.New(registry, plat, cfg, outbound, bootLogf)
	if _, err := registry.Register(pm.Run, config.SystemTaskPrefix+"Postman", cfg.PriorityHigh, 0); err != nil {
		return nil, WrapError("tism.New", err)
	}

	irqHandler := irq.New(registry, plat, plat, cfg, bootLogf)
	if _, err := registry.Register(irqHandler.Run, config.SystemTaskPrefix+"IRQHandler", cfg.PriorityHigh, 0); err != nil {
		return nil, WrapError("tism.New", err)
	}

	timer := swtimer.New(registry, plat, cfg)
	if _, err := registry.Register(timer.Run, config.SystemTaskPrefix+"SoftwareTimer", cfg.PriorityNormal, 0); err != nil {
		return nil, WrapError("tism.New", err)
	}

	logger := eventlog.New(registry, cfg, logCfg, logPool)
	s.logger = logger
	// The event logger gets a deeper inbound ring than the default, since burst log
	// traffic from every other task funnels through it.
	if _, err := registry.Register(logger.Run, config.SystemTaskPrefix+"EventLogger", cfg.PriorityNormal, cfg.MaxMessagesPerRing*4); err != nil {
		return nil, WrapError("tism.New", err)
	}

	s.sched = scheduler.New(registry, taskMgr, plat, plat, cfg, outbound, logPool, s.observer)

	return s, nil
}

// WithObserver installs a metrics observer the scheduler reports sweep and
// task-run events to. Message deliveries and IRQ events are not reported.
func (s *System) WithObserver(o obs.Observer) *System {
	s.observer = o
	s.sched = scheduler.New(s.registry, s.taskMgr, s.platform, s.platform, s.cfg, s.outbound, s.logPool, o)
	return s
}

// WithCPUAffinity pins core i's goroutine to cpus[i % len(cpus)], best-effort.
func (s *System) WithCPUAffinity(cpus []int) *System {
	s.sched = s.sched.WithCPUAffinity(cpus)
	return s
}

// RegisterTask adds a host task to the table. fn is wrapped in a TaskContext bound
// to the new task's own id, registry, and platform, so task bodies never need to
// see internal/... types directly. Fails once the registry is sealed (the scheduler
// has left INIT).
func (s *System) RegisterTask(name string, priority uint32, fn TaskFunc) (TaskID, error) {
	var ctx *TaskContext
	entry := func(id taskstate.TaskID) uint8 {
		return fn(ctx)
	}
	desc, err := s.registry.Register(entry, name, priority, 0)
	if err != nil {
		if s.registry.Len() >= s.cfg.MaxTasks {
			return 0, NewError("System.RegisterTask", ErrTooManyTasks, err.Error())
		}
		return 0, WrapError("System.RegisterTask", err)
	}
	ctx = newTaskContext(s, desc.ID)
	return desc.ID, nil
}

// Run boots every task through INIT, then runs the RUN loop on both cores until ctx
// is cancelled or a task fails fatally, then drives STOP. It returns the first
// fatal task error translated into a *Error.
func (s *System) Run(ctx context.Context) error {
	if err := s.sched.Run(ctx, s.platform); err != nil {
		return WrapError("System.Run", err)
	}
	return nil
}

// Stop cancels ctx via the context passed to Run; callers typically hold the
// context's CancelFunc themselves. Stop is provided as a named counterpart to
// Run for callers that would rather not thread their own CancelFunc around.
func (s *System) Stop(cancel context.CancelFunc) {
	cancel()
}
