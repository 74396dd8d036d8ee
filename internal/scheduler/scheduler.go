// Package scheduler runs the cooperative, non-preemptive dual-core loop: two
// goroutines (one per simulated core) cycle through the task list in opposite
// directions, gated by priority, sleep state, and wake-up deadline. Grounded on
// original_source/TISM_Scheduler.c, with each per-core goroutine pinned via
// runtime.LockOSThread plus optional CPU affinity, and the two orchestrated with
// golang.org/x/sync/errgroup, since two symmetric cores that must both exit
// cleanly on the first task error is exactly errgroup's use case.
package scheduler

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/mjklaren/tism/internal/config"
	"github.com/mjklaren/tism/internal/eventlog"
	"github.com/mjklaren/tism/internal/obs"
	"github.com/mjklaren/tism/internal/platform"
	"github.com/mjklaren/tism/internal/ringbuf"
	"github.com/mjklaren/tism/internal/taskmgr"
	"github.com/mjklaren/tism/internal/taskstate"
	"github.com/mjklaren/tism/internal/message"
)

const (
	core0 = 0
	core1 = 1

	// parked is the value a core leaves in its own run pointer while backing off
	// from a collision with the other core, so the other core's read of it can
	// never itself look like a collision.
	parked = -1
)

// direction is the order in which a core's scheduler walks the task list.
type direction int32

const (
	ascending  direction = 1
	descending direction = -1
)

// Scheduler owns the dual-core run loop.
type Scheduler struct {
	registry *taskstate.Registry
	taskMgr  *taskmgr.Manager
	clock    platform.Clock
	gpio     platform.GPIO
	cfg      config.Config
	outbound []*ringbuf.Ring[message.Message]
	logPool  *eventlog.TextPool
	loggerID taskstate.TaskID // -1 until the event logger is found in Run
	observer obs.Observer

	// cpuAffinity optionally pins core goroutine i to cpuAffinity[i % len] in a
	// round-robin; nil disables pinning.
	cpuAffinity []int

	runPointer [2]atomic.Int32
}

// New builds a scheduler. outbound must be the same per-core ring slice handed to
// the postman task (taskstate.NewOutboundRings). gpio drives the ready indicator
// pin on entering RUN and leaving it in STOP.
func New(registry *taskstate.Registry, taskMgr *taskmgr.Manager, clock platform.Clock, gpio platform.GPIO, cfg config.Config, outbound []*ringbuf.Ring[message.Message], logPool *eventlog.TextPool, observer obs.Observer) *Scheduler {
	if observer == nil {
		observer = obs.NoOpObserver{}
	}
	s := &Scheduler{
		registry: registry,
		taskMgr:  taskMgr,
		clock:    clock,
		gpio:     gpio,
		cfg:      cfg,
		outbound: outbound,
		logPool:  logPool,
		loggerID: -1,
		observer: observer,
	}
	s.runPointer[core0].Store(parked)
	s.runPointer[core1].Store(parked)
	return s
}

// WithCPUAffinity pins core i's goroutine to cpus[i % len(cpus)], best-effort.
func (s *Scheduler) WithCPUAffinity(cpus []int) *Scheduler {
	s.cpuAffinity = cpus
	return s
}

// Run brings every task through INIT, runs the RUN loop on both cores until ctx
// is cancelled or a task fails fatally, then drives STOP. It returns the first
// fatal task error, if any.
//
// Core 1 is brought up through launcher.LaunchCore1, mirroring the original
// firmware's asymmetric boot (core 0 is the bootstrap core and runs the caller's
// own goroutine; core 1 is launched separately and joins once both are live).
// errgroup still supplies the shared cancellation: the first core to exit (by
// error or by ctx) cancels gctx, which is what actually stops the other one,
// since LaunchCore1 itself only hands back a bare func() with no error channel.
func (s *Scheduler) Run(ctx context.Context, launcher platform.CoreLauncher) error {
	if loggerDesc := s.registry.Find(config.SystemTaskPrefix + "EventLogger"); loggerDesc != nil {
		s.loggerID = loggerDesc.ID
	}

	if err := s.initAllTasks(); err != nil {
		return err
	}
	s.scheduleInitialWakeups()

	g, gctx := errgroup.WithContext(ctx)
	core1Done := make(chan error, 1)

	launcher.LaunchCore1(func() {
		core1Done <- s.coreLoop(gctx, core1, descending)
	})
	g.Go(func() error { return s.coreLoop(gctx, core0, ascending) })
	g.Go(func() error {
		select {
		case err := <-core1Done:
			return err
		case <-gctx.Done():
			return <-core1Done
		}
	})

	runErr := g.Wait()
	if stopErr := s.stopAllTasks(); stopErr != nil && runErr == nil {
		return stopErr
	}
	return runErr
}

func (s *Scheduler) coreLoop(ctx context.Context, coreID int, dir direction) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if len(s.cpuAffinity) > 0 {
		cpu := s.cpuAffinity[coreID%len(s.cpuAffinity)]
		var mask unix.CPUSet
		mask.Set(cpu)
		_ = unix.SchedSetaffinity(0, &mask) // best-effort; failure is not fatal
	}

	priority := s.cfg.PriorityHigh

	for s.taskMgr.State() == taskmgr.SystemRun {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := s.sweep(coreID, dir, priority); err != nil {
			return err
		}
		s.observer.ObserveSweep()

		switch priority {
		case s.cfg.PriorityHigh:
			priority = s.cfg.PriorityNormal
		case s.cfg.PriorityNormal:
			priority = s.cfg.PriorityLow
		default:
			priority = s.cfg.PriorityHigh
		}
	}
	return nil
}

// sweep walks the task list once in dir, running every eligible task, then
// draining that core's messages through postman/task-manager, and running the IRQ
// handler out of turn when its inbound ring holds requests. Events waiting in the
// handler's private ISR-ingest ring are not checked here; they are picked up when
// the handler runs on its own schedule.
func (s *Scheduler) sweep(coreID int, dir direction, priorityGate uint32) error {
	n := s.registry.Len()
	if n == 0 {
		return nil
	}

	start, end := 0, n-1
	if dir == descending {
		start, end = n-1, 0
	}

	for id := start; stepInBounds(id, end, dir); id += int(dir) {
		taskID := taskstate.TaskID(id)

		if s.collides(coreID, taskID) {
			s.backOff(coreID, taskID)
		}

		desc := s.registry.Get(taskID)
		if desc == nil {
			continue
		}
		if desc.Priority() > priorityGate || desc.Sleeping() {
			continue
		}
		if desc.WakeAtMicros() > s.clock.NowUs() {
			continue
		}

		if err := s.runTask(coreID, desc); err != nil {
			return err
		}
		s.advanceDeadline(desc)
		s.drainThisCoreMailbox(coreID)
	}

	s.drainIRQIfPending(coreID)
	return nil
}

func stepInBounds(id, end int, dir direction) bool {
	if dir == ascending {
		return id <= end
	}
	return id >= end
}

// collides reports whether the other core is already pointed at taskID.
func (s *Scheduler) collides(coreID int, taskID taskstate.TaskID) bool {
	other := core1
	if coreID == core1 {
		other = core0
	}
	return s.runPointer[other].Load() == int32(taskID)
}

// backOff parks this core's run pointer and spins with bounded, doubling delay
// before resuming. The original's unconditional busy_wait_us spins forever under
// sustained contention; this caps the spin and falls back to runtime.Gosched()
// rather than starving the core.
func (s *Scheduler) backOff(coreID int, taskID taskstate.TaskID) {
	s.runPointer[coreID].Store(parked)
	defer s.runPointer[coreID].Store(int32(taskID))

	base := time.Duration(5+coreID*2) * time.Microsecond
	wait := base
	for i := 0; i < 8 && s.collides(coreID, taskID); i++ {
		time.Sleep(wait)
		wait *= 2
	}
	if s.collides(coreID, taskID) {
		runtime.Gosched()
	}
}

func (s *Scheduler) runTask(coreID int, desc *taskstate.Descriptor) error {
	s.runPointer[coreID].Store(int32(desc.ID))
	desc.Outbound = s.outbound[coreID]
	desc.SetRunningOnCore(int32(coreID))

	started := time.Now()
	result := desc.Entry(desc.ID)
	s.observer.ObserveTaskRun(coreID, time.Since(started))

	if result != 0 {
		return taskError{name: desc.Name, code: result}
	}
	return nil
}

// advanceDeadline moves a task's wake-up timer forward by its priority interval
// until it is back in the future, without replaying the intervening ticks.
func (s *Scheduler) advanceDeadline(desc *taskstate.Descriptor) {
	now := s.clock.NowUs()
	wake := desc.WakeAtMicros()
	if wake >= now {
		return
	}
	interval := uint64(desc.Priority())
	if interval == 0 {
		desc.SetWakeAtMicros(now)
		return
	}
	for wake < now {
		wake += interval
	}
	desc.SetWakeAtMicros(wake)
}

// drainThisCoreMailbox runs postman and task-manager once, out of turn, whenever
// the task that just ran left messages in this core's outbound ring. Both cores
// run their own coreLoop concurrently, so these drains go through the same
// collision rule as any other task rather than racing each other on the shared
// rings postman and task-manager touch.
func (s *Scheduler) drainThisCoreMailbox(coreID int) {
	if s.outbound[coreID].MessagesWaiting() == 0 {
		return
	}
	s.runSystemTask(coreID, config.SystemTaskPrefix+"Postman")
	s.runSystemTask(coreID, config.SystemTaskPrefix+"TaskManager")
}

func (s *Scheduler) drainIRQIfPending(coreID int) {
	irq := s.registry.Find(config.SystemTaskPrefix + "IRQHandler")
	if irq == nil || irq.Inbound.MessagesWaiting() == 0 {
		return
	}
	s.runSystemTask(coreID, config.SystemTaskPrefix+"IRQHandler")
	s.runSystemTask(coreID, config.SystemTaskPrefix+"Postman")
	s.runSystemTask(coreID, config.SystemTaskPrefix+"TaskManager")
}

// runSystemTask invokes a shared system task from inside a sweep, subject to the
// same collision busy-wait runTask uses: postman's and task-manager's descriptors
// and outbound rings are shared across both cores, so two cores reaching the same
// system task at once must not run it concurrently.
func (s *Scheduler) runSystemTask(coreID int, name string) {
	desc := s.registry.Find(name)
	if desc == nil {
		return
	}
	if s.collides(coreID, desc.ID) {
		s.backOff(coreID, desc.ID)
	}
	s.runPointer[coreID].Store(int32(desc.ID))
	desc.Outbound = s.outbound[coreID]
	desc.SetRunningOnCore(int32(coreID))
	desc.Entry(desc.ID)
}

// runSystemTaskUnconditionally invokes a system task with no collision check, for
// use only while the other core is not yet running (INIT) or has already stopped
// (STOP): the single-core windows the original reserves
// TISM_SchedulerRunTaskUnconditionally for.
func (s *Scheduler) runSystemTaskUnconditionally(coreID int, name string) {
	desc := s.registry.Find(name)
	if desc == nil {
		return
	}
	desc.Outbound = s.outbound[coreID]
	desc.SetRunningOnCore(int32(coreID))
	desc.Entry(desc.ID)
}

type taskError struct {
	name string
	code uint8
}

func (e taskError) Error() string {
	return "task " + e.name + " returned a fatal error"
}
