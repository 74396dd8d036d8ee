package scheduler

import (
	"math"

	"github.com/mjklaren/tism/internal/config"
	"github.com/mjklaren/tism/internal/eventlog"
	"github.com/mjklaren/tism/internal/taskmgr"
	"github.com/mjklaren/tism/internal/taskstate"
)

// initAllTasks drives every registered task through its INIT state on core 0,
// then promotes it to RUN, matching the original's single-core bootstrap. The
// registry is sealed here, before any task's INIT runs; both cores start only
// after this returns.
func (s *Scheduler) initAllTasks() error {
	s.taskMgr.SetStateDirect(taskmgr.SystemInit)

	for _, desc := range s.registry.All() {
		desc.SetState(taskstate.StateInit)
		desc.Outbound = s.outbound[core0]
		if result := desc.Entry(desc.ID); result != 0 {
			s.taskMgr.SetStateDirect(taskmgr.SystemStop)
			s.notify(desc, "failed to initialize correctly")
			return taskError{name: desc.Name, code: result}
		}
		desc.SetState(taskstate.StateRun)
	}

	// Let postman, task-manager, and the event logger process any messages
	// raised during initialization before the system is declared ready.
	s.runSystemTaskUnconditionally(core0, config.SystemTaskPrefix+"Postman")
	s.runSystemTaskUnconditionally(core0, config.SystemTaskPrefix+"TaskManager")
	s.runSystemTaskUnconditionally(core0, config.SystemTaskPrefix+"EventLogger")

	s.registry.Seal()

	// All tasks initialized and ready to go: raise the ready indicator.
	if s.gpio != nil {
		s.gpio.Write(s.cfg.ReadyIndicatorGPIO, true)
	}
	return nil
}

// scheduleInitialWakeups staggers every task's first wake-up so that tasks of
// the same priority don't all fire on the same tick, and so the three priority
// bands don't all start in lockstep. Grounded on TISM_Scheduler.c's
// PriorityHigh/NormalOffset bookkeeping.
func (s *Scheduler) scheduleInitialWakeups() {
	all := s.registry.All()

	var highCount, normalCount, otherCount int
	for _, d := range all {
		switch d.Priority() {
		case s.cfg.PriorityHigh:
			highCount++
		case s.cfg.PriorityNormal:
			normalCount++
		default:
			otherCount++
		}
	}

	highOffset := offsetFor(s.cfg.PriorityHigh, highCount)
	normalOffset := offsetFor(s.cfg.PriorityNormal, normalCount)
	otherOffset := offsetFor(s.cfg.PriorityLow, otherCount)

	start := s.clock.NowUs() + uint64(s.cfg.StartupDelay.Microseconds())

	var highIdx, normalIdx, otherIdx uint64
	for _, d := range all {
		switch d.Priority() {
		case s.cfg.PriorityHigh:
			d.SetWakeAtMicros(start + highIdx*highOffset)
			highIdx++
		case s.cfg.PriorityNormal:
			d.SetWakeAtMicros(start + highOffset/2 + normalIdx*normalOffset)
			normalIdx++
		default:
			d.SetWakeAtMicros(start + normalOffset/2 + otherIdx*otherOffset)
			otherIdx++
		}
	}

	s.taskMgr.SetStateDirect(taskmgr.SystemRun)
}

func offsetFor(priority uint32, count int) uint64 {
	if count == 0 {
		return 0
	}
	return uint64(math.Round(float64(priority) / float64(count)))
}

// stopAllTasks runs every task once more with STOP set, giving each a chance to
// clean up; postman and the event logger are stopped last so final log entries
// still reach the reader.
func (s *Scheduler) stopAllTasks() error {
	s.taskMgr.SetStateDirect(taskmgr.SystemStop)

	// All tasks about to stop: drop the ready indicator.
	if s.gpio != nil {
		s.gpio.Write(s.cfg.ReadyIndicatorGPIO, false)
	}

	all := s.registry.All()
	postman := s.registry.Find(config.SystemTaskPrefix + "Postman")
	logger := s.registry.Find(config.SystemTaskPrefix + "EventLogger")

	for i := len(all) - 1; i >= 0; i-- {
		d := all[i]
		if (postman != nil && d.ID == postman.ID) || (logger != nil && d.ID == logger.ID) {
			continue
		}
		d.SetState(taskstate.StateStop)
		d.Outbound = s.outbound[core0]
		d.Entry(d.ID)
	}

	s.runSystemTaskUnconditionally(core0, config.SystemTaskPrefix+"Postman")
	if postman != nil {
		postman.SetState(taskstate.StateStop)
		postman.Outbound = s.outbound[core0]
		postman.Entry(postman.ID)
	}
	s.runSystemTaskUnconditionally(core0, config.SystemTaskPrefix+"EventLogger")
	if logger != nil {
		logger.SetState(taskstate.StateStop)
		logger.Outbound = s.outbound[core0]
		logger.Entry(logger.ID)
	}

	s.taskMgr.SetStateDirect(taskmgr.SystemDown)
	return nil
}

func (s *Scheduler) notify(self *taskstate.Descriptor, format string, args ...any) {
	if s.logPool == nil || s.loggerID < 0 || s.registry.Get(s.loggerID) == nil {
		return
	}
	eventlog.Error(s.logPool, s.cfg.EventLogEntryLength, self, s.loggerID, format, args...)
}
