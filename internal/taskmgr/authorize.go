package taskmgr

import "github.com/mjklaren/tism/internal/message"

// Authorize applies the same rule the original task-manager enforced only at the
// requester-side helper (TISM_TaskManagerSetTaskAttribute): a system task's sleep
// state, priority, or wake-up time can only be changed by another system task, and
// no system task may be the target of a dedicate request. Manager applies this rule itself rather than
// trusting the requester, since nothing stops a non-system task from composing the
// control message directly; both the requester helper (tism.task.go) and
// Manager.Run call this same function so the two checks can never drift apart.
func Authorize(requesterIsSystem, targetIsSystem bool, kind message.Kind) error {
	switch kind {
	case message.KindSetTaskWakeUpTime, message.KindSetTaskPriority, message.KindSetTaskSleep:
		if targetIsSystem && !requesterIsSystem {
			return errUnauthorized
		}
	case message.KindDedicateToTask:
		if targetIsSystem {
			return errUnauthorized
		}
	}
	return nil
}
