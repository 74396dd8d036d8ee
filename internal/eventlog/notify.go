package eventlog

import (
	"fmt"

	"github.com/mjklaren/tism/internal/message"
	"github.com/mjklaren/tism/internal/taskstate"
)

// Notify composes a notification log entry and stages it on self's outbound ring,
// addressed to loggerID. This is the task-author-facing equivalent of
// TISM_EventLoggerLogEvent, usable by any task (the scheduler reports its own
// diagnostics through Error).
func Notify(pool *TextPool, maxLen int, self *taskstate.Descriptor, loggerID taskstate.TaskID, format string, args ...any) bool {
	return logEvent(pool, maxLen, self, loggerID, message.KindLogNotify, format, args...)
}

// Error composes an error-level log entry the same way Notify does.
func Error(pool *TextPool, maxLen int, self *taskstate.Descriptor, loggerID taskstate.TaskID, format string, args ...any) bool {
	return logEvent(pool, maxLen, self, loggerID, message.KindLogError, format, args...)
}

func logEvent(pool *TextPool, maxLen int, self *taskstate.Descriptor, loggerID taskstate.TaskID, kind message.Kind, format string, args ...any) bool {
	text := format
	if len(args) > 0 {
		text = fmt.Sprintf(format, args...)
	}
	seq := pool.Store(text, maxLen)
	ok := self.Outbound.Write(message.Message{
		SenderTask:    uint8(self.ID),
		RecipientTask: uint8(loggerID),
		Kind:          kind,
		Payload:       seq,
	})
	if !ok {
		// The logger will never ask for this entry; release it here.
		pool.Take(seq)
	}
	return ok
}
