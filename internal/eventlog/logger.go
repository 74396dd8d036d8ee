// Package eventlog implements the event logger: the one regular task that writes to
// the process's own stdout/stderr, everyone else reaching it only by message.
// Grounded on original_source/TISM_EventLogger.c; the leveled-logger idiom itself
// is folded into this task instead of kept as a freestanding package, since every
// log line in this system already arrives as a message addressed to one task.
package eventlog

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/mjklaren/tism/internal/config"
	"github.com/mjklaren/tism/internal/message"
	"github.com/mjklaren/tism/internal/taskstate"
)

// Level filters which entries reach Output.
type Level int

const (
	LevelErrorOnly Level = iota
	LevelAll
)

// Config says where output goes and how much of it is kept.
type Config struct {
	Level  Level
	Output io.Writer
}

// DefaultConfig logs everything to stderr; notifications and errors both go to the
// same Output stream.
func DefaultConfig() Config {
	return Config{Level: LevelAll, Output: os.Stderr}
}

// Logger is the event-logger task.
type Logger struct {
	registry *taskstate.Registry
	cfg      config.Config
	pool     *TextPool
	std      *log.Logger
	level    Level

	// localHost is this logger's own host ID; only KindLogNotify/KindLogError
	// messages whose SenderHost matches it are consumed from the shared pool, so a
	// future multi-host system can't have one host's logger drain another's buffer.
	localHost uint8

	taskManagerID taskstate.TaskID
}

// New builds an event logger. pool must be the same TextPool every task's calls to
// Notify/Error use.
func New(registry *taskstate.Registry, cfg config.Config, logCfg Config, pool *TextPool) *Logger {
	output := logCfg.Output
	if output == nil {
		output = os.Stderr
	}
	return &Logger{
		registry: registry,
		cfg:      cfg,
		pool:     pool,
		std:      log.New(output, "", log.LstdFlags|log.Lmicroseconds),
		level:    logCfg.Level,
	}
}

// Run is this task's step function, registered under
// config.SystemTaskPrefix+"EventLogger".
func (l *Logger) Run(id taskstate.TaskID) uint8 {
	self := l.registry.Get(id)
	if self == nil {
		return uint8(1)
	}

	if taskMgr := l.registry.Find(config.SystemTaskPrefix + "TaskManager"); taskMgr != nil {
		l.taskManagerID = taskMgr.ID
	}

	switch self.State() {
	case taskstate.StateInit:
		l.std.Printf("%s (ID %d): logging started", self.Name, self.ID)
		l.sleep(self)

	case taskstate.StateRun:
		count := 0
		for self.Inbound.MessagesWaiting() > 0 && count < l.cfg.MaxMessagesPerRing {
			rec, ok := self.Inbound.Peek()
			if !ok {
				break
			}
			l.handle(self, rec)
			self.Inbound.Pop()
			count++
		}
		l.sleep(self)

	case taskstate.StateStop:
		l.std.Printf("%s (ID %d): logging stopped", self.Name, self.ID)
		l.stop(self)
	}
	return 0
}

func (l *Logger) handle(self *taskstate.Descriptor, rec message.Message) {
	switch rec.Kind {
	case message.KindPing:
		self.Outbound.Write(message.Message{
			SenderTask:    uint8(self.ID),
			RecipientTask: rec.SenderTask,
			Kind:          message.KindEcho,
			Payload:       rec.Payload,
		})

	case message.KindLogNotify:
		if rec.SenderHost != l.localHost {
			return
		}
		text, ok := l.pool.Take(rec.Payload)
		if !ok || l.level < LevelAll {
			return
		}
		sender := l.senderName(rec.SenderTask)
		l.std.Printf("%s (ID %d): %s", sender, rec.SenderTask, text)

	case message.KindLogError:
		if rec.SenderHost != l.localHost {
			return
		}
		text, ok := l.pool.Take(rec.Payload)
		if !ok {
			return
		}
		sender := l.senderName(rec.SenderTask)
		l.std.Printf("%s (ID %d) ERROR: %s", sender, rec.SenderTask, text)

	default:
		fmt.Fprintf(l.std.Writer(), "unrecognized log message type %d\n", rec.Kind)
	}
}

func (l *Logger) senderName(id uint8) string {
	if d := l.registry.Get(taskstate.TaskID(id)); d != nil {
		return d.Name
	}
	return "unknown"
}

// sleep and stop request task-manager change this task's own attributes, rather
// than mutating them directly: unlike task-manager, postman, and the IRQ handler,
// the event logger has no bootstrap-ordering dependency on task-manager and so
// carries no risk of a circular wakeup.
func (l *Logger) sleep(self *taskstate.Descriptor) {
	self.Outbound.Write(message.Message{
		SenderTask:    uint8(self.ID),
		RecipientTask: uint8(l.taskManagerID),
		Kind:          message.KindSetTaskSleep,
		Payload:       1,
		Aux:           uint32(self.ID),
	})
}

func (l *Logger) stop(self *taskstate.Descriptor) {
	self.Outbound.Write(message.Message{
		SenderTask:    uint8(self.ID),
		RecipientTask: uint8(l.taskManagerID),
		Kind:          message.KindSetTaskState,
		Payload:       uint32(taskstate.StateDown),
		Aux:           uint32(self.ID),
	})
}
