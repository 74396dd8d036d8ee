package tism

import (
	"errors"
	"fmt"
)

// ErrorCode is the closed set of error kinds a kernel operation can fail with.
// Values stay below 50. Error codes are a separate number space from message kinds.
type ErrorCode int

const (
	Ok ErrorCode = iota
	ErrTooManyTasks
	ErrInitializationFailure
	ErrMailboxFull
	ErrInvalidRecipient
	ErrTaskNotFound
	ErrTaskSleeping
	ErrTaskFailed
	ErrInvalidOperation
)

func (c ErrorCode) String() string {
	switch c {
	case Ok:
		return "ok"
	case ErrTooManyTasks:
		return "too many tasks"
	case ErrInitializationFailure:
		return "initialization failure"
	case ErrMailboxFull:
		return "mailbox full"
	case ErrInvalidRecipient:
		return "invalid recipient"
	case ErrTaskNotFound:
		return "task not found"
	case ErrTaskSleeping:
		return "task sleeping"
	case ErrTaskFailed:
		return "task failed"
	case ErrInvalidOperation:
		return "invalid operation"
	default:
		return "unknown error"
	}
}

// Error is the structured error returned by every fallible kernel operation.
type Error struct {
	Op     string // operation that failed, e.g. "taskmgr.SetAttribute"
	TaskID int    // task involved, -1 if none
	Code   ErrorCode
	Msg    string
	Inner  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Code.String()
	}
	if e.TaskID >= 0 {
		return fmt.Sprintf("tism: %s: %s (task=%d, code=%s)", e.Op, msg, e.TaskID, e.Code)
	}
	return fmt.Sprintf("tism: %s: %s (code=%s)", e.Op, msg, e.Code)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// NewError builds a task-agnostic structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, TaskID: -1, Code: code, Msg: msg}
}

// NewTaskError builds a structured error attributing blame to a specific task.
func NewTaskError(op string, taskID int, code ErrorCode, msg string) *Error {
	return &Error{Op: op, TaskID: taskID, Code: code, Msg: msg}
}

// WrapError wraps inner with kernel context, preserving its code if it already
// carries one.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	var existing *Error
	if errors.As(inner, &existing) {
		return &Error{Op: op, TaskID: existing.TaskID, Code: existing.Code, Msg: existing.Msg, Inner: existing.Inner}
	}
	return &Error{Op: op, TaskID: -1, Code: ErrTaskFailed, Msg: inner.Error(), Inner: inner}
}

// Is reports whether err is a *Error carrying the given code.
func Is(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
