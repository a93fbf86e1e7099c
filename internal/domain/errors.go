package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a task or schedule lookup matches nothing.
	ErrNotFound = errors.New("not found")

	// ErrTerminal is returned when a transition is attempted on a task
	// that already reached success or failed.
	ErrTerminal = errors.New("task is in a terminal state")

	// ErrNotOwned is returned by Ack/Fail when the row's lock no longer
	// matches the caller's claim: the lock expired and was reclaimed.
	ErrNotOwned = errors.New("queue row no longer owned by this claim")
)

// ValidationError reports a malformed schedule configuration, surfaced
// at write time.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ResolutionError reports a func or hook reference with no registered
// callable. Fatal for a task's own func, logged and swallowed for hooks.
type ResolutionError struct {
	Ref string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("no callable registered for %q", e.Ref)
}

// CodecError reports a payload that failed signature verification or
// could not be decoded.
type CodecError struct {
	Reason string
}

func (e *CodecError) Error() string {
	return "payload codec: " + e.Reason
}

// AmbiguousNameError reports a name lookup that matched more than one task.
type AmbiguousNameError struct {
	Name  string
	Count int
}

func (e *AmbiguousNameError) Error() string {
	return fmt.Sprintf("task name %q matches %d tasks", e.Name, e.Count)
}
