// Package vmerr defines the error taxonomy shared by every engine component.
//
// Components return *Error values carrying a Kind so that the HTTP layer (and
// any other caller) can decide how to surface a failure without string
// matching. Wrapped causes stay reachable through errors.Is / errors.As.
package vmerr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure.
type Kind int

const (
	// KindInternal is an unexpected failure (I/O, encoding) with no better class.
	KindInternal Kind = iota
	// KindValidation is a malformed or contradictory descriptor.
	KindValidation
	// KindNotFound is an unknown VM, volume or snapshot id.
	KindNotFound
	// KindConflict is an action incompatible with the current state.
	KindConflict
	// KindResourceExhausted means no free console port was left.
	KindResourceExhausted
	// KindExternal is a missing host dependency (binary, bridge, interface).
	KindExternal
	// KindProcessFailure means the hypervisor exited or could not be killed.
	KindProcessFailure
	// KindTimeout means a liveness probe or a kill wait ran out of time.
	KindTimeout
)

var kindNames = map[Kind]string{
	KindInternal:          "internal",
	KindValidation:        "validation",
	KindNotFound:          "not_found",
	KindConflict:          "conflict",
	KindResourceExhausted: "resource_exhausted",
	KindExternal:          "external_dependency",
	KindProcessFailure:    "process_failure",
	KindTimeout:           "timeout",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified engine error.
type Error struct {
	Kind    Kind
	Message string

	// Fields holds per-field messages for validation failures.
	Fields map[string]string

	// Output is diagnostic output captured from a failed child process.
	Output string

	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind with a leading message.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(resource, id string) *Error {
	return New(KindNotFound, "%s %s not found", resource, id)
}

func Conflict(format string, args ...interface{}) *Error {
	return New(KindConflict, format, args...)
}

// Invalid builds a validation error with per-field messages.
func Invalid(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}
