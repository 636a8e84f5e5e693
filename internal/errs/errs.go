// Package errs defines the error taxonomy shared across the booking
// pipeline so callers can dispatch on kind with errors.Is/errors.As instead
// of matching on error strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry/escalation decisions by callers such
// as the orchestrator and the pub/sub workers.
type Kind string

const (
	// KindValidation marks a rejected user input or malformed FSM transition.
	// Never retried; surfaced to the user as a clarifying message.
	KindValidation Kind = "validation"
	// KindTransient marks a recoverable failure of an external dependency
	// (timeout, connection reset). Safe to retry with backoff.
	KindTransient Kind = "transient"
	// KindBreakerOpen marks a call rejected because its circuit breaker is
	// open. Callers should fail fast with a fallback reply.
	KindBreakerOpen Kind = "breaker_open"
	// KindProgrammer marks a bug: a precondition the caller should have
	// upheld was violated. Never retried; should page a human.
	KindProgrammer Kind = "programmer"
	// KindConflict marks a booking-level conflict, e.g. the slot was taken
	// between validation and commit.
	KindConflict Kind = "conflict"
)

// Error wraps an underlying error with a Kind and the operation that
// produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrValidation) etc. match by Kind rather than
// identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinel values usable with errors.Is. Their wrapped Err is always nil;
// compare only against Kind.
var (
	ErrValidation  = &Error{Kind: KindValidation}
	ErrTransient   = &Error{Kind: KindTransient}
	ErrBreakerOpen = &Error{Kind: KindBreakerOpen}
	ErrProgrammer  = &Error{Kind: KindProgrammer}
	ErrConflict    = &Error{Kind: KindConflict}
)

// Wrap builds a new *Error with the given kind, operation name, and cause.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation is a convenience constructor for KindValidation errors built
// from a format string, mirroring fmt.Errorf.
func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// OfKind reports the Kind of err, walking the wrap chain. Unclassified
// errors report KindTransient, the conservative default for an orchestrator
// deciding whether to retry.
func OfKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}
