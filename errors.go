package jobdispatch

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Store errors.
	ErrNoStore = errors.New("jobdispatch: no store configured")
	ErrStore   = errors.New("jobdispatch: store error")

	// Not found errors.
	ErrJobNotFound = errors.New("jobdispatch: job not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("jobdispatch: job already exists")

	// State errors.
	ErrInvalidTransition = errors.New("jobdispatch: invalid state transition")

	// Input errors.
	ErrValidation = errors.New("jobdispatch: validation failed")
)

// Kind classifies an [Error].
type Kind uint8

// Error kinds. An empty claim result is not an error and has no kind.
const (
	KindStore Kind = iota
	KindNotFound
	KindInvalidTransition
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindValidation:
		return "validation"
	default:
		return "store"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrJobNotFound
	case KindInvalidTransition:
		return ErrInvalidTransition
	case KindValidation:
		return ErrValidation
	default:
		return ErrStore
	}
}

// Error is returned by every engine operation. It carries the failure kind,
// the operation, the affected job and a reason. errors.Is matches the
// sentinel for its kind, and the wrapped cause stays reachable through
// errors.As.
type Error struct {
	Kind   Kind
	Op     string
	JobID  string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("jobdispatch: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.JobID != "" {
		fmt.Fprintf(&b, "job %s: ", e.JobID)
	}
	switch {
	case e.Reason != "":
		b.WriteString(e.Reason)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(e.Kind.String())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// KindOf returns the kind of err when it is (or wraps) an *Error. Errors that
// carry only a sentinel are classified by that sentinel, anything else is
// a store failure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrJobNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrValidation):
		return KindValidation
	default:
		return KindStore
	}
}
