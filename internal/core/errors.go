// Package core defines the error taxonomy shared by every sailing subsystem.
//
// Errors carry a discriminated Kind so that callers (and the CLI adapter) can
// branch on failure class without string matching. Wrapping follows the usual
// %w convention; Kind survives wrapping via errors.As.
package core

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers.
type Kind int

const (
	// KindUnknown is the zero value; treat as internal error.
	KindUnknown Kind = iota
	// KindNotFound: referenced artefact or record does not exist.
	KindNotFound
	// KindAlreadyExists: unique constraint violated (ID, claim).
	KindAlreadyExists
	// KindInvalidInput: malformed ID, status, or template.
	KindInvalidInput
	// KindConfig: path or placeholder resolution failure.
	KindConfig
	// KindConcurrency: lock timeout or claim contention.
	KindConcurrency
	// KindTimeout: bounded wait elapsed.
	KindTimeout
	// KindValidation: graph invariant broken.
	KindValidation
	// KindIO: underlying filesystem or network error.
	KindIO
	// KindCorrupted: malformed persisted state; operator intervention.
	KindCorrupted
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindAlreadyExists:
		return "already exists"
	case KindInvalidInput:
		return "invalid input"
	case KindConfig:
		return "config error"
	case KindConcurrency:
		return "concurrency error"
	case KindTimeout:
		return "timeout"
	case KindValidation:
		return "validation failure"
	case KindIO:
		return "io error"
	case KindCorrupted:
		return "corrupted state"
	default:
		return "internal error"
	}
}

// Error is the taxonomy error type. Op names the failing operation
// ("store.create", "assign.claim"), Msg is the human diagnostic.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so errors.Is(err, &Error{Kind: K}) works with
// the sentinel helpers below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// Errorf builds a taxonomy error with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and op to an underlying error. Returns nil when err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, or KindUnknown when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err (or anything it wraps) carries kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

// Convenience predicates for the common branches.
func IsNotFound(err error) bool      { return IsKind(err, KindNotFound) }
func IsAlreadyExists(err error) bool { return IsKind(err, KindAlreadyExists) }
func IsTimeout(err error) bool       { return IsKind(err, KindTimeout) }
