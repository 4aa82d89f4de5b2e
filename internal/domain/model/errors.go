package model

import (
	"errors"
	"fmt"
)

// Failure kinds surfaced by the core. Callers match them with errors.Is.
var (
	// ErrInvalidInput marks a malformed or empty submission. Not retried.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound marks a reference to a patient or prediction that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadySet marks an attempt to overwrite a write-once field.
	ErrAlreadySet = errors.New("already set")
	// ErrStoreUnavailable marks an unreachable store or an aborted transaction.
	// The failed call was fully rolled back and may be retried as a whole.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Error carries a failure kind together with the operation that produced it.
// Unwrap yields only the kind, so driver errors never escape the core.
type Error struct {
	Op   string
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

// Unwrap exposes the failure kind to errors.Is.
func (e *Error) Unwrap() error { return e.Kind }

// NewError builds an Error of the given kind.
func NewError(op string, kind error, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the failure kind of err, or nil if err carries none.
func KindOf(err error) error {
	for _, kind := range []error{ErrInvalidInput, ErrNotFound, ErrAlreadySet, ErrStoreUnavailable} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
