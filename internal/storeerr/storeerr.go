// Package storeerr defines the error taxonomy shared by the store, services,
// and agent runners (spec.md §7). Every error raised by this repository's
// domain code wraps one of these Kinds so callers can branch on policy
// (retry, skip, surface) with errors.Is/errors.As instead of string matching.
package storeerr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind string

const (
	NotReady      Kind = "not_ready"
	NotFound      Kind = "not_found"
	Conflict      Kind = "conflict"
	InvalidInput  Kind = "invalid_input"
	InvalidState  Kind = "invalid_state"
	TrainingFailed Kind = "training_failed"
	Transient     Kind = "transient"
	Cancelled     Kind = "cancelled"
)

// Error wraps a Kind with the operation and entity that raised it.
type Error struct {
	Kind   Kind
	Op     string
	Entity string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("%s: %s %s: %v", e.Op, e.Kind, e.Entity+"/"+e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, storeerr.New(storeerr.NotFound, "", "", "", nil)) style
// checks aren't required — callers instead use Of(err) == Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error.
func New(kind Kind, op, entity, key string, err error) *Error {
	return &Error{Kind: kind, Op: op, Entity: entity, Key: key, Err: err}
}

// Of returns the Kind of err if it (or something it wraps) is an *Error,
// and the empty Kind otherwise.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
