// Package apperr defines the error kinds shared by every learning component.
// Boundaries map kinds to transport responses with KindOf; domain packages
// declare their own sentinels on top of these kinds.
package apperr

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("unavailable")
)

var kinds = []error{ErrNotFound, ErrConflict, ErrForbidden, ErrInvalidInput, ErrUnavailable}

// Error is a domain error with the component and operation that produced it.
type Error struct {
	Domain  string // e.g. "quiz", "subscription"
	Op      string // e.g. "Submit"
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is reports whether target is the error's kind or anything in its cause chain.
func (e *Error) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// New creates a domain error without an underlying cause.
func New(domain, op string, kind error, message string) *Error {
	return &Error{Domain: domain, Op: op, Kind: kind, Message: message}
}

// Wrap creates a domain error around err.
func Wrap(domain, op string, kind error, message string, err error) *Error {
	return &Error{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// Unavailable wraps a persistence failure.
func Unavailable(domain, op string, err error) *Error {
	return Wrap(domain, op, ErrUnavailable, "storage failure", err)
}

// KindOf returns the kind of err, or nil when err carries no known kind.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool     { return errors.Is(err, ErrConflict) }
func IsForbidden(err error) bool    { return errors.Is(err, ErrForbidden) }
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }
func IsUnavailable(err error) bool  { return errors.Is(err, ErrUnavailable) }
