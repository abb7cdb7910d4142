// Package apperror defines the error taxonomy shared by the booking
// orchestrator and the HTTP layer.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindConflict      Kind = "conflict"
	KindNotFound      Kind = "not_found"
	KindAuthorization Kind = "authorization"
	KindPayment       Kind = "payment"
	KindLock          Kind = "lock"
	KindInternal      Kind = "internal"
)

// Error is the single error type returned by domain services.
type Error struct {
	Kind      Kind
	Op        string
	Msg       string
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Validation reports malformed input such as an empty or oversized interval.
func Validation(op, format string, args ...any) *Error {
	return newf(KindValidation, op, format, args...)
}

// Conflict reports a state that does not allow the requested operation.
func Conflict(op, format string, args ...any) *Error {
	return newf(KindConflict, op, format, args...)
}

// NotFound reports an unknown booking, pod or access code.
func NotFound(op, format string, args ...any) *Error {
	return newf(KindNotFound, op, format, args...)
}

// Forbidden reports an actor acting on a booking it does not own.
func Forbidden(op, format string, args ...any) *Error {
	return newf(KindAuthorization, op, format, args...)
}

// Payment wraps a provider-side authorization failure. The caller may retry.
func Payment(op string, err error, format string, args ...any) *Error {
	e := newf(KindPayment, op, format, args...)
	e.Err = err
	e.Retryable = true
	return e
}

// Lock wraps a lock hardware failure or timeout. The caller may retry.
func Lock(op string, err error, format string, args ...any) *Error {
	e := newf(KindLock, op, format, args...)
	e.Err = err
	e.Retryable = true
	return e
}

// Internal wraps an unexpected failure, typically from the store.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Msg: "internal error", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether the caller may repeat the operation.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}

// Wrap returns err unchanged when it already carries a kind, and wraps it as
// internal otherwise. Nil stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Internal(op, err)
}
