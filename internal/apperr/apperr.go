// Package apperr defines the error taxonomy shared by the orchestration
// layer, the scheduler, and the pipeline. Callers classify errors with
// errors.As via CodeOf rather than string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies an error category.
type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeNotFound     Code = "NOT_FOUND"
	CodeInvalidState Code = "INVALID_STATE_TRANSITION"
	CodeRateLimited  Code = "RATE_LIMITED"
	CodeCircuitOpen  Code = "CIRCUIT_OPEN"
	CodeTransient    Code = "TRANSIENT"
	CodeTransform    Code = "TRANSFORM_ERROR"
	CodePersistence  Code = "PERSISTENCE_ERROR"
	CodeConflict     Code = "CONFLICT"
	CodeInternal     Code = "INTERNAL"
)

// Error is a coded error. Op names the operation that failed.
type Error struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a coded error with a formatted message.
func New(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and operation to an underlying error. A nil err
// yields nil.
func Wrap(code Code, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf extracts the code from an error chain, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether the error chain carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// IsTransient reports whether an error should be retried. Only transient
// failures (network, timeout, resource exhaustion, 5xx-equivalent) qualify;
// validation and not-found errors never do.
func IsTransient(err error) bool {
	return Is(err, CodeTransient)
}
