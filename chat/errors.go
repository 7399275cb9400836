package chat

import (
	"errors"
	"fmt"
)

// Code classifies an Error.
type Code int

const (
	CodeUnknown Code = iota
	CodeInvalidArgument
	CodeForbidden
	CodeNotFound
	CodeConflict
	CodeUnavailable
	CodePartialFailure
)

func (c Code) String() string {
	switch c {
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeForbidden:
		return "forbidden"
	case CodeNotFound:
		return "not_found"
	case CodeConflict:
		return "conflict"
	case CodeUnavailable:
		return "unavailable"
	case CodePartialFailure:
		return "partial_failure"
	}
	return "unknown"
}

// An Error is a classified failure returned by the core. Two errors match
// under errors.Is when their codes are equal, so callers can test against
// the sentinel values below.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrInvalidArgument = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrForbidden       = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrNotFound        = &Error{Code: CodeNotFound, Message: "not found"}
	ErrConflict        = &Error{Code: CodeConflict, Message: "conflict"}
	ErrUnavailable     = &Error{Code: CodeUnavailable, Message: "unavailable"}
	ErrPartialFailure  = &Error{Code: CodePartialFailure, Message: "partial failure"}
)

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func invalidArgument(format string, args ...any) error {
	return newError(CodeInvalidArgument, format, args...)
}

func forbidden(format string, args ...any) error {
	return newError(CodeForbidden, format, args...)
}

func notFound(format string, args ...any) error {
	return newError(CodeNotFound, format, args...)
}

func conflict(format string, args ...any) error {
	return newError(CodeConflict, format, args...)
}

// unavailable wraps a collaborator failure. Errors that already carry a code
// are returned untouched.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Code: CodeUnavailable, Message: op, Err: err}
}

// CodeOf returns the code carried by err, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
