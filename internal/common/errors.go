// Package common provides shared utilities for VaultMind
package common

import (
	"errors"
	"fmt"
)

// Machine-readable error codes surfaced to API clients.
const (
	CodeNotFound           = "not_found"
	CodeConflict           = "conflict"
	CodeInvalidArgument    = "invalid_argument"
	CodeQueueFull          = "queue_full"
	CodePreconditionFailed = "precondition_failed"
	CodeUnavailable        = "unavailable"
	CodeInternal           = "internal"
)

// Error carries a machine code alongside a human-readable message.
type Error struct {
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches two coded errors by code so errors.Is(err, common.NotFound("x"))
// style comparisons work without identity.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// NewError creates a coded error.
func NewError(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates a coded error wrapping a cause.
func WrapError(code string, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// NotFound creates a not_found error.
func NotFound(format string, args ...interface{}) *Error {
	return NewError(CodeNotFound, format, args...)
}

// Conflict creates a conflict error.
func Conflict(format string, args ...interface{}) *Error {
	return NewError(CodeConflict, format, args...)
}

// InvalidArgument creates an invalid_argument error.
func InvalidArgument(format string, args ...interface{}) *Error {
	return NewError(CodeInvalidArgument, format, args...)
}

// QueueFull creates a queue_full error.
func QueueFull(format string, args ...interface{}) *Error {
	return NewError(CodeQueueFull, format, args...)
}

// PreconditionFailed creates a precondition_failed error.
func PreconditionFailed(format string, args ...interface{}) *Error {
	return NewError(CodePreconditionFailed, format, args...)
}

// Unavailable creates an unavailable error.
func Unavailable(format string, args ...interface{}) *Error {
	return NewError(CodeUnavailable, format, args...)
}

// Internal creates an internal error.
func Internal(format string, args ...interface{}) *Error {
	return NewError(CodeInternal, format, args...)
}

// ErrorCode extracts the machine code from any error, defaulting to internal.
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// ErrorMessage extracts the human message from any error.
func ErrorMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
