// Package errors defines the error kinds shared by the store, the repository
// and the synchronizer.
//
// Callers match kinds with errors.Is:
//
//	if errors.Is(err, errors.ErrDuplicateRecord) {
//	    ...
//	}
//
// or switch on KindOf(err).
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is  = errors.Is
	As  = errors.As
	New = errors.New
)

// Code is a machine-readable error kind.
type Code string

const (
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
	CodeNotFound         Code = "NOT_FOUND"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeValidation       Code = "VALIDATION"
	CodeDuplicateRecord  Code = "DUPLICATE_RECORD"
	CodeNotReady         Code = "NOT_READY"
	CodeBusy             Code = "BUSY"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeInternal         Code = "INTERNAL"
)

// HTTPStatus returns the HTTP status code for an error kind.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeValidation:
		return http.StatusUnprocessableEntity
	case CodeDuplicateRecord, CodeBusy:
		return http.StatusConflict
	case CodeNotReady, CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether repeating the same call may succeed.
func (c Code) Retryable() bool {
	switch c {
	case CodeStoreUnavailable, CodeBusy, CodeRateLimited, CodeNotReady:
		return true
	}
	return false
}

// Error is a domain error with a kind, message and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: e.Details, cause: err}
}

// WithDetails returns a copy carrying details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details, cause: e.cause}
}

// Sentinel errors for use with errors.Is.
var (
	ErrStoreUnavailable = &Error{Code: CodeStoreUnavailable, Message: "store unavailable"}
	ErrNotFound         = &Error{Code: CodeNotFound, Message: "not found"}
	ErrPermissionDenied = &Error{Code: CodePermissionDenied, Message: "permission denied"}
	ErrValidation       = &Error{Code: CodeValidation, Message: "validation error"}
	ErrDuplicateRecord  = &Error{Code: CodeDuplicateRecord, Message: "duplicate record"}
	ErrNotReady         = &Error{Code: CodeNotReady, Message: "collection not ready"}
	ErrBusy             = &Error{Code: CodeBusy, Message: "operation already in flight"}
	ErrRateLimited      = &Error{Code: CodeRateLimited, Message: "rate limit exceeded"}
	ErrUnauthorized     = &Error{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrInternal         = &Error{Code: CodeInternal, Message: "internal error"}
)

// StoreUnavailable wraps a transport or connectivity failure.
func StoreUnavailable(op string, err error) *Error {
	return &Error{Code: CodeStoreUnavailable, Message: op, cause: err}
}

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// PermissionDenied creates a permission error.
func PermissionDenied(msg string) *Error {
	return &Error{Code: CodePermissionDenied, Message: msg}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// ValidationWithDetails creates a validation error carrying per-field messages.
func ValidationWithDetails(msg string, fields map[string]string) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: fields}
}

// DuplicateRecord creates a duplicate guard error.
func DuplicateRecord(msg string) *Error {
	return &Error{Code: CodeDuplicateRecord, Message: msg}
}

// NotReady creates a state error.
func NotReady(msg string) *Error {
	return &Error{Code: CodeNotReady, Message: msg}
}

// Busy creates an error for a record that already has a mutation in flight.
func Busy(msg string) *Error {
	return &Error{Code: CodeBusy, Message: msg}
}

// RateLimited creates a rate limit error.
func RateLimited(msg string) *Error {
	return &Error{Code: CodeRateLimited, Message: msg}
}

// Unauthorized creates an authentication error.
func Unauthorized(msg string) *Error {
	return &Error{Code: CodeUnauthorized, Message: msg}
}

// KindOf returns the Code of the first *Error in err's chain, or CodeInternal.
func KindOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
