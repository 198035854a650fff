package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for transport mapping and metrics. The string
// values are stable and appear in API responses and audit events.
type Kind string

const (
	KindValidation        Kind = "VALIDATION_ERROR"
	KindInsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	KindLimitExceeded     Kind = "LIMIT_EXCEEDED"
	KindAccountNotFound   Kind = "ACCOUNT_NOT_FOUND"
	KindNotFound          Kind = "NOT_FOUND"
	KindAlreadyReversed   Kind = "ALREADY_REVERSED"
	KindUnauthorized      Kind = "UNAUTHORIZED"
	KindForbidden         Kind = "FORBIDDEN"
	KindUnavailable       Kind = "SERVICE_UNAVAILABLE"
	KindConflict          Kind = "CONFLICT"
	KindInternal          Kind = "INTERNAL_ERROR"
)

// FieldError describes a single invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the typed error carried across service boundaries. Detail holds
// machine-readable context such as the exceeded limit dimension.
type Error struct {
	Kind       Kind
	Message    string
	Detail     string
	Fields     []FieldError
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind that preserves its cause for
// errors.Is / errors.As chains.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Validation builds a 400-class error carrying field-level details.
func Validation(message string, fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

// LimitExceeded builds a limit rejection; dimension is one of the limit
// reason codes (PER_TXN, DAILY_AMOUNT, ...).
func LimitExceeded(dimension, message string) *Error {
	return &Error{Kind: KindLimitExceeded, Message: message, Detail: dimension}
}

// Unavailable builds a transient dependency failure with a retry hint.
func Unavailable(message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindUnavailable, Message: message, RetryAfter: retryAfter}
}

// KindOf extracts the kind from an error chain. Unclassified errors report
// KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// AsError extracts the typed error from a chain, wrapping unclassified
// errors as internal.
func AsError(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return &Error{Kind: KindInternal, Message: "unexpected error", cause: err}
}
