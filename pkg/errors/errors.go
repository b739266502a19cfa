package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrorType represents the reason code attached to a failed acquisition step
type ErrorType string

const (
	ErrorTypeNetwork        ErrorType = "network"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeBlocked        ErrorType = "blocked"
	ErrorTypeMalformed      ErrorType = "malformed"
	ErrorTypeChallenge      ErrorType = "challenge_unsolvable"
	ErrorTypeCacheTimeout   ErrorType = "cache_timeout"
	ErrorTypeSessionExpired ErrorType = "session_expired"
	ErrorTypeCancelled      ErrorType = "cancelled"
	ErrorTypeUnreachable    ErrorType = "unreachable"
	ErrorTypeUnknown        ErrorType = "unknown"
)

// Error represents a classified failure with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given type
func New(t ErrorType, msg string) *Error {
	return &Error{Type: t, Message: msg}
}

// Newf creates an error of the given type with a formatted message
func Newf(t ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error
func Wrap(t ErrorType, err error, msg string) *Error {
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	return &Error{Type: t, Message: msg, Err: err}
}

// WithCode returns a copy of the error carrying a status code
func (e *Error) WithCode(code int) *Error {
	cp := *e
	cp.Code = code
	return &cp
}

// TypeOf extracts the reason code of err. Context errors map to cancelled.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeCancelled
	}
	return ErrorTypeUnknown
}

// Is reports whether err carries the given reason code
func Is(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// From converts any error into a classified *Error
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	t := TypeOf(err)
	return &Error{Type: t, Message: err.Error(), Err: err}
}

// FromContext converts a context error into a cancelled error
func FromContext(ctx context.Context) *Error {
	if ctx.Err() == nil {
		return nil
	}
	return Wrap(ErrorTypeCancelled, ctx.Err(), "operation cancelled")
}

// IsPermanent reports failures that must not trigger a fallback or retry
func IsPermanent(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNotFound, ErrorTypeCancelled:
		return true
	default:
		return false
	}
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeBlocked, ErrorTypeChallenge,
		ErrorTypeCacheTimeout, ErrorTypeSessionExpired, ErrorTypeMalformed:
		return true
	case ErrorTypeNotFound, ErrorTypeCancelled, ErrorTypeUnreachable:
		return false
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 500, 502, 503, 504: // Server errors
		return true
	case 404: // Gone for good
		return false
	case 401, 403: // Session rotated, refresh and retry once
		return true
	default:
		return statusCode >= 500
	}
}

// FromStatusCode classifies an HTTP status code
func FromStatusCode(statusCode int) ErrorType {
	switch {
	case statusCode == 404:
		return ErrorTypeNotFound
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode == 401 || statusCode == 403:
		return ErrorTypeSessionExpired
	case statusCode == 0 || statusCode >= 500:
		return ErrorTypeNetwork
	case statusCode >= 400:
		return ErrorTypeBlocked
	default:
		return ""
	}
}
