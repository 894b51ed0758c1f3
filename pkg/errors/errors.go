package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork        ErrorType = "network"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeUpstreamStatus ErrorType = "upstream_status"
	ErrorTypeBlocked        ErrorType = "blocked"
	ErrorTypeInvalidInput   ErrorType = "invalid_input"
	ErrorTypeTooLarge       ErrorType = "too_large"
	ErrorTypeArchive        ErrorType = "archive"
	ErrorTypeUnknown        ErrorType = "unknown"
)

// Error represents a fetch or request error with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
}

func (e *Error) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("%s error: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

// New creates a typed error
func New(errorType ErrorType, code int, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errorType,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	}
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeUpstreamStatus:
		return true
	case ErrorTypeBlocked, ErrorTypeInvalidInput, ErrorTypeTooLarge, ErrorTypeArchive:
		return false
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error.
// Hotlink protection commonly answers 401/403/404 for a bare server request, so
// those are worth another route too.
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 401, 403, 404, 408, 429:
		return true
	case 400, 405, 410, 451:
		return false
	default:
		return statusCode >= 500
	}
}

// TypeOf returns the ErrorType of err, or ErrorTypeUnknown
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// StatusOf returns the HTTP status carried by err, or 0
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
