package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Sentinel errors shared by the harvest engine and its adapters.
var (
	// ErrRetriesExhausted is returned once the retrier gives up. The run
	// should stop and be resumed later.
	ErrRetriesExhausted = errors.New("too many retries, stop and resume later")

	// ErrLookupFailed wraps any failure of the handle -> account id lookup.
	ErrLookupFailed = errors.New("account lookup failed")

	// ErrMalformedPage is returned when a page payload is not a JSON array
	// of records carrying an id.
	ErrMalformedPage = errors.New("malformed page payload")

	// ErrCursorStalled is returned when a page ends on the cursor that was
	// used to request it.
	ErrCursorStalled = errors.New("pagination cursor did not advance")

	// ErrStoreLocked is returned when another run holds the store.
	ErrStoreLocked = errors.New("store is locked by another run")
)

// Error represents an API error with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (code %d): %s: %v", e.Type, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error.
func New(errorType ErrorType, code int, message string) *Error {
	return &Error{Type: errorType, Code: code, Message: message}
}

// Wrap creates a typed error around a cause.
func Wrap(err error, errorType ErrorType, code int, message string) *Error {
	return &Error{Type: errorType, Code: code, Message: message, Err: err}
}

// FromStatus builds an error for a non-success HTTP status.
func FromStatus(statusCode int) *Error {
	return &Error{
		Type:    TypeForStatus(statusCode),
		Code:    statusCode,
		Message: fmt.Sprintf("unexpected status %d %s", statusCode, http.StatusText(statusCode)),
	}
}

// TypeForStatus classifies an HTTP status code.
func TypeForStatus(statusCode int) ErrorType {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return ErrorTypeAuth
	case statusCode == http.StatusNotFound:
		return ErrorTypeNotFound
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	case statusCode >= 500:
		return ErrorTypeServerError
	default:
		return ErrorTypeUnknown
	}
}

// IsRetryable checks if an error type is transient
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// TypeOf returns the ErrorType carried by err, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Type
	}
	return ErrorTypeUnknown
}

// IsRateLimit reports whether err is an HTTP 429 response.
func IsRateLimit(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Type == ErrorTypeRateLimit
}
