// Package errors provides the error taxonomy used across the backfill:
// sentinel errors, fetch failures carrying cursor context, and a classifier
// that maps arbitrary errors onto retry decisions.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorType represents the classification of an error
type ErrorType string

const (
	// Transient error types. The fetcher retries these.
	ErrorTypeNetwork    ErrorType = "network"            // Transport failure
	ErrorTypeTimeout    ErrorType = "timeout"            // Request timeout
	ErrorTypeHTTPStatus ErrorType = "http_status"        // Non-200 response
	ErrorTypeAPI        ErrorType = "api_error"          // Non-empty error list in the envelope
	ErrorTypeMalformed  ErrorType = "malformed_response" // Body could not be decoded

	// Terminal error types
	ErrorTypeRetryExhausted ErrorType = "retry_exhausted"
	ErrorTypeNoData         ErrorType = "no_data"
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeUnsorted       ErrorType = "unsorted"
	ErrorTypeCanceled       ErrorType = "canceled"

	ErrorTypeUnknown ErrorType = "unknown"
)

var (
	// ErrRetryExhausted is matched by a FetchError that gave up after its
	// attempt budget was spent.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
	// ErrNoDataForPair is returned when trades are requested for a pair that
	// has never been downloaded.
	ErrNoDataForPair = errors.New("no data downloaded for pair")

	ErrMalformedResponse = errors.New("malformed response")
	ErrUnsortedTrades    = errors.New("trades are not ordered by time")
	ErrInvalidRequest    = errors.New("invalid request")
)

// ClassifiedError represents an error with metadata for handling decisions
type ClassifiedError struct {
	Err       error     `json:"error"`
	Type      ErrorType `json:"type"`
	Retryable bool      `json:"retryable"`
	Operation string    `json:"operation"`
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Operation == "" {
		return fmt.Sprintf("[%s] %v", ce.Type, ce.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", ce.Type, ce.Operation, ce.Err)
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Is checks if the error is of the specified type
func (ce *ClassifiedError) Is(target error) bool {
	if t, ok := target.(*ClassifiedError); ok {
		return ce.Type == t.Type
	}
	return false
}

// New creates a classified error of the given type. Retryability follows
// the type.
func New(typ ErrorType, operation string, err error) *ClassifiedError {
	return &ClassifiedError{
		Err:       err,
		Type:      typ,
		Retryable: typ.Transient(),
		Operation: operation,
	}
}

// Transient reports whether errors of this type are worth another attempt.
func (t ErrorType) Transient() bool {
	switch t {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeHTTPStatus, ErrorTypeAPI, ErrorTypeMalformed:
		return true
	default:
		return false
	}
}

// FetchError reports a failed page fetch together with the cursor position
// it was attempted at.
type FetchError struct {
	Pair      string
	Since     float64
	Attempts  int
	Exhausted bool
	Err       error
}

// Error implements the error interface
func (fe *FetchError) Error() string {
	if fe.Exhausted {
		return fmt.Sprintf("fetch %s since %.6f: gave up after %d attempts: %v", fe.Pair, fe.Since, fe.Attempts, fe.Err)
	}
	return fmt.Sprintf("fetch %s since %.6f: %v", fe.Pair, fe.Since, fe.Err)
}

// Unwrap returns the last underlying error
func (fe *FetchError) Unwrap() error {
	return fe.Err
}

// Is matches ErrRetryExhausted when the attempt budget was spent.
func (fe *FetchError) Is(target error) bool {
	return fe.Exhausted && target == ErrRetryExhausted
}

// Classify maps an error onto an ErrorType. Exhaustion and cancellation take
// precedence over any classification carried by the wrapped error.
func Classify(err error) ErrorType {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrRetryExhausted):
		return ErrorTypeRetryExhausted
	case errors.Is(err, context.Canceled):
		return ErrorTypeCanceled
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Type
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, ErrNoDataForPair):
		return ErrorTypeNoData
	case errors.Is(err, ErrUnsortedTrades):
		return ErrorTypeUnsorted
	case errors.Is(err, ErrMalformedResponse):
		return ErrorTypeMalformed
	case errors.Is(err, ErrInvalidRequest):
		return ErrorTypeValidation
	}

	if isTimeoutError(err) {
		return ErrorTypeTimeout
	}
	if isNetworkError(err) {
		return ErrorTypeNetwork
	}
	return ErrorTypeUnknown
}

// isNetworkError checks if the error is network-related
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"connection reset",
		"no route to host",
		"network unreachable",
		"no such host",
	}

	for _, pattern := range networkPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// isTimeoutError checks if the error is timeout-related
func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// WrapError wraps an error with additional context
func WrapError(err error, component, operation, message string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s in %s.%s: %w", message, component, operation, err)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	typ := Classify(err)
	var ce *ClassifiedError
	if errors.As(err, &ce) && ce.Type == typ {
		return ce.Retryable
	}
	return typ.Transient()
}
