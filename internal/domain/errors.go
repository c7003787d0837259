// Package domain defines core types, interfaces, and errors for the audit-log cache.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// AuthError indicates that no valid credential could be obtained.
// It is fatal to any fetch in progress.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// InvalidRangeError is returned when a requested time range is empty or inverted.
type InvalidRangeError struct {
	Start time.Time
	End   time.Time
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range: end %s must be after start %s",
		FormatAPITime(e.End), FormatAPITime(e.Start))
}

// TransientNetworkError wraps a failure that may succeed when retried
// (timeouts, connection resets, 5xx and 429 responses).
type TransientNetworkError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransientNetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient HTTP %d from %s", e.StatusCode, redactURL(e.URL))
	}
	return fmt.Sprintf("transient network error for %s: %v", redactURL(e.URL), e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// APIError is a non-retryable HTTP error returned by the remote API.
type APIError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("API request to %s failed (HTTP %d)", redactURL(e.URL), e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// ParseError indicates that a downloaded file could not be decoded, either
// because it could not be decompressed or because too many lines were malformed.
type ParseError struct {
	Message   string
	Malformed int
	Total     int
	Err       error
}

func (e *ParseError) Error() string {
	msg := e.Message
	if e.Total > 0 {
		msg = fmt.Sprintf("%s (%d of %d lines malformed)", msg, e.Malformed, e.Total)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// LedgerConflictError is returned when a window is recorded twice.
// Callers treat it as already satisfied.
type LedgerConflictError struct {
	Window FetchWindow
}

func (e *LedgerConflictError) Error() string {
	return fmt.Sprintf("window %s already recorded", e.Window)
}

// AmbiguousIDError is returned when an ID prefix matches more than one entry.
type AmbiguousIDError struct {
	Prefix     string
	Candidates []string
}

func (e *AmbiguousIDError) Error() string {
	return fmt.Sprintf("ambiguous ID prefix %q matches %d entries: %s",
		e.Prefix, len(e.Candidates), strings.Join(e.Candidates, ", "))
}

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrAuth creates an AuthError wrapping err.
func ErrAuth(err error, format string, args ...interface{}) *AuthError {
	return &AuthError{Message: fmt.Sprintf(format, args...), Err: err}
}

// redactURL strips the query string so signed URL signatures never reach logs.
func redactURL(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i] + "?…"
	}
	return u
}
