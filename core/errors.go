package core

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the error taxonomy. Typed errors below unwrap to these,
// so callers can branch with errors.Is without caring about the details.
var (
	// ErrRateLimited means admission was denied for the current window.
	ErrRateLimited = errors.New("rate limited")

	// ErrNotFound means a referenced conversation or character does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExternalService means the log store or rate-limit store failed or timed out.
	// Fatal for the current turn.
	ErrExternalService = errors.New("external service error")

	// ErrSoftUnavailable means the vector index or embedding service failed.
	// Never fatal: retrieval degrades to an empty result.
	ErrSoftUnavailable = errors.New("soft unavailable")

	// ErrValidation means an input failed boundary validation.
	ErrValidation = errors.New("validation error")
)

// ValidationError reports a malformed field at the system boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// RateLimitError carries the hint for when the caller may retry.
type RateLimitError struct {
	Identifier string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Identifier, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// ExternalServiceError wraps a failure of a hard dependency.
// errors.Is matches both ErrExternalService and the underlying cause
// (for example context.DeadlineExceeded).
type ExternalServiceError struct {
	Service string // "history", "ratelimit", "generation", ...
	Op      string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() []error {
	return []error{ErrExternalService, e.Err}
}

// External wraps err as an ExternalServiceError. A nil err stays nil, and an
// error that already is an ExternalServiceError is returned unchanged.
func External(service, op string, err error) error {
	if err == nil {
		return nil
	}
	var ext *ExternalServiceError
	if errors.As(err, &ext) {
		return err
	}
	return &ExternalServiceError{Service: service, Op: op, Err: err}
}
