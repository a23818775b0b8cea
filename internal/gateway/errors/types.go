// Package errors defines the error taxonomy for the gateway's admission-control
// engine.
//
// Three families cover every failure mode the engine can surface:
// AdmissionError (expected, user-facing rejections carrying which scope and
// dimension tripped), StoreUnavailableError (infrastructure faults reaching the
// shared counter store), and ConfigError (malformed limit configuration caught
// eagerly at load). Classification helpers let callers branch on the family
// without knowing the concrete types.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Dimension identifies which configured limit a rejection tripped.
type Dimension string

const (
	// DimensionParallel is the concurrent-request cap (max_parallel_requests).
	DimensionParallel Dimension = "max_parallel_requests"

	// DimensionRPM is the requests-per-minute cap.
	DimensionRPM Dimension = "rpm"

	// DimensionTPM is the tokens-per-minute cap.
	DimensionTPM Dimension = "tpm"
)

// Common admission-control errors for consistent error handling.
var (
	// ErrAdmissionRejected indicates a request was rejected by a rate limit.
	ErrAdmissionRejected = errors.New("admission rejected")

	// ErrStoreUnavailable indicates the shared counter store could not be reached.
	ErrStoreUnavailable = errors.New("counter store unavailable")

	// ErrInvalidLimit indicates a malformed limit value in configuration.
	ErrInvalidLimit = errors.New("invalid limit value")
)

// AdmissionError reports a rate-limit rejection with full context for the caller.
// Carries the scope and dimension that tripped, the observed counter value
// versus the configured limit, and retry timing aligned to the next minute
// boundary. Admission rejections are terminal: they are never retried
// internally, since retrying a rate-limit rejection would defeat its purpose.
type AdmissionError struct {
	Scope      string    `json:"scope"`       // Scope that tripped ("key", "user", "team", ...)
	Identifier string    `json:"identifier"`  // Identifier within the scope
	Dimension  Dimension `json:"dimension"`   // Which limit was exceeded
	Current    int64     `json:"current"`     // Observed post-increment value
	Limit      int64     `json:"limit"`       // Configured limit
	RetryAfter int       `json:"retry_after"` // Seconds until the next minute boundary
}

// Error returns a formatted rejection with current-vs-limit context.
func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission rejected: %s limit exceeded for %s scope (%d/%d), retry after %ds",
		e.Dimension, e.Scope, e.Current, e.Limit, e.RetryAfter)
}

// Is reports whether target is ErrAdmissionRejected, enabling errors.Is checks
// against the sentinel without losing the structured context.
func (e *AdmissionError) Is(target error) bool {
	return target == ErrAdmissionRejected
}

// GetRetryAfter implements the RetryAfterProvider interface.
func (e *AdmissionError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// StoreUnavailableError wraps an infrastructure fault reaching the shared
// counter store. The engine handles these fail-open: admission proceeds
// without the distributed check, so the error surfaces only in logs and
// metrics, never to the caller.
type StoreUnavailableError struct {
	Op  string // Store operation that failed ("increment", "batch", "get", "set")
	Err error  // Underlying transport fault
}

// Error returns the failed operation with the underlying fault.
func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("counter store unavailable during %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying fault for errors.Is/As chains.
func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// Is reports whether target is ErrStoreUnavailable.
func (e *StoreUnavailableError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// ConfigError reports a malformed limit value, raised eagerly when the limit
// is first read. An unset limit is never a ConfigError; it means the dimension
// is simply not enforced.
type ConfigError struct {
	Field   string // Configuration field that failed validation
	Value   any    // Offending value
	Message string // Validation message
}

// Error returns a formatted validation failure with field context.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid limit configuration for %s: %s (got %v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("invalid limit configuration: %s", e.Message)
}

// Is reports whether target is ErrInvalidLimit.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidLimit
}

// IsAdmissionRejected identifies expected rate-limit rejections so transports
// can map them to 429 responses rather than server errors.
func IsAdmissionRejected(err error) bool {
	if err == nil {
		return false
	}
	var admErr *AdmissionError
	return errors.As(err, &admErr)
}

// IsStoreUnavailable identifies counter-store infrastructure faults that the
// engine treats as fail-open rather than hard errors.
func IsStoreUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var storeErr *StoreUnavailableError
	return errors.As(err, &storeErr)
}

// GetRetryAfter extracts retry-after seconds from an admission rejection,
// or 0 if no specific retry guidance is available.
func GetRetryAfter(err error) int {
	if err == nil {
		return 0
	}
	var admErr *AdmissionError
	if errors.As(err, &admErr) {
		return admErr.RetryAfter
	}
	return 0
}
