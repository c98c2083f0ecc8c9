// Package errors defines the failure taxonomy of the invocation layer.
// Every error observed while calling a vendor binding is reduced to a
// Category that drives retry, failover and exhaustion decisions.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Category classifies an invocation failure for retry and failover decisions.
//
//nolint:godot // linter incorrectly flags properly capitalized comment
type Category string

const (
	// CategoryNone marks a successful outcome.
	CategoryNone Category = ""

	// CategoryTransient covers timeouts, connection resets, 5xx and network errors (retryable).
	CategoryTransient Category = "retryable_transient"

	// CategoryUnknown covers unclassified errors, retried by lenient default.
	CategoryUnknown Category = "retryable_unknown"

	// CategoryFatalClient covers 4xx, authentication and validation errors (no local retry).
	CategoryFatalClient Category = "fatal_client"

	// CategoryCircuitOpen marks a fast-fail before any attempt was made.
	CategoryCircuitOpen Category = "circuit_open"

	// CategoryExhaustedTimeout marks an invocation where every vendor failed with a timeout.
	CategoryExhaustedTimeout Category = "exhausted_timeout"

	// CategoryExhaustedHard marks an invocation where at least one failure was not a timeout.
	CategoryExhaustedHard Category = "exhausted_hard"
)

// Retryable reports whether the category permits another attempt against the same vendor.
func (c Category) Retryable() bool {
	return c == CategoryTransient || c == CategoryUnknown
}

// Reason narrows a category down to the observed failure mode.
type Reason string

const (
	ReasonTimeout    Reason = "timeout"
	ReasonNetwork    Reason = "network"
	ReasonServer     Reason = "server_error"
	ReasonRateLimit  Reason = "rate_limit"
	ReasonAuth       Reason = "authentication"
	ReasonValidation Reason = "validation"
	ReasonClient     Reason = "client_error"
	ReasonCircuit    Reason = "circuit_open"
	ReasonUnknown    Reason = "unknown"
	ReasonCanceled   Reason = "canceled"
)

// Common invocation errors for consistent error handling.
var (
	// ErrUnknownModel indicates the id is neither a logical model nor a vendor binding.
	ErrUnknownModel = errors.New("unknown model")

	// ErrAttemptTimeout indicates the per-attempt timer fired before the backend answered.
	ErrAttemptTimeout = errors.New("attempt timed out")

	// ErrCircuitOpen indicates the vendor's circuit breaker rejected the call.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrProbeInProgress indicates another instance holds the half-open probe guard.
	ErrProbeInProgress = errors.New("half-open probe in progress elsewhere")

	// ErrExhaustedTimeout indicates every vendor tried failed with a timeout.
	ErrExhaustedTimeout = errors.New("all vendors timed out")

	// ErrExhaustedHard indicates vendors were exhausted with at least one hard failure.
	ErrExhaustedHard = errors.New("all vendors failed")

	// ErrNoCandidates indicates no eligible vendor binding existed for the model.
	ErrNoCandidates = errors.New("no eligible vendor bindings")

	// ErrInvalidPolicy indicates a retry policy that cannot be executed.
	ErrInvalidPolicy = errors.New("invalid retry policy")
)

// ProviderError captures a structured error response from a vendor backend.
// The HTTP status code is the primary classification signal.
type ProviderError struct {
	Vendor     string `json:"vendor"`      // Vendor binding id
	StatusCode int    `json:"status_code"` // HTTP status code
	Message    string `json:"message"`     // Error message
	Code       string `json:"code"`        // Vendor error code
	RetryAfter int    `json:"retry_after"` // Retry-After header value in seconds
}

// Error returns formatted provider error with status code context.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Vendor, e.StatusCode, e.Message)
}

// IsRetryable reports whether the status code signals a transient vendor condition.
//
//nolint:godot // linter incorrectly flags properly capitalized comment
func (e *ProviderError) IsRetryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// GetRetryAfter returns the vendor-supplied retry hint.
func (e *ProviderError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// RateLimitError is returned when a local per-vendor limiter rejects a call.
type RateLimitError struct {
	Vendor     string `json:"vendor"`
	RetryAfter int    `json:"retry_after"` // Seconds to wait before retry
	Limit      int    `json:"limit"`
}

// IsLocalThrottle reports whether err is a local limiter denial rather than a
// vendor response.
func IsLocalThrottle(err error) bool {
	var rlErr *RateLimitError
	var provErr *ProviderError
	return errors.As(err, &rlErr) && !errors.As(err, &provErr)
}

// Error returns formatted rate limit error with retry guidance.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s, retry after %d seconds", e.Vendor, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded for %s", e.Vendor)
}

// ValidationError captures a request the vendor (or this layer) refused as malformed.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error returns formatted validation error with field-specific context.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// AuthError indicates rejected or missing vendor credentials.
type AuthError struct {
	Vendor  string `json:"vendor"`
	Message string `json:"message"`
}

// Error returns the formatted authentication failure.
func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %s", e.Vendor, e.Message)
}

// CircuitBreakerError is returned when a vendor is fast-failed by its breaker.
type CircuitBreakerError struct {
	Vendor string `json:"vendor"`
	State  string `json:"state"`
}

// Error returns formatted circuit breaker error with state context.
func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker %s for %s", e.State, e.Vendor)
}

// Unwrap lets errors.Is match ErrCircuitOpen.
func (e *CircuitBreakerError) Unwrap() error {
	return ErrCircuitOpen
}
