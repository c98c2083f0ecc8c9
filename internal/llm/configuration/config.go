// Package configuration defines the typed configuration of the invocation
// layer: retry policy, selection strategy, invocation defaults, rate limits,
// Redis probe coordination, observability and the Temporal worker.
package configuration

import (
	"time"

	"github.com/ahrav/go-invoker/internal/llm/catalog"
)

// Strategy names the vendor selection strategy bound at configuration time.
type Strategy string

// Supported selection strategies.
const (
	StrategyPriorityFirst Strategy = "priority_first"
	StrategyLoadBalancing Strategy = "load_balancing"
	StrategyFailOver      Strategy = "fail_over"
	StrategyCostOptimal   Strategy = "cost_optimal"
)

// Config holds comprehensive configuration for the invocation layer.
type Config struct {
	// HTTP client configuration for the generic backend caller
	HTTPTimeout time.Duration `json:"http_timeout" yaml:"http_timeout"`

	// Catalog entries, in insertion order
	Bindings []catalog.VendorBinding `json:"bindings" yaml:"bindings" validate:"dive"`

	// Per-vendor retry and circuit breaker policy
	Retry RetryPolicy `json:"retry" yaml:"retry"`

	// Vendor selection
	Selection SelectionConfig `json:"selection" yaml:"selection"`

	// Defaults applied to invocations that do not override them
	Invoke InvokeDefaults `json:"invoke" yaml:"invoke"`

	// Local per-vendor rate limiting
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`

	// Redis half-open probe coordination
	Redis RedisConfig `json:"redis" yaml:"redis"`

	// Observability configuration
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`

	// Temporal worker configuration
	Temporal TemporalConfig `json:"temporal" yaml:"temporal"`
}

// RetryPolicy controls the per-vendor attempt loop.
// Backoff grows as BaseDelay*2^(attempt-1) with a symmetric multiplicative
// jitter and is clamped into [BaseDelay, MaxDelay].
type RetryPolicy struct {
	MaxAttempts             int           `json:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
	BaseDelay               time.Duration `json:"base_delay" yaml:"base_delay" validate:"gt=0"`
	MaxDelay                time.Duration `json:"max_delay" yaml:"max_delay" validate:"gtefield=BaseDelay"`
	Timeout                 time.Duration `json:"timeout" yaml:"timeout" validate:"gt=0"`
	Jitter                  float64       `json:"jitter" yaml:"jitter" validate:"gte=0,lt=1"`
	CircuitBreakerEnabled   bool          `json:"circuit_breaker_enabled" yaml:"circuit_breaker_enabled"`
	CircuitBreakerThreshold int           `json:"circuit_breaker_threshold" yaml:"circuit_breaker_threshold" validate:"gte=1"`
	Cooldown                time.Duration `json:"cooldown" yaml:"cooldown" validate:"gte=0"`
	FailUnknown             bool          `json:"fail_unknown" yaml:"fail_unknown"` // Treat unclassified errors as fatal
}

// SelectionConfig picks the strategy used by the vendor selector.
type SelectionConfig struct {
	Strategy Strategy `json:"strategy" yaml:"strategy" validate:"oneof=priority_first load_balancing fail_over cost_optimal"`
}

// InvokeDefaults are the invocation options used when a caller passes none.
type InvokeDefaults struct {
	FallbackEnabled bool `json:"fallback_enabled" yaml:"fallback_enabled"`
	MaxRetries      int  `json:"max_retries" yaml:"max_retries" validate:"gte=0"`
}

// RateLimitConfig for in-memory per-vendor token buckets.
type RateLimitConfig struct {
	Enabled         bool    `json:"enabled" yaml:"enabled"`
	TokensPerSecond float64 `json:"tokens_per_second" yaml:"tokens_per_second" validate:"gte=0"`
	BurstSize       int     `json:"burst_size" yaml:"burst_size" validate:"gte=0"`
}

// RedisConfig enables cross-instance coordination of half-open probes.
// An empty Addr disables the guard.
type RedisConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	Password     string        `json:"-" yaml:"password"` // Sensitive
	DB           int           `json:"db" yaml:"db"`
	ProbeTimeout time.Duration `json:"probe_timeout" yaml:"probe_timeout"`
}

// ObservabilityConfig controls logging and metrics exposure.
type ObservabilityConfig struct {
	MetricsEnabled bool   `json:"metrics_enabled" yaml:"metrics_enabled"`
	MetricsAddr    string `json:"metrics_addr" yaml:"metrics_addr"`
	LogLevel       string `json:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat      string `json:"log_format" yaml:"log_format" validate:"omitempty,oneof=json text"`
	RedactPayloads bool   `json:"redact_payloads" yaml:"redact_payloads"`
}

// TemporalConfig locates the Temporal frontend for the worker.
type TemporalConfig struct {
	HostPort  string `json:"host_port" yaml:"host_port"`
	Namespace string `json:"namespace" yaml:"namespace"`
	TaskQueue string `json:"task_queue" yaml:"task_queue"`
}
