package configuration

import (
	"time"
)

// HTTP constants.
const (
	DefaultHTTPTimeoutSeconds = 30
)

// Retry and circuit breaker constants.
const (
	DefaultMaxAttempts      = 3
	DefaultBaseDelay        = 1 * time.Second
	DefaultMaxDelay         = 8 * time.Second
	DefaultAttemptTimeout   = 30 * time.Second
	DefaultJitter           = 0.25
	DefaultFailureThreshold = 5
	DefaultCooldown         = 60 * time.Second
	DefaultProbeTimeout     = 60 * time.Second // TTL of the Redis probe guard
)

// Invocation constants.
const (
	DefaultMaxRetries = 2
)

// Rate limiting constants.
const (
	DefaultTokensPerSecond = 10
	DefaultBurstSize       = 20
)

// Observability and worker constants.
const (
	DefaultMetricsAddr = ":9090"
	DefaultTaskQueue   = "model-invocation"
	DefaultNamespace   = "default"
	DefaultTemporalURL = "localhost:7233"
)

// DefaultRetryPolicy returns the per-vendor policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:             DefaultMaxAttempts,
		BaseDelay:               DefaultBaseDelay,
		MaxDelay:                DefaultMaxDelay,
		Timeout:                 DefaultAttemptTimeout,
		Jitter:                  DefaultJitter,
		CircuitBreakerEnabled:   true,
		CircuitBreakerThreshold: DefaultFailureThreshold,
		Cooldown:                DefaultCooldown,
	}
}

// DefaultConfig returns production-ready configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTPTimeout: DefaultHTTPTimeoutSeconds * time.Second,
		Retry:       DefaultRetryPolicy(),
		Selection: SelectionConfig{
			Strategy: StrategyPriorityFirst,
		},
		Invoke: InvokeDefaults{
			FallbackEnabled: true,
			MaxRetries:      DefaultMaxRetries,
		},
		RateLimit: RateLimitConfig{
			Enabled:         false,
			TokensPerSecond: DefaultTokensPerSecond,
			BurstSize:       DefaultBurstSize,
		},
		Redis: RedisConfig{
			ProbeTimeout: DefaultProbeTimeout,
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			MetricsAddr:    DefaultMetricsAddr,
			LogLevel:       "info",
			LogFormat:      "text",
			RedactPayloads: true,
		},
		Temporal: TemporalConfig{
			HostPort:  DefaultTemporalURL,
			Namespace: DefaultNamespace,
			TaskQueue: DefaultTaskQueue,
		},
	}
}
