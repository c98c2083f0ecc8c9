package retry

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/ahrav/go-invoker/internal/llm/configuration"
)

// ComputeBackoff returns the delay before the attempt following attempt.
// The raw delay base*2^(attempt-1) is scaled by (1+u) where u is drawn
// uniformly from [-jitter, +jitter] via sample in [0, 1), then clamped into
// [base, max]. The arithmetic is done in float64 so large attempt numbers
// saturate at max instead of overflowing.
func ComputeBackoff(attempt int, base, maxDelay time.Duration, jitter, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	if maxDelay < base {
		return base
	}
	if attempt < 1 {
		attempt = 1
	}

	raw := float64(base) * math.Pow(2, float64(attempt-1))
	if jitter > 0 {
		raw *= 1 + (2*sample-1)*jitter
	}

	switch {
	case math.IsNaN(raw) || raw >= float64(maxDelay):
		return maxDelay
	case raw <= float64(base):
		return base
	default:
		return time.Duration(raw)
	}
}

// Backoff computes the delay after a failed attempt under policy using the
// coordinator's random source.
func (c *Coordinator) Backoff(attempt int, policy configuration.RetryPolicy) time.Duration {
	return ComputeBackoff(attempt, policy.BaseDelay, policy.MaxDelay, policy.Jitter, c.rand())
}

// defaultRand draws jitter samples from the shared math/rand/v2 source.
func defaultRand() float64 {
	return rand.Float64() // #nosec G404 -- non-cryptographic jitter is appropriate here
}
