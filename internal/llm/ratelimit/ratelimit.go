// Package ratelimit throttles calls per vendor binding with in-memory token
// buckets. A denied call fails with a RateLimitError, which the classifier
// treats as transient so the retry coordinator backs off and tries again.
// Denials are not vendor signals and never reach the health registry.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-invoker/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-invoker/internal/llm/errors"
	"github.com/ahrav/go-invoker/internal/llm/resilience"
	"github.com/ahrav/go-invoker/internal/llm/transport"
)

var (
	errNegativeRate  = errors.New("tokens_per_second must be >= 0")
	errNegativeBurst = errors.New("burst_size must be >= 0")
	errBurstWithZero = errors.New("burst_size must be 0 when tokens_per_second is 0")
	errZeroBurst     = errors.New("burst_size must be >= 1 when tokens_per_second is set")
)

// Limiter holds one token bucket per vendor binding id.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	config   configuration.RateLimitConfig
	metrics  resilience.Metrics
	logger   *slog.Logger

	allowed atomic.Int64
	denied  atomic.Int64
}

// Stats is a snapshot of limiter activity.
type Stats struct {
	// Vendors is the number of vendor buckets created so far.
	Vendors int   `json:"vendors"`
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// New validates cfg and creates a limiter. Nil metrics disables reporting.
func New(cfg configuration.RateLimitConfig, metrics resilience.Metrics) (*Limiter, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = resilience.NewNoOpMetrics()
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		config:   cfg,
		metrics:  metrics,
		logger:   slog.Default().With("component", "ratelimit"),
	}, nil
}

func validate(cfg configuration.RateLimitConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.TokensPerSecond < 0 {
		return fmt.Errorf("%w, got %f", errNegativeRate, cfg.TokensPerSecond)
	}
	if cfg.BurstSize < 0 {
		return fmt.Errorf("%w, got %d", errNegativeBurst, cfg.BurstSize)
	}
	if cfg.TokensPerSecond == 0 && cfg.BurstSize != 0 {
		return errBurstWithZero
	}
	if cfg.TokensPerSecond > 0 && cfg.BurstSize == 0 {
		return errZeroBurst
	}
	return nil
}

// getOrCreate returns the bucket for vendorID using double-checked locking.
func (l *Limiter) getOrCreate(vendorID string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[vendorID]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[vendorID]; ok {
		return lim
	}

	limit := rate.Limit(l.config.TokensPerSecond)
	if l.config.TokensPerSecond == 0 {
		limit = rate.Inf
	}
	lim = rate.NewLimiter(limit, l.config.BurstSize)
	l.limiters[vendorID] = lim
	return lim
}

// Allow consumes a token for vendorID or returns a RateLimitError with a
// retry hint. The hint is computed without consuming a token.
func (l *Limiter) Allow(vendorID string) error {
	if !l.config.Enabled {
		return nil
	}

	lim := l.getOrCreate(vendorID)
	if lim.Allow() {
		l.allowed.Add(1)
		return nil
	}

	reservation := lim.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()

	// Minimum 1-second hint prevents tight client retry loops.
	retryAfter := max(int(math.Ceil(delay.Seconds())), 1)

	l.denied.Add(1)
	l.metrics.IncrementCounter(resilience.MetricRateLimited, map[string]string{"vendor": vendorID}, 1)
	l.logger.Debug("rate limit exceeded", "vendor", vendorID, "retry_after", retryAfter)

	return &llmerrors.RateLimitError{
		Vendor:     vendorID,
		Limit:      int(l.config.TokensPerSecond),
		RetryAfter: retryAfter,
	}
}

// Middleware gates every request on its binding's bucket.
func (l *Limiter) Middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			if err := l.Allow(req.Binding.ID); err != nil {
				return nil, err
			}
			return next.Handle(ctx, req)
		})
	}
}

// Stats returns a snapshot of limiter activity.
func (l *Limiter) Stats() Stats {
	l.mu.RLock()
	vendors := len(l.limiters)
	l.mu.RUnlock()
	return Stats{
		Vendors: vendors,
		Allowed: l.allowed.Load(),
		Denied:  l.denied.Load(),
	}
}
