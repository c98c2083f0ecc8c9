// Package retry runs a single operation against a single vendor binding with
// bounded retries, per-attempt timeouts, exponential backoff with jitter and
// circuit breaker gating driven by the health registry.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahrav/go-invoker/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-invoker/internal/llm/errors"
	"github.com/ahrav/go-invoker/internal/llm/health"
	"github.com/ahrav/go-invoker/internal/llm/resilience"
	"github.com/ahrav/go-invoker/internal/llm/transport"
)

// Operation is one backend call. It receives a context carrying the
// per-attempt deadline.
type Operation func(ctx context.Context) (*transport.Response, error)

// Target identifies the vendor an execution runs against. The labels are used
// only for logs and metrics.
type Target struct {
	VendorID       string
	ModelLabel     string
	OperationLabel string
}

// Outcome is the result of one ExecuteWithRetry call.
type Outcome struct {
	Success  bool
	Attempts int
	Elapsed  time.Duration
	// Category is CategoryNone on success, otherwise the category of the
	// final failure.
	Category llmerrors.Category
	Reason   llmerrors.Reason
	// CircuitBreakTriggered is true when the failure streak reached the
	// breaker threshold at the end of this execution.
	CircuitBreakTriggered bool
	Response              *transport.Response
	Err                   error
	// AllTimeouts is true while every failed attempt has been timeout-class.
	AllTimeouts bool
}

// TimedOut reports whether the execution failed and every one of its
// attempts timed out.
func (o Outcome) TimedOut() bool {
	return !o.Success && o.Attempts > 0 && o.AllTimeouts
}

// Coordinator executes operations with retries against one vendor at a time.
// It is safe for concurrent use; the health registry is the only shared
// mutable state it touches.
type Coordinator struct {
	health   *health.Registry
	guard    health.ProbeGuard
	probeTTL time.Duration
	metrics  resilience.Metrics
	logger   *slog.Logger
	stats    *retryStats
	rand     func() float64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithProbeGuard serializes half-open probes across instances.
func WithProbeGuard(guard health.ProbeGuard, ttl time.Duration) Option {
	return func(c *Coordinator) {
		c.guard = guard
		c.probeTTL = ttl
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m resilience.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger overrides the component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithRand overrides the jitter source; fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(c *Coordinator) { c.rand = fn }
}

// New creates a coordinator reporting to registry.
func New(registry *health.Registry, opts ...Option) *Coordinator {
	c := &Coordinator{
		health:  registry,
		metrics: resilience.NewNoOpMetrics(),
		logger:  slog.Default().With("component", "retry"),
		stats:   &retryStats{},
		rand:    defaultRand,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health exposes the registry the coordinator reports to.
func (c *Coordinator) Health() *health.Registry { return c.health }

// ValidatePolicy rejects policies the coordinator cannot run.
func ValidatePolicy(policy configuration.RetryPolicy) error {
	switch {
	case policy.MaxAttempts < 1:
		return fmt.Errorf("%w: max_attempts must be >= 1, got %d", llmerrors.ErrInvalidPolicy, policy.MaxAttempts)
	case policy.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be > 0, got %v", llmerrors.ErrInvalidPolicy, policy.Timeout)
	case policy.MaxDelay < policy.BaseDelay:
		return fmt.Errorf("%w: max_delay %v below base_delay %v", llmerrors.ErrInvalidPolicy, policy.MaxDelay, policy.BaseDelay)
	case policy.CircuitBreakerEnabled && policy.CircuitBreakerThreshold < 1:
		return fmt.Errorf("%w: circuit_breaker_threshold must be >= 1", llmerrors.ErrInvalidPolicy)
	}
	return nil
}

// ExecuteWithRetry runs op against target.VendorID under policy.
//
// With the breaker enabled an open circuit fails fast with zero attempts. A
// half-open admission gets exactly one attempt. Each attempt is raced against
// a timer of policy.Timeout; the timer wins even if op ignores its context.
// Fatal failures stop immediately, retryable ones back off and try again
// until MaxAttempts is reached. A half-open probe refused by the probe guard
// puts the circuit back to open. After a failing exit the breaker threshold is
// checked and CircuitBreakTriggered reports whether the circuit is now open.
func (c *Coordinator) ExecuteWithRetry(
	ctx context.Context,
	op Operation,
	target Target,
	policy configuration.RetryPolicy,
) Outcome {
	start := time.Now()
	vendor := target.VendorID
	maxAttempts := max(policy.MaxAttempts, 1)
	classifier := llmerrors.Classifier{FailUnknown: policy.FailUnknown}

	if policy.CircuitBreakerEnabled {
		adm := c.health.Admit(vendor, policy.Cooldown)
		if !adm.Allowed {
			return c.reject(target, start, &llmerrors.CircuitBreakerError{Vendor: vendor, State: health.StateOpen.String()})
		}
		if adm.Probe {
			maxAttempts = 1
			if c.guard != nil {
				if !c.guard.Acquire(ctx, vendor, c.probeTTL) {
					c.health.Reopen(vendor)
					return c.reject(target, start, fmt.Errorf("%w: %s", llmerrors.ErrProbeInProgress, vendor))
				}
				defer c.guard.Release(context.WithoutCancel(ctx), vendor)
			}
			c.logger.Info("half-open probe", "vendor", vendor, "model", target.ModelLabel)
		}
	}

	out := Outcome{AllTimeouts: true}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptStart := time.Now()
		resp, err := c.runAttempt(ctx, op, policy.Timeout)
		attemptElapsed := time.Since(attemptStart)
		c.stats.totalAttempts.Add(1)
		out.Attempts = attempt

		c.metrics.RecordHistogram(resilience.MetricAttemptDuration, c.tags(target), float64(attemptElapsed.Milliseconds()))

		if err == nil {
			c.health.RecordSuccess(vendor, attemptElapsed)
			c.metrics.IncrementCounter(resilience.MetricAttempts, c.resultTags(target, "success"), 1)
			if policy.CircuitBreakerEnabled {
				c.metrics.SetGauge(resilience.MetricCircuitOpen, map[string]string{"vendor": vendor}, 0)
			}
			if attempt > 1 {
				c.stats.successfulRetries.Add(1)
				c.logger.Info("request succeeded after retry",
					"attempt", attempt,
					"vendor", vendor,
					"model", target.ModelLabel)
			} else {
				c.stats.successfulFirstAttempts.Add(1)
			}
			out.Success = true
			out.Response = resp
			out.Elapsed = time.Since(start)
			return out
		}

		// Caller cancellation is not the vendor's fault.
		if ctx.Err() != nil && !errors.Is(err, llmerrors.ErrAttemptTimeout) {
			out.Category = llmerrors.CategoryFatalClient
			out.Reason = llmerrors.ReasonCanceled
			out.Err = err
			out.AllTimeouts = false
			out.Elapsed = time.Since(start)
			c.stats.failedExecutions.Add(1)
			return out
		}

		cl := classifier.Classify(err)
		if !llmerrors.IsLocalThrottle(err) {
			c.health.RecordFailure(vendor)
		}
		c.metrics.IncrementCounter(resilience.MetricAttempts, c.resultTags(target, string(cl.Category)), 1)
		out.Category, out.Reason, out.Err = cl.Category, cl.Reason, err
		out.AllTimeouts = out.AllTimeouts && cl.IsTimeout()

		if !cl.Category.Retryable() {
			c.logger.Debug("non-retryable error",
				"error", err,
				"category", cl.Category,
				"attempt", attempt,
				"vendor", vendor)
			break
		}
		if attempt == maxAttempts {
			break
		}

		backoff := c.Backoff(attempt, policy)
		c.stats.recordBackoff(backoff)
		c.metrics.RecordHistogram(resilience.MetricBackoff, map[string]string{"vendor": vendor}, float64(backoff.Milliseconds()))

		c.logger.Debug("retrying after backoff",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
			"reason", cl.Reason,
			"vendor", vendor)

		if err := wait(ctx, backoff); err != nil {
			out.Category = llmerrors.CategoryFatalClient
			out.Reason = llmerrors.ReasonCanceled
			out.Err = err
			out.AllTimeouts = false
			break
		}
	}

	c.stats.failedExecutions.Add(1)
	if policy.CircuitBreakerEnabled && out.Reason != llmerrors.ReasonCanceled {
		out.CircuitBreakTriggered = c.health.ShouldOpenCircuit(vendor, policy.CircuitBreakerThreshold)
		if out.CircuitBreakTriggered {
			c.metrics.SetGauge(resilience.MetricCircuitOpen, map[string]string{"vendor": vendor}, 1)
			c.logger.Warn("circuit breaker opened",
				"vendor", vendor,
				"model", target.ModelLabel,
				"last_error", out.Err)
		}
	}
	out.Elapsed = time.Since(start)
	return out
}

// runAttempt races op against a timer so a backend that ignores its context
// still yields a timeout.
func (c *Coordinator) runAttempt(ctx context.Context, op Operation, timeout time.Duration) (*transport.Response, error) {
	if timeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		resp *transport.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := op(attemptCtx)
		done <- result{resp: resp, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-timer.C:
		return nil, fmt.Errorf("%w after %v", llmerrors.ErrAttemptTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// reject records a circuit rejection without touching the health record.
func (c *Coordinator) reject(target Target, start time.Time, err error) Outcome {
	c.stats.circuitRejections.Add(1)
	c.metrics.IncrementCounter(resilience.MetricCircuitRejections, map[string]string{"vendor": target.VendorID}, 1)
	c.logger.Debug("circuit open, skipping vendor", "vendor", target.VendorID, "error", err)
	return Outcome{
		Category: llmerrors.CategoryCircuitOpen,
		Reason:   llmerrors.ReasonCircuit,
		Err:      err,
		Elapsed:  time.Since(start),
	}
}

func (c *Coordinator) tags(target Target) map[string]string {
	return map[string]string{
		"vendor":    target.VendorID,
		"model":     target.ModelLabel,
		"operation": target.OperationLabel,
	}
}

func (c *Coordinator) resultTags(target Target, result string) map[string]string {
	tags := c.tags(target)
	tags["result"] = result
	return tags
}

// wait sleeps for d unless ctx ends first.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
