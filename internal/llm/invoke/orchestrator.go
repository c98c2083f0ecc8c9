// Package invoke implements the invocation orchestrator: the entry point
// that resolves a model name, drives failover across vendor bindings and
// classifies the final outcome.
package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-invoker/internal/llm/catalog"
	"github.com/ahrav/go-invoker/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-invoker/internal/llm/errors"
	"github.com/ahrav/go-invoker/internal/llm/health"
	"github.com/ahrav/go-invoker/internal/llm/resilience"
	"github.com/ahrav/go-invoker/internal/llm/retry"
	"github.com/ahrav/go-invoker/internal/llm/selector"
	"github.com/ahrav/go-invoker/internal/llm/transport"
)

// Orchestrator resolves model names and runs the failover loop.
// It holds no per-invocation state and is safe for concurrent use.
type Orchestrator struct {
	catalog     catalog.Catalog
	selector    *selector.Selector
	coordinator *retry.Coordinator
	caller      transport.Handler
	policy      configuration.RetryPolicy
	metrics     resilience.Metrics
	logger      *slog.Logger
	newID       func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics sets the metrics sink.
func WithMetrics(m resilience.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger overrides the component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithIDGenerator overrides invocation id generation.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// New wires an orchestrator. The selector and coordinator must share the
// same health registry.
func New(
	cat catalog.Catalog,
	sel *selector.Selector,
	coord *retry.Coordinator,
	caller transport.Handler,
	policy configuration.RetryPolicy,
	opts ...Option,
) (*Orchestrator, error) {
	if err := retry.ValidatePolicy(policy); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		catalog:     cat,
		selector:    sel,
		coordinator: coord,
		caller:      caller,
		policy:      policy,
		metrics:     resilience.NewNoOpMetrics(),
		logger:      slog.Default().With("component", "invoke"),
		newID:       func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// invocation is the state of one logical invocation.
type invocation struct {
	id        string
	modelID   string
	payload   json.RawMessage
	operation transport.OperationType
	start     time.Time
	logger    *slog.Logger

	exclude      selector.ExcludeSet
	vendorsTried []string
	attempts     int
	allTimeouts  bool
	last         retry.Outcome
}

// Invoke runs modelID with payload.
//
// A logical model name fails over across its bindings: each candidate is
// chosen by the selector, excluded from further selection and executed by
// the retry coordinator. At most MaxRetries+1 vendors are tried, or one when
// fallback is disabled. A binding id with no logical grouping goes straight
// to the coordinator. Failures return *errors.InvocationError; a run where
// every tried vendor timed out is ExhaustedTimeout, anything else is
// ExhaustedHard. No fallback value is ever substituted here.
func (o *Orchestrator) Invoke(ctx context.Context, modelID string, payload json.RawMessage, opts Options) (*Result, error) {
	inv := &invocation{
		id:           o.newID(),
		modelID:      modelID,
		payload:      payload,
		operation:    opts.Operation,
		start:        time.Now(),
		exclude:      selector.ExcludeSet{},
		vendorsTried: []string{},
		allTimeouts:  true,
	}
	if inv.operation == "" {
		inv.operation = transport.OpInvoke
	}
	inv.logger = o.logger.With("invocation_id", inv.id, "model", modelID)

	bindings := o.catalog.ListBindings(modelID)
	if len(bindings) == 0 {
		b, ok := o.catalog.Lookup(modelID)
		if !ok {
			o.metrics.IncrementCounter(resilience.MetricInvocations, map[string]string{"model": modelID, "result": "unknown_model"}, 1)
			return nil, fmt.Errorf("%w: %s", llmerrors.ErrUnknownModel, modelID)
		}
		return o.invokeDirect(ctx, inv, b)
	}

	if opts.FreshStart {
		ids := make([]string, len(bindings))
		for i, b := range bindings {
			ids[i] = b.ID
		}
		o.coordinator.Health().Reset(ids...)
	}

	budget := opts.candidateBudget()
	for len(inv.vendorsTried) < budget {
		binding, ok := o.next(inv, opts)
		if !ok {
			inv.logger.Debug("no eligible candidates remain", "tried", inv.vendorsTried)
			break
		}
		inv.exclude.Add(binding.ID)
		inv.vendorsTried = append(inv.vendorsTried, binding.ID)
		if len(inv.vendorsTried) > 1 {
			o.metrics.IncrementCounter(resilience.MetricFailovers, map[string]string{"model": modelID}, 1)
		}

		out := o.execute(ctx, inv, binding)
		inv.attempts += out.Attempts
		inv.last = out

		if out.Success {
			return o.succeed(inv, binding, out), nil
		}

		inv.allTimeouts = inv.allTimeouts && out.TimedOut()
		inv.logger.Info("vendor failed",
			"vendor", binding.ID,
			"category", out.Category,
			"reason", out.Reason,
			"attempts", out.Attempts,
			"circuit_opened", out.CircuitBreakTriggered)

		if out.Reason == llmerrors.ReasonCanceled {
			break
		}
	}

	return nil, o.exhausted(inv)
}

// next picks the preferred vendor on the first selection when it is
// eligible, otherwise the strategy's best candidate.
func (o *Orchestrator) next(inv *invocation, opts Options) (catalog.VendorBinding, bool) {
	if len(inv.vendorsTried) == 0 && opts.PreferVendor != "" {
		if b, ok := o.selector.SelectPreferred(inv.modelID, opts.PreferVendor, inv.exclude); ok {
			return b, true
		}
		inv.logger.Debug("preferred vendor not eligible", "prefer_vendor", opts.PreferVendor)
	}
	return o.selector.SelectCandidate(inv.modelID, inv.exclude)
}

// execute runs one vendor through the coordinator, tracking in-flight load.
func (o *Orchestrator) execute(ctx context.Context, inv *invocation, binding catalog.VendorBinding) retry.Outcome {
	release := o.selector.Load().Acquire(binding.ID)
	defer release()

	op := func(attemptCtx context.Context) (*transport.Response, error) {
		return o.caller.Handle(attemptCtx, &transport.Request{
			InvocationID: inv.id,
			ModelID:      inv.modelID,
			Operation:    inv.operation,
			Binding:      binding,
			Payload:      inv.payload,
			Timeout:      o.policy.Timeout,
		})
	}

	target := retry.Target{
		VendorID:       binding.ID,
		ModelLabel:     inv.modelID,
		OperationLabel: string(inv.operation),
	}
	return o.coordinator.ExecuteWithRetry(ctx, op, target, o.policy)
}

// invokeDirect serves a binding addressed by its own id.
func (o *Orchestrator) invokeDirect(ctx context.Context, inv *invocation, binding catalog.VendorBinding) (*Result, error) {
	inv.vendorsTried = []string{binding.ID}
	out := o.execute(ctx, inv, binding)
	inv.attempts = out.Attempts
	inv.last = out

	if out.Success {
		return o.succeed(inv, binding, out), nil
	}

	o.metrics.IncrementCounter(resilience.MetricInvocations, map[string]string{"model": inv.modelID, "result": string(out.Category)}, 1)
	inv.logger.Warn("direct invocation failed",
		"vendor", binding.ID,
		"category", out.Category,
		"attempts", out.Attempts)

	return nil, &llmerrors.InvocationError{
		InvocationID:      inv.id,
		Category:          out.Category,
		ModelID:           inv.modelID,
		Attempts:          out.Attempts,
		VendorsTried:      inv.vendorsTried,
		LastErrorCategory: out.Category,
		TotalElapsedMs:    time.Since(inv.start).Milliseconds(),
		Cause:             out.Err,
	}
}

func (o *Orchestrator) succeed(inv *invocation, binding catalog.VendorBinding, out retry.Outcome) *Result {
	elapsed := time.Since(inv.start)
	o.metrics.IncrementCounter(resilience.MetricInvocations, map[string]string{"model": inv.modelID, "result": "success"}, 1)
	inv.logger.Info("invocation succeeded",
		"vendor", binding.ID,
		"vendors_tried", inv.vendorsTried,
		"attempts", inv.attempts,
		"elapsed_ms", elapsed.Milliseconds())

	return &Result{
		InvocationID: inv.id,
		ModelID:      inv.modelID,
		VendorID:     binding.ID,
		VendorsTried: inv.vendorsTried,
		Attempts:     inv.attempts,
		ElapsedMs:    elapsed.Milliseconds(),
		Response:     out.Response,
		Outcome:      out,
	}
}

// exhausted classifies a failed failover run. An empty run, where no
// candidate was ever eligible, is hard.
func (o *Orchestrator) exhausted(inv *invocation) error {
	category := llmerrors.CategoryExhaustedHard
	if len(inv.vendorsTried) > 0 && inv.allTimeouts {
		category = llmerrors.CategoryExhaustedTimeout
	}

	cause := inv.last.Err
	if len(inv.vendorsTried) == 0 {
		cause = llmerrors.ErrNoCandidates
	}

	o.metrics.IncrementCounter(resilience.MetricInvocations, map[string]string{"model": inv.modelID, "result": string(category)}, 1)
	elapsed := time.Since(inv.start)
	inv.logger.Warn("invocation exhausted",
		"category", category,
		"vendors_tried", inv.vendorsTried,
		"attempts", inv.attempts,
		"last_error_category", inv.last.Category,
		"elapsed_ms", elapsed.Milliseconds())

	return &llmerrors.InvocationError{
		InvocationID:      inv.id,
		Category:          category,
		ModelID:           inv.modelID,
		Attempts:          inv.attempts,
		VendorsTried:      inv.vendorsTried,
		LastErrorCategory: inv.last.Category,
		TotalElapsedMs:    elapsed.Milliseconds(),
		Cause:             cause,
	}
}

// HealthReport returns the telemetry of every vendor seen so far.
func (o *Orchestrator) HealthReport() []health.Snapshot {
	return o.coordinator.Health().Report()
}

// ResetHealth clears telemetry for the given bindings, or all when none are
// named.
func (o *Orchestrator) ResetHealth(ids ...string) {
	o.coordinator.Health().Reset(ids...)
}
