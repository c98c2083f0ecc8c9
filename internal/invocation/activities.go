package invocation

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ahrav/go-invoker/internal/llm/invoke"
	"github.com/ahrav/go-invoker/pkg/activity"

	llmerrors "github.com/ahrav/go-invoker/internal/llm/errors"
)

// ActivityName is the registered name of InvokeModel.
const ActivityName = "InvokeModel"

// Invoker runs one logical invocation. *invoke.Orchestrator implements it.
type Invoker interface {
	Invoke(ctx context.Context, modelID string, payload json.RawMessage, opts invoke.Options) (*invoke.Result, error)
}

// Activities holds the invocation activity and its dependencies.
type Activities struct {
	activity.BaseActivities
	invoker  Invoker
	defaults invoke.Options
	events   *EventEmitter
}

// NewActivities creates the invocation activities. defaults supplies the
// fallback and retry settings the input does not override.
func NewActivities(base activity.BaseActivities, invoker Invoker, defaults invoke.Options) *Activities {
	a := &Activities{
		BaseActivities: base,
		invoker:        invoker,
		defaults:       defaults,
	}
	a.events = NewEventEmitter(&a.BaseActivities)
	return a
}

// InvokeModel runs one logical invocation through the orchestrator.
//
// Invalid input and misconfiguration fail without retry. Exhaustion is final
// and surfaces as ExhaustedTimeout or ExhaustedHard, except that a
// timeout-only exhaustion returns a zero-valued output with Fallback set when
// the input opts in through ZeroOnTimeout.
func (a *Activities) InvokeModel(ctx context.Context, input InvokeModelInput) (*InvokeModelOutput, error) {
	if err := input.Validate(); err != nil {
		return nil, nonRetryable(ErrTypeValidation, err, "invalid invoke input")
	}

	wfCtx := a.GetWorkflowContext(ctx)
	activity.SafeLog(ctx, "Invoking model",
		"model", input.ModelID,
		"workflow_id", wfCtx.WorkflowID,
		"attempt", wfCtx.Attempt)
	a.RecordHeartbeat(ctx, input.ModelID)

	res, err := a.invoker.Invoke(ctx, input.ModelID, input.Payload, input.options(a.defaults))
	if err != nil {
		return a.handleFailure(ctx, input, wfCtx, err)
	}

	out := outputFromResult(res)
	activity.SafeLog(ctx, "Invocation succeeded",
		"invocation_id", out.InvocationID,
		"vendor", out.VendorID,
		"attempts", out.Attempts)
	a.events.EmitCompleted(ctx, out, wfCtx)
	return out, nil
}

func (a *Activities) handleFailure(
	ctx context.Context,
	input InvokeModelInput,
	wfCtx activity.WorkflowContext,
	err error,
) (*InvokeModelOutput, error) {
	var invErr *llmerrors.InvocationError
	if !errors.As(err, &invErr) {
		activity.SafeLogError(ctx, "Invocation failed", "model", input.ModelID, "error", err)
		return nil, classify(err)
	}

	fallback := input.ZeroOnTimeout && invErr.Category == llmerrors.CategoryExhaustedTimeout
	a.events.EmitExhausted(ctx, invErr, fallback, wfCtx)

	if fallback {
		activity.SafeLog(ctx, "All vendors timed out, returning zero output",
			"invocation_id", invErr.InvocationID,
			"vendors_tried", invErr.VendorsTried)
		return &InvokeModelOutput{
			InvocationID: invErr.InvocationID,
			ModelID:      invErr.ModelID,
			VendorsTried: invErr.VendorsTried,
			Attempts:     invErr.Attempts,
			ElapsedMs:    invErr.TotalElapsedMs,
			Fallback:     true,
		}, nil
	}

	activity.SafeLogError(ctx, "Invocation failed",
		"invocation_id", invErr.InvocationID,
		"category", invErr.Category,
		"vendors_tried", invErr.VendorsTried,
		"error", err)
	return nil, classify(err)
}
