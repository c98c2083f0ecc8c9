package invocation

import (
	"context"

	"github.com/ahrav/go-invoker/pkg/activity"
	"github.com/ahrav/go-invoker/pkg/events"

	llmerrors "github.com/ahrav/go-invoker/internal/llm/errors"
)

// Event types emitted by InvokeModel.
const (
	EventCompleted = "invocation.completed"
	EventExhausted = "invocation.exhausted"

	eventSource = "invocation-activity"
)

type completedEvent struct {
	ModelID      string   `json:"model_id"`
	VendorID     string   `json:"vendor_id"`
	VendorsTried []string `json:"vendors_tried"`
	Attempts     int      `json:"attempts"`
	ElapsedMs    int64    `json:"elapsed_ms"`
	StatusCode   int      `json:"status_code,omitempty"`
}

type exhaustedEvent struct {
	*llmerrors.InvocationError
	// Fallback reports whether the caller received a zero-valued output.
	Fallback bool `json:"fallback"`
}

// EventEmitter publishes invocation events through BaseActivities.
type EventEmitter struct {
	base *activity.BaseActivities
}

// NewEventEmitter creates an EventEmitter.
func NewEventEmitter(base *activity.BaseActivities) *EventEmitter {
	return &EventEmitter{base: base}
}

// EmitCompleted publishes invocation.completed.
func (e *EventEmitter) EmitCompleted(ctx context.Context, out *InvokeModelOutput, wfCtx activity.WorkflowContext) {
	e.emit(ctx, EventCompleted, out.InvocationID, wfCtx, completedEvent{
		ModelID:      out.ModelID,
		VendorID:     out.VendorID,
		VendorsTried: out.VendorsTried,
		Attempts:     out.Attempts,
		ElapsedMs:    out.ElapsedMs,
		StatusCode:   out.StatusCode,
	})
}

// EmitExhausted publishes invocation.exhausted with the failure payload.
func (e *EventEmitter) EmitExhausted(ctx context.Context, invErr *llmerrors.InvocationError, fallback bool, wfCtx activity.WorkflowContext) {
	e.emit(ctx, EventExhausted, invErr.InvocationID, wfCtx, exhaustedEvent{InvocationError: invErr, Fallback: fallback})
}

func (e *EventEmitter) emit(ctx context.Context, eventType, key string, wfCtx activity.WorkflowContext, payload any) {
	envelope, err := events.NewEnvelope(eventType, eventSource, key, payload)
	if err != nil {
		activity.SafeLogError(ctx, "Failed to build event", "event_type", eventType, "error", err)
		return
	}
	envelope.WorkflowID = wfCtx.WorkflowID
	envelope.RunID = wfCtx.RunID
	e.base.EmitEventSafe(ctx, envelope, eventType)
}
