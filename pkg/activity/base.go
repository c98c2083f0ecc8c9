// Package activity provides the shared plumbing for Temporal activity
// implementations: workflow context extraction, best-effort event emission,
// and logging helpers that stay safe outside an activity context.
package activity

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/ahrav/go-invoker/pkg/events"
)

const (
	defaultEmitAttempts = 2
	defaultEmitDelay    = 200 * time.Millisecond

	// Placeholder identifiers used when no activity info is available.
	fallbackWorkflowID = "local"
	fallbackRunID      = "local-run"
	fallbackActivityID = "local-activity"
)

// WorkflowContext carries the Temporal execution identifiers of the running
// activity.
type WorkflowContext struct {
	WorkflowID string
	RunID      string
	ActivityID string
	Attempt    int32
}

// BaseActivities is embedded by activity structs for event emission and
// context helpers.
type BaseActivities struct {
	eventSink    events.EventSink
	emitAttempts int
	emitDelay    time.Duration
}

// Option configures BaseActivities.
type Option func(*BaseActivities)

// WithEmitRetry overrides how many times an event append is attempted and the
// delay between attempts.
func WithEmitRetry(attempts int, delay time.Duration) Option {
	return func(b *BaseActivities) {
		if attempts > 0 {
			b.emitAttempts = attempts
		}
		if delay >= 0 {
			b.emitDelay = delay
		}
	}
}

// NewBaseActivities creates a BaseActivities. A nil sink disables emission.
func NewBaseActivities(sink events.EventSink, opts ...Option) BaseActivities {
	b := BaseActivities{
		eventSink:    sink,
		emitAttempts: defaultEmitAttempts,
		emitDelay:    defaultEmitDelay,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// GetWorkflowContext extracts execution identifiers from ctx. Outside a
// Temporal activity (activity.GetInfo panics there) it returns fixed local
// placeholders.
func (b *BaseActivities) GetWorkflowContext(ctx context.Context) WorkflowContext {
	wfCtx := WorkflowContext{
		WorkflowID: fallbackWorkflowID,
		RunID:      fallbackRunID,
		ActivityID: fallbackActivityID,
		Attempt:    1,
	}

	func() {
		defer func() { _ = recover() }()

		info := activity.GetInfo(ctx)
		wfCtx.WorkflowID = info.WorkflowExecution.ID
		wfCtx.RunID = info.WorkflowExecution.RunID
		wfCtx.ActivityID = info.ActivityID
		wfCtx.Attempt = info.Attempt
	}()

	return wfCtx
}

// EmitEventSafe appends envelope to the sink, retrying briefly on failure.
// Errors are logged and never returned.
func (b *BaseActivities) EmitEventSafe(ctx context.Context, envelope events.Envelope, description string) {
	if b.eventSink == nil {
		return
	}

	attempts := b.emitAttempts
	if attempts < 1 {
		attempts = defaultEmitAttempts
	}

	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			timer := time.NewTimer(b.emitDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				SafeLogError(ctx, fmt.Sprintf("Event emission cancelled: %s", description),
					"event_type", envelope.Type)
				return
			}
		}

		if err := b.eventSink.Append(ctx, envelope); err != nil {
			lastErr = err
			continue
		}

		SafeLog(ctx, fmt.Sprintf("Event emitted: %s", description),
			"event_type", envelope.Type,
			"idempotency_key", envelope.IdempotencyKey)
		return
	}

	SafeLogError(ctx, fmt.Sprintf("Failed to emit %s after %d attempts", description, attempts),
		"event_type", envelope.Type,
		"error", lastErr)
}

// RecordHeartbeat records a heartbeat when running inside an activity.
func (b *BaseActivities) RecordHeartbeat(ctx context.Context, details ...any) {
	RecordHeartbeat(ctx, details...)
}

// SafeLog logs at info level through the activity logger. It is a no-op
// outside an activity context.
func SafeLog(ctx context.Context, msg string, keyvals ...any) {
	defer func() { _ = recover() }()
	activity.GetLogger(ctx).Info(msg, keyvals...)
}

// SafeLogError is SafeLog at error level.
func SafeLogError(ctx context.Context, msg string, keyvals ...any) {
	defer func() { _ = recover() }()
	activity.GetLogger(ctx).Error(msg, keyvals...)
}

// RecordHeartbeat is the package-level form of BaseActivities.RecordHeartbeat.
func RecordHeartbeat(ctx context.Context, details ...any) {
	defer func() { _ = recover() }()
	activity.RecordHeartbeat(ctx, details...)
}
