// Package events provides the event envelope emitted by invocation activities
// and the EventSink abstraction that receives them.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps an event payload with routing and correlation metadata.
type Envelope struct {
	// ID uniquely identifies this event instance.
	ID string `json:"id"`

	// Type routes the event, for example "invocation.completed".
	Type string `json:"type"`

	// Source names the emitting component, for example "invocation-activity".
	Source string `json:"source"`

	// Version of the payload schema.
	Version string `json:"version"`

	Timestamp time.Time `json:"timestamp"`

	// IdempotencyKey is stable across activity retries so sinks can drop
	// duplicates.
	IdempotencyKey string `json:"idempotency_key"`

	// InvocationID correlates the event with orchestrator logs.
	InvocationID string `json:"invocation_id,omitempty"`

	WorkflowID string `json:"workflow_id,omitempty"`
	RunID      string `json:"run_id,omitempty"`

	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload and fills the generated fields. The
// idempotency key defaults to "<type>:<invocationID>".
func NewEnvelope(eventType, source, invocationID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:             uuid.NewString(),
		Type:           eventType,
		Source:         source,
		Version:        "1.0.0",
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: eventType + ":" + invocationID,
		InvocationID:   invocationID,
		Payload:        raw,
	}, nil
}

// EventSink receives emitted events. Implementations should treat a repeated
// IdempotencyKey as a no-op and return quickly; callers never fail their
// primary operation because of a sink error.
type EventSink interface {
	Append(ctx context.Context, envelope Envelope) error
}

// NoOpEventSink discards every event.
type NoOpEventSink struct{}

// Append implements EventSink.
func (n *NoOpEventSink) Append(_ context.Context, _ Envelope) error {
	return nil
}

// NewNoOpEventSink creates a sink that discards events.
func NewNoOpEventSink() EventSink {
	return &NoOpEventSink{}
}
