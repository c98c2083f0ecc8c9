package transport

import (
	"encoding/json"
	"time"

	"github.com/ahrav/go-invoker/internal/llm/catalog"
)

// OperationType labels the kind of work an invocation performs. It is opaque
// to the invocation layer and only used for logs and metrics.
type OperationType string

// OpInvoke is the default operation label.
const OpInvoke OperationType = "invoke"

// Request is one call to one vendor binding.
type Request struct {
	// InvocationID correlates every attempt of one logical invocation.
	InvocationID string `json:"invocation_id"`

	// ModelID is the name the caller asked for, logical or direct.
	ModelID string `json:"model_id"`

	// Operation is a free-form label for observability.
	Operation OperationType `json:"operation"`

	// Binding is the vendor binding this attempt targets.
	Binding catalog.VendorBinding `json:"binding"`

	// Payload is passed through to the backend untouched.
	Payload json.RawMessage `json:"payload"`

	// Timeout is the per-attempt deadline.
	Timeout time.Duration `json:"timeout"`

	// IdempotencyKey lets backends deduplicate retried attempts.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Response is the raw backend reply.
type Response struct {
	// VendorID is the binding that produced the reply.
	VendorID string `json:"vendor_id"`

	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`

	// ProviderRequestID enables cross-system correlation when the backend
	// returns one.
	ProviderRequestID string `json:"provider_request_id,omitempty"`

	LatencyMs int64 `json:"latency_ms"`
}
