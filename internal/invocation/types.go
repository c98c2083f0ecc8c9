// Package invocation exposes the multi-vendor orchestrator as a Temporal
// activity. It validates input, runs one logical invocation, emits
// completion events, and maps invocation failures onto Temporal application
// errors with explicit retry semantics.
package invocation

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-invoker/internal/llm/invoke"
	"github.com/ahrav/go-invoker/internal/llm/transport"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// InvokeModelInput is the activity input.
type InvokeModelInput struct {
	// ModelID is a logical model name or a single vendor binding id.
	ModelID string `json:"model_id" validate:"required"`
	// Payload is forwarded verbatim to the vendor.
	Payload json.RawMessage `json:"payload,omitempty"`

	PreferVendor string `json:"prefer_vendor,omitempty"`
	// DisableFallback restricts the invocation to a single vendor.
	DisableFallback bool `json:"disable_fallback,omitempty"`
	// MaxRetries overrides the configured number of additional vendors.
	MaxRetries *int `json:"max_retries,omitempty" validate:"omitempty,gte=0,lte=32"`
	FreshStart bool `json:"fresh_start,omitempty"`
	Operation  string `json:"operation,omitempty" validate:"omitempty,max=64"`

	// ZeroOnTimeout opts into a zero-valued output with Fallback set when
	// every tried vendor timed out. Hard exhaustion still fails.
	ZeroOnTimeout bool `json:"zero_on_timeout,omitempty"`
}

// Validate checks the struct tags and that a non-empty payload is JSON.
func (in InvokeModelInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("invalid invoke input: %w", err)
	}
	if len(in.Payload) > 0 && !json.Valid(in.Payload) {
		return fmt.Errorf("invalid invoke input: payload is not valid JSON")
	}
	return nil
}

// options merges the input overrides onto defaults.
func (in InvokeModelInput) options(defaults invoke.Options) invoke.Options {
	opts := defaults
	opts.PreferVendor = in.PreferVendor
	opts.FreshStart = in.FreshStart
	if in.DisableFallback {
		opts.FallbackEnabled = false
	}
	if in.MaxRetries != nil {
		opts.MaxRetries = *in.MaxRetries
	}
	if in.Operation != "" {
		opts.Operation = transport.OperationType(in.Operation)
	}
	return opts
}

// InvokeModelOutput is the activity result.
type InvokeModelOutput struct {
	InvocationID string          `json:"invocation_id"`
	ModelID      string          `json:"model_id"`
	VendorID     string          `json:"vendor_id"`
	VendorsTried []string        `json:"vendors_tried"`
	Attempts     int             `json:"attempts"`
	ElapsedMs    int64           `json:"elapsed_ms"`
	StatusCode   int             `json:"status_code,omitempty"`
	Body         json.RawMessage `json:"body,omitempty"`

	// Fallback is set only when ZeroOnTimeout converted a timeout-only
	// exhaustion into this zero-valued output.
	Fallback bool `json:"fallback,omitempty"`
}

func outputFromResult(res *invoke.Result) *InvokeModelOutput {
	out := &InvokeModelOutput{
		InvocationID: res.InvocationID,
		ModelID:      res.ModelID,
		VendorID:     res.VendorID,
		VendorsTried: res.VendorsTried,
		Attempts:     res.Attempts,
		ElapsedMs:    res.ElapsedMs,
	}
	if res.Response != nil {
		out.StatusCode = res.Response.StatusCode
		out.Body = res.Response.Body
	}
	return out
}
