package invoke

import (
	"github.com/ahrav/go-invoker/internal/llm/configuration"
	"github.com/ahrav/go-invoker/internal/llm/retry"
	"github.com/ahrav/go-invoker/internal/llm/transport"
)

// Options tune a single invocation.
type Options struct {
	// PreferVendor is a binding id or vendor name tried first when eligible.
	PreferVendor string `json:"prefer_vendor,omitempty"`
	// FallbackEnabled allows moving on to other vendors after a failure.
	FallbackEnabled bool `json:"fallback_enabled"`
	// MaxRetries bounds the number of additional vendors tried.
	MaxRetries int `json:"max_retries"`
	// FreshStart clears the health telemetry of the model's bindings first.
	FreshStart bool `json:"fresh_start"`
	// Operation labels logs and metrics; defaults to transport.OpInvoke.
	Operation transport.OperationType `json:"operation,omitempty"`
}

// DefaultOptions returns fallback enabled with two extra vendors.
func DefaultOptions() Options {
	return Options{
		FallbackEnabled: true,
		MaxRetries:      configuration.DefaultMaxRetries,
	}
}

// OptionsFromConfig converts configured invocation defaults.
func OptionsFromConfig(cfg configuration.InvokeDefaults) Options {
	return Options{
		FallbackEnabled: cfg.FallbackEnabled,
		MaxRetries:      cfg.MaxRetries,
	}
}

// candidateBudget is the maximum number of distinct vendors one invocation
// may try.
func (o Options) candidateBudget() int {
	if !o.FallbackEnabled {
		return 1
	}
	return max(o.MaxRetries, 0) + 1
}

// Result is a successful invocation.
type Result struct {
	InvocationID string `json:"invocation_id"`
	ModelID      string `json:"model_id"`
	// VendorID is the binding that produced the response.
	VendorID     string              `json:"vendor_id"`
	VendorsTried []string            `json:"vendors_tried"`
	Attempts     int                 `json:"attempts"`
	ElapsedMs    int64               `json:"elapsed_ms"`
	Response     *transport.Response `json:"response"`
	// Outcome is the coordinator result for the successful vendor.
	Outcome retry.Outcome `json:"-"`
}
