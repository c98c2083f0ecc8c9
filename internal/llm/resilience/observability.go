// Package resilience provides the observability side of the invocation
// layer: a metrics abstraction with no-op and Prometheus implementations and
// a logging middleware for the backend caller pipeline.
package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-invoker/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-invoker/internal/llm/errors"
	"github.com/ahrav/go-invoker/internal/llm/transport"
)

// Logging constants define limits and settings for observability.
const (
	// ContentTruncationLimit is the maximum number of response bytes included
	// in logs before truncating.
	ContentTruncationLimit = 200
)

// Metric names emitted by the invocation layer. Dots become underscores in
// the Prometheus exposition.
const (
	MetricRequests          = "llm.requests.total"
	MetricRequestErrors     = "llm.requests.errors"
	MetricRequestSuccess    = "llm.requests.success"
	MetricRequestDuration   = "llm.request.duration_ms"
	MetricAttempts          = "invoke.attempts.total"
	MetricAttemptDuration   = "invoke.attempt.duration_ms"
	MetricBackoff           = "invoke.backoff.ms"
	MetricCircuitOpen       = "invoke.circuit.open"
	MetricCircuitRejections = "invoke.circuit.rejections"
	MetricInvocations       = "invoke.invocations.total"
	MetricFailovers         = "invoke.failovers.total"
	MetricRateLimited       = "ratelimit.denied.total"
)

// Metrics collects observability data with tag-based dimensionality.
type Metrics interface {
	// IncrementCounter increases a counter metric by a given value.
	IncrementCounter(name string, tags map[string]string, value float64)
	// RecordHistogram records a value in a histogram metric.
	RecordHistogram(name string, tags map[string]string, value float64)
	// SetGauge sets a gauge metric to a specific value.
	SetGauge(name string, tags map[string]string, value float64)
}

// NoOpMetrics discards everything. It is the default when metrics are
// disabled.
type NoOpMetrics struct{}

// NewNoOpMetrics returns a new no-op metrics collector.
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

// IncrementCounter is a no-op.
func (n *NoOpMetrics) IncrementCounter(_ string, _ map[string]string, _ float64) {}

// RecordHistogram is a no-op.
func (n *NoOpMetrics) RecordHistogram(_ string, _ map[string]string, _ float64) {}

// SetGauge is a no-op.
func (n *NoOpMetrics) SetGauge(_ string, _ map[string]string, _ float64) {}

// LoggingMiddleware logs and measures every backend call.
type LoggingMiddleware struct {
	logger         *slog.Logger
	metrics        Metrics
	redactPayloads bool
}

// NewLoggingMiddleware creates a transport.Middleware for observability.
// Nil logger and metrics fall back to defaults.
func NewLoggingMiddleware(config configuration.ObservabilityConfig, logger *slog.Logger, metrics Metrics) transport.Middleware {
	if logger == nil {
		logger = slog.Default().With("component", "caller")
	}
	if metrics == nil {
		metrics = NewNoOpMetrics()
	}

	lm := &LoggingMiddleware{
		logger:         logger,
		metrics:        metrics,
		redactPayloads: config.RedactPayloads,
	}
	return lm.Middleware()
}

// Middleware wraps a handler with request and completion logging, latency
// measurement and error classification.
func (m *LoggingMiddleware) Middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			requestID := req.InvocationID
			if requestID == "" {
				requestID = uuid.New().String()
			}

			baseTags := map[string]string{
				"vendor":    req.Binding.ID,
				"model":     req.ModelID,
				"operation": string(req.Operation),
			}

			m.logRequest(req, requestID)
			m.metrics.IncrementCounter(MetricRequests, baseTags, 1)

			start := time.Now()
			resp, err := next.Handle(ctx, req)
			duration := time.Since(start)

			m.metrics.RecordHistogram(MetricRequestDuration, baseTags, float64(duration.Milliseconds()))

			if err != nil {
				m.handleError(req, err, requestID, duration, baseTags)
			} else if resp != nil {
				m.handleSuccess(req, resp, requestID, duration, baseTags)
			}

			return resp, err
		})
	}
}

func (m *LoggingMiddleware) logRequest(req *transport.Request, requestID string) {
	fields := []any{
		"request_id", requestID,
		"vendor", req.Binding.ID,
		"vendor_name", req.Binding.VendorName,
		"model", req.ModelID,
		"operation", req.Operation,
		"timeout_seconds", req.Timeout.Seconds(),
	}

	if m.redactPayloads {
		fields = append(fields, "payload_length", len(req.Payload))
	} else {
		fields = append(fields, "payload", truncate(string(req.Payload)))
	}

	m.logger.Debug("vendor request started", fields...)
}

func (m *LoggingMiddleware) handleError(
	req *transport.Request,
	err error,
	requestID string,
	duration time.Duration,
	baseTags map[string]string,
) {
	cl := llmerrors.Classify(err)

	errorTags := copyTags(baseTags)
	errorTags["error_category"] = string(cl.Category)
	m.metrics.IncrementCounter(MetricRequestErrors, errorTags, 1)

	m.logger.Warn("vendor request failed",
		"request_id", requestID,
		"vendor", req.Binding.ID,
		"model", req.ModelID,
		"operation", req.Operation,
		"duration_ms", duration.Milliseconds(),
		"error_category", cl.Category,
		"error_reason", cl.Reason,
		"error", err.Error())
}

func (m *LoggingMiddleware) handleSuccess(
	req *transport.Request,
	resp *transport.Response,
	requestID string,
	duration time.Duration,
	baseTags map[string]string,
) {
	m.metrics.IncrementCounter(MetricRequestSuccess, baseTags, 1)

	fields := []any{
		"request_id", requestID,
		"vendor", req.Binding.ID,
		"model", req.ModelID,
		"operation", req.Operation,
		"duration_ms", duration.Milliseconds(),
		"status_code", resp.StatusCode,
		"provider_request_id", resp.ProviderRequestID,
	}

	if m.redactPayloads {
		fields = append(fields, "response_length", len(resp.Body))
	} else {
		fields = append(fields, "response_preview", truncate(string(resp.Body)))
	}

	m.logger.Info("vendor request completed", fields...)
}

func truncate(s string) string {
	if len(s) > ContentTruncationLimit {
		return s[:ContentTruncationLimit] + "..."
	}
	return s
}

// copyTags creates a copy of a metric tag map so tag sets never alias.
func copyTags(original map[string]string) map[string]string {
	tagsCopy := make(map[string]string, len(original))
	for k, v := range original {
		tagsCopy[k] = v
	}
	return tagsCopy
}
