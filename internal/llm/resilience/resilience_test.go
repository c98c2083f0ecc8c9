package resilience_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-invoker/internal/llm/catalog"
	"github.com/ahrav/go-invoker/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-invoker/internal/llm/errors"
	"github.com/ahrav/go-invoker/internal/llm/resilience"
	"github.com/ahrav/go-invoker/internal/llm/transport"
)

// recordingMetrics captures counter increments by name.
type recordingMetrics struct {
	resilience.NoOpMetrics
	counters map[string][]map[string]string
}

func (r *recordingMetrics) IncrementCounter(name string, tags map[string]string, _ float64) {
	if r.counters == nil {
		r.counters = make(map[string][]map[string]string)
	}
	r.counters[name] = append(r.counters[name], tags)
}

func newReq() *transport.Request {
	return &transport.Request{
		InvocationID: "inv-1",
		ModelID:      "chat",
		Operation:    transport.OpInvoke,
		Binding:      catalog.VendorBinding{ID: "chat-a", VendorName: "acme"},
		Payload:      json.RawMessage(`{"secret":"hunter2"}`),
	}
}

func TestLoggingMiddleware_Success(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	metrics := &recordingMetrics{}

	mw := resilience.NewLoggingMiddleware(configuration.ObservabilityConfig{RedactPayloads: true}, logger, metrics)
	h := mw(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		return &transport.Response{VendorID: "chat-a", StatusCode: 200, Body: json.RawMessage(`{"ok":true}`)}, nil
	}))

	_, err := h.Handle(context.Background(), newReq())
	require.NoError(t, err)

	assert.Len(t, metrics.counters[resilience.MetricRequests], 1)
	assert.Len(t, metrics.counters[resilience.MetricRequestSuccess], 1)
	assert.Equal(t, "chat-a", metrics.counters[resilience.MetricRequests][0]["vendor"])
	assert.NotContains(t, buf.String(), "hunter2", "payload must be redacted")
	assert.Contains(t, buf.String(), "payload_length")
	assert.Contains(t, buf.String(), "vendor request completed")
}

func TestLoggingMiddleware_Error(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	metrics := &recordingMetrics{}

	mw := resilience.NewLoggingMiddleware(configuration.ObservabilityConfig{}, logger, metrics)
	h := mw(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		return nil, &llmerrors.ProviderError{Vendor: "chat-a", StatusCode: 503, Message: "down"}
	}))

	_, err := h.Handle(context.Background(), newReq())
	require.Error(t, err)

	errs := metrics.counters[resilience.MetricRequestErrors]
	require.Len(t, errs, 1)
	assert.Equal(t, string(llmerrors.CategoryTransient), errs[0]["error_category"])
	assert.Contains(t, buf.String(), "vendor request failed")
}

func TestLoggingMiddleware_NilDependencies(t *testing.T) {
	mw := resilience.NewLoggingMiddleware(configuration.ObservabilityConfig{}, nil, nil)
	h := mw(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		return nil, errors.New("boom")
	}))
	_, err := h.Handle(context.Background(), newReq())
	require.EqualError(t, err, "boom")
}

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := resilience.NewPrometheusMetrics(reg)

	m.IncrementCounter(resilience.MetricAttempts, map[string]string{
		"vendor": "chat-a", "model": "chat", "operation": "invoke", "result": "success",
	}, 1)
	m.IncrementCounter(resilience.MetricAttempts, map[string]string{
		"vendor": "chat-a", "model": "chat", "operation": "invoke", "result": "success",
	}, 1)
	m.SetGauge(resilience.MetricCircuitOpen, map[string]string{"vendor": "chat-b"}, 1)
	m.RecordHistogram(resilience.MetricBackoff, map[string]string{"vendor": "chat-a"}, 120)
	m.IncrementCounter("not.registered", nil, 1)

	expected := `
# HELP invoker_invoke_attempts_total Coordinator attempts by result
# TYPE invoker_invoke_attempts_total counter
invoker_invoke_attempts_total{model="chat",operation="invoke",result="success",vendor="chat-a"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "invoker_invoke_attempts_total"))

	expected = `
# HELP invoker_invoke_circuit_open 1 while the vendor circuit is open
# TYPE invoker_invoke_circuit_open gauge
invoker_invoke_circuit_open{vendor="chat-b"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "invoker_invoke_circuit_open"))

	count, err := testutil.GatherAndCount(reg, "invoker_invoke_backoff_ms")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
