// Package transport defines the backend caller contract as a composable
// Handler/Middleware pipeline and ships a generic JSON-over-HTTP caller.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	llmerrors "github.com/ahrav/go-invoker/internal/llm/errors"
)

// maxBodyBytes bounds how much of a backend reply is read.
const maxBodyBytes = 10 << 20

// maxErrorMessage bounds the backend error text kept in a ProviderError.
const maxErrorMessage = 512

// Handler processes vendor requests through a composable middleware pipeline.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, *Request) (*Response, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware transforms a Handler into an enhanced Handler.
type Middleware func(Handler) Handler

// Chain builds a middleware pipeline around a core handler.
// The first middleware is outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// NewHTTPHandler creates the core handler that POSTs the payload to the
// binding's endpoint.
func NewHTTPHandler(client *http.Client) Handler {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpHandler{
		client: client,
		logger: slog.Default().With("component", "http_caller"),
	}
}

// httpHandler is the core handler that makes actual HTTP requests.
type httpHandler struct {
	client *http.Client
	logger *slog.Logger
}

// Handle implements Handler by making an HTTP request to the vendor.
func (h *httpHandler) Handle(ctx context.Context, req *Request) (*Response, error) {
	binding := req.Binding
	if binding.Endpoint == "" {
		return nil, &llmerrors.ValidationError{Field: "endpoint", Message: "binding " + binding.ID + " has no endpoint"}
	}

	var token string
	if binding.APIKeyEnv != "" {
		token = os.Getenv(binding.APIKeyEnv)
		if token == "" {
			return nil, &llmerrors.AuthError{Vendor: binding.ID, Message: binding.APIKeyEnv + " is not set"}
		}
	}

	reqCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, binding.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &llmerrors.ValidationError{Field: "endpoint", Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}
	if req.InvocationID != "" {
		httpReq.Header.Set("X-Request-ID", req.InvocationID)
	}

	start := time.Now()
	httpResp, err := h.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil {
			h.logger.Debug("failed to close response body", "error", closeErr, "vendor", binding.ID)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &llmerrors.ProviderError{
			Vendor:     binding.ID,
			StatusCode: httpResp.StatusCode,
			Message:    truncate(string(body), maxErrorMessage),
			RetryAfter: parseRetryAfter(httpResp.Header.Get("Retry-After")),
		}
	}

	if len(body) > 0 && !json.Valid(body) {
		quoted, err := json.Marshal(string(body))
		if err != nil {
			return nil, fmt.Errorf("failed to encode response: %w", err)
		}
		body = quoted
	}

	return &Response{
		VendorID:          binding.ID,
		StatusCode:        httpResp.StatusCode,
		Body:              body,
		ProviderRequestID: firstHeader(httpResp.Header, "X-Request-Id", "Request-Id"),
		LatencyMs:         latency.Milliseconds(),
	}, nil
}

// parseRetryAfter accepts the delta-seconds form of Retry-After.
func parseRetryAfter(v string) int {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return secs
}

func firstHeader(h http.Header, names ...string) string {
	for _, n := range names {
		if v := h.Get(n); v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
