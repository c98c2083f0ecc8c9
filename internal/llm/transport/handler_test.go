package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-invoker/internal/llm/catalog"
	llmerrors "github.com/ahrav/go-invoker/internal/llm/errors"
	"github.com/ahrav/go-invoker/internal/llm/transport"
)

func newRequest(endpoint string) *transport.Request {
	return &transport.Request{
		InvocationID: "inv-1",
		ModelID:      "chat",
		Operation:    transport.OpInvoke,
		Binding: catalog.VendorBinding{
			ID:         "chat-a",
			VendorName: "acme",
			Endpoint:   endpoint,
		},
		Payload: json.RawMessage(`{"prompt":"hi"}`),
		Timeout: time.Second,
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) transport.Middleware {
		return func(next transport.Handler) transport.Handler {
			return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
				order = append(order, name)
				return next.Handle(ctx, req)
			})
		}
	}
	core := transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		order = append(order, "core")
		return &transport.Response{}, nil
	})

	_, err := transport.Chain(core, mw("outer"), mw("inner")).Handle(context.Background(), &transport.Request{})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner", "core"}, order)
}

func TestHTTPHandler_Success(t *testing.T) {
	t.Setenv("ACME_KEY", "secret")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "inv-1", r.Header.Get("X-Request-ID"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"prompt":"hi"}`, string(body))

		w.Header().Set("X-Request-Id", "prov-123")
		_, _ = w.Write([]byte(`{"answer":42}`))
	}))
	defer srv.Close()

	req := newRequest(srv.URL)
	req.Binding.APIKeyEnv = "ACME_KEY"

	resp, err := transport.NewHTTPHandler(srv.Client()).Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "chat-a", resp.VendorID)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"answer":42}`, string(resp.Body))
	assert.Equal(t, "prov-123", resp.ProviderRequestID)
}

func TestHTTPHandler_NonJSONBodyIsQuoted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("plain text"))
	}))
	defer srv.Close()

	resp, err := transport.NewHTTPHandler(nil).Handle(context.Background(), newRequest(srv.URL))
	require.NoError(t, err)
	assert.JSONEq(t, `"plain text"`, string(resp.Body))
}

func TestHTTPHandler_Errors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		retryAfter   string
		wantCategory llmerrors.Category
		wantReason   llmerrors.Reason
	}{
		{"unauthorized", http.StatusUnauthorized, "", llmerrors.CategoryFatalClient, llmerrors.ReasonAuth},
		{"bad request", http.StatusBadRequest, "", llmerrors.CategoryFatalClient, llmerrors.ReasonValidation},
		{"rate limited", http.StatusTooManyRequests, "7", llmerrors.CategoryTransient, llmerrors.ReasonRateLimit},
		{"server error", http.StatusBadGateway, "", llmerrors.CategoryTransient, llmerrors.ReasonServer},
		{"gateway timeout", http.StatusRequestTimeout, "", llmerrors.CategoryTransient, llmerrors.ReasonTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			_, err := transport.NewHTTPHandler(srv.Client()).Handle(context.Background(), newRequest(srv.URL))
			require.Error(t, err)

			var provErr *llmerrors.ProviderError
			require.ErrorAs(t, err, &provErr)
			assert.Equal(t, tt.status, provErr.StatusCode)
			assert.Equal(t, "chat-a", provErr.Vendor)
			if tt.retryAfter != "" {
				assert.Equal(t, 7*time.Second, provErr.GetRetryAfter())
			}

			cl := llmerrors.Classify(err)
			assert.Equal(t, tt.wantCategory, cl.Category)
			assert.Equal(t, tt.wantReason, cl.Reason)
		})
	}
}

func TestHTTPHandler_MissingEndpoint(t *testing.T) {
	_, err := transport.NewHTTPHandler(nil).Handle(context.Background(), newRequest(""))
	var valErr *llmerrors.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "endpoint", valErr.Field)
}

func TestHTTPHandler_MissingAPIKey(t *testing.T) {
	req := newRequest("http://127.0.0.1:1")
	req.Binding.APIKeyEnv = "INVOKER_TEST_UNSET_KEY"
	t.Setenv("INVOKER_TEST_UNSET_KEY", "")

	_, err := transport.NewHTTPHandler(nil).Handle(context.Background(), req)
	var authErr *llmerrors.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, llmerrors.CategoryFatalClient, llmerrors.Classify(err).Category)
}

func TestHTTPHandler_TimeoutIsTimeoutClass(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	req := newRequest(srv.URL)
	req.Timeout = 20 * time.Millisecond

	_, err := transport.NewHTTPHandler(srv.Client()).Handle(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, llmerrors.Classify(err).IsTimeout())
}
