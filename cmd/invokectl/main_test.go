package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, okURL, failURL string) string {
	t.Helper()
	cfg := fmt.Sprintf(`
retry:
  max_attempts: 2
  base_delay: 1ms
  max_delay: 2ms
  timeout: 2s
  jitter: 0
  circuit_breaker_enabled: true
  circuit_breaker_threshold: 5
  cooldown: 1m
observability:
  metrics_enabled: false
  log_format: json
  log_level: error
bindings:
  - id: chat-a
    logical_name: chat
    vendor_name: alpha
    priority: 1
    endpoint: %s
  - id: chat-b
    logical_name: chat
    vendor_name: beta
    priority: 2
    endpoint: %s
`, failURL, okURL)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func vendor(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestInvokeCommandFailsOver(t *testing.T) {
	ok := vendor(t, http.StatusOK, `{"text":"hi"}`)
	bad := vendor(t, http.StatusServiceUnavailable, `{"error":"busy"}`)
	path := writeConfig(t, ok.URL, bad.URL)

	out, err := execute(t, "invoke", "--config", path, "--model", "chat", "--payload", `{"prompt":"hello"}`)
	require.NoError(t, err)

	var report struct {
		Result struct {
			VendorID     string   `json:"vendor_id"`
			VendorsTried []string `json:"vendors_tried"`
			Attempts     int      `json:"attempts"`
		} `json:"result"`
		Failure json.RawMessage  `json:"failure"`
		Health  []map[string]any `json:"health"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "chat-b", report.Result.VendorID)
	assert.Equal(t, []string{"chat-a", "chat-b"}, report.Result.VendorsTried)
	assert.Equal(t, 3, report.Result.Attempts)
	assert.Empty(t, report.Failure)
	assert.Len(t, report.Health, 2)
}

func TestInvokeCommandReportsFailurePayload(t *testing.T) {
	bad := vendor(t, http.StatusUnauthorized, `{"error":"no"}`)
	path := writeConfig(t, bad.URL, bad.URL)

	out, err := execute(t, "invoke", "--config", path, "--model", "chat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted_hard")

	var report struct {
		Failure struct {
			Category          string   `json:"category"`
			Attempts          int      `json:"attempts"`
			VendorsTried      []string `json:"vendors_tried"`
			LastErrorCategory string   `json:"last_error_category"`
		} `json:"failure"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "exhausted_hard", report.Failure.Category)
	assert.Equal(t, 2, report.Failure.Attempts)
	assert.Equal(t, []string{"chat-a", "chat-b"}, report.Failure.VendorsTried)
	assert.Equal(t, "fatal_client", report.Failure.LastErrorCategory)
}

func TestInvokeCommandNoFallback(t *testing.T) {
	bad := vendor(t, http.StatusUnauthorized, `{}`)
	ok := vendor(t, http.StatusOK, `{}`)
	path := writeConfig(t, ok.URL, bad.URL)

	out, err := execute(t, "invoke", "--config", path, "--model", "chat", "--no-fallback")
	require.Error(t, err)
	assert.Contains(t, out, `"vendors_tried": [
      "chat-a"
    ]`)
}

func TestInvokeCommandUnknownModel(t *testing.T) {
	ok := vendor(t, http.StatusOK, `{}`)
	path := writeConfig(t, ok.URL, ok.URL)

	_, err := execute(t, "invoke", "--config", path, "--model", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model")
}

func TestInvokeCommandRejectsBadFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "missing model", args: []string{"invoke"}, want: "model"},
		{name: "invalid payload", args: []string{"invoke", "--model", "chat", "--payload", "{nope"}, want: "payload is not valid JSON"},
		{name: "negative retries", args: []string{"invoke", "--model", "chat", "--max-retries", "-1"}, want: "--max-retries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestHealthCommand(t *testing.T) {
	ok := vendor(t, http.StatusOK, `{}`)
	path := writeConfig(t, ok.URL, ok.URL)

	out, err := execute(t, "health", "--config", path)
	require.NoError(t, err)

	var report []struct {
		Binding struct {
			ID string `json:"id"`
		} `json:"binding"`
		Circuit     string  `json:"circuit"`
		SuccessRate float64 `json:"success_rate"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report, 2)
	assert.Equal(t, "chat-a", report[0].Binding.ID)
	assert.Equal(t, "closed", report[0].Circuit)
	assert.InDelta(t, 1.0, report[0].SuccessRate, 1e-9)
}

func TestReadPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0o600))

	got, err := readPayload("@" + path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got))

	_, err = readPayload("@" + filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	got, err = readPayload(`[1,2]`)
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(got))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}
