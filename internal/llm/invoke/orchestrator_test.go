package invoke_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-invoker/internal/llm/catalog"
	"github.com/ahrav/go-invoker/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-invoker/internal/llm/errors"
	"github.com/ahrav/go-invoker/internal/llm/health"
	"github.com/ahrav/go-invoker/internal/llm/invoke"
	"github.com/ahrav/go-invoker/internal/llm/retry"
	"github.com/ahrav/go-invoker/internal/llm/selector"
	"github.com/ahrav/go-invoker/internal/llm/transport"
)

type behavior int

const (
	succeed behavior = iota
	hang
	unauthorized
	serverError
	// serverErrorThenHang fails the first call with a 503 and hangs after.
	serverErrorThenHang
)

// scriptedCaller answers per vendor binding and records call order.
type scriptedCaller struct {
	mu       sync.Mutex
	behavior map[string]behavior
	calls    []string
	perVendor map[string]int
}

func (s *scriptedCaller) Handle(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req.Binding.ID)
	if s.perVendor == nil {
		s.perVendor = make(map[string]int)
	}
	s.perVendor[req.Binding.ID]++
	n := s.perVendor[req.Binding.ID]
	b := s.behavior[req.Binding.ID]
	s.mu.Unlock()

	if b == serverErrorThenHang {
		if n == 1 {
			return nil, &llmerrors.ProviderError{Vendor: req.Binding.ID, StatusCode: 503, Message: "unavailable"}
		}
		b = hang
	}

	switch b {
	case hang:
		<-ctx.Done()
		return nil, ctx.Err()
	case unauthorized:
		return nil, &llmerrors.ProviderError{Vendor: req.Binding.ID, StatusCode: 401, Message: "bad key"}
	case serverError:
		return nil, &llmerrors.ProviderError{Vendor: req.Binding.ID, StatusCode: 500, Message: "boom"}
	default:
		return &transport.Response{VendorID: req.Binding.ID, StatusCode: 200, Body: json.RawMessage(`{"ok":true}`)}, nil
	}
}

func (s *scriptedCaller) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func policy() configuration.RetryPolicy {
	return configuration.RetryPolicy{
		MaxAttempts:             3,
		BaseDelay:               time.Second,
		MaxDelay:                8 * time.Second,
		Timeout:                 30 * time.Second,
		CircuitBreakerEnabled:   true,
		CircuitBreakerThreshold: 5,
		Cooldown:                60 * time.Second,
	}
}

func binding(id string, priority int) catalog.VendorBinding {
	return catalog.VendorBinding{
		ID:          id,
		LogicalName: "chat",
		VendorName:  "vendor-" + id,
		Priority:    priority,
		Status:      catalog.StatusActive,
	}
}

type fixture struct {
	orch   *invoke.Orchestrator
	caller *scriptedCaller
	health *health.Registry
}

func newFixture(t *testing.T, behaviors map[string]behavior, bindings ...catalog.VendorBinding) fixture {
	t.Helper()
	if len(bindings) == 0 {
		bindings = []catalog.VendorBinding{binding("v1", 1), binding("v2", 2), binding("v3", 3)}
	}
	cat, err := catalog.NewMemory(bindings...)
	require.NoError(t, err)

	reg := health.NewRegistry()
	sel := selector.New(cat, reg, selector.PriorityFirst{}, policy().Cooldown, nil)
	coord := retry.New(reg)
	caller := &scriptedCaller{behavior: behaviors}

	orch, err := invoke.New(cat, sel, coord, caller, policy(), invoke.WithIDGenerator(func() string { return "inv-test" }))
	require.NoError(t, err)
	return fixture{orch: orch, caller: caller, health: reg}
}

// TestInvoke_FailoverToThirdVendor: the two preferred vendors time out on
// every attempt and the third answers.
func TestInvoke_FailoverToThirdVendor(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, map[string]behavior{"v1": hang, "v2": hang, "v3": succeed})

		res, err := f.orch.Invoke(context.Background(), "chat", json.RawMessage(`{}`), invoke.DefaultOptions())
		require.NoError(t, err)

		assert.Equal(t, "v3", res.VendorID)
		assert.Equal(t, []string{"v1", "v2", "v3"}, res.VendorsTried)
		assert.Equal(t, 7, res.Attempts)
		assert.Equal(t, "inv-test", res.InvocationID)
		assert.JSONEq(t, `{"ok":true}`, string(res.Response.Body))
		assert.Equal(t,
			[]string{"v1", "v1", "v1", "v2", "v2", "v2", "v3"},
			f.caller.Calls(),
			"vendors are tried in priority order and never repeated")
		// Each exhausted vendor: 3x30s attempts plus 1s and 2s backoff.
		assert.Equal(t, int64((2*93*time.Second)/time.Millisecond), res.ElapsedMs)
	})
}

func TestInvoke_AllTimeoutsIsExhaustedTimeout(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, map[string]behavior{"v1": hang, "v2": hang, "v3": hang})

		res, err := f.orch.Invoke(context.Background(), "chat", nil, invoke.DefaultOptions())
		require.Nil(t, res)
		require.Error(t, err)

		assert.True(t, llmerrors.IsExhaustedTimeout(err))
		assert.False(t, llmerrors.IsExhaustedHard(err))

		var invErr *llmerrors.InvocationError
		require.ErrorAs(t, err, &invErr)
		assert.Equal(t, llmerrors.CategoryExhaustedTimeout, invErr.Category)
		assert.Equal(t, "inv-test", invErr.InvocationID)
		assert.Equal(t, 9, invErr.Attempts)
		assert.Equal(t, []string{"v1", "v2", "v3"}, invErr.VendorsTried)
		assert.Equal(t, llmerrors.CategoryTransient, invErr.LastErrorCategory)
		assert.Equal(t, int64((3*93*time.Second)/time.Millisecond), invErr.TotalElapsedMs)

		payload, jerr := json.Marshal(invErr)
		require.NoError(t, jerr)
		assert.Contains(t, string(payload), `"total_elapsed_ms"`)
		assert.Contains(t, string(payload), `"vendors_tried":["v1","v2","v3"]`)
	})
}

func TestInvoke_AnyNonTimeoutIsExhaustedHard(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, map[string]behavior{"v1": hang, "v2": unauthorized, "v3": hang})

		_, err := f.orch.Invoke(context.Background(), "chat", nil, invoke.DefaultOptions())
		require.Error(t, err)
		assert.True(t, llmerrors.IsExhaustedHard(err))

		var invErr *llmerrors.InvocationError
		require.ErrorAs(t, err, &invErr)
		assert.Equal(t, 3+1+3, invErr.Attempts, "fatal vendor gets a single attempt")
		assert.Equal(t, []string{"v1", "v2", "v3"}, invErr.VendorsTried)
	})
}

// TestInvoke_TimeoutsAfterServerErrorsAreHard: every vendor answers 503 once
// and then times out, so not every failure was a timeout.
func TestInvoke_TimeoutsAfterServerErrorsAreHard(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, map[string]behavior{
			"v1": serverErrorThenHang,
			"v2": serverErrorThenHang,
			"v3": serverErrorThenHang,
		})

		_, err := f.orch.Invoke(context.Background(), "chat", nil, invoke.DefaultOptions())
		require.Error(t, err)

		var invErr *llmerrors.InvocationError
		require.ErrorAs(t, err, &invErr)
		assert.Equal(t, llmerrors.CategoryExhaustedHard, invErr.Category)
		assert.Equal(t, 9, invErr.Attempts)
		assert.Equal(t, llmerrors.CategoryTransient, invErr.LastErrorCategory, "last failure was still a timeout")
	})
}

func TestInvoke_FatalEverywhereIsHard(t *testing.T) {
	f := newFixture(t, map[string]behavior{"v1": unauthorized, "v2": unauthorized, "v3": unauthorized})

	_, err := f.orch.Invoke(context.Background(), "chat", nil, invoke.DefaultOptions())
	require.Error(t, err)

	var invErr *llmerrors.InvocationError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, llmerrors.CategoryExhaustedHard, invErr.Category)
	assert.Equal(t, llmerrors.CategoryFatalClient, invErr.LastErrorCategory)
	assert.Equal(t, 3, invErr.Attempts)

	var provErr *llmerrors.ProviderError
	assert.ErrorAs(t, err, &provErr, "last vendor error stays reachable")
}

func TestInvoke_Budget(t *testing.T) {
	bindings := []catalog.VendorBinding{binding("v1", 1), binding("v2", 2), binding("v3", 3), binding("v4", 4)}
	tests := []struct {
		name      string
		opts      invoke.Options
		wantTried []string
	}{
		{"default tries three", invoke.DefaultOptions(), []string{"v1", "v2", "v3"}},
		{"max retries zero", invoke.Options{FallbackEnabled: true, MaxRetries: 0}, []string{"v1"}},
		{"max retries large", invoke.Options{FallbackEnabled: true, MaxRetries: 10}, []string{"v1", "v2", "v3", "v4"}},
		{"fallback disabled", invoke.Options{FallbackEnabled: false, MaxRetries: 5}, []string{"v1"}},
		{"negative retries", invoke.Options{FallbackEnabled: true, MaxRetries: -3}, []string{"v1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, map[string]behavior{
				"v1": unauthorized, "v2": unauthorized, "v3": unauthorized, "v4": unauthorized,
			}, bindings...)

			_, err := f.orch.Invoke(context.Background(), "chat", nil, tt.opts)
			var invErr *llmerrors.InvocationError
			require.ErrorAs(t, err, &invErr)
			assert.Equal(t, tt.wantTried, invErr.VendorsTried)
			assert.Equal(t, tt.wantTried, f.caller.Calls())
		})
	}
}

func TestInvoke_PreferVendor(t *testing.T) {
	f := newFixture(t, map[string]behavior{"v2": unauthorized})

	opts := invoke.DefaultOptions()
	opts.PreferVendor = "vendor-v3"
	res, err := f.orch.Invoke(context.Background(), "chat", nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "v3", res.VendorID)
	assert.Equal(t, []string{"v3"}, res.VendorsTried)

	opts.PreferVendor = "v2"
	res, err = f.orch.Invoke(context.Background(), "chat", nil, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"v2", "v1"}, res.VendorsTried, "failed preference falls back to strategy order")

	opts.PreferVendor = "nobody"
	res, err = f.orch.Invoke(context.Background(), "chat", nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "v1", res.VendorID)
}

func TestInvoke_OpenCircuitIsSkipped(t *testing.T) {
	f := newFixture(t, map[string]behavior{})
	for i := 0; i < 5; i++ {
		f.health.RecordFailure("v1")
	}
	require.True(t, f.health.ShouldOpenCircuit("v1", 5))

	res, err := f.orch.Invoke(context.Background(), "chat", nil, invoke.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "v2", res.VendorID)
	assert.Equal(t, []string{"v2"}, f.caller.Calls())
}

func TestInvoke_FreshStart(t *testing.T) {
	f := newFixture(t, map[string]behavior{})
	for i := 0; i < 5; i++ {
		f.health.RecordFailure("v1")
	}
	require.True(t, f.health.ShouldOpenCircuit("v1", 5))
	f.health.RecordFailure("unrelated")

	opts := invoke.DefaultOptions()
	opts.FreshStart = true
	res, err := f.orch.Invoke(context.Background(), "chat", nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "v1", res.VendorID, "reset circuit is eligible again")

	assert.Equal(t, 1, f.health.Snapshot("unrelated").ConsecutiveFailures, "only the model's bindings are reset")
}

func TestInvoke_NoEligibleCandidates(t *testing.T) {
	b := binding("v1", 1)
	b.Status = catalog.StatusMaintenance
	f := newFixture(t, nil, b)

	_, err := f.orch.Invoke(context.Background(), "chat", nil, invoke.DefaultOptions())
	require.Error(t, err)

	var invErr *llmerrors.InvocationError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, llmerrors.CategoryExhaustedHard, invErr.Category)
	assert.Zero(t, invErr.Attempts)
	assert.Empty(t, invErr.VendorsTried)
	assert.ErrorIs(t, err, llmerrors.ErrNoCandidates)
	assert.Empty(t, f.caller.Calls())
}

func TestInvoke_DirectBinding(t *testing.T) {
	direct := catalog.VendorBinding{ID: "solo", VendorName: "acme", Status: catalog.StatusActive}

	t.Run("success", func(t *testing.T) {
		f := newFixture(t, nil, binding("v1", 1), direct)
		res, err := f.orch.Invoke(context.Background(), "solo", nil, invoke.DefaultOptions())
		require.NoError(t, err)
		assert.Equal(t, "solo", res.VendorID)
		assert.Equal(t, []string{"solo"}, res.VendorsTried)
	})

	t.Run("failure keeps coordinator category", func(t *testing.T) {
		f := newFixture(t, map[string]behavior{"solo": unauthorized}, binding("v1", 1), direct)
		_, err := f.orch.Invoke(context.Background(), "solo", nil, invoke.DefaultOptions())

		var invErr *llmerrors.InvocationError
		require.ErrorAs(t, err, &invErr)
		assert.Equal(t, llmerrors.CategoryFatalClient, invErr.Category)
		assert.Equal(t, []string{"solo"}, invErr.VendorsTried)
		assert.Equal(t, []string{"solo"}, f.caller.Calls(), "no failover on the direct path")
	})
}

func TestInvoke_UnknownModel(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.orch.Invoke(context.Background(), "nope", nil, invoke.DefaultOptions())
	require.ErrorIs(t, err, llmerrors.ErrUnknownModel)
	assert.Empty(t, f.caller.Calls())
}

func TestInvoke_CallerCancellationStopsFailover(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, map[string]behavior{"v1": serverError})
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(500*time.Millisecond, cancel)

		_, err := f.orch.Invoke(ctx, "chat", nil, invoke.DefaultOptions())
		require.Error(t, err)
		assert.True(t, llmerrors.IsExhaustedHard(err))
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Equal(t, []string{"v1"}, f.caller.Calls())
	})
}

func TestInvoke_HealthSurface(t *testing.T) {
	f := newFixture(t, map[string]behavior{"v1": unauthorized})

	_, err := f.orch.Invoke(context.Background(), "chat", nil, invoke.DefaultOptions())
	require.NoError(t, err)

	report := f.orch.HealthReport()
	require.Len(t, report, 2)
	assert.Equal(t, "v1", report[0].VendorID)
	assert.Equal(t, 1, report[0].ConsecutiveFailures)
	assert.Equal(t, "v2", report[1].VendorID)
	assert.Zero(t, report[1].ConsecutiveFailures)

	f.orch.ResetHealth("v1")
	require.Len(t, f.orch.HealthReport(), 1)
	f.orch.ResetHealth()
	assert.Empty(t, f.orch.HealthReport())
}

func TestInvoke_ConcurrentInvocationsAreIndependent(t *testing.T) {
	f := newFixture(t, map[string]behavior{"v1": unauthorized})

	var wg sync.WaitGroup
	results := make(chan *invoke.Result, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.orch.Invoke(context.Background(), "chat", nil, invoke.DefaultOptions())
			if assert.NoError(t, err) {
				results <- res
			}
		}()
	}
	wg.Wait()
	close(results)

	for res := range results {
		assert.Equal(t, "v2", res.VendorID)
		// v1 may already be fast-failed once its circuit opens.
		assert.Equal(t, "v2", res.VendorsTried[len(res.VendorsTried)-1])
		assert.LessOrEqual(t, len(res.VendorsTried), 2)
	}
}

func TestNew_RejectsInvalidPolicy(t *testing.T) {
	cat, err := catalog.NewMemory(binding("v1", 1))
	require.NoError(t, err)
	reg := health.NewRegistry()
	bad := policy()
	bad.MaxAttempts = 0

	_, err = invoke.New(cat, selector.New(cat, reg, nil, time.Minute, nil), retry.New(reg), &scriptedCaller{}, bad)
	require.ErrorIs(t, err, llmerrors.ErrInvalidPolicy)
}
