// Package health tracks per-vendor-binding failure and latency telemetry and
// the circuit breaker state derived from it.
//
// Records are created lazily on the first observed event and live for the
// process lifetime. Each record is guarded by its own mutex so every
// read-modify-write on one vendor is atomic, while distinct vendors never
// share a lock.
package health

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// emaWeight is the weight of a new sample in the moving averages.
const emaWeight = 0.1

// CircuitState is the breaker view of a vendor as seen by a non-mutating read.
type CircuitState int

const (
	// StateClosed allows requests through.
	StateClosed CircuitState = iota
	// StateOpen blocks requests until the cooldown elapses.
	StateOpen
	// StateHalfOpen means the cooldown elapsed and one probe would be admitted.
	StateHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Admission is the breaker's answer to "may this vendor be attempted now".
type Admission struct {
	// Allowed is false while the circuit is open.
	Allowed bool
	// Probe is true when this admission is the single half-open probe.
	Probe bool
}

// Snapshot is one row of the health report.
type Snapshot struct {
	VendorID            string    `json:"vendor_id"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CircuitOpen         bool      `json:"circuit_open"`
	AvgResponseTimeMs   float64   `json:"avg_response_time_ms"`
	SuccessRate         float64   `json:"success_rate"`
	LastFailureTime     time.Time `json:"last_failure_time,omitzero"`
}

// record is the mutable HealthRecord of one vendor binding.
type record struct {
	mu                  sync.Mutex
	consecutiveFailures int
	lastFailureTime     time.Time
	circuitOpen         bool
	avgResponseTimeMs   float64
	hasLatency          bool
	successRate         float64

	// probeFailures is the streak before the last half-open transition.
	probeFailures int
}

func newRecord() *record {
	return &record{successRate: 1}
}

// Registry is the explicit, injectable owner of all health records.
type Registry struct {
	records *shardedRecords
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger overrides the component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		records: newShardedRecords(),
		now:     time.Now,
		logger:  slog.Default().With("component", "health"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordSuccess resets the failure streak, closes the circuit and folds the
// response time into the moving average.
func (r *Registry) RecordSuccess(vendorID string, responseTime time.Duration) {
	rec := r.records.getOrCreate(vendorID)
	sample := float64(responseTime) / float64(time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	wasOpen := rec.circuitOpen
	rec.consecutiveFailures = 0
	rec.circuitOpen = false
	if rec.hasLatency {
		rec.avgResponseTimeMs = rec.avgResponseTimeMs*(1-emaWeight) + sample*emaWeight
	} else {
		rec.avgResponseTimeMs = sample
		rec.hasLatency = true
	}
	rec.successRate = rec.successRate*(1-emaWeight) + emaWeight

	if wasOpen {
		r.logger.Info("circuit breaker state transition",
			"vendor", vendorID,
			"from", StateOpen.String(),
			"to", StateClosed.String())
	}
}

// RecordFailure extends the failure streak and stamps the failure time.
func (r *Registry) RecordFailure(vendorID string) {
	rec := r.records.getOrCreate(vendorID)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.consecutiveFailures++
	rec.lastFailureTime = r.now()
	rec.successRate *= 1 - emaWeight
}

// ShouldOpenCircuit opens the circuit and returns true once the failure
// streak reaches threshold.
func (r *Registry) ShouldOpenCircuit(vendorID string, threshold int) bool {
	rec, ok := r.records.get(vendorID)
	if !ok {
		return false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.consecutiveFailures < threshold {
		return false
	}
	if !rec.circuitOpen {
		rec.circuitOpen = true
		r.logger.Info("circuit breaker state transition",
			"vendor", vendorID,
			"from", StateClosed.String(),
			"to", StateOpen.String(),
			"consecutive_failures", rec.consecutiveFailures)
	}
	return true
}

// IsCircuitOpen reports whether the vendor is fast-failed. Once the cooldown
// has elapsed since the last failure the circuit moves to half-open: the flag
// is cleared, the failure streak halved and false is returned, permitting one
// probe.
func (r *Registry) IsCircuitOpen(vendorID string, cooldown time.Duration) bool {
	return !r.Admit(vendorID, cooldown).Allowed
}

// Admit performs the IsCircuitOpen transition and also reports whether the
// admission is the half-open probe.
func (r *Registry) Admit(vendorID string, cooldown time.Duration) Admission {
	rec, ok := r.records.get(vendorID)
	if !ok {
		return Admission{Allowed: true}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.circuitOpen {
		return Admission{Allowed: true}
	}
	if r.now().Sub(rec.lastFailureTime) > cooldown {
		rec.circuitOpen = false
		rec.probeFailures = rec.consecutiveFailures
		rec.consecutiveFailures /= 2
		r.logger.Info("circuit breaker state transition",
			"vendor", vendorID,
			"from", StateOpen.String(),
			"to", StateHalfOpen.String())
		return Admission{Allowed: true, Probe: true}
	}
	return Admission{Allowed: false}
}

// Reopen undoes a half-open admission whose probe was never sent: the
// circuit is open again, the streak restored and the cooldown restarted.
func (r *Registry) Reopen(vendorID string) {
	rec, ok := r.records.get(vendorID)
	if !ok {
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.circuitOpen {
		return
	}
	rec.circuitOpen = true
	rec.consecutiveFailures = max(rec.consecutiveFailures, rec.probeFailures)
	rec.lastFailureTime = r.now()
	r.logger.Info("circuit breaker state transition",
		"vendor", vendorID,
		"from", StateHalfOpen.String(),
		"to", StateOpen.String())
}

// Peek reports the circuit state without performing any transition.
func (r *Registry) Peek(vendorID string, cooldown time.Duration) CircuitState {
	rec, ok := r.records.get(vendorID)
	if !ok {
		return StateClosed
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	switch {
	case !rec.circuitOpen:
		return StateClosed
	case r.now().Sub(rec.lastFailureTime) > cooldown:
		return StateHalfOpen
	default:
		return StateOpen
	}
}

// SuccessRate returns the recorded success rate, if the vendor has a record.
func (r *Registry) SuccessRate(vendorID string) (float64, bool) {
	rec, ok := r.records.get(vendorID)
	if !ok {
		return 0, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.successRate, true
}

// Snapshot returns the current telemetry of one vendor; unknown vendors
// report a healthy zero record.
func (r *Registry) Snapshot(vendorID string) Snapshot {
	rec, ok := r.records.get(vendorID)
	if !ok {
		return Snapshot{VendorID: vendorID, SuccessRate: 1}
	}
	return rec.snapshot(vendorID)
}

// Report returns every tracked vendor ordered by id.
func (r *Registry) Report() []Snapshot {
	var out []Snapshot
	r.records.each(func(key string, rec *record) {
		out = append(out, rec.snapshot(key))
	})
	sort.Slice(out, func(i, j int) bool { return out[i].VendorID < out[j].VendorID })
	return out
}

// Reset force-clears telemetry for the given vendors, or for all vendors
// when none are named.
func (r *Registry) Reset(vendorIDs ...string) {
	if len(vendorIDs) == 0 {
		r.records.clear()
		r.logger.Info("health telemetry reset", "scope", "all")
		return
	}
	for _, id := range vendorIDs {
		r.records.delete(id)
	}
	r.logger.Info("health telemetry reset", "vendors", vendorIDs)
}

func (rec *record) snapshot(vendorID string) Snapshot {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return Snapshot{
		VendorID:            vendorID,
		ConsecutiveFailures: rec.consecutiveFailures,
		CircuitOpen:         rec.circuitOpen,
		AvgResponseTimeMs:   rec.avgResponseTimeMs,
		SuccessRate:         rec.successRate,
		LastFailureTime:     rec.lastFailureTime,
	}
}
