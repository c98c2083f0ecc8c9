// Package selector picks the next vendor binding to try for a logical model.
// Selection is a pure, deterministic function of the catalog, the health
// registry, the exclusion set and the configured strategy.
package selector

import (
	"time"

	"github.com/ahrav/go-invoker/internal/llm/catalog"
	"github.com/ahrav/go-invoker/internal/llm/health"
)

// ExcludeSet holds the binding ids already tried in one invocation.
type ExcludeSet map[string]struct{}

// Add marks id as tried.
func (s ExcludeSet) Add(id string) { s[id] = struct{}{} }

// Has reports whether id was tried.
func (s ExcludeSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Selector chooses among the bindings of a logical model.
type Selector struct {
	catalog  catalog.Catalog
	health   *health.Registry
	strategy Strategy
	cooldown time.Duration
	load     *LoadTracker
}

// New binds a selector to its collaborators. A nil strategy selects
// PriorityFirst and a nil tracker reports zero load.
func New(cat catalog.Catalog, registry *health.Registry, strategy Strategy, cooldown time.Duration, load *LoadTracker) *Selector {
	if strategy == nil {
		strategy = PriorityFirst{}
	}
	if load == nil {
		load = NewLoadTracker()
	}
	return &Selector{
		catalog:  cat,
		health:   registry,
		strategy: strategy,
		cooldown: cooldown,
		load:     load,
	}
}

// Strategy returns the bound strategy.
func (s *Selector) Strategy() Strategy { return s.strategy }

// Load returns the in-flight tracker shared with callers.
func (s *Selector) Load() *LoadTracker { return s.load }

// Candidates returns the eligible bindings of logicalName in catalog order:
// active, not excluded and not fast-failed by an open circuit. A circuit
// whose cooldown has elapsed is eligible; the read does not transition it.
func (s *Selector) Candidates(logicalName string, exclude ExcludeSet) []Candidate {
	bindings := s.catalog.ListBindings(logicalName)
	out := make([]Candidate, 0, len(bindings))
	for i, b := range bindings {
		if !b.IsActive() || exclude.Has(b.ID) {
			continue
		}
		if s.health.Peek(b.ID, s.cooldown) == health.StateOpen {
			continue
		}
		out = append(out, s.candidate(i, b))
	}
	return out
}

func (s *Selector) candidate(index int, b catalog.VendorBinding) Candidate {
	rate, ok := s.health.SuccessRate(b.ID)
	if !ok {
		rate = b.SuccessRate
	}
	var utilization float64
	if b.ConcurrentLimit > 0 {
		utilization = float64(s.load.Load(b.ID)) / float64(b.ConcurrentLimit)
	}
	return Candidate{
		Binding:     b,
		Index:       index,
		SuccessRate: rate,
		Utilization: utilization,
	}
}

// SelectCandidate returns the best eligible binding under the bound
// strategy, or false when none remains.
func (s *Selector) SelectCandidate(logicalName string, exclude ExcludeSet) (catalog.VendorBinding, bool) {
	cands := s.Candidates(logicalName, exclude)
	if len(cands) == 0 {
		return catalog.VendorBinding{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		// Strict comparison keeps the earliest catalog entry on ties.
		if s.strategy.Less(c, best) {
			best = c
		}
	}
	return best.Binding, true
}

// SelectPreferred returns the eligible binding whose id or vendor name
// equals vendor. When several match, the earliest in catalog order wins.
func (s *Selector) SelectPreferred(logicalName, vendor string, exclude ExcludeSet) (catalog.VendorBinding, bool) {
	if vendor == "" {
		return catalog.VendorBinding{}, false
	}
	for _, c := range s.Candidates(logicalName, exclude) {
		if c.Binding.ID == vendor || c.Binding.VendorName == vendor {
			return c.Binding, true
		}
	}
	return catalog.VendorBinding{}, false
}
