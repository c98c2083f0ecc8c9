// Package catalog holds the read-only registry of vendor bindings.
// A logical model may be served by several bindings; a binding id may also be
// addressed directly when it has no logical grouping.
package catalog

import (
	"errors"
	"fmt"
	"sync"
)

// Status is the administrative state of a vendor binding.
type Status string

const (
	StatusActive      Status = "active"
	StatusInactive    Status = "inactive"
	StatusMaintenance Status = "maintenance"
)

var (
	// ErrDuplicateBinding is returned when two bindings share an id.
	ErrDuplicateBinding = errors.New("duplicate binding id")
	// ErrInvalidBinding is returned for bindings missing required fields.
	ErrInvalidBinding = errors.New("invalid binding")
)

// VendorBinding is an immutable catalog entry: one vendor-specific backing of
// a logical model.
type VendorBinding struct {
	ID              string  `json:"id" yaml:"id" validate:"required"`
	LogicalName     string  `json:"logical_name" yaml:"logical_name"`
	VendorName      string  `json:"vendor_name" yaml:"vendor_name" validate:"required"`
	Priority        int     `json:"priority" yaml:"priority"`
	ConcurrentLimit int     `json:"concurrent_limit" yaml:"concurrent_limit" validate:"gte=0"`
	Status          Status  `json:"status" yaml:"status" validate:"omitempty,oneof=active inactive maintenance"`
	SuccessRate     float64 `json:"success_rate" yaml:"success_rate" validate:"gte=0,lte=1"`
	InputCost       float64 `json:"input_cost" yaml:"input_cost" validate:"gte=0"`
	OutputCost      float64 `json:"output_cost" yaml:"output_cost" validate:"gte=0"`

	// Transport-only fields, opaque to selection.
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint"`
	APIKeyEnv string `json:"api_key_env,omitempty" yaml:"api_key_env"`
}

// IsActive reports whether the binding may be selected.
// An empty status is treated as active.
func (b VendorBinding) IsActive() bool {
	return b.Status == StatusActive || b.Status == ""
}

// TotalCost is the per-unit input plus output cost used by cost-optimal selection.
func (b VendorBinding) TotalCost() float64 {
	return b.InputCost + b.OutputCost
}

// Catalog is the read-only model/vendor registry collaborator.
type Catalog interface {
	// ListBindings returns the bindings grouped under logicalName in catalog
	// insertion order. An empty result means the name is not a logical model.
	ListBindings(logicalName string) []VendorBinding

	// Lookup resolves a binding by its own id.
	Lookup(id string) (VendorBinding, bool)
}

// Memory is an in-memory Catalog preserving insertion order.
type Memory struct {
	mu        sync.RWMutex
	bindings  []VendorBinding
	byID      map[string]int
	byLogical map[string][]int
}

// NewMemory builds a catalog from bindings, rejecting duplicate ids.
func NewMemory(bindings ...VendorBinding) (*Memory, error) {
	m := &Memory{
		byID:      make(map[string]int, len(bindings)),
		byLogical: make(map[string][]int),
	}
	for _, b := range bindings {
		if err := m.Add(b); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Add appends a binding to the catalog.
func (m *Memory) Add(b VendorBinding) error {
	if b.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidBinding)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[b.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateBinding, b.ID)
	}

	idx := len(m.bindings)
	m.bindings = append(m.bindings, b)
	m.byID[b.ID] = idx
	if b.LogicalName != "" {
		m.byLogical[b.LogicalName] = append(m.byLogical[b.LogicalName], idx)
	}
	return nil
}

// ListBindings implements Catalog.
func (m *Memory) ListBindings(logicalName string) []VendorBinding {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idxs := m.byLogical[logicalName]
	out := make([]VendorBinding, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, m.bindings[i])
	}
	return out
}

// Lookup implements Catalog.
func (m *Memory) Lookup(id string) (VendorBinding, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.byID[id]
	if !ok {
		return VendorBinding{}, false
	}
	return m.bindings[i], true
}

// All returns every binding in insertion order.
func (m *Memory) All() []VendorBinding {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]VendorBinding, len(m.bindings))
	copy(out, m.bindings)
	return out
}
