package selector

import (
	"sync"
	"sync/atomic"
)

// LoadTracker counts in-flight calls per vendor binding.
type LoadTracker struct {
	counters sync.Map // id -> *atomic.Int64
}

// NewLoadTracker creates an empty tracker.
func NewLoadTracker() *LoadTracker {
	return &LoadTracker{}
}

func (t *LoadTracker) counter(id string) *atomic.Int64 {
	if c, ok := t.counters.Load(id); ok {
		return c.(*atomic.Int64)
	}
	c, _ := t.counters.LoadOrStore(id, new(atomic.Int64))
	return c.(*atomic.Int64)
}

// Acquire marks one more call in flight and returns the release function.
func (t *LoadTracker) Acquire(id string) (release func()) {
	c := t.counter(id)
	c.Add(1)
	var once sync.Once
	return func() { once.Do(func() { c.Add(-1) }) }
}

// Load returns the number of calls in flight for id.
func (t *LoadTracker) Load(id string) int64 {
	if c, ok := t.counters.Load(id); ok {
		return c.(*atomic.Int64).Load()
	}
	return 0
}
