package events

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
)

const defaultSeenCapacity = 4096

// LogSink writes each event as a structured log line. It remembers the most
// recent idempotency keys and silently drops duplicates.
type LogSink struct {
	logger *slog.Logger

	mu       sync.Mutex
	seen     map[string]*list.Element
	order    *list.List
	capacity int
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default and a
// non-positive capacity uses 4096 remembered keys.
func NewLogSink(logger *slog.Logger, capacity int) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity <= 0 {
		capacity = defaultSeenCapacity
	}
	return &LogSink{
		logger:   logger.With("component", "events"),
		seen:     make(map[string]*list.Element, capacity),
		order:    list.New(),
		capacity: capacity,
	}
}

// Append implements EventSink.
func (s *LogSink) Append(ctx context.Context, envelope Envelope) error {
	if !s.remember(envelope.IdempotencyKey) {
		return nil
	}
	s.logger.InfoContext(ctx, "event",
		"event_id", envelope.ID,
		"event_type", envelope.Type,
		"source", envelope.Source,
		"invocation_id", envelope.InvocationID,
		"workflow_id", envelope.WorkflowID,
		"run_id", envelope.RunID,
		"payload", string(envelope.Payload))
	return nil
}

// remember reports whether key is new. Empty keys are never deduplicated.
func (s *LogSink) remember(key string) bool {
	if key == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = s.order.PushBack(key)
	if s.order.Len() > s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.seen, oldest.Value.(string))
	}
	return true
}
