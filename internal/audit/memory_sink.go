package audit

import (
	"context"
	"sync"
)

// MemorySink keeps a bounded in-memory ring of audit events. Used in
// tests and when no database is configured.
type MemorySink struct {
	mu     sync.RWMutex
	events []*Event
	max    int
}

// NewMemorySink creates a sink retaining at most max events (oldest
// evicted first). max <= 0 means unbounded.
func NewMemorySink(max int) *MemorySink {
	return &MemorySink{max: max}
}

func (s *MemorySink) Record(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	s.events = append(s.events, &cp)
	if s.max > 0 && len(s.events) > s.max {
		s.events = s.events[len(s.events)-s.max:]
	}
	return nil
}

// ListRecent returns up to limit events, newest first.
func (s *MemorySink) ListRecent(_ context.Context, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*Event, 0, n)
	for i := len(s.events) - 1; i >= 0 && len(out) < n; i-- {
		cp := *s.events[i]
		out = append(out, &cp)
	}
	return out, nil
}
