package history

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store. Per-identity memory
// is bounded by the window size; the identity set itself is unbounded and
// retention is an external concern.
type MemoryStore struct {
	mu      sync.RWMutex
	window  int
	entries map[string][]Entry
}

// NewMemoryStore creates an in-memory history store with the given window.
func NewMemoryStore(window int) *MemoryStore {
	return &MemoryStore{
		window:  window,
		entries: make(map[string][]Entry),
	}
}

func (s *MemoryStore) Snapshot(ctx context.Context, identity string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.entries[identity]
	if len(stored) == 0 {
		return nil, nil
	}

	out := make([]Entry, len(stored))
	for i, e := range stored {
		out[i] = e
		out[i].Vector = e.Vector.Clone()
	}
	return out, nil
}

func (s *MemoryStore) Append(ctx context.Context, identity string, e Entry) error {
	e.Vector = e.Vector.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := append(s.entries[identity], e)
	if len(stored) > s.window {
		stored = stored[len(stored)-s.window:]
	}
	s.entries[identity] = stored
	return nil
}

// Len reports the current window length for an identity.
func (s *MemoryStore) Len(identity string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries[identity])
}
