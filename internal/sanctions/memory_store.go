package sanctions

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string][]*Result // address → results, oldest first
}

// NewMemoryStore creates an in-memory screening store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results: make(map[string][]*Result),
	}
}

func (s *MemoryStore) Record(ctx context.Context, result *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[result.Address] = append(s.results[result.Address], cloneResult(result))
	return nil
}

func (s *MemoryStore) ListByAddress(ctx context.Context, address string, limit int) ([]*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.results[address]
	if len(all) == 0 {
		return nil, nil
	}

	start := len(all) - limit
	if start < 0 || limit <= 0 {
		start = 0
	}

	// Most recent first
	out := make([]*Result, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		out = append(out, cloneResult(all[i]))
	}
	return out, nil
}

func cloneResult(r *Result) *Result {
	c := *r
	if r.Score != nil {
		score := *r.Score
		c.Score = &score
	}
	return &c
}
