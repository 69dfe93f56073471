package settlement

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory settlement book for demo/development mode.
type MemoryStore struct {
	records map[string]*Record
	mu      sync.RWMutex
}

// NewMemoryStore creates a store holding records.
func NewMemoryStore(records ...*Record) *MemoryStore {
	m := &MemoryStore{records: make(map[string]*Record, len(records))}
	for _, r := range records {
		m.records[r.ID] = cloneRecord(r)
	}
	return m
}

// NewDemoStore creates a store seeded with DemoBook.
func NewDemoStore() *MemoryStore {
	return NewMemoryStore(DemoBook()...)
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(r), nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, cloneRecord(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) MarkPaid(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != StatusPending {
		return ErrAlreadyPaid
	}
	r.Status = StatusPaid
	r.PaidAt = &at
	return nil
}

func cloneRecord(r *Record) *Record {
	cp := *r
	if r.PaidAt != nil {
		t := *r.PaidAt
		cp.PaidAt = &t
	}
	return &cp
}
