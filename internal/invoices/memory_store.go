package invoices

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory invoice store for demo/development mode.
type MemoryStore struct {
	invoices map[string]*Invoice
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory invoice store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{invoices: make(map[string]*Invoice)}
}

func (m *MemoryStore) Create(ctx context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInvoice(inv), nil
}

func (m *MemoryStore) Update(ctx context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.invoices[inv.ID]
	if !ok {
		return ErrNotFound
	}
	// Sale fields belong to MarkSold; a stale copy must not roll them back.
	src := cloneInvoice(inv)
	stored.RiskScore = src.RiskScore
	stored.Rate = src.Rate
	stored.IPFSCid = src.IPFSCid
	stored.Signature = src.Signature
	stored.ExplorerURL = src.ExplorerURL
	return nil
}

func (m *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Invoice
	for _, inv := range m.invoices {
		if inv.Sold && !filter.IncludeSold {
			continue
		}
		if !filter.After.Precedes(inv.MintedAt, inv.ID) {
			continue
		}
		out = append(out, cloneInvoice(inv))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MintedAt.Equal(out[j].MintedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].MintedAt.After(out[j].MintedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkSold(ctx context.Context, id, buyer string, price decimal.Decimal, at time.Time) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	if inv.Sold {
		return nil, ErrAlreadySold
	}
	inv.Sold = true
	inv.Buyer = buyer
	inv.SalePrice = &price
	inv.SoldAt = &at
	return cloneInvoice(inv), nil
}

func cloneInvoice(inv *Invoice) *Invoice {
	cp := *inv
	if inv.RiskScore != nil {
		v := *inv.RiskScore
		cp.RiskScore = &v
	}
	if inv.Rate != nil {
		r := *inv.Rate
		cp.Rate = &r
	}
	if inv.SalePrice != nil {
		p := *inv.SalePrice
		cp.SalePrice = &p
	}
	if inv.SoldAt != nil {
		t := *inv.SoldAt
		cp.SoldAt = &t
	}
	return &cp
}
