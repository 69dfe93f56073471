// Package settlement tracks the debtor repayments owed to investors and
// simulates the off-chain wire plus on-chain release that settles them.
package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound             = errors.New("settlement: record not found")
	ErrAlreadyPaid          = errors.New("settlement: record already paid")
	ErrSimulationInProgress = errors.New("settlement: another simulation is running")
)

// Status is a record's repayment state.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
)

// Record is one repayment owed to an investor.
type Record struct {
	ID        string          `json:"id"`
	Debtor    string          `json:"debtor"`
	InvoiceID string          `json:"invoiceId"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	DueDate   time.Time       `json:"dueDate"`
	Investor  string          `json:"investor"`
	Status    Status          `json:"status"`
	PaidAt    *time.Time      `json:"paidAt,omitempty"`
}

// Stats summarises the book.
type Stats struct {
	TotalPending decimal.Decimal `json:"totalPending"`
	TotalSettled decimal.Decimal `json:"totalSettled"`
	PendingCount int             `json:"pendingCount"`
}

// Summarize computes Stats over records.
func Summarize(records []*Record) Stats {
	s := Stats{TotalPending: decimal.Zero, TotalSettled: decimal.Zero}
	for _, r := range records {
		switch r.Status {
		case StatusPending:
			s.TotalPending = s.TotalPending.Add(r.Amount)
			s.PendingCount++
		case StatusPaid:
			s.TotalSettled = s.TotalSettled.Add(r.Amount)
		}
	}
	return s
}

// Store persists settlement records.
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context) ([]*Record, error)
	// MarkPaid flips a pending record to paid. It returns ErrAlreadyPaid
	// for a record that is not pending.
	MarkPaid(ctx context.Context, id string, at time.Time) error
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// DemoBook is the default book seeded into a fresh memory store.
func DemoBook() []*Record {
	return []*Record{
		{ID: "SET-001", Debtor: "Nokia Corporation", InvoiceID: "INV-2024-8847", Amount: decimal.NewFromInt(125000), Currency: "USD", DueDate: date("2024-02-15"), Investor: "0x7a3...f9c2", Status: StatusPending},
		{ID: "SET-002", Debtor: "Tesla Inc.", InvoiceID: "INV-2024-7721", Amount: decimal.NewFromInt(89500), Currency: "USD", DueDate: date("2024-02-10"), Investor: "0x4b1...a8e3", Status: StatusPending},
		{ID: "SET-003", Debtor: "Siemens AG", InvoiceID: "INV-2024-6632", Amount: decimal.NewFromInt(67200), Currency: "USD", DueDate: date("2024-02-08"), Investor: "0x9c2...b4d1", Status: StatusPaid},
		{ID: "SET-004", Debtor: "Samsung Electronics", InvoiceID: "INV-2024-5519", Amount: decimal.NewFromInt(234800), Currency: "USD", DueDate: date("2024-02-20"), Investor: "0x2e7...c5f8", Status: StatusPending},
		{ID: "SET-005", Debtor: "Microsoft Corp", InvoiceID: "INV-2024-4401", Amount: decimal.NewFromInt(156000), Currency: "USD", DueDate: date("2024-02-12"), Investor: "0x6d4...e9a7", Status: StatusPending},
	}
}
