package invoices

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/silkroad/internal/idgen"
	"github.com/mbd888/silkroad/internal/metrics"
	"github.com/mbd888/silkroad/internal/pagination"
	"github.com/mbd888/silkroad/internal/pricing"
	"github.com/mbd888/silkroad/internal/traces"
	"github.com/mbd888/silkroad/internal/validation"
)

// List limits.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Notifier is told when listings are created or sold.
type Notifier interface {
	InvoiceListed(inv *Invoice)
	InvoiceSold(inv *Invoice)
}

// Service implements listing business logic.
type Service struct {
	store    Store
	logger   *slog.Logger
	now      func() time.Time
	notifier Notifier
}

// NewService creates a new invoice service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// WithNotifier sets the listing event sink and returns s.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// Create validates and stores a new listing.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Invoice, error) {
	amount, err := validation.ParseAmount(req.Amount)
	if err != nil {
		return nil, ErrInvalidAmount
	}
	if req.RiskScore != nil {
		if err := pricing.ValidateScore(*req.RiskScore); err != nil {
			return nil, err
		}
	}
	supplier := strings.TrimSpace(req.Supplier)
	if !validation.IsValidSolanaAddress(supplier) {
		return nil, ErrInvalidWallet
	}
	borrower := validation.SanitizeString(req.Borrower, validation.MaxStringLength)
	if borrower == "" {
		borrower = DefaultBorrower
	}
	// "::" separates label fields.
	borrower = strings.ReplaceAll(borrower, "::", ":")

	now := s.now().UTC()
	hash, err := privacyHash(amount, borrower, now, hex.EncodeToString(idgen.Salt()))
	if err != nil {
		return nil, err
	}

	inv := &Invoice{
		ID:           idgen.WithPrefix(idgen.PrefixInvoice),
		Borrower:     borrower,
		Amount:       amount,
		RiskScore:    req.RiskScore,
		Rate:         pricing.Classify(req.RiskScore),
		Supplier:     supplier,
		IPFSCid:      strings.TrimSpace(req.IPFSCid),
		PrivacyHash:  hash,
		ZKCompressed: true,
		MintedAt:     now,
	}
	if sig := strings.TrimSpace(req.Signature); sig != "" {
		inv.Signature = sig
		inv.ExplorerURL = ExplorerURL(sig)
	}

	if err := s.store.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to store invoice: %w", err)
	}
	metrics.InvoicesListedTotal.Inc()
	s.logger.Info("invoice listed", "invoice_id", inv.ID, "borrower", inv.Borrower, "amount", inv.Amount.String())
	if s.notifier != nil {
		s.notifier.InvoiceListed(inv)
	}
	return inv, nil
}

// UpdateScore sets a new risk score (nil clears it) and recomputes the rate.
func (s *Service) UpdateScore(ctx context.Context, id string, score *int) (*Invoice, error) {
	if score != nil {
		if err := pricing.ValidateScore(*score); err != nil {
			return nil, err
		}
	}
	inv, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	inv.RiskScore = score
	inv.Rate = pricing.Classify(score)
	if err := s.store.Update(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to update invoice: %w", err)
	}
	return s.store.Get(ctx, id)
}

// Get returns an invoice by ID.
func (s *Service) Get(ctx context.Context, id string) (*Invoice, error) {
	return s.store.Get(ctx, id)
}

// List returns listings, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Invoice, error) {
	if filter.Limit <= 0 || filter.Limit > MaxListLimit {
		filter.Limit = DefaultListLimit
	}
	return s.store.List(ctx, filter)
}

// Page is one slice of a paginated listing.
type Page struct {
	Invoices   []*Invoice
	NextCursor string
	HasMore    bool
}

// ListPage returns one page of listings. Pass NextCursor back as cursor to
// continue; an empty cursor starts from the newest.
func (s *Service) ListPage(ctx context.Context, filter ListFilter, cursor string) (*Page, error) {
	after, err := pagination.Decode(cursor)
	if err != nil {
		return nil, err
	}
	if filter.Limit <= 0 || filter.Limit > MaxListLimit {
		filter.Limit = DefaultListLimit
	}
	limit := filter.Limit
	filter.Limit++
	filter.After = after

	invs, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	invs, next, more := pagination.ComputePage(invs, limit, func(inv *Invoice) (time.Time, string) {
		return inv.MintedAt, inv.ID
	})
	return &Page{Invoices: invs, NextCursor: next, HasMore: more}, nil
}

// Available reports whether invoice id can still be bought: ErrNotFound
// or ErrAlreadySold otherwise.
func (s *Service) Available(ctx context.Context, id string) error {
	inv, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if inv.Sold {
		return ErrAlreadySold
	}
	return nil
}

// Purchase marks an invoice sold to buyer at price. It satisfies the
// compliance gate's Purchaser.
func (s *Service) Purchase(ctx context.Context, id, buyer string, price decimal.Decimal) error {
	ctx, span := traces.StartSpan(ctx, "invoices.purchase", traces.InvoiceID(id), traces.WalletAddr(buyer))
	defer span.End()

	inv, err := s.store.MarkSold(ctx, id, buyer, price, s.now().UTC())
	if err != nil {
		traces.RecordError(span, err)
		return err
	}
	metrics.InvoicesPurchasedTotal.Inc()
	s.logger.Info("invoice sold", "invoice_id", inv.ID, "buyer", buyer, "price", price.String())
	if s.notifier != nil {
		s.notifier.InvoiceSold(inv)
	}
	return nil
}

// ExplorerURL links a transaction signature on devnet.
func ExplorerURL(signature string) string {
	return ExplorerBase + signature + "?cluster=devnet"
}

// privacyHash commits to the listing's private fields with a random salt.
func privacyHash(amount decimal.Decimal, client string, at time.Time, salt string) (string, error) {
	payload, err := json.Marshal(struct {
		Amount string `json:"amount"`
		Client string `json:"client"`
		Date   string `json:"date"`
		Salt   string `json:"salt"`
	}{amount.String(), client, at.Format(time.RFC3339Nano), salt})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
