package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/silkroad/internal/idgen"
	"github.com/mbd888/silkroad/internal/logging"
	"github.com/mbd888/silkroad/internal/validation"
)

// MaxPurchaseAmount caps a single purchase (in SOL).
var MaxPurchaseAmount = decimal.NewFromInt(1_000_000)

// lamportsPerSOL converts a SOL amount to the chain's base unit.
var lamportsPerSOL = decimal.NewFromInt(1_000_000_000)

// Purchaser completes a purchase once its gate has cleared.
type Purchaser interface {
	// Available returns an error when invoiceID does not exist or is sold.
	Available(ctx context.Context, invoiceID string) error
	Purchase(ctx context.Context, invoiceID, buyer string, amount decimal.Decimal) error
}

// OpenRequest starts a gate for a buyer about to purchase an invoice.
type OpenRequest struct {
	WalletAddress string `json:"walletAddress" binding:"required"`
	InvoiceID     string `json:"invoiceId" binding:"required"`
	Price         string `json:"price"` // listing price; used when Confirm gets no amount
}

// Session is a gate plus the purchase it guards.
type Session struct {
	Snapshot
	InvoiceID string    `json:"invoiceId"`
	Price     string    `json:"price,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Receipt describes a confirmed purchase.
type Receipt struct {
	GateID      string    `json:"gateId"`
	InvoiceID   string    `json:"invoiceId"`
	Buyer       string    `json:"buyer"`
	Amount      string    `json:"amount"`
	Lamports    int64     `json:"lamports"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

type session struct {
	gate      *Gate
	invoiceID string
	price     string
	createdAt time.Time
}

// Manager owns the gates for all in-flight purchases.
type Manager struct {
	screener  Screener
	purchaser Purchaser
	gateOpts  []GateOption
	clock     Clock
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

// ManagerConfig configures the gates a Manager opens. Zero values fall
// back to DefaultDelays, the wall clock and slog.Default.
type ManagerConfig struct {
	Delays      Delays
	Clock       Clock
	Logger      *slog.Logger
	Observer    Observer
	BaseContext context.Context
}

// NewManager creates a manager.
func NewManager(screener Screener, purchaser Purchaser, cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.Delays == (Delays{}) {
		cfg.Delays = DefaultDelays
	}
	opts := []GateOption{
		WithLogger(cfg.Logger),
		WithClock(cfg.Clock),
		WithDelays(cfg.Delays),
	}
	if cfg.Observer != nil {
		opts = append(opts, WithObserver(cfg.Observer))
	}
	if cfg.BaseContext != nil {
		opts = append(opts, WithBaseContext(cfg.BaseContext))
	}
	return &Manager{
		screener:  screener,
		purchaser: purchaser,
		gateOpts:  opts,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		sessions:  make(map[string]*session),
	}
}

// Open validates req, creates a gate and starts its sequence.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	wallet := strings.TrimSpace(req.WalletAddress)
	if !validation.IsValidSolanaAddress(wallet) {
		return nil, ErrInvalidWallet
	}
	invoiceID := strings.TrimSpace(req.InvoiceID)
	if invoiceID == "" {
		return nil, ErrMissingInvoiceID
	}
	if err := m.purchaser.Available(ctx, invoiceID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvoiceUnavailable, err)
	}

	id := idgen.WithPrefix(idgen.PrefixGate)
	g := NewGate(id, m.screener, m.gateOpts...)
	s := &session{
		gate:      g,
		invoiceID: invoiceID,
		price:     strings.TrimSpace(req.Price),
		createdAt: m.clock.Now(),
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	g.Open(wallet)
	logging.L(ctx).Info("purchase gate created", "gate_id", id, "invoice_id", invoiceID)
	return s.view(), nil
}

// Get returns the gate's current view.
func (m *Manager) Get(id string) (*Session, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.view(), nil
}

// Gate returns the underlying gate, e.g. to wait on it.
func (m *Manager) Gate(id string) (*Gate, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.gate, nil
}

// Reopen restarts the sequence from idle for the same wallet.
func (m *Manager) Reopen(id string) (*Session, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	s.gate.Open(s.gate.Snapshot().WalletAddress)
	return s.view(), nil
}

// Close cancels the gate and forgets it.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrGateNotFound
	}
	s.gate.Close()
	return nil
}

// Confirm completes the purchase guarded by gate id. amount overrides the
// listing price when non-empty; its sign is ignored. The gate is closed
// after a successful purchase.
func (m *Manager) Confirm(ctx context.Context, id, amount string) (*Receipt, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	raw := strings.TrimSpace(amount)
	if raw == "" {
		raw = s.price
	}
	value, err := ParsePurchaseAmount(raw)
	if err != nil {
		return nil, err
	}

	if !s.gate.CanConfirm() {
		return nil, ErrNotConfirmable
	}

	buyer := s.gate.Snapshot().WalletAddress
	if err := m.purchaser.Purchase(ctx, s.invoiceID, buyer, value); err != nil {
		return nil, fmt.Errorf("purchase %s: %w", s.invoiceID, err)
	}

	_ = m.Close(id)

	logging.L(ctx).Info("purchase confirmed",
		"gate_id", id, "invoice_id", s.invoiceID, "buyer", buyer, "amount", value.String())

	return &Receipt{
		GateID:      id,
		InvoiceID:   s.invoiceID,
		Buyer:       buyer,
		Amount:      value.String(),
		Lamports:    value.Mul(lamportsPerSOL).Floor().IntPart(),
		ConfirmedAt: m.clock.Now(),
	}, nil
}

// CloseAll cancels every gate.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.gate.Close()
	}
}

// Len returns the number of tracked gates.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// expire forgets gates created before cutoff whose sequence has stopped.
func (m *Manager) expire(cutoff time.Time) int {
	m.mu.Lock()
	var stale []*session
	for id, s := range m.sessions {
		if !s.createdAt.Before(cutoff) {
			continue
		}
		st := s.gate.State()
		if st.Terminal() || st == StateIdle {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.gate.Close()
	}
	return len(stale)
}

func (m *Manager) lookup(id string) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrGateNotFound
	}
	return s, nil
}

func (s *session) view() *Session {
	return &Session{
		Snapshot:  s.gate.Snapshot(),
		InvoiceID: s.invoiceID,
		Price:     s.price,
		CreatedAt: s.createdAt,
	}
}

// ParsePurchaseAmount reads a purchase amount. The sign is dropped; an
// empty, non-numeric or zero value, or one above MaxPurchaseAmount, is
// rejected.
func ParsePurchaseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	d = d.Abs()
	if !d.IsPositive() || d.GreaterThan(MaxPurchaseAmount) {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}
