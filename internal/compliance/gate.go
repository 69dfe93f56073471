package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/silkroad/internal/metrics"
	"github.com/mbd888/silkroad/internal/sanctions"
	"github.com/mbd888/silkroad/internal/traces"
)

// Gate runs one buyer's compliance sequence. Opening it again discards the
// previous attempt entirely; sequences never interleave.
type Gate struct {
	id       string
	screener Screener
	clock    Clock
	delays   Delays
	logger   *slog.Logger
	observer Observer
	base     context.Context

	mu     sync.Mutex
	snap   Snapshot
	gen    uint64 // bumped by Open/Close; stale sequences check it before writing
	cancel context.CancelFunc
	done   chan struct{}
}

// GateOption configures a Gate.
type GateOption func(*Gate)

func WithClock(c Clock) GateOption         { return func(g *Gate) { g.clock = c } }
func WithDelays(d Delays) GateOption       { return func(g *Gate) { g.delays = d } }
func WithLogger(l *slog.Logger) GateOption { return func(g *Gate) { g.logger = l } }
func WithObserver(o Observer) GateOption   { return func(g *Gate) { g.observer = o } }

// WithBaseContext bounds every sequence by ctx, e.g. the server's run context.
func WithBaseContext(ctx context.Context) GateOption { return func(g *Gate) { g.base = ctx } }

// NewGate creates an idle gate.
func NewGate(id string, screener Screener, opts ...GateOption) *Gate {
	g := &Gate{
		id:       id,
		screener: screener,
		clock:    realClock{},
		delays:   DefaultDelays,
		logger:   slog.Default(),
		base:     context.Background(),
	}
	for _, opt := range opts {
		opt(g)
	}
	done := make(chan struct{})
	close(done)
	g.done = done
	g.snap = g.idleSnapshot("")
	return g
}

// ID returns the gate's identifier.
func (g *Gate) ID() string { return g.id }

// Open resets the gate and starts a fresh sequence for walletAddress,
// cancelling any sequence already in flight.
func (g *Gate) Open(walletAddress string) {
	ctx, cancel := context.WithCancel(g.base)
	done := make(chan struct{})

	g.mu.Lock()
	if g.cancel != nil {
		g.cancel()
	}
	g.gen++
	gen := g.gen
	g.cancel = cancel
	g.done = done
	g.snap = g.idleSnapshot(walletAddress)
	snap := g.snap
	g.mu.Unlock()

	g.logger.Info("compliance gate opened", "gate_id", g.id, "wallet", walletAddress)
	g.notify(snap)

	metrics.ActiveGates.Inc()
	go g.run(ctx, gen, walletAddress, done)
}

// Close cancels any in-flight sequence and returns the gate to idle.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.gen++
	g.snap = g.idleSnapshot(g.snap.WalletAddress)
	snap := g.snap
	g.mu.Unlock()

	g.notify(snap)
}

// CanConfirm is true iff the gate reached StateAccredited.
func (g *Gate) CanConfirm() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snap.State == StateAccredited
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snap.State
}

// Snapshot returns a copy of the gate's full state.
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snap
}

// Done is closed when the current sequence stops, by finishing or by
// being cancelled.
func (g *Gate) Done() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done
}

// Wait blocks until the current sequence stops and returns the snapshot.
func (g *Gate) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-g.Done():
		return g.Snapshot(), nil
	case <-ctx.Done():
		return g.Snapshot(), ctx.Err()
	}
}

func (g *Gate) run(ctx context.Context, gen uint64, wallet string, done chan struct{}) {
	defer close(done)
	defer metrics.ActiveGates.Dec()

	ctx, span := traces.StartSpan(ctx, "compliance.gate", traces.GateID(g.id), traces.WalletAddr(wallet))
	defer span.End()

	// Step 1: identity check (simulated, always passes).
	if !g.sleep(ctx, g.delays.Identity) {
		return
	}
	if !g.advance(gen, func(s *Snapshot) {
		s.State = StateIdentity
		s.Step = 1
	}) {
		return
	}

	// Step 2: sanctions screen.
	if !g.sleep(ctx, g.delays.Screening) {
		return
	}
	if !g.advance(gen, func(s *Snapshot) {
		s.State = StateScreening
		s.Screening = ScreeningChecking
	}) {
		return
	}

	res := g.screen(ctx, wallet)
	if ctx.Err() != nil {
		return // closed or reopened while screening
	}

	if res.IsRisky {
		if g.advance(gen, func(s *Snapshot) {
			s.State = StateBlocked
			s.Screening = ScreeningFailed
			s.Outcome = res.Outcome
			s.Detail = res.Detail
			if s.Detail == "" {
				s.Detail = "sanctions detected"
			}
		}) {
			span.SetAttributes(traces.Outcome(string(StateBlocked)))
			metrics.GateOutcomesTotal.WithLabelValues(string(StateBlocked)).Inc()
			g.logger.Warn("compliance gate blocked", "gate_id", g.id, "wallet", wallet, "detail", res.Detail)
		}
		return
	}

	if !g.advance(gen, func(s *Snapshot) {
		s.Screening = ScreeningPassed
		s.Step = 2
		s.Outcome = res.Outcome
		s.Detail = res.Detail
		s.Fallback = res.Fallback()
	}) {
		return
	}

	// Step 3: accreditation (simulated, always passes).
	if !g.sleep(ctx, g.delays.Accreditation) {
		return
	}
	if g.advance(gen, func(s *Snapshot) {
		s.State = StateAccredited
		s.Step = 3
	}) {
		span.SetAttributes(traces.Outcome(string(StateAccredited)))
		metrics.GateOutcomesTotal.WithLabelValues(string(StateAccredited)).Inc()
		g.logger.Info("compliance gate cleared", "gate_id", g.id, "wallet", wallet, "fallback", res.Fallback())
	}
}

// screen shields the sequence from a misbehaving Screener. A panic is
// treated like an unavailable service: the gate continues.
func (g *Gate) screen(ctx context.Context, wallet string) (res sanctions.Result) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("screener panicked, defaulting to compliant", "gate_id", g.id, "panic", fmt.Sprint(r))
			res = sanctions.Result{
				Address: wallet,
				Outcome: sanctions.OutcomeDegraded,
				Detail:  sanctions.DetailUnavailable,
			}
		}
	}()
	return g.screener.Screen(ctx, wallet)
}

func (g *Gate) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-g.clock.After(d):
		return ctx.Err() == nil
	}
}

// advance applies fn if gen is still current and reports whether it did.
func (g *Gate) advance(gen uint64, fn func(s *Snapshot)) bool {
	g.mu.Lock()
	if g.gen != gen {
		g.mu.Unlock()
		return false
	}
	fn(&g.snap)
	g.snap.CanConfirm = g.snap.State == StateAccredited
	g.snap.UpdatedAt = g.clock.Now()
	snap := g.snap
	g.mu.Unlock()

	g.notify(snap)
	return true
}

func (g *Gate) idleSnapshot(wallet string) Snapshot {
	return Snapshot{
		GateID:        g.id,
		WalletAddress: wallet,
		State:         StateIdle,
		Step:          0,
		Screening:     ScreeningPending,
		UpdatedAt:     g.clock.Now(),
	}
}

func (g *Gate) notify(s Snapshot) {
	if g.observer != nil {
		g.observer.GateChanged(s)
	}
}
