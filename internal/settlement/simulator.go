package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/silkroad/internal/metrics"
	"github.com/mbd888/silkroad/internal/syncutil"
	"github.com/mbd888/silkroad/internal/traces"
)

// Kind styles a notification.
type Kind string

const (
	KindLoading Kind = "loading"
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Notification is one progress message from a simulation.
type Notification struct {
	SettlementID string    `json:"settlementId"`
	Step         int       `json:"step"`
	Kind         Kind      `json:"kind"`
	Message      string    `json:"message"`
	Final        bool      `json:"final"`
	Timestamp    time.Time `json:"timestamp"`
}

// Step is one scripted stage: wait Delay, optionally settle, then emit.
type Step struct {
	Delay   time.Duration
	Kind    Kind
	Message string
	Settle  bool
}

// DefaultScript is the wire-then-release sequence.
var DefaultScript = []Step{
	{Delay: 0, Kind: KindLoading, Message: "Connecting to Circle API..."},
	{Delay: 2 * time.Second, Kind: KindSuccess, Message: "Oracle Alert: Wire Received via Circle API..."},
	{Delay: 1500 * time.Millisecond, Kind: KindLoading, Message: "Settling Loan on Solana..."},
	{Delay: time.Second, Kind: KindSuccess, Message: "Settlement Complete! USDC Released to Investor.", Settle: true},
}

// FailureMessage is emitted when the terminal step cannot be stored.
const FailureMessage = "Simulation failed"

// Clock paces the script.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Option configures a Simulator.
type Option func(*Simulator)

func WithClock(c Clock) Option                { return func(s *Simulator) { s.clock = c } }
func WithScript(steps []Step) Option          { return func(s *Simulator) { s.script = steps } }
func WithLogger(l *slog.Logger) Option        { return func(s *Simulator) { s.logger = l } }
func WithNotify(fn func(Notification)) Option { return func(s *Simulator) { s.notify = fn } }

// Simulator runs one settlement at a time across the whole system.
type Simulator struct {
	store  Store
	lock   *syncutil.Mutex
	clock  Clock
	script []Step
	logger *slog.Logger
	notify func(Notification)
}

// NewSimulator creates a simulator over store.
func NewSimulator(store Store, opts ...Option) *Simulator {
	s := &Simulator{
		store:  store,
		lock:   syncutil.NewMutex(),
		clock:  realClock{},
		script: DefaultScript,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Busy reports whether a simulation is running.
func (s *Simulator) Busy() bool {
	return s.lock.Locked()
}

// Simulate starts settling record id and streams its progress. The channel
// is closed after the final notification, or early if ctx is cancelled, in
// which case the record is left pending.
func (s *Simulator) Simulate(ctx context.Context, id string) (<-chan Notification, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusPaid {
		return nil, ErrAlreadyPaid
	}

	unlock, ok := s.lock.TryLock()
	if !ok {
		metrics.SettlementsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrSimulationInProgress
	}

	// Another run may have settled the record before we took the lock.
	rec, err = s.store.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}
	if rec.Status == StatusPaid {
		unlock()
		return nil, ErrAlreadyPaid
	}

	out := make(chan Notification, len(s.script))
	go s.run(ctx, rec, out, unlock)
	return out, nil
}

func (s *Simulator) run(ctx context.Context, rec *Record, out chan<- Notification, unlock func()) {
	defer close(out)
	defer unlock()

	ctx, span := traces.StartSpan(ctx, "settlement.simulate", traces.SettlementID(rec.ID))
	defer span.End()

	log := s.logger.With("settlement_id", rec.ID)
	log.Info("settlement simulation started", "debtor", rec.Debtor, "amount", rec.Amount.String())

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in settlement simulation", "panic", fmt.Sprint(r))
			metrics.SettlementsTotal.WithLabelValues("failed").Inc()
		}
	}()

	for i, step := range s.script {
		if step.Delay > 0 {
			select {
			case <-ctx.Done():
				log.Warn("settlement simulation cancelled", "step", i+1)
				metrics.SettlementsTotal.WithLabelValues("cancelled").Inc()
				return
			case <-s.clock.After(step.Delay):
			}
		}
		if ctx.Err() != nil {
			metrics.SettlementsTotal.WithLabelValues("cancelled").Inc()
			return
		}

		final := i == len(s.script)-1
		if step.Settle {
			if err := s.store.MarkPaid(ctx, rec.ID, s.clock.Now()); err != nil {
				traces.RecordError(span, err)
				log.Error("failed to mark settlement paid", "error", err)
				metrics.SettlementsTotal.WithLabelValues("failed").Inc()
				s.emit(out, Notification{SettlementID: rec.ID, Step: i + 1, Kind: KindError, Message: FailureMessage, Final: true})
				return
			}
		}

		s.emit(out, Notification{
			SettlementID: rec.ID,
			Step:         i + 1,
			Kind:         step.Kind,
			Message:      step.Message,
			Final:        final,
		})
	}

	metrics.SettlementsTotal.WithLabelValues("paid").Inc()
	log.Info("settlement simulation complete")
}

// emit never blocks: out has room for every step.
func (s *Simulator) emit(out chan<- Notification, n Notification) {
	n.Timestamp = s.clock.Now()
	out <- n
	if s.notify != nil {
		s.notify(n)
	}
}

// List returns the book.
func (s *Simulator) List(ctx context.Context) ([]*Record, error) {
	return s.store.List(ctx)
}

// Stats summarises the book.
func (s *Simulator) Stats(ctx context.Context) (Stats, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Summarize(records), nil
}
