// Package compliance implements the staged approval that gates an invoice
// purchase: a simulated identity check, a sanctions screen of the buyer's
// wallet, and a simulated accreditation check. Only a gate that reaches
// StateAccredited can confirm a purchase.
package compliance

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/silkroad/internal/sanctions"
)

// State is the gate's position in the sequence.
type State string

const (
	StateIdle       State = "idle"
	StateIdentity   State = "step1_identity"
	StateScreening  State = "step2_screening"
	StateAccredited State = "step3_accredited" // terminal success
	StateBlocked    State = "blocked"          // terminal failure
)

// Terminal reports whether no further transitions happen without a reopen.
func (s State) Terminal() bool {
	return s == StateAccredited || s == StateBlocked
}

// ScreeningStatus tracks the sanctions step separately from State so a
// caller can show "checking" while the gate sits in step 2.
type ScreeningStatus string

const (
	ScreeningPending  ScreeningStatus = "pending"
	ScreeningChecking ScreeningStatus = "checking"
	ScreeningPassed   ScreeningStatus = "passed"
	ScreeningFailed   ScreeningStatus = "failed"
)

var (
	ErrGateNotFound       = errors.New("compliance: gate not found")
	ErrNotConfirmable     = errors.New("compliance: gate has not cleared all checks")
	ErrInvalidAmount      = errors.New("compliance: invalid invoice amount")
	ErrInvalidWallet      = errors.New("compliance: invalid wallet address")
	ErrMissingInvoiceID   = errors.New("compliance: invoice id is required")
	ErrInvoiceUnavailable = errors.New("compliance: invoice is not available for purchase")
)

// Snapshot is an immutable view of a gate.
type Snapshot struct {
	GateID        string            `json:"gateId"`
	WalletAddress string            `json:"walletAddress"`
	State         State             `json:"state"`
	Step          int               `json:"step"`
	Screening     ScreeningStatus   `json:"screening"`
	Outcome       sanctions.Outcome `json:"screeningOutcome,omitempty"`
	Detail        string            `json:"detail,omitempty"`
	Fallback      bool              `json:"fallback"` // screening defaulted rather than answered
	CanConfirm    bool              `json:"canConfirm"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// Screener is the sanctions check a gate runs in step 2.
type Screener interface {
	Screen(ctx context.Context, address string) sanctions.Result
}

// Delays paces the simulated steps.
type Delays struct {
	Identity      time.Duration // open → step 1
	Screening     time.Duration // step 1 → screening call
	Accreditation time.Duration // screening passed → step 3
}

// DefaultDelays mirrors the desk's UI pacing.
var DefaultDelays = Delays{
	Identity:      1000 * time.Millisecond,
	Screening:     1200 * time.Millisecond,
	Accreditation: 1200 * time.Millisecond,
}

// Clock abstracts timers so sequences can be driven by tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Observer is told about every gate transition.
type Observer interface {
	GateChanged(Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Snapshot)

func (f ObserverFunc) GateChanged(s Snapshot) { f(s) }
