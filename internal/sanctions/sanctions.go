// Package sanctions screens wallet addresses against an external risk API.
//
// Screening is fail-open: an unconfigured, unreachable or misbehaving
// service yields a not-risky Result so that outages never block a
// purchase. Every fallback is tagged with an Outcome so callers can tell a
// genuine clearance from a default.
package sanctions

import (
	"context"
	"time"
)

// Outcome classifies how a Result was reached.
type Outcome string

const (
	OutcomeCleared  Outcome = "cleared"   // service answered, score at or below threshold
	OutcomeFlagged  Outcome = "flagged"   // service answered, score above threshold
	OutcomeDemoMode Outcome = "demo_mode" // no API key configured
	OutcomeDegraded Outcome = "degraded"  // service failed; defaulted to compliant
)

// RiskThreshold is the exclusive cutoff on the service's 0-10 scale:
// a score strictly greater than this is risky.
const RiskThreshold = 7.0

// Chain is the chain parameter sent with every request.
const Chain = "solana"

// Detail strings returned with fallback and default results.
const (
	DetailDemoMode    = "demo mode"
	DetailUnavailable = "service unavailable, defaulting to compliant"
	DetailCleared     = "wallet cleared"
	DetailHighRisk    = "high risk score detected"
)

// Result is the outcome of one screening attempt.
type Result struct {
	ID         string    `json:"id"`
	Address    string    `json:"address"`
	IsRisky    bool      `json:"isRisky"`
	Score      *float64  `json:"score,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Outcome    Outcome   `json:"outcome"`
	ScreenedAt time.Time `json:"screenedAt"`
}

// Fallback reports whether the result is a default rather than a real answer.
func (r Result) Fallback() bool {
	return r.Outcome == OutcomeDemoMode || r.Outcome == OutcomeDegraded
}

// Store persists screening results for audit.
type Store interface {
	Record(ctx context.Context, result *Result) error
	ListByAddress(ctx context.Context, address string, limit int) ([]*Result, error)
}
