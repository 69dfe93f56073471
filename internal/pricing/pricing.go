// Package pricing maps an externally supplied invoice risk score onto one of
// three fixed interest-rate tiers.
//
// The score comes from an opaque AI oracle: 0 is safest, 100 riskiest. A
// higher score therefore buys a higher rate.
package pricing

import (
	"errors"
	"fmt"

	"github.com/mbd888/silkroad/internal/metrics"
)

// Tier is an interest-rate bracket.
type Tier string

const (
	TierPrime    Tier = "prime"
	TierStandard Tier = "standard"
	TierHighRisk Tier = "high_risk"
)

// Score bounds and tier thresholds. A score equal to a threshold lands in
// the upper tier.
const (
	MinScore          = 0
	MaxScore          = 100
	StandardThreshold = 40
	HighRiskThreshold = 70
)

// ErrScoreOutOfRange is returned for scores outside [MinScore, MaxScore].
var ErrScoreOutOfRange = errors.New("pricing: risk score out of range")

// Rate is the priced outcome of a classification.
type Rate struct {
	Tier     Tier   `json:"tier"`
	Label    string `json:"label"`    // "8.2%"
	APRBasis int    `json:"aprBasis"` // basis points, 820 for 8.2%
}

// Display renders the rate as the desk shows it, e.g. "8.2% (Standard)".
func (r Rate) Display() string {
	return fmt.Sprintf("%s (%s)", r.Label, r.Tier.Title())
}

// Title is the human-facing tier name.
func (t Tier) Title() string {
	switch t {
	case TierPrime:
		return "Prime"
	case TierStandard:
		return "Standard"
	case TierHighRisk:
		return "High Risk"
	default:
		return string(t)
	}
}

var rates = map[Tier]Rate{
	TierPrime:    {Tier: TierPrime, Label: "5.5%", APRBasis: 550},
	TierStandard: {Tier: TierStandard, Label: "8.2%", APRBasis: 820},
	TierHighRisk: {Tier: TierHighRisk, Label: "16.5%", APRBasis: 1650},
}

// RateFor returns the fixed rate of a tier.
func RateFor(t Tier) (Rate, bool) {
	r, ok := rates[t]
	return r, ok
}

// Classify returns the rate for score, or nil when the score is unknown.
// It does not range-check; see ValidateScore.
func Classify(score *int) *Rate {
	if score == nil {
		return nil
	}
	tier := TierFor(*score)
	metrics.RateClassificationsTotal.WithLabelValues(string(tier)).Inc()
	r := rates[tier]
	return &r
}

// TierFor is the pure threshold lookup behind Classify.
func TierFor(score int) Tier {
	switch {
	case score >= HighRiskThreshold:
		return TierHighRisk
	case score >= StandardThreshold:
		return TierStandard
	default:
		return TierPrime
	}
}

// ValidateScore rejects scores outside [MinScore, MaxScore].
func ValidateScore(score int) error {
	if score < MinScore || score > MaxScore {
		return fmt.Errorf("%w: %d", ErrScoreOutOfRange, score)
	}
	return nil
}
