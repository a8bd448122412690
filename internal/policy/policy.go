// Package policy maps a fraud probability to a risk label and an action.
package policy

import (
	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Band boundaries. Both p == 0.3 and p == 0.7 are medium.
const (
	mediumFrom = 0.3
	highAbove  = 0.7
)

// Decision is the outcome of the policy for one probability.
type Decision struct {
	Label  domain.RiskLabel `json:"risk_label"`
	Action domain.Action    `json:"action"`
}

// Decide is the single mapping from probability to decision.
//
//	p > 0.7         high   / block
//	0.3 <= p <= 0.7 medium / hold_for_2fa
//	p < 0.3         low    / allow
//
// NaN falls through to low.
func Decide(p float64) Decision {
	switch {
	case p > highAbove:
		return Decision{Label: domain.RiskHigh, Action: domain.ActionBlock}
	case p >= mediumFrom:
		return Decision{Label: domain.RiskMedium, Action: domain.ActionHold}
	default:
		return Decision{Label: domain.RiskLow, Action: domain.ActionAllow}
	}
}

// ShouldAlert reports whether an assessment blocks the transaction.
func ShouldAlert(a *domain.RiskAssessment) bool {
	return a != nil && a.Action == domain.ActionBlock
}
