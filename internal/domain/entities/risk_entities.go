package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskTier is the outcome of the risk assessment on a withdrawal.
type RiskTier string

const (
	// RiskTierLow withdrawals proceed straight to execution.
	RiskTierLow RiskTier = "low"
	// RiskTierMedium withdrawals are held for operator review.
	RiskTierMedium RiskTier = "medium"
	// RiskTierHigh withdrawals are held for review and, if approved,
	// execute through the multisig path regardless of chain.
	RiskTierHigh RiskTier = "high"
)

// RequiresReview reports whether the tier routes through manual review.
func (t RiskTier) RequiresReview() bool {
	return t == RiskTierMedium || t == RiskTierHigh
}

// RiskAssessment carries the tier plus the signals that produced it,
// recorded for the operator reviewing the withdrawal.
type RiskAssessment struct {
	Tier    RiskTier `json:"tier"`
	Signals []string `json:"signals,omitempty"`
}

// DenylistEntry is a destination address blocked from withdrawals.
type DenylistEntry struct {
	Chain     Chain     `json:"chain" db:"chain"`
	Address   string    `json:"address" db:"address"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// RiskThresholds are the per-asset amount boundaries between tiers.
type RiskThresholds struct {
	ReviewAmount decimal.Decimal
	HighAmount   decimal.Decimal
}
