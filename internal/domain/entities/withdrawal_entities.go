package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExecutionPath selects how an approved withdrawal leaves custody.
type ExecutionPath string

const (
	// ExecutionPathHotWallet signs and broadcasts from the hot wallet.
	ExecutionPathHotWallet ExecutionPath = "hot_wallet"
	// ExecutionPathMultisig proposes the transfer to the Safe multisig
	// and waits for signers to execute it.
	ExecutionPathMultisig ExecutionPath = "multisig"
)

// Withdrawal is a user request to move funds out of custody.
type Withdrawal struct {
	ID                 uuid.UUID        `json:"id" db:"id"`
	UserID             uuid.UUID        `json:"user_id" db:"user_id"`
	Chain              Chain            `json:"chain" db:"chain"`
	AssetID            string           `json:"asset_id" db:"asset_id"`
	Amount             decimal.Decimal  `json:"amount" db:"amount"`
	DestinationAddress string           `json:"destination_address" db:"destination_address"`
	Status             WithdrawalStatus `json:"status" db:"status"`
	RiskTier           RiskTier         `json:"risk_tier" db:"risk_tier"`
	ExecutionPath      ExecutionPath    `json:"execution_path" db:"execution_path"`
	TxHash             *string          `json:"tx_hash,omitempty" db:"tx_hash"`
	SafeTxHash         *string          `json:"safe_tx_hash,omitempty" db:"safe_tx_hash"`
	FailureReason      *string          `json:"failure_reason,omitempty" db:"failure_reason"`
	ReviewedBy         *uuid.UUID       `json:"reviewed_by,omitempty" db:"reviewed_by"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at" db:"updated_at"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
}

// WithdrawalRequest is the payload for creating a withdrawal.
type WithdrawalRequest struct {
	Chain              string          `json:"chain" binding:"required"`
	AssetID            string          `json:"asset_id" binding:"required"`
	Amount             decimal.Decimal `json:"amount" binding:"required"`
	DestinationAddress string          `json:"destination_address" binding:"required"`
}

// WithdrawalReviewRequest is the payload for an operator decision on a
// withdrawal held in risk review.
type WithdrawalReviewRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason,omitempty"`
}
