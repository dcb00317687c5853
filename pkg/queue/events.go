package queue

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Topics for custody events
const (
	TopicDepositConfirmed    = "custody.deposit.confirmed"
	TopicDepositFailed       = "custody.deposit.failed"
	TopicWithdrawalConfirmed = "custody.withdrawal.confirmed"
	TopicWithdrawalFailed    = "custody.withdrawal.failed"
	TopicWithdrawalCanceled  = "custody.withdrawal.canceled"
)

// DepositEvent is emitted when a deposit reaches a terminal state
type DepositEvent struct {
	DepositID uuid.UUID       `json:"deposit_id"`
	UserID    uuid.UUID       `json:"user_id"`
	Chain     string          `json:"chain"`
	AssetID   string          `json:"asset_id"`
	Amount    decimal.Decimal `json:"amount"`
	TxHash    string          `json:"tx_hash"`
	Timestamp time.Time       `json:"timestamp"`
}

// WithdrawalEvent is emitted when a withdrawal reaches a terminal state
type WithdrawalEvent struct {
	WithdrawalID uuid.UUID       `json:"withdrawal_id"`
	UserID       uuid.UUID       `json:"user_id"`
	Chain        string          `json:"chain"`
	AssetID      string          `json:"asset_id"`
	Amount       decimal.Decimal `json:"amount"`
	Status       string          `json:"status"`
	TxHash       string          `json:"tx_hash,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}
