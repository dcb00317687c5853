package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryReason classifies a ledger entry by the business event that
// produced it. Together with RefID it forms the idempotency key: the
// same event applied twice produces one row.
type EntryReason string

const (
	ReasonDeposit          EntryReason = "deposit"
	ReasonWithdrawalLock   EntryReason = "withdrawal_lock"
	ReasonWithdrawalDebit  EntryReason = "withdrawal_debit"
	ReasonWithdrawalUnlock EntryReason = "withdrawal_unlock"
)

// ValidEntryReasons contains all valid entry reasons
var ValidEntryReasons = map[EntryReason]bool{
	ReasonDeposit:          true,
	ReasonWithdrawalLock:   true,
	ReasonWithdrawalDebit:  true,
	ReasonWithdrawalUnlock: true,
}

// IsValid checks if the reason is a valid entry reason
func (r EntryReason) IsValid() bool {
	return ValidEntryReasons[r]
}

// BalanceBucket names the sub-account an entry moves value in.
type BalanceBucket string

const (
	BucketAvailable BalanceBucket = "available"
	BucketLocked    BalanceBucket = "locked"
)

// LedgerEntry is one immutable row in the append-only ledger. Entries
// are never updated or deleted; balances are folds over entries.
type LedgerEntry struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	UserID    uuid.UUID       `json:"user_id" db:"user_id"`
	AssetID   string          `json:"asset_id" db:"asset_id"`
	Bucket    BalanceBucket   `json:"bucket" db:"bucket"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Reason    EntryReason     `json:"reason" db:"reason"`
	RefID     uuid.UUID       `json:"ref_id" db:"ref_id"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Balance is the folded view of a user's holdings in one asset.
type Balance struct {
	UserID    uuid.UUID       `json:"user_id"`
	AssetID   string          `json:"asset_id"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

// Total returns available plus locked.
func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}
