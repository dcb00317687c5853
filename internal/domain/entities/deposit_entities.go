package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DepositAddress is a chain address derived for a user from the
// custody master public key. One address per (user, chain); derivation
// is deterministic so regenerating it always yields the same address.
type DepositAddress struct {
	ID             uuid.UUID `json:"id" db:"id"`
	UserID         uuid.UUID `json:"user_id" db:"user_id"`
	Chain          Chain     `json:"chain" db:"chain"`
	DerivationIndex uint32   `json:"derivation_index" db:"derivation_index"`
	Address        string    `json:"address" db:"address"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Deposit is an observed inbound transfer to a custody deposit address.
// A deposit is uniquely identified on chain by (chain, tx_hash, output_index);
// the watcher upserts rows so re-scanning a block is harmless.
type Deposit struct {
	ID                    uuid.UUID       `json:"id" db:"id"`
	UserID                uuid.UUID       `json:"user_id" db:"user_id"`
	Chain                 Chain           `json:"chain" db:"chain"`
	TxHash                string          `json:"tx_hash" db:"tx_hash"`
	OutputIndex           int             `json:"output_index" db:"output_index"`
	Address               string          `json:"address" db:"address"`
	AssetID               string          `json:"asset_id" db:"asset_id"`
	Amount                decimal.Decimal `json:"amount" db:"amount"`
	BlockHeight           int64           `json:"block_height" db:"block_height"`
	RequiredConfirmations int64           `json:"required_confirmations" db:"required_confirmations"`
	CurrentConfirmations  int64           `json:"current_confirmations" db:"current_confirmations"`
	Status                DepositStatus   `json:"status" db:"status"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at" db:"updated_at"`
	ConfirmedAt           *time.Time      `json:"confirmed_at,omitempty" db:"confirmed_at"`
}

// IsConfirmable reports whether the deposit has accumulated enough
// confirmations to be credited.
func (d *Deposit) IsConfirmable() bool {
	return d.Status == DepositStatusPending && d.CurrentConfirmations >= d.RequiredConfirmations
}
