package entities

import "time"

// ChainWatermark is the per-chain scan cursor. The watcher persists it
// in the same transaction as the block's deposits so a crash never
// skips or double-counts a block.
type ChainWatermark struct {
	Chain       Chain     `json:"chain" db:"chain"`
	BlockHeight int64     `json:"block_height" db:"block_height"`
	BlockHash   string    `json:"block_hash" db:"block_hash"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// ConfirmationSweepResult summarizes one pass of the confirmation
// tracker over pending deposits.
type ConfirmationSweepResult struct {
	Checked   int `json:"checked"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
}
