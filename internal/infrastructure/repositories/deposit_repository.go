package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	domainerrors "github.com/stacklayer/custody-service/internal/domain/errors"
)

// DepositRepository handles deposit persistence
type DepositRepository struct {
	db *sqlx.DB
}

// NewDepositRepository creates a new deposit repository
func NewDepositRepository(db *sqlx.DB) *DepositRepository {
	return &DepositRepository{db: db}
}

const depositColumns = `
	id, user_id, chain, tx_hash, output_index, address, asset_id, amount,
	block_height, required_confirmations, current_confirmations, status,
	created_at, updated_at, confirmed_at
`

// RecordBlock persists a scanned block's deposits and advances the
// chain watermark in one transaction. Re-scanning a block is a no-op:
// deposits upsert on (chain, tx_hash, output_index) and only pending
// rows have their confirmation count refreshed.
func (r *DepositRepository) RecordBlock(ctx context.Context, mark *entities.ChainWatermark, deposits []*entities.Deposit) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insertQuery := `
		INSERT INTO deposits (
			id, user_id, chain, tx_hash, output_index, address, asset_id, amount,
			block_height, required_confirmations, current_confirmations, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (chain, tx_hash, output_index) DO UPDATE
		SET current_confirmations = EXCLUDED.current_confirmations,
			block_height = EXCLUDED.block_height,
			updated_at = EXCLUDED.updated_at
		WHERE deposits.status = 'pending'
	`

	now := time.Now().UTC()
	for _, d := range deposits {
		_, err = tx.ExecContext(ctx, insertQuery,
			d.ID, d.UserID, d.Chain, d.TxHash, d.OutputIndex, d.Address,
			d.AssetID, d.Amount, d.BlockHeight, d.RequiredConfirmations,
			d.CurrentConfirmations, entities.DepositStatusPending, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert deposit %s: %w", d.TxHash, err)
		}
	}

	watermarkQuery := `
		INSERT INTO chain_watermarks (chain, block_height, block_hash, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain) DO UPDATE
		SET block_height = EXCLUDED.block_height,
			block_hash = EXCLUDED.block_hash,
			updated_at = EXCLUDED.updated_at
	`
	if _, err = tx.ExecContext(ctx, watermarkQuery, mark.Chain, mark.BlockHeight, mark.BlockHash, now); err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit block: %w", err)
	}
	return nil
}

// GetWatermark returns the scan cursor for a chain
func (r *DepositRepository) GetWatermark(ctx context.Context, chain entities.Chain) (*entities.ChainWatermark, error) {
	query := `
		SELECT chain, block_height, block_hash, updated_at
		FROM chain_watermarks
		WHERE chain = $1
	`

	var mark entities.ChainWatermark
	err := r.db.GetContext(ctx, &mark, query, chain)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get watermark: %w", err)
	}

	return &mark, nil
}

// RewindWatermark moves the scan cursor back after a reorg
func (r *DepositRepository) RewindWatermark(ctx context.Context, chain entities.Chain, height int64, hash string) error {
	query := `
		UPDATE chain_watermarks
		SET block_height = $2, block_hash = $3, updated_at = $4
		WHERE chain = $1
	`
	if _, err := r.db.ExecContext(ctx, query, chain, height, hash, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to rewind watermark: %w", err)
	}
	return nil
}

// GetByID retrieves a deposit by ID
func (r *DepositRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE id = $1`

	var deposit entities.Deposit
	err := r.db.GetContext(ctx, &deposit, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}

	return &deposit, nil
}

// GetByUserID retrieves deposits for a user, newest first
func (r *DepositRepository) GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.Deposit, error) {
	query := `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	var deposits []*entities.Deposit
	if err := r.db.SelectContext(ctx, &deposits, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to get deposits: %w", err)
	}

	return deposits, nil
}

// ListPending returns pending deposits oldest first
func (r *DepositRepository) ListPending(ctx context.Context, limit int) ([]*entities.Deposit, error) {
	query := `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
	`

	var deposits []*entities.Deposit
	if err := r.db.SelectContext(ctx, &deposits, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list pending deposits: %w", err)
	}

	return deposits, nil
}

// UpdateConfirmations refreshes the confirmation count on a pending deposit
func (r *DepositRepository) UpdateConfirmations(ctx context.Context, id uuid.UUID, confirmations int64) error {
	query := `
		UPDATE deposits
		SET current_confirmations = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'
	`
	if _, err := r.db.ExecContext(ctx, query, id, confirmations, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to update confirmations: %w", err)
	}
	return nil
}

// MarkConfirmed flips a pending deposit to confirmed. The status guard
// in the WHERE clause makes the flip race-free: only one caller ever
// observes rows=1, no matter how many sweeps run concurrently.
func (r *DepositRepository) MarkConfirmed(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE deposits
		SET status = 'confirmed', confirmed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`

	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to confirm deposit: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows == 1, nil
}

// MarkFailed flips a pending deposit to failed after its transaction
// was reorged out of the chain
func (r *DepositRepository) MarkFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE deposits
		SET status = 'failed', updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`

	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to mark deposit failed: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows == 1, nil
}
