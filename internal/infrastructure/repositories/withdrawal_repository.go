package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	domainerrors "github.com/stacklayer/custody-service/internal/domain/errors"
)

// WithdrawalRepository handles withdrawal persistence
type WithdrawalRepository struct {
	db *sqlx.DB
}

// NewWithdrawalRepository creates a new withdrawal repository
func NewWithdrawalRepository(db *sqlx.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

const withdrawalColumns = `
	id, user_id, chain, asset_id, amount, destination_address, status,
	risk_tier, execution_path, tx_hash, safe_tx_hash, failure_reason,
	reviewed_by, created_at, updated_at, completed_at
`

// Create creates a new withdrawal record
func (r *WithdrawalRepository) Create(ctx context.Context, withdrawal *entities.Withdrawal) error {
	query := `
		INSERT INTO withdrawals (
			id, user_id, chain, asset_id, amount, destination_address,
			status, risk_tier, execution_path, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		withdrawal.ID,
		withdrawal.UserID,
		withdrawal.Chain,
		withdrawal.AssetID,
		withdrawal.Amount,
		withdrawal.DestinationAddress,
		withdrawal.Status,
		withdrawal.RiskTier,
		withdrawal.ExecutionPath,
		withdrawal.CreatedAt,
		withdrawal.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create withdrawal: %w", err)
	}

	return nil
}

// GetByID retrieves a withdrawal by ID
func (r *WithdrawalRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Withdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE id = $1`

	var withdrawal entities.Withdrawal
	err := r.db.GetContext(ctx, &withdrawal, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}

	return &withdrawal, nil
}

// GetByUserID retrieves withdrawals for a user, newest first
func (r *WithdrawalRepository) GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.Withdrawal, error) {
	query := `
		SELECT ` + withdrawalColumns + `
		FROM withdrawals
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	var withdrawals []*entities.Withdrawal
	if err := r.db.SelectContext(ctx, &withdrawals, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to get withdrawals: %w", err)
	}

	return withdrawals, nil
}

// ListByStatus returns withdrawals in a status, oldest first
func (r *WithdrawalRepository) ListByStatus(ctx context.Context, status entities.WithdrawalStatus, limit int) ([]*entities.Withdrawal, error) {
	query := `
		SELECT ` + withdrawalColumns + `
		FROM withdrawals
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
	`

	var withdrawals []*entities.Withdrawal
	if err := r.db.SelectContext(ctx, &withdrawals, query, status, limit); err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}

	return withdrawals, nil
}

// Transition moves a withdrawal from one status to another. The prior
// status sits in the WHERE clause, so two racing transitions cannot
// both win: the loser sees ErrInvalidState and re-reads.
func (r *WithdrawalRepository) Transition(ctx context.Context, id uuid.UUID, from, to entities.WithdrawalStatus) error {
	if err := from.ValidateTransition(to); err != nil {
		return domainerrors.InvalidStateError(string(from), string(to))
	}

	query := `
		UPDATE withdrawals
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`

	res, err := r.db.ExecContext(ctx, query, id, from, to, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to transition withdrawal: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return domainerrors.InvalidStateError(string(from), string(to))
	}
	return nil
}

// MarkBroadcast records the broadcast transaction hash and moves the
// withdrawal from approved to broadcast
func (r *WithdrawalRepository) MarkBroadcast(ctx context.Context, id uuid.UUID, txHash string) error {
	query := `
		UPDATE withdrawals
		SET status = $2, tx_hash = $3, updated_at = $4
		WHERE id = $1 AND status = $5
	`

	res, err := r.db.ExecContext(ctx, query, id,
		entities.WithdrawalStatusBroadcast, txHash, time.Now().UTC(), entities.WithdrawalStatusApproved)
	if err != nil {
		return fmt.Errorf("failed to mark withdrawal broadcast: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return domainerrors.InvalidStateError(string(entities.WithdrawalStatusApproved), string(entities.WithdrawalStatusBroadcast))
	}
	return nil
}

// SetTxHash records the on-chain transaction hash for a withdrawal
// that is already broadcast. Multisig withdrawals flip to broadcast at
// propose time and only learn their on-chain hash once the Safe
// executes, so this bypasses the approved-to-broadcast transition.
func (r *WithdrawalRepository) SetTxHash(ctx context.Context, id uuid.UUID, txHash string) error {
	query := `
		UPDATE withdrawals
		SET tx_hash = $2, updated_at = $3
		WHERE id = $1 AND status = $4
	`

	res, err := r.db.ExecContext(ctx, query, id, txHash, time.Now().UTC(), entities.WithdrawalStatusBroadcast)
	if err != nil {
		return fmt.Errorf("failed to set tx hash: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return domainerrors.InvalidStateError(string(entities.WithdrawalStatusBroadcast), string(entities.WithdrawalStatusBroadcast))
	}
	return nil
}

// SetSafeTxHash records the multisig proposal hash
func (r *WithdrawalRepository) SetSafeTxHash(ctx context.Context, id uuid.UUID, safeTxHash string) error {
	query := `UPDATE withdrawals SET safe_tx_hash = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, safeTxHash, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set safe tx hash: %w", err)
	}
	return nil
}

// SetReviewer records which operator decided a reviewed withdrawal
func (r *WithdrawalRepository) SetReviewer(ctx context.Context, id, reviewerID uuid.UUID) error {
	query := `UPDATE withdrawals SET reviewed_by = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, reviewerID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set reviewer: %w", err)
	}
	return nil
}

// Complete moves a broadcast withdrawal to a terminal status with an
// optional failure reason
func (r *WithdrawalRepository) Complete(ctx context.Context, id uuid.UUID, from, to entities.WithdrawalStatus, failureReason string) error {
	if err := from.ValidateTransition(to); err != nil {
		return domainerrors.InvalidStateError(string(from), string(to))
	}

	query := `
		UPDATE withdrawals
		SET status = $3, failure_reason = NULLIF($4, ''), completed_at = $5, updated_at = $5
		WHERE id = $1 AND status = $2
	`

	res, err := r.db.ExecContext(ctx, query, id, from, to, failureReason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to complete withdrawal: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return domainerrors.InvalidStateError(string(from), string(to))
	}
	return nil
}

// SumCompletedSince totals a user's withdrawn amount in an asset since
// the given time. Canceled and failed requests do not count against
// velocity limits.
func (r *WithdrawalRepository) SumCompletedSince(ctx context.Context, userID uuid.UUID, assetID string, since time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM withdrawals
		WHERE user_id = $1 AND asset_id = $2 AND created_at >= $3
			AND status NOT IN ('canceled', 'failed')
	`

	var total decimal.Decimal
	if err := r.db.GetContext(ctx, &total, query, userID, assetID, since); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum withdrawals: %w", err)
	}
	return total, nil
}
