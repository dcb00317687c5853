package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	domainerrors "github.com/stacklayer/custody-service/internal/domain/errors"
)

// LedgerRepository handles the append-only ledger. There are no UPDATE
// or DELETE statements here on purpose.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append inserts one ledger entry. The unique constraint on
// (reason, ref_id, bucket) turns a replayed business event into
// ErrDuplicateEntry instead of a double credit.
func (r *LedgerRepository) Append(ctx context.Context, entry *entities.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (id, user_id, asset_id, bucket, amount, reason, ref_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.AssetID,
		entry.Bucket,
		entry.Amount,
		entry.Reason,
		entry.RefID,
		entry.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domainerrors.ErrDuplicateEntry
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	return nil
}

// AppendAll inserts a batch of entries atomically. Either the whole
// batch lands or none of it; a duplicate anywhere aborts the batch
// with ErrDuplicateEntry.
func (r *LedgerRepository) AppendAll(ctx context.Context, entries []*entities.LedgerEntry) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO ledger_entries (id, user_id, asset_id, bucket, amount, reason, ref_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for _, entry := range entries {
		_, err = tx.ExecContext(ctx, query,
			entry.ID, entry.UserID, entry.AssetID, entry.Bucket,
			entry.Amount, entry.Reason, entry.RefID, entry.CreatedAt,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return domainerrors.ErrDuplicateEntry
			}
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger batch: %w", err)
	}
	return nil
}

// GetBalance folds a user's entries into available and locked sums
func (r *LedgerRepository) GetBalance(ctx context.Context, userID uuid.UUID, assetID string) (*entities.Balance, error) {
	query := `
		SELECT bucket, COALESCE(SUM(amount), 0) AS total
		FROM ledger_entries
		WHERE user_id = $1 AND asset_id = $2
		GROUP BY bucket
	`

	rows := []struct {
		Bucket entities.BalanceBucket `db:"bucket"`
		Total  decimal.Decimal        `db:"total"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, userID, assetID); err != nil {
		return nil, fmt.Errorf("failed to fold balance: %w", err)
	}

	balance := &entities.Balance{
		UserID:    userID,
		AssetID:   assetID,
		Available: decimal.Zero,
		Locked:    decimal.Zero,
	}
	for _, row := range rows {
		switch row.Bucket {
		case entities.BucketAvailable:
			balance.Available = row.Total
		case entities.BucketLocked:
			balance.Locked = row.Total
		}
	}

	return balance, nil
}

// GetEntries returns a user's entries for an asset, newest first
func (r *LedgerRepository) GetEntries(ctx context.Context, userID uuid.UUID, assetID string, limit, offset int) ([]*entities.LedgerEntry, error) {
	query := `
		SELECT id, user_id, asset_id, bucket, amount, reason, ref_id, created_at
		FROM ledger_entries
		WHERE user_id = $1 AND asset_id = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	var entries []*entities.LedgerEntry
	if err := r.db.SelectContext(ctx, &entries, query, userID, assetID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to get ledger entries: %w", err)
	}

	return entries, nil
}

// HasEntry reports whether an entry exists for (reason, refID, bucket)
func (r *LedgerRepository) HasEntry(ctx context.Context, reason entities.EntryReason, refID uuid.UUID, bucket entities.BalanceBucket) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM ledger_entries WHERE reason = $1 AND ref_id = $2 AND bucket = $3`
	if err := r.db.GetContext(ctx, &count, query, reason, refID, bucket); err != nil {
		return false, fmt.Errorf("failed to check ledger entry: %w", err)
	}
	return count > 0, nil
}

// AssetTotals returns the ledger-wide sum per bucket for one asset.
// Used by the conservation check against on-chain holdings.
func (r *LedgerRepository) AssetTotals(ctx context.Context, assetID string) (available, locked decimal.Decimal, err error) {
	query := `
		SELECT bucket, COALESCE(SUM(amount), 0) AS total
		FROM ledger_entries
		WHERE asset_id = $1
		GROUP BY bucket
	`

	rows := []struct {
		Bucket entities.BalanceBucket `db:"bucket"`
		Total  decimal.Decimal        `db:"total"`
	}{}
	if err = r.db.SelectContext(ctx, &rows, query, assetID); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to sum asset totals: %w", err)
	}

	available, locked = decimal.Zero, decimal.Zero
	for _, row := range rows {
		switch row.Bucket {
		case entities.BucketAvailable:
			available = row.Total
		case entities.BucketLocked:
			locked = row.Total
		}
	}
	return available, locked, nil
}
