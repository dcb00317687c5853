package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	domainerrors "github.com/stacklayer/custody-service/internal/domain/errors"
)

// DenylistRepository handles blocked destination addresses
type DenylistRepository struct {
	db *sqlx.DB
}

// NewDenylistRepository creates a new denylist repository
func NewDenylistRepository(db *sqlx.DB) *DenylistRepository {
	return &DenylistRepository{db: db}
}

// Add blocks a destination address
func (r *DenylistRepository) Add(ctx context.Context, entry *entities.DenylistEntry) error {
	query := `
		INSERT INTO destination_denylist (chain, address, reason, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.ExecContext(ctx, query, entry.Chain, entry.Address, entry.Reason, time.Now().UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domainerrors.ErrAlreadyExists
		}
		return fmt.Errorf("failed to add denylist entry: %w", err)
	}

	return nil
}

// Remove unblocks a destination address
func (r *DenylistRepository) Remove(ctx context.Context, chain entities.Chain, address string) error {
	query := `DELETE FROM destination_denylist WHERE chain = $1 AND address = $2`
	if _, err := r.db.ExecContext(ctx, query, chain, address); err != nil {
		return fmt.Errorf("failed to remove denylist entry: %w", err)
	}
	return nil
}

// Contains reports whether an address is blocked on a chain
func (r *DenylistRepository) Contains(ctx context.Context, chain entities.Chain, address string) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM destination_denylist WHERE chain = $1 AND address = $2`
	if err := r.db.GetContext(ctx, &count, query, chain, address); err != nil {
		return false, fmt.Errorf("failed to check denylist: %w", err)
	}
	return count > 0, nil
}

// List returns all blocked addresses
func (r *DenylistRepository) List(ctx context.Context) ([]*entities.DenylistEntry, error) {
	query := `
		SELECT chain, address, reason, created_at
		FROM destination_denylist
		ORDER BY created_at DESC
	`

	var entries []*entities.DenylistEntry
	if err := r.db.SelectContext(ctx, &entries, query); err != nil {
		return nil, fmt.Errorf("failed to list denylist: %w", err)
	}

	return entries, nil
}
