package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	domainerrors "github.com/stacklayer/custody-service/internal/domain/errors"
)

// DepositAddressRepository handles deposit address persistence
type DepositAddressRepository struct {
	db *sqlx.DB
}

// NewDepositAddressRepository creates a new deposit address repository
func NewDepositAddressRepository(db *sqlx.DB) *DepositAddressRepository {
	return &DepositAddressRepository{db: db}
}

// NextIndex reserves the next derivation index for a chain. The
// sequence is per chain so indexes stay dense even across users.
func (r *DepositAddressRepository) NextIndex(ctx context.Context, chain entities.Chain) (uint32, error) {
	var index int64
	query := `
		INSERT INTO derivation_counters (chain, next_index)
		VALUES ($1, 1)
		ON CONFLICT (chain) DO UPDATE SET next_index = derivation_counters.next_index + 1
		RETURNING next_index - 1
	`
	if err := r.db.GetContext(ctx, &index, query, chain); err != nil {
		return 0, fmt.Errorf("failed to reserve derivation index: %w", err)
	}
	return uint32(index), nil
}

// Create inserts a deposit address. A unique constraint on
// (user_id, chain) keeps one address per user per chain.
func (r *DepositAddressRepository) Create(ctx context.Context, addr *entities.DepositAddress) error {
	query := `
		INSERT INTO deposit_addresses (id, user_id, chain, derivation_index, address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		addr.ID,
		addr.UserID,
		addr.Chain,
		addr.DerivationIndex,
		addr.Address,
		addr.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domainerrors.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create deposit address: %w", err)
	}

	return nil
}

// GetByUserAndChain retrieves a user's address on a chain
func (r *DepositAddressRepository) GetByUserAndChain(ctx context.Context, userID uuid.UUID, chain entities.Chain) (*entities.DepositAddress, error) {
	query := `
		SELECT id, user_id, chain, derivation_index, address, created_at
		FROM deposit_addresses
		WHERE user_id = $1 AND chain = $2
	`

	var addr entities.DepositAddress
	err := r.db.GetContext(ctx, &addr, query, userID, chain)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get deposit address: %w", err)
	}

	return &addr, nil
}

// GetByAddress resolves an on-chain address back to its owner
func (r *DepositAddressRepository) GetByAddress(ctx context.Context, chain entities.Chain, address string) (*entities.DepositAddress, error) {
	query := `
		SELECT id, user_id, chain, derivation_index, address, created_at
		FROM deposit_addresses
		WHERE chain = $1 AND address = $2
	`

	var addr entities.DepositAddress
	err := r.db.GetContext(ctx, &addr, query, chain, address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get deposit address: %w", err)
	}

	return &addr, nil
}

// ListByChain returns all addresses being watched on a chain
func (r *DepositAddressRepository) ListByChain(ctx context.Context, chain entities.Chain) ([]*entities.DepositAddress, error) {
	query := `
		SELECT id, user_id, chain, derivation_index, address, created_at
		FROM deposit_addresses
		WHERE chain = $1
		ORDER BY derivation_index
	`

	var addrs []*entities.DepositAddress
	if err := r.db.SelectContext(ctx, &addrs, query, chain); err != nil {
		return nil, fmt.Errorf("failed to list deposit addresses: %w", err)
	}

	return addrs, nil
}
