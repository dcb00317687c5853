package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	domainerrors "github.com/stacklayer/custody-service/internal/domain/errors"
	"github.com/stacklayer/custody-service/pkg/logger"
)

// DepositAddressRepository is the persistence surface the address
// service needs
type DepositAddressRepository interface {
	NextIndex(ctx context.Context, chain entities.Chain) (uint32, error)
	Create(ctx context.Context, addr *entities.DepositAddress) error
	GetByUserAndChain(ctx context.Context, userID uuid.UUID, chain entities.Chain) (*entities.DepositAddress, error)
	GetByAddress(ctx context.Context, chain entities.Chain, address string) (*entities.DepositAddress, error)
	ListByChain(ctx context.Context, chain entities.Chain) ([]*entities.DepositAddress, error)
}

// AddressDeriver derives deterministic deposit addresses
type AddressDeriver interface {
	Derive(chain entities.Chain, index uint32) (string, error)
}

// AddressService provisions deposit addresses lazily: a user gets an
// address on a chain the first time they ask for one.
type AddressService struct {
	repo    DepositAddressRepository
	deriver AddressDeriver
	logger  *logger.Logger
}

// NewAddressService creates a new address service
func NewAddressService(repo DepositAddressRepository, deriver AddressDeriver, logger *logger.Logger) *AddressService {
	return &AddressService{
		repo:    repo,
		deriver: deriver,
		logger:  logger,
	}
}

// GetOrCreate returns the user's deposit address on a chain, deriving
// and persisting one on first use. A lost race on the unique
// (user_id, chain) constraint falls back to reading the winner's row;
// the burned derivation index is harmless.
func (s *AddressService) GetOrCreate(ctx context.Context, userID uuid.UUID, chain entities.Chain) (*entities.DepositAddress, error) {
	if !chain.IsValid() {
		return nil, domainerrors.ValidationError("chain", "unsupported chain")
	}

	addr, err := s.repo.GetByUserAndChain(ctx, userID, chain)
	if err == nil {
		return addr, nil
	}
	if !errors.Is(err, domainerrors.ErrNotFound) {
		return nil, fmt.Errorf("get deposit address: %w", err)
	}

	index, err := s.repo.NextIndex(ctx, chain)
	if err != nil {
		return nil, fmt.Errorf("reserve index: %w", err)
	}

	derived, err := s.deriver.Derive(chain, index)
	if err != nil {
		return nil, fmt.Errorf("derive address: %w", err)
	}

	addr = &entities.DepositAddress{
		ID:              uuid.New(),
		UserID:          userID,
		Chain:           chain,
		DerivationIndex: index,
		Address:         derived,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, addr); err != nil {
		if errors.Is(err, domainerrors.ErrAlreadyExists) {
			return s.repo.GetByUserAndChain(ctx, userID, chain)
		}
		return nil, fmt.Errorf("create deposit address: %w", err)
	}

	s.logger.Info("Provisioned deposit address",
		"user_id", userID,
		"chain", chain,
		"index", index,
		"address", derived)

	return addr, nil
}

// WatchedAddresses returns the address set the watcher scans for a
// chain, keyed by on-chain address.
func (s *AddressService) WatchedAddresses(ctx context.Context, chain entities.Chain) (map[string]*entities.DepositAddress, error) {
	addrs, err := s.repo.ListByChain(ctx, chain)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}

	watched := make(map[string]*entities.DepositAddress, len(addrs))
	for _, a := range addrs {
		watched[a.Address] = a
	}
	return watched, nil
}

// Resolve maps an on-chain address back to its deposit address row
func (s *AddressService) Resolve(ctx context.Context, chain entities.Chain, address string) (*entities.DepositAddress, error) {
	return s.repo.GetByAddress(ctx, chain, chain.NormalizeAddress(address))
}
