package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	domainerrors "github.com/stacklayer/custody-service/internal/domain/errors"
	"github.com/stacklayer/custody-service/internal/infrastructure/cache"
	"github.com/stacklayer/custody-service/pkg/logger"
	"github.com/stacklayer/custody-service/pkg/metrics"
)

const balanceCacheTTL = 30 * time.Second

// Repository is the persistence surface the ledger service needs
type Repository interface {
	Append(ctx context.Context, entry *entities.LedgerEntry) error
	AppendAll(ctx context.Context, entries []*entities.LedgerEntry) error
	GetBalance(ctx context.Context, userID uuid.UUID, assetID string) (*entities.Balance, error)
	GetEntries(ctx context.Context, userID uuid.UUID, assetID string, limit, offset int) ([]*entities.LedgerEntry, error)
	HasEntry(ctx context.Context, reason entities.EntryReason, refID uuid.UUID, bucket entities.BalanceBucket) (bool, error)
	AssetTotals(ctx context.Context, assetID string) (available, locked decimal.Decimal, err error)
}

// Service owns all balance mutations. Every write funnels through the
// per-(user, asset) mutex, so check-then-append sequences cannot
// interleave for the same account.
type Service struct {
	repo   Repository
	cache  cache.RedisClient
	logger *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a new ledger service. cache may be nil.
func NewService(repo Repository, redis cache.RedisClient, logger *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  redis,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *Service) accountLock(userID uuid.UUID, assetID string) *sync.Mutex {
	key := userID.String() + ":" + assetID
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

func balanceCacheKey(userID uuid.UUID, assetID string) string {
	return fmt.Sprintf("balance:%s:%s", userID, assetID)
}

func (s *Service) invalidateBalance(ctx context.Context, userID uuid.UUID, assetID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, balanceCacheKey(userID, assetID)); err != nil {
		s.logger.Warn("Failed to invalidate balance cache", "error", err, "user_id", userID)
	}
}

// Credit adds funds to a user's available balance. The (reason, refID)
// pair makes the credit idempotent: crediting the same deposit twice
// appends nothing and returns nil.
func (s *Service) Credit(ctx context.Context, userID uuid.UUID, assetID string, amount decimal.Decimal, reason entities.EntryReason, refID uuid.UUID) error {
	if amount.Sign() <= 0 {
		return domainerrors.ValidationError("amount", "must be positive")
	}

	lock := s.accountLock(userID, assetID)
	lock.Lock()
	defer lock.Unlock()

	entry := newEntry(userID, assetID, entities.BucketAvailable, amount, reason, refID)
	if err := s.repo.Append(ctx, entry); err != nil {
		if errors.Is(err, domainerrors.ErrDuplicateEntry) {
			s.logger.Info("Credit already applied", "reason", reason, "ref_id", refID)
			return nil
		}
		return fmt.Errorf("credit: %w", err)
	}

	metrics.LedgerEntriesTotal.WithLabelValues(string(reason)).Inc()
	s.invalidateBalance(ctx, userID, assetID)
	return nil
}

// Lock moves funds from available to locked for a withdrawal. It fails
// with ErrInsufficientFunds when the available balance cannot cover
// the amount.
func (s *Service) Lock(ctx context.Context, userID uuid.UUID, assetID string, amount decimal.Decimal, refID uuid.UUID) error {
	if amount.Sign() <= 0 {
		return domainerrors.ValidationError("amount", "must be positive")
	}

	lock := s.accountLock(userID, assetID)
	lock.Lock()
	defer lock.Unlock()

	balance, err := s.repo.GetBalance(ctx, userID, assetID)
	if err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	if balance.Available.LessThan(amount) {
		return domainerrors.InsufficientFundsError(balance.Available.String(), amount.String())
	}

	entries := []*entities.LedgerEntry{
		newEntry(userID, assetID, entities.BucketAvailable, amount.Neg(), entities.ReasonWithdrawalLock, refID),
		newEntry(userID, assetID, entities.BucketLocked, amount, entities.ReasonWithdrawalLock, refID),
	}
	if err := s.repo.AppendAll(ctx, entries); err != nil {
		if errors.Is(err, domainerrors.ErrDuplicateEntry) {
			s.logger.Info("Lock already applied", "ref_id", refID)
			return nil
		}
		return fmt.Errorf("lock: %w", err)
	}

	metrics.LedgerEntriesTotal.WithLabelValues(string(entities.ReasonWithdrawalLock)).Add(2)
	s.invalidateBalance(ctx, userID, assetID)
	return nil
}

// hasLock reports whether the withdrawal's lock entry is on the books.
// Unlock and Debit offset that entry; without it they would create
// balance from nothing.
func (s *Service) hasLock(ctx context.Context, refID uuid.UUID) (bool, error) {
	return s.repo.HasEntry(ctx, entities.ReasonWithdrawalLock, refID, entities.BucketLocked)
}

// Unlock returns locked funds to available after a withdrawal was
// canceled or failed before leaving custody.
func (s *Service) Unlock(ctx context.Context, userID uuid.UUID, assetID string, amount decimal.Decimal, refID uuid.UUID) error {
	if amount.Sign() <= 0 {
		return domainerrors.ValidationError("amount", "must be positive")
	}

	lock := s.accountLock(userID, assetID)
	lock.Lock()
	defer lock.Unlock()

	held, err := s.hasLock(ctx, refID)
	if err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	if !held {
		return domainerrors.NoMatchingLockError(refID.String())
	}

	entries := []*entities.LedgerEntry{
		newEntry(userID, assetID, entities.BucketLocked, amount.Neg(), entities.ReasonWithdrawalUnlock, refID),
		newEntry(userID, assetID, entities.BucketAvailable, amount, entities.ReasonWithdrawalUnlock, refID),
	}
	if err := s.repo.AppendAll(ctx, entries); err != nil {
		if errors.Is(err, domainerrors.ErrDuplicateEntry) {
			s.logger.Info("Unlock already applied", "ref_id", refID)
			return nil
		}
		return fmt.Errorf("unlock: %w", err)
	}

	metrics.LedgerEntriesTotal.WithLabelValues(string(entities.ReasonWithdrawalUnlock)).Add(2)
	s.invalidateBalance(ctx, userID, assetID)
	return nil
}

// Debit removes locked funds once the withdrawal transaction has been
// broadcast. Funds leave the ledger here and nowhere else.
func (s *Service) Debit(ctx context.Context, userID uuid.UUID, assetID string, amount decimal.Decimal, refID uuid.UUID) error {
	if amount.Sign() <= 0 {
		return domainerrors.ValidationError("amount", "must be positive")
	}

	lock := s.accountLock(userID, assetID)
	lock.Lock()
	defer lock.Unlock()

	held, err := s.hasLock(ctx, refID)
	if err != nil {
		return fmt.Errorf("debit: %w", err)
	}
	if !held {
		return domainerrors.NoMatchingLockError(refID.String())
	}

	entry := newEntry(userID, assetID, entities.BucketLocked, amount.Neg(), entities.ReasonWithdrawalDebit, refID)
	if err := s.repo.Append(ctx, entry); err != nil {
		if errors.Is(err, domainerrors.ErrDuplicateEntry) {
			s.logger.Info("Debit already applied", "ref_id", refID)
			return nil
		}
		return fmt.Errorf("debit: %w", err)
	}

	metrics.LedgerEntriesTotal.WithLabelValues(string(entities.ReasonWithdrawalDebit)).Inc()
	s.invalidateBalance(ctx, userID, assetID)
	return nil
}

// HasCredit reports whether a deposit's credit already landed. The
// confirmation sweep consults this before failing a retracted deposit:
// a credit with no deposit backing it needs an operator, not a status
// flip.
func (s *Service) HasCredit(ctx context.Context, refID uuid.UUID) (bool, error) {
	return s.repo.HasEntry(ctx, entities.ReasonDeposit, refID, entities.BucketAvailable)
}

// HasDebit reports whether the withdrawal's debit already landed.
// Used when deciding between unlock and compensation after a failure.
func (s *Service) HasDebit(ctx context.Context, refID uuid.UUID) (bool, error) {
	return s.repo.HasEntry(ctx, entities.ReasonWithdrawalDebit, refID, entities.BucketLocked)
}

// Compensate re-credits a user after a broadcast transaction dropped
// out of the chain. The debit row stays; the compensation is its own
// entry so the history shows both movements.
func (s *Service) Compensate(ctx context.Context, userID uuid.UUID, assetID string, amount decimal.Decimal, refID uuid.UUID) error {
	lock := s.accountLock(userID, assetID)
	lock.Lock()
	defer lock.Unlock()

	entry := newEntry(userID, assetID, entities.BucketAvailable, amount, entities.ReasonWithdrawalUnlock, refID)
	if err := s.repo.Append(ctx, entry); err != nil {
		if errors.Is(err, domainerrors.ErrDuplicateEntry) {
			return nil
		}
		return fmt.Errorf("compensate: %w", err)
	}

	metrics.LedgerEntriesTotal.WithLabelValues(string(entities.ReasonWithdrawalUnlock)).Inc()
	s.invalidateBalance(ctx, userID, assetID)
	return nil
}

// GetBalance returns a user's balance, served from cache when warm
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID, assetID string) (*entities.Balance, error) {
	if s.cache != nil {
		var cached entities.Balance
		err := s.cache.Get(ctx, balanceCacheKey(userID, assetID), &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("Balance cache read failed", "error", err)
		}
	}

	balance, err := s.repo.GetBalance(ctx, userID, assetID)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, balanceCacheKey(userID, assetID), balance, balanceCacheTTL); err != nil {
			s.logger.Warn("Balance cache write failed", "error", err)
		}
	}

	return balance, nil
}

// GetEntries returns a user's ledger history for an asset
func (s *Service) GetEntries(ctx context.Context, userID uuid.UUID, assetID string, limit, offset int) ([]*entities.LedgerEntry, error) {
	return s.repo.GetEntries(ctx, userID, assetID, limit, offset)
}

// CheckConservation verifies that no account holds a negative bucket
// sum and returns the asset-wide totals for comparison against chain
// holdings. A negative bucket means an invariant was violated and the
// asset should be frozen for investigation.
func (s *Service) CheckConservation(ctx context.Context, assetID string) (available, locked decimal.Decimal, err error) {
	available, locked, err = s.repo.AssetTotals(ctx, assetID)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("conservation totals: %w", err)
	}

	if available.Sign() < 0 || locked.Sign() < 0 {
		return available, locked, fmt.Errorf("%w: asset %s has negative totals (available=%s locked=%s)",
			domainerrors.ErrConservation, assetID, available, locked)
	}

	return available, locked, nil
}

func newEntry(userID uuid.UUID, assetID string, bucket entities.BalanceBucket, amount decimal.Decimal, reason entities.EntryReason, refID uuid.UUID) *entities.LedgerEntry {
	return &entities.LedgerEntry{
		ID:        uuid.New(),
		UserID:    userID,
		AssetID:   assetID,
		Bucket:    bucket,
		Amount:    amount,
		Reason:    reason,
		RefID:     refID,
		CreatedAt: time.Now().UTC(),
	}
}
