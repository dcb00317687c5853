package ledger_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	domainerrors "github.com/stacklayer/custody-service/internal/domain/errors"
	"github.com/stacklayer/custody-service/internal/domain/services/ledger"
	"github.com/stacklayer/custody-service/pkg/logger"
)

// mockLedgerRepo mirrors the database behavior the service relies on:
// appends fail with ErrDuplicateEntry when the (reason, ref_id, bucket)
// posting key repeats, and balances are folds over entries.
type mockLedgerRepo struct {
	entries []*entities.LedgerEntry
}

func (m *mockLedgerRepo) postingKey(e *entities.LedgerEntry) string {
	return string(e.Reason) + ":" + e.RefID.String() + ":" + string(e.Bucket)
}

func (m *mockLedgerRepo) Append(ctx context.Context, entry *entities.LedgerEntry) error {
	for _, existing := range m.entries {
		if m.postingKey(existing) == m.postingKey(entry) {
			return domainerrors.ErrDuplicateEntry
		}
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockLedgerRepo) AppendAll(ctx context.Context, entries []*entities.LedgerEntry) error {
	for _, e := range entries {
		for _, existing := range m.entries {
			if m.postingKey(existing) == m.postingKey(e) {
				return domainerrors.ErrDuplicateEntry
			}
		}
	}
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *mockLedgerRepo) GetBalance(ctx context.Context, userID uuid.UUID, assetID string) (*entities.Balance, error) {
	balance := &entities.Balance{
		UserID:    userID,
		AssetID:   assetID,
		Available: decimal.Zero,
		Locked:    decimal.Zero,
	}
	for _, e := range m.entries {
		if e.UserID != userID || e.AssetID != assetID {
			continue
		}
		switch e.Bucket {
		case entities.BucketAvailable:
			balance.Available = balance.Available.Add(e.Amount)
		case entities.BucketLocked:
			balance.Locked = balance.Locked.Add(e.Amount)
		}
	}
	return balance, nil
}

func (m *mockLedgerRepo) GetEntries(ctx context.Context, userID uuid.UUID, assetID string, limit, offset int) ([]*entities.LedgerEntry, error) {
	var result []*entities.LedgerEntry
	for _, e := range m.entries {
		if e.UserID == userID && e.AssetID == assetID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *mockLedgerRepo) HasEntry(ctx context.Context, reason entities.EntryReason, refID uuid.UUID, bucket entities.BalanceBucket) (bool, error) {
	for _, e := range m.entries {
		if e.Reason == reason && e.RefID == refID && e.Bucket == bucket {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockLedgerRepo) AssetTotals(ctx context.Context, assetID string) (decimal.Decimal, decimal.Decimal, error) {
	available, locked := decimal.Zero, decimal.Zero
	for _, e := range m.entries {
		if e.AssetID != assetID {
			continue
		}
		switch e.Bucket {
		case entities.BucketAvailable:
			available = available.Add(e.Amount)
		case entities.BucketLocked:
			locked = locked.Add(e.Amount)
		}
	}
	return available, locked, nil
}

func newTestService() (*ledger.Service, *mockLedgerRepo) {
	repo := &mockLedgerRepo{}
	return ledger.NewService(repo, nil, logger.NewNop()), repo
}

func TestCreditIsIdempotent(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	userID := uuid.New()
	depositID := uuid.New()
	amount := decimal.NewFromFloat(1.5)

	require.NoError(t, svc.Credit(ctx, userID, "BTC", amount, entities.ReasonDeposit, depositID))
	require.NoError(t, svc.Credit(ctx, userID, "BTC", amount, entities.ReasonDeposit, depositID))

	assert.Len(t, repo.entries, 1)

	balance, err := svc.GetBalance(ctx, userID, "BTC")
	require.NoError(t, err)
	assert.True(t, balance.Available.Equal(amount), "available = %s", balance.Available)
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	err := svc.Credit(ctx, uuid.New(), "ETH", decimal.Zero, entities.ReasonDeposit, uuid.New())
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)

	err = svc.Credit(ctx, uuid.New(), "ETH", decimal.NewFromInt(-1), entities.ReasonDeposit, uuid.New())
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)
}

func TestLockMovesFundsAndChecksBalance(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, svc.Credit(ctx, userID, "ETH", decimal.NewFromInt(10), entities.ReasonDeposit, uuid.New()))

	withdrawalID := uuid.New()
	require.NoError(t, svc.Lock(ctx, userID, "ETH", decimal.NewFromInt(4), withdrawalID))

	balance, err := svc.GetBalance(ctx, userID, "ETH")
	require.NoError(t, err)
	assert.True(t, balance.Available.Equal(decimal.NewFromInt(6)))
	assert.True(t, balance.Locked.Equal(decimal.NewFromInt(4)))
	assert.True(t, balance.Total().Equal(decimal.NewFromInt(10)))
}

func TestLockFailsOnInsufficientFunds(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, svc.Credit(ctx, userID, "BTC", decimal.NewFromInt(1), entities.ReasonDeposit, uuid.New()))

	err := svc.Lock(ctx, userID, "BTC", decimal.NewFromInt(2), uuid.New())
	assert.ErrorIs(t, err, domainerrors.ErrInsufficientFunds)

	// Locked funds do not count as available.
	withdrawalID := uuid.New()
	require.NoError(t, svc.Lock(ctx, userID, "BTC", decimal.NewFromInt(1), withdrawalID))
	err = svc.Lock(ctx, userID, "BTC", decimal.NewFromInt(1), uuid.New())
	assert.ErrorIs(t, err, domainerrors.ErrInsufficientFunds)
}

func TestLockIsIdempotent(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, svc.Credit(ctx, userID, "ETH", decimal.NewFromInt(5), entities.ReasonDeposit, uuid.New()))

	withdrawalID := uuid.New()
	require.NoError(t, svc.Lock(ctx, userID, "ETH", decimal.NewFromInt(5), withdrawalID))
	// A replay of the same lock is a no-op even though available is
	// now zero.
	require.NoError(t, svc.Lock(ctx, userID, "ETH", decimal.NewFromInt(5), withdrawalID))

	balance, err := svc.GetBalance(ctx, userID, "ETH")
	require.NoError(t, err)
	assert.True(t, balance.Available.IsZero())
	assert.True(t, balance.Locked.Equal(decimal.NewFromInt(5)))
}

func TestUnlockReversesLock(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	userID := uuid.New()
	withdrawalID := uuid.New()
	amount := decimal.NewFromInt(3)

	require.NoError(t, svc.Credit(ctx, userID, "ETH", decimal.NewFromInt(10), entities.ReasonDeposit, uuid.New()))
	require.NoError(t, svc.Lock(ctx, userID, "ETH", amount, withdrawalID))
	require.NoError(t, svc.Unlock(ctx, userID, "ETH", amount, withdrawalID))

	balance, err := svc.GetBalance(ctx, userID, "ETH")
	require.NoError(t, err)
	assert.True(t, balance.Available.Equal(decimal.NewFromInt(10)))
	assert.True(t, balance.Locked.IsZero())
}

func TestUnlockWithoutLockIsRejected(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, svc.Credit(ctx, userID, "ETH", decimal.NewFromInt(10), entities.ReasonDeposit, uuid.New()))

	// A withdrawal row without a lock entry, as left by a crash
	// between row creation and the ledger lock. Unlocking it would
	// mint funds.
	err := svc.Unlock(ctx, userID, "ETH", decimal.NewFromInt(3), uuid.New())
	assert.ErrorIs(t, err, domainerrors.ErrNoMatchingLock)

	balance, err := svc.GetBalance(ctx, userID, "ETH")
	require.NoError(t, err)
	assert.True(t, balance.Available.Equal(decimal.NewFromInt(10)))
	assert.True(t, balance.Locked.IsZero())
	assert.Len(t, repo.entries, 1)
}

func TestDebitWithoutLockIsRejected(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, svc.Credit(ctx, userID, "ETH", decimal.NewFromInt(5), entities.ReasonDeposit, uuid.New()))

	err := svc.Debit(ctx, userID, "ETH", decimal.NewFromInt(5), uuid.New())
	assert.ErrorIs(t, err, domainerrors.ErrNoMatchingLock)
	assert.Len(t, repo.entries, 1)
}

func TestDebitRemovesLockedFunds(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	userID := uuid.New()
	withdrawalID := uuid.New()
	amount := decimal.NewFromInt(2)

	require.NoError(t, svc.Credit(ctx, userID, "ETH", decimal.NewFromInt(2), entities.ReasonDeposit, uuid.New()))
	require.NoError(t, svc.Lock(ctx, userID, "ETH", amount, withdrawalID))
	require.NoError(t, svc.Debit(ctx, userID, "ETH", amount, withdrawalID))

	balance, err := svc.GetBalance(ctx, userID, "ETH")
	require.NoError(t, err)
	assert.True(t, balance.Available.IsZero())
	assert.True(t, balance.Locked.IsZero())

	has, err := svc.HasDebit(ctx, withdrawalID)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestCompensateRecreditsAfterDebit(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	userID := uuid.New()
	withdrawalID := uuid.New()
	amount := decimal.NewFromInt(7)

	require.NoError(t, svc.Credit(ctx, userID, "MATIC", amount, entities.ReasonDeposit, uuid.New()))
	require.NoError(t, svc.Lock(ctx, userID, "MATIC", amount, withdrawalID))
	require.NoError(t, svc.Debit(ctx, userID, "MATIC", amount, withdrawalID))
	require.NoError(t, svc.Compensate(ctx, userID, "MATIC", amount, withdrawalID))

	balance, err := svc.GetBalance(ctx, userID, "MATIC")
	require.NoError(t, err)
	assert.True(t, balance.Available.Equal(amount))
	assert.True(t, balance.Locked.IsZero())

	// The debit row stays on the books.
	has, err := svc.HasDebit(ctx, withdrawalID)
	require.NoError(t, err)
	assert.True(t, has)

	// Replayed compensation appends nothing.
	before := len(repo.entries)
	require.NoError(t, svc.Compensate(ctx, userID, "MATIC", amount, withdrawalID))
	assert.Equal(t, before, len(repo.entries))
}

func TestCheckConservationPassesOnHealthyLedger(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, svc.Credit(ctx, userID, "BTC", decimal.NewFromInt(5), entities.ReasonDeposit, uuid.New()))
	require.NoError(t, svc.Lock(ctx, userID, "BTC", decimal.NewFromInt(2), uuid.New()))

	available, locked, err := svc.CheckConservation(ctx, "BTC")
	require.NoError(t, err)
	assert.True(t, available.Equal(decimal.NewFromInt(3)))
	assert.True(t, locked.Equal(decimal.NewFromInt(2)))
}

func TestCheckConservationDetectsNegativeTotals(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	// A raw negative entry simulates a corrupted ledger; nothing in
	// the service API can produce one.
	repo.entries = append(repo.entries, &entities.LedgerEntry{
		ID:      uuid.New(),
		UserID:  uuid.New(),
		AssetID: "ETH",
		Bucket:  entities.BucketAvailable,
		Amount:  decimal.NewFromInt(-1),
		Reason:  entities.ReasonWithdrawalDebit,
		RefID:   uuid.New(),
	})

	_, _, err := svc.CheckConservation(ctx, "ETH")
	assert.ErrorIs(t, err, domainerrors.ErrConservation)
}
