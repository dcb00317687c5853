package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklayer/custody-service/internal/adapters/safe"
	"github.com/stacklayer/custody-service/internal/domain/entities"
	domainerrors "github.com/stacklayer/custody-service/internal/domain/errors"
	"github.com/stacklayer/custody-service/internal/domain/services"
	"github.com/stacklayer/custody-service/pkg/logger"
	"github.com/stacklayer/custody-service/pkg/queue"
)

const testDestination = "0xab5801a7d398351b8be11c439e05c5b3259aec9b"

type mockWithdrawalRepo struct {
	rows map[uuid.UUID]*entities.Withdrawal
}

func newMockWithdrawalRepo() *mockWithdrawalRepo {
	return &mockWithdrawalRepo{rows: make(map[uuid.UUID]*entities.Withdrawal)}
}

// clone mirrors the real repository, which scans every read into a
// fresh struct. Mutating a returned row must never touch the store.
func clone(w *entities.Withdrawal) *entities.Withdrawal {
	cp := *w
	return &cp
}

func (m *mockWithdrawalRepo) Create(ctx context.Context, w *entities.Withdrawal) error {
	m.rows[w.ID] = clone(w)
	return nil
}

func (m *mockWithdrawalRepo) GetByID(ctx context.Context, id uuid.UUID) (*entities.Withdrawal, error) {
	w, ok := m.rows[id]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	return clone(w), nil
}

func (m *mockWithdrawalRepo) GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.Withdrawal, error) {
	var result []*entities.Withdrawal
	for _, w := range m.rows {
		if w.UserID == userID {
			result = append(result, clone(w))
		}
	}
	return result, nil
}

func (m *mockWithdrawalRepo) ListByStatus(ctx context.Context, status entities.WithdrawalStatus, limit int) ([]*entities.Withdrawal, error) {
	var result []*entities.Withdrawal
	for _, w := range m.rows {
		if w.Status == status {
			result = append(result, clone(w))
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *mockWithdrawalRepo) Transition(ctx context.Context, id uuid.UUID, from, to entities.WithdrawalStatus) error {
	w, ok := m.rows[id]
	if !ok || w.Status != from {
		return domainerrors.InvalidStateError(string(from), string(to))
	}
	w.Status = to
	return nil
}

func (m *mockWithdrawalRepo) MarkBroadcast(ctx context.Context, id uuid.UUID, txHash string) error {
	w, ok := m.rows[id]
	if !ok || w.Status != entities.WithdrawalStatusApproved {
		return domainerrors.InvalidStateError(string(entities.WithdrawalStatusApproved), string(entities.WithdrawalStatusBroadcast))
	}
	w.Status = entities.WithdrawalStatusBroadcast
	w.TxHash = &txHash
	return nil
}

func (m *mockWithdrawalRepo) SetTxHash(ctx context.Context, id uuid.UUID, txHash string) error {
	w, ok := m.rows[id]
	if !ok || w.Status != entities.WithdrawalStatusBroadcast {
		return domainerrors.InvalidStateError(string(entities.WithdrawalStatusBroadcast), string(entities.WithdrawalStatusBroadcast))
	}
	w.TxHash = &txHash
	return nil
}

func (m *mockWithdrawalRepo) SetSafeTxHash(ctx context.Context, id uuid.UUID, safeTxHash string) error {
	if w, ok := m.rows[id]; ok {
		w.SafeTxHash = &safeTxHash
	}
	return nil
}

func (m *mockWithdrawalRepo) SetReviewer(ctx context.Context, id, reviewerID uuid.UUID) error {
	if w, ok := m.rows[id]; ok {
		w.ReviewedBy = &reviewerID
	}
	return nil
}

func (m *mockWithdrawalRepo) Complete(ctx context.Context, id uuid.UUID, from, to entities.WithdrawalStatus, failureReason string) error {
	w, ok := m.rows[id]
	if !ok || w.Status != from {
		return domainerrors.InvalidStateError(string(from), string(to))
	}
	w.Status = to
	if failureReason != "" {
		w.FailureReason = &failureReason
	}
	return nil
}

// mockFunds records each ledger movement by withdrawal ID
type mockFunds struct {
	locked      map[uuid.UUID]decimal.Decimal
	unlocked    map[uuid.UUID]decimal.Decimal
	debited     map[uuid.UUID]decimal.Decimal
	compensated map[uuid.UUID]decimal.Decimal
	lockErr     error
}

func newMockFunds() *mockFunds {
	return &mockFunds{
		locked:      make(map[uuid.UUID]decimal.Decimal),
		unlocked:    make(map[uuid.UUID]decimal.Decimal),
		debited:     make(map[uuid.UUID]decimal.Decimal),
		compensated: make(map[uuid.UUID]decimal.Decimal),
	}
}

func (m *mockFunds) Lock(ctx context.Context, userID uuid.UUID, assetID string, amount decimal.Decimal, refID uuid.UUID) error {
	if m.lockErr != nil {
		return m.lockErr
	}
	m.locked[refID] = amount
	return nil
}

func (m *mockFunds) Unlock(ctx context.Context, userID uuid.UUID, assetID string, amount decimal.Decimal, refID uuid.UUID) error {
	m.unlocked[refID] = amount
	return nil
}

func (m *mockFunds) Debit(ctx context.Context, userID uuid.UUID, assetID string, amount decimal.Decimal, refID uuid.UUID) error {
	m.debited[refID] = amount
	return nil
}

func (m *mockFunds) Compensate(ctx context.Context, userID uuid.UUID, assetID string, amount decimal.Decimal, refID uuid.UUID) error {
	m.compensated[refID] = amount
	return nil
}

type stubRisk struct {
	tier entities.RiskTier
	err  error
}

func (s *stubRisk) Assess(ctx context.Context, w *entities.Withdrawal) (*entities.RiskAssessment, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &entities.RiskAssessment{Tier: s.tier}, nil
}

type stubHotWallet struct {
	txHash  string
	sendErr error
	sent    int
}

func (s *stubHotWallet) Supports(chain entities.Chain) bool {
	return chain.IsEVM()
}

func (s *stubHotWallet) Send(ctx context.Context, chain entities.Chain, destination string, amount decimal.Decimal) (string, error) {
	s.sent++
	if s.sendErr != nil {
		return "", s.sendErr
	}
	return s.txHash, nil
}

type stubMultisig struct {
	safeTxHash string
	status     *safe.TxStatus
	proposed   []safe.Proposal
}

func (s *stubMultisig) Propose(ctx context.Context, p safe.Proposal) (string, error) {
	s.proposed = append(s.proposed, p)
	return s.safeTxHash, nil
}

func (s *stubMultisig) Status(ctx context.Context, safeTxHash string) (*safe.TxStatus, error) {
	return s.status, nil
}

type withdrawalFixture struct {
	svc       *services.WithdrawalService
	repo      *mockWithdrawalRepo
	funds     *mockFunds
	risk      *stubRisk
	hotWallet *stubHotWallet
	multisig  *stubMultisig
	client    *mockConfirmationClient
	publisher *queue.MockPublisher
}

func newWithdrawalFixture() *withdrawalFixture {
	f := &withdrawalFixture{
		repo:      newMockWithdrawalRepo(),
		funds:     newMockFunds(),
		risk:      &stubRisk{tier: entities.RiskTierLow},
		hotWallet: &stubHotWallet{txHash: "0xdeadbeef"},
		multisig:  &stubMultisig{safeTxHash: "0xsafetx"},
		client:    &mockConfirmationClient{confirmations: map[string]int64{}},
		publisher: queue.NewMockPublisher(),
	}
	f.svc = services.NewWithdrawalService(
		f.repo,
		f.funds,
		f.risk,
		f.hotWallet,
		f.multisig,
		map[entities.Chain]services.ConfirmationChainClient{
			entities.ChainEthereum: f.client,
			entities.ChainBitcoin:  f.client,
		},
		f.publisher,
		logger.NewNop(),
	)
	return f
}

func ethRequest(amount string) *entities.WithdrawalRequest {
	return &entities.WithdrawalRequest{
		Chain:              "ethereum",
		AssetID:            "ETH",
		Amount:             decimal.RequireFromString(amount),
		DestinationAddress: testDestination,
	}
}

func TestRequestLowTierIsApprovedWithFundsLocked(t *testing.T) {
	f := newWithdrawalFixture()
	userID := uuid.New()

	w, err := f.svc.Request(context.Background(), userID, ethRequest("1"))
	require.NoError(t, err)

	assert.Equal(t, entities.WithdrawalStatusApproved, w.Status)
	assert.Equal(t, entities.RiskTierLow, w.RiskTier)
	assert.Equal(t, entities.ExecutionPathHotWallet, w.ExecutionPath)

	locked, ok := f.funds.locked[w.ID]
	require.True(t, ok, "funds were not locked")
	assert.True(t, locked.Equal(w.Amount))
}

func TestRequestMediumTierGoesToReview(t *testing.T) {
	f := newWithdrawalFixture()
	f.risk.tier = entities.RiskTierMedium

	w, err := f.svc.Request(context.Background(), uuid.New(), ethRequest("5"))
	require.NoError(t, err)

	assert.Equal(t, entities.WithdrawalStatusRiskReview, w.Status)
	assert.Equal(t, entities.ExecutionPathHotWallet, w.ExecutionPath)
	assert.Contains(t, f.funds.locked, w.ID)
}

func TestRequestHighTierRoutesToMultisig(t *testing.T) {
	f := newWithdrawalFixture()
	f.risk.tier = entities.RiskTierHigh

	w, err := f.svc.Request(context.Background(), uuid.New(), ethRequest("100"))
	require.NoError(t, err)

	assert.Equal(t, entities.WithdrawalStatusRiskReview, w.Status)
	assert.Equal(t, entities.ExecutionPathMultisig, w.ExecutionPath)
}

func TestRequestUnsupportedChainRoutesToMultisig(t *testing.T) {
	f := newWithdrawalFixture()

	req := &entities.WithdrawalRequest{
		Chain:              "bitcoin",
		AssetID:            "BTC",
		Amount:             decimal.RequireFromString("0.01"),
		DestinationAddress: "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4",
	}
	w, err := f.svc.Request(context.Background(), uuid.New(), req)
	require.NoError(t, err)

	assert.Equal(t, entities.ExecutionPathMultisig, w.ExecutionPath)
}

func TestRequestRejectsInvalidInput(t *testing.T) {
	f := newWithdrawalFixture()
	ctx := context.Background()
	userID := uuid.New()

	req := ethRequest("1")
	req.Chain = "dogecoin"
	_, err := f.svc.Request(ctx, userID, req)
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)

	req = ethRequest("1")
	req.DestinationAddress = "not-an-address"
	_, err = f.svc.Request(ctx, userID, req)
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)

	req = ethRequest("0")
	_, err = f.svc.Request(ctx, userID, req)
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)

	req = ethRequest("1")
	req.AssetID = "BTC"
	_, err = f.svc.Request(ctx, userID, req)
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)

	assert.Empty(t, f.repo.rows)
	assert.Empty(t, f.funds.locked)
}

func TestRequestCancelsRowWhenLockFails(t *testing.T) {
	f := newWithdrawalFixture()
	f.funds.lockErr = domainerrors.InsufficientFundsError("0", "1")

	_, err := f.svc.Request(context.Background(), uuid.New(), ethRequest("1"))
	assert.ErrorIs(t, err, domainerrors.ErrInsufficientFunds)

	require.Len(t, f.repo.rows, 1)
	for _, w := range f.repo.rows {
		assert.Equal(t, entities.WithdrawalStatusCanceled, w.Status)
	}
}

func TestCancelPendingWithdrawalUnlocksFunds(t *testing.T) {
	f := newWithdrawalFixture()
	f.risk.tier = entities.RiskTierMedium
	userID := uuid.New()

	w, err := f.svc.Request(context.Background(), userID, ethRequest("2"))
	require.NoError(t, err)
	require.Equal(t, entities.WithdrawalStatusRiskReview, w.Status)

	canceled, err := f.svc.Cancel(context.Background(), userID, w.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.WithdrawalStatusCanceled, canceled.Status)

	unlocked, ok := f.funds.unlocked[w.ID]
	require.True(t, ok)
	assert.True(t, unlocked.Equal(w.Amount))
	assert.Len(t, f.publisher.Published(queue.TopicWithdrawalCanceled), 1)
}

func TestCancelRejectsForeignAndSettledWithdrawals(t *testing.T) {
	f := newWithdrawalFixture()
	userID := uuid.New()

	w, err := f.svc.Request(context.Background(), userID, ethRequest("1"))
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), uuid.New(), w.ID)
	assert.ErrorIs(t, err, domainerrors.ErrForbidden)

	// Approved is past the point of cancellation.
	_, err = f.svc.Cancel(context.Background(), userID, w.ID)
	assert.ErrorIs(t, err, domainerrors.ErrInvalidState)
	assert.NotContains(t, f.funds.unlocked, w.ID)
}

func TestReviewApproveAndReject(t *testing.T) {
	f := newWithdrawalFixture()
	f.risk.tier = entities.RiskTierMedium
	ctx := context.Background()
	reviewerID := uuid.New()

	first, err := f.svc.Request(ctx, uuid.New(), ethRequest("3"))
	require.NoError(t, err)

	approved, err := f.svc.Review(ctx, reviewerID, first.ID, true, "verified with user")
	require.NoError(t, err)
	assert.Equal(t, entities.WithdrawalStatusApproved, approved.Status)
	require.NotNil(t, f.repo.rows[first.ID].ReviewedBy)
	assert.Equal(t, reviewerID, *f.repo.rows[first.ID].ReviewedBy)

	second, err := f.svc.Request(ctx, uuid.New(), ethRequest("4"))
	require.NoError(t, err)

	rejected, err := f.svc.Review(ctx, reviewerID, second.ID, false, "suspicious destination")
	require.NoError(t, err)
	assert.Equal(t, entities.WithdrawalStatusCanceled, rejected.Status)
	assert.Contains(t, f.funds.unlocked, second.ID)

	// Only withdrawals in review can be reviewed.
	_, err = f.svc.Review(ctx, reviewerID, first.ID, true, "")
	assert.ErrorIs(t, err, domainerrors.ErrInvalidState)
}

func TestExecuteApprovedHotWalletPath(t *testing.T) {
	f := newWithdrawalFixture()
	userID := uuid.New()

	w, err := f.svc.Request(context.Background(), userID, ethRequest("1"))
	require.NoError(t, err)

	require.NoError(t, f.svc.ExecuteApproved(context.Background(), 10))

	row := f.repo.rows[w.ID]
	assert.Equal(t, entities.WithdrawalStatusBroadcast, row.Status)
	require.NotNil(t, row.TxHash)
	assert.Equal(t, "0xdeadbeef", *row.TxHash)
	assert.Equal(t, 1, f.hotWallet.sent)

	debited, ok := f.funds.debited[w.ID]
	require.True(t, ok, "broadcast withdrawal was not debited")
	assert.True(t, debited.Equal(w.Amount))
}

func TestExecuteApprovedFatalErrorFailsAndUnlocks(t *testing.T) {
	f := newWithdrawalFixture()
	f.hotWallet.sendErr = domainerrors.SigningError(assert.AnError)

	w, err := f.svc.Request(context.Background(), uuid.New(), ethRequest("1"))
	require.NoError(t, err)

	require.NoError(t, f.svc.ExecuteApproved(context.Background(), 10))

	row := f.repo.rows[w.ID]
	assert.Equal(t, entities.WithdrawalStatusFailed, row.Status)
	assert.Contains(t, f.funds.unlocked, w.ID)
	assert.NotContains(t, f.funds.debited, w.ID)
	assert.Len(t, f.publisher.Published(queue.TopicWithdrawalFailed), 1)
}

func TestExecuteApprovedRetryableErrorLeavesRowApproved(t *testing.T) {
	f := newWithdrawalFixture()
	f.hotWallet.sendErr = domainerrors.BroadcastError(assert.AnError)

	w, err := f.svc.Request(context.Background(), uuid.New(), ethRequest("1"))
	require.NoError(t, err)

	require.NoError(t, f.svc.ExecuteApproved(context.Background(), 10))

	assert.Equal(t, entities.WithdrawalStatusApproved, f.repo.rows[w.ID].Status)
	assert.NotContains(t, f.funds.unlocked, w.ID)
	assert.NotContains(t, f.funds.debited, w.ID)
}

func TestExecuteApprovedMultisigPath(t *testing.T) {
	f := newWithdrawalFixture()
	f.risk.tier = entities.RiskTierHigh
	reviewerID := uuid.New()

	w, err := f.svc.Request(context.Background(), uuid.New(), ethRequest("100"))
	require.NoError(t, err)
	_, err = f.svc.Review(context.Background(), reviewerID, w.ID, true, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.ExecuteApproved(context.Background(), 10))

	row := f.repo.rows[w.ID]
	assert.Equal(t, entities.WithdrawalStatusBroadcast, row.Status)
	require.NotNil(t, row.SafeTxHash)
	assert.Equal(t, "0xsafetx", *row.SafeTxHash)
	assert.Nil(t, row.TxHash)
	assert.Contains(t, f.funds.debited, w.ID)
	require.Len(t, f.multisig.proposed, 1)
	assert.Zero(t, f.hotWallet.sent)
}

func TestTrackBroadcastConfirmsAtThreshold(t *testing.T) {
	f := newWithdrawalFixture()

	w, err := f.svc.Request(context.Background(), uuid.New(), ethRequest("1"))
	require.NoError(t, err)
	require.NoError(t, f.svc.ExecuteApproved(context.Background(), 10))

	f.client.confirmations["0xdeadbeef"] = entities.ChainEthereum.RequiredConfirmations()

	require.NoError(t, f.svc.TrackBroadcast(context.Background(), 10))

	assert.Equal(t, entities.WithdrawalStatusConfirmed, f.repo.rows[w.ID].Status)
	assert.Len(t, f.publisher.Published(queue.TopicWithdrawalConfirmed), 1)
	assert.NotContains(t, f.funds.compensated, w.ID)
}

func TestTrackBroadcastWaitsBelowThreshold(t *testing.T) {
	f := newWithdrawalFixture()

	w, err := f.svc.Request(context.Background(), uuid.New(), ethRequest("1"))
	require.NoError(t, err)
	require.NoError(t, f.svc.ExecuteApproved(context.Background(), 10))

	f.client.confirmations["0xdeadbeef"] = 1

	require.NoError(t, f.svc.TrackBroadcast(context.Background(), 10))
	assert.Equal(t, entities.WithdrawalStatusBroadcast, f.repo.rows[w.ID].Status)
}

func TestTrackBroadcastDroppedTxCompensatesAfterGrace(t *testing.T) {
	f := newWithdrawalFixture()

	w, err := f.svc.Request(context.Background(), uuid.New(), ethRequest("1"))
	require.NoError(t, err)
	require.NoError(t, f.svc.ExecuteApproved(context.Background(), 10))

	// The tx is unknown to the node and the grace period has passed.
	row := f.repo.rows[w.ID]
	row.UpdatedAt = time.Now().Add(-time.Hour)

	require.NoError(t, f.svc.TrackBroadcast(context.Background(), 10))

	assert.Equal(t, entities.WithdrawalStatusFailed, row.Status)
	compensated, ok := f.funds.compensated[w.ID]
	require.True(t, ok, "dropped withdrawal was not compensated")
	assert.True(t, compensated.Equal(w.Amount))
	// The debit stays; compensation is its own credit.
	assert.Contains(t, f.funds.debited, w.ID)
	assert.Len(t, f.publisher.Published(queue.TopicWithdrawalFailed), 1)
}

func TestTrackBroadcastDroppedTxWaitsWithinGrace(t *testing.T) {
	f := newWithdrawalFixture()

	w, err := f.svc.Request(context.Background(), uuid.New(), ethRequest("1"))
	require.NoError(t, err)
	require.NoError(t, f.svc.ExecuteApproved(context.Background(), 10))

	f.repo.rows[w.ID].UpdatedAt = time.Now()

	require.NoError(t, f.svc.TrackBroadcast(context.Background(), 10))
	assert.Equal(t, entities.WithdrawalStatusBroadcast, f.repo.rows[w.ID].Status)
	assert.NotContains(t, f.funds.compensated, w.ID)
}

func TestTrackBroadcastMultisigPicksUpOnChainHash(t *testing.T) {
	f := newWithdrawalFixture()
	f.risk.tier = entities.RiskTierHigh

	w, err := f.svc.Request(context.Background(), uuid.New(), ethRequest("100"))
	require.NoError(t, err)
	_, err = f.svc.Review(context.Background(), uuid.New(), w.ID, true, "")
	require.NoError(t, err)
	require.NoError(t, f.svc.ExecuteApproved(context.Background(), 10))

	f.multisig.status = &safe.TxStatus{
		SafeTxHash:    "0xsafetx",
		Executed:      true,
		Successful:    true,
		OnChainTxHash: "0xonchain",
	}

	require.NoError(t, f.svc.TrackBroadcast(context.Background(), 10))

	// The hash must land in the store, not just on the struct the
	// sweep iterated over.
	row := f.repo.rows[w.ID]
	require.NotNil(t, row.TxHash)
	assert.Equal(t, "0xonchain", *row.TxHash)
	assert.Equal(t, entities.WithdrawalStatusBroadcast, row.Status)
}

func TestTrackBroadcastMultisigReachesConfirmed(t *testing.T) {
	f := newWithdrawalFixture()
	f.risk.tier = entities.RiskTierHigh

	w, err := f.svc.Request(context.Background(), uuid.New(), ethRequest("100"))
	require.NoError(t, err)
	_, err = f.svc.Review(context.Background(), uuid.New(), w.ID, true, "")
	require.NoError(t, err)
	require.NoError(t, f.svc.ExecuteApproved(context.Background(), 10))

	f.multisig.status = &safe.TxStatus{
		SafeTxHash:    "0xsafetx",
		Executed:      true,
		Successful:    true,
		OnChainTxHash: "0xonchain",
	}
	f.client.confirmations["0xonchain"] = entities.ChainEthereum.RequiredConfirmations()

	// First sweep persists the on-chain hash, the second confirms off it.
	require.NoError(t, f.svc.TrackBroadcast(context.Background(), 10))
	require.NoError(t, f.svc.TrackBroadcast(context.Background(), 10))

	assert.Equal(t, entities.WithdrawalStatusConfirmed, f.repo.rows[w.ID].Status)
	assert.Len(t, f.publisher.Published(queue.TopicWithdrawalConfirmed), 1)
	assert.NotContains(t, f.funds.compensated, w.ID)
}

func TestTrackBroadcastMultisigFailureCompensates(t *testing.T) {
	f := newWithdrawalFixture()
	f.risk.tier = entities.RiskTierHigh

	w, err := f.svc.Request(context.Background(), uuid.New(), ethRequest("100"))
	require.NoError(t, err)
	_, err = f.svc.Review(context.Background(), uuid.New(), w.ID, true, "")
	require.NoError(t, err)
	require.NoError(t, f.svc.ExecuteApproved(context.Background(), 10))

	f.multisig.status = &safe.TxStatus{
		SafeTxHash: "0xsafetx",
		Executed:   true,
		Successful: false,
	}

	require.NoError(t, f.svc.TrackBroadcast(context.Background(), 10))

	assert.Equal(t, entities.WithdrawalStatusFailed, f.repo.rows[w.ID].Status)
	assert.Contains(t, f.funds.compensated, w.ID)
}

func TestGetByIDEnforcesOwnership(t *testing.T) {
	f := newWithdrawalFixture()
	userID := uuid.New()

	w, err := f.svc.Request(context.Background(), userID, ethRequest("1"))
	require.NoError(t, err)

	got, err := f.svc.GetByID(context.Background(), userID, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)

	_, err = f.svc.GetByID(context.Background(), uuid.New(), w.ID)
	assert.ErrorIs(t, err, domainerrors.ErrForbidden)
}
