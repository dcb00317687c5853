package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stacklayer/custody-service/internal/adapters/safe"
	"github.com/stacklayer/custody-service/internal/domain/entities"
	domainerrors "github.com/stacklayer/custody-service/internal/domain/errors"
	"github.com/stacklayer/custody-service/pkg/logger"
	"github.com/stacklayer/custody-service/pkg/metrics"
	"github.com/stacklayer/custody-service/pkg/queue"
)

// droppedTxGracePeriod is how long a broadcast transaction may be
// unknown to the node before the withdrawal is failed and compensated.
const droppedTxGracePeriod = 30 * time.Minute

// WithdrawalRepository is the persistence surface the withdrawal
// service needs
type WithdrawalRepository interface {
	Create(ctx context.Context, withdrawal *entities.Withdrawal) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Withdrawal, error)
	GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.Withdrawal, error)
	ListByStatus(ctx context.Context, status entities.WithdrawalStatus, limit int) ([]*entities.Withdrawal, error)
	Transition(ctx context.Context, id uuid.UUID, from, to entities.WithdrawalStatus) error
	MarkBroadcast(ctx context.Context, id uuid.UUID, txHash string) error
	SetTxHash(ctx context.Context, id uuid.UUID, txHash string) error
	SetSafeTxHash(ctx context.Context, id uuid.UUID, safeTxHash string) error
	SetReviewer(ctx context.Context, id, reviewerID uuid.UUID) error
	Complete(ctx context.Context, id uuid.UUID, from, to entities.WithdrawalStatus, failureReason string) error
}

// FundsLedger is the balance surface the withdrawal service needs
type FundsLedger interface {
	Lock(ctx context.Context, userID uuid.UUID, assetID string, amount decimal.Decimal, refID uuid.UUID) error
	Unlock(ctx context.Context, userID uuid.UUID, assetID string, amount decimal.Decimal, refID uuid.UUID) error
	Debit(ctx context.Context, userID uuid.UUID, assetID string, amount decimal.Decimal, refID uuid.UUID) error
	Compensate(ctx context.Context, userID uuid.UUID, assetID string, amount decimal.Decimal, refID uuid.UUID) error
}

// RiskAssessor scores withdrawal requests
type RiskAssessor interface {
	Assess(ctx context.Context, w *entities.Withdrawal) (*entities.RiskAssessment, error)
}

// HotWalletSender signs and broadcasts from the hot wallet
type HotWalletSender interface {
	Supports(chain entities.Chain) bool
	Send(ctx context.Context, chain entities.Chain, destination string, amount decimal.Decimal) (string, error)
}

// MultisigClient proposes and tracks Safe transactions
type MultisigClient interface {
	Propose(ctx context.Context, p safe.Proposal) (string, error)
	Status(ctx context.Context, safeTxHash string) (*safe.TxStatus, error)
}

// WithdrawalService drives withdrawals through their state machine.
// Every transition is a conditional update on the prior status, so
// racing actors (user cancel vs operator approve, two executor
// sweeps) resolve to exactly one winner.
type WithdrawalService struct {
	repo      WithdrawalRepository
	ledger    FundsLedger
	risk      RiskAssessor
	hotWallet HotWalletSender
	multisig  MultisigClient
	clients   map[entities.Chain]ConfirmationChainClient
	publisher queue.Publisher
	logger    *logger.Logger
}

// NewWithdrawalService creates a new withdrawal service
func NewWithdrawalService(
	repo WithdrawalRepository,
	ledger FundsLedger,
	risk RiskAssessor,
	hotWallet HotWalletSender,
	multisig MultisigClient,
	clients map[entities.Chain]ConfirmationChainClient,
	publisher queue.Publisher,
	logger *logger.Logger,
) *WithdrawalService {
	return &WithdrawalService{
		repo:      repo,
		ledger:    ledger,
		risk:      risk,
		hotWallet: hotWallet,
		multisig:  multisig,
		clients:   clients,
		publisher: publisher,
		logger:    logger,
	}
}

// Request validates, risk-scores and persists a withdrawal, locking
// the funds. Low tier requests are approved immediately; medium and
// high go to manual review.
func (s *WithdrawalService) Request(ctx context.Context, userID uuid.UUID, req *entities.WithdrawalRequest) (*entities.Withdrawal, error) {
	chain, err := entities.ParseChain(req.Chain)
	if err != nil {
		return nil, domainerrors.ValidationError("chain", err.Error())
	}
	if err := chain.ValidateAddress(req.DestinationAddress); err != nil {
		return nil, domainerrors.ValidationError("destination_address", err.Error())
	}
	if req.Amount.Sign() <= 0 {
		return nil, domainerrors.ValidationError("amount", "must be positive")
	}
	if req.AssetID != chain.NativeAsset() {
		return nil, domainerrors.ValidationError("asset_id", fmt.Sprintf("chain %s only supports %s", chain, chain.NativeAsset()))
	}

	now := time.Now().UTC()
	withdrawal := &entities.Withdrawal{
		ID:                 uuid.New(),
		UserID:             userID,
		Chain:              chain,
		AssetID:            req.AssetID,
		Amount:             req.Amount,
		DestinationAddress: chain.NormalizeAddress(req.DestinationAddress),
		Status:             entities.WithdrawalStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	assessment, err := s.risk.Assess(ctx, withdrawal)
	if err != nil {
		return nil, err
	}
	withdrawal.RiskTier = assessment.Tier
	withdrawal.ExecutionPath = s.pickExecutionPath(withdrawal)

	if err := s.repo.Create(ctx, withdrawal); err != nil {
		return nil, err
	}

	// Lock after the row exists: a failed lock cancels the empty
	// request, whereas a lock without a row would strand funds.
	if err := s.ledger.Lock(ctx, userID, withdrawal.AssetID, withdrawal.Amount, withdrawal.ID); err != nil {
		if cancelErr := s.repo.Transition(ctx, withdrawal.ID, entities.WithdrawalStatusPending, entities.WithdrawalStatusCanceled); cancelErr != nil {
			s.logger.Error("Failed to cancel unfunded withdrawal", "withdrawal_id", withdrawal.ID, "error", cancelErr)
		}
		return nil, err
	}

	next := entities.WithdrawalStatusApproved
	if assessment.Tier.RequiresReview() {
		next = entities.WithdrawalStatusRiskReview
	}
	if err := s.repo.Transition(ctx, withdrawal.ID, entities.WithdrawalStatusPending, next); err != nil {
		return nil, err
	}
	withdrawal.Status = next

	metrics.WithdrawalsTotal.WithLabelValues(string(chain), string(next)).Inc()
	s.logger.Info("Withdrawal requested",
		"withdrawal_id", withdrawal.ID,
		"user_id", userID,
		"chain", chain,
		"amount", withdrawal.Amount,
		"risk_tier", assessment.Tier,
		"signals", assessment.Signals,
		"status", next)

	return withdrawal, nil
}

// pickExecutionPath routes high tier withdrawals and chains the hot
// wallet cannot serve through the multisig.
func (s *WithdrawalService) pickExecutionPath(w *entities.Withdrawal) entities.ExecutionPath {
	if w.RiskTier == entities.RiskTierHigh {
		return entities.ExecutionPathMultisig
	}
	if s.hotWallet == nil || !s.hotWallet.Supports(w.Chain) {
		return entities.ExecutionPathMultisig
	}
	return entities.ExecutionPathHotWallet
}

// Cancel lets a user withdraw a request that has not been approved
// yet. The status transition wins or loses atomically against a
// concurrent approval; funds unlock only on the winning side.
func (s *WithdrawalService) Cancel(ctx context.Context, userID, withdrawalID uuid.UUID) (*entities.Withdrawal, error) {
	withdrawal, err := s.repo.GetByID(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if withdrawal.UserID != userID {
		return nil, domainerrors.ErrForbidden
	}
	if !withdrawal.Status.IsCancelable() {
		return nil, domainerrors.InvalidStateError(string(withdrawal.Status), string(entities.WithdrawalStatusCanceled))
	}

	if err := s.repo.Transition(ctx, withdrawalID, withdrawal.Status, entities.WithdrawalStatusCanceled); err != nil {
		return nil, err
	}

	if err := s.ledger.Unlock(ctx, userID, withdrawal.AssetID, withdrawal.Amount, withdrawalID); err != nil {
		// The row is canceled; the unlock replays safely on retry.
		s.logger.Error("Failed to unlock canceled withdrawal", "withdrawal_id", withdrawalID, "error", err)
		return nil, err
	}

	withdrawal.Status = entities.WithdrawalStatusCanceled
	metrics.WithdrawalsTotal.WithLabelValues(string(withdrawal.Chain), string(entities.WithdrawalStatusCanceled)).Inc()
	s.publishWithdrawal(ctx, queue.TopicWithdrawalCanceled, withdrawal, "canceled by user")

	return withdrawal, nil
}

// Review records an operator decision on a withdrawal in risk review
func (s *WithdrawalService) Review(ctx context.Context, reviewerID, withdrawalID uuid.UUID, approve bool, reason string) (*entities.Withdrawal, error) {
	withdrawal, err := s.repo.GetByID(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if withdrawal.Status != entities.WithdrawalStatusRiskReview {
		return nil, domainerrors.InvalidStateError(string(withdrawal.Status), string(entities.WithdrawalStatusApproved))
	}

	if approve {
		if err := s.repo.Transition(ctx, withdrawalID, entities.WithdrawalStatusRiskReview, entities.WithdrawalStatusApproved); err != nil {
			return nil, err
		}
		withdrawal.Status = entities.WithdrawalStatusApproved
	} else {
		if err := s.repo.Transition(ctx, withdrawalID, entities.WithdrawalStatusRiskReview, entities.WithdrawalStatusCanceled); err != nil {
			return nil, err
		}
		if err := s.ledger.Unlock(ctx, withdrawal.UserID, withdrawal.AssetID, withdrawal.Amount, withdrawalID); err != nil {
			s.logger.Error("Failed to unlock rejected withdrawal", "withdrawal_id", withdrawalID, "error", err)
			return nil, err
		}
		withdrawal.Status = entities.WithdrawalStatusCanceled
		s.publishWithdrawal(ctx, queue.TopicWithdrawalCanceled, withdrawal, reason)
	}

	if err := s.repo.SetReviewer(ctx, withdrawalID, reviewerID); err != nil {
		s.logger.Warn("Failed to record reviewer", "withdrawal_id", withdrawalID, "error", err)
	}

	metrics.WithdrawalsTotal.WithLabelValues(string(withdrawal.Chain), string(withdrawal.Status)).Inc()
	s.logger.Info("Withdrawal reviewed",
		"withdrawal_id", withdrawalID,
		"reviewer", reviewerID,
		"approved", approve,
		"reason", reason)

	return withdrawal, nil
}

// ExecuteApproved sends approved withdrawals out, one at a time. A
// retryable failure leaves the row approved for the next sweep.
func (s *WithdrawalService) ExecuteApproved(ctx context.Context, limit int) error {
	approved, err := s.repo.ListByStatus(ctx, entities.WithdrawalStatusApproved, limit)
	if err != nil {
		return fmt.Errorf("list approved withdrawals: %w", err)
	}

	for _, w := range approved {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.execute(ctx, w); err != nil {
			s.logger.Error("Withdrawal execution failed",
				"withdrawal_id", w.ID,
				"path", w.ExecutionPath,
				"retryable", domainerrors.IsRetryable(err),
				"error", err)
		}
	}
	return nil
}

func (s *WithdrawalService) execute(ctx context.Context, w *entities.Withdrawal) error {
	switch w.ExecutionPath {
	case entities.ExecutionPathMultisig:
		return s.executeMultisig(ctx, w)
	default:
		return s.executeHotWallet(ctx, w)
	}
}

func (s *WithdrawalService) executeHotWallet(ctx context.Context, w *entities.Withdrawal) error {
	txHash, err := s.hotWallet.Send(ctx, w.Chain, w.DestinationAddress, w.Amount)
	if err != nil {
		if domainerrors.IsRetryable(err) {
			return err
		}
		// Fatal: the transaction never left, so locked funds return.
		return s.failBeforeBroadcast(ctx, w, err.Error())
	}

	if err := s.repo.MarkBroadcast(ctx, w.ID, txHash); err != nil {
		s.logger.Error("Broadcast succeeded but status update failed",
			"withdrawal_id", w.ID, "tx_hash", txHash, "error", err)
		return err
	}
	w.Status = entities.WithdrawalStatusBroadcast
	w.TxHash = &txHash

	if err := s.ledger.Debit(ctx, w.UserID, w.AssetID, w.Amount, w.ID); err != nil {
		s.logger.Error("Failed to debit broadcast withdrawal", "withdrawal_id", w.ID, "error", err)
		return err
	}

	metrics.WithdrawalsTotal.WithLabelValues(string(w.Chain), string(entities.WithdrawalStatusBroadcast)).Inc()
	return nil
}

func (s *WithdrawalService) executeMultisig(ctx context.Context, w *entities.Withdrawal) error {
	if s.multisig == nil {
		return fmt.Errorf("multisig path is not configured")
	}
	if !w.Chain.IsEVM() {
		// The Safe lives on an EVM chain; non-EVM withdrawals routed
		// here wait for an operator with the offline signer.
		s.logger.Warn("Non-EVM multisig withdrawal requires manual signing",
			"withdrawal_id", w.ID, "chain", w.Chain)
		return nil
	}

	wei := w.Amount.Shift(18).BigInt()
	safeTxHash, err := s.multisig.Propose(ctx, safe.Proposal{
		To:    common.HexToAddress(w.DestinationAddress),
		Value: new(big.Int).Set(wei),
	})
	if err != nil {
		if domainerrors.IsRetryable(err) || !errors.Is(err, domainerrors.ErrSigning) {
			return err
		}
		return s.failBeforeBroadcast(ctx, w, err.Error())
	}

	if err := s.repo.SetSafeTxHash(ctx, w.ID, safeTxHash); err != nil {
		return err
	}
	if err := s.repo.Transition(ctx, w.ID, entities.WithdrawalStatusApproved, entities.WithdrawalStatusBroadcast); err != nil {
		return err
	}
	w.Status = entities.WithdrawalStatusBroadcast
	w.SafeTxHash = &safeTxHash

	if err := s.ledger.Debit(ctx, w.UserID, w.AssetID, w.Amount, w.ID); err != nil {
		s.logger.Error("Failed to debit proposed withdrawal", "withdrawal_id", w.ID, "error", err)
		return err
	}

	metrics.WithdrawalsTotal.WithLabelValues(string(w.Chain), string(entities.WithdrawalStatusBroadcast)).Inc()
	return nil
}

// failBeforeBroadcast fails an approved withdrawal whose transaction
// never reached the chain and returns the locked funds.
func (s *WithdrawalService) failBeforeBroadcast(ctx context.Context, w *entities.Withdrawal, reason string) error {
	if err := s.repo.Complete(ctx, w.ID, entities.WithdrawalStatusApproved, entities.WithdrawalStatusFailed, reason); err != nil {
		return err
	}
	if err := s.ledger.Unlock(ctx, w.UserID, w.AssetID, w.Amount, w.ID); err != nil {
		s.logger.Error("Failed to unlock failed withdrawal", "withdrawal_id", w.ID, "error", err)
		return err
	}

	w.Status = entities.WithdrawalStatusFailed
	metrics.WithdrawalsTotal.WithLabelValues(string(w.Chain), string(entities.WithdrawalStatusFailed)).Inc()
	s.publishWithdrawal(ctx, queue.TopicWithdrawalFailed, w, reason)
	return nil
}

// TrackBroadcast checks broadcast withdrawals against the chain and
// settles them: enough confirmations confirms, a dropped or reverted
// transaction fails with compensation.
func (s *WithdrawalService) TrackBroadcast(ctx context.Context, limit int) error {
	broadcast, err := s.repo.ListByStatus(ctx, entities.WithdrawalStatusBroadcast, limit)
	if err != nil {
		return fmt.Errorf("list broadcast withdrawals: %w", err)
	}

	for _, w := range broadcast {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.trackOne(ctx, w); err != nil {
			s.logger.Error("Failed to track withdrawal", "withdrawal_id", w.ID, "error", err)
		}
	}
	return nil
}

func (s *WithdrawalService) trackOne(ctx context.Context, w *entities.Withdrawal) error {
	if w.ExecutionPath == entities.ExecutionPathMultisig && w.TxHash == nil {
		return s.trackMultisig(ctx, w)
	}
	if w.TxHash == nil {
		return fmt.Errorf("broadcast withdrawal %s has no tx hash", w.ID)
	}

	client, ok := s.clients[w.Chain]
	if !ok {
		return fmt.Errorf("no chain client for %s", w.Chain)
	}

	confirmations, err := client.TxConfirmations(ctx, *w.TxHash)
	if err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			if time.Since(w.UpdatedAt) < droppedTxGracePeriod {
				return nil
			}
			return s.failAfterBroadcast(ctx, w, "transaction dropped from chain")
		}
		if errors.Is(err, domainerrors.ErrBroadcast) {
			return s.failAfterBroadcast(ctx, w, "transaction reverted")
		}
		return err
	}

	if confirmations < w.Chain.RequiredConfirmations() {
		return nil
	}

	if err := s.repo.Complete(ctx, w.ID, entities.WithdrawalStatusBroadcast, entities.WithdrawalStatusConfirmed, ""); err != nil {
		return err
	}
	w.Status = entities.WithdrawalStatusConfirmed

	metrics.WithdrawalsTotal.WithLabelValues(string(w.Chain), string(entities.WithdrawalStatusConfirmed)).Inc()
	s.logger.Info("Withdrawal confirmed",
		"withdrawal_id", w.ID,
		"tx_hash", *w.TxHash,
		"confirmations", confirmations)
	s.publishWithdrawal(ctx, queue.TopicWithdrawalConfirmed, w, "")
	return nil
}

func (s *WithdrawalService) trackMultisig(ctx context.Context, w *entities.Withdrawal) error {
	if w.SafeTxHash == nil {
		return fmt.Errorf("multisig withdrawal %s has no safe tx hash", w.ID)
	}

	status, err := s.multisig.Status(ctx, *w.SafeTxHash)
	if err != nil {
		return err
	}
	if !status.Executed {
		return nil
	}

	if !status.Successful {
		return s.failAfterBroadcast(ctx, w, "safe execution failed")
	}

	// Persist the on-chain hash; final confirmation happens on the
	// next sweep through the regular tx tracking path. The row is
	// already broadcast, so this must not go through MarkBroadcast.
	if status.OnChainTxHash != "" {
		if err := s.repo.SetTxHash(ctx, w.ID, status.OnChainTxHash); err != nil {
			return fmt.Errorf("set on-chain tx hash: %w", err)
		}
		w.TxHash = &status.OnChainTxHash
	}
	return nil
}

// failAfterBroadcast fails a withdrawal whose transaction left custody
// but died on chain. The debit already happened, so the user gets a
// compensating credit instead of an unlock.
func (s *WithdrawalService) failAfterBroadcast(ctx context.Context, w *entities.Withdrawal, reason string) error {
	if err := s.repo.Complete(ctx, w.ID, entities.WithdrawalStatusBroadcast, entities.WithdrawalStatusFailed, reason); err != nil {
		return err
	}
	if err := s.ledger.Compensate(ctx, w.UserID, w.AssetID, w.Amount, w.ID); err != nil {
		s.logger.Error("Failed to compensate dropped withdrawal", "withdrawal_id", w.ID, "error", err)
		return err
	}

	w.Status = entities.WithdrawalStatusFailed
	metrics.WithdrawalsTotal.WithLabelValues(string(w.Chain), string(entities.WithdrawalStatusFailed)).Inc()
	s.logger.Warn("Withdrawal failed after broadcast", "withdrawal_id", w.ID, "reason", reason)
	s.publishWithdrawal(ctx, queue.TopicWithdrawalFailed, w, reason)
	return nil
}

// GetByID returns a withdrawal visible to the requesting user
func (s *WithdrawalService) GetByID(ctx context.Context, userID, withdrawalID uuid.UUID) (*entities.Withdrawal, error) {
	withdrawal, err := s.repo.GetByID(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if withdrawal.UserID != userID {
		return nil, domainerrors.ErrForbidden
	}
	return withdrawal, nil
}

// ListForUser returns a user's withdrawals, newest first
func (s *WithdrawalService) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.Withdrawal, error) {
	return s.repo.GetByUserID(ctx, userID, limit, offset)
}

// ListByStatus returns withdrawals in a status for operator views
func (s *WithdrawalService) ListByStatus(ctx context.Context, status entities.WithdrawalStatus, limit int) ([]*entities.Withdrawal, error) {
	return s.repo.ListByStatus(ctx, status, limit)
}

func (s *WithdrawalService) publishWithdrawal(ctx context.Context, topic string, w *entities.Withdrawal, reason string) {
	if s.publisher == nil {
		return
	}
	event := queue.WithdrawalEvent{
		WithdrawalID: w.ID,
		UserID:       w.UserID,
		Chain:        string(w.Chain),
		AssetID:      w.AssetID,
		Amount:       w.Amount,
		Status:       string(w.Status),
		Reason:       reason,
		Timestamp:    time.Now().UTC(),
	}
	if w.TxHash != nil {
		event.TxHash = *w.TxHash
	}
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		s.logger.Warn("Failed to publish withdrawal event", "topic", topic, "error", err)
	}
}
