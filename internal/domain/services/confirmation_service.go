package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	domainerrors "github.com/stacklayer/custody-service/internal/domain/errors"
	"github.com/stacklayer/custody-service/pkg/logger"
	"github.com/stacklayer/custody-service/pkg/metrics"
	"github.com/stacklayer/custody-service/pkg/queue"
)

// DepositRepository is the persistence surface the confirmation
// service needs
type DepositRepository interface {
	ListPending(ctx context.Context, limit int) ([]*entities.Deposit, error)
	UpdateConfirmations(ctx context.Context, id uuid.UUID, confirmations int64) error
	MarkConfirmed(ctx context.Context, id uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID) (bool, error)
}

// ConfirmationChainClient is the chain surface the confirmation
// service needs
type ConfirmationChainClient interface {
	TxConfirmations(ctx context.Context, txHash string) (int64, error)
}

// LedgerCreditor credits confirmed deposits
type LedgerCreditor interface {
	Credit(ctx context.Context, userID uuid.UUID, assetID string, amount decimal.Decimal, reason entities.EntryReason, refID uuid.UUID) error
	HasCredit(ctx context.Context, refID uuid.UUID) (bool, error)
}

// ConfirmationService promotes pending deposits once their transaction
// has enough confirmations. Credit happens before the status flip, so
// a crash between the two replays harmlessly: the ledger append is
// idempotent on (reason, ref_id) and the flip is conditional on the
// row still being pending.
type ConfirmationService struct {
	deposits  DepositRepository
	ledger    LedgerCreditor
	clients   map[entities.Chain]ConfirmationChainClient
	publisher queue.Publisher
	logger    *logger.Logger
	batchSize int
}

// NewConfirmationService creates a new confirmation service
func NewConfirmationService(
	deposits DepositRepository,
	ledger LedgerCreditor,
	clients map[entities.Chain]ConfirmationChainClient,
	publisher queue.Publisher,
	batchSize int,
	logger *logger.Logger,
) *ConfirmationService {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ConfirmationService{
		deposits:  deposits,
		ledger:    ledger,
		clients:   clients,
		publisher: publisher,
		logger:    logger,
		batchSize: batchSize,
	}
}

// CheckPendingDeposits sweeps pending deposits, refreshing their
// confirmation counts, crediting those past threshold and failing
// those whose transaction is gone. One broken deposit never aborts the
// sweep; the error is logged and the sweep moves on.
func (s *ConfirmationService) CheckPendingDeposits(ctx context.Context) (*entities.ConfirmationSweepResult, error) {
	start := time.Now()
	defer func() {
		metrics.ConfirmationSweepDuration.Observe(time.Since(start).Seconds())
	}()

	pending, err := s.deposits.ListPending(ctx, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list pending deposits: %w", err)
	}

	result := &entities.ConfirmationSweepResult{}
	for _, deposit := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++

		client, ok := s.clients[deposit.Chain]
		if !ok {
			s.logger.Warn("No chain client for pending deposit", "chain", deposit.Chain, "deposit_id", deposit.ID)
			continue
		}

		confirmations, err := client.TxConfirmations(ctx, deposit.TxHash)
		if err != nil {
			if errors.Is(err, domainerrors.ErrNotFound) {
				if s.failDeposit(ctx, deposit) {
					result.Failed++
				}
				continue
			}
			s.logger.Error("Failed to check deposit confirmations",
				"deposit_id", deposit.ID,
				"tx_hash", deposit.TxHash,
				"error", err)
			continue
		}

		if confirmations != deposit.CurrentConfirmations {
			if err := s.deposits.UpdateConfirmations(ctx, deposit.ID, confirmations); err != nil {
				s.logger.Error("Failed to update confirmations", "deposit_id", deposit.ID, "error", err)
			}
			deposit.CurrentConfirmations = confirmations
		}

		if deposit.CurrentConfirmations >= deposit.RequiredConfirmations {
			if s.confirmDeposit(ctx, deposit) {
				result.Confirmed++
			}
		}
	}

	return result, nil
}

// confirmDeposit credits the user, then flips the deposit row. The
// return value reports whether this call was the one that flipped it.
func (s *ConfirmationService) confirmDeposit(ctx context.Context, deposit *entities.Deposit) bool {
	if err := s.ledger.Credit(ctx, deposit.UserID, deposit.AssetID, deposit.Amount, entities.ReasonDeposit, deposit.ID); err != nil {
		s.logger.Error("Failed to credit deposit", "deposit_id", deposit.ID, "error", err)
		return false
	}

	flipped, err := s.deposits.MarkConfirmed(ctx, deposit.ID)
	if err != nil {
		s.logger.Error("Failed to mark deposit confirmed", "deposit_id", deposit.ID, "error", err)
		return false
	}
	if !flipped {
		return false
	}

	metrics.DepositsTotal.WithLabelValues(string(deposit.Chain), string(entities.DepositStatusConfirmed)).Inc()
	s.logger.Info("Deposit confirmed",
		"deposit_id", deposit.ID,
		"user_id", deposit.UserID,
		"chain", deposit.Chain,
		"amount", deposit.Amount,
		"tx_hash", deposit.TxHash)

	s.publish(ctx, queue.TopicDepositConfirmed, deposit)
	return true
}

func (s *ConfirmationService) failDeposit(ctx context.Context, deposit *entities.Deposit) bool {
	// A retraction after the credit landed means the user holds a
	// balance with no chain backing. The deposit stays pending for
	// an operator; flipping it would hide the stranded credit.
	credited, err := s.ledger.HasCredit(ctx, deposit.ID)
	if err != nil {
		s.logger.Error("Failed to check deposit credit", "deposit_id", deposit.ID, "error", err)
		return false
	}
	if credited {
		s.logger.Error("Deposit retracted after credit, manual intervention required",
			"deposit_id", deposit.ID,
			"user_id", deposit.UserID,
			"tx_hash", deposit.TxHash,
			"amount", deposit.Amount,
			"chain", deposit.Chain)
		return false
	}

	flipped, err := s.deposits.MarkFailed(ctx, deposit.ID)
	if err != nil {
		s.logger.Error("Failed to mark deposit failed", "deposit_id", deposit.ID, "error", err)
		return false
	}
	if !flipped {
		return false
	}

	metrics.DepositsTotal.WithLabelValues(string(deposit.Chain), string(entities.DepositStatusFailed)).Inc()
	s.logger.Warn("Deposit transaction no longer on chain",
		"deposit_id", deposit.ID,
		"tx_hash", deposit.TxHash,
		"chain", deposit.Chain)

	s.publish(ctx, queue.TopicDepositFailed, deposit)
	return true
}

func (s *ConfirmationService) publish(ctx context.Context, topic string, deposit *entities.Deposit) {
	if s.publisher == nil {
		return
	}
	event := queue.DepositEvent{
		DepositID: deposit.ID,
		UserID:    deposit.UserID,
		Chain:     string(deposit.Chain),
		AssetID:   deposit.AssetID,
		Amount:    deposit.Amount,
		TxHash:    deposit.TxHash,
		Timestamp: time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		s.logger.Warn("Failed to publish deposit event", "topic", topic, "error", err)
	}
}
