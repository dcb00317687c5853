package chain_watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	domainerrors "github.com/stacklayer/custody-service/internal/domain/errors"
	"github.com/stacklayer/custody-service/pkg/logger"
	"github.com/stacklayer/custody-service/pkg/metrics"
	"github.com/stacklayer/custody-service/pkg/retry"
)

// ChainClient is the node surface the watcher needs
type ChainClient interface {
	TipHeight(ctx context.Context) (int64, error)
	BlockHashAt(ctx context.Context, height int64) (string, error)
	ScanBlock(ctx context.Context, height int64, watched map[string]bool) ([]entities.IncomingTransfer, string, error)
}

// DepositStore persists scanned blocks
type DepositStore interface {
	RecordBlock(ctx context.Context, mark *entities.ChainWatermark, deposits []*entities.Deposit) error
	GetWatermark(ctx context.Context, chain entities.Chain) (*entities.ChainWatermark, error)
	RewindWatermark(ctx context.Context, chain entities.Chain, height int64, hash string) error
}

// AddressBook resolves watched addresses to their owners
type AddressBook interface {
	WatchedAddresses(ctx context.Context, chain entities.Chain) (map[string]*entities.DepositAddress, error)
}

// Config holds worker configuration
type Config struct {
	Chain         entities.Chain
	PollInterval  time.Duration
	StartBlock    int64
	ReorgDepth    int64
	Confirmations int64
}

// Worker scans one chain block by block, recording deposits into
// watched addresses and advancing the watermark. On a reorg it rewinds
// to the fork point and re-scans; upserts make the re-scan idempotent.
type Worker struct {
	cfg     Config
	client  ChainClient
	store   DepositStore
	book    AddressBook
	retrier *retry.Retrier
	logger  *logger.Logger
	stopCh  chan struct{}
}

// NewWorker creates a new chain watcher
func NewWorker(cfg Config, client ChainClient, store DepositStore, book AddressBook, log *logger.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = cfg.Chain.DefaultPollInterval()
	}
	if cfg.ReorgDepth <= 0 {
		cfg.ReorgDepth = 12
	}
	if cfg.Confirmations <= 0 {
		cfg.Confirmations = cfg.Chain.RequiredConfirmations()
	}
	return &Worker{
		cfg:     cfg,
		client:  client,
		store:   store,
		book:    book,
		retrier: retry.NewRetrier(retry.DefaultPolicy(), log.Zap()),
		logger:  log,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the watcher loop
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Starting chain watcher",
		"chain", w.cfg.Chain,
		"poll_interval", w.cfg.PollInterval.String(),
		"reorg_depth", w.cfg.ReorgDepth)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.scan(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Chain watcher stopped (context cancelled)", "chain", w.cfg.Chain)
			return
		case <-w.stopCh:
			w.logger.Info("Chain watcher stopped", "chain", w.cfg.Chain)
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

// Stop stops the worker
func (w *Worker) Stop() {
	close(w.stopCh)
}

func (w *Worker) scan(ctx context.Context) {
	if err := w.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Error("Chain scan failed", "chain", w.cfg.Chain, "error", err)
	}
}

// RunOnce scans from the watermark up to the node tip
func (w *Worker) RunOnce(ctx context.Context) error {
	var tip int64
	err := w.retrier.Do(ctx, func() error {
		var err error
		tip, err = w.client.TipHeight(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("get tip: %w", err)
	}
	metrics.ChainTipHeight.WithLabelValues(string(w.cfg.Chain)).Set(float64(tip))

	next, err := w.nextHeight(ctx)
	if err != nil {
		return err
	}

	watched, err := w.book.WatchedAddresses(ctx, w.cfg.Chain)
	if err != nil {
		return fmt.Errorf("load watched addresses: %w", err)
	}
	watchedSet := make(map[string]bool, len(watched))
	for addr := range watched {
		watchedSet[addr] = true
	}

	for height := next; height <= tip; height++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.scanBlock(ctx, height, tip, watched, watchedSet); err != nil {
			return err
		}
	}

	return nil
}

func (w *Worker) nextHeight(ctx context.Context) (int64, error) {
	mark, err := w.store.GetWatermark(ctx, w.cfg.Chain)
	if err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			return w.cfg.StartBlock, nil
		}
		return 0, fmt.Errorf("get watermark: %w", err)
	}

	// Reorg check: if the chain no longer contains the block we last
	// recorded, walk back until the stored hash matches again.
	hash, err := w.client.BlockHashAt(ctx, mark.BlockHeight)
	if err != nil {
		return 0, fmt.Errorf("check watermark hash: %w", err)
	}
	if hash == mark.BlockHash {
		return mark.BlockHeight + 1, nil
	}

	w.logger.Warn("Reorg detected, rewinding",
		"chain", w.cfg.Chain,
		"height", mark.BlockHeight,
		"stored_hash", mark.BlockHash,
		"chain_hash", hash)

	// Only the latest watermark hash is stored, so the fork point is
	// unknown; ReorgDepth bounds the deepest plausible fork and the
	// re-scan upserts make overlap harmless.
	rewindTo := mark.BlockHeight - w.cfg.ReorgDepth
	if rewindTo < w.cfg.StartBlock {
		rewindTo = w.cfg.StartBlock
	}

	rewindHash, err := w.client.BlockHashAt(ctx, rewindTo)
	if err != nil {
		return 0, fmt.Errorf("get rewind hash: %w", err)
	}
	if err := w.store.RewindWatermark(ctx, w.cfg.Chain, rewindTo, rewindHash); err != nil {
		return 0, fmt.Errorf("rewind watermark: %w", err)
	}
	return rewindTo + 1, nil
}

func (w *Worker) scanBlock(ctx context.Context, height, tip int64, watched map[string]*entities.DepositAddress, watchedSet map[string]bool) error {
	var transfers []entities.IncomingTransfer
	var blockHash string
	err := w.retrier.Do(ctx, func() error {
		var err error
		transfers, blockHash, err = w.client.ScanBlock(ctx, height, watchedSet)
		return err
	})
	if err != nil {
		return fmt.Errorf("scan block %d: %w", height, err)
	}

	deposits := make([]*entities.Deposit, 0, len(transfers))
	now := time.Now().UTC()
	for _, t := range transfers {
		owner, ok := watched[t.Address]
		if !ok {
			continue
		}
		deposits = append(deposits, &entities.Deposit{
			ID:                    uuid.New(),
			UserID:                owner.UserID,
			Chain:                 w.cfg.Chain,
			TxHash:                t.TxHash,
			OutputIndex:           t.OutputIndex,
			Address:               t.Address,
			AssetID:               t.AssetID,
			Amount:                t.Amount,
			BlockHeight:           t.BlockHeight,
			RequiredConfirmations: w.cfg.Confirmations,
			CurrentConfirmations:  tip - height + 1,
			Status:                entities.DepositStatusPending,
			CreatedAt:             now,
			UpdatedAt:             now,
		})
	}

	mark := &entities.ChainWatermark{
		Chain:       w.cfg.Chain,
		BlockHeight: height,
		BlockHash:   blockHash,
	}
	if err := w.store.RecordBlock(ctx, mark, deposits); err != nil {
		return fmt.Errorf("record block %d: %w", height, err)
	}

	metrics.ChainScanHeight.WithLabelValues(string(w.cfg.Chain)).Set(float64(height))
	if len(deposits) > 0 {
		w.logger.Info("Recorded deposits",
			"chain", w.cfg.Chain,
			"height", height,
			"count", len(deposits))
	}

	return nil
}
