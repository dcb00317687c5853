package broadcast_watcher

import (
	"context"
	"errors"
	"time"

	"github.com/stacklayer/custody-service/pkg/logger"
)

// WithdrawalExecutor executes approved withdrawals and settles
// broadcast ones
type WithdrawalExecutor interface {
	ExecuteApproved(ctx context.Context, limit int) error
	TrackBroadcast(ctx context.Context, limit int) error
}

// Worker drives the outbound side: each tick it sends whatever is
// approved, then checks what is already on the wire.
type Worker struct {
	executor  WithdrawalExecutor
	interval  time.Duration
	batchSize int
	logger    *logger.Logger
	stopCh    chan struct{}
}

// NewWorker creates a new broadcast watcher
func NewWorker(executor WithdrawalExecutor, interval time.Duration, batchSize int, logger *logger.Logger) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Worker{
		executor:  executor,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the watcher loop
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Starting broadcast watcher", "interval", w.interval.String())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Broadcast watcher stopped (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("Broadcast watcher stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// Stop stops the worker
func (w *Worker) Stop() {
	close(w.stopCh)
}

func (w *Worker) tick(ctx context.Context) {
	if err := w.executor.ExecuteApproved(ctx, w.batchSize); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Error("Failed to execute approved withdrawals", "error", err)
	}
	if err := w.executor.TrackBroadcast(ctx, w.batchSize); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Error("Failed to track broadcast withdrawals", "error", err)
	}
}
