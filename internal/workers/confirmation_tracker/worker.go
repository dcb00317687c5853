package confirmation_tracker

import (
	"context"
	"errors"
	"time"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	"github.com/stacklayer/custody-service/pkg/logger"
)

// ConfirmationService sweeps pending deposits
type ConfirmationService interface {
	CheckPendingDeposits(ctx context.Context) (*entities.ConfirmationSweepResult, error)
}

// Worker periodically promotes pending deposits whose transactions
// have enough confirmations.
type Worker struct {
	service  ConfirmationService
	interval time.Duration
	logger   *logger.Logger
	stopCh   chan struct{}
}

// NewWorker creates a new confirmation tracker
func NewWorker(service ConfirmationService, interval time.Duration, logger *logger.Logger) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Worker{
		service:  service,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the tracker loop
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Starting confirmation tracker", "interval", w.interval.String())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Confirmation tracker stopped (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("Confirmation tracker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// Stop stops the worker
func (w *Worker) Stop() {
	close(w.stopCh)
}

func (w *Worker) sweep(ctx context.Context) {
	result, err := w.service.CheckPendingDeposits(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			w.logger.Error("Confirmation sweep failed", "error", err)
		}
		return
	}

	if result.Confirmed > 0 || result.Failed > 0 {
		w.logger.Info("Confirmation sweep finished",
			"checked", result.Checked,
			"confirmed", result.Confirmed,
			"failed", result.Failed)
	}
}
