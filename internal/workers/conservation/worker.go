package conservation

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerChecker verifies ledger invariants per asset
type LedgerChecker interface {
	CheckConservation(ctx context.Context, assetID string) (available, locked decimal.Decimal, err error)
}

// Worker runs the conservation audit on a schedule. It detects
// violations and alerts; it never mutates the ledger.
type Worker struct {
	ledger LedgerChecker
	assets []string
	spec   string
	cron   *cron.Cron
	logger *zap.Logger
}

// NewWorker creates a new conservation worker. spec is a cron
// expression; empty means hourly.
func NewWorker(ledger LedgerChecker, assets []string, spec string, logger *zap.Logger) *Worker {
	if spec == "" {
		spec = "0 * * * *"
	}
	return &Worker{
		ledger: ledger,
		assets: assets,
		spec:   spec,
		cron:   cron.New(),
		logger: logger,
	}
}

// Start schedules the audit
func (w *Worker) Start() error {
	_, err := w.cron.AddFunc(w.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		w.RunOnce(ctx)
	})
	if err != nil {
		return err
	}

	w.cron.Start()
	w.logger.Info("Conservation worker started", zap.String("schedule", w.spec), zap.Strings("assets", w.assets))
	return nil
}

// Stop stops the scheduler
func (w *Worker) Stop() {
	w.cron.Stop()
}

// RunOnce audits every configured asset
func (w *Worker) RunOnce(ctx context.Context) {
	for _, asset := range w.assets {
		available, locked, err := w.ledger.CheckConservation(ctx, asset)
		if err != nil {
			w.logger.Error("Conservation check failed",
				zap.String("asset", asset),
				zap.Error(err))
			continue
		}
		w.logger.Info("Conservation check passed",
			zap.String("asset", asset),
			zap.String("available", available.String()),
			zap.String("locked", locked.String()))
	}
}
