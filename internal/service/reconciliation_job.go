package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/tutor-core-api/internal/dto"
	"github.com/noah-isme/tutor-core-api/pkg/jobs"
)

// ReconcileTaskName identifies the periodic ledger reconciliation.
const ReconcileTaskName = "wallet-reconcile"

type walletReconciler interface {
	ReconcileAll(ctx context.Context) (*dto.ReconcileSummary, error)
}

type taskScheduler interface {
	Register(name, spec string, task jobs.Task) error
}

// ReconciliationTask adapts the wallet sweep to the scheduler.
func ReconciliationTask(wallets walletReconciler, logger *zap.Logger) jobs.Task {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) error {
		summary, err := wallets.ReconcileAll(ctx)
		if err != nil {
			return err
		}
		if summary.Corrected > 0 || summary.Failed > 0 {
			logger.Warn("wallet drift detected",
				zap.Int("scanned", summary.Scanned),
				zap.Int("corrected", summary.Corrected),
				zap.Int("failed", summary.Failed),
			)
		}
		return nil
	}
}

// ScheduleReconciliation registers the sweep on the cron expression.
func ScheduleReconciliation(scheduler taskScheduler, spec string, wallets walletReconciler, logger *zap.Logger) error {
	return scheduler.Register(ReconcileTaskName, spec, ReconciliationTask(wallets, logger))
}
