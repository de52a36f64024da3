package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tutor-core-api/internal/models"
	"github.com/noah-isme/tutor-core-api/pkg/jobs"
)

// JobTypeSettleReservation is the queue job type for crediting a completed reservation.
const JobTypeSettleReservation = "wallet.settle_reservation"

// SettlementSweepTaskName identifies the periodic pass over completed but uncredited reservations.
const SettlementSweepTaskName = "settlement-sweep"

type reservationSettler interface {
	SettleReservation(ctx context.Context, reservationID string) (*models.CreditOutcome, error)
}

type jobEnqueuer interface {
	Enqueue(ctx context.Context, job jobs.Job) error
}

// SettlementDispatcher hands completed reservations to the background credit queue.
type SettlementDispatcher struct {
	queue  jobEnqueuer
	logger *zap.Logger
}

// NewSettlementDispatcher wraps queue.
func NewSettlementDispatcher(queue jobEnqueuer, logger *zap.Logger) *SettlementDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettlementDispatcher{queue: queue, logger: logger}
}

// DispatchSettlement enqueues the credit for reservationID.
func (d *SettlementDispatcher) DispatchSettlement(ctx context.Context, reservationID string) error {
	return d.queue.Enqueue(ctx, jobs.Job{
		ID:      "settle:" + reservationID,
		Type:    JobTypeSettleReservation,
		Payload: reservationID,
	})
}

// SettlementHandler returns the queue handler that credits reservations through settler.
func SettlementHandler(settler reservationSettler, logger *zap.Logger) jobs.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, job jobs.Job) error {
		if job.Type != JobTypeSettleReservation {
			return fmt.Errorf("unexpected job type %q", job.Type)
		}
		reservationID, ok := job.Payload.(string)
		if !ok || reservationID == "" {
			logger.Error("dropping settlement job with invalid payload", zap.String("job_id", job.ID))
			return nil
		}
		outcome, err := settler.SettleReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		logger.Debug("reservation settled", zap.String("reservation_id", reservationID), zap.Bool("applied", outcome.Applied))
		return nil
	}
}

type unsettledLister interface {
	ListUnsettled(ctx context.Context, from, to time.Time, limit int) ([]string, error)
}

// SettlementSweepConfig bounds one sweep. Grace leaves fresh completions to the queue; Lookback
// stops reservations that can never be credited from being rescanned forever.
type SettlementSweepConfig struct {
	Grace     time.Duration
	Lookback  time.Duration
	BatchSize int
	Now       func() time.Time
}

// SettlementSweepTask credits completed reservations whose queued settlement was lost, for
// example when the process stopped before the credit ran. Settlement is idempotent per booking,
// so racing the queue is harmless.
func SettlementSweepTask(reservations unsettledLister, settler reservationSettler, cfg SettlementSweepConfig, logger *zap.Logger) jobs.Task {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 7 * 24 * time.Hour
	}
	return func(ctx context.Context) error {
		now := cfg.Now().UTC()
		ids, err := reservations.ListUnsettled(ctx, now.Add(-cfg.Lookback), now.Add(-cfg.Grace), cfg.BatchSize)
		if err != nil {
			return err
		}

		credited, failed := 0, 0
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			outcome, err := settler.SettleReservation(ctx, id)
			if err != nil {
				failed++
				logger.Error("settlement sweep failed", zap.String("reservation_id", id), zap.Error(err))
				continue
			}
			if outcome.Applied {
				credited++
			}
		}
		if credited > 0 || failed > 0 {
			logger.Warn("settlement sweep recovered missing credits",
				zap.Int("scanned", len(ids)),
				zap.Int("credited", credited),
				zap.Int("failed", failed),
			)
		}
		if failed > 0 {
			return fmt.Errorf("settlement sweep: %d of %d reservations failed", failed, len(ids))
		}
		return nil
	}
}

// ScheduleSettlementSweep registers the sweep on the cron expression.
func ScheduleSettlementSweep(scheduler taskScheduler, spec string, reservations unsettledLister, settler reservationSettler, cfg SettlementSweepConfig, logger *zap.Logger) error {
	return scheduler.Register(SettlementSweepTaskName, spec, SettlementSweepTask(reservations, settler, cfg, logger))
}
