package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-core-api/internal/dto"
	"github.com/noah-isme/tutor-core-api/internal/models"
	appErrors "github.com/noah-isme/tutor-core-api/pkg/errors"
)

var driftEpsilon = decimal.NewFromFloat(0.01)

type walletStore interface {
	Ensure(ctx context.Context, exec sqlx.ExtContext, teacherID string) (*models.Wallet, error)
	FindByTeacher(ctx context.Context, exec sqlx.ExtContext, teacherID string) (*models.Wallet, error)
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Wallet, error)
	ListIDs(ctx context.Context) ([]string, error)
	InsertTransaction(ctx context.Context, exec sqlx.ExtContext, txn *models.WalletTransaction) (bool, error)
	ApplyIncrement(ctx context.Context, exec sqlx.ExtContext, walletID string, inc models.WalletIncrement) error
	InsertPlatformRevenue(ctx context.Context, exec sqlx.ExtContext, revenue *models.PlatformRevenue) (bool, error)
	SumLedger(ctx context.Context, exec sqlx.ExtContext, walletID string) (models.LedgerTotals, error)
	OverwriteAggregates(ctx context.Context, exec sqlx.ExtContext, walletID string, balance, totalEarned decimal.Decimal) error
	ListTransactions(ctx context.Context, filter models.WalletTransactionFilter) ([]models.WalletTransaction, int, error)
}

type sessionReader interface {
	FindByReservation(ctx context.Context, exec sqlx.ExtContext, reservationID string) (*models.LiveSession, error)
}

type reservationReader interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Reservation, error)
}

// WalletConfig is injected at construction; nothing in the ledger reads global state.
type WalletConfig struct {
	PlatformFeePercent decimal.Decimal
	CapSessionOverrun  bool
}

// WalletService credits teacher earnings and keeps cached aggregates in line with the ledger.
type WalletService struct {
	wallets      walletStore
	sessions     sessionReader
	reservations reservationReader
	teachers     teacherReader
	tx           txRunner
	cfg          WalletConfig
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewWalletService builds the service. The fee must be in [0, 100): a 100% fee would leave
// every ledger entry at zero.
func NewWalletService(
	wallets walletStore,
	sessions sessionReader,
	reservations reservationReader,
	teachers teacherReader,
	tx txRunner,
	cfg WalletConfig,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) (*WalletService, error) {
	if cfg.PlatformFeePercent.IsNegative() || cfg.PlatformFeePercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("platform fee percent must be at least 0 and below 100, got %s", cfg.PlatformFeePercent)
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WalletService{
		wallets:      wallets,
		sessions:     sessions,
		reservations: reservations,
		teachers:     teachers,
		tx:           tx,
		cfg:          cfg,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
	}, nil
}

// SplitFee returns the platform fee and the teacher's share of gross.
func (s *WalletService) SplitFee(gross decimal.Decimal) (fee, earning decimal.Decimal) {
	fee = gross.Mul(s.cfg.PlatformFeePercent).Div(decimal.NewFromInt(100)).Round(2)
	return fee, gross.Sub(fee)
}

// CreditWallet credits a teacher for a monetised booking or payment. Replaying the same
// booking or payment id is a successful no-op with Applied=false.
func (s *WalletService) CreditWallet(ctx context.Context, req dto.CreditWalletRequest) (*models.CreditOutcome, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if isBlank(req.BookingID) && isBlank(req.PaymentID) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "bookingId or paymentId is required")
	}
	if !req.GrossAmount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "grossAmount must be positive")
	}
	if _, earning := s.SplitFee(req.GrossAmount); !earning.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "grossAmount leaves no teacher earning after the platform fee")
	}
	if _, err := s.teachers.FindTeacher(ctx, nil, req.TeacherID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}

	outcome, err := s.credit(ctx, creditEntry{
		teacherID:   req.TeacherID,
		gross:       req.GrossAmount,
		bookingID:   req.BookingID,
		paymentID:   req.PaymentID,
		kind:        models.TransactionTypeCredit,
		description: "payment credit",
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to credit wallet")
	}
	return outcome, nil
}

// CreditFromSession credits the teacher for a completed session at their hourly rate.
// Missing sessions, missing timestamps and unknown teachers are logged and skipped.
func (s *WalletService) CreditFromSession(ctx context.Context, bookingID string) (*models.CreditOutcome, error) {
	skipped := &models.CreditOutcome{}
	reservation, err := s.reservations.FindByID(ctx, nil, bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("session credit skipped: booking not found", zap.String("booking_id", bookingID))
			return skipped, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booking")
	}
	session, err := s.sessions.FindByReservation(ctx, nil, bookingID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if session == nil || !session.HasTimestamps() {
		s.logger.Warn("session credit skipped: session has no start and end", zap.String("booking_id", bookingID))
		return skipped, nil
	}
	return s.creditSession(ctx, reservation, session)
}

// SettleReservation credits a completed reservation: by the session clock when it was
// recorded, otherwise by the booked price.
func (s *WalletService) SettleReservation(ctx context.Context, reservationID string) (*models.CreditOutcome, error) {
	reservation, err := s.reservations.FindByID(ctx, nil, reservationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "reservation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reservation")
	}
	if reservation.Status != models.ReservationStatusCompleted {
		s.logger.Warn("settlement skipped: reservation not completed", zap.String("reservation_id", reservationID), zap.String("status", string(reservation.Status)))
		return &models.CreditOutcome{}, nil
	}

	session, err := s.sessions.FindByReservation(ctx, nil, reservationID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if session != nil && session.HasTimestamps() {
		return s.creditSession(ctx, reservation, session)
	}
	if !reservation.Price.IsPositive() {
		s.logger.Info("settlement skipped: free reservation without session", zap.String("reservation_id", reservationID))
		return &models.CreditOutcome{}, nil
	}

	bookingID := reservation.ID
	outcome, err := s.credit(ctx, creditEntry{
		teacherID:   reservation.TeacherID,
		gross:       reservation.Price,
		bookingID:   &bookingID,
		kind:        models.TransactionTypeSessionEarning,
		hours:       decimal.NewFromInt(int64(reservation.DurationMinutes)).Div(decimal.NewFromInt(60)).Round(4),
		description: fmt.Sprintf("session %s %s", reservation.Date, reservation.StartTime),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to settle reservation")
	}
	return outcome, nil
}

func (s *WalletService) creditSession(ctx context.Context, reservation *models.Reservation, session *models.LiveSession) (*models.CreditOutcome, error) {
	teacher, err := s.teachers.FindTeacher(ctx, nil, reservation.TeacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("session credit skipped: teacher not found", zap.String("booking_id", reservation.ID), zap.String("teacher_id", reservation.TeacherID))
			return &models.CreditOutcome{}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}

	capMinutes := 0
	if s.cfg.CapSessionOverrun {
		capMinutes = reservation.DurationMinutes
	}
	hours := session.Hours(capMinutes)
	gross := hours.Mul(teacher.HourlyRate).Round(2)
	if !gross.IsPositive() {
		s.logger.Warn("session credit skipped: nothing to pay", zap.String("booking_id", reservation.ID), zap.String("hours", hours.String()))
		return &models.CreditOutcome{Hours: hours}, nil
	}

	bookingID := reservation.ID
	outcome, err := s.credit(ctx, creditEntry{
		teacherID:   teacher.ID,
		gross:       gross,
		bookingID:   &bookingID,
		kind:        models.TransactionTypeSessionEarning,
		hours:       hours,
		description: fmt.Sprintf("session %s %s (%s h)", reservation.Date, reservation.StartTime, hours.StringFixed(2)),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to credit session")
	}
	return outcome, nil
}

type creditEntry struct {
	teacherID   string
	gross       decimal.Decimal
	bookingID   *string
	paymentID   *string
	kind        models.TransactionType
	hours       decimal.Decimal
	description string
}

// credit appends the ledger entry, bumps the aggregates and records platform revenue in one transaction.
func (s *WalletService) credit(ctx context.Context, entry creditEntry) (*models.CreditOutcome, error) {
	fee, earning := s.SplitFee(entry.gross)
	outcome := &models.CreditOutcome{
		GrossAmount:    entry.gross,
		PlatformFee:    fee,
		TeacherEarning: earning,
		Hours:          entry.hours,
	}
	if !earning.IsPositive() {
		s.logger.Warn("wallet credit skipped: nothing left after platform fee",
			zap.String("teacher_id", entry.teacherID),
			zap.String("gross", entry.gross.String()),
			zap.Stringp("booking_id", entry.bookingID),
		)
		return outcome, nil
	}

	err := s.tx.WithinTx(ctx, nil, func(exec sqlx.ExtContext) error {
		wallet, err := s.wallets.Ensure(ctx, exec, entry.teacherID)
		if err != nil {
			return err
		}
		outcome.WalletID = wallet.ID

		txn := &models.WalletTransaction{
			WalletID:    wallet.ID,
			Type:        entry.kind,
			Amount:      earning,
			BookingID:   entry.bookingID,
			PaymentID:   entry.paymentID,
			Description: entry.description,
		}
		applied, err := s.wallets.InsertTransaction(ctx, exec, txn)
		if err != nil || !applied {
			return err
		}
		outcome.TransactionID = txn.ID
		outcome.Applied = true

		if err := s.wallets.ApplyIncrement(ctx, exec, wallet.ID, models.WalletIncrement{
			Balance:     earning,
			TotalEarned: earning,
			TotalHours:  entry.hours,
		}); err != nil {
			return err
		}

		if entry.bookingID != nil {
			if _, err := s.wallets.InsertPlatformRevenue(ctx, exec, &models.PlatformRevenue{
				BookingID:      *entry.bookingID,
				Amount:         fee,
				TeacherEarning: earning,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordWalletCredit(string(entry.kind), outcome.Applied)
	if outcome.Applied {
		s.logger.Info("wallet credited",
			zap.String("wallet_id", outcome.WalletID),
			zap.String("type", string(entry.kind)),
			zap.String("gross", entry.gross.String()),
			zap.String("earning", earning.String()),
		)
	} else {
		s.logger.Info("wallet credit already recorded", zap.String("wallet_id", outcome.WalletID), zap.Stringp("booking_id", entry.bookingID), zap.Stringp("payment_id", entry.paymentID))
	}
	return outcome, nil
}

// Debit withdraws from a teacher's wallet. A repeated payment id is a no-op returning nil.
// Funds are checked against the ledger under the wallet row lock, never against the cached
// balance, so the ledger cannot go negative and the cache is resynced on every debit.
func (s *WalletService) Debit(ctx context.Context, actor models.Actor, teacherID string, req dto.DebitWalletRequest) (*models.WalletTransaction, error) {
	if !actor.IsPrivileged() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can debit wallets")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if !req.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "amount must be positive")
	}

	var recorded *models.WalletTransaction
	err := s.tx.WithinTx(ctx, nil, func(exec sqlx.ExtContext) error {
		found, err := s.wallets.FindByTeacher(ctx, exec, teacherID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "wallet not found")
			}
			return err
		}
		wallet, err := s.wallets.FindByIDForUpdate(ctx, exec, found.ID)
		if err != nil {
			return err
		}

		description := req.Description
		if description == "" {
			description = fmt.Sprintf("%s by %s", req.Type, actor.UserID)
		}
		txn := &models.WalletTransaction{
			WalletID:    wallet.ID,
			Type:        req.Type,
			Amount:      req.Amount.Round(2),
			PaymentID:   req.PaymentID,
			Description: description,
		}
		applied, err := s.wallets.InsertTransaction(ctx, exec, txn)
		if err != nil || !applied {
			return err
		}

		totals, err := s.wallets.SumLedger(ctx, exec, wallet.ID)
		if err != nil {
			return err
		}
		remaining := totals.Credits.Sub(totals.Debits)
		if remaining.IsNegative() {
			return appErrors.Clone(appErrors.ErrInsufficientFunds, fmt.Sprintf("ledger balance %s does not cover %s",
				remaining.Add(txn.Amount).StringFixed(2), txn.Amount.StringFixed(2)))
		}
		if drifted(wallet.Balance.Sub(txn.Amount), remaining) {
			s.logger.Warn("cached wallet balance drifted from ledger",
				zap.String("wallet_id", wallet.ID),
				zap.String("cached", wallet.Balance.String()),
				zap.String("ledger", remaining.Add(txn.Amount).String()),
			)
		}
		if err := s.wallets.OverwriteAggregates(ctx, exec, wallet.ID, remaining, totals.Credits); err != nil {
			return err
		}
		recorded = txn
		return nil
	})
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to debit wallet")
	}
	if recorded != nil {
		s.logger.Info("wallet debited", zap.String("wallet_id", recorded.WalletID), zap.String("amount", recorded.Amount.String()), zap.String("actor_id", actor.UserID))
	}
	return recorded, nil
}

// Reconcile replays the ledger under a row lock and overwrites drifted aggregates.
func (s *WalletService) Reconcile(ctx context.Context, walletID string) (*models.ReconcileResult, error) {
	var result *models.ReconcileResult
	err := s.tx.WithinTx(ctx, nil, func(exec sqlx.ExtContext) error {
		wallet, err := s.wallets.FindByIDForUpdate(ctx, exec, walletID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "wallet not found")
			}
			return err
		}
		totals, err := s.wallets.SumLedger(ctx, exec, wallet.ID)
		if err != nil {
			return err
		}

		result = &models.ReconcileResult{
			WalletID:            wallet.ID,
			PreviousBalance:     wallet.Balance,
			PreviousTotalEarned: wallet.TotalEarned,
			ComputedBalance:     totals.Credits.Sub(totals.Debits),
			ComputedTotalEarned: totals.Credits,
		}
		if !drifted(wallet.Balance, result.ComputedBalance) && !drifted(wallet.TotalEarned, result.ComputedTotalEarned) {
			return nil
		}
		result.Corrected = true
		return s.wallets.OverwriteAggregates(ctx, exec, wallet.ID, result.ComputedBalance, result.ComputedTotalEarned)
	})
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reconcile wallet")
	}

	s.metrics.RecordReconcile(result.Corrected)
	if result.Corrected {
		s.logger.Info("wallet aggregates corrected",
			zap.String("wallet_id", result.WalletID),
			zap.String("previous_balance", result.PreviousBalance.String()),
			zap.String("balance", result.ComputedBalance.String()),
			zap.String("previous_total_earned", result.PreviousTotalEarned.String()),
			zap.String("total_earned", result.ComputedTotalEarned.String()),
		)
	}
	return result, nil
}

// ReconcileAll reconciles every wallet, continuing past individual failures.
func (s *WalletService) ReconcileAll(ctx context.Context) (*dto.ReconcileSummary, error) {
	ids, err := s.wallets.ListIDs(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list wallets")
	}

	started := time.Now()
	summary := &dto.ReconcileSummary{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Scanned++
		result, err := s.Reconcile(ctx, id)
		if err != nil {
			summary.Failed++
			s.logger.Error("wallet reconcile failed", zap.String("wallet_id", id), zap.Error(err))
			continue
		}
		if result.Corrected {
			summary.Corrected++
			summary.Results = append(summary.Results, *result)
		}
	}
	s.logger.Info("wallet reconciliation finished",
		zap.Int("scanned", summary.Scanned),
		zap.Int("corrected", summary.Corrected),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", time.Since(started)),
	)
	return summary, nil
}

// GetWallet returns a teacher's wallet.
func (s *WalletService) GetWallet(ctx context.Context, actor models.Actor, teacherID string) (*models.Wallet, error) {
	if !actor.IsPrivileged() && actor.UserID != teacherID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot view another teacher's wallet")
	}
	wallet, err := s.wallets.FindByTeacher(ctx, nil, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "wallet not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load wallet")
	}
	return wallet, nil
}

// ListTransactions pages through a teacher's ledger, newest first.
func (s *WalletService) ListTransactions(ctx context.Context, actor models.Actor, teacherID string, query dto.WalletTransactionQuery) ([]models.WalletTransaction, *models.Pagination, error) {
	wallet, err := s.GetWallet(ctx, actor, teacherID)
	if err != nil {
		return nil, nil, err
	}
	page, size := query.Page, query.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 200 {
		size = 50
	}
	txns, total, err := s.wallets.ListTransactions(ctx, models.WalletTransactionFilter{WalletID: wallet.ID, Page: page, PageSize: size})
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list wallet transactions")
	}
	return txns, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func isBlank(key *string) bool {
	return key == nil || strings.TrimSpace(*key) == ""
}

func drifted(cached, computed decimal.Decimal) bool {
	return cached.Sub(computed).Abs().GreaterThan(driftEpsilon)
}
