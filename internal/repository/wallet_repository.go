package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/tutor-core-api/internal/models"
)

const walletColumns = `id, teacher_id, balance, pending_balance, total_earned, total_hours, is_active, created_at, updated_at`

const walletTransactionColumns = `id, wallet_id, type, amount, booking_id, payment_id, description, created_at`

// WalletRepository persists wallets, their ledger and platform revenue.
type WalletRepository struct {
	db *sqlx.DB
}

// NewWalletRepository constructs repository.
func NewWalletRepository(db *sqlx.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Ensure creates a zero wallet for the teacher if none exists and returns the stored wallet.
func (r *WalletRepository) Ensure(ctx context.Context, exec sqlx.ExtContext, teacherID string) (*models.Wallet, error) {
	target := r.exec(exec)
	const insert = `INSERT INTO wallets (id, teacher_id, balance, pending_balance, total_earned, total_hours, is_active, created_at, updated_at)
VALUES ($1, $2, 0, 0, 0, 0, TRUE, $3, $3) ON CONFLICT (teacher_id) DO NOTHING`
	if _, err := target.ExecContext(ctx, insert, uuid.NewString(), teacherID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}
	return r.FindByTeacher(ctx, target, teacherID)
}

// FindByTeacher loads the teacher's wallet.
func (r *WalletRepository) FindByTeacher(ctx context.Context, exec sqlx.ExtContext, teacherID string) (*models.Wallet, error) {
	query := fmt.Sprintf(`SELECT %s FROM wallets WHERE teacher_id = $1`, walletColumns)
	var wallet models.Wallet
	if err := sqlx.GetContext(ctx, r.exec(exec), &wallet, query, teacherID); err != nil {
		return nil, err
	}
	return &wallet, nil
}

// FindByID loads a wallet.
func (r *WalletRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Wallet, error) {
	query := fmt.Sprintf(`SELECT %s FROM wallets WHERE id = $1`, walletColumns)
	var wallet models.Wallet
	if err := sqlx.GetContext(ctx, r.exec(exec), &wallet, query, id); err != nil {
		return nil, err
	}
	return &wallet, nil
}

// FindByIDForUpdate loads and row-locks a wallet inside the caller's transaction.
func (r *WalletRepository) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Wallet, error) {
	query := fmt.Sprintf(`SELECT %s FROM wallets WHERE id = $1 FOR UPDATE`, walletColumns)
	var wallet models.Wallet
	if err := sqlx.GetContext(ctx, r.exec(exec), &wallet, query, id); err != nil {
		return nil, err
	}
	return &wallet, nil
}

// ListIDs returns every wallet id.
func (r *WalletRepository) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM wallets ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("list wallet ids: %w", err)
	}
	return ids, nil
}

// InsertTransaction appends a ledger entry. It reports false without error when an entry
// with the same (wallet, payment) or (wallet, booking) key already exists.
func (r *WalletRepository) InsertTransaction(ctx context.Context, exec sqlx.ExtContext, txn *models.WalletTransaction) (bool, error) {
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO wallet_transactions (id, wallet_id, type, amount, booking_id, payment_id, description, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT DO NOTHING RETURNING id`
	var id string
	err := sqlx.GetContext(ctx, r.exec(exec), &id, query, txn.ID, txn.WalletID, txn.Type, txn.Amount, txn.BookingID, txn.PaymentID, txn.Description, txn.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert wallet transaction: %w", err)
	}
	return true, nil
}

// ApplyIncrement atomically adds to the cached aggregates.
func (r *WalletRepository) ApplyIncrement(ctx context.Context, exec sqlx.ExtContext, walletID string, inc models.WalletIncrement) error {
	const query = `UPDATE wallets SET balance = balance + $1, total_earned = total_earned + $2, total_hours = total_hours + $3, updated_at = $4 WHERE id = $5`
	result, err := r.exec(exec).ExecContext(ctx, query, inc.Balance, inc.TotalEarned, inc.TotalHours, time.Now().UTC(), walletID)
	if err != nil {
		return fmt.Errorf("increment wallet: %w", err)
	}
	return requireAffected(result, "increment wallet")
}

// InsertPlatformRevenue records the platform fee for a booking once; false when already recorded.
func (r *WalletRepository) InsertPlatformRevenue(ctx context.Context, exec sqlx.ExtContext, revenue *models.PlatformRevenue) (bool, error) {
	if revenue.ID == "" {
		revenue.ID = uuid.NewString()
	}
	if revenue.CreatedAt.IsZero() {
		revenue.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO platform_revenues (id, booking_id, amount, teacher_earning, created_at)
VALUES ($1, $2, $3, $4, $5) ON CONFLICT (booking_id) DO NOTHING RETURNING id`
	var id string
	err := sqlx.GetContext(ctx, r.exec(exec), &id, query, revenue.ID, revenue.BookingID, revenue.Amount, revenue.TeacherEarning, revenue.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert platform revenue: %w", err)
	}
	return true, nil
}

// SumLedger replays the wallet's transaction log into credit and debit totals.
func (r *WalletRepository) SumLedger(ctx context.Context, exec sqlx.ExtContext, walletID string) (models.LedgerTotals, error) {
	const query = `SELECT
COALESCE(SUM(amount) FILTER (WHERE type = ANY($2)), 0) AS credits,
COALESCE(SUM(amount) FILTER (WHERE type = ANY($3)), 0) AS debits
FROM wallet_transactions WHERE wallet_id = $1`
	var totals models.LedgerTotals
	if err := sqlx.GetContext(ctx, r.exec(exec), &totals, query, walletID,
		pq.Array(typeStrings(models.CreditTransactionTypes)), pq.Array(typeStrings(models.DebitTransactionTypes))); err != nil {
		return models.LedgerTotals{}, fmt.Errorf("sum wallet ledger: %w", err)
	}
	return totals, nil
}

// OverwriteAggregates replaces the cached balance and total earned.
func (r *WalletRepository) OverwriteAggregates(ctx context.Context, exec sqlx.ExtContext, walletID string, balance, totalEarned decimal.Decimal) error {
	const query = `UPDATE wallets SET balance = $1, total_earned = $2, updated_at = $3 WHERE id = $4`
	result, err := r.exec(exec).ExecContext(ctx, query, balance, totalEarned, time.Now().UTC(), walletID)
	if err != nil {
		return fmt.Errorf("overwrite wallet aggregates: %w", err)
	}
	return requireAffected(result, "overwrite wallet aggregates")
}

// ListTransactions returns ledger entries newest first with a total count.
func (r *WalletRepository) ListTransactions(ctx context.Context, filter models.WalletTransactionFilter) ([]models.WalletTransaction, int, error) {
	_, size, offset := normalizePage(filter.Page, filter.PageSize)
	where := "wallet_id = $1"
	args := []interface{}{filter.WalletID}
	if len(filter.Types) > 0 {
		where += " AND type = ANY($2)"
		args = append(args, pq.Array(typeStrings(filter.Types)))
	}

	query := fmt.Sprintf(`SELECT %s FROM wallet_transactions WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`, walletTransactionColumns, where, size, offset)
	var txns []models.WalletTransaction
	if err := r.db.SelectContext(ctx, &txns, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list wallet transactions: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf(`SELECT COUNT(*) FROM wallet_transactions WHERE %s`, where), args...); err != nil {
		return nil, 0, fmt.Errorf("count wallet transactions: %w", err)
	}
	return txns, total, nil
}

func requireAffected(result sql.Result, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func typeStrings(types []models.TransactionType) []string {
	values := make([]string, len(types))
	for i, t := range types {
		values[i] = string(t)
	}
	return values
}
