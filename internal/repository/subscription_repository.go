package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-core-api/internal/models"
)

const subscriptionColumns = `id, student_id, teacher_id, package_id, selected_slots, start_date, end_date, status, total_price, currency,
payment_reference, payment_url, cancelled_at, created_at, updated_at`

// SubscriptionRepository persists recurring purchases.
type SubscriptionRepository struct {
	db *sqlx.DB
}

// NewSubscriptionRepository constructs repository.
func NewSubscriptionRepository(db *sqlx.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a subscription.
func (r *SubscriptionRepository) Create(ctx context.Context, exec sqlx.ExtContext, subscription *models.Subscription) error {
	if subscription == nil {
		return fmt.Errorf("subscription payload is nil")
	}
	if subscription.ID == "" {
		subscription.ID = uuid.NewString()
	}
	if subscription.Status == "" {
		subscription.Status = models.SubscriptionStatusPending
	}
	now := time.Now().UTC()
	if subscription.CreatedAt.IsZero() {
		subscription.CreatedAt = now
	}
	subscription.UpdatedAt = now

	const query = `INSERT INTO subscriptions (id, student_id, teacher_id, package_id, selected_slots, start_date, end_date, status, total_price, currency, payment_reference, payment_url, created_at, updated_at)
VALUES (:id, :student_id, :teacher_id, :package_id, :selected_slots, :start_date, :end_date, :status, :total_price, :currency, :payment_reference, :payment_url, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, subscription); err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// FindByID loads a subscription.
func (r *SubscriptionRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE id = $1`, subscriptionColumns)
	var subscription models.Subscription
	if err := sqlx.GetContext(ctx, r.exec(exec), &subscription, query, id); err != nil {
		return nil, err
	}
	return &subscription, nil
}

// FindByPaymentReferenceForUpdate loads and row-locks the subscription owning a merchant reference.
func (r *SubscriptionRepository) FindByPaymentReferenceForUpdate(ctx context.Context, exec sqlx.ExtContext, reference string) (*models.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE payment_reference = $1 FOR UPDATE`, subscriptionColumns)
	var subscription models.Subscription
	if err := sqlx.GetContext(ctx, r.exec(exec), &subscription, query, reference); err != nil {
		return nil, err
	}
	return &subscription, nil
}

// ListByStudent returns a student's subscriptions newest first.
func (r *SubscriptionRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE student_id = $1 ORDER BY created_at DESC`, subscriptionColumns)
	var subscriptions []models.Subscription
	if err := r.db.SelectContext(ctx, &subscriptions, query, studentID); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subscriptions, nil
}

// UpdatePayment stores the checkout reference and redirect URL.
func (r *SubscriptionRepository) UpdatePayment(ctx context.Context, exec sqlx.ExtContext, id, reference, url string) error {
	const query = `UPDATE subscriptions SET payment_reference = $1, payment_url = $2, updated_at = $3 WHERE id = $4`
	return r.execAffecting(ctx, exec, "update subscription payment", query, reference, url, time.Now().UTC(), id)
}

// TransitionStatus updates the status only when it still equals from.
func (r *SubscriptionRepository) TransitionStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.SubscriptionStatus) error {
	now := time.Now().UTC()
	if to == models.SubscriptionStatusCancelled {
		const query = `UPDATE subscriptions SET status = $1, cancelled_at = $2, updated_at = $2 WHERE id = $3 AND status = $4`
		return r.execAffecting(ctx, exec, "cancel subscription", query, to, now, id, from)
	}
	const query = `UPDATE subscriptions SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	return r.execAffecting(ctx, exec, "update subscription status", query, to, now, id, from)
}

func (r *SubscriptionRepository) execAffecting(ctx context.Context, exec sqlx.ExtContext, op, query string, args ...interface{}) error {
	result, err := r.exec(exec).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
