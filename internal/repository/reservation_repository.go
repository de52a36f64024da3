package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/tutor-core-api/internal/models"
)

const reservationColumns = `id, teacher_id, student_id, subscription_id, date, start_minute, duration_minutes, status, price, payment_id,
confirmed_at, completed_at, cancelled_at, cancelled_by, cancel_reason, rejected_at, rejected_by, created_at, updated_at`

const insertReservationQuery = `INSERT INTO reservations (id, teacher_id, student_id, subscription_id, date, start_minute, duration_minutes, status, price, payment_id, confirmed_at, created_at, updated_at)
VALUES (:id, :teacher_id, :student_id, :subscription_id, :date, :start_minute, :duration_minutes, :status, :price, :payment_id, :confirmed_at, :created_at, :updated_at)`

// ReservationRepository persists booked occurrences.
type ReservationRepository struct {
	db *sqlx.DB
}

// NewReservationRepository constructs repository.
func NewReservationRepository(db *sqlx.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

func (r *ReservationRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a single reservation.
func (r *ReservationRepository) Create(ctx context.Context, exec sqlx.ExtContext, reservation *models.Reservation) error {
	if reservation == nil {
		return fmt.Errorf("reservation payload is nil")
	}
	prepareReservation(reservation, time.Now().UTC())
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), insertReservationQuery, reservation); err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// BulkCreate inserts many reservations using the provided executor.
func (r *ReservationRepository) BulkCreate(ctx context.Context, exec sqlx.ExtContext, reservations []models.Reservation) error {
	target := r.exec(exec)
	now := time.Now().UTC()
	for i := range reservations {
		payload := reservations[i]
		prepareReservation(&payload, now)
		if _, err := sqlx.NamedExecContext(ctx, target, insertReservationQuery, &payload); err != nil {
			return fmt.Errorf("bulk insert reservation: %w", err)
		}
		reservations[i] = payload
	}
	return nil
}

func prepareReservation(reservation *models.Reservation, now time.Time) {
	if reservation.ID == "" {
		reservation.ID = uuid.NewString()
	}
	if reservation.Status == "" {
		reservation.Status = models.ReservationStatusPending
	}
	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = now
	}
	reservation.UpdatedAt = now
}

// FindByID loads a reservation.
func (r *ReservationRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Reservation, error) {
	query := fmt.Sprintf(`SELECT %s FROM reservations WHERE id = $1`, reservationColumns)
	var reservation models.Reservation
	if err := sqlx.GetContext(ctx, r.exec(exec), &reservation, query, id); err != nil {
		return nil, err
	}
	return &reservation, nil
}

// ListActiveInRange returns the teacher's non-terminal reservations between two dates inclusive.
func (r *ReservationRepository) ListActiveInRange(ctx context.Context, exec sqlx.ExtContext, teacherID string, from, to models.Date) ([]models.Reservation, error) {
	query := fmt.Sprintf(`SELECT %s FROM reservations WHERE teacher_id = $1 AND date >= $2 AND date <= $3 AND status = ANY($4) ORDER BY date, start_minute`, reservationColumns)
	var reservations []models.Reservation
	if err := sqlx.SelectContext(ctx, r.exec(exec), &reservations, query, teacherID, from, to, pq.Array(statusStrings(models.ActiveReservationStatuses))); err != nil {
		return nil, fmt.Errorf("list active reservations: %w", err)
	}
	return reservations, nil
}

// ListBySubscription returns the occurrences generated for a subscription.
func (r *ReservationRepository) ListBySubscription(ctx context.Context, exec sqlx.ExtContext, subscriptionID string) ([]models.Reservation, error) {
	query := fmt.Sprintf(`SELECT %s FROM reservations WHERE subscription_id = $1 ORDER BY date, start_minute`, reservationColumns)
	var reservations []models.Reservation
	if err := sqlx.SelectContext(ctx, r.exec(exec), &reservations, query, subscriptionID); err != nil {
		return nil, fmt.Errorf("list subscription reservations: %w", err)
	}
	return reservations, nil
}

const listUnsettledQuery = `SELECT r.id FROM reservations r
WHERE r.status = $1 AND r.completed_at >= $2 AND r.completed_at <= $3
AND NOT EXISTS (SELECT 1 FROM wallet_transactions wt WHERE wt.booking_id = r.id)
AND (r.price > 0 OR EXISTS (
	SELECT 1 FROM live_sessions ls WHERE ls.reservation_id = r.id AND ls.started_at IS NOT NULL AND ls.ended_at IS NOT NULL
))
ORDER BY r.completed_at, r.id
LIMIT $4`

// ListUnsettled returns completed reservations in [from, to] that have something to pay but no
// ledger entry for their booking id, oldest first.
func (r *ReservationRepository) ListUnsettled(ctx context.Context, from, to time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	if err := sqlx.SelectContext(ctx, r.db, &ids, listUnsettledQuery, string(models.ReservationStatusCompleted), from, to, limit); err != nil {
		return nil, fmt.Errorf("list unsettled reservations: %w", err)
	}
	return ids, nil
}

// List returns reservations matching the filter with a total count.
func (r *ReservationRepository) List(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.TeacherID != "" {
		where = append(where, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.SubscriptionID != "" {
		where = append(where, fmt.Sprintf("subscription_id = $%d", len(args)+1))
		args = append(args, filter.SubscriptionID)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(statusStrings(filter.Statuses)))
	}
	if filter.From != nil {
		where = append(where, fmt.Sprintf("date >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		where = append(where, fmt.Sprintf("date <= $%d", len(args)+1))
		args = append(args, *filter.To)
	}
	whereClause := strings.Join(where, " AND ")
	_, size, offset := normalizePage(filter.Page, filter.PageSize)

	query := fmt.Sprintf(`SELECT %s FROM reservations WHERE %s ORDER BY date, start_minute LIMIT %d OFFSET %d`, reservationColumns, whereClause, size, offset)
	var reservations []models.Reservation
	if err := r.db.SelectContext(ctx, &reservations, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list reservations: %w", err)
	}
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM reservations WHERE %s`, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count reservations: %w", err)
	}
	return reservations, total, nil
}

// TransitionStatus applies a status change only if the row is still in change.From.
// It returns sql.ErrNoRows when the reservation is missing or was moved by another writer.
func (r *ReservationRepository) TransitionStatus(ctx context.Context, exec sqlx.ExtContext, change models.ReservationStatusChange) error {
	set, args := transitionAssignments(change)
	args = append(args, change.ID, change.From)
	query := fmt.Sprintf(`UPDATE reservations SET %s WHERE id = $%d AND status = $%d`, set, len(args)-1, len(args))

	result, err := r.exec(exec).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition reservation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reservation transition rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// TransitionBySubscription moves every reservation of a subscription currently in change.From.
func (r *ReservationRepository) TransitionBySubscription(ctx context.Context, exec sqlx.ExtContext, subscriptionID string, change models.ReservationStatusChange) (int64, error) {
	set, args := transitionAssignments(change)
	args = append(args, subscriptionID, change.From)
	query := fmt.Sprintf(`UPDATE reservations SET %s WHERE subscription_id = $%d AND status = $%d`, set, len(args)-1, len(args))

	result, err := r.exec(exec).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("transition subscription reservations: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("subscription reservations rows affected: %w", err)
	}
	return affected, nil
}

func transitionAssignments(change models.ReservationStatusChange) (string, []interface{}) {
	at := change.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	assignments := []string{"status = $1", "updated_at = $2"}
	args := []interface{}{change.To, at}

	switch change.To {
	case models.ReservationStatusConfirmed:
		assignments = append(assignments, "confirmed_at = $2")
		if change.PaymentID != nil {
			args = append(args, *change.PaymentID)
			assignments = append(assignments, fmt.Sprintf("payment_id = $%d", len(args)))
		}
	case models.ReservationStatusCompleted:
		assignments = append(assignments, "completed_at = $2")
	case models.ReservationStatusCancelled:
		args = append(args, change.ActorID, change.CancelReason)
		assignments = append(assignments, "cancelled_at = $2", fmt.Sprintf("cancelled_by = $%d", len(args)-1), fmt.Sprintf("cancel_reason = $%d", len(args)))
	case models.ReservationStatusRejected:
		args = append(args, change.ActorID, change.CancelReason)
		assignments = append(assignments, "rejected_at = $2", fmt.Sprintf("rejected_by = $%d", len(args)-1), fmt.Sprintf("cancel_reason = $%d", len(args)))
	}
	return strings.Join(assignments, ", "), args
}

func statusStrings(statuses []models.ReservationStatus) []string {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	return values
}
