package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-core-api/internal/models"
)

const recurringWindowColumns = `id, teacher_id, day_of_week, start_minute, end_minute, is_active, created_at, updated_at`

// RecurringWindowRepository persists weekly availability windows.
type RecurringWindowRepository struct {
	db *sqlx.DB
}

// NewRecurringWindowRepository constructs repository.
func NewRecurringWindowRepository(db *sqlx.DB) *RecurringWindowRepository {
	return &RecurringWindowRepository{db: db}
}

func (r *RecurringWindowRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ListByTeacher returns windows for the teacher ordered by day and start.
func (r *RecurringWindowRepository) ListByTeacher(ctx context.Context, exec sqlx.ExtContext, filter models.RecurringWindowFilter) ([]models.RecurringWindow, error) {
	where := []string{"teacher_id = $1"}
	args := []interface{}{filter.TeacherID}
	if filter.DayOfWeek != nil {
		where = append(where, fmt.Sprintf("day_of_week = $%d", len(args)+1))
		args = append(args, *filter.DayOfWeek)
	}
	if filter.ActiveOnly {
		where = append(where, "is_active = TRUE")
	}
	query := fmt.Sprintf(`SELECT %s FROM recurring_windows WHERE %s ORDER BY day_of_week, start_minute`, recurringWindowColumns, strings.Join(where, " AND "))

	var windows []models.RecurringWindow
	if err := sqlx.SelectContext(ctx, r.exec(exec), &windows, query, args...); err != nil {
		return nil, fmt.Errorf("list recurring windows: %w", err)
	}
	return windows, nil
}

// FindByID loads a window by id.
func (r *RecurringWindowRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.RecurringWindow, error) {
	query := fmt.Sprintf(`SELECT %s FROM recurring_windows WHERE id = $1`, recurringWindowColumns)
	var window models.RecurringWindow
	if err := sqlx.GetContext(ctx, r.exec(exec), &window, query, id); err != nil {
		return nil, err
	}
	return &window, nil
}

// Create inserts a new window.
func (r *RecurringWindowRepository) Create(ctx context.Context, exec sqlx.ExtContext, window *models.RecurringWindow) error {
	if window == nil {
		return fmt.Errorf("recurring window payload is nil")
	}
	if window.ID == "" {
		window.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if window.CreatedAt.IsZero() {
		window.CreatedAt = now
	}
	window.UpdatedAt = now

	const query = `INSERT INTO recurring_windows (id, teacher_id, day_of_week, start_minute, end_minute, is_active, created_at, updated_at)
VALUES (:id, :teacher_id, :day_of_week, :start_minute, :end_minute, :is_active, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, window); err != nil {
		return fmt.Errorf("insert recurring window: %w", err)
	}
	return nil
}

// Update overwrites day, times and active flag of a window.
func (r *RecurringWindowRepository) Update(ctx context.Context, exec sqlx.ExtContext, window *models.RecurringWindow) error {
	window.UpdatedAt = time.Now().UTC()
	const query = `UPDATE recurring_windows SET day_of_week = :day_of_week, start_minute = :start_minute, end_minute = :end_minute, is_active = :is_active, updated_at = :updated_at WHERE id = :id`
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, window)
	if err != nil {
		return fmt.Errorf("update recurring window: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("recurring window rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
