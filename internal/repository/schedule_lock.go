package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ScheduleLocker serialises schedule mutations per teacher using transaction-scoped advisory locks.
type ScheduleLocker struct {
	db *sqlx.DB
}

// NewScheduleLocker constructs a locker.
func NewScheduleLocker(db *sqlx.DB) *ScheduleLocker {
	return &ScheduleLocker{db: db}
}

// LockTeacher blocks until the teacher's schedule lock is held by the surrounding transaction.
// The lock is released on commit or rollback, so exec must be a transaction.
func (l *ScheduleLocker) LockTeacher(ctx context.Context, exec sqlx.ExtContext, teacherID string) error {
	if exec == nil {
		return fmt.Errorf("schedule lock requires a transaction")
	}
	if _, err := exec.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, teacherID); err != nil {
		return fmt.Errorf("lock teacher schedule: %w", err)
	}
	return nil
}
