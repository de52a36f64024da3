package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-core-api/pkg/database"
	appErrors "github.com/noah-isme/tutor-core-api/pkg/errors"
)

type txRunner interface {
	WithinTx(ctx context.Context, opts *sql.TxOptions, fn func(exec sqlx.ExtContext) error) error
}

type scheduleLocker interface {
	LockTeacher(ctx context.Context, exec sqlx.ExtContext, teacherID string) error
}

// translateScheduleError maps database-level schedule races onto the conflict taxonomy.
// Typed errors produced inside the transaction pass through unchanged.
func translateScheduleError(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if database.IsExclusionViolation(err) || database.IsSerializationFailure(err) {
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "requested time overlaps an existing reservation")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
