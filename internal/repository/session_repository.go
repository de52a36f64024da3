package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-core-api/internal/models"
)

// SessionRepository stores live-session timestamps reported per reservation.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByReservation loads the session recorded for a reservation.
func (r *SessionRepository) FindByReservation(ctx context.Context, exec sqlx.ExtContext, reservationID string) (*models.LiveSession, error) {
	const query = `SELECT id, reservation_id, started_at, ended_at, created_at, updated_at FROM live_sessions WHERE reservation_id = $1`
	var session models.LiveSession
	if err := sqlx.GetContext(ctx, r.exec(exec), &session, query, reservationID); err != nil {
		return nil, err
	}
	return &session, nil
}

// MarkStarted records the start timestamp, keeping the first one reported.
func (r *SessionRepository) MarkStarted(ctx context.Context, exec sqlx.ExtContext, reservationID string, at time.Time) (*models.LiveSession, error) {
	const query = `INSERT INTO live_sessions (id, reservation_id, started_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (reservation_id) DO UPDATE SET started_at = COALESCE(live_sessions.started_at, EXCLUDED.started_at), updated_at = EXCLUDED.updated_at
RETURNING id, reservation_id, started_at, ended_at, created_at, updated_at`
	var session models.LiveSession
	if err := sqlx.GetContext(ctx, r.exec(exec), &session, query, uuid.NewString(), reservationID, at, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("mark session started: %w", err)
	}
	return &session, nil
}

// MarkEnded records the end timestamp, keeping the first one reported.
func (r *SessionRepository) MarkEnded(ctx context.Context, exec sqlx.ExtContext, reservationID string, at time.Time) (*models.LiveSession, error) {
	const query = `INSERT INTO live_sessions (id, reservation_id, ended_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (reservation_id) DO UPDATE SET ended_at = COALESCE(live_sessions.ended_at, EXCLUDED.ended_at), updated_at = EXCLUDED.updated_at
RETURNING id, reservation_id, started_at, ended_at, created_at, updated_at`
	var session models.LiveSession
	if err := sqlx.GetContext(ctx, r.exec(exec), &session, query, uuid.NewString(), reservationID, at, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("mark session ended: %w", err)
	}
	return &session, nil
}
