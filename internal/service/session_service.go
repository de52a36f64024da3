package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-core-api/internal/dto"
	"github.com/noah-isme/tutor-core-api/internal/models"
	appErrors "github.com/noah-isme/tutor-core-api/pkg/errors"
)

type sessionStore interface {
	sessionReader
	MarkStarted(ctx context.Context, exec sqlx.ExtContext, reservationID string, at time.Time) (*models.LiveSession, error)
	MarkEnded(ctx context.Context, exec sqlx.ExtContext, reservationID string, at time.Time) (*models.LiveSession, error)
}

// SessionService receives live-session start and end events. Ending a session completes
// the reservation, which in turn dispatches the teacher's settlement.
type SessionService struct {
	sessions     sessionStore
	reservations *ReservationService
	tx           txRunner
	logger       *zap.Logger
	now          func() time.Time
}

// NewSessionService constructs the service.
func NewSessionService(sessions sessionStore, reservations *ReservationService, tx txRunner, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		sessions:     sessions,
		reservations: reservations,
		tx:           tx,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Start records the session start for a confirmed reservation.
func (s *SessionService) Start(ctx context.Context, actor models.Actor, reservationID string, req dto.SessionEventRequest) (*dto.SessionEventResponse, error) {
	at := s.eventTime(req)
	var resp dto.SessionEventResponse
	err := s.tx.WithinTx(ctx, nil, func(exec sqlx.ExtContext) error {
		reservation, err := s.reservations.load(ctx, exec, reservationID)
		if err != nil {
			return err
		}
		if err := authorizeSessionActor(actor, reservation); err != nil {
			return err
		}
		if reservation.Status != models.ReservationStatusConfirmed {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "only confirmed reservations can start a session")
		}
		session, err := s.sessions.MarkStarted(ctx, exec, reservationID, at)
		if err != nil {
			return err
		}
		resp = dto.SessionEventResponse{Session: session, Reservation: reservation}
		return nil
	})
	if err != nil {
		return nil, translateScheduleError(err, "failed to start session")
	}
	s.logger.Info("session started", zap.String("reservation_id", reservationID), zap.Time("at", at))
	return &resp, nil
}

// End records the session end and completes the reservation. Repeating it for a completed
// reservation returns the stored session unchanged.
func (s *SessionService) End(ctx context.Context, actor models.Actor, reservationID string, req dto.SessionEventRequest) (*dto.SessionEventResponse, error) {
	at := s.eventTime(req)
	var (
		resp      dto.SessionEventResponse
		from      models.ReservationStatus
		completed bool
	)
	err := s.tx.WithinTx(ctx, nil, func(exec sqlx.ExtContext) error {
		reservation, err := s.reservations.load(ctx, exec, reservationID)
		if err != nil {
			return err
		}
		if err := authorizeSessionActor(actor, reservation); err != nil {
			return err
		}
		from = reservation.Status
		if from != models.ReservationStatusConfirmed && from != models.ReservationStatusCompleted {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "only confirmed reservations can end a session")
		}

		session, err := s.sessions.MarkEnded(ctx, exec, reservationID, at)
		if err != nil {
			return err
		}
		resp.Session = session
		if from == models.ReservationStatusCompleted {
			resp.Reservation = reservation
			return nil
		}

		updated, err := s.reservations.transitionWithin(ctx, exec, models.SystemActor, reservation, models.ReservationEventComplete, transitionNote{})
		if err != nil {
			return err
		}
		resp.Reservation = updated
		completed = true
		return nil
	})
	if err != nil {
		return nil, translateScheduleError(err, "failed to end session")
	}

	if completed {
		s.reservations.afterTransition(ctx, models.SystemActor, from, resp.Reservation)
	}
	s.logger.Info("session ended", zap.String("reservation_id", reservationID), zap.Time("at", at), zap.Bool("completed", completed))
	return &resp, nil
}

func (s *SessionService) eventTime(req dto.SessionEventRequest) time.Time {
	if req.At != nil && !req.At.IsZero() {
		return req.At.UTC()
	}
	return s.now()
}

func authorizeSessionActor(actor models.Actor, reservation *models.Reservation) error {
	if actor.IsPrivileged() || actor.UserID == reservation.TeacherID {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "only the session host can report session events")
}
