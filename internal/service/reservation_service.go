package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-core-api/internal/dto"
	"github.com/noah-isme/tutor-core-api/internal/models"
	"github.com/noah-isme/tutor-core-api/pkg/database"
	appErrors "github.com/noah-isme/tutor-core-api/pkg/errors"
)

type settlementDispatcher interface {
	DispatchSettlement(ctx context.Context, reservationID string) error
}

// transitionNote carries the optional audit data of a status change.
type transitionNote struct {
	Reason    *string
	PaymentID *string
}

// ReservationService owns the reservation lifecycle.
type ReservationService struct {
	reservations reservationStore
	windows      recurringWindowReader
	catalog      catalogReader
	locker       scheduleLocker
	tx           txRunner
	generator    *SlotGenerator
	invalidator  availabilityInvalidator
	settlement   settlementDispatcher
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
}

// NewReservationService builds the service. settlement may be nil when completions should not credit wallets.
func NewReservationService(
	reservations reservationStore,
	windows recurringWindowReader,
	catalog catalogReader,
	locker scheduleLocker,
	tx txRunner,
	generator *SlotGenerator,
	invalidator availabilityInvalidator,
	settlement settlementDispatcher,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *ReservationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if generator == nil {
		generator = NewSlotGenerator(0)
	}
	if invalidator == nil {
		invalidator = noopInvalidator{}
	}
	return &ReservationService{
		reservations: reservations,
		windows:      windows,
		catalog:      catalog,
		locker:       locker,
		tx:           tx,
		generator:    generator,
		invalidator:  invalidator,
		settlement:   settlement,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Book creates a single PENDING reservation inside one of the teacher's windows.
func (s *ReservationService) Book(ctx context.Context, actor models.Actor, req dto.BookReservationRequest) (*models.Reservation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	studentID, err := resolveStudent(actor, req.StudentID)
	if err != nil {
		return nil, err
	}
	date, err := models.ParseDate(req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	slots, err := s.generator.NormalizeSlots([]dto.SlotRequest{{DayOfWeek: date.Weekday().String(), StartTime: req.StartTime}}, nil)
	if err != nil {
		return nil, err
	}

	teacher, err := s.catalog.FindTeacher(ctx, nil, req.TeacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if !teacher.IsActive {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "teacher is not accepting bookings")
	}

	duration := s.generator.SessionMinutes()
	reservation := &models.Reservation{
		TeacherID:       teacher.ID,
		StudentID:       studentID,
		Date:            date,
		StartTime:       slots[0].StartTime,
		DurationMinutes: duration,
		Status:          models.ReservationStatusPending,
		Price:           teacher.HourlyRate.Mul(decimal.NewFromInt(int64(duration))).Div(decimal.NewFromInt(60)).Round(2),
	}

	err = s.tx.WithinTx(ctx, database.Serializable(), func(exec sqlx.ExtContext) error {
		if err := s.locker.LockTeacher(ctx, exec, teacher.ID); err != nil {
			return err
		}
		day := date.Weekday()
		windows, err := s.windows.ListByTeacher(ctx, exec, models.RecurringWindowFilter{TeacherID: teacher.ID, DayOfWeek: &day, ActiveOnly: true})
		if err != nil {
			return err
		}
		if err := s.generator.ValidateAgainstWindows(slots, windows); err != nil {
			return err
		}
		existing, err := s.reservations.ListActiveInRange(ctx, exec, teacher.ID, date, date)
		if err != nil {
			return err
		}
		occurrence := []Occurrence{{Date: date, StartTime: reservation.StartTime, Duration: duration}}
		if conflicts := s.generator.FindConflicts(occurrence, existing); len(conflicts) > 0 {
			s.metrics.RecordSlotConflict()
			return conflictError(conflicts)
		}
		return s.reservations.Create(ctx, exec, reservation)
	})
	if err != nil {
		return nil, translateScheduleError(err, "failed to book reservation")
	}

	s.invalidator.InvalidateTeacher(ctx, teacher.ID)
	s.metrics.RecordReservationsCreated("booking", 1)
	s.logger.Info("reservation booked", zap.String("reservation_id", reservation.ID), zap.String("teacher_id", teacher.ID))
	return reservation, nil
}

// Get returns a reservation visible to the actor.
func (s *ReservationService) Get(ctx context.Context, actor models.Actor, id string) (*models.Reservation, error) {
	reservation, err := s.load(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsPrivileged() && actor.UserID != reservation.TeacherID && actor.UserID != reservation.StudentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "reservation belongs to another user")
	}
	return reservation, nil
}

// ListByTeacher lists a teacher's reservations.
func (s *ReservationService) ListByTeacher(ctx context.Context, actor models.Actor, teacherID string, query dto.ReservationQuery) ([]models.Reservation, *models.Pagination, error) {
	if !actor.IsPrivileged() && actor.UserID != teacherID {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "cannot list another teacher's reservations")
	}
	return s.list(ctx, models.ReservationFilter{TeacherID: teacherID}, query)
}

// ListByStudent lists a student's reservations.
func (s *ReservationService) ListByStudent(ctx context.Context, actor models.Actor, studentID string, query dto.ReservationQuery) ([]models.Reservation, *models.Pagination, error) {
	if !actor.IsPrivileged() && actor.UserID != studentID {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "cannot list another student's reservations")
	}
	return s.list(ctx, models.ReservationFilter{StudentID: studentID}, query)
}

func (s *ReservationService) list(ctx context.Context, filter models.ReservationFilter, query dto.ReservationQuery) ([]models.Reservation, *models.Pagination, error) {
	for _, raw := range query.Status {
		status := models.ReservationStatus(raw)
		if !status.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", raw))
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if query.From != "" {
		from, err := models.ParseDate(query.From)
		if err != nil {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
		}
		filter.From = &from
	}
	if query.To != "" {
		to, err := models.ParseDate(query.To)
		if err != nil {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
		}
		filter.To = &to
	}
	filter.Page, filter.PageSize = query.Page, query.PageSize
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 200 {
		filter.PageSize = 50
	}

	reservations, total, err := s.reservations.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reservations")
	}
	return reservations, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Confirm accepts a pending reservation.
func (s *ReservationService) Confirm(ctx context.Context, actor models.Actor, id string) (*models.Reservation, error) {
	return s.transition(ctx, actor, id, models.ReservationEventConfirm, transitionNote{})
}

// Reject declines a pending reservation.
func (s *ReservationService) Reject(ctx context.Context, actor models.Actor, id string, req dto.ReservationReasonRequest) (*models.Reservation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	return s.transition(ctx, actor, id, models.ReservationEventReject, transitionNote{Reason: nonEmpty(req.Reason)})
}

// Cancel cancels a pending or confirmed reservation.
func (s *ReservationService) Cancel(ctx context.Context, actor models.Actor, id string, req dto.ReservationReasonRequest) (*models.Reservation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	return s.transition(ctx, actor, id, models.ReservationEventCancel, transitionNote{Reason: nonEmpty(req.Reason)})
}

// Complete marks a confirmed reservation as held and triggers the teacher's settlement.
func (s *ReservationService) Complete(ctx context.Context, actor models.Actor, id string) (*models.Reservation, error) {
	return s.transition(ctx, actor, id, models.ReservationEventComplete, transitionNote{})
}

func (s *ReservationService) transition(ctx context.Context, actor models.Actor, id string, event models.ReservationEvent, note transitionNote) (*models.Reservation, error) {
	var (
		updated *models.Reservation
		from    models.ReservationStatus
	)
	err := s.tx.WithinTx(ctx, nil, func(exec sqlx.ExtContext) error {
		current, err := s.load(ctx, exec, id)
		if err != nil {
			return err
		}
		from = current.Status
		updated, err = s.transitionWithin(ctx, exec, actor, current, event, note)
		return err
	})
	if err != nil {
		return nil, translateScheduleError(err, "failed to update reservation")
	}
	s.afterTransition(ctx, actor, from, updated)
	return updated, nil
}

// transitionWithin validates and applies event to current using the caller's transaction.
func (s *ReservationService) transitionWithin(ctx context.Context, exec sqlx.ExtContext, actor models.Actor, current *models.Reservation, event models.ReservationEvent, note transitionNote) (*models.Reservation, error) {
	if err := authorizeReservationEvent(actor, current, event); err != nil {
		return nil, err
	}
	tr, ok := models.ReservationTransitionFor(current.Status, event)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot %s a %s reservation", eventVerb(event), current.Status))
	}

	at := s.now()
	change := models.ReservationStatusChange{
		ID:           current.ID,
		From:         current.Status,
		To:           tr.To,
		At:           at,
		ActorID:      actor.UserID,
		CancelReason: note.Reason,
		PaymentID:    note.PaymentID,
	}
	if err := s.reservations.TransitionStatus(ctx, exec, change); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "reservation changed concurrently, reload and retry")
		}
		return nil, err
	}

	next := *current
	next.Status = tr.To
	next.UpdatedAt = at
	switch tr.To {
	case models.ReservationStatusConfirmed:
		next.ConfirmedAt = &at
		if note.PaymentID != nil {
			next.PaymentID = note.PaymentID
		}
	case models.ReservationStatusCompleted:
		next.CompletedAt = &at
	case models.ReservationStatusCancelled:
		next.CancelledAt = &at
		next.CancelledBy = &change.ActorID
		next.CancelReason = note.Reason
	case models.ReservationStatusRejected:
		next.RejectedAt = &at
		next.RejectedBy = &change.ActorID
		next.CancelReason = note.Reason
	}
	return &next, nil
}

func (s *ReservationService) afterTransition(ctx context.Context, actor models.Actor, from models.ReservationStatus, reservation *models.Reservation) {
	s.metrics.RecordReservationTransition(string(from), string(reservation.Status))
	s.logger.Info("reservation transitioned",
		zap.String("reservation_id", reservation.ID),
		zap.String("from", string(from)),
		zap.String("to", string(reservation.Status)),
		zap.String("actor_id", actor.UserID),
	)
	if reservation.Status.IsTerminal() {
		s.invalidator.InvalidateTeacher(ctx, reservation.TeacherID)
	}
	if reservation.Status == models.ReservationStatusCompleted && s.settlement != nil {
		if err := s.settlement.DispatchSettlement(ctx, reservation.ID); err != nil {
			s.logger.Error("failed to dispatch settlement", zap.String("reservation_id", reservation.ID), zap.Error(err))
		}
	}
}

func (s *ReservationService) load(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Reservation, error) {
	reservation, err := s.reservations.FindByID(ctx, exec, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "reservation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reservation")
	}
	return reservation, nil
}

func authorizeReservationEvent(actor models.Actor, r *models.Reservation, event models.ReservationEvent) error {
	allowed := false
	switch event {
	case models.ReservationEventConfirm, models.ReservationEventReject:
		allowed = actor.Role == models.RoleSystem || (actor.Role == models.RoleTeacher && actor.UserID == r.TeacherID)
	case models.ReservationEventCancel:
		allowed = actor.IsPrivileged() || actor.UserID == r.StudentID || actor.UserID == r.TeacherID
	case models.ReservationEventComplete:
		allowed = actor.IsPrivileged()
	}
	if !allowed {
		return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("not allowed to %s this reservation", eventVerb(event)))
	}
	return nil
}

func eventVerb(event models.ReservationEvent) string {
	switch event {
	case models.ReservationEventConfirm:
		return "confirm"
	case models.ReservationEventReject:
		return "reject"
	case models.ReservationEventCancel:
		return "cancel"
	case models.ReservationEventComplete:
		return "complete"
	}
	return string(event)
}
