package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-core-api/internal/dto"
	"github.com/noah-isme/tutor-core-api/internal/models"
	appErrors "github.com/noah-isme/tutor-core-api/pkg/errors"
	"github.com/noah-isme/tutor-core-api/pkg/interval"
)

type recurringWindowStore interface {
	recurringWindowReader
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.RecurringWindow, error)
	Create(ctx context.Context, exec sqlx.ExtContext, window *models.RecurringWindow) error
	Update(ctx context.Context, exec sqlx.ExtContext, window *models.RecurringWindow) error
}

type availabilityInvalidator interface {
	InvalidateTeacher(ctx context.Context, teacherID string)
}

type noopInvalidator struct{}

func (noopInvalidator) InvalidateTeacher(context.Context, string) {}

// RecurringWindowService manages the weekly windows a teacher publishes.
type RecurringWindowService struct {
	windows     recurringWindowStore
	teachers    teacherReader
	locker      scheduleLocker
	tx          txRunner
	invalidator availabilityInvalidator
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewRecurringWindowService builds the service.
func NewRecurringWindowService(windows recurringWindowStore, teachers teacherReader, locker scheduleLocker, tx txRunner, invalidator availabilityInvalidator, validate *validator.Validate, logger *zap.Logger) *RecurringWindowService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if invalidator == nil {
		invalidator = noopInvalidator{}
	}
	return &RecurringWindowService{
		windows:     windows,
		teachers:    teachers,
		locker:      locker,
		tx:          tx,
		invalidator: invalidator,
		validator:   validate,
		logger:      logger,
	}
}

// List returns the teacher's windows.
func (s *RecurringWindowService) List(ctx context.Context, teacherID string, activeOnly bool) ([]models.RecurringWindow, error) {
	if teacherID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacher id is required")
	}
	windows, err := s.windows.ListByTeacher(ctx, nil, models.RecurringWindowFilter{TeacherID: teacherID, ActiveOnly: activeOnly})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list recurring windows")
	}
	return windows, nil
}

// Create publishes a new window after checking it does not overlap the teacher's other windows.
func (s *RecurringWindowService) Create(ctx context.Context, actor models.Actor, req dto.CreateRecurringWindowRequest) (*models.RecurringWindow, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if req.TeacherID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacher id is required")
	}
	if err := authorizeTeacherSchedule(actor, req.TeacherID); err != nil {
		return nil, err
	}
	window, err := buildWindow(req.TeacherID, req.DayOfWeek, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}
	if err := s.ensureTeacher(ctx, req.TeacherID); err != nil {
		return nil, err
	}

	err = s.tx.WithinTx(ctx, nil, func(exec sqlx.ExtContext) error {
		if err := s.locker.LockTeacher(ctx, exec, window.TeacherID); err != nil {
			return err
		}
		if err := s.checkOverlap(ctx, exec, window); err != nil {
			return err
		}
		return s.windows.Create(ctx, exec, window)
	})
	if err != nil {
		return nil, translateScheduleError(err, "failed to create recurring window")
	}

	s.invalidator.InvalidateTeacher(ctx, window.TeacherID)
	s.logger.Info("recurring window created", zap.String("teacher_id", window.TeacherID), zap.String("window_id", window.ID))
	return window, nil
}

// Update changes day, times or the active flag of a window.
func (s *RecurringWindowService) Update(ctx context.Context, actor models.Actor, id string, req dto.UpdateRecurringWindowRequest) (*models.RecurringWindow, error) {
	var updated *models.RecurringWindow
	err := s.tx.WithinTx(ctx, nil, func(exec sqlx.ExtContext) error {
		current, err := s.windows.FindByID(ctx, exec, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "recurring window not found")
			}
			return err
		}
		if err := authorizeTeacherSchedule(actor, current.TeacherID); err != nil {
			return err
		}

		day, start, end := current.DayOfWeek.String(), current.StartTime.String(), current.EndTime.String()
		if req.DayOfWeek != nil {
			day = *req.DayOfWeek
		}
		if req.StartTime != nil {
			start = *req.StartTime
		}
		if req.EndTime != nil {
			end = *req.EndTime
		}
		next, err := buildWindow(current.TeacherID, day, start, end)
		if err != nil {
			return err
		}
		next.ID = current.ID
		next.CreatedAt = current.CreatedAt
		next.IsActive = current.IsActive
		if req.IsActive != nil {
			next.IsActive = *req.IsActive
		}

		if err := s.locker.LockTeacher(ctx, exec, current.TeacherID); err != nil {
			return err
		}
		if next.IsActive {
			if err := s.checkOverlap(ctx, exec, next); err != nil {
				return err
			}
		}
		if err := s.windows.Update(ctx, exec, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, translateScheduleError(err, "failed to update recurring window")
	}

	s.invalidator.InvalidateTeacher(ctx, updated.TeacherID)
	return updated, nil
}

// Disable soft-deletes a window so historical reservations keep their reference.
func (s *RecurringWindowService) Disable(ctx context.Context, actor models.Actor, id string) (*models.RecurringWindow, error) {
	inactive := false
	return s.Update(ctx, actor, id, dto.UpdateRecurringWindowRequest{IsActive: &inactive})
}

func (s *RecurringWindowService) ensureTeacher(ctx context.Context, teacherID string) error {
	teacher, err := s.teachers.FindTeacher(ctx, nil, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if !teacher.IsActive {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "teacher is not active")
	}
	return nil
}

func (s *RecurringWindowService) checkOverlap(ctx context.Context, exec sqlx.ExtContext, window *models.RecurringWindow) error {
	day := window.DayOfWeek
	existing, err := s.windows.ListByTeacher(ctx, exec, models.RecurringWindowFilter{TeacherID: window.TeacherID, DayOfWeek: &day, ActiveOnly: true})
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.ID == window.ID {
			continue
		}
		if interval.Overlaps(other.Interval(), window.Interval()) {
			return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("window overlaps existing %s %s-%s window", other.DayOfWeek, other.StartTime, other.EndTime))
		}
	}
	return nil
}

func buildWindow(teacherID, rawDay, rawStart, rawEnd string) (*models.RecurringWindow, error) {
	day, err := models.ParseWeekday(rawDay)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	start, err := models.ParseClock(rawStart)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid start time: %v", err))
	}
	end, err := models.ParseClock(rawEnd)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid end time: %v", err))
	}
	if end <= start {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end time must be after start time")
	}
	return &models.RecurringWindow{TeacherID: teacherID, DayOfWeek: day, StartTime: start, EndTime: end, IsActive: true}, nil
}

func authorizeTeacherSchedule(actor models.Actor, teacherID string) error {
	if actor.IsPrivileged() {
		return nil
	}
	if actor.Role == models.RoleTeacher && actor.UserID == teacherID {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "only the teacher or an admin may change this schedule")
}
