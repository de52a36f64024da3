package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-core-api/internal/dto"
	"github.com/noah-isme/tutor-core-api/internal/models"
	appErrors "github.com/noah-isme/tutor-core-api/pkg/errors"
	"github.com/noah-isme/tutor-core-api/pkg/interval"
)

type recurringWindowReader interface {
	ListByTeacher(ctx context.Context, exec sqlx.ExtContext, filter models.RecurringWindowFilter) ([]models.RecurringWindow, error)
}

type activeReservationReader interface {
	ListActiveInRange(ctx context.Context, exec sqlx.ExtContext, teacherID string, from, to models.Date) ([]models.Reservation, error)
}

type teacherReader interface {
	FindTeacher(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Teacher, error)
}

type availabilityCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

// AvailabilityConfig tunes availability queries.
type AvailabilityConfig struct {
	MaxRangeDays int
	CacheTTL     time.Duration
}

// AvailabilityService computes a teacher's free time from weekly windows minus reservations.
type AvailabilityService struct {
	windows      recurringWindowReader
	reservations activeReservationReader
	teachers     teacherReader
	cache        availabilityCache
	cfg          AvailabilityConfig
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewAvailabilityService builds the service. cache may be nil.
func NewAvailabilityService(windows recurringWindowReader, reservations activeReservationReader, teachers teacherReader, cache availabilityCache, cfg AvailabilityConfig, validate *validator.Validate, logger *zap.Logger) *AvailabilityService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRangeDays <= 0 {
		cfg.MaxRangeDays = 92
	}
	return &AvailabilityService{
		windows:      windows,
		reservations: reservations,
		teachers:     teachers,
		cache:        cache,
		cfg:          cfg,
		validator:    validate,
		logger:       logger,
	}
}

// GetAvailability returns per-day free intervals for the inclusive date range.
func (s *AvailabilityService) GetAvailability(ctx context.Context, teacherID, startDate, endDate string) ([]dto.DayAvailability, error) {
	query := dto.AvailabilityQuery{TeacherID: teacherID, StartDate: startDate, EndDate: endDate}
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	from, to, err := parseDateRange(startDate, endDate, s.cfg.MaxRangeDays)
	if err != nil {
		return nil, err
	}

	if _, err := s.teachers.FindTeacher(ctx, nil, teacherID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}

	key := availabilityCacheKey(teacherID, from, to)
	if s.cache != nil {
		var cached []dto.DayAvailability
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return cached, nil
		}
	}

	windows, err := s.windows.ListByTeacher(ctx, nil, models.RecurringWindowFilter{TeacherID: teacherID, ActiveOnly: true})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load recurring windows")
	}
	reservations, err := s.reservations.ListActiveInRange(ctx, nil, teacherID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reservations")
	}

	days := BuildAvailability(windows, reservations, from, to)

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, days, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("availability cache write failed", zap.String("teacher_id", teacherID), zap.Error(err))
		}
	}
	return days, nil
}

// InvalidateTeacher drops every cached availability range for the teacher.
func (s *AvailabilityService) InvalidateTeacher(ctx context.Context, teacherID string) {
	if s == nil || s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, fmt.Sprintf("availability:%s:*", teacherID)); err != nil {
		s.logger.Warn("availability cache invalidation failed", zap.String("teacher_id", teacherID), zap.Error(err))
	}
}

// BuildAvailability subtracts the active reservations of each day from that weekday's windows.
func BuildAvailability(windows []models.RecurringWindow, reservations []models.Reservation, from, to models.Date) []dto.DayAvailability {
	byDay := make(map[models.Weekday][]models.RecurringWindow)
	for _, w := range windows {
		if !w.IsActive {
			continue
		}
		byDay[w.DayOfWeek] = append(byDay[w.DayOfWeek], w)
	}
	busyByDate := make(map[string][]interval.Interval)
	for _, r := range reservations {
		if r.Status.IsTerminal() {
			continue
		}
		key := r.Date.String()
		busyByDate[key] = append(busyByDate[key], r.Interval())
	}

	days := make([]dto.DayAvailability, 0, from.DaysUntil(to)+1)
	for date := from; !date.After(to.Time); date = date.AddDays(1) {
		day := dto.DayAvailability{Date: date, DayOfWeek: date.Weekday(), FreeIntervals: []dto.FreeInterval{}}
		dayWindows := byDay[day.DayOfWeek]
		if len(dayWindows) > 0 {
			busy := busyByDate[date.String()]
			var free []interval.Interval
			for _, w := range dayWindows {
				free = append(free, interval.SubtractBusy(w.Interval(), busy)...)
			}
			sort.Slice(free, func(i, j int) bool { return free[i].Start < free[j].Start })
			for _, f := range free {
				day.FreeIntervals = append(day.FreeIntervals, dto.FreeInterval{Start: models.Clock(f.Start), End: models.Clock(f.End)})
			}
			day.FreeMinutes = interval.TotalDuration(free)
			day.Available = len(free) > 0
		}
		days = append(days, day)
	}
	return days
}

func availabilityCacheKey(teacherID string, from, to models.Date) string {
	return fmt.Sprintf("availability:%s:%s:%s", teacherID, from, to)
}

func parseDateRange(startDate, endDate string, maxDays int) (models.Date, models.Date, error) {
	from, err := models.ParseDate(startDate)
	if err != nil {
		return models.Date{}, models.Date{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid start date: %v", err))
	}
	to, err := models.ParseDate(endDate)
	if err != nil {
		return models.Date{}, models.Date{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid end date: %v", err))
	}
	if from.After(to.Time) {
		return models.Date{}, models.Date{}, appErrors.Clone(appErrors.ErrValidation, "start date must not be after end date")
	}
	if maxDays > 0 && from.DaysUntil(to)+1 > maxDays {
		return models.Date{}, models.Date{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("date range must not exceed %d days", maxDays))
	}
	return from, to, nil
}
