package service

import (
	"fmt"
	"sort"

	"github.com/noah-isme/tutor-core-api/internal/dto"
	"github.com/noah-isme/tutor-core-api/internal/models"
	appErrors "github.com/noah-isme/tutor-core-api/pkg/errors"
	"github.com/noah-isme/tutor-core-api/pkg/interval"
)

// Occurrence is one dated instance of a weekly slot.
type Occurrence struct {
	Date      models.Date
	StartTime models.Clock
	Duration  int
}

// Interval returns the occupied minutes of the occurrence's day.
func (o Occurrence) Interval() interval.Interval {
	return interval.New(int(o.StartTime), o.Duration)
}

// SlotGenerator expands weekly picks into dated occurrences and validates them against a teacher's schedule.
type SlotGenerator struct {
	sessionMinutes int
}

// NewSlotGenerator builds a generator producing sessions of the given length.
func NewSlotGenerator(sessionMinutes int) *SlotGenerator {
	if sessionMinutes <= 0 {
		sessionMinutes = 60
	}
	return &SlotGenerator{sessionMinutes: sessionMinutes}
}

// SessionMinutes returns the fixed occurrence length.
func (g *SlotGenerator) SessionMinutes() int {
	return g.sessionMinutes
}

// NormalizeSlots resolves day names and times, falls back to the legacy single slot and collapses duplicates.
func (g *SlotGenerator) NormalizeSlots(raw []dto.SlotRequest, legacy *dto.SlotRequest) (models.SelectedSlots, error) {
	if len(raw) == 0 && legacy != nil {
		raw = []dto.SlotRequest{*legacy}
	}
	if len(raw) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one slot required")
	}

	seen := make(map[models.SelectedSlot]struct{}, len(raw))
	slots := make(models.SelectedSlots, 0, len(raw))
	for _, r := range raw {
		day, err := models.ParseWeekday(r.DayOfWeek)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
		}
		start, err := models.ParseClock(r.StartTime)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid slot time %q: %v", r.StartTime, err))
		}
		if int(start)+g.sessionMinutes > interval.MinutesPerDay {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("slot %s %s runs past midnight", day, start))
		}
		slot := models.SelectedSlot{DayOfWeek: day, StartTime: start}
		if _, dup := seen[slot]; dup {
			continue
		}
		seen[slot] = struct{}{}
		slots = append(slots, slot)
	}

	sort.Slice(slots, func(i, j int) bool {
		if slots[i].DayOfWeek != slots[j].DayOfWeek {
			return slots[i].DayOfWeek < slots[j].DayOfWeek
		}
		return slots[i].StartTime < slots[j].StartTime
	})
	return slots, nil
}

// ValidateNoSelfOverlap rejects picks that overlap each other on the same weekday.
func (g *SlotGenerator) ValidateNoSelfOverlap(slots models.SelectedSlots) error {
	for i := 0; i < len(slots); i++ {
		for j := i + 1; j < len(slots); j++ {
			if slots[i].DayOfWeek != slots[j].DayOfWeek {
				continue
			}
			a := interval.New(int(slots[i].StartTime), g.sessionMinutes)
			b := interval.New(int(slots[j].StartTime), g.sessionMinutes)
			if interval.Overlaps(a, b) {
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("selected slots %s and %s overlap", slots[i], slots[j]))
			}
		}
	}
	return nil
}

// ValidateAgainstWindows requires every slot to lie entirely inside an active window of its weekday.
func (g *SlotGenerator) ValidateAgainstWindows(slots models.SelectedSlots, windows []models.RecurringWindow) error {
	for _, slot := range slots {
		covered := false
		for _, w := range windows {
			if w.IsActive && w.DayOfWeek == slot.DayOfWeek && w.Covers(slot.StartTime, g.sessionMinutes) {
				covered = true
				break
			}
		}
		if !covered {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("slot %s-%s is outside the teacher's availability",
				slot, slot.StartTime.Add(g.sessionMinutes)))
		}
	}
	return nil
}

// Expand walks every date of the inclusive range and emits an occurrence for each matching slot.
func (g *SlotGenerator) Expand(slots models.SelectedSlots, from, to models.Date) []Occurrence {
	byDay := make(map[models.Weekday][]models.SelectedSlot)
	for _, s := range slots {
		byDay[s.DayOfWeek] = append(byDay[s.DayOfWeek], s)
	}
	var occurrences []Occurrence
	for date := from; !date.After(to.Time); date = date.AddDays(1) {
		for _, s := range byDay[date.Weekday()] {
			occurrences = append(occurrences, Occurrence{Date: date, StartTime: s.StartTime, Duration: g.sessionMinutes})
		}
	}
	return occurrences
}

// FindConflicts returns every occurrence that overlaps an existing non-terminal reservation.
func (g *SlotGenerator) FindConflicts(occurrences []Occurrence, existing []models.Reservation) []models.SlotConflict {
	busy := make(map[string][]models.Reservation)
	for _, r := range existing {
		if r.Status.IsTerminal() {
			continue
		}
		busy[r.Date.String()] = append(busy[r.Date.String()], r)
	}
	var conflicts []models.SlotConflict
	for _, occ := range occurrences {
		for _, r := range busy[occ.Date.String()] {
			if interval.Overlaps(occ.Interval(), r.Interval()) {
				conflicts = append(conflicts, models.SlotConflict{
					Date:          occ.Date,
					StartTime:     occ.StartTime,
					EndTime:       occ.StartTime.Add(occ.Duration),
					ReservationID: r.ID,
				})
				break
			}
		}
	}
	return conflicts
}

func conflictError(conflicts []models.SlotConflict) error {
	cause := &models.SlotConflictError{Conflicts: conflicts}
	appErr := appErrors.WithDetails(appErrors.ErrConflict, conflicts)
	appErr.Message = cause.Error()
	appErr.Err = cause
	return appErr
}
