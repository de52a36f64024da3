package models

import (
	"time"

	"github.com/noah-isme/tutor-core-api/pkg/interval"
)

// RecurringWindow is a weekly span during which a teacher accepts sessions.
type RecurringWindow struct {
	ID        string    `db:"id" json:"id"`
	TeacherID string    `db:"teacher_id" json:"teacher_id"`
	DayOfWeek Weekday   `db:"day_of_week" json:"day_of_week"`
	StartTime Clock     `db:"start_minute" json:"start_time"`
	EndTime   Clock     `db:"end_minute" json:"end_time"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Interval returns the window as a half-open minute interval.
func (w RecurringWindow) Interval() interval.Interval {
	return interval.Interval{Start: int(w.StartTime), End: int(w.EndTime)}
}

// Covers reports whether [start, start+duration) lies entirely inside the window.
func (w RecurringWindow) Covers(start Clock, duration int) bool {
	return start >= w.StartTime && start.Add(duration) <= w.EndTime
}

// RecurringWindowFilter constrains window listing.
type RecurringWindowFilter struct {
	TeacherID  string
	DayOfWeek  *Weekday
	ActiveOnly bool
}
