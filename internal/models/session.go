package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LiveSession records the lifecycle timestamps reported for a reservation.
type LiveSession struct {
	ID            string     `db:"id" json:"id"`
	ReservationID string     `db:"reservation_id" json:"reservation_id"`
	StartedAt     *time.Time `db:"started_at" json:"started_at,omitempty"`
	EndedAt       *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// HasTimestamps reports whether both ends of the session are known.
func (s LiveSession) HasTimestamps() bool {
	return s.StartedAt != nil && s.EndedAt != nil && s.EndedAt.After(*s.StartedAt)
}

// Hours returns the fractional session length, optionally capped at capMinutes (0 disables the cap).
func (s LiveSession) Hours(capMinutes int) decimal.Decimal {
	if !s.HasTimestamps() {
		return decimal.Zero
	}
	elapsed := s.EndedAt.Sub(*s.StartedAt)
	if capMinutes > 0 && elapsed > time.Duration(capMinutes)*time.Minute {
		elapsed = time.Duration(capMinutes) * time.Minute
	}
	seconds := decimal.NewFromInt(int64(elapsed / time.Second))
	return seconds.Div(decimal.NewFromInt(3600)).Round(4)
}
