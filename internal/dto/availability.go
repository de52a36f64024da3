package dto

import "github.com/noah-isme/tutor-core-api/internal/models"

// AvailabilityQuery requests free time for a teacher over an inclusive date range.
type AvailabilityQuery struct {
	TeacherID string `json:"teacherId" validate:"required"`
	StartDate string `json:"startDate" validate:"required"`
	EndDate   string `json:"endDate" validate:"required"`
}

// FreeInterval is an open slot of a day.
type FreeInterval struct {
	Start models.Clock `json:"start"`
	End   models.Clock `json:"end"`
}

// DayAvailability lists the free intervals of one calendar day.
type DayAvailability struct {
	Date          models.Date    `json:"date"`
	DayOfWeek     models.Weekday `json:"dayOfWeek"`
	Available     bool           `json:"available"`
	FreeIntervals []FreeInterval `json:"freeIntervals"`
	FreeMinutes   int            `json:"freeMinutes"`
}
