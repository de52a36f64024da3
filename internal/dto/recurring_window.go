package dto

// CreateRecurringWindowRequest declares a weekly availability window.
type CreateRecurringWindowRequest struct {
	TeacherID string `json:"teacherId"`
	DayOfWeek string `json:"dayOfWeek" validate:"required"`
	StartTime string `json:"startTime" validate:"required"`
	EndTime   string `json:"endTime" validate:"required"`
}

// UpdateRecurringWindowRequest changes an existing window. Omitted fields are kept.
type UpdateRecurringWindowRequest struct {
	DayOfWeek *string `json:"dayOfWeek"`
	StartTime *string `json:"startTime"`
	EndTime   *string `json:"endTime"`
	IsActive  *bool   `json:"isActive"`
}
