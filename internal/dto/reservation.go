package dto

// BookReservationRequest books a single occurrence outside of a subscription.
type BookReservationRequest struct {
	TeacherID string `json:"teacherId" validate:"required"`
	StudentID string `json:"studentId"`
	Date      string `json:"date" validate:"required"`
	StartTime string `json:"startTime" validate:"required"`
}

// ReservationReasonRequest carries an optional note for cancel or reject.
type ReservationReasonRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// ReservationQuery mirrors listing filters.
type ReservationQuery struct {
	Status   []string `form:"status"`
	From     string   `form:"from"`
	To       string   `form:"to"`
	Page     int      `form:"page"`
	PageSize int      `form:"page_size"`
}
