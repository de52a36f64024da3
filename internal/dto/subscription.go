package dto

import "github.com/noah-isme/tutor-core-api/internal/models"

// SlotRequest is a raw weekly pick; the day accepts names, aliases or 0-6.
type SlotRequest struct {
	DayOfWeek string `json:"dayOfWeek" validate:"required"`
	StartTime string `json:"startTime" validate:"required"`
}

// PurchaseSubscriptionRequest buys a package and reserves its recurring occurrences.
type PurchaseSubscriptionRequest struct {
	TeacherID     string        `json:"teacherId" validate:"required"`
	StudentID     string        `json:"studentId"`
	PackageID     string        `json:"packageId" validate:"required"`
	SelectedSlots []SlotRequest `json:"selectedSlots" validate:"omitempty,dive"`
	LegacySlot    *SlotRequest  `json:"slot" validate:"omitempty"`
	StartDate     string        `json:"startDate" validate:"required"`
	EndDate       string        `json:"endDate" validate:"required"`
	Recurring     *bool         `json:"recurring"`
}

// IsRecurring defaults to true when the flag is omitted.
func (r PurchaseSubscriptionRequest) IsRecurring() bool {
	return r.Recurring == nil || *r.Recurring
}

// PurchaseSubscriptionResponse returns the created subscription and where to pay for it.
type PurchaseSubscriptionResponse struct {
	Subscription *models.Subscription `json:"subscription"`
	Reservations []models.Reservation `json:"reservations"`
	PaymentURL   *string              `json:"paymentUrl,omitempty"`
}

// CancelSubscriptionRequest carries an optional reason applied to every cancelled reservation.
type CancelSubscriptionRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}
