package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/tutor-core-api/pkg/interval"
)

// ReservationStatus captures the lifecycle of a booked occurrence.
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "PENDING"
	ReservationStatusConfirmed ReservationStatus = "CONFIRMED"
	ReservationStatusRejected  ReservationStatus = "REJECTED"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
	ReservationStatusCompleted ReservationStatus = "COMPLETED"
)

// ActiveReservationStatuses are the statuses that occupy teacher time.
var ActiveReservationStatuses = []ReservationStatus{ReservationStatusPending, ReservationStatusConfirmed}

// IsTerminal reports whether no further transition can leave the status.
func (s ReservationStatus) IsTerminal() bool {
	switch s {
	case ReservationStatusRejected, ReservationStatusCancelled, ReservationStatusCompleted:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationStatusPending, ReservationStatusConfirmed, ReservationStatusRejected,
		ReservationStatusCancelled, ReservationStatusCompleted:
		return true
	}
	return false
}

// ReservationEvent names an action applied to a reservation.
type ReservationEvent string

const (
	ReservationEventConfirm  ReservationEvent = "CONFIRM"
	ReservationEventReject   ReservationEvent = "REJECT"
	ReservationEventCancel   ReservationEvent = "CANCEL"
	ReservationEventComplete ReservationEvent = "COMPLETE"
)

// ReservationTransition is a single allowed edge of the lifecycle.
type ReservationTransition struct {
	From  ReservationStatus
	To    ReservationStatus
	Event ReservationEvent
}

var reservationTransitions = []ReservationTransition{
	{From: ReservationStatusPending, To: ReservationStatusConfirmed, Event: ReservationEventConfirm},
	{From: ReservationStatusPending, To: ReservationStatusRejected, Event: ReservationEventReject},
	{From: ReservationStatusPending, To: ReservationStatusCancelled, Event: ReservationEventCancel},
	{From: ReservationStatusConfirmed, To: ReservationStatusCancelled, Event: ReservationEventCancel},
	{From: ReservationStatusConfirmed, To: ReservationStatusCompleted, Event: ReservationEventComplete},
}

// ReservationTransitionFor returns the allowed transition for a status and event.
func ReservationTransitionFor(from ReservationStatus, ev ReservationEvent) (ReservationTransition, bool) {
	for _, tr := range reservationTransitions {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return ReservationTransition{}, false
}

// Reservation is a single dated, timed commitment between a teacher and a student.
type Reservation struct {
	ID              string            `db:"id" json:"id"`
	TeacherID       string            `db:"teacher_id" json:"teacher_id"`
	StudentID       string            `db:"student_id" json:"student_id"`
	SubscriptionID  *string           `db:"subscription_id" json:"subscription_id,omitempty"`
	Date            Date              `db:"date" json:"date"`
	StartTime       Clock             `db:"start_minute" json:"start_time"`
	DurationMinutes int               `db:"duration_minutes" json:"duration_minutes"`
	Status          ReservationStatus `db:"status" json:"status"`
	Price           decimal.Decimal   `db:"price" json:"price"`
	PaymentID       *string           `db:"payment_id" json:"payment_id,omitempty"`
	ConfirmedAt     *time.Time        `db:"confirmed_at" json:"confirmed_at,omitempty"`
	CompletedAt     *time.Time        `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt     *time.Time        `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelledBy     *string           `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelReason    *string           `db:"cancel_reason" json:"cancel_reason,omitempty"`
	RejectedAt      *time.Time        `db:"rejected_at" json:"rejected_at,omitempty"`
	RejectedBy      *string           `db:"rejected_by" json:"rejected_by,omitempty"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`
}

// Interval returns the occupied minutes of the reservation's day.
func (r Reservation) Interval() interval.Interval {
	return interval.New(int(r.StartTime), r.DurationMinutes)
}

// StartsAt returns the absolute UTC start instant.
func (r Reservation) StartsAt() time.Time {
	return r.Date.At(r.StartTime)
}

// ReservationFilter constrains reservation listing.
type ReservationFilter struct {
	TeacherID      string
	StudentID      string
	SubscriptionID string
	Statuses       []ReservationStatus
	From           *Date
	To             *Date
	Page           int
	PageSize       int
}

// ReservationStatusChange describes a conditional status write.
type ReservationStatusChange struct {
	ID           string
	From         ReservationStatus
	To           ReservationStatus
	At           time.Time
	ActorID      string
	CancelReason *string
	PaymentID    *string
}

// SlotConflict identifies one generated occurrence that collides with existing time.
type SlotConflict struct {
	Date          Date   `json:"date"`
	StartTime     Clock  `json:"start_time"`
	EndTime       Clock  `json:"end_time"`
	ReservationID string `json:"reservation_id,omitempty"`
}

// SlotConflictError lists the occurrences that could not be reserved.
type SlotConflictError struct {
	Conflicts []SlotConflict
}

func (e *SlotConflictError) Error() string {
	if len(e.Conflicts) == 0 {
		return "slot conflict"
	}
	first := e.Conflicts[0]
	msg := fmt.Sprintf("slot %s %s-%s conflicts with an existing reservation", first.Date, first.StartTime, first.EndTime)
	if len(e.Conflicts) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(e.Conflicts)-1)
	}
	return msg
}
