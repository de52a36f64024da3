package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionStatus mirrors the payment outcome of a purchase.
type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "PENDING"
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusCancelled SubscriptionStatus = "CANCELLED"
)

// SelectedSlot is a normalised weekly (day, start time) pick.
type SelectedSlot struct {
	DayOfWeek Weekday `json:"day_of_week"`
	StartTime Clock   `json:"start_time"`
}

func (s SelectedSlot) String() string {
	return fmt.Sprintf("%s %s", s.DayOfWeek, s.StartTime)
}

// SelectedSlots is stored as a JSONB array.
type SelectedSlots []SelectedSlot

// Value implements driver.Valuer.
func (s SelectedSlots) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *SelectedSlots) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan selected slots: unsupported type %T", src)
	}
	return json.Unmarshal(raw, s)
}

// Subscription is a recurring purchase that materialises into reservations.
type Subscription struct {
	ID               string             `db:"id" json:"id"`
	StudentID        string             `db:"student_id" json:"student_id"`
	TeacherID        string             `db:"teacher_id" json:"teacher_id"`
	PackageID        string             `db:"package_id" json:"package_id"`
	SelectedSlots    SelectedSlots      `db:"selected_slots" json:"selected_slots"`
	StartDate        Date               `db:"start_date" json:"start_date"`
	EndDate          Date               `db:"end_date" json:"end_date"`
	Status           SubscriptionStatus `db:"status" json:"status"`
	TotalPrice       decimal.Decimal    `db:"total_price" json:"total_price"`
	Currency         string             `db:"currency" json:"currency"`
	PaymentReference *string            `db:"payment_reference" json:"payment_reference,omitempty"`
	PaymentURL       *string            `db:"payment_url" json:"payment_url,omitempty"`
	CancelledAt      *time.Time         `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt        time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time          `db:"updated_at" json:"updated_at"`
}

// SubscriptionWithReservations bundles a subscription and its generated occurrences.
type SubscriptionWithReservations struct {
	Subscription *Subscription `json:"subscription"`
	Reservations []Reservation `json:"reservations"`
}
