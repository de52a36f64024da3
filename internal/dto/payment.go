package dto

// PaymentCallbackStatus is the outcome reported by the payment provider.
type PaymentCallbackStatus string

const (
	PaymentCallbackSuccess PaymentCallbackStatus = "SUCCESS"
	PaymentCallbackFailed  PaymentCallbackStatus = "FAILED"
)

// PaymentCallbackRequest is the webhook body delivered by the payment provider.
type PaymentCallbackRequest struct {
	Reference string                `json:"reference" validate:"required"`
	Status    PaymentCallbackStatus `json:"status" validate:"required,oneof=SUCCESS FAILED"`
	PaymentID string                `json:"paymentId"`
}

// PaymentCallbackResult reports what the callback changed.
type PaymentCallbackResult struct {
	SubscriptionID string `json:"subscriptionId"`
	Status         string `json:"status"`
	Reservations   int    `json:"reservations"`
	Duplicate      bool   `json:"duplicate"`
}
