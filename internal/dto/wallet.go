package dto

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/tutor-core-api/internal/models"
)

// CreditWalletRequest credits a teacher for a monetised booking or payment. At least one of
// bookingId and paymentId is required; it is the key that makes retries no-ops.
type CreditWalletRequest struct {
	TeacherID   string          `json:"teacherId" validate:"required"`
	GrossAmount decimal.Decimal `json:"grossAmount"`
	BookingID   *string         `json:"bookingId" validate:"required_without=PaymentID"`
	PaymentID   *string         `json:"paymentId" validate:"required_without=BookingID"`
}

// DebitWalletRequest withdraws funds from a wallet.
type DebitWalletRequest struct {
	Amount      decimal.Decimal        `json:"amount"`
	Type        models.TransactionType `json:"type" validate:"required,oneof=DEBIT PAYOUT"`
	PaymentID   *string                `json:"paymentId"`
	Description string                 `json:"description" validate:"omitempty,max=255"`
}

// WalletTransactionQuery paginates ledger listing. Format "csv" renders a statement file.
type WalletTransactionQuery struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
	Format   string `form:"format" binding:"omitempty,oneof=json csv"`
}

// ReconcileSummary aggregates a reconciliation sweep.
type ReconcileSummary struct {
	Scanned   int                      `json:"scanned"`
	Corrected int                      `json:"corrected"`
	Failed    int                      `json:"failed"`
	Results   []models.ReconcileResult `json:"results,omitempty"`
}
