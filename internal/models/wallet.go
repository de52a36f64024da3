package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies ledger entries.
type TransactionType string

const (
	TransactionTypeCredit         TransactionType = "CREDIT"
	TransactionTypeSessionEarning TransactionType = "SESSION_EARNING"
	TransactionTypeBonus          TransactionType = "BONUS"
	TransactionTypeDebit          TransactionType = "DEBIT"
	TransactionTypePayout         TransactionType = "PAYOUT"
)

// CreditTransactionTypes add to balance and total earned.
var CreditTransactionTypes = []TransactionType{TransactionTypeCredit, TransactionTypeSessionEarning, TransactionTypeBonus}

// DebitTransactionTypes subtract from balance.
var DebitTransactionTypes = []TransactionType{TransactionTypeDebit, TransactionTypePayout}

// IsCredit reports whether the type belongs to the credit class.
func (t TransactionType) IsCredit() bool {
	for _, c := range CreditTransactionTypes {
		if c == t {
			return true
		}
	}
	return false
}

// IsDebit reports whether the type belongs to the debit class.
func (t TransactionType) IsDebit() bool {
	for _, d := range DebitTransactionTypes {
		if d == t {
			return true
		}
	}
	return false
}

// Wallet caches a teacher's earnings aggregates. The transaction log is authoritative.
type Wallet struct {
	ID             string          `db:"id" json:"id"`
	TeacherID      string          `db:"teacher_id" json:"teacher_id"`
	Balance        decimal.Decimal `db:"balance" json:"balance"`
	PendingBalance decimal.Decimal `db:"pending_balance" json:"pending_balance"`
	TotalEarned    decimal.Decimal `db:"total_earned" json:"total_earned"`
	TotalHours     decimal.Decimal `db:"total_hours" json:"total_hours"`
	IsActive       bool            `db:"is_active" json:"is_active"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// WalletTransaction is an append-only ledger entry.
type WalletTransaction struct {
	ID          string          `db:"id" json:"id"`
	WalletID    string          `db:"wallet_id" json:"wallet_id"`
	Type        TransactionType `db:"type" json:"type"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	BookingID   *string         `db:"booking_id" json:"booking_id,omitempty"`
	PaymentID   *string         `db:"payment_id" json:"payment_id,omitempty"`
	Description string          `db:"description" json:"description"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// PlatformRevenue records the platform's fee for one monetised booking.
type PlatformRevenue struct {
	ID             string          `db:"id" json:"id"`
	BookingID      string          `db:"booking_id" json:"booking_id"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	TeacherEarning decimal.Decimal `db:"teacher_earning" json:"teacher_earning"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// LedgerTotals are the sums replayed from a wallet's transaction log.
type LedgerTotals struct {
	Credits decimal.Decimal `db:"credits"`
	Debits  decimal.Decimal `db:"debits"`
}

// WalletIncrement is applied atomically to the cached aggregates.
type WalletIncrement struct {
	Balance     decimal.Decimal
	TotalEarned decimal.Decimal
	TotalHours  decimal.Decimal
}

// CreditOutcome reports the effect of a credit attempt.
type CreditOutcome struct {
	WalletID       string          `json:"wallet_id"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	GrossAmount    decimal.Decimal `json:"gross_amount"`
	PlatformFee    decimal.Decimal `json:"platform_fee"`
	TeacherEarning decimal.Decimal `json:"teacher_earning"`
	Hours          decimal.Decimal `json:"hours"`
	Applied        bool            `json:"applied"`
}

// ReconcileResult describes a reconciliation pass over one wallet.
type ReconcileResult struct {
	WalletID            string          `json:"wallet_id"`
	PreviousBalance     decimal.Decimal `json:"previous_balance"`
	PreviousTotalEarned decimal.Decimal `json:"previous_total_earned"`
	ComputedBalance     decimal.Decimal `json:"computed_balance"`
	ComputedTotalEarned decimal.Decimal `json:"computed_total_earned"`
	Corrected           bool            `json:"corrected"`
}

// WalletTransactionFilter constrains ledger listing.
type WalletTransactionFilter struct {
	WalletID string
	Types    []TransactionType
	Page     int
	PageSize int
}
