package models

import "github.com/shopspring/decimal"

// Teacher is the read model the core needs from the teacher directory.
type Teacher struct {
	ID         string          `db:"id" json:"id"`
	HourlyRate decimal.Decimal `db:"hourly_rate" json:"hourly_rate"`
	IsActive   bool            `db:"is_active" json:"is_active"`
}

// Package is a purchasable subscription offer. A zero price makes it free.
type Package struct {
	ID       string          `db:"id" json:"id"`
	Name     string          `db:"name" json:"name"`
	Price    decimal.Decimal `db:"price" json:"price"`
	Currency string          `db:"currency" json:"currency"`
	IsActive bool            `db:"is_active" json:"is_active"`
}

// IsFree reports whether purchasing the package requires no payment.
func (p Package) IsFree() bool {
	return !p.Price.IsPositive()
}
