package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeeStructure is the annual fee breakdown for a class within a session.
// Rows are immutable once an obligation references them; a new session gets
// a new row rather than an edit.
type FeeStructure struct {
	ID          string          `db:"id" json:"id"`
	ClassID     string          `db:"class_id" json:"class_id"`
	SessionID   string          `db:"session_id" json:"session_id"`
	Tuition     decimal.Decimal `db:"tuition" json:"tuition"`
	Development decimal.Decimal `db:"development" json:"development"`
	Transport   decimal.Decimal `db:"transport" json:"transport"`
	Misc        decimal.Decimal `db:"misc" json:"misc"`
	AnnualTotal decimal.Decimal `db:"annual_total" json:"annual_total"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// MonthlyBase returns the flat per-month installment before waivers.
func (f *FeeStructure) MonthlyBase(sessionMonths int) decimal.Decimal {
	if sessionMonths <= 0 {
		sessionMonths = 12
	}
	return f.AnnualTotal.Div(decimal.NewFromInt(int64(sessionMonths)))
}

// FeeStructureFilter encapsulates listing criteria.
type FeeStructureFilter struct {
	ClassID   string
	SessionID string
	Page      int
	PageSize  int
}
