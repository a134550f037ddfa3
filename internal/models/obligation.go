package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ObligationStatus enumerates the states a monthly obligation can be in.
type ObligationStatus string

const (
	ObligationStatusPending       ObligationStatus = "PENDING"
	ObligationStatusPartiallyPaid ObligationStatus = "PARTIALLY_PAID"
	ObligationStatusOverdue       ObligationStatus = "OVERDUE"
	ObligationStatusPaid          ObligationStatus = "PAID"
)

// ParseObligationStatus validates a raw status at the data-access boundary.
func ParseObligationStatus(raw string) (ObligationStatus, error) {
	switch ObligationStatus(raw) {
	case ObligationStatusPending, ObligationStatusPartiallyPaid, ObligationStatusOverdue, ObligationStatusPaid:
		return ObligationStatus(raw), nil
	}
	return "", fmt.Errorf("unknown obligation status %q", raw)
}

// AggregateStatus summarises a student's session across all months.
type AggregateStatus string

const (
	AggregateStatusPaid    AggregateStatus = "PAID"
	AggregateStatusPartial AggregateStatus = "PARTIAL"
	AggregateStatusOverdue AggregateStatus = "OVERDUE"
)

// MonthlyObligation is one ledger line: a single month's fee liability for
// one student in one session. Unique per (student, session, month) among
// live rows. Created by generation or rollover, mutated only by allocation
// (paid_amount) and status refresh, never deleted; rollover flips closed and
// recalculation flips superseded instead. Closed rows stay visible as the
// archived ledger; superseded rows are replaced by their regeneration and
// excluded from reads.
type MonthlyObligation struct {
	ID            string           `db:"id" json:"id"`
	StudentID     string           `db:"student_id" json:"student_id"`
	SessionID     string           `db:"session_id" json:"session_id"`
	Month         int              `db:"month" json:"month"`
	DueDate       time.Time        `db:"due_date" json:"due_date"`
	BaseAmount    decimal.Decimal  `db:"base_amount" json:"base_amount"`
	WaiverPercent decimal.Decimal  `db:"waiver_percent" json:"waiver_percent"`
	NetAmount     decimal.Decimal  `db:"net_amount" json:"net_amount"`
	PaidAmount    decimal.Decimal  `db:"paid_amount" json:"paid_amount"`
	Status        ObligationStatus `db:"status" json:"status"`
	Closed        bool             `db:"closed" json:"closed"`
	Superseded    bool             `db:"superseded" json:"superseded"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// Outstanding returns the unpaid remainder, never negative.
func (o *MonthlyObligation) Outstanding() decimal.Decimal {
	rem := o.NetAmount.Sub(o.PaidAmount)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// MonthlyStatusLine pairs an obligation with its freshly derived status for
// read-only display.
type MonthlyStatusLine struct {
	Month       int              `json:"month"`
	DueDate     time.Time        `json:"due_date"`
	NetAmount   decimal.Decimal  `json:"net_amount"`
	PaidAmount  decimal.Decimal  `json:"paid_amount"`
	Outstanding decimal.Decimal  `json:"outstanding"`
	Status      ObligationStatus `json:"status"`
}

// StudentFeeStatus is the aggregate view returned to reporting callers.
type StudentFeeStatus struct {
	StudentID             string              `json:"student_id"`
	SessionID             string              `json:"session_id"`
	Months                []MonthlyStatusLine `json:"months"`
	Aggregate             AggregateStatus     `json:"aggregate"`
	TotalNet              decimal.Decimal     `json:"total_net"`
	TotalPaid             decimal.Decimal     `json:"total_paid"`
	UnresolvedBalance     decimal.Decimal     `json:"unresolved_balance"`
	CarriedForwardBalance decimal.Decimal     `json:"carried_forward_balance"`
}
