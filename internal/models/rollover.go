package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RolloverStatus marks whether a session transition completed or is awaiting
// manual resolution after an abort.
type RolloverStatus string

const (
	RolloverStatusCompleted RolloverStatus = "COMPLETED"
	RolloverStatusPending   RolloverStatus = "PENDING"
)

// ParseRolloverStatus validates a raw status at the data-access boundary.
func ParseRolloverStatus(raw string) (RolloverStatus, error) {
	switch RolloverStatus(raw) {
	case RolloverStatusCompleted, RolloverStatusPending:
		return RolloverStatus(raw), nil
	}
	return "", fmt.Errorf("unknown rollover status %q", raw)
}

// RolloverRecord links a student's closed session to the new one and carries
// the unresolved balance forward as a separate liability, outside any single
// month's ledger line.
type RolloverRecord struct {
	ID                    string          `db:"id" json:"id"`
	StudentID             string          `db:"student_id" json:"student_id"`
	FromSessionID         string          `db:"from_session_id" json:"from_session_id"`
	ToSessionID           string          `db:"to_session_id" json:"to_session_id"`
	NewClassID            string          `db:"new_class_id" json:"new_class_id"`
	CarriedForwardBalance decimal.Decimal `db:"carried_forward_balance" json:"carried_forward_balance"`
	Status                RolloverStatus  `db:"status" json:"status"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
}

// RolloverResult is returned to the caller after a rollover attempt.
type RolloverResult struct {
	Record         RolloverRecord      `json:"record"`
	NewObligations []MonthlyObligation `json:"new_obligations"`
}
