package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-fee-api/internal/models"
)

// paymentTolerance absorbs sub-cent drift when comparing paid against net.
var paymentTolerance = decimal.New(1, -2)

// DeriveStatus computes the status of a single ledger line from its amounts
// and due date. Pure function: callable repeatedly for display without
// touching the ledger. Priority: PAID, then PARTIALLY_PAID, then OVERDUE,
// then PENDING.
func DeriveStatus(netAmount, paidAmount decimal.Decimal, dueDate, asOf time.Time) models.ObligationStatus {
	if paidAmount.GreaterThanOrEqual(netAmount.Sub(paymentTolerance)) {
		return models.ObligationStatusPaid
	}
	if paidAmount.IsPositive() {
		return models.ObligationStatusPartiallyPaid
	}
	if asOf.After(dueDate) {
		return models.ObligationStatusOverdue
	}
	return models.ObligationStatusPending
}

// AggregateStatuses folds monthly statuses into the session-level label:
// any OVERDUE month dominates, anything unpaid short of overdue yields
// PARTIAL, a fully settled ledger yields PAID.
func AggregateStatuses(statuses []models.ObligationStatus) models.AggregateStatus {
	sawOpen := false
	for _, status := range statuses {
		switch status {
		case models.ObligationStatusOverdue:
			return models.AggregateStatusOverdue
		case models.ObligationStatusPartiallyPaid, models.ObligationStatusPending:
			sawOpen = true
		}
	}
	if sawOpen {
		return models.AggregateStatusPartial
	}
	return models.AggregateStatusPaid
}
