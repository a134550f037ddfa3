package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod enumerates the accepted collection channels.
type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "CASH"
	PaymentMethodTransfer PaymentMethod = "TRANSFER"
	PaymentMethodCheque   PaymentMethod = "CHEQUE"
)

// ParsePaymentMethod validates a raw method at the data-access boundary.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch PaymentMethod(raw) {
	case PaymentMethodCash, PaymentMethodTransfer, PaymentMethodCheque:
		return PaymentMethod(raw), nil
	}
	return "", fmt.Errorf("unknown payment method %q", raw)
}

// PaymentEvent records money received from a student's guardian. Immutable
// once stored; the unit of input to allocation. CreditRemainder captures any
// amount left over after all open obligations were satisfied.
type PaymentEvent struct {
	ID              string          `db:"id" json:"id"`
	StudentID       string          `db:"student_id" json:"student_id"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	ReceivedAt      time.Time       `db:"received_at" json:"received_at"`
	Method          PaymentMethod   `db:"method" json:"method"`
	Reference       *string         `db:"reference" json:"reference,omitempty"`
	CreditRemainder decimal.Decimal `db:"credit_remainder" json:"credit_remainder"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// PaymentAllocation assigns part or all of a payment event to a specific
// monthly obligation. Sum of allocations per event never exceeds the event
// amount; per obligation never exceeds its net amount.
type PaymentAllocation struct {
	ID             string          `db:"id" json:"id"`
	PaymentEventID string          `db:"payment_event_id" json:"payment_event_id"`
	ObligationID   string          `db:"obligation_id" json:"obligation_id"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// AllocationResult is what the allocator hands back to the collection layer.
// Replayed indicates an idempotent replay of an already-processed event, in
// which case the stored outcome is returned unchanged.
type AllocationResult struct {
	Payment         PaymentEvent        `json:"payment"`
	Allocations     []PaymentAllocation `json:"allocations"`
	CreditRemainder decimal.Decimal     `json:"credit_remainder"`
	Replayed        bool                `json:"replayed"`
}
