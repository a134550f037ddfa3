package service

import (
	"context"
	"database/sql"
	"sort"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-api/internal/models"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
)

func (m *mockObligationLedger) ListOpenForStudent(ctx context.Context, exec sqlx.ExtContext, studentID string) ([]models.MonthlyObligation, error) {
	var open []models.MonthlyObligation
	for _, row := range m.rows {
		if row.StudentID == studentID && !row.Closed && !row.Superseded && row.PaidAmount.LessThan(row.NetAmount) {
			open = append(open, row)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		if open[i].DueDate.Equal(open[j].DueDate) {
			return open[i].Month < open[j].Month
		}
		return open[i].DueDate.Before(open[j].DueDate)
	})
	return open, nil
}

func (m *mockObligationLedger) ApplyAllocation(ctx context.Context, exec sqlx.ExtContext, id string, paidAmount decimal.Decimal, status models.ObligationStatus) error {
	for i := range m.rows {
		if m.rows[i].ID == id {
			m.rows[i].PaidAmount = paidAmount
			m.rows[i].Status = status
			return nil
		}
	}
	return sql.ErrNoRows
}

type mockPaymentLedger struct {
	events      map[string]*models.PaymentEvent
	allocations map[string][]models.PaymentAllocation
}

func newMockPaymentLedger() *mockPaymentLedger {
	return &mockPaymentLedger{
		events:      make(map[string]*models.PaymentEvent),
		allocations: make(map[string][]models.PaymentAllocation),
	}
}

func (m *mockPaymentLedger) FindEventByID(ctx context.Context, id string) (*models.PaymentEvent, error) {
	event, ok := m.events[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return event, nil
}

func (m *mockPaymentLedger) FindEventByReference(ctx context.Context, reference string) (*models.PaymentEvent, error) {
	for _, event := range m.events {
		if event.Reference != nil && *event.Reference == reference {
			return event, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockPaymentLedger) CreateEvent(ctx context.Context, exec sqlx.ExtContext, event *models.PaymentEvent) error {
	m.events[event.ID] = event
	return nil
}

func (m *mockPaymentLedger) CreateAllocations(ctx context.Context, exec sqlx.ExtContext, allocations []models.PaymentAllocation) error {
	for _, allocation := range allocations {
		m.allocations[allocation.PaymentEventID] = append(m.allocations[allocation.PaymentEventID], allocation)
	}
	return nil
}

func (m *mockPaymentLedger) ListAllocationsByEvent(ctx context.Context, eventID string) ([]models.PaymentAllocation, error) {
	return m.allocations[eventID], nil
}

func openLedgerRows(studentID string, nets ...int64) *mockObligationLedger {
	start := time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC)
	ledger := &mockObligationLedger{}
	for i, net := range nets {
		ledger.rows = append(ledger.rows, models.MonthlyObligation{
			ID:         string(rune('a' + i)),
			StudentID:  studentID,
			SessionID:  "session-2026",
			Month:      i + 1,
			DueDate:    start.AddDate(0, i, 0),
			NetAmount:  decimal.NewFromInt(net),
			PaidAmount: decimal.Zero,
			Status:     models.ObligationStatusPending,
		})
	}
	return ledger
}

func newAllocationFixture(t *testing.T, ledger *mockObligationLedger) (*AllocationService, *mockPaymentLedger) {
	payments := newMockPaymentLedger()
	students := &stubStudentReader{students: map[string]*models.Student{
		"student-1": {ID: "student-1", FullName: "Ani Pertiwi", Active: true},
	}}
	svc := NewAllocationService(payments, ledger, students, newStubTxRunner(t), nil, nil, zap.NewNop())
	return svc, payments
}

func TestAllocateSpreadsOldestDueFirst(t *testing.T) {
	ledger := openLedgerRows("student-1", 1000, 1000, 1000, 1000)
	svc, _ := newAllocationFixture(t, ledger)

	result, err := svc.Allocate(context.Background(), AllocatePaymentRequest{
		StudentID: "student-1",
		Amount:    decimal.NewFromInt(2500),
		Method:    "CASH",
	})
	require.NoError(t, err)
	require.Len(t, result.Allocations, 3)
	assert.True(t, result.CreditRemainder.IsZero())

	assert.True(t, result.Allocations[0].Amount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, result.Allocations[1].Amount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, result.Allocations[2].Amount.Equal(decimal.NewFromInt(500)))

	assert.Equal(t, models.ObligationStatusPaid, ledger.rows[0].Status)
	assert.Equal(t, models.ObligationStatusPaid, ledger.rows[1].Status)
	assert.Equal(t, models.ObligationStatusPartiallyPaid, ledger.rows[2].Status)
	assert.Equal(t, models.ObligationStatusPending, ledger.rows[3].Status)
	assert.True(t, ledger.rows[2].PaidAmount.Equal(decimal.NewFromInt(500)))
}

func TestAllocateTopsUpPartiallyPaidMonth(t *testing.T) {
	ledger := openLedgerRows("student-1", 1000, 1000)
	ledger.rows[0].PaidAmount = decimal.NewFromInt(400)
	ledger.rows[0].Status = models.ObligationStatusPartiallyPaid
	svc, _ := newAllocationFixture(t, ledger)

	result, err := svc.Allocate(context.Background(), AllocatePaymentRequest{
		StudentID: "student-1",
		Amount:    decimal.NewFromInt(700),
		Method:    "TRANSFER",
	})
	require.NoError(t, err)
	require.Len(t, result.Allocations, 2)
	assert.True(t, result.Allocations[0].Amount.Equal(decimal.NewFromInt(600)), "tops up the outstanding 600 first")
	assert.True(t, result.Allocations[1].Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, models.ObligationStatusPaid, ledger.rows[0].Status)
	assert.Equal(t, models.ObligationStatusPartiallyPaid, ledger.rows[1].Status)
}

func TestAllocateLeavesCreditRemainder(t *testing.T) {
	ledger := openLedgerRows("student-1", 1000, 1000, 1000)
	svc, payments := newAllocationFixture(t, ledger)

	result, err := svc.Allocate(context.Background(), AllocatePaymentRequest{
		StudentID: "student-1",
		Amount:    decimal.NewFromInt(5000),
		Method:    "CASH",
	})
	require.NoError(t, err)
	require.Len(t, result.Allocations, 3)
	assert.True(t, result.CreditRemainder.Equal(decimal.NewFromInt(2000)), "remainder %s", result.CreditRemainder)

	stored, ok := payments.events[result.Payment.ID]
	require.True(t, ok)
	assert.True(t, stored.CreditRemainder.Equal(decimal.NewFromInt(2000)), "remainder persisted on the event")
	for _, row := range ledger.rows {
		assert.Equal(t, models.ObligationStatusPaid, row.Status, "no obligation is overpaid")
	}
}

func TestAllocateReplaysProcessedEvent(t *testing.T) {
	ledger := openLedgerRows("student-1", 1000, 1000)
	svc, _ := newAllocationFixture(t, ledger)

	req := AllocatePaymentRequest{
		EventID:   "6b7440ae-2a18-4c4b-9a4f-2fb0e79a3a01",
		StudentID: "student-1",
		Amount:    decimal.NewFromInt(1500),
		Method:    "CASH",
	}
	first, err := svc.Allocate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := svc.Allocate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.Len(t, second.Allocations, len(first.Allocations))
	assert.True(t, ledger.rows[0].PaidAmount.Equal(decimal.NewFromInt(1000)), "replay must not double-credit")
	assert.True(t, ledger.rows[1].PaidAmount.Equal(decimal.NewFromInt(500)))
}

// racingPaymentLedger lets a test inject a competitor's committed event
// between the fast-path idempotency check and the locked re-check.
type racingPaymentLedger struct {
	*mockPaymentLedger
	finds        int
	onSecondFind func()
}

func (r *racingPaymentLedger) FindEventByID(ctx context.Context, id string) (*models.PaymentEvent, error) {
	r.finds++
	if r.finds == 2 && r.onSecondFind != nil {
		inject := r.onSecondFind
		r.onSecondFind = nil
		inject()
	}
	return r.mockPaymentLedger.FindEventByID(ctx, id)
}

func TestAllocateReplaysEventCommittedWhileWaitingForLock(t *testing.T) {
	ledger := openLedgerRows("student-1", 1000, 1000)
	payments := &racingPaymentLedger{mockPaymentLedger: newMockPaymentLedger()}
	students := &stubStudentReader{students: map[string]*models.Student{
		"student-1": {ID: "student-1", FullName: "Ani Pertiwi", Active: true},
	}}
	svc := NewAllocationService(payments, ledger, students, newStubTxRunner(t), nil, nil, zap.NewNop())

	eventID := "3f0a9f4e-9a71-4a7d-8f07-6f6f2f1c9b21"
	// The competitor commits the same event and its allocation right after
	// this caller's fast-path check came back empty.
	payments.onSecondFind = func() {
		payments.events[eventID] = &models.PaymentEvent{
			ID:        eventID,
			StudentID: "student-1",
			Amount:    decimal.NewFromInt(1000),
			Method:    models.PaymentMethodCash,
		}
		payments.allocations[eventID] = []models.PaymentAllocation{
			{PaymentEventID: eventID, ObligationID: "a", Amount: decimal.NewFromInt(1000)},
		}
		ledger.rows[0].PaidAmount = decimal.NewFromInt(1000)
		ledger.rows[0].Status = models.ObligationStatusPaid
	}

	result, err := svc.Allocate(context.Background(), AllocatePaymentRequest{
		EventID:   eventID,
		StudentID: "student-1",
		Amount:    decimal.NewFromInt(1000),
		Method:    "CASH",
	})
	require.NoError(t, err)
	assert.True(t, result.Replayed, "second writer must surface the stored outcome")
	require.Len(t, result.Allocations, 1)
	assert.True(t, ledger.rows[0].PaidAmount.Equal(decimal.NewFromInt(1000)), "no double credit")
	assert.True(t, ledger.rows[1].PaidAmount.IsZero(), "the losing writer allocates nothing")
	assert.Len(t, payments.events, 1)
}

func TestAllocateReplaysByReference(t *testing.T) {
	ledger := openLedgerRows("student-1", 1000)
	svc, _ := newAllocationFixture(t, ledger)

	reference := "RCPT-0042"
	first, err := svc.Allocate(context.Background(), AllocatePaymentRequest{
		StudentID: "student-1",
		Amount:    decimal.NewFromInt(1000),
		Method:    "CHEQUE",
		Reference: &reference,
	})
	require.NoError(t, err)

	second, err := svc.Allocate(context.Background(), AllocatePaymentRequest{
		StudentID: "student-1",
		Amount:    decimal.NewFromInt(1000),
		Method:    "CHEQUE",
		Reference: &reference,
	})
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
}

func TestAllocateRejectsEventReuseAcrossStudents(t *testing.T) {
	ledger := openLedgerRows("student-1", 1000)
	svc, payments := newAllocationFixture(t, ledger)

	eventID := "9d2f7c52-61f4-4a83-b1d0-5f4f9e2f7a10"
	payments.events[eventID] = &models.PaymentEvent{ID: eventID, StudentID: "student-2"}

	_, err := svc.Allocate(context.Background(), AllocatePaymentRequest{
		EventID:   eventID,
		StudentID: "student-1",
		Amount:    decimal.NewFromInt(100),
		Method:    "CASH",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicatePayment.Code, appErrors.FromError(err).Code)
}

func TestAllocateRejectsNonPositiveAmount(t *testing.T) {
	ledger := openLedgerRows("student-1", 1000)
	svc, _ := newAllocationFixture(t, ledger)

	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-50)} {
		_, err := svc.Allocate(context.Background(), AllocatePaymentRequest{
			StudentID: "student-1",
			Amount:    amount,
			Method:    "CASH",
		})
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	}
}

func TestAllocateRejectsUnknownMethod(t *testing.T) {
	ledger := openLedgerRows("student-1", 1000)
	svc, _ := newAllocationFixture(t, ledger)

	_, err := svc.Allocate(context.Background(), AllocatePaymentRequest{
		StudentID: "student-1",
		Amount:    decimal.NewFromInt(100),
		Method:    "BARTER",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAllocateUnknownStudent(t *testing.T) {
	ledger := openLedgerRows("student-1", 1000)
	svc, _ := newAllocationFixture(t, ledger)

	_, err := svc.Allocate(context.Background(), AllocatePaymentRequest{
		StudentID: "student-9",
		Amount:    decimal.NewFromInt(100),
		Method:    "CASH",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAllocateWithNoOpenObligations(t *testing.T) {
	ledger := &mockObligationLedger{}
	svc, _ := newAllocationFixture(t, ledger)

	result, err := svc.Allocate(context.Background(), AllocatePaymentRequest{
		StudentID: "student-1",
		Amount:    decimal.NewFromInt(300),
		Method:    "CASH",
	})
	require.NoError(t, err)
	assert.Empty(t, result.Allocations)
	assert.True(t, result.CreditRemainder.Equal(decimal.NewFromInt(300)))
}

func TestSpreadPaymentNeverOverpays(t *testing.T) {
	event := &models.PaymentEvent{
		ID:         "evt",
		Amount:     decimal.RequireFromString("1500.75"),
		ReceivedAt: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
	}
	open := []models.MonthlyObligation{
		{ID: "a", NetAmount: decimal.NewFromInt(1000), PaidAmount: decimal.NewFromInt(999), DueDate: time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC)},
		{ID: "b", NetAmount: decimal.NewFromInt(1000), PaidAmount: decimal.Zero, DueDate: time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)},
	}

	allocations, updates, remainder := spreadPayment(event, open)
	require.Len(t, allocations, 2)
	assert.True(t, allocations[0].Amount.Equal(decimal.NewFromInt(1)))
	assert.True(t, allocations[1].Amount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, remainder.Equal(decimal.RequireFromString("499.75")))
	for _, update := range updates {
		assert.False(t, update.PaidAmount.GreaterThan(update.NetAmount))
	}
}
