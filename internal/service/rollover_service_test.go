package service

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-api/internal/models"
	"github.com/noah-isme/sma-fee-api/pkg/config"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
)

func (m *mockObligationLedger) SumOutstanding(ctx context.Context, exec sqlx.ExtContext, studentID, sessionID string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, row := range m.rows {
		if row.StudentID == studentID && row.SessionID == sessionID && !row.Closed && !row.Superseded {
			total = total.Add(row.Outstanding())
		}
	}
	return total, nil
}

type mockRolloverStore struct {
	records []models.RolloverRecord
}

func (m *mockRolloverStore) Create(ctx context.Context, exec sqlx.ExtContext, record *models.RolloverRecord) error {
	m.records = append(m.records, *record)
	return nil
}

func (m *mockRolloverStore) HasPending(ctx context.Context, studentID, fromSessionID string) (bool, error) {
	for _, record := range m.records {
		if record.StudentID == studentID && record.FromSessionID == fromSessionID && record.Status == models.RolloverStatusPending {
			return true, nil
		}
	}
	return false, nil
}

type rolloverFixture struct {
	svc     *RolloverService
	ledger  *mockObligationLedger
	records *mockRolloverStore
}

func newRolloverFixture(t *testing.T, resolveErr error) *rolloverFixture {
	student := &models.Student{ID: "student-1", FullName: "Ani Pertiwi", ClassID: "class-10a", Active: true}
	fromSession := &models.Session{
		ID:        "session-2026",
		StartDate: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		Months:    12,
	}
	toSession := &models.Session{
		ID:        "session-2027",
		StartDate: time.Date(2027, 7, 1, 0, 0, 0, 0, time.UTC),
		Months:    12,
	}
	structure := &models.FeeStructure{
		ClassID:     "class-11a",
		SessionID:   toSession.ID,
		AnnualTotal: decimal.NewFromInt(13200),
	}

	// Prior session: months 11 and 12 unpaid at 600 each.
	ledger := &mockObligationLedger{}
	for month := 1; month <= 12; month++ {
		paid := decimal.NewFromInt(600)
		status := models.ObligationStatusPaid
		if month > 10 {
			paid = decimal.Zero
			status = models.ObligationStatusOverdue
		}
		ledger.rows = append(ledger.rows, models.MonthlyObligation{
			ID:         rolloverRowID(month),
			StudentID:  student.ID,
			SessionID:  fromSession.ID,
			Month:      month,
			DueDate:    fromSession.DueDateFor(month, 10),
			NetAmount:  decimal.NewFromInt(600),
			PaidAmount: paid,
			Status:     status,
		})
	}

	records := &mockRolloverStore{}
	resolver := &stubStructureResolver{structure: structure, err: resolveErr}
	students := &stubStudentReader{students: map[string]*models.Student{student.ID: student}}
	sessions := &stubSessionReader{sessions: map[string]*models.Session{
		fromSession.ID: fromSession,
		toSession.ID:   toSession,
	}}
	generator := NewObligationService(
		ledger,
		resolver,
		&stubWaiverDetector{percent: decimal.Zero},
		students,
		sessions,
		newStubTxRunner(t),
		config.FeesConfig{SessionMonths: 12, DueDay: 10},
		nil,
		zap.NewNop(),
	)
	generator.now = func() time.Time { return time.Date(2027, 7, 1, 0, 0, 0, 0, time.UTC) }
	svc := NewRolloverService(ledger, records, generator, resolver, students, sessions, newStubTxRunner(t), nil, nil, zap.NewNop())
	return &rolloverFixture{svc: svc, ledger: ledger, records: records}
}

func rolloverRowID(month int) string {
	return "prior-" + string(rune('a'+month-1))
}

func TestRolloverCarriesForwardUnresolvedBalance(t *testing.T) {
	fx := newRolloverFixture(t, nil)

	result, err := fx.svc.Rollover(context.Background(), "student-1", RolloverRequest{
		FromSessionID: "session-2026",
		ToSessionID:   "session-2027",
		NewClassID:    "class-11a",
	})
	require.NoError(t, err)

	assert.Equal(t, models.RolloverStatusCompleted, result.Record.Status)
	assert.True(t, result.Record.CarriedForwardBalance.Equal(decimal.NewFromInt(1200)), "carried %s", result.Record.CarriedForwardBalance)

	require.Len(t, result.NewObligations, 12)
	for _, line := range result.NewObligations {
		assert.Equal(t, "session-2027", line.SessionID)
		assert.True(t, line.NetAmount.Equal(decimal.NewFromInt(1100)), "month %d net %s", line.Month, line.NetAmount)
	}

	// Prior ledger lines are archived, not mutated or deleted.
	for _, row := range fx.ledger.rows {
		if row.SessionID == "session-2026" {
			assert.True(t, row.Closed)
			if row.Month > 10 {
				assert.True(t, row.PaidAmount.IsZero(), "unpaid amounts stay on the archived line")
			}
		}
	}
	assert.Contains(t, fx.ledger.closed, "student-1/session-2026")
}

func TestRolloverAbortsWhenTargetStructureMissing(t *testing.T) {
	fx := newRolloverFixture(t, appErrors.Clone(appErrors.ErrNotFound, "fee structure not found"))

	_, err := fx.svc.Rollover(context.Background(), "student-1", RolloverRequest{
		FromSessionID: "session-2026",
		ToSessionID:   "session-2027",
		NewClassID:    "class-11a",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRolloverAborted.Code, appErrors.FromError(err).Code)

	// Nothing in the prior session changed and no new ledger was seeded.
	for _, row := range fx.ledger.rows {
		assert.Equal(t, "session-2026", row.SessionID)
		assert.False(t, row.Closed)
	}

	require.Len(t, fx.records.records, 1)
	assert.Equal(t, models.RolloverStatusPending, fx.records.records[0].Status)
	assert.True(t, fx.records.records[0].CarriedForwardBalance.IsZero())
}

func TestRolloverAbortDoesNotDuplicatePendingRecord(t *testing.T) {
	fx := newRolloverFixture(t, appErrors.Clone(appErrors.ErrNotFound, "fee structure not found"))

	req := RolloverRequest{FromSessionID: "session-2026", ToSessionID: "session-2027", NewClassID: "class-11a"}
	_, err := fx.svc.Rollover(context.Background(), "student-1", req)
	require.Error(t, err)
	_, err = fx.svc.Rollover(context.Background(), "student-1", req)
	require.Error(t, err)

	assert.Len(t, fx.records.records, 1)
}

func TestRolloverRejectsSameSession(t *testing.T) {
	fx := newRolloverFixture(t, nil)

	_, err := fx.svc.Rollover(context.Background(), "student-1", RolloverRequest{
		FromSessionID: "session-2026",
		ToSessionID:   "session-2026",
		NewClassID:    "class-11a",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, fx.records.records)
}

func TestRolloverConflictsWhenTargetAlreadySeeded(t *testing.T) {
	fx := newRolloverFixture(t, nil)
	fx.ledger.rows = append(fx.ledger.rows, models.MonthlyObligation{
		ID:        "seeded",
		StudentID: "student-1",
		SessionID: "session-2027",
		Month:     1,
		NetAmount: decimal.NewFromInt(1100),
	})

	_, err := fx.svc.Rollover(context.Background(), "student-1", RolloverRequest{
		FromSessionID: "session-2026",
		ToSessionID:   "session-2027",
		NewClassID:    "class-11a",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, fx.records.records)
}
