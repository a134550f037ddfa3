package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-fee-api/internal/models"
)

func newObligationRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func obligationRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "student_id", "session_id", "month", "due_date", "base_amount", "waiver_percent", "net_amount", "paid_amount", "status", "closed", "superseded", "created_at", "updated_at"}).
		AddRow("o1", "s1", "sess1", 1, now, "1000", "0", "1000", "1000", "PAID", false, false, now, now).
		AddRow("o2", "s1", "sess1", 2, now, "1000", "0", "1000", "250", "PARTIALLY_PAID", false, false, now, now)
}

func TestObligationRepositoryListByStudentAndSession(t *testing.T) {
	db, mock, cleanup := newObligationRepoMock(t)
	defer cleanup()
	repo := NewObligationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM monthly_obligations WHERE student_id = $1 AND session_id = $2 AND superseded = false ORDER BY month ASC")).
		WithArgs("s1", "sess1").
		WillReturnRows(obligationRows())

	obligations, err := repo.ListByStudentAndSession(context.Background(), "s1", "sess1")
	require.NoError(t, err)
	require.Len(t, obligations, 2)
	assert.Equal(t, models.ObligationStatusPartiallyPaid, obligations[1].Status)
	assert.True(t, obligations[1].PaidAmount.Equal(decimal.NewFromInt(250)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestObligationRepositoryListOpenForStudentOrdering(t *testing.T) {
	db, mock, cleanup := newObligationRepoMock(t)
	defer cleanup()
	repo := NewObligationRepository(db)

	mock.ExpectQuery("closed = false AND superseded = false AND paid_amount < net_amount[\\s]+ORDER BY due_date ASC, month ASC").
		WithArgs("s1").
		WillReturnRows(obligationRows())

	obligations, err := repo.ListOpenForStudent(context.Background(), nil, "s1")
	require.NoError(t, err)
	assert.Len(t, obligations, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestObligationRepositoryExistsForStudentSession(t *testing.T) {
	db, mock, cleanup := newObligationRepoMock(t)
	defer cleanup()
	repo := NewObligationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM monthly_obligations WHERE student_id = $1 AND session_id = $2 AND superseded = false")).
		WithArgs("s1", "sess1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	exists, err := repo.ExistsForStudentSession(context.Background(), nil, "s1", "sess1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestObligationRepositoryBulkCreateAssignsIdentifiers(t *testing.T) {
	db, mock, cleanup := newObligationRepoMock(t)
	defer cleanup()
	repo := NewObligationRepository(db)

	mock.ExpectExec("INSERT INTO monthly_obligations").
		WillReturnResult(sqlmock.NewResult(0, 2))

	obligations := []models.MonthlyObligation{
		{StudentID: "s1", SessionID: "sess1", Month: 1, NetAmount: decimal.NewFromInt(1000)},
		{StudentID: "s1", SessionID: "sess1", Month: 2, NetAmount: decimal.NewFromInt(1000)},
	}
	require.NoError(t, repo.BulkCreate(context.Background(), nil, obligations))
	assert.NotEmpty(t, obligations[0].ID)
	assert.NotEmpty(t, obligations[1].ID)
	assert.False(t, obligations[0].CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestObligationRepositoryBulkCreateEmptyIsNoop(t *testing.T) {
	db, mock, cleanup := newObligationRepoMock(t)
	defer cleanup()
	repo := NewObligationRepository(db)

	require.NoError(t, repo.BulkCreate(context.Background(), nil, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestObligationRepositoryApplyAllocation(t *testing.T) {
	db, mock, cleanup := newObligationRepoMock(t)
	defer cleanup()
	repo := NewObligationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE monthly_obligations SET paid_amount = $2, status = $3, updated_at = $4 WHERE id = $1")).
		WithArgs("o1", sqlmock.AnyArg(), "PAID", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.ApplyAllocation(context.Background(), nil, "o1", decimal.NewFromInt(1000), models.ObligationStatusPaid)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestObligationRepositoryCloseSession(t *testing.T) {
	db, mock, cleanup := newObligationRepoMock(t)
	defer cleanup()
	repo := NewObligationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE monthly_obligations SET closed = true")).
		WithArgs("s1", "sess1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 12))

	require.NoError(t, repo.CloseSession(context.Background(), nil, "s1", "sess1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestObligationRepositorySupersedeOpen(t *testing.T) {
	db, mock, cleanup := newObligationRepoMock(t)
	defer cleanup()
	repo := NewObligationRepository(db)

	mock.ExpectExec("UPDATE monthly_obligations SET superseded = true[\\s\\S]+closed = false AND superseded = false").
		WithArgs("s1", "sess1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 12))

	require.NoError(t, repo.SupersedeOpen(context.Background(), nil, "s1", "sess1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestObligationRepositorySumOutstanding(t *testing.T) {
	db, mock, cleanup := newObligationRepoMock(t)
	defer cleanup()
	repo := NewObligationRepository(db)

	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(net_amount - paid_amount\\), 0\\) FROM monthly_obligations[\\s\\S]+closed = false AND superseded = false AND paid_amount < net_amount").
		WithArgs("s1", "sess1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("1200"))

	sum, err := repo.SumOutstanding(context.Background(), nil, "s1", "sess1")
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(1200)))
	assert.NoError(t, mock.ExpectationsWereMet())
}
