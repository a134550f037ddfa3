package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-fee-api/internal/models"
)

func newExportJobRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestExportJobRepositoryCreateAssignsDefaults(t *testing.T) {
	db, mock, cleanup := newExportJobRepoMock(t)
	defer cleanup()
	repo := NewExportJobRepository(db)

	mock.ExpectExec("INSERT INTO statement_export_jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := &models.StatementExportJob{
		StudentID: "s1",
		SessionID: "sess-2026",
		Format:    models.StatementFormatCSV,
	}
	require.NoError(t, repo.Create(context.Background(), job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.ExportStatusQueued, job.Status)
	assert.False(t, job.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExportJobRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newExportJobRepoMock(t)
	defer cleanup()
	repo := NewExportJobRepository(db)

	url := "/api/v1/fees/exports/j1/download?token=abc"
	rows := sqlmock.NewRows([]string{"id", "student_id", "session_id", "format", "status", "result_url", "error_message", "requested_by", "created_at", "finished_at"}).
		AddRow("j1", "s1", "sess-2026", "pdf", "FINISHED", url, nil, "admin-1", time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM statement_export_jobs")).
		WithArgs("j1").
		WillReturnRows(rows)

	job, err := repo.FindByID(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFinished, job.Status)
	assert.Equal(t, models.StatementFormatPDF, job.Format)
	require.NotNil(t, job.ResultURL)
	assert.Equal(t, url, *job.ResultURL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExportJobRepositoryUpdateBuildsPartialSet(t *testing.T) {
	db, mock, cleanup := newExportJobRepoMock(t)
	defer cleanup()
	repo := NewExportJobRepository(db)

	status := models.ExportStatusFailed
	msg := "render failed"
	finished := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE statement_export_jobs SET status = $1, error_message = $2, finished_at = $3 WHERE id = $4")).
		WithArgs(status, msg, finished, "j1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), "j1", UpdateExportJobParams{
		Status:       &status,
		ErrorMessage: &msg,
		FinishedAt:   &finished,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExportJobRepositoryUpdateNoFieldsIsNoop(t *testing.T) {
	db, mock, cleanup := newExportJobRepoMock(t)
	defer cleanup()
	repo := NewExportJobRepository(db)

	require.NoError(t, repo.Update(context.Background(), "j1", UpdateExportJobParams{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExportJobRepositoryListQueued(t *testing.T) {
	db, mock, cleanup := newExportJobRepoMock(t)
	defer cleanup()
	repo := NewExportJobRepository(db)

	rows := sqlmock.NewRows([]string{"id", "student_id", "session_id", "format", "status", "result_url", "error_message", "requested_by", "created_at", "finished_at"}).
		AddRow("j1", "s1", "sess-2026", "csv", "QUEUED", nil, nil, "", time.Now(), nil).
		AddRow("j2", "s2", "sess-2026", "pdf", "QUEUED", nil, nil, "", time.Now(), nil)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1 ORDER BY created_at ASC")).
		WithArgs(models.ExportStatusQueued, 20).
		WillReturnRows(rows)

	jobs, err := repo.ListQueued(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExportJobRepositoryListFinishedBefore(t *testing.T) {
	db, mock, cleanup := newExportJobRepoMock(t)
	defer cleanup()
	repo := NewExportJobRepository(db)

	cutoff := time.Now().Add(-24 * time.Hour)
	rows := sqlmock.NewRows([]string{"id", "student_id", "session_id", "format", "status", "result_url", "error_message", "requested_by", "created_at", "finished_at"}).
		AddRow("j1", "s1", "sess-2026", "csv", "FINISHED", "url", nil, "", time.Now().Add(-48*time.Hour), time.Now().Add(-30*time.Hour))
	mock.ExpectQuery(regexp.QuoteMeta("finished_at IS NOT NULL AND finished_at < $2")).
		WithArgs(models.ExportStatusFinished, cutoff, 50).
		WillReturnRows(rows)

	jobs, err := repo.ListFinishedBefore(context.Background(), cutoff, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "j1", jobs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
