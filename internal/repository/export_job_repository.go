package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-fee-api/internal/models"
)

// ExportJobRepository persists statement export job metadata. Exports run
// outside any ledger transaction, so every method uses the pool directly.
type ExportJobRepository struct {
	db *sqlx.DB
}

// NewExportJobRepository constructs the repository.
func NewExportJobRepository(db *sqlx.DB) *ExportJobRepository {
	return &ExportJobRepository{db: db}
}

const exportJobColumns = `id, student_id, session_id, format, status, result_url, error_message, requested_by, created_at, finished_at`

// Create inserts a job row, generating the ID and defaults when unset.
func (r *ExportJobRepository) Create(ctx context.Context, job *models.StatementExportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.ExportStatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO statement_export_jobs (id, student_id, session_id, format, status, result_url, error_message, requested_by, created_at, finished_at)
        VALUES (:id, :student_id, :session_id, :format, :status, :result_url, :error_message, :requested_by, :created_at, :finished_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create export job: %w", err)
	}
	return nil
}

// FindByID returns a single job row.
func (r *ExportJobRepository) FindByID(ctx context.Context, id string) (*models.StatementExportJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM statement_export_jobs WHERE id = $1`, exportJobColumns)
	var job models.StatementExportJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, fmt.Errorf("find export job: %w", err)
	}
	return &job, nil
}

// UpdateExportJobParams lists the mutable job fields; nil members are left
// untouched.
type UpdateExportJobParams struct {
	Status       *models.ExportStatus
	ResultURL    *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

// Update applies the provided changes to a job row.
func (r *ExportJobRepository) Update(ctx context.Context, id string, params UpdateExportJobParams) error {
	set := make([]string, 0, 4)
	args := make([]interface{}, 0, 5)
	pos := 1

	if params.Status != nil {
		set = append(set, fmt.Sprintf("status = $%d", pos))
		args = append(args, *params.Status)
		pos++
	}
	if params.ResultURL != nil {
		set = append(set, fmt.Sprintf("result_url = $%d", pos))
		args = append(args, *params.ResultURL)
		pos++
	}
	if params.ErrorMessage != nil {
		set = append(set, fmt.Sprintf("error_message = $%d", pos))
		args = append(args, *params.ErrorMessage)
		pos++
	}
	if params.FinishedAt != nil {
		set = append(set, fmt.Sprintf("finished_at = $%d", pos))
		args = append(args, *params.FinishedAt)
		pos++
	}
	if len(set) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE statement_export_jobs SET %s WHERE id = $%d", strings.Join(set, ", "), pos)
	args = append(args, id)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update export job: %w", err)
	}
	return nil
}

// ListQueued fetches jobs still waiting for a worker, oldest first. Used to
// replay the backlog after a restart.
func (r *ExportJobRepository) ListQueued(ctx context.Context, limit int) ([]models.StatementExportJob, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM statement_export_jobs
        WHERE status = $1 ORDER BY created_at ASC LIMIT $2`, exportJobColumns)
	var jobs []models.StatementExportJob
	if err := r.db.SelectContext(ctx, &jobs, query, models.ExportStatusQueued, limit); err != nil {
		return nil, fmt.Errorf("list queued export jobs: %w", err)
	}
	return jobs, nil
}

// ListFinishedBefore returns finished jobs older than the cutoff so expired
// files can be purged.
func (r *ExportJobRepository) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.StatementExportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM statement_export_jobs
        WHERE status = $1 AND finished_at IS NOT NULL AND finished_at < $2
        ORDER BY finished_at ASC LIMIT $3`, exportJobColumns)
	var jobs []models.StatementExportJob
	if err := r.db.SelectContext(ctx, &jobs, query, models.ExportStatusFinished, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list finished export jobs: %w", err)
	}
	return jobs, nil
}
