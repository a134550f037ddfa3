package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-fee-api/internal/models"
)

// RolloverRepository handles session transition records.
type RolloverRepository struct {
	db *sqlx.DB
}

// NewRolloverRepository constructs the repository.
func NewRolloverRepository(db *sqlx.DB) *RolloverRepository {
	return &RolloverRepository{db: db}
}

func (r *RolloverRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

const rolloverColumns = `id, student_id, from_session_id, to_session_id, new_class_id, carried_forward_balance, status, created_at`

// Create persists a rollover record (completed or pending).
func (r *RolloverRepository) Create(ctx context.Context, exec sqlx.ExtContext, record *models.RolloverRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO rollover_records (id, student_id, from_session_id, to_session_id, new_class_id, carried_forward_balance, status, created_at)
        VALUES (:id, :student_id, :from_session_id, :to_session_id, :new_class_id, :carried_forward_balance, :status, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, record); err != nil {
		return fmt.Errorf("create rollover record: %w", err)
	}
	return nil
}

// FindCompletedInto returns the completed rollover that seeded the student's
// given session, if any. Nil without error when the student entered the
// session without a rollover.
func (r *RolloverRepository) FindCompletedInto(ctx context.Context, studentID, toSessionID string) (*models.RolloverRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM rollover_records
        WHERE student_id = $1 AND to_session_id = $2 AND status = $3
        ORDER BY created_at DESC LIMIT 1`, rolloverColumns)
	var record models.RolloverRecord
	if err := r.db.GetContext(ctx, &record, query, studentID, toSessionID, models.RolloverStatusCompleted); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find rollover record: %w", err)
	}
	return &record, nil
}

// HasPending reports whether the student has an unresolved rollover out of
// the given session.
func (r *RolloverRepository) HasPending(ctx context.Context, studentID, fromSessionID string) (bool, error) {
	const query = `SELECT COUNT(*) FROM rollover_records
        WHERE student_id = $1 AND from_session_id = $2 AND status = $3`
	var count int
	if err := r.db.GetContext(ctx, &count, query, studentID, fromSessionID, models.RolloverStatusPending); err != nil {
		return false, fmt.Errorf("check pending rollover: %w", err)
	}
	return count > 0, nil
}
