package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-fee-api/internal/models"
)

// ObligationRepository handles the monthly obligation ledger. Mutating
// methods take an ExtContext so services can scope them to one transaction.
type ObligationRepository struct {
	db *sqlx.DB
}

// NewObligationRepository constructs the repository.
func NewObligationRepository(db *sqlx.DB) *ObligationRepository {
	return &ObligationRepository{db: db}
}

func (r *ObligationRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

const obligationColumns = `id, student_id, session_id, month, due_date, base_amount, waiver_percent, net_amount, paid_amount, status, closed, superseded, created_at, updated_at`

// ListByStudentAndSession returns every live ledger line for the pair, month
// asc. Closed (archived) rows are included; superseded rows are not, their
// regeneration stands in for them.
func (r *ObligationRepository) ListByStudentAndSession(ctx context.Context, studentID, sessionID string) ([]models.MonthlyObligation, error) {
	query := fmt.Sprintf(`SELECT %s FROM monthly_obligations WHERE student_id = $1 AND session_id = $2 AND superseded = false ORDER BY month ASC`, obligationColumns)
	var obligations []models.MonthlyObligation
	if err := r.db.SelectContext(ctx, &obligations, query, studentID, sessionID); err != nil {
		return nil, fmt.Errorf("list obligations: %w", err)
	}
	return obligations, nil
}

// ListOpenForStudent returns non-closed obligations that still carry an
// outstanding balance, in allocation order: oldest due date first, then
// lowest month as the stable tie-break.
func (r *ObligationRepository) ListOpenForStudent(ctx context.Context, exec sqlx.ExtContext, studentID string) ([]models.MonthlyObligation, error) {
	query := fmt.Sprintf(`SELECT %s FROM monthly_obligations
        WHERE student_id = $1 AND closed = false AND superseded = false AND paid_amount < net_amount
        ORDER BY due_date ASC, month ASC`, obligationColumns)
	var obligations []models.MonthlyObligation
	if err := sqlx.SelectContext(ctx, r.exec(exec), &obligations, query, studentID); err != nil {
		return nil, fmt.Errorf("list open obligations: %w", err)
	}
	return obligations, nil
}

// ExistsForStudentSession reports whether any live ledger line exists for
// the pair. Generation uses it as the regeneration guard.
func (r *ObligationRepository) ExistsForStudentSession(ctx context.Context, exec sqlx.ExtContext, studentID, sessionID string) (bool, error) {
	const query = `SELECT COUNT(*) FROM monthly_obligations WHERE student_id = $1 AND session_id = $2 AND superseded = false`
	var count int
	if err := sqlx.GetContext(ctx, r.exec(exec), &count, query, studentID, sessionID); err != nil {
		return false, fmt.Errorf("check obligations: %w", err)
	}
	return count > 0, nil
}

// BulkCreate inserts generated ledger lines in one statement.
func (r *ObligationRepository) BulkCreate(ctx context.Context, exec sqlx.ExtContext, obligations []models.MonthlyObligation) error {
	if len(obligations) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range obligations {
		if obligations[i].ID == "" {
			obligations[i].ID = uuid.NewString()
		}
		if obligations[i].CreatedAt.IsZero() {
			obligations[i].CreatedAt = now
		}
		obligations[i].UpdatedAt = obligations[i].CreatedAt
	}
	const query = `INSERT INTO monthly_obligations (id, student_id, session_id, month, due_date, base_amount, waiver_percent, net_amount, paid_amount, status, closed, superseded, created_at, updated_at)
        VALUES (:id, :student_id, :session_id, :month, :due_date, :base_amount, :waiver_percent, :net_amount, :paid_amount, :status, :closed, :superseded, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, obligations); err != nil {
		return fmt.Errorf("bulk create obligations: %w", err)
	}
	return nil
}

// ApplyAllocation advances the cumulative paid amount and refreshed status
// for one ledger line.
func (r *ObligationRepository) ApplyAllocation(ctx context.Context, exec sqlx.ExtContext, id string, paidAmount decimal.Decimal, status models.ObligationStatus) error {
	const query = `UPDATE monthly_obligations SET paid_amount = $2, status = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, id, paidAmount, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("apply allocation: %w", err)
	}
	return nil
}

// CloseSession archives every ledger line of the pair; closed rows are
// read-only to the allocator from then on.
func (r *ObligationRepository) CloseSession(ctx context.Context, exec sqlx.ExtContext, studentID, sessionID string) error {
	const query = `UPDATE monthly_obligations SET closed = true, updated_at = $3 WHERE student_id = $1 AND session_id = $2`
	if _, err := r.exec(exec).ExecContext(ctx, query, studentID, sessionID, time.Now().UTC()); err != nil {
		return fmt.Errorf("close session obligations: %w", err)
	}
	return nil
}

// SupersedeOpen retires the pair's live rows ahead of a regeneration.
// Rows already closed or superseded keep their state.
func (r *ObligationRepository) SupersedeOpen(ctx context.Context, exec sqlx.ExtContext, studentID, sessionID string) error {
	const query = `UPDATE monthly_obligations SET superseded = true, updated_at = $3
        WHERE student_id = $1 AND session_id = $2 AND closed = false AND superseded = false`
	if _, err := r.exec(exec).ExecContext(ctx, query, studentID, sessionID, time.Now().UTC()); err != nil {
		return fmt.Errorf("supersede obligations: %w", err)
	}
	return nil
}

// SumOutstanding returns the unresolved balance across the pair's open
// ledger. Closed rows were snapshotted by their own rollover and superseded
// rows live on in their regeneration; counting either would double the debt.
func (r *ObligationRepository) SumOutstanding(ctx context.Context, exec sqlx.ExtContext, studentID, sessionID string) (decimal.Decimal, error) {
	const query = `SELECT COALESCE(SUM(net_amount - paid_amount), 0) FROM monthly_obligations
        WHERE student_id = $1 AND session_id = $2 AND closed = false AND superseded = false AND paid_amount < net_amount`
	var sum decimal.Decimal
	if err := sqlx.GetContext(ctx, r.exec(exec), &sum, query, studentID, sessionID); err != nil {
		return decimal.Zero, fmt.Errorf("sum outstanding: %w", err)
	}
	return sum, nil
}
