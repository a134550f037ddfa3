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

// FeeStructureRepository handles persistence of annual fee structures.
type FeeStructureRepository struct {
	db *sqlx.DB
}

// NewFeeStructureRepository constructs the repository.
func NewFeeStructureRepository(db *sqlx.DB) *FeeStructureRepository {
	return &FeeStructureRepository{db: db}
}

const feeStructureColumns = `id, class_id, session_id, tuition, development, transport, misc, annual_total, created_at`

// FindByClassAndSession returns the structure for a (class, session) pair.
func (r *FeeStructureRepository) FindByClassAndSession(ctx context.Context, classID, sessionID string) (*models.FeeStructure, error) {
	query := fmt.Sprintf(`SELECT %s FROM fee_structures WHERE class_id = $1 AND session_id = $2`, feeStructureColumns)
	var structure models.FeeStructure
	if err := r.db.GetContext(ctx, &structure, query, classID, sessionID); err != nil {
		return nil, err
	}
	return &structure, nil
}

// Exists checks whether a structure is already registered for the pair.
func (r *FeeStructureRepository) Exists(ctx context.Context, classID, sessionID string) (bool, error) {
	const query = `SELECT COUNT(*) FROM fee_structures WHERE class_id = $1 AND session_id = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, classID, sessionID); err != nil {
		return false, fmt.Errorf("check fee structure: %w", err)
	}
	return count > 0, nil
}

// Create persists a new fee structure. Structures are immutable afterwards.
func (r *FeeStructureRepository) Create(ctx context.Context, structure *models.FeeStructure) error {
	if structure.ID == "" {
		structure.ID = uuid.NewString()
	}
	if structure.CreatedAt.IsZero() {
		structure.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO fee_structures (id, class_id, session_id, tuition, development, transport, misc, annual_total, created_at)
        VALUES (:id, :class_id, :session_id, :tuition, :development, :transport, :misc, :annual_total, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, structure); err != nil {
		return fmt.Errorf("create fee structure: %w", err)
	}
	return nil
}

// List returns fee structures matching the filter.
func (r *FeeStructureRepository) List(ctx context.Context, filter models.FeeStructureFilter) ([]models.FeeStructure, int, error) {
	var conditions []string
	var args []interface{}

	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.SessionID != "" {
		conditions = append(conditions, fmt.Sprintf("session_id = $%d", len(args)+1))
		args = append(args, filter.SessionID)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM fee_structures%s ORDER BY session_id DESC, class_id ASC LIMIT %d OFFSET %d`,
		feeStructureColumns, clause, size, offset)

	var structures []models.FeeStructure
	if err := r.db.SelectContext(ctx, &structures, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list fee structures: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM fee_structures" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count fee structures: %w", err)
	}
	return structures, total, nil
}
