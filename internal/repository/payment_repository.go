package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-fee-api/internal/models"
)

// PaymentRepository handles payment events and their allocations.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

const paymentEventColumns = `id, student_id, amount, received_at, method, reference, credit_remainder, created_at`

// FindEventByID returns a payment event by its identifier.
func (r *PaymentRepository) FindEventByID(ctx context.Context, id string) (*models.PaymentEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM payment_events WHERE id = $1`, paymentEventColumns)
	var event models.PaymentEvent
	if err := r.db.GetContext(ctx, &event, query, id); err != nil {
		return nil, err
	}
	return &event, nil
}

// FindEventByReference returns a payment event by its external reference.
// The reference doubles as the collection layer's idempotency key.
func (r *PaymentRepository) FindEventByReference(ctx context.Context, reference string) (*models.PaymentEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM payment_events WHERE reference = $1`, paymentEventColumns)
	var event models.PaymentEvent
	if err := r.db.GetContext(ctx, &event, query, reference); err != nil {
		return nil, err
	}
	return &event, nil
}

// CreateEvent persists an immutable payment event including its computed
// credit remainder.
func (r *PaymentRepository) CreateEvent(ctx context.Context, exec sqlx.ExtContext, event *models.PaymentEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO payment_events (id, student_id, amount, received_at, method, reference, credit_remainder, created_at)
        VALUES (:id, :student_id, :amount, :received_at, :method, :reference, :credit_remainder, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, event); err != nil {
		return fmt.Errorf("create payment event: %w", err)
	}
	return nil
}

// CreateAllocations persists the allocation rows for one payment event.
func (r *PaymentRepository) CreateAllocations(ctx context.Context, exec sqlx.ExtContext, allocations []models.PaymentAllocation) error {
	if len(allocations) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range allocations {
		if allocations[i].ID == "" {
			allocations[i].ID = uuid.NewString()
		}
		if allocations[i].CreatedAt.IsZero() {
			allocations[i].CreatedAt = now
		}
	}
	const query = `INSERT INTO payment_allocations (id, payment_event_id, obligation_id, amount, created_at)
        VALUES (:id, :payment_event_id, :obligation_id, :amount, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, allocations); err != nil {
		return fmt.Errorf("create allocations: %w", err)
	}
	return nil
}

// ListAllocationsByEvent returns stored allocations for an event, in
// insertion order.
func (r *PaymentRepository) ListAllocationsByEvent(ctx context.Context, eventID string) ([]models.PaymentAllocation, error) {
	const query = `SELECT id, payment_event_id, obligation_id, amount, created_at
        FROM payment_allocations WHERE payment_event_id = $1 ORDER BY created_at ASC, id ASC`
	var allocations []models.PaymentAllocation
	if err := r.db.SelectContext(ctx, &allocations, query, eventID); err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	return allocations, nil
}
