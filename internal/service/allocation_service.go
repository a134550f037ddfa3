package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-api/internal/models"
	"github.com/noah-isme/sma-fee-api/internal/repository"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
)

type paymentLedger interface {
	FindEventByID(ctx context.Context, id string) (*models.PaymentEvent, error)
	FindEventByReference(ctx context.Context, reference string) (*models.PaymentEvent, error)
	CreateEvent(ctx context.Context, exec sqlx.ExtContext, event *models.PaymentEvent) error
	CreateAllocations(ctx context.Context, exec sqlx.ExtContext, allocations []models.PaymentAllocation) error
	ListAllocationsByEvent(ctx context.Context, eventID string) ([]models.PaymentAllocation, error)
}

type allocatableLedger interface {
	ListOpenForStudent(ctx context.Context, exec sqlx.ExtContext, studentID string) ([]models.MonthlyObligation, error)
	ApplyAllocation(ctx context.Context, exec sqlx.ExtContext, id string, paidAmount decimal.Decimal, status models.ObligationStatus) error
}

// AllocatePaymentRequest is the collection layer's input: a pre-validated
// payment in the ledger currency. EventID lets retrying callers reuse their
// idempotency key; Reference is the external receipt number.
type AllocatePaymentRequest struct {
	EventID    string          `json:"event_id" validate:"omitempty,uuid"`
	StudentID  string          `json:"student_id" validate:"required"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method" validate:"required"`
	Reference  *string         `json:"reference"`
	ReceivedAt *time.Time      `json:"received_at"`
}

// AllocationService consumes payment events and spreads them across open
// monthly obligations, oldest due date first.
type AllocationService struct {
	payments  paymentLedger
	ledger    allocatableLedger
	students  studentReader
	tx        txRunner
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAllocationService constructs AllocationService.
func NewAllocationService(payments paymentLedger, ledger allocatableLedger, students studentReader, tx txRunner, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *AllocationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllocationService{payments: payments, ledger: ledger, students: students, tx: tx, metrics: metrics, validator: validate, logger: logger}
}

// Allocate records a payment event and allocates it across the student's
// open obligations in due-date order with the month number as stable
// tie-break. Any amount left after all obligations are satisfied is returned
// as a credit remainder for the caller to refund or hold as advance credit;
// the allocator never fabricates obligations for it. Replaying a processed
// event returns the stored outcome instead of double-crediting.
func (s *AllocationService) Allocate(ctx context.Context, req AllocatePaymentRequest) (*models.AllocationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if !req.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "payment amount must be positive")
	}
	method, err := models.ParsePaymentMethod(req.Method)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unknown payment method")
	}

	// Fast path: a processed event replays without opening a transaction.
	if replay, err := s.findProcessed(ctx, req); err != nil {
		return nil, err
	} else if replay != nil {
		s.logReplay(replay)
		return replay, nil
	}

	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	receivedAt := time.Now().UTC()
	if req.ReceivedAt != nil {
		receivedAt = req.ReceivedAt.UTC()
	}
	event := &models.PaymentEvent{
		ID:         req.EventID,
		StudentID:  req.StudentID,
		Amount:     req.Amount.RoundBank(2),
		ReceivedAt: receivedAt,
		Method:     method,
		Reference:  req.Reference,
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	var result *models.AllocationResult
	err = s.tx.RunInTx(ctx, func(tx *sqlx.Tx) error {
		if err := repository.LockStudentLedger(ctx, tx, req.StudentID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to serialize ledger writers")
		}

		// A concurrent submission of the same event may have committed
		// between the fast-path check and lock acquisition; re-check under
		// the lock so the second writer replays instead of double-crediting.
		replay, err := s.findProcessed(ctx, req)
		if err != nil {
			return err
		}
		if replay != nil {
			result = replay
			return nil
		}

		open, err := s.ledger.ListOpenForStudent(ctx, tx, req.StudentID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load open obligations")
		}

		allocations, updates, remaining := spreadPayment(event, open)
		event.CreditRemainder = remaining

		if err := s.payments.CreateEvent(ctx, tx, event); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment event")
		}
		if err := s.payments.CreateAllocations(ctx, tx, allocations); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record allocations")
		}
		for _, update := range updates {
			if update.PaidAmount.GreaterThan(update.NetAmount) {
				return appErrors.Clone(appErrors.ErrInvariant, "allocation exceeds obligation net amount")
			}
			if err := s.ledger.ApplyAllocation(ctx, tx, update.ID, update.PaidAmount, update.Status); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update obligation")
			}
		}

		result = &models.AllocationResult{Payment: *event, Allocations: allocations, CreditRemainder: remaining}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Replayed {
		s.logReplay(result)
		return result, nil
	}

	if s.metrics != nil {
		s.metrics.RecordAllocation(result.Payment.Amount, result.CreditRemainder)
	}
	fields := []zap.Field{
		zap.String("event_id", result.Payment.ID),
		zap.String("student_id", result.Payment.StudentID),
		zap.String("amount", result.Payment.Amount.String()),
		zap.Int("allocations", len(result.Allocations)),
	}
	if result.CreditRemainder.IsPositive() {
		fields = append(fields, zap.String("credit_remainder", result.CreditRemainder.String()))
		s.logger.Warn("payment left credit remainder", fields...)
	} else {
		s.logger.Info("payment allocated", fields...)
	}
	return result, nil
}

func (s *AllocationService) logReplay(result *models.AllocationResult) {
	s.logger.Info("payment event replayed",
		zap.String("event_id", result.Payment.ID),
		zap.String("student_id", result.Payment.StudentID))
}

// Result reconstructs the stored outcome for a processed payment event.
func (s *AllocationService) Result(ctx context.Context, eventID string) (*models.AllocationResult, error) {
	event, err := s.payments.FindEventByID(ctx, eventID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment event")
	}
	allocations, err := s.payments.ListAllocationsByEvent(ctx, eventID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load allocations")
	}
	return &models.AllocationResult{Payment: *event, Allocations: allocations, CreditRemainder: event.CreditRemainder, Replayed: true}, nil
}

func (s *AllocationService) findProcessed(ctx context.Context, req AllocatePaymentRequest) (*models.AllocationResult, error) {
	if req.EventID != "" {
		event, err := s.payments.FindEventByID(ctx, req.EventID)
		if err != nil && err != sql.ErrNoRows {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check payment event")
		}
		if event != nil {
			if event.StudentID != req.StudentID {
				return nil, appErrors.Clone(appErrors.ErrDuplicatePayment, "event id already used for another student")
			}
			return s.Result(ctx, event.ID)
		}
	}
	if req.Reference != nil && *req.Reference != "" {
		event, err := s.payments.FindEventByReference(ctx, *req.Reference)
		if err != nil && err != sql.ErrNoRows {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check payment reference")
		}
		if event != nil {
			if event.StudentID != req.StudentID {
				return nil, appErrors.Clone(appErrors.ErrDuplicatePayment, "reference already used for another student")
			}
			return s.Result(ctx, event.ID)
		}
	}
	return nil, nil
}

// obligationUpdate carries the post-allocation amounts for one ledger line.
type obligationUpdate struct {
	ID         string
	NetAmount  decimal.Decimal
	PaidAmount decimal.Decimal
	Status     models.ObligationStatus
}

// spreadPayment walks open obligations in their allocation order, assigning
// min(remaining, outstanding) to each until the payment is consumed. The
// returned remainder is whatever no obligation could absorb.
func spreadPayment(event *models.PaymentEvent, open []models.MonthlyObligation) ([]models.PaymentAllocation, []obligationUpdate, decimal.Decimal) {
	remaining := event.Amount
	asOf := event.ReceivedAt
	var allocations []models.PaymentAllocation
	var updates []obligationUpdate

	for _, obligation := range open {
		if !remaining.IsPositive() {
			break
		}
		outstanding := obligation.Outstanding()
		if !outstanding.IsPositive() {
			continue
		}
		slice := decimal.Min(remaining, outstanding)
		remaining = remaining.Sub(slice)
		newPaid := obligation.PaidAmount.Add(slice)
		allocations = append(allocations, models.PaymentAllocation{
			PaymentEventID: event.ID,
			ObligationID:   obligation.ID,
			Amount:         slice,
		})
		updates = append(updates, obligationUpdate{
			ID:         obligation.ID,
			NetAmount:  obligation.NetAmount,
			PaidAmount: newPaid,
			Status:     DeriveStatus(obligation.NetAmount, newPaid, obligation.DueDate, asOf),
		})
	}
	return allocations, updates, remaining
}
