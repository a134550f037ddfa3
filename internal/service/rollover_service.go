package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-api/internal/models"
	"github.com/noah-isme/sma-fee-api/internal/repository"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
)

type rolloverLedger interface {
	SumOutstanding(ctx context.Context, exec sqlx.ExtContext, studentID, sessionID string) (decimal.Decimal, error)
	CloseSession(ctx context.Context, exec sqlx.ExtContext, studentID, sessionID string) error
}

type rolloverStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, record *models.RolloverRecord) error
	HasPending(ctx context.Context, studentID, fromSessionID string) (bool, error)
}

type rolloverGenerator interface {
	GenerateForRollover(ctx context.Context, tx *sqlx.Tx, student *models.Student, session *models.Session, classID string) ([]models.MonthlyObligation, error)
}

// RolloverRequest moves a promoted or retained student into a new session.
type RolloverRequest struct {
	FromSessionID string `json:"from_session_id" validate:"required"`
	ToSessionID   string `json:"to_session_id" validate:"required"`
	NewClassID    string `json:"new_class_id" validate:"required"`
}

// RolloverService closes a student's prior session ledger and seeds the next
// one, carrying the unresolved balance as a separate liability.
type RolloverService struct {
	ledger    rolloverLedger
	records   rolloverStore
	generator rolloverGenerator
	resolver  structureResolver
	students  studentReader
	sessions  sessionReader
	tx        txRunner
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRolloverService constructs RolloverService.
func NewRolloverService(ledger rolloverLedger, records rolloverStore, generator rolloverGenerator, resolver structureResolver, students studentReader, sessions sessionReader, tx txRunner, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *RolloverService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RolloverService{ledger: ledger, records: records, generator: generator, resolver: resolver, students: students, sessions: sessions, tx: tx, metrics: metrics, validator: validate, logger: logger}
}

// Rollover runs the session transition as one atomic unit: snapshot the
// unresolved balance, seed the target session from month 1, close the prior
// ledger, and record the carried-forward balance. A missing target fee
// structure aborts the whole unit; the student is left flagged as rollover
// pending and nothing else changes.
func (s *RolloverService) Rollover(ctx context.Context, studentID string, req RolloverRequest) (*models.RolloverResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rollover payload")
	}
	if req.FromSessionID == req.ToSessionID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "target session equals source session")
	}

	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	toSession, err := s.sessions.FindByID(ctx, req.ToSessionID)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "target session not found")
	}

	// The fatal precondition is checked up front so an abort can be recorded
	// without touching the ledger.
	if _, err := s.resolver.Resolve(ctx, req.NewClassID, req.ToSessionID); err != nil {
		return nil, s.abort(ctx, studentID, req, err)
	}

	var result *models.RolloverResult
	err = s.tx.RunInTx(ctx, func(tx *sqlx.Tx) error {
		if err := repository.LockStudentLedger(ctx, tx, studentID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to serialize ledger writers")
		}

		balance, err := s.ledger.SumOutstanding(ctx, tx, studentID, req.FromSessionID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to snapshot unresolved balance")
		}

		obligations, err := s.generator.GenerateForRollover(ctx, tx, student, toSession, req.NewClassID)
		if err != nil {
			return err
		}

		if err := s.ledger.CloseSession(ctx, tx, studentID, req.FromSessionID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close prior session")
		}

		record := &models.RolloverRecord{
			StudentID:             studentID,
			FromSessionID:         req.FromSessionID,
			ToSessionID:           req.ToSessionID,
			NewClassID:            req.NewClassID,
			CarriedForwardBalance: balance,
			Status:                models.RolloverStatusCompleted,
		}
		if err := s.records.Create(ctx, tx, record); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record rollover")
		}

		result = &models.RolloverResult{Record: *record, NewObligations: obligations}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordRollover(true)
	}
	s.logger.Info("session rollover completed",
		zap.String("student_id", studentID),
		zap.String("from_session_id", req.FromSessionID),
		zap.String("to_session_id", req.ToSessionID),
		zap.String("carried_forward", result.Record.CarriedForwardBalance.String()))
	return result, nil
}

// abort records the pending state outside the aborted unit of work so the
// student surfaces in manual-resolution queues.
func (s *RolloverService) abort(ctx context.Context, studentID string, req RolloverRequest, cause error) error {
	pending, err := s.records.HasPending(ctx, studentID, req.FromSessionID)
	if err != nil {
		s.logger.Error("failed to check pending rollover", zap.String("student_id", studentID), zap.Error(err))
	}
	if !pending {
		record := &models.RolloverRecord{
			StudentID:             studentID,
			FromSessionID:         req.FromSessionID,
			ToSessionID:           req.ToSessionID,
			NewClassID:            req.NewClassID,
			CarriedForwardBalance: decimal.Zero,
			Status:                models.RolloverStatusPending,
		}
		if err := s.records.Create(ctx, nil, record); err != nil {
			s.logger.Error("failed to record pending rollover", zap.String("student_id", studentID), zap.Error(err))
		}
	}
	if s.metrics != nil {
		s.metrics.RecordRollover(false)
	}
	s.logger.Warn("session rollover aborted",
		zap.String("student_id", studentID),
		zap.String("to_session_id", req.ToSessionID),
		zap.String("new_class_id", req.NewClassID),
		zap.Error(cause))
	return appErrors.Wrap(cause, appErrors.ErrRolloverAborted.Code, appErrors.ErrRolloverAborted.Status, "rollover aborted: fee structure missing for target class and session")
}
