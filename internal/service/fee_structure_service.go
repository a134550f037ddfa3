package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-api/internal/models"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
)

type feeStructureRepository interface {
	FindByClassAndSession(ctx context.Context, classID, sessionID string) (*models.FeeStructure, error)
	Exists(ctx context.Context, classID, sessionID string) (bool, error)
	Create(ctx context.Context, structure *models.FeeStructure) error
	List(ctx context.Context, filter models.FeeStructureFilter) ([]models.FeeStructure, int, error)
}

// CreateFeeStructureRequest describes the annual fee registration payload.
// Component amounts arrive as decimal strings or numbers.
type CreateFeeStructureRequest struct {
	ClassID     string          `json:"class_id" validate:"required"`
	SessionID   string          `json:"session_id" validate:"required"`
	Tuition     decimal.Decimal `json:"tuition"`
	Development decimal.Decimal `json:"development"`
	Transport   decimal.Decimal `json:"transport"`
	Misc        decimal.Decimal `json:"misc"`
}

// FeeStructureService resolves and registers annual fee structures. A
// structure is immutable once created; a new session gets a new row.
type FeeStructureService struct {
	repo      feeStructureRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewFeeStructureService constructs FeeStructureService.
func NewFeeStructureService(repo feeStructureRepository, validate *validator.Validate, logger *zap.Logger) *FeeStructureService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeeStructureService{repo: repo, validator: validate, logger: logger}
}

// Resolve returns the fee structure for a (class, session) pair. A missing
// structure is fatal to obligation generation and surfaces as NotFound;
// there is no silent default.
func (s *FeeStructureService) Resolve(ctx context.Context, classID, sessionID string) (*models.FeeStructure, error) {
	structure, err := s.repo.FindByClassAndSession(ctx, classID, sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "fee structure not found for class and session")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve fee structure")
	}
	return structure, nil
}

// Create registers a new annual fee structure.
func (s *FeeStructureService) Create(ctx context.Context, req CreateFeeStructureRequest) (*models.FeeStructure, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid fee structure payload")
	}
	for _, amount := range []decimal.Decimal{req.Tuition, req.Development, req.Transport, req.Misc} {
		if amount.IsNegative() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "fee components must not be negative")
		}
	}
	total := req.Tuition.Add(req.Development).Add(req.Transport).Add(req.Misc)
	if !total.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "annual total must be positive")
	}

	exists, err := s.repo.Exists(ctx, req.ClassID, req.SessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate fee structure")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "fee structure already registered for class and session")
	}

	structure := &models.FeeStructure{
		ClassID:     req.ClassID,
		SessionID:   req.SessionID,
		Tuition:     req.Tuition.RoundBank(2),
		Development: req.Development.RoundBank(2),
		Transport:   req.Transport.RoundBank(2),
		Misc:        req.Misc.RoundBank(2),
		AnnualTotal: total.RoundBank(2),
	}
	if err := s.repo.Create(ctx, structure); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create fee structure")
	}
	s.logger.Info("fee structure registered",
		zap.String("class_id", structure.ClassID),
		zap.String("session_id", structure.SessionID),
		zap.String("annual_total", structure.AnnualTotal.String()))
	return structure, nil
}

// List returns fee structures with pagination metadata.
func (s *FeeStructureService) List(ctx context.Context, filter models.FeeStructureFilter) ([]models.FeeStructure, *models.Pagination, error) {
	structures, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list fee structures")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return structures, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}
