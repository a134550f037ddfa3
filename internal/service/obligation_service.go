package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-api/internal/models"
	"github.com/noah-isme/sma-fee-api/internal/repository"
	"github.com/noah-isme/sma-fee-api/pkg/config"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
)

type obligationLedger interface {
	ListByStudentAndSession(ctx context.Context, studentID, sessionID string) ([]models.MonthlyObligation, error)
	ExistsForStudentSession(ctx context.Context, exec sqlx.ExtContext, studentID, sessionID string) (bool, error)
	BulkCreate(ctx context.Context, exec sqlx.ExtContext, obligations []models.MonthlyObligation) error
	SupersedeOpen(ctx context.Context, exec sqlx.ExtContext, studentID, sessionID string) error
}

type structureResolver interface {
	Resolve(ctx context.Context, classID, sessionID string) (*models.FeeStructure, error)
}

type waiverDetector interface {
	Detect(ctx context.Context, studentID string) (*models.SiblingInfo, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type sessionReader interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
}

type txRunner interface {
	RunInTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

// GenerateObligationsRequest seeds a student's monthly ledger at enrollment.
// EnrollmentMonth is academic-relative (1 = first month of the session);
// mid-year admissions start later and get a prorated liability.
type GenerateObligationsRequest struct {
	SessionID       string `json:"session_id" validate:"required"`
	EnrollmentMonth int    `json:"enrollment_month" validate:"min=0"`
}

// ObligationService expands annual fee structures into monthly ledger lines.
type ObligationService struct {
	ledger    obligationLedger
	resolver  structureResolver
	siblings  waiverDetector
	students  studentReader
	sessions  sessionReader
	tx        txRunner
	fees      config.FeesConfig
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewObligationService constructs ObligationService.
func NewObligationService(ledger obligationLedger, resolver structureResolver, siblings waiverDetector, students studentReader, sessions sessionReader, tx txRunner, fees config.FeesConfig, validate *validator.Validate, logger *zap.Logger) *ObligationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObligationService{ledger: ledger, resolver: resolver, siblings: siblings, students: students, sessions: sessions, tx: tx, fees: fees, validator: validate, logger: logger, now: time.Now}
}

// Generate creates one ledger line per month from the enrollment month to
// the session's final month. Re-invocation for an already-seeded
// (student, session) pair is a no-op returning the existing rows; callers
// needing a rebuild must Recalculate, which supersedes first.
func (s *ObligationService) Generate(ctx context.Context, studentID string, req GenerateObligationsRequest) ([]models.MonthlyObligation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid obligation payload")
	}

	student, session, err := s.loadStudentAndSession(ctx, studentID, req.SessionID)
	if err != nil {
		return nil, err
	}

	enrollmentMonth := req.EnrollmentMonth
	if enrollmentMonth == 0 {
		enrollmentMonth = 1
	}
	if enrollmentMonth < 1 || enrollmentMonth > s.sessionMonths(session) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment month outside session")
	}

	lines, err := s.buildLines(ctx, student, session, student.ClassID, enrollmentMonth)
	if err != nil {
		return nil, err
	}

	var existing []models.MonthlyObligation
	err = s.tx.RunInTx(ctx, func(tx *sqlx.Tx) error {
		if err := repository.LockStudentLedger(ctx, tx, studentID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to serialize ledger writers")
		}
		exists, err := s.ledger.ExistsForStudentSession(ctx, tx, studentID, session.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing obligations")
		}
		if exists {
			existing, err = s.ledger.ListByStudentAndSession(ctx, studentID, session.ID)
			if err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load existing obligations")
			}
			return nil
		}
		if err := s.ledger.BulkCreate(ctx, tx, lines); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create obligations")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.Info("obligation generation skipped, ledger already seeded",
			zap.String("student_id", studentID),
			zap.String("session_id", session.ID))
		return existing, nil
	}

	s.logger.Info("obligations generated",
		zap.String("student_id", studentID),
		zap.String("session_id", session.ID),
		zap.Int("months", len(lines)),
		zap.Int("enrollment_month", enrollmentMonth))
	return lines, nil
}

// Recalculate supersedes the pair's open ledger and regenerates it with
// freshly resolved structure and waiver. Payments already allocated per
// month carry over onto the regenerated lines, capped at the new net. The
// only sanctioned path for policy edits to reach existing obligations; every
// run is logged for audit.
func (s *ObligationService) Recalculate(ctx context.Context, studentID, sessionID string) ([]models.MonthlyObligation, error) {
	student, session, err := s.loadStudentAndSession(ctx, studentID, sessionID)
	if err != nil {
		return nil, err
	}

	current, err := s.ledger.ListByStudentAndSession(ctx, studentID, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load obligations")
	}
	open := filterOpen(current)
	if len(open) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no open obligations to recalculate")
	}
	enrollmentMonth := open[0].Month
	paidByMonth := make(map[int]decimal.Decimal, len(open))
	for _, obligation := range open {
		if obligation.Month < enrollmentMonth {
			enrollmentMonth = obligation.Month
		}
		paidByMonth[obligation.Month] = obligation.PaidAmount
	}

	lines, err := s.buildLines(ctx, student, session, student.ClassID, enrollmentMonth)
	if err != nil {
		return nil, err
	}
	asOf := s.now().UTC()
	for i := range lines {
		paid, ok := paidByMonth[lines[i].Month]
		if !ok || !paid.IsPositive() {
			continue
		}
		if paid.GreaterThan(lines[i].NetAmount) {
			paid = lines[i].NetAmount
		}
		lines[i].PaidAmount = paid
		lines[i].Status = DeriveStatus(lines[i].NetAmount, paid, lines[i].DueDate, asOf)
	}

	err = s.tx.RunInTx(ctx, func(tx *sqlx.Tx) error {
		if err := repository.LockStudentLedger(ctx, tx, studentID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to serialize ledger writers")
		}
		if err := s.ledger.SupersedeOpen(ctx, tx, studentID, sessionID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to supersede obligations")
		}
		if err := s.ledger.BulkCreate(ctx, tx, lines); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to regenerate obligations")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Warn("obligations recalculated",
		zap.String("student_id", studentID),
		zap.String("session_id", sessionID),
		zap.Int("superseded", len(open)),
		zap.Int("regenerated", len(lines)))
	return lines, nil
}

// GenerateForRollover seeds the new session's ledger inside the caller's
// transaction, starting at month 1. The caller holds the ledger lock.
func (s *ObligationService) GenerateForRollover(ctx context.Context, tx *sqlx.Tx, student *models.Student, session *models.Session, classID string) ([]models.MonthlyObligation, error) {
	exists, err := s.ledger.ExistsForStudentSession(ctx, tx, student.ID, session.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing obligations")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "ledger already seeded for target session")
	}
	lines, err := s.buildLines(ctx, student, session, classID, 1)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.BulkCreate(ctx, tx, lines); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create obligations")
	}
	return lines, nil
}

func (s *ObligationService) loadStudentAndSession(ctx context.Context, studentID, sessionID string) (*models.Student, *models.Session, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student inactive")
	}
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return student, session, nil
}

func (s *ObligationService) buildLines(ctx context.Context, student *models.Student, session *models.Session, classID string, enrollmentMonth int) ([]models.MonthlyObligation, error) {
	structure, err := s.resolver.Resolve(ctx, classID, session.ID)
	if err != nil {
		return nil, err
	}
	info, err := s.siblings.Detect(ctx, student.ID)
	if err != nil {
		return nil, err
	}
	return buildObligations(structure, session, student.ID, enrollmentMonth, s.sessionMonths(session), info.WaiverPercent, s.fees.DueDay, s.now().UTC()), nil
}

func (s *ObligationService) sessionMonths(session *models.Session) int {
	if session.Months > 0 {
		return session.Months
	}
	if s.fees.SessionMonths > 0 {
		return s.fees.SessionMonths
	}
	return 12
}

// buildObligations expands a fee structure into ledger lines. Net amounts
// use banker's rounding to 2 places; the rounding residual against the
// prorated annual liability is absorbed into the final month so the ledger
// never drifts from the annual total by more than one rounding unit.
func buildObligations(structure *models.FeeStructure, session *models.Session, studentID string, enrollmentMonth, sessionMonths int, waiverPercent decimal.Decimal, dueDay int, asOf time.Time) []models.MonthlyObligation {
	monthlyBase := structure.MonthlyBase(sessionMonths)
	waiverFactor := decimal.NewFromInt(1).Sub(waiverPercent.Div(decimal.NewFromInt(100)))
	monthlyNet := monthlyBase.Mul(waiverFactor).RoundBank(2)

	monthCount := sessionMonths - enrollmentMonth + 1
	expectedTotal := monthlyBase.Mul(waiverFactor).Mul(decimal.NewFromInt(int64(monthCount))).RoundBank(2)

	lines := make([]models.MonthlyObligation, 0, monthCount)
	rollingTotal := decimal.Zero
	for month := enrollmentMonth; month <= sessionMonths; month++ {
		net := monthlyNet
		if month == sessionMonths {
			net = expectedTotal.Sub(rollingTotal)
		}
		rollingTotal = rollingTotal.Add(net)
		dueDate := session.DueDateFor(month, dueDay)
		lines = append(lines, models.MonthlyObligation{
			StudentID:     studentID,
			SessionID:     session.ID,
			Month:         month,
			DueDate:       dueDate,
			BaseAmount:    monthlyBase.RoundBank(2),
			WaiverPercent: waiverPercent,
			NetAmount:     net,
			PaidAmount:    decimal.Zero,
			Status:        DeriveStatus(net, decimal.Zero, dueDate, asOf),
		})
	}
	return lines
}

func filterOpen(obligations []models.MonthlyObligation) []models.MonthlyObligation {
	open := make([]models.MonthlyObligation, 0, len(obligations))
	for _, obligation := range obligations {
		if !obligation.Closed && !obligation.Superseded {
			open = append(open, obligation)
		}
	}
	return open
}
