package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-api/internal/models"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
	"github.com/noah-isme/sma-fee-api/pkg/export"
)

type statusLedger interface {
	ListByStudentAndSession(ctx context.Context, studentID, sessionID string) ([]models.MonthlyObligation, error)
}

type rolloverReader interface {
	FindCompletedInto(ctx context.Context, studentID, toSessionID string) (*models.RolloverRecord, error)
}

// StatusService derives per-month and aggregate fee statuses for display.
// Reads are pure over committed ledger state and never take the writer lock.
type StatusService struct {
	ledger    statusLedger
	rollovers rolloverReader
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	logger    *zap.Logger
}

// NewStatusService constructs StatusService.
func NewStatusService(ledger statusLedger, rollovers rolloverReader, logger *zap.Logger) *StatusService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusService{ledger: ledger, rollovers: rollovers, csv: export.NewCSVExporter(), pdf: export.NewPDFExporter(), logger: logger}
}

// MonthlyStatus returns the live session ledger with freshly derived
// statuses. Open lines are re-derived against asOf; closed (archived) lines
// keep the status they were sealed with. Superseded lines never surface,
// the ledger read returns only their regeneration, so each month appears
// exactly once.
func (s *StatusService) MonthlyStatus(ctx context.Context, studentID, sessionID string, asOf time.Time) (*models.StudentFeeStatus, error) {
	obligations, err := s.ledger.ListByStudentAndSession(ctx, studentID, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load obligations")
	}
	if len(obligations) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no obligations for student and session")
	}

	status := &models.StudentFeeStatus{
		StudentID:             studentID,
		SessionID:             sessionID,
		TotalNet:              decimal.Zero,
		TotalPaid:             decimal.Zero,
		UnresolvedBalance:     decimal.Zero,
		CarriedForwardBalance: decimal.Zero,
	}

	statuses := make([]models.ObligationStatus, 0, len(obligations))
	for _, obligation := range obligations {
		lineStatus := obligation.Status
		if !obligation.Closed {
			lineStatus = DeriveStatus(obligation.NetAmount, obligation.PaidAmount, obligation.DueDate, asOf)
			status.UnresolvedBalance = status.UnresolvedBalance.Add(obligation.Outstanding())
		}
		statuses = append(statuses, lineStatus)
		status.TotalNet = status.TotalNet.Add(obligation.NetAmount)
		status.TotalPaid = status.TotalPaid.Add(obligation.PaidAmount)
		status.Months = append(status.Months, models.MonthlyStatusLine{
			Month:       obligation.Month,
			DueDate:     obligation.DueDate,
			NetAmount:   obligation.NetAmount,
			PaidAmount:  obligation.PaidAmount,
			Outstanding: obligation.Outstanding(),
			Status:      lineStatus,
		})
	}
	status.Aggregate = AggregateStatuses(statuses)

	if s.rollovers != nil {
		record, err := s.rollovers.FindCompletedInto(ctx, studentID, sessionID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rollover record")
		}
		if record != nil {
			status.CarriedForwardBalance = record.CarriedForwardBalance
		}
	}
	return status, nil
}

// Statement renders the session ledger as CSV or PDF for the caller.
func (s *StatusService) Statement(ctx context.Context, studentID, sessionID, format string, asOf time.Time) ([]byte, string, error) {
	status, err := s.MonthlyStatus(ctx, studentID, sessionID, asOf)
	if err != nil {
		return nil, "", err
	}

	dataset := export.Dataset{
		Headers: []string{"Month", "Due Date", "Net Amount", "Paid", "Outstanding", "Status"},
		Summary: fmt.Sprintf("Aggregate: %s | Unresolved: %s | Carried forward: %s",
			status.Aggregate, status.UnresolvedBalance.StringFixed(2), status.CarriedForwardBalance.StringFixed(2)),
	}
	for _, line := range status.Months {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Month":       fmt.Sprintf("%d", line.Month),
			"Due Date":    line.DueDate.Format("2006-01-02"),
			"Net Amount":  line.NetAmount.StringFixed(2),
			"Paid":        line.PaidAmount.StringFixed(2),
			"Outstanding": line.Outstanding.StringFixed(2),
			"Status":      string(line.Status),
		})
	}

	title := fmt.Sprintf("Fee statement %s / %s", studentID, sessionID)
	switch format {
	case "pdf":
		payload, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render statement")
		}
		return payload, fmt.Sprintf("statement-%s-%s.pdf", studentID, sessionID), nil
	case "", "csv":
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render statement")
		}
		return payload, fmt.Sprintf("statement-%s-%s.csv", studentID, sessionID), nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "unsupported statement format")
	}
}
