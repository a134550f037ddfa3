package models

import (
	"fmt"
	"time"
)

// StatementFormat enumerates renderable statement outputs.
type StatementFormat string

const (
	StatementFormatCSV StatementFormat = "csv"
	StatementFormatPDF StatementFormat = "pdf"
)

// ParseStatementFormat validates a raw format string. An empty value maps
// to CSV, which is the default across the statement endpoints.
func ParseStatementFormat(raw string) (StatementFormat, error) {
	switch StatementFormat(raw) {
	case StatementFormatCSV, StatementFormatPDF:
		return StatementFormat(raw), nil
	case "":
		return StatementFormatCSV, nil
	}
	return "", fmt.Errorf("unknown statement format %q", raw)
}

// ExportStatus tracks the lifecycle of an asynchronous statement export.
type ExportStatus string

const (
	ExportStatusQueued     ExportStatus = "QUEUED"
	ExportStatusProcessing ExportStatus = "PROCESSING"
	ExportStatusFinished   ExportStatus = "FINISHED"
	ExportStatusFailed     ExportStatus = "FAILED"
)

// StatementExportJob is the persisted record of one statement export
// request. ResultURL carries the signed download link once the render
// finishes; ErrorMessage is set on the final failed attempt.
type StatementExportJob struct {
	ID           string          `db:"id" json:"id"`
	StudentID    string          `db:"student_id" json:"student_id"`
	SessionID    string          `db:"session_id" json:"session_id"`
	Format       StatementFormat `db:"format" json:"format"`
	Status       ExportStatus    `db:"status" json:"status"`
	ResultURL    *string         `db:"result_url" json:"result_url,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	RequestedBy  string          `db:"requested_by" json:"requested_by"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	FinishedAt   *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
}
