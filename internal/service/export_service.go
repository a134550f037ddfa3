package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-api/internal/models"
	"github.com/noah-isme/sma-fee-api/internal/repository"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
	"github.com/noah-isme/sma-fee-api/pkg/jobs"
	"github.com/noah-isme/sma-fee-api/pkg/storage"
)

type exportJobStore interface {
	Create(ctx context.Context, job *models.StatementExportJob) error
	FindByID(ctx context.Context, id string) (*models.StatementExportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.StatementExportJob, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.StatementExportJob, error)
}

type exportDispatcher interface {
	Submit(job jobs.Job) error
}

type statementRenderer interface {
	Statement(ctx context.Context, studentID, sessionID, format string, asOf time.Time) ([]byte, string, error)
}

type statementStore interface {
	Write(name string, data []byte) (string, error)
	Open(name string) (*os.File, error)
	Remove(name string) error
	Sweep(ttl time.Duration) ([]string, error)
}

// StatementExportRequest asks for a statement to be rendered in the
// background. Format defaults to CSV.
type StatementExportRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Format    string `json:"format" validate:"omitempty,oneof=csv pdf"`
}

// StatementExportConfig tunes download links and file retention.
type StatementExportConfig struct {
	DownloadPrefix  string
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	MaxAttempts     int
}

// StatementDownload is a resolved, ready-to-stream export file.
type StatementDownload struct {
	File      *os.File
	Filename  string
	Format    models.StatementFormat
	ExpiresAt time.Time
}

// StatementExportService owns the statement export job lifecycle: accepting
// requests, exposing progress, resolving signed downloads, and purging
// expired files. Rendering itself happens on the queue workers.
type StatementExportService struct {
	store     exportJobStore
	queue     exportDispatcher
	files     statementStore
	signer    *storage.TokenSigner
	students  studentReader
	validator *validator.Validate
	logger    *zap.Logger
	cfg       StatementExportConfig
}

// NewStatementExportService constructs the service.
func NewStatementExportService(store exportJobStore, queue exportDispatcher, files statementStore, signer *storage.TokenSigner, students studentReader, validate *validator.Validate, logger *zap.Logger, cfg StatementExportConfig) *StatementExportService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &StatementExportService{store: store, queue: queue, files: files, signer: signer, students: students, validator: validate, logger: logger, cfg: cfg}
}

// Request persists a queued job and hands it to the worker pool. When the
// pool rejects the job the row is flagged failed immediately so the client
// never polls a job nothing will pick up.
func (s *StatementExportService) Request(ctx context.Context, studentID string, req StatementExportRequest, requestedBy string) (*models.StatementExportJob, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export payload")
	}
	format, err := models.ParseStatementFormat(req.Format)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported statement format")
	}
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}

	job := &models.StatementExportJob{
		StudentID:   studentID,
		SessionID:   req.SessionID,
		Format:      format,
		Status:      models.ExportStatusQueued,
		RequestedBy: requestedBy,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}
	if err := s.queue.Submit(jobs.Job{ID: job.ID, Kind: "statement-export"}); err != nil {
		failed := models.ExportStatusFailed
		msg := "failed to queue export"
		now := time.Now().UTC()
		_ = s.store.Update(ctx, job.ID, repository.UpdateExportJobParams{
			Status:       &failed,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue export job")
	}
	return job, nil
}

// Status returns job progress for polling clients.
func (s *StatementExportService) Status(ctx context.Context, jobID string) (*models.StatementExportJob, error) {
	job, err := s.store.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	return job, nil
}

// ResolveDownload verifies a signed token and opens the rendered file. The
// token must match the link stored on the finished job, so revoked or
// superseded links stop working even before they expire.
func (s *StatementExportService) ResolveDownload(ctx context.Context, jobID, token string) (*StatementDownload, error) {
	tokenJobID, name, expiresAt, err := s.signer.Verify(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	if tokenJobID != jobID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "download token mismatch")
	}
	job, err := s.store.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if job.Status != models.ExportStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "statement not ready")
	}
	if job.ResultURL == nil || !strings.HasSuffix(*job.ResultURL, token) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "download token mismatch")
	}
	file, err := s.files.Open(name)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open statement file")
	}
	return &StatementDownload{
		File:      file,
		Filename:  filepath.Base(name),
		Format:    job.Format,
		ExpiresAt: expiresAt,
	}, nil
}

// RecoverQueued re-submits jobs left queued by a previous process, e.g.
// after a restart mid-backlog.
func (s *StatementExportService) RecoverQueued(ctx context.Context) {
	pending, err := s.store.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Sugar().Warnw("failed to list queued export jobs", "error", err)
		return
	}
	for _, job := range pending {
		if err := s.queue.Submit(jobs.Job{ID: job.ID, Kind: "statement-export"}); err != nil {
			s.logger.Sugar().Warnw("failed to resubmit export job", "job_id", job.ID, "error", err)
		}
	}
}

// StartCleanup launches a background loop that removes expired statement
// files. No-op when the interval is unset.
func (s *StatementExportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.purgeExpired(ctx)
			}
		}
	}()
}

func (s *StatementExportService) purgeExpired(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.ResultTTL)
	expired, err := s.store.ListFinishedBefore(ctx, cutoff, 100)
	if err != nil {
		s.logger.Sugar().Warnw("export cleanup listing failed", "error", err)
		return
	}
	for _, job := range expired {
		if job.ResultURL == nil {
			continue
		}
		_, token, found := strings.Cut(*job.ResultURL, "token=")
		if !found {
			continue
		}
		_, name, _, err := s.signer.Verify(token, true)
		if err != nil {
			continue
		}
		if err := s.files.Remove(name); err != nil {
			s.logger.Sugar().Warnw("export cleanup delete failed", "job_id", job.ID, "error", err)
		}
	}
	if _, err := s.files.Sweep(s.cfg.ResultTTL); err != nil {
		s.logger.Sugar().Warnw("export directory sweep failed", "error", err)
	}
}

// StatementExportWorker renders queued statements. It is the queue handler:
// one invocation per job attempt.
type StatementExportWorker struct {
	store       exportJobStore
	renderer    statementRenderer
	files       statementStore
	signer      *storage.TokenSigner
	prefix      string
	maxAttempts int
	logger      *zap.Logger
}

// NewStatementExportWorker constructs a worker.
func NewStatementExportWorker(store exportJobStore, renderer statementRenderer, files statementStore, signer *storage.TokenSigner, downloadPrefix string, maxAttempts int, logger *zap.Logger) *StatementExportWorker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatementExportWorker{
		store:       store,
		renderer:    renderer,
		files:       files,
		signer:      signer,
		prefix:      downloadPrefix,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Handle renders one statement and seals the job row with the outcome.
func (w *StatementExportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.store.FindByID(ctx, job.ID)
	if err != nil {
		return err
	}
	processing := models.ExportStatusProcessing
	if err := w.store.Update(ctx, job.ID, repository.UpdateExportJobParams{Status: &processing}); err != nil {
		return err
	}

	payload, filename, err := w.renderer.Statement(ctx, record.StudentID, record.SessionID, string(record.Format), time.Now().UTC())
	if err != nil {
		w.seal(ctx, job, err)
		return err
	}
	name, err := w.files.Write(path.Join(record.ID, filename), payload)
	if err != nil {
		w.seal(ctx, job, err)
		return err
	}
	token, _, err := w.signer.Sign(record.ID, name)
	if err != nil {
		w.seal(ctx, job, err)
		return err
	}

	finished := models.ExportStatusFinished
	url := fmt.Sprintf("%s/fees/exports/%s/download?token=%s", strings.TrimRight(w.prefix, "/"), record.ID, token)
	clear := ""
	now := time.Now().UTC()
	if err := w.store.Update(ctx, job.ID, repository.UpdateExportJobParams{
		Status:       &finished,
		ResultURL:    &url,
		ErrorMessage: &clear,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Sugar().Warnw("failed to mark export finished", "job_id", job.ID, "error", err)
		return err
	}
	return nil
}

// seal records a failed attempt: final attempts flip the row to FAILED,
// earlier ones park it back in QUEUED for the retry.
func (w *StatementExportWorker) seal(ctx context.Context, job jobs.Job, cause error) {
	msg := cause.Error()
	if job.Attempt >= w.maxAttempts-1 {
		failed := models.ExportStatusFailed
		now := time.Now().UTC()
		if err := w.store.Update(ctx, job.ID, repository.UpdateExportJobParams{
			Status:       &failed,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		}); err != nil {
			w.logger.Sugar().Warnw("failed to mark export failed", "job_id", job.ID, "error", err)
		}
		return
	}
	queued := models.ExportStatusQueued
	if err := w.store.Update(ctx, job.ID, repository.UpdateExportJobParams{
		Status:       &queued,
		ErrorMessage: &msg,
	}); err != nil {
		w.logger.Sugar().Warnw("failed to requeue export", "job_id", job.ID, "error", err)
	}
}
