package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/studyhub-api/internal/models"
	appErrors "github.com/noah-isme/studyhub-api/pkg/errors"
	"github.com/noah-isme/studyhub-api/pkg/jobs"
	"github.com/noah-isme/studyhub-api/pkg/storage"
)

// ExportJobType labels transcript jobs on the queue.
const ExportJobType = "transcript_export"

type exportStore interface {
	Create(ctx context.Context, job *models.TranscriptExport) error
	GetByID(ctx context.Context, id string) (*models.TranscriptExport, error)
	Update(ctx context.Context, id string, params models.ExportUpdate) error
	ListQueued(ctx context.Context, limit int) ([]models.TranscriptExport, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.TranscriptExport, error)
	Delete(ctx context.Context, id string) error
}

type objectStorage interface {
	Save(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	CleanupOlderThan(ctx context.Context, ttl time.Duration) ([]string, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type exportMetrics interface {
	ExportCompleted(status models.ExportStatus)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
}

// ExportDownload is an opened transcript ready to stream.
type ExportDownload struct {
	Body        io.ReadCloser
	Filename    string
	ContentType string
	ExpiresAt   time.Time
}

// ExportDeps groups the collaborators of ExportService.
type ExportDeps struct {
	Conversations conversationFinder
	Members       memberFinder
	Exports       exportStore
	Storage       objectStorage
	Signer        *storage.SignedURLSigner
	Queue         jobDispatcher
	Metrics       exportMetrics
}

// ExportService manages the lifecycle of transcript export jobs.
type ExportService struct {
	deps      ExportDeps
	access    conversationAccess
	cfg       ExportConfig
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewExportService constructs the export service. A nil queue disables exports.
func NewExportService(deps ExportDeps, cfg ExportConfig, validate *validator.Validate, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api"
	}
	return &ExportService{
		deps:      deps,
		access:    conversationAccess{conversations: deps.Conversations, members: deps.Members},
		cfg:       cfg,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// Request persists an export job and queues it. Private conversations may
// only be exported by members.
func (s *ExportService) Request(ctx context.Context, conversationID, actorID string, req models.CreateExportRequest) (*models.TranscriptExport, error) {
	req.Format = models.ExportFormat(strings.ToLower(string(req.Format)))
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid export payload")
	}
	if s.deps.Queue == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "transcript exports are disabled")
	}
	if _, _, err := s.access.readable(ctx, conversationID, actorID); err != nil {
		return nil, err
	}

	job := &models.TranscriptExport{
		ConversationID: conversationID,
		Format:         req.Format,
		Status:         models.ExportStatusQueued,
		RequestedBy:    actorID,
	}
	if err := s.deps.Exports.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}
	if err := s.deps.Queue.Enqueue(jobs.Job{ID: job.ID, Type: ExportJobType}); err != nil {
		failed := models.ExportStatusFailed
		msg := "failed to enqueue job"
		now := s.now().UTC()
		_ = s.deps.Exports.Update(ctx, job.ID, models.ExportUpdate{Status: &failed, ErrorMessage: &msg, FinishedAt: &now})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}
	return job, nil
}

// Status returns the job for its requester, with a fresh download link once
// the transcript is ready.
func (s *ExportService) Status(ctx context.Context, id, actorID string) (*models.TranscriptExport, error) {
	job, err := s.deps.Exports.GetByID(ctx, id)
	if err != nil {
		return nil, repoError(err, "export not found", "failed to load export job")
	}
	if job.RequestedBy != actorID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export not found")
	}
	if job.Status == models.ExportStatusFinished && job.StorageKey != nil && s.deps.Signer != nil {
		token, expiresAt, err := s.deps.Signer.Generate(job.ID, *job.StorageKey)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
		}
		job.DownloadURL = fmt.Sprintf("%s/exports/download/%s", strings.TrimRight(s.cfg.APIPrefix, "/"), token)
		job.URLExpiresAt = &expiresAt
	}
	return job, nil
}

// ResolveDownload validates a signed token and opens the stored transcript.
func (s *ExportService) ResolveDownload(ctx context.Context, token string) (*ExportDownload, error) {
	if s.deps.Signer == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "transcript exports are disabled")
	}
	claims, err := s.deps.Signer.Parse(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrGone, "download link has expired")
		}
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download token")
	}
	job, err := s.deps.Exports.GetByID(ctx, claims.ResourceID)
	if err != nil {
		return nil, repoError(err, "export not found", "failed to load export job")
	}
	if job.Status != models.ExportStatusFinished || job.StorageKey == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "export is not ready")
	}
	if *job.StorageKey != claims.Key {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}

	body, err := s.deps.Storage.Open(ctx, claims.Key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, appErrors.Clone(appErrors.ErrGone, "export file no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ExportDownload{
		Body:        body,
		Filename:    path.Base(claims.Key),
		ContentType: storage.ContentType(string(job.Format)),
		ExpiresAt:   claims.ExpiresAt,
	}, nil
}

// RecoverPendingJobs requeues jobs left queued by a previous process.
func (s *ExportService) RecoverPendingJobs(ctx context.Context) {
	if s.deps.Queue == nil {
		return
	}
	pending, err := s.deps.Exports.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Warn("failed to recover queued export jobs", zap.Error(err))
		return
	}
	for _, job := range pending {
		if err := s.deps.Queue.Enqueue(jobs.Job{ID: job.ID, Type: ExportJobType}); err != nil {
			s.logger.Warn("failed to requeue pending export", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if len(pending) > 0 {
		s.logger.Info("requeued pending exports", zap.Int("count", len(pending)))
	}
}

// Cleanup removes transcripts older than the signed URL lifetime together
// with their job rows, then sweeps orphaned files.
func (s *ExportService) Cleanup(ctx context.Context) error {
	ttl := 24 * time.Hour
	if s.deps.Signer != nil {
		ttl = s.deps.Signer.TTL()
	}
	cutoff := s.now().Add(-ttl)
	removed := 0
	for {
		batch, err := s.deps.Exports.ListFinishedBefore(ctx, cutoff, 100)
		if err != nil {
			return fmt.Errorf("list expired exports: %w", err)
		}
		for _, job := range batch {
			if job.StorageKey != nil {
				if err := s.deps.Storage.Delete(ctx, *job.StorageKey); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
					s.logger.Warn("cleanup delete failed", zap.String("job_id", job.ID), zap.Error(err))
					continue
				}
			}
			if err := s.deps.Exports.Delete(ctx, job.ID); err != nil {
				return fmt.Errorf("delete export %s: %w", job.ID, err)
			}
			removed++
		}
		if len(batch) < 100 {
			break
		}
	}
	orphans, err := s.deps.Storage.CleanupOlderThan(ctx, ttl)
	if err != nil {
		return fmt.Errorf("sweep export storage: %w", err)
	}
	s.logger.Info("export cleanup finished", zap.Int("jobs", removed), zap.Int("files", len(orphans)))
	return nil
}
