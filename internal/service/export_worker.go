package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/studyhub-api/internal/models"
	"github.com/noah-isme/studyhub-api/pkg/export"
	"github.com/noah-isme/studyhub-api/pkg/jobs"
	"github.com/noah-isme/studyhub-api/pkg/storage"
)

type transcriptSource interface {
	ListForExport(ctx context.Context, conversationID string) ([]models.MessageView, error)
}

// ExportWorkerDeps groups the collaborators of ExportWorker.
type ExportWorkerDeps struct {
	Conversations conversationFinder
	Messages      transcriptSource
	Exports       exportStore
	Storage       objectStorage
	Renderers     map[models.ExportFormat]export.Renderer
	Metrics       exportMetrics
}

// ExportWorker renders queued transcripts and stores them.
type ExportWorker struct {
	deps       ExportWorkerDeps
	maxRetries int
	logger     *zap.Logger
	now        func() time.Time
}

// NewExportWorker constructs a worker. maxRetries must match the queue's.
func NewExportWorker(deps ExportWorkerDeps, maxRetries int, logger *zap.Logger) *ExportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if deps.Renderers == nil {
		deps.Renderers = map[models.ExportFormat]export.Renderer{
			models.ExportFormatCSV: export.NewCSVExporter(),
			models.ExportFormatPDF: export.NewPDFExporter(),
		}
	}
	return &ExportWorker{deps: deps, maxRetries: maxRetries, logger: logger, now: time.Now}
}

// Handle processes one queued job. Failed attempts go back to QUEUED until
// the queue gives up and calls Fail.
func (w *ExportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.deps.Exports.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	if record.Status == models.ExportStatusFinished {
		return nil
	}
	processing := models.ExportStatusProcessing
	if err := w.deps.Exports.Update(ctx, job.ID, models.ExportUpdate{Status: &processing}); err != nil {
		return err
	}

	key, count, err := w.generate(ctx, record)
	if err != nil {
		msg := err.Error()
		if job.Attempt < w.maxRetries {
			queued := models.ExportStatusQueued
			if updateErr := w.deps.Exports.Update(ctx, job.ID, models.ExportUpdate{Status: &queued, ErrorMessage: &msg}); updateErr != nil {
				w.logger.Warn("failed to mark export queued", zap.String("job_id", job.ID), zap.Error(updateErr))
			}
		}
		return err
	}

	finished := models.ExportStatusFinished
	now := w.now().UTC()
	clear := ""
	if err := w.deps.Exports.Update(ctx, job.ID, models.ExportUpdate{
		Status:       &finished,
		StorageKey:   &key,
		MessageCount: &count,
		ErrorMessage: &clear,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Warn("failed to mark export finished", zap.String("job_id", job.ID), zap.Error(err))
		return err
	}
	if w.deps.Metrics != nil {
		w.deps.Metrics.ExportCompleted(models.ExportStatusFinished)
	}
	w.logger.Info("transcript exported", zap.String("job_id", job.ID), zap.Int("messages", count))
	return nil
}

// Fail marks a job FAILED after its retries are exhausted. It matches
// jobs.FailureHook.
func (w *ExportWorker) Fail(ctx context.Context, job jobs.Job, cause error) {
	failed := models.ExportStatusFailed
	msg := cause.Error()
	now := w.now().UTC()
	if err := w.deps.Exports.Update(context.WithoutCancel(ctx), job.ID, models.ExportUpdate{Status: &failed, ErrorMessage: &msg, FinishedAt: &now}); err != nil {
		w.logger.Warn("failed to mark export failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	if w.deps.Metrics != nil {
		w.deps.Metrics.ExportCompleted(models.ExportStatusFailed)
	}
}

func (w *ExportWorker) generate(ctx context.Context, record *models.TranscriptExport) (string, int, error) {
	renderer, ok := w.deps.Renderers[record.Format]
	if !ok {
		return "", 0, fmt.Errorf("unsupported format %s", record.Format)
	}
	conv, err := w.deps.Conversations.FindByID(ctx, record.ConversationID)
	if err != nil {
		return "", 0, fmt.Errorf("load conversation: %w", err)
	}
	messages, err := w.deps.Messages.ListForExport(ctx, record.ConversationID)
	if err != nil {
		return "", 0, fmt.Errorf("load messages: %w", err)
	}

	transcript := export.Transcript{Title: conv.Name, GeneratedAt: w.now().UTC(), Lines: make([]export.TranscriptLine, 0, len(messages))}
	for _, m := range messages {
		line := export.TranscriptLine{
			MessageID: m.ID,
			SentAt:    m.CreatedAt,
			Content:   m.Content,
			System:    m.IsSystem(),
			Edited:    m.IsEdited,
			Pinned:    m.IsPinned,
		}
		if m.SenderName != nil {
			line.Sender = *m.SenderName
		}
		if m.ParentID != nil {
			line.ReplyTo = *m.ParentID
		}
		transcript.Lines = append(transcript.Lines, line)
	}

	payload, err := renderer.Render(transcript)
	if err != nil {
		return "", 0, fmt.Errorf("render transcript: %w", err)
	}
	key := fmt.Sprintf("%s/%s.%s", record.ConversationID, record.ID, renderer.Extension())
	saved, err := w.deps.Storage.Save(ctx, key, payload, storage.ContentType(renderer.Extension()))
	if err != nil {
		return "", 0, fmt.Errorf("store transcript: %w", err)
	}
	return saved, len(messages), nil
}
