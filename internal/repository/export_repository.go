package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/studyhub-api/internal/models"
)

const exportColumns = `id, conversation_id, format, status, storage_key, message_count, error_message, requested_by, created_at, finished_at`

// ExportRepository persists transcript export jobs.
type ExportRepository struct {
	db *sqlx.DB
}

// NewExportRepository constructs the repository.
func NewExportRepository(db *sqlx.DB) *ExportRepository {
	return &ExportRepository{db: db}
}

// Create inserts a new export row with generated defaults.
func (r *ExportRepository) Create(ctx context.Context, job *models.TranscriptExport) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.ExportStatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO transcript_exports (id, conversation_id, format, status, storage_key, message_count, error_message, requested_by, created_at, finished_at)
VALUES (:id, :conversation_id, :format, :status, :storage_key, :message_count, :error_message, :requested_by, :created_at, :finished_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create transcript export: %w", err)
	}
	return nil
}

// GetByID returns an export row by its identifier.
func (r *ExportRepository) GetByID(ctx context.Context, id string) (*models.TranscriptExport, error) {
	query := `SELECT ` + exportColumns + ` FROM transcript_exports WHERE id = $1`
	var job models.TranscriptExport
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get transcript export: %w", err)
	}
	return &job, nil
}

// Update persists the provided changes for an export row.
func (r *ExportRepository) Update(ctx context.Context, id string, params models.ExportUpdate) error {
	set := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)

	if params.Status != nil {
		args = append(args, *params.Status)
		set = append(set, fmt.Sprintf("status = $%d", len(args)))
	}
	if params.StorageKey != nil {
		args = append(args, *params.StorageKey)
		set = append(set, fmt.Sprintf("storage_key = $%d", len(args)))
	}
	if params.MessageCount != nil {
		args = append(args, *params.MessageCount)
		set = append(set, fmt.Sprintf("message_count = $%d", len(args)))
	}
	if params.ErrorMessage != nil {
		args = append(args, *params.ErrorMessage)
		set = append(set, fmt.Sprintf("error_message = $%d", len(args)))
	}
	if params.FinishedAt != nil {
		args = append(args, *params.FinishedAt)
		set = append(set, fmt.Sprintf("finished_at = $%d", len(args)))
	}
	if len(set) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE transcript_exports SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update transcript export: %w", err)
	}
	return nil
}

// ListQueued fetches queued jobs for cold start recovery.
func (r *ExportRepository) ListQueued(ctx context.Context, limit int) ([]models.TranscriptExport, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + exportColumns + ` FROM transcript_exports WHERE status = 'QUEUED' ORDER BY created_at ASC LIMIT $1`
	var jobs []models.TranscriptExport
	if err := r.db.SelectContext(ctx, &jobs, query, limit); err != nil {
		return nil, fmt.Errorf("list queued transcript exports: %w", err)
	}
	return jobs, nil
}

// ListFinishedBefore retrieves completed jobs prior to cutoff for cleanup.
func (r *ExportRepository) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.TranscriptExport, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + exportColumns + ` FROM transcript_exports
WHERE status = 'FINISHED' AND finished_at IS NOT NULL AND finished_at < $1 ORDER BY finished_at ASC LIMIT $2`
	var jobs []models.TranscriptExport
	if err := r.db.SelectContext(ctx, &jobs, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list finished transcript exports: %w", err)
	}
	return jobs, nil
}

// Delete removes an export row after its artifact is gone.
func (r *ExportRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM transcript_exports WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete transcript export: %w", err)
	}
	return nil
}
