package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/studyhub-api/internal/models"
)

const reportColumns = `id, target_type, target_id, reporter_id, reason, description, status, decision, reviewer_id,
reviewed_at, review_note, created_at, created_by, updated_at, updated_by, is_deleted, deleted_at, deleted_by, row_version`

// ReportRepository persists content reports and their resolution.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs the repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts a pending report. A reporter may hold only one pending
// report per target.
func (r *ReportRepository) Create(ctx context.Context, report *models.Report) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	report.Status = models.ReportStatusPending
	report.CreatedAt, report.UpdatedAt, report.RowVersion = now, now, 1
	report.CreatedBy, report.UpdatedBy = &report.ReporterID, &report.ReporterID

	const query = `INSERT INTO reports (id, target_type, target_id, reporter_id, reason, description, status,
created_at, created_by, updated_at, updated_by)
VALUES (:id, :target_type, :target_id, :reporter_id, :reason, :description, :status,
:created_at, :created_by, :updated_at, :updated_by)`
	if _, err := r.db.NamedExecContext(ctx, query, report); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

// FindByID returns a report row by its identifier.
func (r *ReportRepository) FindByID(ctx context.Context, id string) (*models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE id = $1 AND is_deleted = FALSE`
	var report models.Report
	if err := r.db.GetContext(ctx, &report, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	return &report, nil
}

// List returns the moderation queue, oldest first.
func (r *ReportRepository) List(ctx context.Context, filter models.ReportFilter) ([]models.Report, int, error) {
	var args []interface{}
	conditions := []string{"is_deleted = FALSE"}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.TargetType != nil {
		args = append(args, *filter.TargetType)
		conditions = append(conditions, fmt.Sprintf("target_type = $%d", len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")
	_, size, offset := normalizePage(filter.Page, filter.PageSize, 100)

	query := fmt.Sprintf("SELECT %s FROM reports%s ORDER BY created_at ASC LIMIT %d OFFSET %d", reportColumns, where, size, offset)
	var reports []models.Report
	if err := r.db.SelectContext(ctx, &reports, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM reports"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}
	return reports, total, nil
}

// TargetAuthor resolves the user responsible for the reported content.
func (r *ReportRepository) TargetAuthor(ctx context.Context, targetType models.ReportTargetType, targetID string) (string, error) {
	return targetAuthor(ctx, r.db, targetType, targetID)
}

// Resolve records the decision on a pending report. An upheld report costs
// the author trust and, for messages, removes the message, all in one
// transaction. Resolving twice yields ErrInvalidState.
func (r *ReportRepository) Resolve(ctx context.Context, review models.ReportReview) (out *models.ReportOutcome, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin resolve report: %w", err)
	}
	defer rollback(tx, &err)

	var current models.Report
	if err = tx.GetContext(ctx, &current, `SELECT `+reportColumns+` FROM reports WHERE id = $1 AND is_deleted = FALSE FOR UPDATE`, review.ReportID); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("lock report: %w", err)
		}
		return nil, err
	}
	if current.Status != models.ReportStatusPending {
		err = ErrInvalidState
		return nil, err
	}

	now := time.Now().UTC()
	var updated models.Report
	updateQuery := `UPDATE reports SET status = 'RESOLVED', decision = $2, reviewer_id = $3, reviewed_at = $4, review_note = $5,
updated_at = $4, updated_by = $3, row_version = row_version + 1 WHERE id = $1 RETURNING ` + reportColumns
	if err = tx.GetContext(ctx, &updated, updateQuery, current.ID, review.Decision, review.ReviewerID, now, review.Note); err != nil {
		return nil, fmt.Errorf("resolve report: %w", err)
	}
	out = &models.ReportOutcome{Report: &updated}

	if review.Decision != models.ReportDecisionUpheld {
		if err = tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit resolve report: %w", err)
		}
		return out, nil
	}

	if out.AuthorID, err = targetAuthor(ctx, tx, current.TargetType, current.TargetID); err != nil {
		return nil, err
	}
	refType := "REPORT"
	if out.Trust, err = applyTrust(ctx, tx, models.TrustAdjustment{
		UserID:        out.AuthorID,
		Delta:         models.TrustDeltaReportUpheld,
		Reason:        models.TrustReasonReportUpheld,
		ReferenceType: &refType,
		ReferenceID:   &current.ID,
		ActorID:       &review.ReviewerID,
	}); err != nil {
		return nil, err
	}

	if current.TargetType == models.ReportTargetMessage {
		var messageID int64
		if messageID, err = strconv.ParseInt(current.TargetID, 10, 64); err != nil {
			return nil, fmt.Errorf("parse message target: %w", err)
		}
		var removed models.Message
		removeQuery := `UPDATE messages SET is_deleted = TRUE, is_pinned = FALSE, deleted_at = $2, deleted_by = $3,
updated_at = $2, updated_by = $3, row_version = row_version + 1
WHERE id = $1 AND is_deleted = FALSE RETURNING ` + messageColumns
		err = tx.GetContext(ctx, &removed, removeQuery, messageID, now, review.ReviewerID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			err = nil
		case err != nil:
			return nil, fmt.Errorf("remove reported message: %w", err)
		default:
			if err = recomputeLastMessage(ctx, tx, removed.ConversationID, removed.ID); err != nil {
				return nil, err
			}
			out.RemovedMessage = &removed
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit resolve report: %w", err)
	}
	return out, nil
}

func targetAuthor(ctx context.Context, q sqlx.QueryerContext, targetType models.ReportTargetType, targetID string) (string, error) {
	var query string
	switch targetType {
	case models.ReportTargetDocumentFile:
		query = `SELECT uploaded_by FROM document_files WHERE id::text = $1`
	case models.ReportTargetComment:
		query = `SELECT author_id FROM comments WHERE id::text = $1`
	case models.ReportTargetMessage:
		query = `SELECT sender_id FROM messages WHERE id::text = $1 AND sender_id IS NOT NULL`
	default:
		return "", fmt.Errorf("unknown report target %q: %w", targetType, sql.ErrNoRows)
	}
	var authorID string
	if err := sqlx.GetContext(ctx, q, &authorID, query, targetID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return "", fmt.Errorf("resolve report target: %w", err)
	}
	return authorID, nil
}
