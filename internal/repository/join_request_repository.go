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

const joinRequestColumns = `id, conversation_id, user_id, message, status, reviewed_by, reviewed_at, review_note,
created_at, created_by, updated_at, updated_by, is_deleted, deleted_at, deleted_by, row_version`

// JoinRequestRepository persists join requests for private conversations.
type JoinRequestRepository struct {
	db *sqlx.DB
}

// NewJoinRequestRepository constructs the repository.
func NewJoinRequestRepository(db *sqlx.DB) *JoinRequestRepository {
	return &JoinRequestRepository{db: db}
}

// Create inserts a pending request. A second pending request for the same
// user and conversation yields ErrDuplicate.
func (r *JoinRequestRepository) Create(ctx context.Context, req *models.JoinRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	req.Status = models.JoinRequestPending
	req.CreatedAt, req.UpdatedAt, req.RowVersion = now, now, 1
	req.CreatedBy, req.UpdatedBy = &req.UserID, &req.UserID

	const query = `INSERT INTO join_requests (id, conversation_id, user_id, message, status, created_at, created_by, updated_at, updated_by)
VALUES (:id, :conversation_id, :user_id, :message, :status, :created_at, :created_by, :updated_at, :updated_by)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create join request: %w", err)
	}
	return nil
}

// FindByID returns a join request.
func (r *JoinRequestRepository) FindByID(ctx context.Context, id string) (*models.JoinRequest, error) {
	query := `SELECT ` + joinRequestColumns + ` FROM join_requests WHERE id = $1 AND is_deleted = FALSE`
	var req models.JoinRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find join request: %w", err)
	}
	return &req, nil
}

// HasPending reports whether userID is waiting on conversationID.
func (r *JoinRequestRepository) HasPending(ctx context.Context, conversationID, userID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM join_requests
WHERE conversation_id = $1 AND user_id = $2 AND status = 'PENDING' AND is_deleted = FALSE)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, conversationID, userID); err != nil {
		return false, fmt.Errorf("check pending join request: %w", err)
	}
	return exists, nil
}

// List returns join requests matching filter, newest first.
func (r *JoinRequestRepository) List(ctx context.Context, filter models.JoinRequestFilter) ([]models.JoinRequestView, int, error) {
	var args []interface{}
	conditions := []string{"j.is_deleted = FALSE"}
	if filter.ConversationID != "" {
		args = append(args, filter.ConversationID)
		conditions = append(conditions, fmt.Sprintf("j.conversation_id = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("j.user_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("j.status = $%d", len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")
	_, pageSize, offset := normalizePage(filter.Page, filter.PageSize, 100)

	query := fmt.Sprintf(`SELECT j.id, j.conversation_id, j.user_id, j.message, j.status, j.reviewed_by, j.reviewed_at,
j.review_note, j.created_at, j.created_by, j.updated_at, j.updated_by, j.is_deleted, j.deleted_at, j.deleted_by,
j.row_version, u.full_name AS requester_name, c.name AS conversation_name
FROM join_requests j
JOIN users u ON u.id = j.user_id
JOIN conversations c ON c.id = j.conversation_id%s
ORDER BY j.created_at DESC LIMIT %d OFFSET %d`, where, pageSize, offset)

	var items []models.JoinRequestView
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list join requests: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM join_requests j"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count join requests: %w", err)
	}
	return items, total, nil
}

// Decide approves or rejects a pending request. Approval adds the requester
// as a member and records the system message in the same transaction. A
// requester who already belongs is approved without a new membership and the
// returned member is nil.
func (r *JoinRequestRepository) Decide(ctx context.Context, d models.JoinRequestDecision) (req *models.JoinRequest, member *models.ConversationMember, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin decide join request: %w", err)
	}
	defer rollback(tx, &err)

	var current models.JoinRequest
	lockQuery := `SELECT ` + joinRequestColumns + ` FROM join_requests WHERE id = $1 AND is_deleted = FALSE FOR UPDATE`
	if err = tx.GetContext(ctx, &current, lockQuery, d.RequestID); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("lock join request: %w", err)
		}
		return nil, nil, err
	}
	if current.Status != models.JoinRequestPending {
		err = ErrInvalidState
		return nil, nil, err
	}

	now := time.Now().UTC()
	status := models.JoinRequestRejected
	if d.Approve {
		status = models.JoinRequestApproved
	}
	updateQuery := `UPDATE join_requests SET status = $2, reviewed_by = $3, reviewed_at = $4, review_note = $5,
updated_at = $4, updated_by = $3, row_version = row_version + 1
WHERE id = $1 RETURNING ` + joinRequestColumns
	var updated models.JoinRequest
	if err = tx.GetContext(ctx, &updated, updateQuery, d.RequestID, status, d.ReviewerID, now, d.Note); err != nil {
		return nil, nil, fmt.Errorf("update join request: %w", err)
	}

	if d.Approve {
		member, err = upsertMembership(ctx, tx, models.NewMembership{
			ID:             d.MemberID,
			ConversationID: current.ConversationID,
			UserID:         current.UserID,
			Role:           models.MemberRoleMember,
			ActorID:        d.ReviewerID,
		}, now)
		if errors.Is(err, ErrDuplicate) {
			if err = tx.Commit(); err != nil {
				return nil, nil, fmt.Errorf("commit decide join request: %w", err)
			}
			return &updated, nil, nil
		}
		if err != nil {
			return nil, nil, err
		}
		if d.SystemMessage != nil {
			d.SystemMessage.ConversationID = current.ConversationID
			if err = insertMessage(ctx, tx, d.SystemMessage); err != nil {
				return nil, nil, err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit decide join request: %w", err)
	}
	return &updated, member, nil
}

// Cancel withdraws the requester's own pending request.
func (r *JoinRequestRepository) Cancel(ctx context.Context, id, userID string) error {
	const query = `UPDATE join_requests SET status = 'CANCELLED', updated_at = $3, updated_by = $2, row_version = row_version + 1
WHERE id = $1 AND user_id = $2 AND status = 'PENDING' AND is_deleted = FALSE`
	res, err := r.db.ExecContext(ctx, query, id, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cancel join request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidState
	}
	return nil
}
