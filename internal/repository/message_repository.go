package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/studyhub-api/internal/models"
)

const messageViewSelect = `SELECT m.id, m.conversation_id, m.sender_id, m.parent_id, m.content, m.system_type, m.is_edited,
m.edited_at, m.is_pinned, m.pinned_at, m.pinned_by, m.review_status, m.reviewed_by, m.reviewed_at, m.created_at,
m.created_by, m.updated_at, m.updated_by, m.is_deleted, m.deleted_at, m.deleted_by, m.row_version,
u.full_name AS sender_name, u.avatar_url AS sender_avatar_url
FROM messages m
LEFT JOIN users u ON u.id = m.sender_id`

// MessageRepository persists chat messages.
type MessageRepository struct {
	db *sqlx.DB
}

// NewMessageRepository constructs the repository.
func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create stores a message and advances the conversation's latest pointer.
func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create message: %w", err)
	}
	defer rollback(tx, &err)

	if err = insertMessage(ctx, tx, msg); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create message: %w", err)
	}
	return nil
}

// FindByID returns a live message.
func (r *MessageRepository) FindByID(ctx context.Context, id int64) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1 AND is_deleted = FALSE`
	var msg models.Message
	if err := r.db.GetContext(ctx, &msg, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find message: %w", err)
	}
	return &msg, nil
}

// GetView returns a single message with its sender.
func (r *MessageRepository) GetView(ctx context.Context, id int64) (*models.MessageView, error) {
	query := messageViewSelect + ` WHERE m.id = $1 AND m.is_deleted = FALSE`
	var view models.MessageView
	if err := r.db.GetContext(ctx, &view, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &view, nil
}

// List pages backwards through a conversation, newest first. Messages still
// awaiting review are only visible to their author unless IncludeHidden.
func (r *MessageRepository) List(ctx context.Context, q models.MessageQuery) ([]models.MessageView, error) {
	args := []interface{}{q.ConversationID}
	conditions := []string{"m.conversation_id = $1", "m.is_deleted = FALSE"}

	if !q.IncludeHidden {
		args = append(args, q.ViewerID)
		conditions = append(conditions, fmt.Sprintf("(m.review_status = 'APPROVED' OR m.sender_id = $%d)", len(args)))
	}
	if q.Before != nil {
		args = append(args, *q.Before)
		conditions = append(conditions, fmt.Sprintf("m.id < $%d", len(args)))
	}
	if q.PinnedOnly {
		conditions = append(conditions, "m.is_pinned = TRUE")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query := fmt.Sprintf("%s WHERE %s ORDER BY m.id DESC LIMIT $%d", messageViewSelect, strings.Join(conditions, " AND "), len(args))

	var messages []models.MessageView
	if err := r.db.SelectContext(ctx, &messages, query, args...); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// Previews returns compact projections keyed by id. Deleted messages are
// included so replies can render a placeholder.
func (r *MessageRepository) Previews(ctx context.Context, ids []int64) (map[int64]models.MessagePreview, error) {
	result := make(map[int64]models.MessagePreview, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	const query = `SELECT m.id, m.sender_id, u.full_name AS sender_name, m.content, m.system_type, m.is_deleted, m.created_at
FROM messages m LEFT JOIN users u ON u.id = m.sender_id WHERE m.id = ANY($1)`
	var rows []models.MessagePreview
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("load message previews: %w", err)
	}
	for _, row := range rows {
		if row.IsDeleted {
			row.Content = ""
		}
		result[row.ID] = row
	}
	return result, nil
}

// UpdateContent edits a message when ExpectedVersion matches.
func (r *MessageRepository) UpdateContent(ctx context.Context, edit models.MessageEdit) (*models.Message, error) {
	now := time.Now().UTC()
	query := `UPDATE messages SET content = $3, is_edited = TRUE, edited_at = $4, updated_at = $4, updated_by = $5,
row_version = row_version + 1
WHERE id = $1 AND row_version = $2 AND is_deleted = FALSE
RETURNING ` + messageColumns
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, query, edit.MessageID, edit.ExpectedVersion, edit.Content, now, edit.ActorID)
	if err == nil {
		return &msg, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update message: %w", err)
	}
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1 AND is_deleted = FALSE)`, edit.MessageID); err != nil {
		return nil, fmt.Errorf("check message: %w", err)
	}
	if exists {
		return nil, ErrStaleVersion
	}
	return nil, sql.ErrNoRows
}

// SoftDelete removes a message and repoints the conversation's latest
// message if it was the one removed.
func (r *MessageRepository) SoftDelete(ctx context.Context, msg *models.Message, actorID string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete message: %w", err)
	}
	defer rollback(tx, &err)

	const query = `UPDATE messages SET is_deleted = TRUE, is_pinned = FALSE, deleted_at = $2, deleted_by = $3,
updated_at = $2, updated_by = $3, row_version = row_version + 1
WHERE id = $1 AND is_deleted = FALSE`
	res, err := tx.ExecContext(ctx, query, msg.ID, time.Now().UTC(), actorID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = sql.ErrNoRows
		return err
	}
	if err = recomputeLastMessage(ctx, tx, msg.ConversationID, msg.ID); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete message: %w", err)
	}
	return nil
}

// SetPinned flips the pin flag and records the system message. It returns
// ErrInvalidState when the message is already in the requested state.
func (r *MessageRepository) SetPinned(ctx context.Context, id int64, pinned bool, actorID string, notice *models.Message) (msg *models.Message, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin pin message: %w", err)
	}
	defer rollback(tx, &err)

	now := time.Now().UTC()
	var pinnedAt *time.Time
	var pinnedBy *string
	if pinned {
		pinnedAt, pinnedBy = &now, &actorID
	}
	query := `UPDATE messages SET is_pinned = $2, pinned_at = $3, pinned_by = $4, updated_at = $5, updated_by = $6,
row_version = row_version + 1
WHERE id = $1 AND is_deleted = FALSE AND is_pinned = NOT $2
RETURNING ` + messageColumns
	var updated models.Message
	if err = tx.GetContext(ctx, &updated, query, id, pinned, pinnedAt, pinnedBy, now, actorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrInvalidState
			return nil, err
		}
		return nil, fmt.Errorf("pin message: %w", err)
	}
	if notice != nil {
		notice.ConversationID = updated.ConversationID
		if err = insertMessage(ctx, tx, notice); err != nil {
			return nil, err
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit pin message: %w", err)
	}
	return &updated, nil
}

// Review resolves a pending message. Approval makes it the conversation's
// latest message when it is newer than the current one.
func (r *MessageRepository) Review(ctx context.Context, id int64, status models.ReviewStatus, reviewerID string) (msg *models.Message, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin review message: %w", err)
	}
	defer rollback(tx, &err)

	now := time.Now().UTC()
	query := `UPDATE messages SET review_status = $2, reviewed_by = $3, reviewed_at = $4, updated_at = $4, updated_by = $3,
row_version = row_version + 1
WHERE id = $1 AND is_deleted = FALSE AND review_status = 'PENDING'
RETURNING ` + messageColumns
	var updated models.Message
	if err = tx.GetContext(ctx, &updated, query, id, status, reviewerID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrInvalidState
			return nil, err
		}
		return nil, fmt.Errorf("review message: %w", err)
	}
	if status == models.ReviewApproved {
		if err = advanceLastMessage(ctx, tx, updated.ConversationID, updated.ID); err != nil {
			return nil, err
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit review message: %w", err)
	}
	return &updated, nil
}

// ListForExport returns every visible message oldest first.
func (r *MessageRepository) ListForExport(ctx context.Context, conversationID string) ([]models.MessageView, error) {
	query := messageViewSelect + ` WHERE m.conversation_id = $1 AND m.is_deleted = FALSE AND m.review_status = 'APPROVED'
ORDER BY m.id ASC`
	var messages []models.MessageView
	if err := r.db.SelectContext(ctx, &messages, query, conversationID); err != nil {
		return nil, fmt.Errorf("list messages for export: %w", err)
	}
	return messages, nil
}

// CountUnread returns approved messages after lastRead not sent by userID.
func (r *MessageRepository) CountUnread(ctx context.Context, conversationID, userID string, lastRead *int64) (int, error) {
	var after int64
	if lastRead != nil {
		after = *lastRead
	}
	const query = `SELECT COUNT(*) FROM messages
WHERE conversation_id = $1 AND is_deleted = FALSE AND review_status = 'APPROVED' AND id > $2
AND (sender_id IS NULL OR sender_id <> $3)`
	var total int
	if err := r.db.GetContext(ctx, &total, query, conversationID, after, userID); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return total, nil
}
