package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/studyhub-api/internal/models"
)

// MemberRepository manages conversation memberships.
type MemberRepository struct {
	db *sqlx.DB
}

// NewMemberRepository constructs the repository.
func NewMemberRepository(db *sqlx.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// Find returns the active membership of userID in conversationID.
func (r *MemberRepository) Find(ctx context.Context, conversationID, userID string) (*models.ConversationMember, error) {
	query := `SELECT ` + memberColumns + ` FROM conversation_members
WHERE conversation_id = $1 AND user_id = $2 AND is_deleted = FALSE`
	var member models.ConversationMember
	if err := r.db.GetContext(ctx, &member, query, conversationID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find member: %w", err)
	}
	return &member, nil
}

// List returns active members ordered by role then join time.
func (r *MemberRepository) List(ctx context.Context, conversationID string) ([]models.MemberView, error) {
	const query = `SELECT m.id, m.conversation_id, m.user_id, m.role, m.is_muted, m.last_read_message_id, m.joined_at,
m.invited_by, m.similarity_score, m.response_deadline, m.invitation_status, m.created_at, m.created_by,
m.updated_at, m.updated_by, m.is_deleted, m.deleted_at, m.deleted_by, m.row_version,
u.full_name, u.avatar_url AS user_avatar_url, u.trust_level
FROM conversation_members m
JOIN users u ON u.id = m.user_id
WHERE m.conversation_id = $1 AND m.is_deleted = FALSE
ORDER BY m.role DESC, m.joined_at ASC`
	var members []models.MemberView
	if err := r.db.SelectContext(ctx, &members, query, conversationID); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// ListUserIDs returns the user ids of every active member.
func (r *MemberRepository) ListUserIDs(ctx context.Context, conversationID string) ([]string, error) {
	var ids []string
	const query = `SELECT user_id FROM conversation_members WHERE conversation_id = $1 AND is_deleted = FALSE`
	if err := r.db.SelectContext(ctx, &ids, query, conversationID); err != nil {
		return nil, fmt.Errorf("list member ids: %w", err)
	}
	return ids, nil
}

// ListModeratorIDs returns owners and deputies.
func (r *MemberRepository) ListModeratorIDs(ctx context.Context, conversationID string) ([]string, error) {
	var ids []string
	const query = `SELECT user_id FROM conversation_members
WHERE conversation_id = $1 AND is_deleted = FALSE AND role >= $2`
	if err := r.db.SelectContext(ctx, &ids, query, conversationID, models.MemberRoleDeputy); err != nil {
		return nil, fmt.Errorf("list moderators: %w", err)
	}
	return ids, nil
}

// AddWithMessage adds a membership and its join system message atomically.
func (r *MemberRepository) AddWithMessage(ctx context.Context, m models.NewMembership, msg *models.Message) (member *models.ConversationMember, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin add member: %w", err)
	}
	defer rollback(tx, &err)

	if member, err = upsertMembership(ctx, tx, m, time.Now().UTC()); err != nil {
		return nil, err
	}
	if msg != nil {
		msg.ConversationID = m.ConversationID
		if err = insertMessage(ctx, tx, msg); err != nil {
			return nil, err
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit add member: %w", err)
	}
	return member, nil
}

// RemoveWithMessage soft-deletes a membership and records a system message.
func (r *MemberRepository) RemoveWithMessage(ctx context.Context, conversationID, userID, actorID string, msg *models.Message) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove member: %w", err)
	}
	defer rollback(tx, &err)

	const query = `UPDATE conversation_members SET is_deleted = TRUE, deleted_at = $3, deleted_by = $4,
updated_at = $3, updated_by = $4, row_version = row_version + 1
WHERE conversation_id = $1 AND user_id = $2 AND is_deleted = FALSE`
	res, err := tx.ExecContext(ctx, query, conversationID, userID, time.Now().UTC(), actorID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = sql.ErrNoRows
		return err
	}
	if msg != nil {
		msg.ConversationID = conversationID
		if err = insertMessage(ctx, tx, msg); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit remove member: %w", err)
	}
	return nil
}

// ChangeRole sets the member's role. Granting the owner role demotes the
// current owner to deputy in the same transaction.
func (r *MemberRepository) ChangeRole(ctx context.Context, conversationID, userID string, role models.MemberRole, actorID string, msg *models.Message) (member *models.ConversationMember, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin change role: %w", err)
	}
	defer rollback(tx, &err)

	now := time.Now().UTC()
	lockQuery := `SELECT ` + memberColumns + ` FROM conversation_members
WHERE conversation_id = $1 AND user_id = $2 AND is_deleted = FALSE FOR UPDATE`
	var current models.ConversationMember
	if err = tx.GetContext(ctx, &current, lockQuery, conversationID, userID); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("lock member: %w", err)
		}
		return nil, err
	}

	if role == models.MemberRoleOwner {
		const demote = `UPDATE conversation_members SET role = $2, updated_at = $3, updated_by = $4, row_version = row_version + 1
WHERE conversation_id = $1 AND role = 2 AND is_deleted = FALSE`
		if _, err = tx.ExecContext(ctx, demote, conversationID, models.MemberRoleDeputy, now, actorID); err != nil {
			return nil, fmt.Errorf("demote owner: %w", err)
		}
	}

	updateQuery := `UPDATE conversation_members SET role = $2, updated_at = $3, updated_by = $4, row_version = row_version + 1
WHERE id = $1 RETURNING ` + memberColumns
	var updated models.ConversationMember
	if err = tx.GetContext(ctx, &updated, updateQuery, current.ID, role, now, actorID); err != nil {
		return nil, fmt.Errorf("update role: %w", err)
	}
	if msg != nil {
		msg.ConversationID = conversationID
		if err = insertMessage(ctx, tx, msg); err != nil {
			return nil, err
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit change role: %w", err)
	}
	return &updated, nil
}

// SetMuted toggles notifications for a member.
func (r *MemberRepository) SetMuted(ctx context.Context, conversationID, userID string, muted bool) error {
	const query = `UPDATE conversation_members SET is_muted = $3, updated_at = $4, updated_by = $2
WHERE conversation_id = $1 AND user_id = $2 AND is_deleted = FALSE`
	res, err := r.db.ExecContext(ctx, query, conversationID, userID, muted, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set muted: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkRead moves the read marker forward; it never moves back.
func (r *MemberRepository) MarkRead(ctx context.Context, conversationID, userID string, messageID int64) error {
	const query = `UPDATE conversation_members
SET last_read_message_id = GREATEST(COALESCE(last_read_message_id, 0), $3)
WHERE conversation_id = $1 AND user_id = $2 AND is_deleted = FALSE`
	res, err := r.db.ExecContext(ctx, query, conversationID, userID, messageID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListUnmutedUserIDs returns members who receive notifications, excluding exceptID.
func (r *MemberRepository) ListUnmutedUserIDs(ctx context.Context, conversationID, exceptID string) ([]string, error) {
	var ids []string
	const query = `SELECT user_id FROM conversation_members
WHERE conversation_id = $1 AND is_deleted = FALSE AND is_muted = FALSE AND user_id <> $2`
	if err := r.db.SelectContext(ctx, &ids, query, conversationID, exceptID); err != nil {
		return nil, fmt.Errorf("list unmuted members: %w", err)
	}
	return ids, nil
}
