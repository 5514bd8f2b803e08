package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/studyhub-api/internal/models"
)

const memberColumns = `id, conversation_id, user_id, role, is_muted, last_read_message_id, joined_at, invited_by,
similarity_score, response_deadline, invitation_status, created_at, created_by, updated_at, updated_by,
is_deleted, deleted_at, deleted_by, row_version`

const messageColumns = `id, conversation_id, sender_id, parent_id, content, system_type, is_edited, edited_at,
is_pinned, pinned_at, pinned_by, review_status, reviewed_by, reviewed_at, created_at, created_by, updated_at,
updated_by, is_deleted, deleted_at, deleted_by, row_version`

// upsertMembership inserts a membership or reactivates a soft-deleted one.
// It returns ErrDuplicate when the user is already an active member.
func upsertMembership(ctx context.Context, tx *sqlx.Tx, m models.NewMembership, now time.Time) (*models.ConversationMember, error) {
	const query = `INSERT INTO conversation_members (id, conversation_id, user_id, role, joined_at, invited_by, similarity_score,
response_deadline, invitation_status, created_at, created_by, updated_at, updated_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $5, $10, $5, $10)
ON CONFLICT (conversation_id, user_id) DO UPDATE SET
    role = EXCLUDED.role, is_muted = FALSE, last_read_message_id = NULL, joined_at = EXCLUDED.joined_at,
    invited_by = EXCLUDED.invited_by, similarity_score = EXCLUDED.similarity_score,
    response_deadline = EXCLUDED.response_deadline, invitation_status = EXCLUDED.invitation_status,
    updated_at = EXCLUDED.updated_at, updated_by = EXCLUDED.updated_by,
    is_deleted = FALSE, deleted_at = NULL, deleted_by = NULL,
    row_version = conversation_members.row_version + 1
WHERE conversation_members.is_deleted = TRUE
RETURNING ` + memberColumns

	var member models.ConversationMember
	err := tx.GetContext(ctx, &member, query, m.ID, m.ConversationID, m.UserID, m.Role, now,
		m.InvitedBy, m.SimilarityScore, m.ResponseDeadline, m.InvitationStatus, m.ActorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("upsert membership: %w", err)
	}
	return &member, nil
}

// cancelPendingJoinRequests closes requests made obsolete by a membership
// obtained some other way.
func cancelPendingJoinRequests(ctx context.Context, tx *sqlx.Tx, conversationID, userID string, now time.Time) error {
	const query = `UPDATE join_requests SET status = 'CANCELLED', updated_at = $3, updated_by = $2, row_version = row_version + 1
WHERE conversation_id = $1 AND user_id = $2 AND status = 'PENDING' AND is_deleted = FALSE`
	if _, err := tx.ExecContext(ctx, query, conversationID, userID, now); err != nil {
		return fmt.Errorf("cancel pending join requests: %w", err)
	}
	return nil
}

// insertMessage writes msg and, for approved messages, advances the
// conversation's latest-message pointer. The pointer only ever moves forward.
func insertMessage(ctx context.Context, tx *sqlx.Tx, msg *models.Message) error {
	if msg.ReviewStatus == "" {
		msg.ReviewStatus = models.ReviewApproved
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.UpdatedAt = msg.CreatedAt
	msg.RowVersion = 1
	msg.CreatedBy = msg.SenderID

	const query = `INSERT INTO messages (id, conversation_id, sender_id, parent_id, content, system_type, review_status,
created_at, created_by, updated_at, updated_by)
VALUES (:id, :conversation_id, :sender_id, :parent_id, :content, :system_type, :review_status,
:created_at, :created_by, :updated_at, :created_by)`
	if _, err := tx.NamedExecContext(ctx, query, msg); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if msg.ReviewStatus == models.ReviewApproved {
		return advanceLastMessage(ctx, tx, msg.ConversationID, msg.ID)
	}
	return nil
}

func advanceLastMessage(ctx context.Context, tx *sqlx.Tx, conversationID string, messageID int64) error {
	const query = `UPDATE conversations SET last_message_id = $2
WHERE id = $1 AND (last_message_id IS NULL OR last_message_id < $2)`
	if _, err := tx.ExecContext(ctx, query, conversationID, messageID); err != nil {
		return fmt.Errorf("advance last message: %w", err)
	}
	return nil
}

// recomputeLastMessage points the conversation at its newest visible message
// if the current pointer references messageID.
func recomputeLastMessage(ctx context.Context, tx *sqlx.Tx, conversationID string, messageID int64) error {
	const query = `UPDATE conversations SET last_message_id = (
    SELECT id FROM messages
    WHERE conversation_id = $1 AND is_deleted = FALSE AND review_status = 'APPROVED'
    ORDER BY id DESC LIMIT 1
) WHERE id = $1 AND last_message_id = $2`
	if _, err := tx.ExecContext(ctx, query, conversationID, messageID); err != nil {
		return fmt.Errorf("recompute last message: %w", err)
	}
	return nil
}

// applyTrust moves a user's score and appends the ledger entry.
func applyTrust(ctx context.Context, tx *sqlx.Tx, adj models.TrustAdjustment) (*models.UserTrustHistory, error) {
	now := time.Now().UTC()
	var score int
	const update = `UPDATE users SET trust_score = trust_score + $2, updated_at = $3, row_version = row_version + 1
WHERE id = $1 AND is_deleted = FALSE RETURNING trust_score`
	if err := tx.GetContext(ctx, &score, update, adj.UserID, adj.Delta, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("update trust score: %w", err)
	}

	entry := &models.UserTrustHistory{
		ID:            uuid.NewString(),
		UserID:        adj.UserID,
		Delta:         adj.Delta,
		ScoreAfter:    score,
		Reason:        adj.Reason,
		Note:          adj.Note,
		ReferenceType: adj.ReferenceType,
		ReferenceID:   adj.ReferenceID,
		CreatedAt:     now,
		CreatedBy:     adj.ActorID,
	}
	const insert = `INSERT INTO user_trust_history (id, user_id, delta, score_after, reason, note, reference_type, reference_id, created_at, created_by)
VALUES (:id, :user_id, :delta, :score_after, :reason, :note, :reference_type, :reference_id, :created_at, :created_by)`
	if _, err := tx.NamedExecContext(ctx, insert, entry); err != nil {
		return nil, fmt.Errorf("insert trust history: %w", err)
	}
	return entry, nil
}

func rollback(tx *sqlx.Tx, err *error) {
	if *err != nil {
		_ = tx.Rollback()
	}
}
