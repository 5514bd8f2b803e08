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

const invitationColumns = `id, conversation_id, invitee_id, inviter_id, message, is_suggested, similarity_score, status,
expires_at, responded_at, created_at, created_by, updated_at, updated_by, is_deleted, deleted_at, deleted_by, row_version`

// InvitationRepository persists group invitations.
type InvitationRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewInvitationRepository constructs the repository.
func NewInvitationRepository(db *sqlx.DB) *InvitationRepository {
	return &InvitationRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create stores a pending invitation. Lapsed pending invitations for the same
// invitee are marked EXPIRED first; a live one yields ErrDuplicate.
func (r *InvitationRepository) Create(ctx context.Context, inv *models.GroupInvitation) (err error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	now := r.now()
	inv.Status = models.InvitationPending
	inv.CreatedAt, inv.UpdatedAt, inv.RowVersion = now, now, 1
	inv.CreatedBy, inv.UpdatedBy = &inv.InviterID, &inv.InviterID

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create invitation: %w", err)
	}
	defer rollback(tx, &err)

	const expire = `UPDATE group_invitations SET status = 'EXPIRED', updated_at = $3
WHERE conversation_id = $1 AND invitee_id = $2 AND status = 'PENDING' AND expires_at <= $3`
	if _, err = tx.ExecContext(ctx, expire, inv.ConversationID, inv.InviteeID, now); err != nil {
		return fmt.Errorf("expire lapsed invitations: %w", err)
	}

	const query = `INSERT INTO group_invitations (id, conversation_id, invitee_id, inviter_id, message, is_suggested,
similarity_score, status, expires_at, created_at, created_by, updated_at, updated_by)
VALUES (:id, :conversation_id, :invitee_id, :inviter_id, :message, :is_suggested, :similarity_score, :status,
:expires_at, :created_at, :created_by, :updated_at, :updated_by)`
	if _, err = tx.NamedExecContext(ctx, query, inv); err != nil {
		if isUniqueViolation(err) {
			err = ErrDuplicate
			return err
		}
		return fmt.Errorf("create invitation: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create invitation: %w", err)
	}
	return nil
}

// FindByID returns an invitation.
func (r *InvitationRepository) FindByID(ctx context.Context, id string) (*models.GroupInvitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM group_invitations WHERE id = $1 AND is_deleted = FALSE`
	var inv models.GroupInvitation
	if err := r.db.GetContext(ctx, &inv, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find invitation: %w", err)
	}
	return &inv, nil
}

// HasLivePending reports whether inviteeID holds an unexpired pending invitation.
func (r *InvitationRepository) HasLivePending(ctx context.Context, conversationID, inviteeID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM group_invitations
WHERE conversation_id = $1 AND invitee_id = $2 AND status = 'PENDING' AND expires_at > $3 AND is_deleted = FALSE)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, conversationID, inviteeID, r.now()); err != nil {
		return false, fmt.Errorf("check pending invitation: %w", err)
	}
	return exists, nil
}

// PendingInviteeIDs returns users holding live invitations to conversationID.
func (r *InvitationRepository) PendingInviteeIDs(ctx context.Context, conversationID string) ([]string, error) {
	const query = `SELECT DISTINCT invitee_id FROM group_invitations
WHERE conversation_id = $1 AND status = 'PENDING' AND expires_at > $2 AND is_deleted = FALSE`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, conversationID, r.now()); err != nil {
		return nil, fmt.Errorf("list pending invitees: %w", err)
	}
	return ids, nil
}

// List returns invitations matching filter, newest first.
func (r *InvitationRepository) List(ctx context.Context, filter models.InvitationFilter) ([]models.InvitationView, int, error) {
	var args []interface{}
	conditions := []string{"i.is_deleted = FALSE"}
	if filter.ConversationID != "" {
		args = append(args, filter.ConversationID)
		conditions = append(conditions, fmt.Sprintf("i.conversation_id = $%d", len(args)))
	}
	if filter.InviteeID != "" {
		args = append(args, filter.InviteeID)
		conditions = append(conditions, fmt.Sprintf("i.invitee_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("i.status = $%d", len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")
	_, pageSize, offset := normalizePage(filter.Page, filter.PageSize, 100)

	query := fmt.Sprintf(`SELECT i.id, i.conversation_id, i.invitee_id, i.inviter_id, i.message, i.is_suggested,
i.similarity_score, i.status, i.expires_at, i.responded_at, i.created_at, i.created_by, i.updated_at, i.updated_by,
i.is_deleted, i.deleted_at, i.deleted_by, i.row_version,
invitee.full_name AS invitee_name, inviter.full_name AS inviter_name, c.name AS conversation_name
FROM group_invitations i
JOIN users invitee ON invitee.id = i.invitee_id
JOIN users inviter ON inviter.id = i.inviter_id
JOIN conversations c ON c.id = i.conversation_id%s
ORDER BY i.created_at DESC LIMIT %d OFFSET %d`, where, pageSize, offset)

	var items []models.InvitationView
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list invitations: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM group_invitations i"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count invitations: %w", err)
	}
	return items, total, nil
}

// Respond records the invitee's answer. Acceptance creates the membership and
// cancels the invitee's pending join request in the same transaction. An invitation past its deadline is marked EXPIRED,
// committed, and reported as ErrExpired.
func (r *InvitationRepository) Respond(ctx context.Context, resp models.InvitationResponse) (inv *models.GroupInvitation, member *models.ConversationMember, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin respond invitation: %w", err)
	}
	defer rollback(tx, &err)

	var current models.GroupInvitation
	lockQuery := `SELECT ` + invitationColumns + ` FROM group_invitations WHERE id = $1 AND is_deleted = FALSE FOR UPDATE`
	if err = tx.GetContext(ctx, &current, lockQuery, resp.InvitationID); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("lock invitation: %w", err)
		}
		return nil, nil, err
	}

	now := r.now()
	switch current.EffectiveStatus(now) {
	case models.InvitationPending:
	case models.InvitationExpired:
		if current.Status == models.InvitationPending {
			if _, err = tx.ExecContext(ctx, `UPDATE group_invitations SET status = 'EXPIRED', updated_at = $2 WHERE id = $1`, current.ID, now); err != nil {
				return nil, nil, fmt.Errorf("expire invitation: %w", err)
			}
			if err = tx.Commit(); err != nil {
				return nil, nil, fmt.Errorf("commit expire invitation: %w", err)
			}
		}
		return nil, nil, ErrExpired
	default:
		err = ErrInvalidState
		return nil, nil, err
	}

	status := models.InvitationDeclined
	if resp.Accept {
		status = models.InvitationAccepted
	}
	updateQuery := `UPDATE group_invitations SET status = $2, responded_at = $3, updated_at = $3, updated_by = $4,
row_version = row_version + 1 WHERE id = $1 RETURNING ` + invitationColumns
	var updated models.GroupInvitation
	if err = tx.GetContext(ctx, &updated, updateQuery, current.ID, status, now, resp.ActorID); err != nil {
		return nil, nil, fmt.Errorf("update invitation: %w", err)
	}

	if resp.Accept {
		accepted := models.MembershipFromInvitation
		member, err = upsertMembership(ctx, tx, models.NewMembership{
			ID:               resp.MemberID,
			ConversationID:   current.ConversationID,
			UserID:           current.InviteeID,
			Role:             models.MemberRoleMember,
			InvitedBy:        &current.InviterID,
			SimilarityScore:  current.SimilarityScore,
			ResponseDeadline: &current.ExpiresAt,
			InvitationStatus: &accepted,
			ActorID:          resp.ActorID,
		}, now)
		if err != nil {
			return nil, nil, err
		}
		if err = cancelPendingJoinRequests(ctx, tx, current.ConversationID, current.InviteeID, now); err != nil {
			return nil, nil, err
		}
		if resp.SystemMessage != nil {
			resp.SystemMessage.ConversationID = current.ConversationID
			if err = insertMessage(ctx, tx, resp.SystemMessage); err != nil {
				return nil, nil, err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit respond invitation: %w", err)
	}
	return &updated, member, nil
}

// Cancel withdraws a pending invitation.
func (r *InvitationRepository) Cancel(ctx context.Context, id, actorID string) error {
	const query = `UPDATE group_invitations SET status = 'CANCELLED', updated_at = $3, updated_by = $2, row_version = row_version + 1
WHERE id = $1 AND status = 'PENDING' AND is_deleted = FALSE`
	res, err := r.db.ExecContext(ctx, query, id, actorID, r.now())
	if err != nil {
		return fmt.Errorf("cancel invitation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidState
	}
	return nil
}
