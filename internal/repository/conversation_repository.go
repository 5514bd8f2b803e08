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
	"github.com/lib/pq"

	"github.com/noah-isme/studyhub-api/internal/models"
)

const conversationColumns = `c.id, c.name, c.description, c.avatar_url, c.visibility, c.type, c.subject_id, c.require_approval,
c.last_message_id, c.created_at, c.created_by, c.updated_at, c.updated_by, c.is_deleted, c.deleted_at, c.deleted_by, c.row_version`

// ConversationRepository persists conversations and their tag links.
type ConversationRepository struct {
	db *sqlx.DB
}

// NewConversationRepository constructs the repository.
func NewConversationRepository(db *sqlx.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create stores the conversation, its tags, the owner membership and the
// creation system message in one transaction.
func (r *ConversationRepository) Create(ctx context.Context, nc *models.NewConversation) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create conversation: %w", err)
	}
	defer rollback(tx, &err)

	conv := &nc.Conversation
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	conv.CreatedAt, conv.UpdatedAt, conv.RowVersion = now, now, 1
	conv.UpdatedBy = conv.CreatedBy

	const insertConv = `INSERT INTO conversations (id, name, description, avatar_url, visibility, type, subject_id, require_approval,
created_at, created_by, updated_at, updated_by)
VALUES (:id, :name, :description, :avatar_url, :visibility, :type, :subject_id, :require_approval,
:created_at, :created_by, :updated_at, :updated_by)`
	if _, err = tx.NamedExecContext(ctx, insertConv, conv); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	tagIDs, err := r.resolveTags(ctx, tx, nc.TagIDs, nc.NewTags)
	if err != nil {
		return err
	}
	if err = linkTags(ctx, tx, conv.ID, tagIDs); err != nil {
		return err
	}

	owner := models.NewMembership{
		ID:             nc.OwnerMemberID,
		ConversationID: conv.ID,
		UserID:         derefString(conv.CreatedBy),
		Role:           models.MemberRoleOwner,
		ActorID:        derefString(conv.CreatedBy),
	}
	if owner.ID == "" {
		owner.ID = uuid.NewString()
	}
	if _, err = upsertMembership(ctx, tx, owner, now); err != nil {
		return err
	}

	nc.SystemMessage.ConversationID = conv.ID
	if err = insertMessage(ctx, tx, &nc.SystemMessage); err != nil {
		return err
	}
	conv.LastMessageID = &nc.SystemMessage.ID

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create conversation: %w", err)
	}
	return nil
}

// FindByID returns a live conversation.
func (r *ConversationRepository) FindByID(ctx context.Context, id string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations c WHERE c.id = $1 AND c.is_deleted = FALSE`
	var conv models.Conversation
	if err := r.db.GetContext(ctx, &conv, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return &conv, nil
}

func listItemSelect() string {
	return `SELECT ` + conversationColumns + `, s.name AS subject_name,
(SELECT COUNT(*) FROM conversation_members cm WHERE cm.conversation_id = c.id AND cm.is_deleted = FALSE) AS member_count,
(me.id IS NOT NULL) AS is_member, me.role AS current_user_role, lm.created_at AS last_message_at
FROM conversations c
LEFT JOIN subjects s ON s.id = c.subject_id
LEFT JOIN conversation_members me ON me.conversation_id = c.id AND me.user_id = $1 AND me.is_deleted = FALSE
LEFT JOIN messages lm ON lm.id = c.last_message_id`
}

// GetListItem returns one conversation with the viewer's computed fields.
func (r *ConversationRepository) GetListItem(ctx context.Context, id, viewerID string) (*models.ConversationListItem, error) {
	query := listItemSelect() + ` WHERE c.id = $2 AND c.is_deleted = FALSE`
	var item models.ConversationListItem
	if err := r.db.GetContext(ctx, &item, query, viewerID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &item, nil
}

// List returns public conversations plus those the viewer belongs to.
func (r *ConversationRepository) List(ctx context.Context, filter models.ConversationFilter) ([]models.ConversationListItem, int, error) {
	args := []interface{}{filter.ViewerID}
	conditions := []string{"c.is_deleted = FALSE"}

	if filter.MineOnly {
		conditions = append(conditions, "me.id IS NOT NULL")
	} else {
		conditions = append(conditions, "(c.visibility = 'PUBLIC' OR me.id IS NOT NULL)")
	}
	if filter.Visibility != nil {
		args = append(args, *filter.Visibility)
		conditions = append(conditions, fmt.Sprintf("c.visibility = $%d", len(args)))
	}
	if filter.SubjectID != "" {
		args = append(args, filter.SubjectID)
		conditions = append(conditions, fmt.Sprintf("c.subject_id = $%d", len(args)))
	}
	if filter.TagID != "" {
		args = append(args, filter.TagID)
		conditions = append(conditions, fmt.Sprintf("EXISTS (SELECT 1 FROM conversation_tags ct WHERE ct.conversation_id = c.id AND ct.tag_id = $%d)", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("(LOWER(c.name) LIKE $%d OR LOWER(COALESCE(c.description, '')) LIKE $%d)", len(args), len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	_, pageSize, offset := normalizePage(filter.Page, filter.PageSize, 100)
	listQuery := fmt.Sprintf("%s%s ORDER BY COALESCE(c.last_message_id, 0) DESC, c.created_at DESC LIMIT %d OFFSET %d", listItemSelect(), where, pageSize, offset)

	var items []models.ConversationListItem
	if err := r.db.SelectContext(ctx, &items, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}

	countQuery := `SELECT COUNT(*) FROM conversations c
LEFT JOIN conversation_members me ON me.conversation_id = c.id AND me.user_id = $1 AND me.is_deleted = FALSE` + where
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}
	return items, total, nil
}

type conversationTagRow struct {
	ConversationID string `db:"conversation_id"`
	models.Tag
}

// TagsFor returns the tags of each conversation keyed by conversation id.
func (r *ConversationRepository) TagsFor(ctx context.Context, conversationIDs []string) (map[string][]models.Tag, error) {
	result := make(map[string][]models.Tag, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return result, nil
	}
	const query = `SELECT ct.conversation_id, t.id, t.name, t.slug FROM conversation_tags ct
JOIN tags t ON t.id = ct.tag_id WHERE ct.conversation_id = ANY($1) ORDER BY t.name`
	var rows []conversationTagRow
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(conversationIDs)); err != nil {
		return nil, fmt.Errorf("list conversation tags: %w", err)
	}
	for _, row := range rows {
		result[row.ConversationID] = append(result[row.ConversationID], row.Tag)
	}
	return result, nil
}

// Update applies upd when the stored row_version matches ExpectedVersion.
func (r *ConversationRepository) Update(ctx context.Context, upd models.ConversationUpdate) (conv *models.Conversation, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update conversation: %w", err)
	}
	defer rollback(tx, &err)

	const query = `UPDATE conversations c SET name = $3, description = $4, avatar_url = $5, visibility = $6, subject_id = $7,
require_approval = $8, updated_at = $9, updated_by = $10, row_version = c.row_version + 1
WHERE c.id = $1 AND c.row_version = $2 AND c.is_deleted = FALSE
RETURNING ` + conversationColumns
	var updated models.Conversation
	err = tx.GetContext(ctx, &updated, query, upd.ID, upd.ExpectedVersion, upd.Name, upd.Description, upd.AvatarURL,
		upd.Visibility, upd.SubjectID, upd.RequireApproval, time.Now().UTC(), upd.ActorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = r.staleOrMissing(ctx, tx, upd.ID)
			return nil, err
		}
		return nil, fmt.Errorf("update conversation: %w", err)
	}

	tagIDs, err := r.resolveTags(ctx, tx, upd.TagIDs, upd.NewTags)
	if err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM conversation_tags WHERE conversation_id = $1`, upd.ID); err != nil {
		return nil, fmt.Errorf("clear conversation tags: %w", err)
	}
	if err = linkTags(ctx, tx, upd.ID, tagIDs); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update conversation: %w", err)
	}
	return &updated, nil
}

// SoftDelete dissolves a conversation. Memberships are kept for audit.
func (r *ConversationRepository) SoftDelete(ctx context.Context, id, actorID string) error {
	const query = `UPDATE conversations SET is_deleted = TRUE, deleted_at = $2, deleted_by = $3, updated_at = $2, updated_by = $3,
row_version = row_version + 1 WHERE id = $1 AND is_deleted = FALSE`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC(), actorID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *ConversationRepository) staleOrMissing(ctx context.Context, tx *sqlx.Tx, id string) error {
	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1 AND is_deleted = FALSE)`, id); err != nil {
		return fmt.Errorf("check conversation: %w", err)
	}
	if exists {
		return ErrStaleVersion
	}
	return sql.ErrNoRows
}

// resolveTags validates existing tag ids and upserts new tags by slug.
func (r *ConversationRepository) resolveTags(ctx context.Context, tx *sqlx.Tx, existing []string, newTags []models.Tag) ([]string, error) {
	ids := make([]string, 0, len(existing)+len(newTags))
	if len(existing) > 0 {
		var found []string
		if err := tx.SelectContext(ctx, &found, `SELECT id FROM tags WHERE id = ANY($1)`, pq.Array(existing)); err != nil {
			return nil, fmt.Errorf("check tags: %w", err)
		}
		if len(found) != len(uniqueStrings(existing)) {
			return nil, ErrUnknownReference
		}
		ids = append(ids, found...)
	}
	for _, tag := range newTags {
		id, err := upsertTag(ctx, tx, tag)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return uniqueStrings(ids), nil
}

func upsertTag(ctx context.Context, tx *sqlx.Tx, tag models.Tag) (string, error) {
	if tag.ID == "" {
		tag.ID = uuid.NewString()
	}
	const query = `INSERT INTO tags (id, name, slug) VALUES ($1, $2, $3)
ON CONFLICT (slug) DO UPDATE SET slug = EXCLUDED.slug RETURNING id`
	var id string
	if err := tx.GetContext(ctx, &id, query, tag.ID, tag.Name, tag.Slug); err != nil {
		return "", fmt.Errorf("upsert tag %s: %w", tag.Slug, err)
	}
	return id, nil
}

func linkTags(ctx context.Context, tx *sqlx.Tx, conversationID string, tagIDs []string) error {
	for _, tagID := range tagIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO conversation_tags (conversation_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, conversationID, tagID); err != nil {
			return fmt.Errorf("link tag: %w", err)
		}
	}
	return nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
