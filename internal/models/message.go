package models

import "time"

// SystemMessageType marks messages generated by membership and moderation events.
type SystemMessageType string

const (
	SystemCreated     SystemMessageType = "CREATED"
	SystemJoined      SystemMessageType = "JOINED"
	SystemLeft        SystemMessageType = "LEFT"
	SystemRoleChanged SystemMessageType = "ROLE_CHANGED"
	SystemPinned      SystemMessageType = "PINNED"
	SystemUnpinned    SystemMessageType = "UNPINNED"
	SystemApproved    SystemMessageType = "APPROVED"
)

// ReviewStatus is the moderation state of a message.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "PENDING"
	ReviewApproved ReviewStatus = "APPROVED"
	ReviewRejected ReviewStatus = "REJECTED"
)

// Message is a chat message. IDs are time-ordered snowflakes, which makes
// them usable as pagination cursors.
type Message struct {
	ID             int64              `db:"id" json:"id,string"`
	ConversationID string             `db:"conversation_id" json:"conversationId"`
	SenderID       *string            `db:"sender_id" json:"senderId,omitempty"`
	ParentID       *int64             `db:"parent_id" json:"parentId,string,omitempty"`
	Content        string             `db:"content" json:"content"`
	SystemType     *SystemMessageType `db:"system_type" json:"systemType,omitempty"`
	IsEdited       bool               `db:"is_edited" json:"isEdited"`
	EditedAt       *time.Time         `db:"edited_at" json:"editedAt,omitempty"`
	IsPinned       bool               `db:"is_pinned" json:"isPinned"`
	PinnedAt       *time.Time         `db:"pinned_at" json:"pinnedAt,omitempty"`
	PinnedBy       *string            `db:"pinned_by" json:"pinnedBy,omitempty"`
	ReviewStatus   ReviewStatus       `db:"review_status" json:"reviewStatus"`
	ReviewedBy     *string            `db:"reviewed_by" json:"reviewedBy,omitempty"`
	ReviewedAt     *time.Time         `db:"reviewed_at" json:"reviewedAt,omitempty"`
	AuditColumns
}

// IsSystem reports whether the message was generated by the platform.
func (m *Message) IsSystem() bool {
	return m.SystemType != nil
}

// IsAuthor reports whether userID sent the message.
func (m *Message) IsAuthor(userID string) bool {
	return m.SenderID != nil && *m.SenderID == userID
}

// MessagePreview is a compact projection used for replies and latest message.
type MessagePreview struct {
	ID         int64              `db:"id" json:"id,string"`
	SenderID   *string            `db:"sender_id" json:"senderId,omitempty"`
	SenderName *string            `db:"sender_name" json:"senderName,omitempty"`
	Content    string             `db:"content" json:"content"`
	SystemType *SystemMessageType `db:"system_type" json:"systemType,omitempty"`
	IsDeleted  bool               `db:"is_deleted" json:"isDeleted"`
	CreatedAt  time.Time          `db:"created_at" json:"createdAt"`
}

// MessageView is a message with its sender and reply preview.
type MessageView struct {
	Message
	SenderName      *string         `db:"sender_name" json:"senderName,omitempty"`
	SenderAvatarURL *string         `db:"sender_avatar_url" json:"senderAvatarUrl,omitempty"`
	ReplyTo         *MessagePreview `db:"-" json:"replyTo,omitempty"`
}

// MessageQuery pages backwards from Before (exclusive).
type MessageQuery struct {
	ConversationID string
	ViewerID       string
	Before         *int64
	Limit          int
	IncludeHidden  bool
	PinnedOnly     bool
}

// MessageEdit replaces content guarded by ExpectedVersion.
type MessageEdit struct {
	MessageID       int64
	Content         string
	ExpectedVersion int64
	ActorID         string
}

// SendMessageRequest posts a message, optionally as a reply.
type SendMessageRequest struct {
	Content  string `json:"content" validate:"required"`
	ParentID *int64 `json:"parentId,string,omitempty"`
}

// EditMessageRequest replaces a message's content.
type EditMessageRequest struct {
	Content    string `json:"content" validate:"required"`
	RowVersion int64  `json:"rowVersion" validate:"required,min=1"`
}

// ReviewMessageRequest resolves a pending message.
type ReviewMessageRequest struct {
	Status ReviewStatus `json:"status" validate:"required,oneof=APPROVED REJECTED"`
}

// MessagePage is one page of history in ascending order. NextCursor pages
// further back when HasMore is set.
type MessagePage struct {
	Items      []MessageView `json:"items"`
	HasMore    bool          `json:"hasMore"`
	NextCursor *int64        `json:"nextCursor,string,omitempty"`
}
