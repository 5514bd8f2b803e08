package models

import "time"

// ConversationVisibility controls whether users can join without approval.
type ConversationVisibility string

const (
	VisibilityPublic  ConversationVisibility = "PUBLIC"
	VisibilityPrivate ConversationVisibility = "PRIVATE"
)

// ConversationType distinguishes open groups from subject study groups.
type ConversationType string

const (
	ConversationTypeGroup ConversationType = "GROUP"
	ConversationTypeStudy ConversationType = "STUDY"
)

// Conversation is a group chat room.
type Conversation struct {
	ID              string                 `db:"id" json:"id"`
	Name            string                 `db:"name" json:"name"`
	Description     *string                `db:"description" json:"description,omitempty"`
	AvatarURL       *string                `db:"avatar_url" json:"avatarUrl,omitempty"`
	Visibility      ConversationVisibility `db:"visibility" json:"visibility"`
	Type            ConversationType       `db:"type" json:"type"`
	SubjectID       *string                `db:"subject_id" json:"subjectId,omitempty"`
	RequireApproval bool                   `db:"require_approval" json:"requireApproval"`
	LastMessageID   *int64                 `db:"last_message_id" json:"lastMessageId,string,omitempty"`
	AuditColumns
}

// IsPrivate reports whether joining requires approval.
func (c *Conversation) IsPrivate() bool {
	return c.Visibility == VisibilityPrivate
}

// ConversationListItem is a conversation row with per-caller computed fields.
type ConversationListItem struct {
	Conversation
	SubjectName         *string     `db:"subject_name" json:"subjectName,omitempty"`
	MemberCount         int         `db:"member_count" json:"memberCount"`
	IsCurrentUserMember bool        `db:"is_member" json:"isCurrentUserMember"`
	CurrentUserRole     *MemberRole `db:"current_user_role" json:"currentUserRole,omitempty"`
	LastMessageAt       *time.Time  `db:"last_message_at" json:"lastMessageAt,omitempty"`
	Tags                []Tag       `db:"-" json:"tags"`
}

// ConversationDetail is the full view of one conversation for the caller.
type ConversationDetail struct {
	ConversationListItem
	HasPendingJoinRequest bool            `json:"hasPendingJoinRequest"`
	HasPendingInvitation  bool            `json:"hasPendingInvitation"`
	LastMessage           *MessagePreview `json:"lastMessage,omitempty"`
}

// ConversationFilter captures list criteria.
type ConversationFilter struct {
	ViewerID   string
	Search     string
	SubjectID  string
	TagID      string
	Visibility *ConversationVisibility
	MineOnly   bool
	Page       int
	PageSize   int
}

// NewConversation carries everything needed to create a conversation atomically.
type NewConversation struct {
	Conversation  Conversation
	TagIDs        []string
	NewTags       []Tag
	OwnerMemberID string
	SystemMessage Message
}

// ConversationUpdate replaces mutable fields guarded by ExpectedVersion.
type ConversationUpdate struct {
	ID              string
	Name            string
	Description     *string
	AvatarURL       *string
	Visibility      ConversationVisibility
	SubjectID       *string
	RequireApproval bool
	TagIDs          []string
	NewTags         []Tag
	ExpectedVersion int64
	ActorID         string
}

// CreateConversationRequest is the payload for creating a conversation. At
// least one of TagIDs or NewTagNames must be present.
type CreateConversationRequest struct {
	Name            string                 `json:"name" validate:"required,max=200"`
	Description     *string                `json:"description" validate:"omitempty,max=2000"`
	AvatarURL       *string                `json:"avatarUrl" validate:"omitempty,url"`
	Visibility      ConversationVisibility `json:"visibility" validate:"omitempty,oneof=PUBLIC PRIVATE"`
	Type            ConversationType       `json:"type" validate:"omitempty,oneof=GROUP STUDY"`
	SubjectID       *string                `json:"subjectId"`
	RequireApproval bool                   `json:"requireApproval"`
	TagIDs          []string               `json:"tagIds" validate:"omitempty,dive,required"`
	NewTagNames     []string               `json:"newTagNames" validate:"omitempty,dive,max=50"`
}

// UpdateConversationRequest replaces mutable fields. RowVersion must match
// the stored version.
type UpdateConversationRequest struct {
	CreateConversationRequest
	RowVersion int64 `json:"rowVersion" validate:"required,min=1"`
}

// ConversationSuggestion is a recommended conversation for the caller.
type ConversationSuggestion struct {
	ConversationListItem
	Score float64 `json:"score"`
}

// MemberSuggestion is a recommended invitee for a conversation.
type MemberSuggestion struct {
	UserSummary
	SimilarityScore float64 `json:"similarityScore"`
}
