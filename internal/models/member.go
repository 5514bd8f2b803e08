package models

import "time"

// MemberRole is the role of a member inside one conversation.
type MemberRole int16

const (
	MemberRoleMember MemberRole = 0
	MemberRoleDeputy MemberRole = 1
	MemberRoleOwner  MemberRole = 2
)

// Valid reports whether r is a known role.
func (r MemberRole) Valid() bool {
	return r >= MemberRoleMember && r <= MemberRoleOwner
}

// CanModerate reports whether the role may manage members and content.
func (r MemberRole) CanModerate() bool {
	return r == MemberRoleOwner || r == MemberRoleDeputy
}

func (r MemberRole) String() string {
	switch r {
	case MemberRoleOwner:
		return "owner"
	case MemberRoleDeputy:
		return "deputy"
	default:
		return "member"
	}
}

// MembershipFromInvitation is stored in invitation_status for memberships
// created by accepting an invitation.
const MembershipFromInvitation = "ACCEPTED"

// ConversationMember is a user's membership in a conversation.
type ConversationMember struct {
	ID                string     `db:"id" json:"id"`
	ConversationID    string     `db:"conversation_id" json:"conversationId"`
	UserID            string     `db:"user_id" json:"userId"`
	Role              MemberRole `db:"role" json:"role"`
	IsMuted           bool       `db:"is_muted" json:"isMuted"`
	LastReadMessageID *int64     `db:"last_read_message_id" json:"lastReadMessageId,string,omitempty"`
	JoinedAt          time.Time  `db:"joined_at" json:"joinedAt"`
	InvitedBy         *string    `db:"invited_by" json:"invitedBy,omitempty"`
	SimilarityScore   *float64   `db:"similarity_score" json:"similarityScore,omitempty"`
	ResponseDeadline  *time.Time `db:"response_deadline" json:"responseDeadline,omitempty"`
	InvitationStatus  *string    `db:"invitation_status" json:"invitationStatus,omitempty"`
	AuditColumns
}

// MemberView is a membership joined with the member's public profile.
type MemberView struct {
	ConversationMember
	FullName   string  `db:"full_name" json:"fullName"`
	AvatarURL  *string `db:"user_avatar_url" json:"avatarUrl,omitempty"`
	TrustLevel int     `db:"trust_level" json:"trustLevel"`
}

// NewMembership describes a membership to insert or reactivate.
type NewMembership struct {
	ID               string
	ConversationID   string
	UserID           string
	Role             MemberRole
	InvitedBy        *string
	SimilarityScore  *float64
	ResponseDeadline *time.Time
	InvitationStatus *string
	ActorID          string
}

// JoinConversationRequest optionally carries a note for private conversations.
type JoinConversationRequest struct {
	Message *string `json:"message" validate:"omitempty,max=500"`
}

// JoinOutcome reports whether the caller joined or is awaiting approval.
type JoinOutcome struct {
	Status      string              `json:"status"`
	Member      *ConversationMember `json:"member,omitempty"`
	JoinRequest *JoinRequest        `json:"joinRequest,omitempty"`
}

// Join outcome statuses.
const (
	JoinStatusJoined  = "JOINED"
	JoinStatusPending = "PENDING"
)

// ChangeRoleRequest sets a member's role. Role 2 transfers ownership.
type ChangeRoleRequest struct {
	Role *MemberRole `json:"role" validate:"required,min=0,max=2"`
}

// MuteRequest sets the caller's mute flag; omitted means toggle.
type MuteRequest struct {
	IsMuted *bool `json:"isMuted"`
}

// MarkReadRequest advances the caller's read pointer.
type MarkReadRequest struct {
	MessageID int64 `json:"messageId,string" validate:"required,gt=0"`
}
