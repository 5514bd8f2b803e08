package models

import "time"

// InvitationStatus tracks an invitation's lifecycle.
type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "PENDING"
	InvitationAccepted  InvitationStatus = "ACCEPTED"
	InvitationDeclined  InvitationStatus = "DECLINED"
	InvitationCancelled InvitationStatus = "CANCELLED"
	InvitationExpired   InvitationStatus = "EXPIRED"
)

// GroupInvitation invites a user into a conversation until ExpiresAt.
type GroupInvitation struct {
	ID              string           `db:"id" json:"id"`
	ConversationID  string           `db:"conversation_id" json:"conversationId"`
	InviteeID       string           `db:"invitee_id" json:"inviteeId"`
	InviterID       string           `db:"inviter_id" json:"inviterId"`
	Message         *string          `db:"message" json:"message,omitempty"`
	IsSuggested     bool             `db:"is_suggested" json:"isSuggested"`
	SimilarityScore *float64         `db:"similarity_score" json:"similarityScore,omitempty"`
	Status          InvitationStatus `db:"status" json:"status"`
	ExpiresAt       time.Time        `db:"expires_at" json:"expiresAt"`
	RespondedAt     *time.Time       `db:"responded_at" json:"respondedAt,omitempty"`
	AuditColumns
}

// EffectiveStatus evaluates expiry lazily: a pending invitation past its
// deadline reads as expired.
func (i *GroupInvitation) EffectiveStatus(now time.Time) InvitationStatus {
	if i.Status == InvitationPending && !now.Before(i.ExpiresAt) {
		return InvitationExpired
	}
	return i.Status
}

// InvitationView adds display names for listings.
type InvitationView struct {
	GroupInvitation
	InviteeName      string `db:"invitee_name" json:"inviteeName"`
	InviterName      string `db:"inviter_name" json:"inviterName"`
	ConversationName string `db:"conversation_name" json:"conversationName"`
}

// InvitationFilter narrows invitation listings.
type InvitationFilter struct {
	ConversationID string
	InviteeID      string
	Status         *InvitationStatus
	Page           int
	PageSize       int
}

// InvitationResponse is the outcome written when an invitee answers.
type InvitationResponse struct {
	InvitationID  string
	Accept        bool
	ActorID       string
	MemberID      string
	SystemMessage *Message
}

// CreateInvitationRequest invites a user into a conversation.
type CreateInvitationRequest struct {
	InviteeID       string   `json:"inviteeId" validate:"required"`
	Message         *string  `json:"message" validate:"omitempty,max=500"`
	IsSuggested     bool     `json:"isSuggested"`
	SimilarityScore *float64 `json:"similarityScore" validate:"omitempty,min=0,max=1"`
}
