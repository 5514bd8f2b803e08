package models

import "time"

// JoinRequestStatus tracks the approval workflow.
type JoinRequestStatus string

const (
	JoinRequestPending   JoinRequestStatus = "PENDING"
	JoinRequestApproved  JoinRequestStatus = "APPROVED"
	JoinRequestRejected  JoinRequestStatus = "REJECTED"
	JoinRequestCancelled JoinRequestStatus = "CANCELLED"
)

// JoinRequest asks to join a private conversation. Rejected and cancelled
// requests are terminal; asking again creates a new record.
type JoinRequest struct {
	ID             string            `db:"id" json:"id"`
	ConversationID string            `db:"conversation_id" json:"conversationId"`
	UserID         string            `db:"user_id" json:"userId"`
	Message        *string           `db:"message" json:"message,omitempty"`
	Status         JoinRequestStatus `db:"status" json:"status"`
	ReviewedBy     *string           `db:"reviewed_by" json:"reviewedBy,omitempty"`
	ReviewedAt     *time.Time        `db:"reviewed_at" json:"reviewedAt,omitempty"`
	ReviewNote     *string           `db:"review_note" json:"reviewNote,omitempty"`
	AuditColumns
}

// JoinRequestView adds requester and conversation names for listings.
type JoinRequestView struct {
	JoinRequest
	RequesterName    string `db:"requester_name" json:"requesterName"`
	ConversationName string `db:"conversation_name" json:"conversationName"`
}

// JoinRequestFilter narrows join request listings.
type JoinRequestFilter struct {
	ConversationID string
	UserID         string
	Status         *JoinRequestStatus
	Page           int
	PageSize       int
}

// JoinRequestDecision is the outcome written when a request is reviewed.
type JoinRequestDecision struct {
	RequestID     string
	Approve       bool
	Note          *string
	ReviewerID    string
	MemberID      string
	SystemMessage *Message
}

// ReviewJoinRequest carries an optional reviewer note.
type ReviewJoinRequest struct {
	Note *string `json:"note" validate:"omitempty,max=500"`
}
