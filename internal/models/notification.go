package models

import "time"

// NotificationType classifies notifications for client rendering.
type NotificationType string

const (
	NotificationJoinRequest      NotificationType = "JOIN_REQUEST"
	NotificationJoinApproved     NotificationType = "JOIN_APPROVED"
	NotificationJoinRejected     NotificationType = "JOIN_REJECTED"
	NotificationInvitation       NotificationType = "INVITATION"
	NotificationInvitationAnswer NotificationType = "INVITATION_ANSWERED"
	NotificationMessageReview    NotificationType = "MESSAGE_REVIEW"
	NotificationReportResolved   NotificationType = "REPORT_RESOLVED"
	NotificationRoleChanged      NotificationType = "ROLE_CHANGED"
)

// Notification is a per-user inbox entry.
type Notification struct {
	ID            string           `db:"id" json:"id"`
	UserID        string           `db:"user_id" json:"userId"`
	Type          NotificationType `db:"type" json:"type"`
	Title         string           `db:"title" json:"title"`
	Content       string           `db:"content" json:"content"`
	ReferenceType *string          `db:"reference_type" json:"referenceType,omitempty"`
	ReferenceID   *string          `db:"reference_id" json:"referenceId,omitempty"`
	IsRead        bool             `db:"is_read" json:"isRead"`
	ReadAt        *time.Time       `db:"read_at" json:"readAt,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"createdAt"`
}

// NotificationFilter narrows inbox listings.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Page       int
	PageSize   int
}
