package models

import "time"

// ReportTargetType enumerates reportable content.
type ReportTargetType string

const (
	ReportTargetDocumentFile ReportTargetType = "DOCUMENT_FILE"
	ReportTargetComment      ReportTargetType = "COMMENT"
	ReportTargetMessage      ReportTargetType = "MESSAGE"
)

// ReportReason enumerates why content was reported.
type ReportReason string

const (
	ReportReasonSpam          ReportReason = "SPAM"
	ReportReasonInappropriate ReportReason = "INAPPROPRIATE"
	ReportReasonCopyright     ReportReason = "COPYRIGHT"
	ReportReasonOther         ReportReason = "OTHER"
)

// ReportStatus is the moderation queue state.
type ReportStatus string

const (
	ReportStatusPending  ReportStatus = "PENDING"
	ReportStatusResolved ReportStatus = "RESOLVED"
)

// ReportDecision is the reviewer's outcome.
type ReportDecision string

const (
	ReportDecisionUpheld    ReportDecision = "UPHELD"
	ReportDecisionDismissed ReportDecision = "DISMISSED"
)

// Report flags a piece of content for moderation.
type Report struct {
	ID          string           `db:"id" json:"id"`
	TargetType  ReportTargetType `db:"target_type" json:"targetType"`
	TargetID    string           `db:"target_id" json:"targetId"`
	ReporterID  string           `db:"reporter_id" json:"reporterId"`
	Reason      ReportReason     `db:"reason" json:"reason"`
	Description *string          `db:"description" json:"description,omitempty"`
	Status      ReportStatus     `db:"status" json:"status"`
	Decision    *ReportDecision  `db:"decision" json:"decision,omitempty"`
	ReviewerID  *string          `db:"reviewer_id" json:"reviewerId,omitempty"`
	ReviewedAt  *time.Time       `db:"reviewed_at" json:"reviewedAt,omitempty"`
	ReviewNote  *string          `db:"review_note" json:"reviewNote,omitempty"`
	AuditColumns
}

// ReportFilter narrows moderation listings.
type ReportFilter struct {
	Status     *ReportStatus
	TargetType *ReportTargetType
	Page       int
	PageSize   int
}

// ReportReview is the reviewer's input when resolving a report.
type ReportReview struct {
	ReportID   string
	Decision   ReportDecision
	Note       *string
	ReviewerID string
}

// ReportOutcome describes what resolving a report changed.
type ReportOutcome struct {
	Report         *Report
	AuthorID       string
	Trust          *UserTrustHistory
	RemovedMessage *Message
}

// CreateReportRequest flags content for moderation.
type CreateReportRequest struct {
	TargetType  ReportTargetType `json:"targetType" validate:"required,oneof=DOCUMENT_FILE COMMENT MESSAGE"`
	TargetID    string           `json:"targetId" validate:"required"`
	Reason      ReportReason     `json:"reason" validate:"required,oneof=SPAM INAPPROPRIATE COPYRIGHT OTHER"`
	Description *string          `json:"description" validate:"omitempty,max=1000"`
}

// ReviewReportRequest resolves a pending report.
type ReviewReportRequest struct {
	Decision ReportDecision `json:"decision" validate:"required,oneof=UPHELD DISMISSED"`
	Note     *string        `json:"note" validate:"omitempty,max=1000"`
}
