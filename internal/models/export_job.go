package models

import "time"

// ExportFormat enumerates supported transcript formats.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportStatus captures background job lifecycle states.
type ExportStatus string

const (
	ExportStatusQueued     ExportStatus = "QUEUED"
	ExportStatusProcessing ExportStatus = "PROCESSING"
	ExportStatusFinished   ExportStatus = "FINISHED"
	ExportStatusFailed     ExportStatus = "FAILED"
)

// TranscriptExport is a persisted conversation export job.
type TranscriptExport struct {
	ID             string       `db:"id" json:"id"`
	ConversationID string       `db:"conversation_id" json:"conversationId"`
	Format         ExportFormat `db:"format" json:"format"`
	Status         ExportStatus `db:"status" json:"status"`
	StorageKey     *string      `db:"storage_key" json:"-"`
	MessageCount   int          `db:"message_count" json:"messageCount"`
	ErrorMessage   *string      `db:"error_message" json:"errorMessage,omitempty"`
	RequestedBy    string       `db:"requested_by" json:"requestedBy"`
	CreatedAt      time.Time    `db:"created_at" json:"createdAt"`
	FinishedAt     *time.Time   `db:"finished_at" json:"finishedAt,omitempty"`
	DownloadURL    string       `db:"-" json:"downloadUrl,omitempty"`
	URLExpiresAt   *time.Time   `db:"-" json:"urlExpiresAt,omitempty"`
}

// ExportUpdate applies partial status changes to an export job.
type ExportUpdate struct {
	Status       *ExportStatus
	StorageKey   *string
	MessageCount *int
	ErrorMessage *string
	FinishedAt   *time.Time
}

// CreateExportRequest asks for a transcript of a conversation.
type CreateExportRequest struct {
	Format ExportFormat `json:"format" validate:"required,oneof=csv pdf"`
}
