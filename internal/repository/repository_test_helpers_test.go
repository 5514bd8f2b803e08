package repository

import (
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "postgres")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func memberRowColumns() []string {
	return []string{"id", "conversation_id", "user_id", "role", "is_muted", "last_read_message_id", "joined_at", "invited_by",
		"similarity_score", "response_deadline", "invitation_status", "created_at", "created_by", "updated_at", "updated_by",
		"is_deleted", "deleted_at", "deleted_by", "row_version"}
}

func messageRowColumns() []string {
	return []string{"id", "conversation_id", "sender_id", "parent_id", "content", "system_type", "is_edited", "edited_at",
		"is_pinned", "pinned_at", "pinned_by", "review_status", "reviewed_by", "reviewed_at", "created_at", "created_by",
		"updated_at", "updated_by", "is_deleted", "deleted_at", "deleted_by", "row_version"}
}

func joinRequestRowColumns() []string {
	return []string{"id", "conversation_id", "user_id", "message", "status", "reviewed_by", "reviewed_at", "review_note",
		"created_at", "created_by", "updated_at", "updated_by", "is_deleted", "deleted_at", "deleted_by", "row_version"}
}
