package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studyhub-api/internal/models"
)

func reportRowColumns() []string {
	return []string{"id", "target_type", "target_id", "reporter_id", "reason", "description", "status", "decision", "reviewer_id",
		"reviewed_at", "review_note", "created_at", "created_by", "updated_at", "updated_by", "is_deleted", "deleted_at", "deleted_by", "row_version"}
}

func TestReportResolveUpheldMessage(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("FROM reports WHERE id = \\$1 AND is_deleted = FALSE FOR UPDATE").
		WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows(reportRowColumns()).
			AddRow("r-1", "MESSAGE", "77", "u-5", "SPAM", nil, "PENDING", nil, nil, nil, nil, now, "u-5", now, "u-5", false, nil, nil, 1))
	mock.ExpectQuery("UPDATE reports SET status = 'RESOLVED'").
		WillReturnRows(sqlmock.NewRows(reportRowColumns()).
			AddRow("r-1", "MESSAGE", "77", "u-5", "SPAM", nil, "RESOLVED", "UPHELD", "admin", now, nil, now, "u-5", now, "admin", false, nil, nil, 2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT sender_id FROM messages")).
		WithArgs("77").
		WillReturnRows(sqlmock.NewRows([]string{"sender_id"}).AddRow("u-2"))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE users SET trust_score = trust_score + $2")).
		WithArgs("u-2", models.TrustDeltaReportUpheld, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"trust_score"}).AddRow(10))
	mock.ExpectExec("INSERT INTO user_trust_history").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE messages SET is_deleted = TRUE").
		WithArgs(int64(77), sqlmock.AnyArg(), "admin").
		WillReturnRows(sqlmock.NewRows(messageRowColumns()).
			AddRow(77, "c-1", "u-2", nil, "spam", nil, false, nil, false, nil, nil, "APPROVED", nil, nil, now, "u-2", now, "admin", true, now, "admin", 2))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND last_message_id = $2")).WithArgs("c-1", int64(77)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out, err := repo.Resolve(context.Background(), models.ReportReview{ReportID: "r-1", Decision: models.ReportDecisionUpheld, ReviewerID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "u-2", out.AuthorID)
	require.NotNil(t, out.Trust)
	assert.Equal(t, 10, out.Trust.ScoreAfter)
	require.NotNil(t, out.RemovedMessage)
	assert.Equal(t, int64(77), out.RemovedMessage.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportResolveTwiceRejected(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(reportRowColumns()).
			AddRow("r-1", "COMMENT", "cm-1", "u-5", "SPAM", nil, "RESOLVED", "DISMISSED", "admin", now, nil, now, "u-5", now, "admin", false, nil, nil, 2))
	mock.ExpectRollback()

	_, err := repo.Resolve(context.Background(), models.ReportReview{ReportID: "r-1", Decision: models.ReportDecisionUpheld, ReviewerID: "admin"})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.NoError(t, mock.ExpectationsWereMet())
}
