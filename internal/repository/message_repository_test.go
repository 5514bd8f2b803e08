package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studyhub-api/internal/models"
)

func TestMessageCreatePendingDoesNotAdvanceLatest(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO messages").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sender := "u-1"
	msg := &models.Message{ID: 10, ConversationID: "c-1", SenderID: &sender, Content: "hi", ReviewStatus: models.ReviewPending}
	require.NoError(t, repo.Create(context.Background(), msg))
	assert.Equal(t, int64(1), msg.RowVersion)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageListHidesPendingFromOthers(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	before := int64(100)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("(m.review_status = 'APPROVED' OR m.sender_id = $2) AND m.id < $3 ORDER BY m.id DESC LIMIT $4")).
		WithArgs("c-1", "viewer", before, 20).
		WillReturnRows(sqlmock.NewRows(append(messageRowColumns(), "sender_name", "sender_avatar_url")).
			AddRow(99, "c-1", "u-2", nil, "latest", nil, false, nil, false, nil, nil, "APPROVED", nil, nil, now, "u-2", now, nil, false, nil, nil, 1, "Budi", nil))

	messages, err := repo.List(context.Background(), models.MessageQuery{ConversationID: "c-1", ViewerID: "viewer", Before: &before, Limit: 20})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, int64(99), messages[0].ID)
	require.NotNil(t, messages[0].SenderName)
	assert.Equal(t, "Budi", *messages[0].SenderName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageUpdateContentStale(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	mock.ExpectQuery("UPDATE messages SET content").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM messages")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := repo.UpdateContent(context.Background(), models.MessageEdit{MessageID: 5, Content: "x", ExpectedVersion: 1, ActorID: "u-1"})
	assert.ErrorIs(t, err, ErrStaleVersion)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageSetPinnedTwiceIsInvalidState(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("is_pinned = NOT $2")).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.SetPinned(context.Background(), 5, true, "u-1", nil)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageSoftDeleteRecomputesLatest(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE messages SET is_deleted = TRUE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND last_message_id = $2")).
		WithArgs("c-1", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SoftDelete(context.Background(), &models.Message{ID: 5, ConversationID: "c-1"}, "u-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageReviewApprovalAdvancesLatest(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("review_status = 'PENDING'")).
		WithArgs(int64(8), "APPROVED", "mod", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(messageRowColumns()).
			AddRow(8, "c-1", "u-2", nil, "pending", nil, false, nil, false, nil, nil, "APPROVED", "mod", now, now, "u-2", now, "mod", false, nil, nil, 2))
	mock.ExpectExec(regexp.QuoteMeta("last_message_id < $2")).WithArgs("c-1", int64(8)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg, err := repo.Review(context.Background(), 8, models.ReviewApproved, "mod")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewApproved, msg.ReviewStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}
