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

func TestConversationCreateWritesOwnerAndSystemMessage(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewConversationRepository(db)

	now := time.Now()
	creator := "user-a"
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO conversations").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tags (id, name, slug)")).
		WithArgs(sqlmock.AnyArg(), "algorithms", "algorithms").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("tag-1"))
	mock.ExpectExec("INSERT INTO conversation_tags").WithArgs(sqlmock.AnyArg(), "tag-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO conversation_members").
		WillReturnRows(sqlmock.NewRows(memberRowColumns()).
			AddRow("m-1", "c-1", creator, 2, false, nil, now, nil, nil, nil, nil, now, creator, now, creator, false, nil, nil, 1))
	mock.ExpectExec("INSERT INTO messages").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE conversations SET last_message_id = $2")).
		WithArgs(sqlmock.AnyArg(), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created := models.SystemCreated
	nc := &models.NewConversation{
		Conversation: models.Conversation{
			Name:         "CS101 Study Group",
			Visibility:   models.VisibilityPublic,
			Type:         models.ConversationTypeStudy,
			AuditColumns: models.AuditColumns{CreatedBy: &creator},
		},
		NewTags:       []models.Tag{{Name: "algorithms", Slug: "algorithms"}},
		SystemMessage: models.Message{ID: 42, SenderID: &creator, Content: "created", SystemType: &created},
	}
	require.NoError(t, repo.Create(context.Background(), nc))
	assert.NotEmpty(t, nc.Conversation.ID)
	require.NotNil(t, nc.Conversation.LastMessageID)
	assert.Equal(t, int64(42), *nc.Conversation.LastMessageID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationUpdateStaleVersion(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewConversationRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE conversations c SET name").
		WithArgs("c-1", int64(3), "Renamed", nil, nil, models.VisibilityPublic, nil, false, sqlmock.AnyArg(), "user-a").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1")).
		WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), models.ConversationUpdate{
		ID: "c-1", Name: "Renamed", Visibility: models.VisibilityPublic, ExpectedVersion: 3, ActorID: "user-a",
	})
	assert.ErrorIs(t, err, ErrStaleVersion)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationUpdateMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewConversationRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE conversations c SET name").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), models.ConversationUpdate{ID: "c-404", ExpectedVersion: 1})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationListFiltersVisibleRows(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewConversationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("(c.visibility = 'PUBLIC' OR me.id IS NOT NULL)")).
		WithArgs("viewer", "%cs101%").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "visibility", "type", "require_approval", "created_at", "updated_at",
			"is_deleted", "row_version", "member_count", "is_member"}).
			AddRow("c-1", "CS101 Study Group", "PUBLIC", "STUDY", false, time.Now(), time.Now(), false, 1, 2, true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM conversations c")).
		WithArgs("viewer", "%cs101%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	items, total, err := repo.List(context.Background(), models.ConversationFilter{ViewerID: "viewer", Search: "CS101"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, 2, items[0].MemberCount)
	assert.True(t, items[0].IsCurrentUserMember)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationTagsForGroupsRows(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewConversationRepository(db)

	mock.ExpectQuery("FROM conversation_tags ct").
		WillReturnRows(sqlmock.NewRows([]string{"conversation_id", "id", "name", "slug"}).
			AddRow("c-1", "t-1", "algorithms", "algorithms").
			AddRow("c-1", "t-2", "graphs", "graphs").
			AddRow("c-2", "t-1", "algorithms", "algorithms"))

	tags, err := repo.TagsFor(context.Background(), []string{"c-1", "c-2"})
	require.NoError(t, err)
	assert.Len(t, tags["c-1"], 2)
	assert.Len(t, tags["c-2"], 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
