package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/studyhub-api/internal/models"
	"github.com/noah-isme/studyhub-api/internal/realtime"
	appErrors "github.com/noah-isme/studyhub-api/pkg/errors"
)

type conversationFixture struct {
	store *chatStore
	bus   *busStub
	audit *recordingAudit
	svc   *ConversationService
}

type recordingAudit struct {
	logs []*models.AuditLog
}

func (a *recordingAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newConversationFixture() *conversationFixture {
	store := newChatStore()
	store.addUser("owner", "Olivia Owner")
	store.addUser("viewer", "Victor Viewer")
	bus := &busStub{}
	audit := &recordingAudit{}
	svc := NewConversationService(ConversationDeps{
		Conversations: fakeConversations{store},
		Members:       fakeMembers{store},
		JoinRequests:  fakeJoinRequests{store},
		Invitations:   fakeInvitations{store},
		Messages:      fakeMessages{store},
		Subjects:      fakeSubjects{"calc-1": true},
		Audit:         audit,
		Bus:           bus,
		IDs:           &idStub{},
	}, nil, zap.NewNop())
	return &conversationFixture{store: store, bus: bus, audit: audit, svc: svc}
}

func TestConversationCreateMakesCallerOwner(t *testing.T) {
	f := newConversationFixture()

	detail, err := f.svc.Create(context.Background(), models.CreateConversationRequest{
		Name:        "  Linear Algebra  ",
		NewTagNames: []string{"Linear  Algebra", "linear algebra", "Exam Prep"},
	}, "owner")
	require.NoError(t, err)

	assert.Equal(t, "Linear Algebra", detail.Name)
	assert.Equal(t, models.VisibilityPublic, detail.Visibility)
	assert.Equal(t, models.ConversationTypeGroup, detail.Type)
	assert.True(t, detail.IsCurrentUserMember)
	require.NotNil(t, detail.CurrentUserRole)
	assert.Equal(t, models.MemberRoleOwner, *detail.CurrentUserRole)
	assert.Equal(t, 1, detail.MemberCount)
	require.Len(t, detail.Tags, 2)
	assert.Equal(t, "linear-algebra", detail.Tags[0].Slug)
	require.NotNil(t, detail.LastMessage)
	assert.Equal(t, "created the conversation", detail.LastMessage.Content)
}

func TestConversationCreateRequiresTag(t *testing.T) {
	f := newConversationFixture()

	_, err := f.svc.Create(context.Background(), models.CreateConversationRequest{Name: "No tags", NewTagNames: []string{"   "}}, "owner")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestConversationCreateStudyNeedsExistingSubject(t *testing.T) {
	f := newConversationFixture()
	ctx := context.Background()

	_, err := f.svc.Create(ctx, models.CreateConversationRequest{
		Name:   "Study",
		Type:   models.ConversationTypeStudy,
		TagIDs: []string{"t1"},
	}, "owner")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	unknown := "nope"
	_, err = f.svc.Create(ctx, models.CreateConversationRequest{
		Name:      "Study",
		Type:      models.ConversationTypeStudy,
		SubjectID: &unknown,
		TagIDs:    []string{"t1"},
	}, "owner")
	require.Error(t, err)
	assert.Equal(t, "subject does not exist", appErrors.FromError(err).Message)

	subject := "calc-1"
	detail, err := f.svc.Create(ctx, models.CreateConversationRequest{
		Name:      "Study",
		Type:      models.ConversationTypeStudy,
		SubjectID: &subject,
		TagIDs:    []string{"t1"},
	}, "owner")
	require.NoError(t, err)
	assert.Equal(t, &subject, detail.SubjectID)
}

func TestConversationDetailFlagsPendingJoinRequest(t *testing.T) {
	f := newConversationFixture()
	f.store.addConversation("c1", models.VisibilityPrivate, false)
	f.store.addMember("c1", "owner", models.MemberRoleOwner)
	require.NoError(t, fakeJoinRequests{f.store}.Create(context.Background(), &models.JoinRequest{ID: "jr1", ConversationID: "c1", UserID: "viewer"}))

	detail, err := f.svc.Detail(context.Background(), "c1", "viewer")
	require.NoError(t, err)
	assert.False(t, detail.IsCurrentUserMember)
	assert.True(t, detail.HasPendingJoinRequest)
	assert.False(t, detail.HasPendingInvitation)
	assert.Nil(t, detail.LastMessage)
}

func TestConversationUpdateStaleVersion(t *testing.T) {
	f := newConversationFixture()
	f.store.addConversation("c1", models.VisibilityPublic, false)
	f.store.addMember("c1", "owner", models.MemberRoleOwner)
	f.store.addMember("c1", "viewer", models.MemberRoleMember)
	ctx := context.Background()

	req := models.UpdateConversationRequest{
		CreateConversationRequest: models.CreateConversationRequest{Name: "Renamed", TagIDs: []string{"t1"}},
		RowVersion:                1,
	}
	_, err := f.svc.Update(ctx, "c1", req, "viewer")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	detail, err := f.svc.Update(ctx, "c1", req, "owner")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", detail.Name)
	assert.Equal(t, int64(2), detail.RowVersion)

	_, err = f.svc.Update(ctx, "c1", req, "owner")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConcurrency.Code, appErrors.FromError(err).Code)
}

func TestConversationUpdateToPrivateRestrictsGroup(t *testing.T) {
	f := newConversationFixture()
	f.store.addConversation("c1", models.VisibilityPublic, false)
	f.store.addMember("c1", "owner", models.MemberRoleOwner)
	ctx := context.Background()

	req := models.UpdateConversationRequest{
		CreateConversationRequest: models.CreateConversationRequest{Name: "Same", TagIDs: []string{"t1"}},
		RowVersion:                1,
	}
	_, err := f.svc.Update(ctx, "c1", req, "owner")
	require.NoError(t, err)
	events := f.bus.ofType(realtime.EventConversationUpdated)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].RestrictTo)

	req.Visibility = models.VisibilityPrivate
	req.RowVersion = 2
	_, err = f.svc.Update(ctx, "c1", req, "owner")
	require.NoError(t, err)
	events = f.bus.ofType(realtime.EventConversationUpdated)
	require.Len(t, events, 2)
	assert.Equal(t, "c1", events[1].ConversationID)
	assert.Equal(t, []string{"owner"}, events[1].RestrictTo)

	err = f.svc.CanSubscribe(ctx, "c1", "viewer")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestConversationDissolve(t *testing.T) {
	f := newConversationFixture()
	f.store.addConversation("c1", models.VisibilityPublic, false)
	f.store.addMember("c1", "owner", models.MemberRoleOwner)
	f.store.addMember("c1", "viewer", models.MemberRoleDeputy)
	ctx := context.Background()

	err := f.svc.Dissolve(ctx, "c1", "viewer")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	require.NoError(t, f.svc.Dissolve(ctx, "c1", "owner"))

	events := f.bus.ofType(realtime.EventConversationDissolved)
	require.Len(t, events, 1)
	assert.True(t, events[0].CloseGroup)
	assert.ElementsMatch(t, []string{"owner", "viewer"}, events[0].Recipients)
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionConversationDelete, f.audit.logs[0].Action)

	_, err = f.svc.Detail(ctx, "c1", "owner")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestConversationCanSubscribe(t *testing.T) {
	f := newConversationFixture()
	f.store.addConversation("pub", models.VisibilityPublic, false)
	f.store.addConversation("priv", models.VisibilityPrivate, false)
	f.store.addMember("priv", "owner", models.MemberRoleOwner)
	ctx := context.Background()

	assert.NoError(t, f.svc.CanSubscribe(ctx, "pub", "viewer"))
	assert.NoError(t, f.svc.CanSubscribe(ctx, "priv", "owner"))

	err := f.svc.CanSubscribe(ctx, "priv", "viewer")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	err = f.svc.CanSubscribe(ctx, "missing", "viewer")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestConversationListHidesForeignPrivateRooms(t *testing.T) {
	f := newConversationFixture()
	f.store.addConversation("pub", models.VisibilityPublic, false)
	f.store.addConversation("priv", models.VisibilityPrivate, false)
	f.store.addMember("priv", "owner", models.MemberRoleOwner)

	items, page, err := f.svc.List(context.Background(), models.ConversationFilter{ViewerID: "viewer", Page: 1, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "pub", items[0].ID)
	assert.NotNil(t, items[0].Tags)
	assert.Equal(t, 1, page.TotalCount)
}
