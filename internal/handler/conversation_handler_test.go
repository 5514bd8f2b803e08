package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studyhub-api/internal/models"
	appErrors "github.com/noah-isme/studyhub-api/pkg/errors"
)

type conversationServiceMock struct {
	detail     *models.ConversationDetail
	items      []models.ConversationListItem
	err        error
	lastFilter models.ConversationFilter
	lastCreate models.CreateConversationRequest
}

func (m *conversationServiceMock) Create(ctx context.Context, req models.CreateConversationRequest, actorID string) (*models.ConversationDetail, error) {
	m.lastCreate = req
	return m.detail, m.err
}

func (m *conversationServiceMock) Detail(ctx context.Context, id, viewerID string) (*models.ConversationDetail, error) {
	return m.detail, m.err
}

func (m *conversationServiceMock) List(ctx context.Context, filter models.ConversationFilter) ([]models.ConversationListItem, *models.Pagination, error) {
	m.lastFilter = filter
	return m.items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: len(m.items)}, m.err
}

func (m *conversationServiceMock) Update(ctx context.Context, id string, req models.UpdateConversationRequest, actorID string) (*models.ConversationDetail, error) {
	return m.detail, m.err
}

func (m *conversationServiceMock) Dissolve(ctx context.Context, id, actorID string) error {
	return m.err
}

type suggestionMock struct {
	items []models.ConversationSuggestion
	err   error
}

func (m suggestionMock) SuggestConversations(ctx context.Context, userID string) ([]models.ConversationSuggestion, error) {
	return m.items, m.err
}

type memberServiceMock struct {
	outcome *models.JoinOutcome
	err     error
	muteReq models.MuteRequest
}

func (m *memberServiceMock) List(ctx context.Context, conversationID, viewerID string) ([]models.MemberView, error) {
	return nil, m.err
}

func (m *memberServiceMock) Join(ctx context.Context, conversationID, userID string, req models.JoinConversationRequest) (*models.JoinOutcome, error) {
	return m.outcome, m.err
}

func (m *memberServiceMock) Leave(ctx context.Context, conversationID, userID string) error {
	return m.err
}

func (m *memberServiceMock) ChangeRole(ctx context.Context, conversationID, targetID, actorID string, req models.ChangeRoleRequest) (*models.ConversationMember, error) {
	return nil, m.err
}

func (m *memberServiceMock) Remove(ctx context.Context, conversationID, targetID, actorID string) error {
	return m.err
}

func (m *memberServiceMock) SetMuted(ctx context.Context, conversationID, userID string, req models.MuteRequest) (bool, error) {
	m.muteReq = req
	return true, m.err
}

func (m *memberServiceMock) MarkRead(ctx context.Context, conversationID, userID string, req models.MarkReadRequest) error {
	return m.err
}

func TestConversationHandlerListFilters(t *testing.T) {
	mock := &conversationServiceMock{items: []models.ConversationListItem{{}}}
	handler := NewConversationHandler(mock, suggestionMock{})

	c, w := newGinContext(http.MethodGet, "/conversation?search=%20algo%20&visibility=private&mine=true&page=2&pageSize=10", nil)
	asUser(c, "u1")

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", mock.lastFilter.ViewerID)
	assert.Equal(t, "algo", mock.lastFilter.Search)
	require.NotNil(t, mock.lastFilter.Visibility)
	assert.Equal(t, models.VisibilityPrivate, *mock.lastFilter.Visibility)
	assert.True(t, mock.lastFilter.MineOnly)
	assert.Equal(t, 2, mock.lastFilter.Page)

	env := decodeEnvelope(t, w, nil)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 10, env.Pagination.PageSize)
}

func TestConversationHandlerCreate(t *testing.T) {
	mock := &conversationServiceMock{detail: &models.ConversationDetail{}}
	handler := NewConversationHandler(mock, suggestionMock{})

	c, w := newGinContext(http.MethodPost, "/conversation", mustJSON(t, models.CreateConversationRequest{Name: "CS101", TagIDs: []string{"t1"}}))
	asUser(c, "u1")

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "CS101", mock.lastCreate.Name)

	c, w = newGinContext(http.MethodPost, "/conversation", []byte(`{"name":`))
	asUser(c, "u1")
	handler.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConversationHandlerDissolveForbidden(t *testing.T) {
	handler := NewConversationHandler(&conversationServiceMock{err: appErrors.Clone(appErrors.ErrForbidden, "only the owner can dissolve")}, suggestionMock{})

	c, w := newGinContext(http.MethodDelete, "/conversation/c1", nil)
	c.Params = gin.Params{{Key: "id", Value: "c1"}}
	asUser(c, "u2")

	handler.Dissolve(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestConversationHandlerSuggestionsUnavailable(t *testing.T) {
	handler := NewConversationHandler(&conversationServiceMock{}, suggestionMock{err: appErrors.Clone(appErrors.ErrUnavailable, "recommendations unavailable")})

	c, w := newGinContext(http.MethodGet, "/conversation/suggestions", nil)
	asUser(c, "u1")

	handler.Suggestions(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMemberHandlerJoinStatusCodes(t *testing.T) {
	mock := &memberServiceMock{outcome: &models.JoinOutcome{Status: models.JoinStatusJoined}}
	handler := NewMemberHandler(mock)

	c, w := newGinContext(http.MethodPost, "/conversation/c1/join", nil)
	c.Params = gin.Params{{Key: "id", Value: "c1"}}
	asUser(c, "u1")
	handler.Join(c)
	assert.Equal(t, http.StatusOK, w.Code)

	mock.outcome = &models.JoinOutcome{Status: models.JoinStatusPending}
	c, w = newGinContext(http.MethodPost, "/conversation/c1/join", []byte(`{"message":"let me in"}`))
	c.Params = gin.Params{{Key: "id", Value: "c1"}}
	asUser(c, "u1")
	handler.Join(c)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestMemberHandlerMuteToggleWithoutBody(t *testing.T) {
	mock := &memberServiceMock{}
	handler := NewMemberHandler(mock)

	c, w := newGinContext(http.MethodPut, "/conversation/c1/mute", nil)
	c.Params = gin.Params{{Key: "id", Value: "c1"}}
	asUser(c, "u1")
	handler.Mute(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, mock.muteReq.IsMuted)
	var body map[string]bool
	decodeEnvelope(t, w, &body)
	assert.True(t, body["isMuted"])
}
