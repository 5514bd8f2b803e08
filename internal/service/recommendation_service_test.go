package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/studyhub-api/internal/models"
	appErrors "github.com/noah-isme/studyhub-api/pkg/errors"
	"github.com/noah-isme/studyhub-api/pkg/recommender"
)

type recommenderStub struct {
	enabled       bool
	members       []recommender.Candidate
	conversations []recommender.Candidate
	err           error
	calls         int
}

func (r *recommenderStub) Enabled() bool { return r.enabled }

func (r *recommenderStub) SuggestMembers(ctx context.Context, conversationID string, limit int) ([]recommender.Candidate, error) {
	r.calls++
	return r.members, r.err
}

func (r *recommenderStub) SuggestConversations(ctx context.Context, userID string, limit int) ([]recommender.Candidate, error) {
	r.calls++
	return r.conversations, r.err
}

func newRecommendationFixture(source *recommenderStub) (*chatStore, *RecommendationService) {
	store := newChatStore()
	for _, id := range []string{"owner", "alice", "bob", "carol"} {
		store.addUser(id, id)
	}
	store.addConversation("c1", models.VisibilityPublic, false)
	store.addConversation("c2", models.VisibilityPublic, false)
	store.addMember("c1", "owner", models.MemberRoleOwner)
	store.addMember("c1", "alice", models.MemberRoleMember)
	store.addMember("c2", "bob", models.MemberRoleOwner)

	cache := NewCacheService(newMemoryCache(), nil, time.Minute, zap.NewNop(), true)
	svc := NewRecommendationService(RecommendationDeps{
		Source:        source,
		Conversations: fakeConversations{store},
		Members:       fakeMembers{store},
		Invitations:   fakeInvitations{store},
		Users:         fakeUsers{store},
		Cache:         cache,
	}, time.Minute, 10, zap.NewNop())
	return store, svc
}

func TestRecommendationSuggestMembersFiltersLocalState(t *testing.T) {
	source := &recommenderStub{enabled: true, members: []recommender.Candidate{
		{ID: "alice", Score: 0.9},
		{ID: "bob", Score: 0.8},
		{ID: "carol", Score: 0.7},
		{ID: "ghost", Score: 0.6},
	}}
	store, svc := newRecommendationFixture(source)
	ctx := context.Background()

	_, err := svc.SuggestMembers(ctx, "c1", "alice")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	out, err := svc.SuggestMembers(ctx, "c1", "owner")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "bob", out[0].ID)
	assert.Equal(t, 0.8, out[0].SimilarityScore)
	assert.Equal(t, "carol", out[1].ID)

	require.NoError(t, fakeInvitations{store}.Create(ctx, &models.GroupInvitation{
		ID: "inv1", ConversationID: "c1", InviteeID: "bob", InviterID: "owner", ExpiresAt: store.now.Add(time.Hour),
	}))
	out, err = svc.SuggestMembers(ctx, "c1", "owner")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "carol", out[0].ID)
	assert.Equal(t, 1, source.calls)
}

func TestRecommendationSuggestConversationsSkipsJoined(t *testing.T) {
	source := &recommenderStub{enabled: true, conversations: []recommender.Candidate{
		{ID: "c1", Score: 0.9},
		{ID: "c2", Score: 0.5},
		{ID: "gone", Score: 0.4},
	}}
	_, svc := newRecommendationFixture(source)

	out, err := svc.SuggestConversations(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "c2", out[0].ID)
	assert.Equal(t, 0.5, out[0].Score)
}

func TestRecommendationDisabledAndFailing(t *testing.T) {
	_, disabled := newRecommendationFixture(&recommenderStub{enabled: false})
	out, err := disabled.SuggestConversations(context.Background(), "alice")
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)

	_, failing := newRecommendationFixture(&recommenderStub{enabled: true, err: errors.New("connection refused")})
	_, err = failing.SuggestConversations(context.Background(), "alice")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnavailable.Code, appErrors.FromError(err).Code)

	_, off := newRecommendationFixture(&recommenderStub{enabled: true, err: recommender.ErrDisabled})
	out, err = off.SuggestConversations(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, out)
}
