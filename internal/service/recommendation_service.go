package service

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/studyhub-api/internal/models"
	appErrors "github.com/noah-isme/studyhub-api/pkg/errors"
	"github.com/noah-isme/studyhub-api/pkg/recommender"
)

type recommendationSource interface {
	Enabled() bool
	SuggestMembers(ctx context.Context, conversationID string, limit int) ([]recommender.Candidate, error)
	SuggestConversations(ctx context.Context, userID string, limit int) ([]recommender.Candidate, error)
}

type suggestionMemberRepository interface {
	Find(ctx context.Context, conversationID, userID string) (*models.ConversationMember, error)
	ListUserIDs(ctx context.Context, conversationID string) ([]string, error)
}

type pendingInviteeLister interface {
	PendingInviteeIDs(ctx context.Context, conversationID string) ([]string, error)
}

type userSummaryLister interface {
	ListSummaries(ctx context.Context, ids []string) (map[string]models.UserSummary, error)
}

type listItemFinder interface {
	FindByID(ctx context.Context, id string) (*models.Conversation, error)
	GetListItem(ctx context.Context, id, viewerID string) (*models.ConversationListItem, error)
}

// RecommendationDeps groups the collaborators of RecommendationService.
type RecommendationDeps struct {
	Source        recommendationSource
	Conversations listItemFinder
	Members       suggestionMemberRepository
	Invitations   pendingInviteeLister
	Users         userSummaryLister
	Cache         *CacheService
}

// RecommendationService filters external recommendations against local state.
type RecommendationService struct {
	deps     RecommendationDeps
	access   conversationAccess
	cacheTTL time.Duration
	limit    int
	logger   *zap.Logger
}

// NewRecommendationService constructs the service.
func NewRecommendationService(deps RecommendationDeps, cacheTTL time.Duration, limit int, logger *zap.Logger) *RecommendationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = 10
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &RecommendationService{
		deps:     deps,
		access:   conversationAccess{conversations: deps.Conversations, members: deps.Members},
		cacheTTL: cacheTTL,
		limit:    limit,
		logger:   logger,
	}
}

// SuggestMembers returns users worth inviting to a conversation. Current
// members and users with a live invitation are excluded.
func (s *RecommendationService) SuggestMembers(ctx context.Context, conversationID, actorID string) ([]models.MemberSuggestion, error) {
	if _, err := s.access.conversation(ctx, conversationID); err != nil {
		return nil, err
	}
	if _, err := s.access.requireModerator(ctx, conversationID, actorID); err != nil {
		return nil, err
	}
	if !s.enabled() {
		return []models.MemberSuggestion{}, nil
	}

	key := CacheKey("recommendations", "members", conversationID, strconv.Itoa(s.limit))
	candidates, err := s.candidates(ctx, key, func(ctx context.Context) ([]recommender.Candidate, error) {
		return s.deps.Source.SuggestMembers(ctx, conversationID, s.limit)
	})
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]struct{})
	memberIDs, err := s.deps.Members.ListUserIDs(ctx, conversationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load members")
	}
	pendingIDs, err := s.deps.Invitations.PendingInviteeIDs(ctx, conversationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pending invitations")
	}
	for _, id := range append(memberIDs, pendingIDs...) {
		excluded[id] = struct{}{}
	}

	var ids []string
	for _, c := range candidates {
		if _, skip := excluded[c.ID]; !skip {
			ids = append(ids, c.ID)
		}
	}
	if len(ids) == 0 {
		return []models.MemberSuggestion{}, nil
	}
	summaries, err := s.deps.Users.ListSummaries(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load users")
	}

	out := make([]models.MemberSuggestion, 0, len(ids))
	for _, c := range candidates {
		if _, skip := excluded[c.ID]; skip {
			continue
		}
		summary, ok := summaries[c.ID]
		if !ok {
			continue
		}
		out = append(out, models.MemberSuggestion{UserSummary: summary, SimilarityScore: c.Score})
	}
	return out, nil
}

// SuggestConversations returns conversations the user has not joined.
func (s *RecommendationService) SuggestConversations(ctx context.Context, userID string) ([]models.ConversationSuggestion, error) {
	if !s.enabled() {
		return []models.ConversationSuggestion{}, nil
	}
	key := CacheKey("recommendations", "conversations", userID, strconv.Itoa(s.limit))
	candidates, err := s.candidates(ctx, key, func(ctx context.Context) ([]recommender.Candidate, error) {
		return s.deps.Source.SuggestConversations(ctx, userID, s.limit)
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.ConversationSuggestion, 0, len(candidates))
	for _, c := range candidates {
		item, err := s.deps.Conversations.GetListItem(ctx, c.ID, userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load conversation")
		}
		if item.IsCurrentUserMember {
			continue
		}
		out = append(out, models.ConversationSuggestion{ConversationListItem: *item, Score: c.Score})
	}
	return out, nil
}

func (s *RecommendationService) enabled() bool {
	return s.deps.Source != nil && s.deps.Source.Enabled()
}

func (s *RecommendationService) candidates(ctx context.Context, key string, load func(context.Context) ([]recommender.Candidate, error)) ([]recommender.Candidate, error) {
	candidates, err := remember(ctx, s.deps.Cache, key, s.cacheTTL, load)
	if err != nil {
		if errors.Is(err, recommender.ErrDisabled) {
			return nil, nil
		}
		s.logger.Warn("recommendation service failed", zap.String("key", key), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "recommendations are unavailable")
	}
	return candidates, nil
}
