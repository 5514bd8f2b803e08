package service

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/studyhub-api/internal/models"
	"github.com/noah-isme/studyhub-api/internal/realtime"
	appErrors "github.com/noah-isme/studyhub-api/pkg/errors"
)

type joinRequestRepository interface {
	FindByID(ctx context.Context, id string) (*models.JoinRequest, error)
	List(ctx context.Context, filter models.JoinRequestFilter) ([]models.JoinRequestView, int, error)
	Decide(ctx context.Context, d models.JoinRequestDecision) (*models.JoinRequest, *models.ConversationMember, error)
	Cancel(ctx context.Context, id, userID string) error
}

// JoinRequestDeps groups the collaborators of JoinRequestService.
type JoinRequestDeps struct {
	Conversations conversationFinder
	Members       memberFinder
	JoinRequests  joinRequestRepository
	Users         userNamer
	Notifier      Notifier
	Bus           EventPublisher
	IDs           IDGenerator
}

// JoinRequestService reviews requests to join private conversations.
type JoinRequestService struct {
	deps      JoinRequestDeps
	access    conversationAccess
	validator *validator.Validate
	logger    *zap.Logger
}

// NewJoinRequestService constructs the service.
func NewJoinRequestService(deps JoinRequestDeps, validate *validator.Validate, logger *zap.Logger) *JoinRequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JoinRequestService{
		deps:      deps,
		access:    conversationAccess{conversations: deps.Conversations, members: deps.Members},
		validator: validate,
		logger:    logger,
	}
}

// ListForConversation returns a conversation's requests to its owner or deputies.
func (s *JoinRequestService) ListForConversation(ctx context.Context, filter models.JoinRequestFilter, actorID string) ([]models.JoinRequestView, *models.Pagination, error) {
	if filter.ConversationID == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "conversationId is required")
	}
	if _, err := s.access.conversation(ctx, filter.ConversationID); err != nil {
		return nil, nil, err
	}
	if _, err := s.access.requireModerator(ctx, filter.ConversationID, actorID); err != nil {
		return nil, nil, err
	}
	filter.UserID = ""
	return s.list(ctx, filter)
}

// ListMine returns the caller's own requests.
func (s *JoinRequestService) ListMine(ctx context.Context, filter models.JoinRequestFilter, userID string) ([]models.JoinRequestView, *models.Pagination, error) {
	filter.ConversationID = ""
	filter.UserID = userID
	return s.list(ctx, filter)
}

func (s *JoinRequestService) list(ctx context.Context, filter models.JoinRequestFilter) ([]models.JoinRequestView, *models.Pagination, error) {
	items, total, err := s.deps.JoinRequests.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list join requests")
	}
	if items == nil {
		items = []models.JoinRequestView{}
	}
	return items, pagination(filter.Page, filter.PageSize, total), nil
}

// Approve accepts a pending request and adds the requester as a member.
// A request can be approved only once.
func (s *JoinRequestService) Approve(ctx context.Context, id, actorID string, req models.ReviewJoinRequest) (*models.JoinRequest, error) {
	return s.decide(ctx, id, actorID, req, true)
}

// Reject closes a pending request. Rejection is terminal.
func (s *JoinRequestService) Reject(ctx context.Context, id, actorID string, req models.ReviewJoinRequest) (*models.JoinRequest, error) {
	return s.decide(ctx, id, actorID, req, false)
}

func (s *JoinRequestService) decide(ctx context.Context, id, actorID string, req models.ReviewJoinRequest, approve bool) (*models.JoinRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid review payload")
	}
	current, err := s.deps.JoinRequests.FindByID(ctx, id)
	if err != nil {
		return nil, repoError(err, "join request not found", "failed to load join request")
	}
	conv, err := s.access.conversation(ctx, current.ConversationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.access.requireModerator(ctx, conv.ID, actorID); err != nil {
		return nil, err
	}

	decision := models.JoinRequestDecision{
		RequestID:  id,
		Approve:    approve,
		Note:       trimmedPtr(req.Note),
		ReviewerID: actorID,
	}
	requester := lookupName(ctx, s.deps.Users, current.UserID)
	if approve {
		msg := systemMessage(s.deps.IDs, conv.ID, actorID, models.SystemApproved, fmt.Sprintf("approved %s to join", requester))
		decision.MemberID = uuid.NewString()
		decision.SystemMessage = &msg
	}

	updated, member, err := s.deps.JoinRequests.Decide(ctx, decision)
	if err != nil {
		if isInvalidState(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "join request has already been reviewed")
		}
		return nil, repoError(err, "join request not found", "failed to review join request")
	}

	notification := models.Notification{
		Type:          models.NotificationJoinRejected,
		Title:         "Join request declined",
		Content:       fmt.Sprintf("Your request to join %s was declined", conv.Name),
		ReferenceType: models.StringPtr("CONVERSATION"),
		ReferenceID:   &conv.ID,
	}
	if approve {
		notification.Type = models.NotificationJoinApproved
		notification.Title = "Join request approved"
		notification.Content = fmt.Sprintf("You are now a member of %s", conv.Name)
	}
	if approve && member != nil {
		publish(ctx, s.deps.Bus, s.logger, realtime.Event{
			Type:           realtime.EventMessageReceived,
			ConversationID: conv.ID,
			Payload:        decision.SystemMessage,
		})
		publish(ctx, s.deps.Bus, s.logger, realtime.Event{
			Type:           realtime.EventMemberJoined,
			ConversationID: conv.ID,
			Payload:        map[string]interface{}{"userId": member.UserID, "role": member.Role},
		})
	}
	if s.deps.Notifier != nil {
		_ = s.deps.Notifier.Notify(ctx, []string{current.UserID}, notification)
	}

	s.logger.Info("join request reviewed",
		zap.String("join_request_id", id),
		zap.Bool("approved", approve),
		zap.String("reviewer_id", actorID))
	return updated, nil
}

// Cancel withdraws the caller's own pending request.
func (s *JoinRequestService) Cancel(ctx context.Context, id, userID string) error {
	current, err := s.deps.JoinRequests.FindByID(ctx, id)
	if err != nil {
		return repoError(err, "join request not found", "failed to load join request")
	}
	if current.UserID != userID {
		return appErrors.Clone(appErrors.ErrForbidden, "you can only cancel your own join requests")
	}
	if err := s.deps.JoinRequests.Cancel(ctx, id, userID); err != nil {
		if isInvalidState(err) {
			return appErrors.Clone(appErrors.ErrConflict, "join request is no longer pending")
		}
		return repoError(err, "join request not found", "failed to cancel join request")
	}
	return nil
}
