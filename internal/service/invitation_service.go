package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/studyhub-api/internal/models"
	"github.com/noah-isme/studyhub-api/internal/realtime"
	"github.com/noah-isme/studyhub-api/internal/repository"
	appErrors "github.com/noah-isme/studyhub-api/pkg/errors"
)

type invitationRepository interface {
	Create(ctx context.Context, inv *models.GroupInvitation) error
	FindByID(ctx context.Context, id string) (*models.GroupInvitation, error)
	HasLivePending(ctx context.Context, conversationID, inviteeID string) (bool, error)
	List(ctx context.Context, filter models.InvitationFilter) ([]models.InvitationView, int, error)
	Respond(ctx context.Context, resp models.InvitationResponse) (*models.GroupInvitation, *models.ConversationMember, error)
	Cancel(ctx context.Context, id, actorID string) error
}

// InvitationDeps groups the collaborators of InvitationService.
type InvitationDeps struct {
	Conversations conversationFinder
	Members       memberFinder
	Invitations   invitationRepository
	Users         userNamer
	Notifier      Notifier
	Bus           EventPublisher
	IDs           IDGenerator
}

// InvitationService runs the invite, accept and decline workflow.
type InvitationService struct {
	deps      InvitationDeps
	access    conversationAccess
	ttl       time.Duration
	now       func() time.Time
	validator *validator.Validate
	logger    *zap.Logger
}

// NewInvitationService constructs the service. ttl is the response window
// given to invitees.
func NewInvitationService(deps InvitationDeps, ttl time.Duration, validate *validator.Validate, logger *zap.Logger) *InvitationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &InvitationService{
		deps:      deps,
		access:    conversationAccess{conversations: deps.Conversations, members: deps.Members},
		ttl:       ttl,
		now:       func() time.Time { return time.Now().UTC() },
		validator: validate,
		logger:    logger,
	}
}

// Create invites a user who is neither a member nor already invited.
func (s *InvitationService) Create(ctx context.Context, conversationID, actorID string, req models.CreateInvitationRequest) (*models.GroupInvitation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid invitation payload")
	}
	conv, err := s.access.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.access.requireModerator(ctx, conversationID, actorID); err != nil {
		return nil, err
	}
	if _, err := s.deps.Users.FindByID(ctx, req.InviteeID); err != nil {
		return nil, repoError(err, "invitee not found", "failed to load invitee")
	}
	member, err := s.access.membership(ctx, conversationID, req.InviteeID)
	if err != nil {
		return nil, err
	}
	if member != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "user is already a member")
	}
	pending, err := s.deps.Invitations.HasLivePending(ctx, conversationID, req.InviteeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check invitations")
	}
	if pending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "user already has a pending invitation")
	}

	inv := &models.GroupInvitation{
		ID:              uuid.NewString(),
		ConversationID:  conversationID,
		InviteeID:       req.InviteeID,
		InviterID:       actorID,
		Message:         trimmedPtr(req.Message),
		IsSuggested:     req.IsSuggested,
		SimilarityScore: req.SimilarityScore,
		ExpiresAt:       s.now().Add(s.ttl),
	}
	if err := s.deps.Invitations.Create(ctx, inv); err != nil {
		if isDuplicate(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "user already has a pending invitation")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create invitation")
	}

	if s.deps.Notifier != nil {
		_ = s.deps.Notifier.Notify(ctx, []string{req.InviteeID}, models.Notification{
			Type:          models.NotificationInvitation,
			Title:         "You are invited",
			Content:       fmt.Sprintf("%s invited you to %s", lookupName(ctx, s.deps.Users, actorID), conv.Name),
			ReferenceType: models.StringPtr("INVITATION"),
			ReferenceID:   &inv.ID,
		})
	}
	return inv, nil
}

// ListForConversation returns a conversation's invitations to its owner or deputies.
func (s *InvitationService) ListForConversation(ctx context.Context, filter models.InvitationFilter, actorID string) ([]models.InvitationView, *models.Pagination, error) {
	if _, err := s.access.conversation(ctx, filter.ConversationID); err != nil {
		return nil, nil, err
	}
	if _, err := s.access.requireModerator(ctx, filter.ConversationID, actorID); err != nil {
		return nil, nil, err
	}
	filter.InviteeID = ""
	return s.list(ctx, filter)
}

// ListMine returns invitations addressed to the caller.
func (s *InvitationService) ListMine(ctx context.Context, filter models.InvitationFilter, userID string) ([]models.InvitationView, *models.Pagination, error) {
	filter.ConversationID = ""
	filter.InviteeID = userID
	return s.list(ctx, filter)
}

func (s *InvitationService) list(ctx context.Context, filter models.InvitationFilter) ([]models.InvitationView, *models.Pagination, error) {
	items, total, err := s.deps.Invitations.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list invitations")
	}
	now := s.now()
	for i := range items {
		items[i].Status = items[i].EffectiveStatus(now)
	}
	if items == nil {
		items = []models.InvitationView{}
	}
	return items, pagination(filter.Page, filter.PageSize, total), nil
}

// Accept answers an invitation and creates the membership.
func (s *InvitationService) Accept(ctx context.Context, id, userID string) (*models.GroupInvitation, error) {
	return s.respond(ctx, id, userID, true)
}

// Decline answers an invitation without joining.
func (s *InvitationService) Decline(ctx context.Context, id, userID string) (*models.GroupInvitation, error) {
	return s.respond(ctx, id, userID, false)
}

func (s *InvitationService) respond(ctx context.Context, id, userID string, accept bool) (*models.GroupInvitation, error) {
	current, err := s.deps.Invitations.FindByID(ctx, id)
	if err != nil {
		return nil, repoError(err, "invitation not found", "failed to load invitation")
	}
	if current.InviteeID != userID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "this invitation is addressed to someone else")
	}
	conv, err := s.access.conversation(ctx, current.ConversationID)
	if err != nil {
		return nil, err
	}

	resp := models.InvitationResponse{InvitationID: id, Accept: accept, ActorID: userID}
	if accept {
		msg := systemMessage(s.deps.IDs, conv.ID, userID, models.SystemJoined, "joined by invitation")
		resp.MemberID = uuid.NewString()
		resp.SystemMessage = &msg
	}

	updated, member, err := s.deps.Invitations.Respond(ctx, resp)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrExpired):
			return nil, appErrors.Clone(appErrors.ErrGone, "invitation has expired")
		case isInvalidState(err):
			return nil, appErrors.Clone(appErrors.ErrConflict, "invitation is no longer pending")
		case isDuplicate(err):
			return nil, appErrors.Clone(appErrors.ErrConflict, "you are already a member of this conversation")
		}
		return nil, repoError(err, "invitation not found", "failed to answer invitation")
	}

	verb := "declined"
	if accept {
		verb = "accepted"
		publish(ctx, s.deps.Bus, s.logger, realtime.Event{
			Type:           realtime.EventMessageReceived,
			ConversationID: conv.ID,
			Payload:        resp.SystemMessage,
		})
		publish(ctx, s.deps.Bus, s.logger, realtime.Event{
			Type:           realtime.EventMemberJoined,
			ConversationID: conv.ID,
			Payload:        map[string]interface{}{"userId": member.UserID, "role": member.Role},
		})
	}
	if s.deps.Notifier != nil {
		_ = s.deps.Notifier.Notify(ctx, []string{current.InviterID}, models.Notification{
			Type:          models.NotificationInvitationAnswer,
			Title:         "Invitation answered",
			Content:       fmt.Sprintf("%s %s your invitation to %s", lookupName(ctx, s.deps.Users, userID), verb, conv.Name),
			ReferenceType: models.StringPtr("INVITATION"),
			ReferenceID:   &current.ID,
		})
	}
	return updated, nil
}

// Cancel withdraws a pending invitation. The inviter and the owner may cancel.
func (s *InvitationService) Cancel(ctx context.Context, id, actorID string) error {
	current, err := s.deps.Invitations.FindByID(ctx, id)
	if err != nil {
		return repoError(err, "invitation not found", "failed to load invitation")
	}
	if current.InviterID != actorID {
		member, err := s.access.membership(ctx, current.ConversationID, actorID)
		if err != nil {
			return err
		}
		if member == nil || member.Role != models.MemberRoleOwner {
			return appErrors.Clone(appErrors.ErrForbidden, "only the inviter or the owner can cancel this invitation")
		}
	}
	if err := s.deps.Invitations.Cancel(ctx, id, actorID); err != nil {
		if isInvalidState(err) {
			return appErrors.Clone(appErrors.ErrConflict, "invitation is no longer pending")
		}
		return repoError(err, "invitation not found", "failed to cancel invitation")
	}
	return nil
}
