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

type memberRepository interface {
	Find(ctx context.Context, conversationID, userID string) (*models.ConversationMember, error)
	List(ctx context.Context, conversationID string) ([]models.MemberView, error)
	ListModeratorIDs(ctx context.Context, conversationID string) ([]string, error)
	AddWithMessage(ctx context.Context, m models.NewMembership, msg *models.Message) (*models.ConversationMember, error)
	RemoveWithMessage(ctx context.Context, conversationID, userID, actorID string, msg *models.Message) error
	ChangeRole(ctx context.Context, conversationID, userID string, role models.MemberRole, actorID string, msg *models.Message) (*models.ConversationMember, error)
	SetMuted(ctx context.Context, conversationID, userID string, muted bool) error
	MarkRead(ctx context.Context, conversationID, userID string, messageID int64) error
}

type messageFinder interface {
	FindByID(ctx context.Context, id int64) (*models.Message, error)
}

type joinRequestCreator interface {
	Create(ctx context.Context, req *models.JoinRequest) error
}

type userNamer interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// MemberDeps groups the collaborators of MemberService.
type MemberDeps struct {
	Conversations conversationFinder
	Members       memberRepository
	JoinRequests  joinRequestCreator
	Messages      messageFinder
	Users         userNamer
	Notifier      Notifier
	Bus           EventPublisher
	IDs           IDGenerator
}

// MemberService manages conversation membership.
type MemberService struct {
	deps      MemberDeps
	access    conversationAccess
	validator *validator.Validate
	logger    *zap.Logger
}

// NewMemberService constructs the service.
func NewMemberService(deps MemberDeps, validate *validator.Validate, logger *zap.Logger) *MemberService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemberService{
		deps:      deps,
		access:    conversationAccess{conversations: deps.Conversations, members: deps.Members},
		validator: validate,
		logger:    logger,
	}
}

// List returns active members. Private conversations list to members only.
func (s *MemberService) List(ctx context.Context, conversationID, viewerID string) ([]models.MemberView, error) {
	if _, _, err := s.access.readable(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}
	members, err := s.deps.Members.List(ctx, conversationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list members")
	}
	if members == nil {
		members = []models.MemberView{}
	}
	return members, nil
}

// Join adds the caller to a public conversation or files a join request for
// a private one.
func (s *MemberService) Join(ctx context.Context, conversationID, userID string, req models.JoinConversationRequest) (*models.JoinOutcome, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid join payload")
	}
	conv, err := s.access.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	existing, err := s.access.membership(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "you are already a member of this conversation")
	}

	if conv.IsPrivate() {
		return s.requestToJoin(ctx, conv, userID, trimmedPtr(req.Message))
	}

	msg := systemMessage(s.deps.IDs, conversationID, userID, models.SystemJoined, "joined the conversation")
	member, err := s.deps.Members.AddWithMessage(ctx, models.NewMembership{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserID:         userID,
		Role:           models.MemberRoleMember,
		ActorID:        userID,
	}, &msg)
	if err != nil {
		if isDuplicate(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "you are already a member of this conversation")
		}
		return nil, repoError(err, "conversation not found", "failed to join conversation")
	}

	s.broadcastMembership(ctx, realtime.EventMemberJoined, conversationID, member, &msg, nil)
	return &models.JoinOutcome{Status: models.JoinStatusJoined, Member: member}, nil
}

func (s *MemberService) requestToJoin(ctx context.Context, conv *models.Conversation, userID string, note *string) (*models.JoinOutcome, error) {
	req := &models.JoinRequest{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		UserID:         userID,
		Message:        note,
	}
	if err := s.deps.JoinRequests.Create(ctx, req); err != nil {
		if isDuplicate(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a join request is already pending")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create join request")
	}

	moderators, err := s.deps.Members.ListModeratorIDs(ctx, conv.ID)
	if err != nil {
		s.logger.Warn("failed to load moderators for join request", zap.String("conversation_id", conv.ID), zap.Error(err))
	} else if s.deps.Notifier != nil {
		_ = s.deps.Notifier.Notify(ctx, moderators, models.Notification{
			Type:          models.NotificationJoinRequest,
			Title:         "New join request",
			Content:       fmt.Sprintf("%s asked to join %s", s.displayName(ctx, userID), conv.Name),
			ReferenceType: models.StringPtr("JOIN_REQUEST"),
			ReferenceID:   &req.ID,
		})
	}
	return &models.JoinOutcome{Status: models.JoinStatusPending, JoinRequest: req}, nil
}

// Leave removes the caller. The owner must transfer ownership or dissolve
// the conversation instead.
func (s *MemberService) Leave(ctx context.Context, conversationID, userID string) error {
	if _, err := s.access.conversation(ctx, conversationID); err != nil {
		return err
	}
	member, err := s.access.requireMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if member.Role == models.MemberRoleOwner {
		return appErrors.Clone(appErrors.ErrConflict, "the owner cannot leave; transfer ownership or dissolve the conversation")
	}

	msg := systemMessage(s.deps.IDs, conversationID, userID, models.SystemLeft, "left the conversation")
	if err := s.deps.Members.RemoveWithMessage(ctx, conversationID, userID, userID, &msg); err != nil {
		return repoError(err, "membership not found", "failed to leave conversation")
	}
	s.broadcastMembership(ctx, realtime.EventMemberLeft, conversationID, member, &msg, []string{userID})
	return nil
}

// ChangeRole sets targetID's role. Only the owner may change roles, and
// granting the owner role transfers ownership.
func (s *MemberService) ChangeRole(ctx context.Context, conversationID, targetID, actorID string, req models.ChangeRoleRequest) (*models.ConversationMember, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid role payload")
	}
	role := *req.Role
	if _, err := s.access.conversation(ctx, conversationID); err != nil {
		return nil, err
	}
	actor, err := s.access.requireMember(ctx, conversationID, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.MemberRoleOwner {
		if role == models.MemberRoleOwner {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owner can transfer ownership")
		}
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owner can change member roles")
	}
	if targetID == actorID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "you cannot change your own role")
	}
	target, err := s.access.membership(ctx, conversationID, targetID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "member not found")
	}
	if target.Role == role {
		return target, nil
	}

	content := fmt.Sprintf("set %s as %s", s.displayName(ctx, targetID), role)
	msg := systemMessage(s.deps.IDs, conversationID, actorID, models.SystemRoleChanged, content)
	updated, err := s.deps.Members.ChangeRole(ctx, conversationID, targetID, role, actorID, &msg)
	if err != nil {
		return nil, repoError(err, "member not found", "failed to change role")
	}

	payload := map[string]interface{}{"userId": targetID, "role": role, "message": msg}
	if role == models.MemberRoleOwner {
		payload["previousOwnerId"] = actorID
	}
	publish(ctx, s.deps.Bus, s.logger, realtime.Event{
		Type:           realtime.EventMemberRoleChanged,
		ConversationID: conversationID,
		Payload:        payload,
	})
	if s.deps.Notifier != nil {
		_ = s.deps.Notifier.Notify(ctx, []string{targetID}, models.Notification{
			Type:          models.NotificationRoleChanged,
			Title:         "Your role changed",
			Content:       fmt.Sprintf("You are now %s", role),
			ReferenceType: models.StringPtr("CONVERSATION"),
			ReferenceID:   &conversationID,
		})
	}
	return updated, nil
}

// Remove takes targetID out of the conversation. The owner may remove anyone
// else; a deputy may remove plain members only.
func (s *MemberService) Remove(ctx context.Context, conversationID, targetID, actorID string) error {
	if _, err := s.access.conversation(ctx, conversationID); err != nil {
		return err
	}
	actor, err := s.access.requireModerator(ctx, conversationID, actorID)
	if err != nil {
		return err
	}
	if targetID == actorID {
		return appErrors.Clone(appErrors.ErrValidation, "use leave to remove yourself")
	}
	target, err := s.access.membership(ctx, conversationID, targetID)
	if err != nil {
		return err
	}
	if target == nil {
		return appErrors.Clone(appErrors.ErrNotFound, "member not found")
	}
	if actor.Role == models.MemberRoleDeputy && target.Role != models.MemberRoleMember {
		return appErrors.Clone(appErrors.ErrForbidden, "a deputy can only remove plain members")
	}

	content := fmt.Sprintf("removed %s", s.displayName(ctx, targetID))
	msg := systemMessage(s.deps.IDs, conversationID, actorID, models.SystemLeft, content)
	if err := s.deps.Members.RemoveWithMessage(ctx, conversationID, targetID, actorID, &msg); err != nil {
		return repoError(err, "member not found", "failed to remove member")
	}
	s.broadcastMembership(ctx, realtime.EventMemberLeft, conversationID, target, &msg, []string{targetID})
	return nil
}

// SetMuted sets or toggles the caller's mute flag and returns the new value.
func (s *MemberService) SetMuted(ctx context.Context, conversationID, userID string, req models.MuteRequest) (bool, error) {
	member, err := s.access.requireMember(ctx, conversationID, userID)
	if err != nil {
		return false, err
	}
	muted := !member.IsMuted
	if req.IsMuted != nil {
		muted = *req.IsMuted
	}
	if err := s.deps.Members.SetMuted(ctx, conversationID, userID, muted); err != nil {
		return false, repoError(err, "membership not found", "failed to update mute flag")
	}
	return muted, nil
}

// MarkRead advances the caller's last-read pointer.
func (s *MemberService) MarkRead(ctx context.Context, conversationID, userID string, req models.MarkReadRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid read payload")
	}
	if _, err := s.access.requireMember(ctx, conversationID, userID); err != nil {
		return err
	}
	msg, err := s.deps.Messages.FindByID(ctx, req.MessageID)
	if err != nil {
		return repoError(err, "message not found", "failed to load message")
	}
	if msg.ConversationID != conversationID {
		return appErrors.Clone(appErrors.ErrNotFound, "message not found")
	}
	if err := s.deps.Members.MarkRead(ctx, conversationID, userID, req.MessageID); err != nil {
		return repoError(err, "membership not found", "failed to mark conversation read")
	}
	return nil
}

func (s *MemberService) broadcastMembership(ctx context.Context, eventType realtime.EventType, conversationID string, member *models.ConversationMember, msg *models.Message, unsubscribe []string) {
	publish(ctx, s.deps.Bus, s.logger, realtime.Event{
		Type:           realtime.EventMessageReceived,
		ConversationID: conversationID,
		Payload:        msg,
	})
	publish(ctx, s.deps.Bus, s.logger, realtime.Event{
		Type:           eventType,
		ConversationID: conversationID,
		Recipients:     unsubscribe,
		Unsubscribe:    unsubscribe,
		Payload:        map[string]interface{}{"userId": member.UserID, "role": member.Role},
	})
}

func (s *MemberService) displayName(ctx context.Context, userID string) string {
	return lookupName(ctx, s.deps.Users, userID)
}

func lookupName(ctx context.Context, users userNamer, userID string) string {
	if users == nil {
		return "a member"
	}
	user, err := users.FindByID(ctx, userID)
	if err != nil || user == nil {
		return "a member"
	}
	return user.FullName
}
