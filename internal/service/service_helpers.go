package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/studyhub-api/internal/models"
	"github.com/noah-isme/studyhub-api/internal/realtime"
	"github.com/noah-isme/studyhub-api/internal/repository"
	appErrors "github.com/noah-isme/studyhub-api/pkg/errors"
	"github.com/noah-isme/studyhub-api/pkg/middleware/requestid"
)

// EventPublisher hands realtime events to the delivery bus.
type EventPublisher interface {
	Publish(ctx context.Context, ev realtime.Event) error
}

// IDGenerator issues time-ordered message identifiers.
type IDGenerator interface {
	NextID() int64
}

type conversationFinder interface {
	FindByID(ctx context.Context, id string) (*models.Conversation, error)
}

type memberFinder interface {
	Find(ctx context.Context, conversationID, userID string) (*models.ConversationMember, error)
}

// repoError translates repository sentinels into API errors. notFound is the
// message used when the row does not exist.
func repoError(err error, notFound, internal string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	case errors.Is(err, repository.ErrStaleVersion):
		return appErrors.Clone(appErrors.ErrConcurrency, "")
	case errors.Is(err, repository.ErrDuplicate):
		return appErrors.Clone(appErrors.ErrConflict, "")
	case errors.Is(err, repository.ErrInvalidState):
		return appErrors.Clone(appErrors.ErrConflict, "")
	case errors.Is(err, repository.ErrExpired):
		return appErrors.Clone(appErrors.ErrGone, "")
	case errors.Is(err, repository.ErrUnknownReference):
		return appErrors.Clone(appErrors.ErrValidation, "referenced resource does not exist")
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
}

func isDuplicate(err error) bool {
	return errors.Is(err, repository.ErrDuplicate)
}

func isInvalidState(err error) bool {
	return errors.Is(err, repository.ErrInvalidState)
}

func validationError(err error, message string) error {
	return appErrors.Validation(err, message)
}

// publish sends ev and logs failures; realtime delivery is best effort.
func publish(ctx context.Context, bus EventPublisher, logger *zap.Logger, ev realtime.Event) {
	if bus == nil {
		return
	}
	if err := bus.Publish(ctx, ev); err != nil {
		logger.Warn("realtime publish failed",
			zap.String("type", string(ev.Type)),
			zap.String("conversation_id", ev.ConversationID),
			zap.String("request_id", requestid.FromContext(ctx)),
			zap.Error(err))
	}
}

// conversationAccess resolves a conversation and the caller's membership.
type conversationAccess struct {
	conversations conversationFinder
	members       memberFinder
}

func (a conversationAccess) conversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv, err := a.conversations.FindByID(ctx, id)
	if err != nil {
		return nil, repoError(err, "conversation not found", "failed to load conversation")
	}
	return conv, nil
}

// membership returns nil without error when the user is not a member.
func (a conversationAccess) membership(ctx context.Context, conversationID, userID string) (*models.ConversationMember, error) {
	member, err := a.members.Find(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load membership")
	}
	return member, nil
}

func (a conversationAccess) requireMember(ctx context.Context, conversationID, userID string) (*models.ConversationMember, error) {
	member, err := a.membership(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you are not a member of this conversation")
	}
	return member, nil
}

func (a conversationAccess) requireModerator(ctx context.Context, conversationID, userID string) (*models.ConversationMember, error) {
	member, err := a.requireMember(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !member.Role.CanModerate() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owner or a deputy can do this")
	}
	return member, nil
}

// readable loads a conversation and, when private, requires membership.
func (a conversationAccess) readable(ctx context.Context, conversationID, userID string) (*models.Conversation, *models.ConversationMember, error) {
	conv, err := a.conversation(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	member, err := a.membership(ctx, conversationID, userID)
	if err != nil {
		return nil, nil, err
	}
	if conv.IsPrivate() && member == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "this conversation is private")
	}
	return conv, member, nil
}

func systemMessage(ids IDGenerator, conversationID, actorID string, kind models.SystemMessageType, content string) models.Message {
	return models.Message{
		ID:             ids.NextID(),
		ConversationID: conversationID,
		SenderID:       &actorID,
		Content:        content,
		SystemType:     &kind,
		ReviewStatus:   models.ReviewApproved,
	}
}

// slugify lowercases name and joins its words with dashes.
func slugify(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

func trimmedPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
