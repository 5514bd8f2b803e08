package service

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/studyhub-api/internal/models"
	"github.com/noah-isme/studyhub-api/internal/realtime"
	appErrors "github.com/noah-isme/studyhub-api/pkg/errors"
)

type messageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	FindByID(ctx context.Context, id int64) (*models.Message, error)
	GetView(ctx context.Context, id int64) (*models.MessageView, error)
	List(ctx context.Context, q models.MessageQuery) ([]models.MessageView, error)
	Previews(ctx context.Context, ids []int64) (map[int64]models.MessagePreview, error)
	UpdateContent(ctx context.Context, edit models.MessageEdit) (*models.Message, error)
	SoftDelete(ctx context.Context, msg *models.Message, actorID string) error
	SetPinned(ctx context.Context, id int64, pinned bool, actorID string, notice *models.Message) (*models.Message, error)
	Review(ctx context.Context, id int64, status models.ReviewStatus, reviewerID string) (*models.Message, error)
	CountUnread(ctx context.Context, conversationID, userID string, lastRead *int64) (int, error)
}

type messageAudience interface {
	Find(ctx context.Context, conversationID, userID string) (*models.ConversationMember, error)
	ListModeratorIDs(ctx context.Context, conversationID string) ([]string, error)
	ListUnmutedUserIDs(ctx context.Context, conversationID, exceptID string) ([]string, error)
}

type trustAdjuster interface {
	AdjustTrust(ctx context.Context, adj models.TrustAdjustment) (*models.UserTrustHistory, error)
}

type messageMetrics interface {
	MessageSent(status models.ReviewStatus)
}

// MessageConfig bounds message content and history pages.
type MessageConfig struct {
	MaxLength       int
	DefaultPageSize int
	MaxPageSize     int
}

// MessageDeps groups the collaborators of MessageService.
type MessageDeps struct {
	Conversations conversationFinder
	Members       messageAudience
	Messages      messageRepository
	Trust         trustAdjuster
	Notifier      Notifier
	Metrics       messageMetrics
	Bus           EventPublisher
	IDs           IDGenerator
}

// MessageService implements chat history, posting and moderation.
type MessageService struct {
	deps      MessageDeps
	access    conversationAccess
	cfg       MessageConfig
	validator *validator.Validate
	logger    *zap.Logger
}

// NewMessageService constructs the service.
func NewMessageService(deps MessageDeps, cfg MessageConfig, validate *validator.Validate, logger *zap.Logger) *MessageService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 4000
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 50
	}
	if cfg.MaxPageSize < cfg.DefaultPageSize {
		cfg.MaxPageSize = cfg.DefaultPageSize
	}
	return &MessageService{
		deps:      deps,
		access:    conversationAccess{conversations: deps.Conversations, members: deps.Members},
		cfg:       cfg,
		validator: validate,
		logger:    logger,
	}
}

// List returns the page of messages older than before, oldest first.
func (s *MessageService) List(ctx context.Context, conversationID, viewerID string, before *int64, limit int) (*models.MessagePage, error) {
	_, member, err := s.access.readable(ctx, conversationID, viewerID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}

	items, err := s.deps.Messages.List(ctx, models.MessageQuery{
		ConversationID: conversationID,
		ViewerID:       viewerID,
		Before:         before,
		Limit:          limit + 1,
		IncludeHidden:  member != nil && member.Role.CanModerate(),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list messages")
	}

	page := &models.MessagePage{}
	if len(items) > limit {
		page.HasMore = true
		items = items[:limit]
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	if page.HasMore {
		oldest := items[0].ID
		page.NextCursor = &oldest
	}
	if err := s.attachReplies(ctx, items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.MessageView{}
	}
	page.Items = items
	return page, nil
}

// Pinned returns the pinned messages of a conversation, newest first.
func (s *MessageService) Pinned(ctx context.Context, conversationID, viewerID string) ([]models.MessageView, error) {
	if _, _, err := s.access.readable(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}
	items, err := s.deps.Messages.List(ctx, models.MessageQuery{
		ConversationID: conversationID,
		ViewerID:       viewerID,
		Limit:          s.cfg.MaxPageSize,
		PinnedOnly:     true,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pinned messages")
	}
	if err := s.attachReplies(ctx, items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.MessageView{}
	}
	return items, nil
}

// Send posts a message as an active member. In conversations that require
// approval, plain members' messages wait for review.
func (s *MessageService) Send(ctx context.Context, conversationID, senderID string, req models.SendMessageRequest) (*models.MessageView, error) {
	content, err := s.cleanContent(req.Content)
	if err != nil {
		return nil, err
	}
	conv, err := s.access.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	member, err := s.access.requireMember(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	if req.ParentID != nil {
		parent, err := s.deps.Messages.FindByID(ctx, *req.ParentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "parent message not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load parent message")
		}
		if parent.ConversationID != conversationID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "parent message belongs to another conversation")
		}
	}

	status := models.ReviewApproved
	if conv.RequireApproval && !member.Role.CanModerate() {
		status = models.ReviewPending
	}
	msg := &models.Message{
		ID:             s.deps.IDs.NextID(),
		ConversationID: conversationID,
		SenderID:       &senderID,
		ParentID:       req.ParentID,
		Content:        content,
		ReviewStatus:   status,
	}
	if err := s.deps.Messages.Create(ctx, msg); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to send message")
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.MessageSent(status)
	}

	view := s.view(ctx, msg)
	if status == models.ReviewPending {
		moderators := s.moderators(ctx, conversationID)
		s.emit(ctx, realtime.EventMessageReceived, msg, view, moderators)
		if s.deps.Notifier != nil {
			msgID := strconv.FormatInt(msg.ID, 10)
			_ = s.deps.Notifier.Notify(ctx, moderators, models.Notification{
				Type:          models.NotificationMessageReview,
				Title:         "Message awaiting review",
				Content:       "A new message in " + conv.Name + " needs review",
				ReferenceType: models.StringPtr("MESSAGE"),
				ReferenceID:   &msgID,
			})
		}
	} else {
		s.emit(ctx, realtime.EventMessageReceived, msg, view, nil)
		s.alertUnread(ctx, msg)
	}
	return view, nil
}

// Edit replaces the content of the caller's own message.
func (s *MessageService) Edit(ctx context.Context, conversationID string, messageID int64, actorID string, req models.EditMessageRequest) (*models.MessageView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid message payload")
	}
	content, err := s.cleanContent(req.Content)
	if err != nil {
		return nil, err
	}
	msg, err := s.message(ctx, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsSystem() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "system messages cannot be edited")
	}
	if !msg.IsAuthor(actorID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the author can edit this message")
	}

	updated, err := s.deps.Messages.UpdateContent(ctx, models.MessageEdit{
		MessageID:       messageID,
		Content:         content,
		ExpectedVersion: req.RowVersion,
		ActorID:         actorID,
	})
	if err != nil {
		return nil, repoError(err, "message not found", "failed to edit message")
	}
	view := s.view(ctx, updated)
	s.emit(ctx, realtime.EventMessageUpdated, updated, view, s.hiddenAudience(ctx, updated))
	return view, nil
}

// Delete soft-deletes a message. The author and the owner or deputies may delete.
func (s *MessageService) Delete(ctx context.Context, conversationID string, messageID int64, actorID string) error {
	msg, err := s.message(ctx, conversationID, messageID)
	if err != nil {
		return err
	}
	if err := s.requireAuthorOrModerator(ctx, msg, actorID); err != nil {
		return err
	}
	if err := s.deps.Messages.SoftDelete(ctx, msg, actorID); err != nil {
		return repoError(err, "message not found", "failed to delete message")
	}
	payload := map[string]string{"id": strconv.FormatInt(msg.ID, 10), "conversationId": conversationID}
	s.emit(ctx, realtime.EventMessageDeleted, msg, payload, s.hiddenAudience(ctx, msg))
	return nil
}

// Pin marks an approved message as pinned.
func (s *MessageService) Pin(ctx context.Context, conversationID string, messageID int64, actorID string) (*models.MessageView, error) {
	return s.setPinned(ctx, conversationID, messageID, actorID, true)
}

// Unpin clears the pinned flag.
func (s *MessageService) Unpin(ctx context.Context, conversationID string, messageID int64, actorID string) (*models.MessageView, error) {
	return s.setPinned(ctx, conversationID, messageID, actorID, false)
}

func (s *MessageService) setPinned(ctx context.Context, conversationID string, messageID int64, actorID string, pinned bool) (*models.MessageView, error) {
	msg, err := s.message(ctx, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.requireAuthorOrModerator(ctx, msg, actorID); err != nil {
		return nil, err
	}
	if msg.ReviewStatus != models.ReviewApproved {
		return nil, appErrors.Clone(appErrors.ErrConflict, "only approved messages can be pinned")
	}

	kind, content, eventType := models.SystemUnpinned, "unpinned a message", realtime.EventMessageUnpinned
	if pinned {
		kind, content, eventType = models.SystemPinned, "pinned a message", realtime.EventMessagePinned
	}
	notice := systemMessage(s.deps.IDs, conversationID, actorID, kind, content)
	notice.ParentID = &msg.ID

	updated, err := s.deps.Messages.SetPinned(ctx, messageID, pinned, actorID, &notice)
	if err != nil {
		if isInvalidState(err) {
			if pinned {
				return nil, appErrors.Clone(appErrors.ErrConflict, "message is already pinned")
			}
			return nil, appErrors.Clone(appErrors.ErrConflict, "message is not pinned")
		}
		return nil, repoError(err, "message not found", "failed to update pin")
	}

	view := s.view(ctx, updated)
	s.emit(ctx, eventType, updated, view, nil)
	s.emit(ctx, realtime.EventMessageReceived, &notice, &notice, nil)
	return view, nil
}

// Review approves or rejects a pending message. Rejection lowers the
// author's trust score.
func (s *MessageService) Review(ctx context.Context, conversationID string, messageID int64, reviewerID string, req models.ReviewMessageRequest) (*models.MessageView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid review payload")
	}
	if _, err := s.access.conversation(ctx, conversationID); err != nil {
		return nil, err
	}
	if _, err := s.access.requireModerator(ctx, conversationID, reviewerID); err != nil {
		return nil, err
	}
	if _, err := s.message(ctx, conversationID, messageID); err != nil {
		return nil, err
	}

	updated, err := s.deps.Messages.Review(ctx, messageID, req.Status, reviewerID)
	if err != nil {
		if isInvalidState(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "message is not awaiting review")
		}
		return nil, repoError(err, "message not found", "failed to review message")
	}

	if req.Status == models.ReviewRejected && updated.SenderID != nil && s.deps.Trust != nil {
		ref := strconv.FormatInt(updated.ID, 10)
		if _, err := s.deps.Trust.AdjustTrust(ctx, models.TrustAdjustment{
			UserID:        *updated.SenderID,
			Delta:         models.TrustDeltaMessageRejected,
			Reason:        models.TrustReasonMessageRejected,
			ReferenceType: models.StringPtr("MESSAGE"),
			ReferenceID:   &ref,
			ActorID:       &reviewerID,
		}); err != nil {
			s.logger.Warn("failed to apply trust penalty", zap.Int64("message_id", updated.ID), zap.Error(err))
		}
	}

	view := s.view(ctx, updated)
	if req.Status == models.ReviewApproved {
		s.emit(ctx, realtime.EventMessageReceived, updated, view, nil)
		s.alertUnread(ctx, updated)
	}
	s.emit(ctx, realtime.EventMessageReviewed, updated, view, s.hiddenAudience(ctx, updated))
	return view, nil
}

// UnreadCount returns approved messages after the caller's read marker.
func (s *MessageService) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	member, err := s.access.requireMember(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}
	count, err := s.deps.Messages.CountUnread(ctx, conversationID, userID, member.LastReadMessageID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count unread messages")
	}
	return count, nil
}

func (s *MessageService) cleanContent(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "content is required")
	}
	if utf8.RuneCountInString(content) > s.cfg.MaxLength {
		return "", appErrors.Clone(appErrors.ErrValidation, "content is too long")
	}
	return content, nil
}

// message loads a message and checks it belongs to conversationID.
func (s *MessageService) message(ctx context.Context, conversationID string, messageID int64) (*models.Message, error) {
	msg, err := s.deps.Messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, repoError(err, "message not found", "failed to load message")
	}
	if msg.ConversationID != conversationID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "message not found")
	}
	return msg, nil
}

func (s *MessageService) requireAuthorOrModerator(ctx context.Context, msg *models.Message, actorID string) error {
	member, err := s.access.requireMember(ctx, msg.ConversationID, actorID)
	if err != nil {
		return err
	}
	if msg.IsAuthor(actorID) && !msg.IsSystem() {
		return nil
	}
	if member.Role.CanModerate() {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "only the author, the owner or a deputy can do this")
}

func (s *MessageService) view(ctx context.Context, msg *models.Message) *models.MessageView {
	view, err := s.deps.Messages.GetView(ctx, msg.ID)
	if err != nil {
		s.logger.Debug("falling back to bare message view", zap.Int64("message_id", msg.ID), zap.Error(err))
		view = &models.MessageView{Message: *msg}
	}
	if msg.ParentID != nil {
		previews, err := s.deps.Messages.Previews(ctx, []int64{*msg.ParentID})
		if err == nil {
			if preview, ok := previews[*msg.ParentID]; ok {
				view.ReplyTo = &preview
			}
		}
	}
	return view
}

func (s *MessageService) attachReplies(ctx context.Context, items []models.MessageView) error {
	var parents []int64
	for _, item := range items {
		if item.ParentID != nil {
			parents = append(parents, *item.ParentID)
		}
	}
	if len(parents) == 0 {
		return nil
	}
	previews, err := s.deps.Messages.Previews(ctx, parents)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reply previews")
	}
	for i := range items {
		if items[i].ParentID == nil {
			continue
		}
		if preview, ok := previews[*items[i].ParentID]; ok {
			p := preview
			items[i].ReplyTo = &p
		}
	}
	return nil
}

func (s *MessageService) moderators(ctx context.Context, conversationID string) []string {
	ids, err := s.deps.Members.ListModeratorIDs(ctx, conversationID)
	if err != nil {
		s.logger.Warn("failed to load moderators", zap.String("conversation_id", conversationID), zap.Error(err))
		return nil
	}
	return ids
}

// alertUnread pushes an unread badge to every member who has not muted the
// conversation, wherever their connections are subscribed.
func (s *MessageService) alertUnread(ctx context.Context, msg *models.Message) {
	exceptID := ""
	if msg.SenderID != nil {
		exceptID = *msg.SenderID
	}
	recipients, err := s.deps.Members.ListUnmutedUserIDs(ctx, msg.ConversationID, exceptID)
	if err != nil {
		s.logger.Warn("failed to load unmuted members", zap.String("conversation_id", msg.ConversationID), zap.Error(err))
		return
	}
	if len(recipients) == 0 {
		return
	}
	publish(ctx, s.deps.Bus, s.logger, realtime.Event{
		Type:       realtime.EventUnreadMessage,
		Recipients: recipients,
		Payload: map[string]string{
			"conversationId": msg.ConversationID,
			"messageId":      strconv.FormatInt(msg.ID, 10),
		},
	})
}

// hiddenAudience returns the users allowed to see msg while it is not
// approved, or nil when the whole conversation may see it.
func (s *MessageService) hiddenAudience(ctx context.Context, msg *models.Message) []string {
	if msg.ReviewStatus == models.ReviewApproved {
		return nil
	}
	return s.moderators(ctx, msg.ConversationID)
}

// emit publishes to the conversation group, or only to audience plus the
// author when audience is set.
func (s *MessageService) emit(ctx context.Context, eventType realtime.EventType, msg *models.Message, payload interface{}, audience []string) {
	ev := realtime.Event{Type: eventType, ConversationID: msg.ConversationID, Payload: payload}
	if audience != nil || msg.ReviewStatus != models.ReviewApproved {
		recipients := append([]string{}, audience...)
		if msg.SenderID != nil {
			recipients = append(recipients, *msg.SenderID)
		}
		ev.Recipients = recipients
		ev.ConversationID = ""
	}
	publish(ctx, s.deps.Bus, s.logger, ev)
}
