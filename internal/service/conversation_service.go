package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/studyhub-api/internal/models"
	"github.com/noah-isme/studyhub-api/internal/realtime"
	appErrors "github.com/noah-isme/studyhub-api/pkg/errors"
)

type conversationRepository interface {
	Create(ctx context.Context, nc *models.NewConversation) error
	FindByID(ctx context.Context, id string) (*models.Conversation, error)
	GetListItem(ctx context.Context, id, viewerID string) (*models.ConversationListItem, error)
	List(ctx context.Context, filter models.ConversationFilter) ([]models.ConversationListItem, int, error)
	TagsFor(ctx context.Context, conversationIDs []string) (map[string][]models.Tag, error)
	Update(ctx context.Context, upd models.ConversationUpdate) (*models.Conversation, error)
	SoftDelete(ctx context.Context, id, actorID string) error
}

type conversationMemberReader interface {
	Find(ctx context.Context, conversationID, userID string) (*models.ConversationMember, error)
	ListUserIDs(ctx context.Context, conversationID string) ([]string, error)
}

type pendingJoinChecker interface {
	HasPending(ctx context.Context, conversationID, userID string) (bool, error)
}

type pendingInvitationChecker interface {
	HasLivePending(ctx context.Context, conversationID, inviteeID string) (bool, error)
}

type messagePreviewer interface {
	Previews(ctx context.Context, ids []int64) (map[int64]models.MessagePreview, error)
}

type subjectChecker interface {
	SubjectExists(ctx context.Context, id string) (bool, error)
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// ConversationDeps groups the collaborators of ConversationService.
type ConversationDeps struct {
	Conversations conversationRepository
	Members       conversationMemberReader
	JoinRequests  pendingJoinChecker
	Invitations   pendingInvitationChecker
	Messages      messagePreviewer
	Subjects      subjectChecker
	Audit         auditRecorder
	Cache         *CacheService
	Bus           EventPublisher
	IDs           IDGenerator
}

// ConversationService implements conversation CRUD and subscription checks.
type ConversationService struct {
	deps      ConversationDeps
	access    conversationAccess
	validator *validator.Validate
	logger    *zap.Logger
}

// NewConversationService constructs the service.
func NewConversationService(deps ConversationDeps, validate *validator.Validate, logger *zap.Logger) *ConversationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationService{
		deps:      deps,
		access:    conversationAccess{conversations: deps.Conversations, members: deps.Members},
		validator: validate,
		logger:    logger,
	}
}

// Create stores a conversation owned by actorID and returns its detail.
func (s *ConversationService) Create(ctx context.Context, req models.CreateConversationRequest, actorID string) (*models.ConversationDetail, error) {
	newTags, err := s.prepare(ctx, &req)
	if err != nil {
		return nil, err
	}

	nc := &models.NewConversation{
		Conversation: models.Conversation{
			ID:              uuid.NewString(),
			Name:            req.Name,
			Description:     req.Description,
			AvatarURL:       req.AvatarURL,
			Visibility:      req.Visibility,
			Type:            req.Type,
			SubjectID:       req.SubjectID,
			RequireApproval: req.RequireApproval,
		},
		TagIDs:  req.TagIDs,
		NewTags: newTags,
	}
	nc.Conversation.CreatedBy = &actorID
	nc.SystemMessage = systemMessage(s.deps.IDs, nc.Conversation.ID, actorID, models.SystemCreated, "created the conversation")

	if err := s.deps.Conversations.Create(ctx, nc); err != nil {
		return nil, repoError(err, "conversation not found", "failed to create conversation")
	}
	if len(newTags) > 0 {
		s.deps.Cache.Invalidate(ctx, CacheKey("tags", "*"))
	}

	s.logger.Info("conversation created",
		zap.String("conversation_id", nc.Conversation.ID),
		zap.String("owner_id", actorID))
	return s.Detail(ctx, nc.Conversation.ID, actorID)
}

// Detail returns one conversation with the viewer's computed fields.
func (s *ConversationService) Detail(ctx context.Context, id, viewerID string) (*models.ConversationDetail, error) {
	item, err := s.deps.Conversations.GetListItem(ctx, id, viewerID)
	if err != nil {
		return nil, repoError(err, "conversation not found", "failed to load conversation")
	}
	tags, err := s.deps.Conversations.TagsFor(ctx, []string{id})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load tags")
	}
	item.Tags = nonNilTags(tags[id])

	detail := &models.ConversationDetail{ConversationListItem: *item}
	if !item.IsCurrentUserMember {
		if detail.HasPendingJoinRequest, err = s.deps.JoinRequests.HasPending(ctx, id, viewerID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check join requests")
		}
		if detail.HasPendingInvitation, err = s.deps.Invitations.HasLivePending(ctx, id, viewerID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check invitations")
		}
	}

	if item.LastMessageID != nil && (item.IsCurrentUserMember || !item.IsPrivate()) {
		previews, err := s.deps.Messages.Previews(ctx, []int64{*item.LastMessageID})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load latest message")
		}
		if preview, ok := previews[*item.LastMessageID]; ok {
			detail.LastMessage = &preview
		}
	}
	return detail, nil
}

// List returns public conversations and the viewer's own.
func (s *ConversationService) List(ctx context.Context, filter models.ConversationFilter) ([]models.ConversationListItem, *models.Pagination, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	items, total, err := s.deps.Conversations.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list conversations")
	}

	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}
	tags, err := s.deps.Conversations.TagsFor(ctx, ids)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load tags")
	}
	for i := range items {
		items[i].Tags = nonNilTags(tags[items[i].ID])
	}
	if items == nil {
		items = []models.ConversationListItem{}
	}
	return items, pagination(filter.Page, filter.PageSize, total), nil
}

// Update replaces mutable fields. Only the owner or a deputy may update.
func (s *ConversationService) Update(ctx context.Context, id string, req models.UpdateConversationRequest, actorID string) (*models.ConversationDetail, error) {
	if _, err := s.access.conversation(ctx, id); err != nil {
		return nil, err
	}
	if _, err := s.access.requireModerator(ctx, id, actorID); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid conversation payload")
	}
	newTags, err := s.prepare(ctx, &req.CreateConversationRequest)
	if err != nil {
		return nil, err
	}

	updated, err := s.deps.Conversations.Update(ctx, models.ConversationUpdate{
		ID:              id,
		Name:            req.Name,
		Description:     req.Description,
		AvatarURL:       req.AvatarURL,
		Visibility:      req.Visibility,
		SubjectID:       req.SubjectID,
		RequireApproval: req.RequireApproval,
		TagIDs:          req.TagIDs,
		NewTags:         newTags,
		ExpectedVersion: req.RowVersion,
		ActorID:         actorID,
	})
	if err != nil {
		return nil, repoError(err, "conversation not found", "failed to update conversation")
	}
	if len(newTags) > 0 {
		s.deps.Cache.Invalidate(ctx, CacheKey("tags", "*"))
	}
	s.announceUpdate(ctx, updated, actorID)
	return s.Detail(ctx, id, actorID)
}

// announceUpdate tells subscribers about the change. Private conversations
// also shed subscribers that joined the group while it was public.
func (s *ConversationService) announceUpdate(ctx context.Context, conv *models.Conversation, actorID string) {
	ev := realtime.Event{
		Type:           realtime.EventConversationUpdated,
		ConversationID: conv.ID,
		Payload: map[string]interface{}{
			"conversationId": conv.ID,
			"visibility":     conv.Visibility,
			"rowVersion":     conv.RowVersion,
			"updatedBy":      actorID,
		},
	}
	if conv.IsPrivate() {
		members, err := s.deps.Members.ListUserIDs(ctx, conv.ID)
		if err != nil {
			s.logger.Warn("load members for visibility change failed", zap.String("conversation_id", conv.ID), zap.Error(err))
			ev.CloseGroup = true
		}
		ev.RestrictTo = members
	}
	publish(ctx, s.deps.Bus, s.logger, ev)
}

// Dissolve soft-deletes a conversation. Only the owner may dissolve it.
func (s *ConversationService) Dissolve(ctx context.Context, id, actorID string) error {
	if _, err := s.access.conversation(ctx, id); err != nil {
		return err
	}
	member, err := s.access.requireMember(ctx, id, actorID)
	if err != nil {
		return err
	}
	if member.Role != models.MemberRoleOwner {
		return appErrors.Clone(appErrors.ErrForbidden, "only the owner can dissolve the conversation")
	}

	recipients, err := s.deps.Members.ListUserIDs(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load members")
	}
	if err := s.deps.Conversations.SoftDelete(ctx, id, actorID); err != nil {
		return repoError(err, "conversation not found", "failed to dissolve conversation")
	}

	s.audit(ctx, actorID, id)
	publish(ctx, s.deps.Bus, s.logger, realtime.Event{
		Type:           realtime.EventConversationDissolved,
		ConversationID: id,
		Recipients:     recipients,
		CloseGroup:     true,
		Payload:        map[string]string{"conversationId": id, "dissolvedBy": actorID},
	})
	s.logger.Info("conversation dissolved", zap.String("conversation_id", id), zap.String("actor_id", actorID))
	return nil
}

// CanSubscribe allows anyone into public conversation groups and members into
// private ones.
func (s *ConversationService) CanSubscribe(ctx context.Context, conversationID, userID string) error {
	_, _, err := s.access.readable(ctx, conversationID, userID)
	return err
}

func (s *ConversationService) prepare(ctx context.Context, req *models.CreateConversationRequest) ([]models.Tag, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Description = trimmedPtr(req.Description)
	req.AvatarURL = trimmedPtr(req.AvatarURL)
	req.SubjectID = trimmedPtr(req.SubjectID)
	if req.Visibility == "" {
		req.Visibility = models.VisibilityPublic
	}
	if req.Type == "" {
		req.Type = models.ConversationTypeGroup
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid conversation payload")
	}

	newTags := make([]models.Tag, 0, len(req.NewTagNames))
	seen := make(map[string]struct{}, len(req.NewTagNames))
	for _, raw := range req.NewTagNames {
		name := strings.Join(strings.Fields(raw), " ")
		slug := slugify(name)
		if slug == "" {
			continue
		}
		if _, dup := seen[slug]; dup {
			continue
		}
		seen[slug] = struct{}{}
		newTags = append(newTags, models.Tag{ID: uuid.NewString(), Name: name, Slug: slug})
	}
	if len(req.TagIDs) == 0 && len(newTags) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one tag or new tag name is required")
	}

	if req.Type == models.ConversationTypeStudy && req.SubjectID == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "study conversations require a subject")
	}
	if req.SubjectID != nil {
		ok, err := s.deps.Subjects.SubjectExists(ctx, *req.SubjectID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check subject")
		}
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "subject does not exist")
		}
	}
	return newTags, nil
}

func (s *ConversationService) audit(ctx context.Context, actorID, conversationID string) {
	if s.deps.Audit == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{"status": "dissolved"})
	if err := s.deps.Audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionConversationDelete,
		Resource:   "conversation",
		ResourceID: &conversationID,
		NewValues:  payload,
	}); err != nil {
		s.logger.Warn("failed to record dissolve audit log", zap.Error(err))
	}
}

func nonNilTags(tags []models.Tag) []models.Tag {
	if tags == nil {
		return []models.Tag{}
	}
	return tags
}
