package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/studyhub-api/internal/models"
	"github.com/noah-isme/studyhub-api/pkg/response"
)

type conversationService interface {
	Create(ctx context.Context, req models.CreateConversationRequest, actorID string) (*models.ConversationDetail, error)
	Detail(ctx context.Context, id, viewerID string) (*models.ConversationDetail, error)
	List(ctx context.Context, filter models.ConversationFilter) ([]models.ConversationListItem, *models.Pagination, error)
	Update(ctx context.Context, id string, req models.UpdateConversationRequest, actorID string) (*models.ConversationDetail, error)
	Dissolve(ctx context.Context, id, actorID string) error
}

type conversationRecommender interface {
	SuggestConversations(ctx context.Context, userID string) ([]models.ConversationSuggestion, error)
}

// ConversationHandler exposes conversation CRUD.
type ConversationHandler struct {
	service     conversationService
	recommender conversationRecommender
}

// NewConversationHandler builds the handler.
func NewConversationHandler(svc conversationService, recommender conversationRecommender) *ConversationHandler {
	return &ConversationHandler{service: svc, recommender: recommender}
}

// List godoc
// @Summary List conversations
// @Description Public conversations plus the caller's private ones
// @Tags Conversations
// @Produce json
// @Param search query string false "Name search"
// @Param subjectId query string false "Subject filter"
// @Param tagId query string false "Tag filter"
// @Param visibility query string false "PUBLIC or PRIVATE"
// @Param mine query bool false "Only conversations the caller belongs to"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /conversation [get]
func (h *ConversationHandler) List(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	filter := models.ConversationFilter{
		ViewerID:  claims.UserID,
		Search:    strings.TrimSpace(c.Query("search")),
		SubjectID: c.Query("subjectId"),
		TagID:     c.Query("tagId"),
		MineOnly:  parseQueryBool(c, "mine"),
		Page:      parseQueryInt(c, "page", 1),
		PageSize:  parseQueryInt(c, "pageSize", 20),
	}
	if visibility := strings.ToUpper(c.Query("visibility")); visibility != "" {
		v := models.ConversationVisibility(visibility)
		filter.Visibility = &v
	}

	items, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, items, pagination)
}

// Get godoc
// @Summary Conversation detail
// @Tags Conversations
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /conversation/{id} [get]
func (h *ConversationHandler) Get(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	detail, err := h.service.Detail(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, detail)
}

// Create godoc
// @Summary Create conversation
// @Description The caller becomes the owner
// @Tags Conversations
// @Accept json
// @Produce json
// @Param payload body models.CreateConversationRequest true "Conversation"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /conversation [post]
func (h *ConversationHandler) Create(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var req models.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid conversation payload"))
		return
	}
	detail, err := h.service.Create(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, detail)
}

// Update godoc
// @Summary Update conversation
// @Description Owner or deputy. rowVersion must match the stored version.
// @Tags Conversations
// @Accept json
// @Produce json
// @Param id path string true "Conversation ID"
// @Param payload body models.UpdateConversationRequest true "Conversation"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /conversation/{id} [put]
func (h *ConversationHandler) Update(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var req models.UpdateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid conversation payload"))
		return
	}
	detail, err := h.service.Update(c.Request.Context(), c.Param("id"), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, detail)
}

// Dissolve godoc
// @Summary Dissolve conversation
// @Description Owner only
// @Tags Conversations
// @Param id path string true "Conversation ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Router /conversation/{id} [delete]
func (h *ConversationHandler) Dissolve(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.service.Dissolve(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Suggestions godoc
// @Summary Suggested conversations
// @Tags Conversations
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /conversation/suggestions [get]
func (h *ConversationHandler) Suggestions(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	items, err := h.recommender.SuggestConversations(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, items)
}
