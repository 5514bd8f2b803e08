package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/studyhub-api/internal/models"
	"github.com/noah-isme/studyhub-api/pkg/response"
)

type invitationService interface {
	Create(ctx context.Context, conversationID, actorID string, req models.CreateInvitationRequest) (*models.GroupInvitation, error)
	ListForConversation(ctx context.Context, filter models.InvitationFilter, actorID string) ([]models.InvitationView, *models.Pagination, error)
	ListMine(ctx context.Context, filter models.InvitationFilter, userID string) ([]models.InvitationView, *models.Pagination, error)
	Accept(ctx context.Context, id, userID string) (*models.GroupInvitation, error)
	Decline(ctx context.Context, id, userID string) (*models.GroupInvitation, error)
	Cancel(ctx context.Context, id, actorID string) error
}

type memberRecommender interface {
	SuggestMembers(ctx context.Context, conversationID, actorID string) ([]models.MemberSuggestion, error)
}

// InvitationHandler exposes invitations and invitee suggestions.
type InvitationHandler struct {
	service     invitationService
	recommender memberRecommender
}

// NewInvitationHandler builds the handler.
func NewInvitationHandler(svc invitationService, recommender memberRecommender) *InvitationHandler {
	return &InvitationHandler{service: svc, recommender: recommender}
}

func invitationFilter(c *gin.Context) models.InvitationFilter {
	filter := models.InvitationFilter{
		Page:     parseQueryInt(c, "page", 1),
		PageSize: parseQueryInt(c, "pageSize", 20),
	}
	if status := strings.ToUpper(c.Query("status")); status != "" {
		s := models.InvitationStatus(status)
		filter.Status = &s
	}
	return filter
}

// Create godoc
// @Summary Invite user
// @Description Owner or deputy. The invitee must exist and not already be a member.
// @Tags Invitations
// @Accept json
// @Produce json
// @Param id path string true "Conversation ID"
// @Param payload body models.CreateInvitationRequest true "Invitation"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /conversation/{id}/invitations [post]
func (h *InvitationHandler) Create(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var req models.CreateInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid invitation payload"))
		return
	}
	invitation, err := h.service.Create(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, invitation)
}

// List godoc
// @Summary Invitations of a conversation
// @Tags Invitations
// @Produce json
// @Param id path string true "Conversation ID"
// @Param status query string false "Status filter"
// @Success 200 {object} response.Envelope
// @Router /conversation/{id}/invitations [get]
func (h *InvitationHandler) List(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	filter := invitationFilter(c)
	filter.ConversationID = c.Param("id")
	items, pagination, err := h.service.ListForConversation(c.Request.Context(), filter, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, items, pagination)
}

// Mine godoc
// @Summary My invitations
// @Description Pending invitations past their deadline are reported as EXPIRED
// @Tags Invitations
// @Produce json
// @Param status query string false "Status filter"
// @Success 200 {object} response.Envelope
// @Router /conversation/invitations/mine [get]
func (h *InvitationHandler) Mine(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	items, pagination, err := h.service.ListMine(c.Request.Context(), invitationFilter(c), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, items, pagination)
}

// Accept godoc
// @Summary Accept invitation
// @Tags Invitations
// @Produce json
// @Param id path string true "Invitation ID"
// @Success 200 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Router /conversation/invitations/{id}/accept [post]
func (h *InvitationHandler) Accept(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	invitation, err := h.service.Accept(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, invitation)
}

// Decline godoc
// @Summary Decline invitation
// @Tags Invitations
// @Produce json
// @Param id path string true "Invitation ID"
// @Success 200 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Router /conversation/invitations/{id}/decline [post]
func (h *InvitationHandler) Decline(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	invitation, err := h.service.Decline(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, invitation)
}

// Cancel godoc
// @Summary Cancel invitation
// @Description Inviter, owner or deputy
// @Tags Invitations
// @Param id path string true "Invitation ID"
// @Success 204
// @Router /conversation/invitations/{id} [delete]
func (h *InvitationHandler) Cancel(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.service.Cancel(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// SuggestedMembers godoc
// @Summary Suggested invitees
// @Description Owner or deputy. Existing members and pending invitees are skipped.
// @Tags Invitations
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /conversation/{id}/suggested-members [get]
func (h *InvitationHandler) SuggestedMembers(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	items, err := h.recommender.SuggestMembers(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, items)
}
