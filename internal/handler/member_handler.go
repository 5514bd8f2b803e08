package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/studyhub-api/internal/models"
	"github.com/noah-isme/studyhub-api/pkg/response"
)

type memberService interface {
	List(ctx context.Context, conversationID, viewerID string) ([]models.MemberView, error)
	Join(ctx context.Context, conversationID, userID string, req models.JoinConversationRequest) (*models.JoinOutcome, error)
	Leave(ctx context.Context, conversationID, userID string) error
	ChangeRole(ctx context.Context, conversationID, targetID, actorID string, req models.ChangeRoleRequest) (*models.ConversationMember, error)
	Remove(ctx context.Context, conversationID, targetID, actorID string) error
	SetMuted(ctx context.Context, conversationID, userID string, req models.MuteRequest) (bool, error)
	MarkRead(ctx context.Context, conversationID, userID string, req models.MarkReadRequest) error
}

// MemberHandler exposes membership endpoints of a conversation.
type MemberHandler struct {
	service memberService
}

// NewMemberHandler builds the handler.
func NewMemberHandler(svc memberService) *MemberHandler {
	return &MemberHandler{service: svc}
}

// List godoc
// @Summary List members
// @Tags Members
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /conversation/{id}/members [get]
func (h *MemberHandler) List(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	items, err := h.service.List(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, items)
}

// Join godoc
// @Summary Join conversation
// @Description Public rooms join immediately. Private rooms create a pending join request.
// @Tags Members
// @Accept json
// @Produce json
// @Param id path string true "Conversation ID"
// @Param payload body models.JoinConversationRequest false "Optional message to moderators"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /conversation/{id}/join [post]
func (h *MemberHandler) Join(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var req models.JoinConversationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, bindError(err, "invalid join payload"))
			return
		}
	}
	outcome, err := h.service.Join(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if outcome.Status == models.JoinStatusPending {
		status = http.StatusAccepted
	}
	response.JSON(c, status, outcome, nil)
}

// Leave godoc
// @Summary Leave conversation
// @Description The owner must transfer ownership or dissolve instead
// @Tags Members
// @Param id path string true "Conversation ID"
// @Success 204
// @Failure 400 {object} response.Envelope
// @Router /conversation/{id}/leave [post]
func (h *MemberHandler) Leave(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.service.Leave(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ChangeRole godoc
// @Summary Change member role
// @Description Owner only. Promoting to owner transfers ownership.
// @Tags Members
// @Accept json
// @Produce json
// @Param id path string true "Conversation ID"
// @Param userId path string true "Member user ID"
// @Param payload body models.ChangeRoleRequest true "Role"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /conversation/{id}/members/{userId}/role [put]
func (h *MemberHandler) ChangeRole(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var req models.ChangeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid role payload"))
		return
	}
	member, err := h.service.ChangeRole(c.Request.Context(), c.Param("id"), c.Param("userId"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, member)
}

// Remove godoc
// @Summary Remove member
// @Tags Members
// @Param id path string true "Conversation ID"
// @Param userId path string true "Member user ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Router /conversation/{id}/members/{userId} [delete]
func (h *MemberHandler) Remove(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.service.Remove(c.Request.Context(), c.Param("id"), c.Param("userId"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Mute godoc
// @Summary Mute or unmute
// @Description Omitting isMuted toggles the flag
// @Tags Members
// @Accept json
// @Produce json
// @Param id path string true "Conversation ID"
// @Param payload body models.MuteRequest false "Mute flag"
// @Success 200 {object} response.Envelope
// @Router /conversation/{id}/mute [put]
func (h *MemberHandler) Mute(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var req models.MuteRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, bindError(err, "invalid mute payload"))
			return
		}
	}
	muted, err := h.service.SetMuted(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"isMuted": muted})
}

// MarkRead godoc
// @Summary Mark conversation read
// @Description The read pointer only moves forward
// @Tags Members
// @Accept json
// @Param id path string true "Conversation ID"
// @Param payload body models.MarkReadRequest true "Last read message"
// @Success 204
// @Router /conversation/{id}/read [post]
func (h *MemberHandler) MarkRead(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var req models.MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid read payload"))
		return
	}
	if err := h.service.MarkRead(c.Request.Context(), c.Param("id"), claims.UserID, req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
