package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/studyhub-api/internal/models"
	appErrors "github.com/noah-isme/studyhub-api/pkg/errors"
	"github.com/noah-isme/studyhub-api/pkg/response"
)

type messageService interface {
	List(ctx context.Context, conversationID, viewerID string, before *int64, limit int) (*models.MessagePage, error)
	Pinned(ctx context.Context, conversationID, viewerID string) ([]models.MessageView, error)
	Send(ctx context.Context, conversationID, senderID string, req models.SendMessageRequest) (*models.MessageView, error)
	Edit(ctx context.Context, conversationID string, messageID int64, actorID string, req models.EditMessageRequest) (*models.MessageView, error)
	Delete(ctx context.Context, conversationID string, messageID int64, actorID string) error
	Pin(ctx context.Context, conversationID string, messageID int64, actorID string) (*models.MessageView, error)
	Unpin(ctx context.Context, conversationID string, messageID int64, actorID string) (*models.MessageView, error)
	Review(ctx context.Context, conversationID string, messageID int64, reviewerID string, req models.ReviewMessageRequest) (*models.MessageView, error)
	UnreadCount(ctx context.Context, conversationID, userID string) (int, error)
}

// MessageHandler exposes conversation history and message mutations.
type MessageHandler struct {
	service messageService
}

// NewMessageHandler builds the handler.
func NewMessageHandler(svc messageService) *MessageHandler {
	return &MessageHandler{service: svc}
}

// List godoc
// @Summary Message history
// @Description Pages backwards from before. Items are ascending within a page.
// @Tags Messages
// @Produce json
// @Param conversationId path string true "Conversation ID"
// @Param before query string false "Exclusive message id cursor"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /conversations/{conversationId}/messages [get]
func (h *MessageHandler) List(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var before *int64
	if raw := c.Query("before"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid before cursor"))
			return
		}
		before = &id
	}
	page, err := h.service.List(c.Request.Context(), c.Param("conversationId"), claims.UserID, before, parseQueryInt(c, "limit", 0))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, page)
}

// Pinned godoc
// @Summary Pinned messages
// @Tags Messages
// @Produce json
// @Param conversationId path string true "Conversation ID"
// @Success 200 {object} response.Envelope
// @Router /conversations/{conversationId}/messages/pinned [get]
func (h *MessageHandler) Pinned(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	items, err := h.service.Pinned(c.Request.Context(), c.Param("conversationId"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, items)
}

// UnreadCount godoc
// @Summary Unread message count
// @Tags Messages
// @Produce json
// @Param conversationId path string true "Conversation ID"
// @Success 200 {object} response.Envelope
// @Router /conversations/{conversationId}/messages/unread-count [get]
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	count, err := h.service.UnreadCount(c.Request.Context(), c.Param("conversationId"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"count": count})
}

// Send godoc
// @Summary Send message
// @Description Moderated conversations hold plain members' messages for review
// @Tags Messages
// @Accept json
// @Produce json
// @Param conversationId path string true "Conversation ID"
// @Param payload body models.SendMessageRequest true "Message"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /conversations/{conversationId}/messages [post]
func (h *MessageHandler) Send(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid message payload"))
		return
	}
	msg, err := h.service.Send(c.Request.Context(), c.Param("conversationId"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, msg)
}

// Edit godoc
// @Summary Edit message
// @Description Author only. rowVersion must match.
// @Tags Messages
// @Accept json
// @Produce json
// @Param conversationId path string true "Conversation ID"
// @Param messageId path string true "Message ID"
// @Param payload body models.EditMessageRequest true "New content"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /conversations/{conversationId}/messages/{messageId} [put]
func (h *MessageHandler) Edit(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	messageID, ok := parseMessageID(c, "messageId")
	if !ok {
		return
	}
	var req models.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid message payload"))
		return
	}
	msg, err := h.service.Edit(c.Request.Context(), c.Param("conversationId"), messageID, claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, msg)
}

// Delete godoc
// @Summary Delete message
// @Description Author, owner or deputy
// @Tags Messages
// @Param conversationId path string true "Conversation ID"
// @Param messageId path string true "Message ID"
// @Success 204
// @Router /conversations/{conversationId}/messages/{messageId} [delete]
func (h *MessageHandler) Delete(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	messageID, ok := parseMessageID(c, "messageId")
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("conversationId"), messageID, claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Pin godoc
// @Summary Pin message
// @Tags Messages
// @Produce json
// @Param conversationId path string true "Conversation ID"
// @Param messageId path string true "Message ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /conversations/{conversationId}/messages/{messageId}/pin [post]
func (h *MessageHandler) Pin(c *gin.Context) {
	h.pin(c, true)
}

// Unpin godoc
// @Summary Unpin message
// @Tags Messages
// @Produce json
// @Param conversationId path string true "Conversation ID"
// @Param messageId path string true "Message ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /conversations/{conversationId}/messages/{messageId}/pin [delete]
func (h *MessageHandler) Unpin(c *gin.Context) {
	h.pin(c, false)
}

func (h *MessageHandler) pin(c *gin.Context, pinned bool) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	messageID, ok := parseMessageID(c, "messageId")
	if !ok {
		return
	}
	var (
		msg *models.MessageView
		err error
	)
	if pinned {
		msg, err = h.service.Pin(c.Request.Context(), c.Param("conversationId"), messageID, claims.UserID)
	} else {
		msg, err = h.service.Unpin(c.Request.Context(), c.Param("conversationId"), messageID, claims.UserID)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, msg)
}

// Review godoc
// @Summary Review pending message
// @Description Owner or deputy approves or rejects
// @Tags Messages
// @Accept json
// @Produce json
// @Param conversationId path string true "Conversation ID"
// @Param messageId path string true "Message ID"
// @Param payload body models.ReviewMessageRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /conversations/{conversationId}/messages/{messageId}/review [post]
func (h *MessageHandler) Review(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	messageID, ok := parseMessageID(c, "messageId")
	if !ok {
		return
	}
	var req models.ReviewMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid review payload"))
		return
	}
	msg, err := h.service.Review(c.Request.Context(), c.Param("conversationId"), messageID, claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, msg)
}
