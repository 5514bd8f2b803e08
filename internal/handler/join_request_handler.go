package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/studyhub-api/internal/models"
	appErrors "github.com/noah-isme/studyhub-api/pkg/errors"
	"github.com/noah-isme/studyhub-api/pkg/response"
)

type joinRequestService interface {
	ListForConversation(ctx context.Context, filter models.JoinRequestFilter, actorID string) ([]models.JoinRequestView, *models.Pagination, error)
	ListMine(ctx context.Context, filter models.JoinRequestFilter, userID string) ([]models.JoinRequestView, *models.Pagination, error)
	Approve(ctx context.Context, id, actorID string, req models.ReviewJoinRequest) (*models.JoinRequest, error)
	Reject(ctx context.Context, id, actorID string, req models.ReviewJoinRequest) (*models.JoinRequest, error)
	Cancel(ctx context.Context, id, userID string) error
}

// JoinRequestHandler exposes the private conversation approval workflow.
type JoinRequestHandler struct {
	service joinRequestService
}

// NewJoinRequestHandler builds the handler.
func NewJoinRequestHandler(svc joinRequestService) *JoinRequestHandler {
	return &JoinRequestHandler{service: svc}
}

func joinRequestFilter(c *gin.Context) models.JoinRequestFilter {
	filter := models.JoinRequestFilter{
		ConversationID: c.Query("conversationId"),
		Page:           parseQueryInt(c, "page", 1),
		PageSize:       parseQueryInt(c, "pageSize", 20),
	}
	if status := strings.ToUpper(c.Query("status")); status != "" {
		s := models.JoinRequestStatus(status)
		filter.Status = &s
	}
	return filter
}

// List godoc
// @Summary Join requests of a conversation
// @Description Owner or deputy
// @Tags Join Requests
// @Produce json
// @Param conversationId query string true "Conversation ID"
// @Param status query string false "PENDING, APPROVED, REJECTED or CANCELLED"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /conversation/join-request [get]
func (h *JoinRequestHandler) List(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	filter := joinRequestFilter(c)
	if filter.ConversationID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "conversationId required"))
		return
	}
	items, pagination, err := h.service.ListForConversation(c.Request.Context(), filter, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, items, pagination)
}

// Mine godoc
// @Summary My join requests
// @Tags Join Requests
// @Produce json
// @Param status query string false "Status filter"
// @Success 200 {object} response.Envelope
// @Router /conversation/join-request/mine [get]
func (h *JoinRequestHandler) Mine(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	items, pagination, err := h.service.ListMine(c.Request.Context(), joinRequestFilter(c), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, items, pagination)
}

// Approve godoc
// @Summary Approve join request
// @Tags Join Requests
// @Accept json
// @Produce json
// @Param id path string true "Join request ID"
// @Param payload body models.ReviewJoinRequest false "Review note"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /conversation/join-request/{id}/approve [post]
func (h *JoinRequestHandler) Approve(c *gin.Context) {
	h.review(c, true)
}

// Reject godoc
// @Summary Reject join request
// @Tags Join Requests
// @Accept json
// @Produce json
// @Param id path string true "Join request ID"
// @Param payload body models.ReviewJoinRequest false "Review note"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /conversation/join-request/{id}/reject [post]
func (h *JoinRequestHandler) Reject(c *gin.Context) {
	h.review(c, false)
}

func (h *JoinRequestHandler) review(c *gin.Context, approve bool) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var req models.ReviewJoinRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, bindError(err, "invalid review payload"))
			return
		}
	}

	var (
		result *models.JoinRequest
		err    error
	)
	if approve {
		result, err = h.service.Approve(c.Request.Context(), c.Param("id"), claims.UserID, req)
	} else {
		result, err = h.service.Reject(c.Request.Context(), c.Param("id"), claims.UserID, req)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Cancel godoc
// @Summary Cancel join request
// @Description Requester only, while pending
// @Tags Join Requests
// @Param id path string true "Join request ID"
// @Success 204
// @Router /conversation/join-request/{id} [delete]
func (h *JoinRequestHandler) Cancel(c *gin.Context) {
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
