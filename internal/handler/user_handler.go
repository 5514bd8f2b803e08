package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/studyhub-api/internal/models"
	"github.com/noah-isme/studyhub-api/pkg/response"
)

type userService interface {
	Me(ctx context.Context, userID string) (*models.User, error)
	Profile(ctx context.Context, userID string) (*models.UserSummary, error)
	Create(ctx context.Context, req models.CreateUserRequest, actorID string, meta models.LoginRequest) (*models.User, error)
	TrustHistory(ctx context.Context, userID string, actor models.JWTClaims, page, pageSize int) ([]models.UserTrustHistory, *models.Pagination, error)
	AdjustTrust(ctx context.Context, userID string, req models.AdjustTrustRequest, actorID string, meta models.LoginRequest) (*models.UserTrustHistory, error)
}

// UserHandler handles profile and trust endpoints.
type UserHandler struct {
	service userService
}

// NewUserHandler creates a new user handler.
func NewUserHandler(svc userService) *UserHandler {
	return &UserHandler{service: svc}
}

// Me godoc
// @Summary Current user
// @Description Full account of the authenticated user
// @Tags Users
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /users/me [get]
func (h *UserHandler) Me(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	user, err := h.service.Me(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, user)
}

// Get godoc
// @Summary Public profile
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id} [get]
func (h *UserHandler) Get(c *gin.Context) {
	profile, err := h.service.Profile(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, profile)
}

// TrustHistory godoc
// @Summary Trust score history
// @Description Visible to the user themselves and administrators
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /users/{id}/trust-history [get]
func (h *UserHandler) TrustHistory(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	items, pagination, err := h.service.TrustHistory(c.Request.Context(), c.Param("id"), *claims, parseQueryInt(c, "page", 1), parseQueryInt(c, "pageSize", 20))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, items, pagination)
}

// Create godoc
// @Summary Provision user
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body models.CreateUserRequest true "Create user payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/users [post]
func (h *UserHandler) Create(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var req models.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid payload"))
		return
	}
	user, err := h.service.Create(c.Request.Context(), req, claims.UserID, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, user)
}

// AdjustTrust godoc
// @Summary Adjust trust score
// @Description Manual adjustment recorded in the trust ledger
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body models.AdjustTrustRequest true "Adjustment"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/users/{id}/trust [post]
func (h *UserHandler) AdjustTrust(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var req models.AdjustTrustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid payload"))
		return
	}
	entry, err := h.service.AdjustTrust(c.Request.Context(), c.Param("id"), req, claims.UserID, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, entry)
}
