package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/studyhub-api/internal/models"
	"github.com/noah-isme/studyhub-api/pkg/response"
)

type reportService interface {
	Create(ctx context.Context, reporterID string, req models.CreateReportRequest) (*models.Report, error)
	List(ctx context.Context, filter models.ReportFilter) ([]models.Report, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Report, error)
	Review(ctx context.Context, reportID, reviewerID string, req models.ReviewReportRequest, meta models.LoginRequest) (*models.Report, error)
}

// ReportHandler exposes content reports and their moderation queue.
type ReportHandler struct {
	service reportService
}

// NewReportHandler constructs handler.
func NewReportHandler(svc reportService) *ReportHandler {
	return &ReportHandler{service: svc}
}

// Create godoc
// @Summary Report content
// @Tags Reports
// @Accept json
// @Produce json
// @Param payload body models.CreateReportRequest true "Report"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /reports [post]
func (h *ReportHandler) Create(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var req models.CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid report payload"))
		return
	}
	report, err := h.service.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, report)
}

// List godoc
// @Summary Moderation queue
// @Tags Admin
// @Produce json
// @Param status query string false "PENDING or RESOLVED"
// @Param targetType query string false "DOCUMENT_FILE, COMMENT or MESSAGE"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/reports [get]
func (h *ReportHandler) List(c *gin.Context) {
	filter := models.ReportFilter{
		Page:     parseQueryInt(c, "page", 1),
		PageSize: parseQueryInt(c, "pageSize", 20),
	}
	if status := strings.ToUpper(c.Query("status")); status != "" {
		s := models.ReportStatus(status)
		filter.Status = &s
	}
	if target := strings.ToUpper(c.Query("targetType")); target != "" {
		t := models.ReportTargetType(target)
		filter.TargetType = &t
	}
	items, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, items, pagination)
}

// Get godoc
// @Summary Report detail
// @Tags Admin
// @Produce json
// @Param id path string true "Report ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/reports/{id} [get]
func (h *ReportHandler) Get(c *gin.Context) {
	report, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}

// Review godoc
// @Summary Review report
// @Description Upheld reports cost the content author trust. Upheld message reports remove the message.
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "Report ID"
// @Param payload body models.ReviewReportRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/reports/{id}/review [post]
func (h *ReportHandler) Review(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var req models.ReviewReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid review payload"))
		return
	}
	report, err := h.service.Review(c.Request.Context(), c.Param("id"), claims.UserID, req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}
