package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/studyhub-api/internal/middleware"
	"github.com/noah-isme/studyhub-api/internal/models"
	"github.com/noah-isme/studyhub-api/pkg/response"
)

type catalogService interface {
	Faculties(ctx context.Context) ([]models.Faculty, error)
	Majors(ctx context.Context, facultyID string) ([]models.Major, error)
	Subjects(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, error)
	Tags(ctx context.Context, search string) ([]models.Tag, error)
	CreateFaculty(ctx context.Context, req models.CreateFacultyRequest, actorID string) (*models.Faculty, error)
	CreateMajor(ctx context.Context, req models.CreateMajorRequest, actorID string) (*models.Major, error)
	CreateSubject(ctx context.Context, req models.CreateSubjectRequest, actorID string) (*models.Subject, error)
	CreateTag(ctx context.Context, req models.CreateTagRequest) (*models.Tag, error)
}

// CatalogHandler serves the faculty, major, subject and tag lookups.
type CatalogHandler struct {
	service catalogService
}

// NewCatalogHandler constructs the handler.
func NewCatalogHandler(svc catalogService) *CatalogHandler {
	return &CatalogHandler{service: svc}
}

// Faculties godoc
// @Summary List faculties
// @Tags Catalog
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /faculties [get]
func (h *CatalogHandler) Faculties(c *gin.Context) {
	items, err := h.service.Faculties(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, items)
}

// Majors godoc
// @Summary List majors
// @Tags Catalog
// @Produce json
// @Param facultyId query string false "Faculty filter"
// @Success 200 {object} response.Envelope
// @Router /majors [get]
func (h *CatalogHandler) Majors(c *gin.Context) {
	items, err := h.service.Majors(c.Request.Context(), c.Query("facultyId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, items)
}

// Subjects godoc
// @Summary List subjects
// @Tags Catalog
// @Produce json
// @Param majorId query string false "Major filter"
// @Param search query string false "Name or code search"
// @Success 200 {object} response.Envelope
// @Router /subjects [get]
func (h *CatalogHandler) Subjects(c *gin.Context) {
	filter := models.SubjectFilter{MajorID: c.Query("majorId"), Search: c.Query("search")}
	items, err := h.service.Subjects(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, items)
}

// Tags godoc
// @Summary List tags
// @Tags Catalog
// @Produce json
// @Param search query string false "Name search"
// @Success 200 {object} response.Envelope
// @Router /tags [get]
func (h *CatalogHandler) Tags(c *gin.Context) {
	items, err := h.service.Tags(c.Request.Context(), c.Query("search"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, items)
}

// CreateFaculty godoc
// @Summary Create faculty
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body models.CreateFacultyRequest true "Faculty"
// @Success 201 {object} response.Envelope
// @Router /admin/faculties [post]
func (h *CatalogHandler) CreateFaculty(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var req models.CreateFacultyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid payload"))
		return
	}
	item, err := h.service.CreateFaculty(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetAuditResource(c, item.ID)
	response.Created(c, item)
}

// CreateMajor godoc
// @Summary Create major
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body models.CreateMajorRequest true "Major"
// @Success 201 {object} response.Envelope
// @Router /admin/majors [post]
func (h *CatalogHandler) CreateMajor(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var req models.CreateMajorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid payload"))
		return
	}
	item, err := h.service.CreateMajor(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetAuditResource(c, item.ID)
	response.Created(c, item)
}

// CreateSubject godoc
// @Summary Create subject
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body models.CreateSubjectRequest true "Subject"
// @Success 201 {object} response.Envelope
// @Router /admin/subjects [post]
func (h *CatalogHandler) CreateSubject(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var req models.CreateSubjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid payload"))
		return
	}
	item, err := h.service.CreateSubject(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetAuditResource(c, item.ID)
	response.Created(c, item)
}

// CreateTag godoc
// @Summary Create tag
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body models.CreateTagRequest true "Tag"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/tags [post]
func (h *CatalogHandler) CreateTag(c *gin.Context) {
	var req models.CreateTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid payload"))
		return
	}
	item, err := h.service.CreateTag(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetAuditResource(c, item.ID)
	response.Created(c, item)
}
