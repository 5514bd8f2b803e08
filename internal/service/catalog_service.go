package service

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/studyhub-api/internal/models"
	appErrors "github.com/noah-isme/studyhub-api/pkg/errors"
)

type catalogRepository interface {
	ListFaculties(ctx context.Context) ([]models.Faculty, error)
	ListMajors(ctx context.Context, facultyID string) ([]models.Major, error)
	ListSubjects(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, error)
	ListTags(ctx context.Context, search string) ([]models.Tag, error)
	CreateFaculty(ctx context.Context, f *models.Faculty, actorID string) error
	CreateMajor(ctx context.Context, m *models.Major, actorID string) error
	CreateSubject(ctx context.Context, s *models.Subject, actorID string) error
	CreateTag(ctx context.Context, t *models.Tag) error
}

// CatalogService serves the academic catalog and the tag vocabulary.
type CatalogService struct {
	repo      catalogRepository
	cache     *CacheService
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCatalogService constructs the service. cache may be nil.
func NewCatalogService(repo catalogRepository, cache *CacheService, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *CatalogService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &CatalogService{repo: repo, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// Faculties lists all faculties.
func (s *CatalogService) Faculties(ctx context.Context) ([]models.Faculty, error) {
	items, err := remember(ctx, s.cache, CacheKey("catalog", "faculties"), s.cacheTTL, s.repo.ListFaculties)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list faculties")
	}
	return nonNil(items), nil
}

// Majors lists majors, optionally of one faculty.
func (s *CatalogService) Majors(ctx context.Context, facultyID string) ([]models.Major, error) {
	facultyID = strings.TrimSpace(facultyID)
	key := CacheKey("catalog", "majors", facultyID)
	items, err := remember(ctx, s.cache, key, s.cacheTTL, func(ctx context.Context) ([]models.Major, error) {
		return s.repo.ListMajors(ctx, facultyID)
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list majors")
	}
	return nonNil(items), nil
}

// Subjects lists subjects by major and name.
func (s *CatalogService) Subjects(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, error) {
	filter.MajorID = strings.TrimSpace(filter.MajorID)
	filter.Search = strings.TrimSpace(filter.Search)
	items, err := s.repo.ListSubjects(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}
	return nonNil(items), nil
}

// Tags lists tags whose name or slug contains search.
func (s *CatalogService) Tags(ctx context.Context, search string) ([]models.Tag, error) {
	search = strings.ToLower(strings.TrimSpace(search))
	items, err := remember(ctx, s.cache, CacheKey("tags", search), s.cacheTTL, func(ctx context.Context) ([]models.Tag, error) {
		return s.repo.ListTags(ctx, search)
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list tags")
	}
	return nonNil(items), nil
}

// CreateFaculty adds a faculty.
func (s *CatalogService) CreateFaculty(ctx context.Context, req models.CreateFacultyRequest, actorID string) (*models.Faculty, error) {
	req.Code, req.Name = strings.ToUpper(strings.TrimSpace(req.Code)), strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid faculty payload")
	}
	faculty := &models.Faculty{Code: req.Code, Name: req.Name}
	if err := s.repo.CreateFaculty(ctx, faculty, actorID); err != nil {
		return nil, s.createError(err, "faculty code already exists", "failed to create faculty")
	}
	s.cache.Invalidate(ctx, CacheKey("catalog", "faculties"))
	return faculty, nil
}

// CreateMajor adds a major under an existing faculty.
func (s *CatalogService) CreateMajor(ctx context.Context, req models.CreateMajorRequest, actorID string) (*models.Major, error) {
	req.Code, req.Name = strings.ToUpper(strings.TrimSpace(req.Code)), strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid major payload")
	}
	major := &models.Major{FacultyID: req.FacultyID, Code: req.Code, Name: req.Name}
	if err := s.repo.CreateMajor(ctx, major, actorID); err != nil {
		return nil, s.createError(err, "major code already exists", "failed to create major")
	}
	s.cache.Invalidate(ctx, CacheKey("catalog", "majors", "*"))
	return major, nil
}

// CreateSubject adds a subject linked to majors.
func (s *CatalogService) CreateSubject(ctx context.Context, req models.CreateSubjectRequest, actorID string) (*models.Subject, error) {
	req.Code, req.Name = strings.ToUpper(strings.TrimSpace(req.Code)), strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid subject payload")
	}
	subject := &models.Subject{Code: req.Code, Name: req.Name, MajorIDs: req.MajorIDs}
	if err := s.repo.CreateSubject(ctx, subject, actorID); err != nil {
		return nil, s.createError(err, "subject code already exists", "failed to create subject")
	}
	return subject, nil
}

// CreateTag adds a tag; names that normalize to an existing slug conflict.
func (s *CatalogService) CreateTag(ctx context.Context, req models.CreateTagRequest) (*models.Tag, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid tag payload")
	}
	tag := &models.Tag{Name: req.Name, Slug: slugify(req.Name)}
	if err := s.repo.CreateTag(ctx, tag); err != nil {
		return nil, s.createError(err, "tag already exists", "failed to create tag")
	}
	s.cache.Invalidate(ctx, CacheKey("tags", "*"))
	return tag, nil
}

func (s *CatalogService) createError(err error, duplicate, internal string) error {
	if isDuplicate(err) {
		return appErrors.Clone(appErrors.ErrConflict, duplicate)
	}
	return repoError(err, "not found", internal)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
