package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/studyhub-api/internal/models"
	"github.com/noah-isme/studyhub-api/internal/repository"
	appErrors "github.com/noah-isme/studyhub-api/pkg/errors"
)

// memoryCache stores JSON payloads and supports trailing-star patterns.
type memoryCache struct {
	entries map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}}
}

func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	return nil
}

func (c *memoryCache) DeleteByPattern(ctx context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range c.entries {
		if key == pattern || (strings.HasSuffix(pattern, "*") && strings.HasPrefix(key, prefix)) {
			delete(c.entries, key)
		}
	}
	return nil
}

type catalogRepoStub struct {
	faculties  []models.Faculty
	majors     []models.Major
	tags       []models.Tag
	facultyHit int
	tagHit     int
	subjects   map[string]bool
}

func (r *catalogRepoStub) ListFaculties(ctx context.Context) ([]models.Faculty, error) {
	r.facultyHit++
	return r.faculties, nil
}

func (r *catalogRepoStub) ListMajors(ctx context.Context, facultyID string) ([]models.Major, error) {
	var out []models.Major
	for _, m := range r.majors {
		if facultyID == "" || m.FacultyID == facultyID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *catalogRepoStub) ListSubjects(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, error) {
	return nil, nil
}

func (r *catalogRepoStub) ListTags(ctx context.Context, search string) ([]models.Tag, error) {
	r.tagHit++
	var out []models.Tag
	for _, t := range r.tags {
		if strings.Contains(t.Slug, search) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *catalogRepoStub) CreateFaculty(ctx context.Context, f *models.Faculty, actorID string) error {
	for _, existing := range r.faculties {
		if existing.Code == f.Code {
			return repository.ErrDuplicate
		}
	}
	f.ID = "f-" + strings.ToLower(f.Code)
	r.faculties = append(r.faculties, *f)
	return nil
}

func (r *catalogRepoStub) CreateMajor(ctx context.Context, m *models.Major, actorID string) error {
	known := false
	for _, f := range r.faculties {
		known = known || f.ID == m.FacultyID
	}
	if !known {
		return repository.ErrUnknownReference
	}
	m.ID = "m-" + strings.ToLower(m.Code)
	r.majors = append(r.majors, *m)
	return nil
}

func (r *catalogRepoStub) CreateSubject(ctx context.Context, s *models.Subject, actorID string) error {
	s.ID = "s-" + strings.ToLower(s.Code)
	return nil
}

func (r *catalogRepoStub) CreateTag(ctx context.Context, t *models.Tag) error {
	for _, existing := range r.tags {
		if existing.Slug == t.Slug {
			return repository.ErrDuplicate
		}
	}
	t.ID = "t-" + t.Slug
	r.tags = append(r.tags, *t)
	return nil
}

func newCatalogFixture() (*catalogRepoStub, *CatalogService) {
	repo := &catalogRepoStub{
		faculties: []models.Faculty{{ID: "f-eng", Code: "ENG", Name: "Engineering"}},
		tags:      []models.Tag{{ID: "t-exam-prep", Name: "Exam prep", Slug: "exam-prep"}},
	}
	cache := NewCacheService(newMemoryCache(), nil, time.Minute, zap.NewNop(), true)
	return repo, NewCatalogService(repo, cache, time.Minute, nil, zap.NewNop())
}

func TestCatalogFacultiesAreCachedUntilCreate(t *testing.T) {
	repo, svc := newCatalogFixture()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		items, err := svc.Faculties(ctx)
		require.NoError(t, err)
		require.Len(t, items, 1)
	}
	assert.Equal(t, 1, repo.facultyHit)

	created, err := svc.CreateFaculty(ctx, models.CreateFacultyRequest{Code: " sci ", Name: "Science"}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "SCI", created.Code)

	items, err := svc.Faculties(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 2, repo.facultyHit)

	_, err = svc.CreateFaculty(ctx, models.CreateFacultyRequest{Code: "SCI", Name: "Again"}, "admin")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestCatalogCreateMajorNeedsFaculty(t *testing.T) {
	_, svc := newCatalogFixture()
	ctx := context.Background()

	_, err := svc.CreateMajor(ctx, models.CreateMajorRequest{FacultyID: "missing", Code: "CS", Name: "Computer Science"}, "admin")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	major, err := svc.CreateMajor(ctx, models.CreateMajorRequest{FacultyID: "f-eng", Code: "cs", Name: "Computer Science"}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "CS", major.Code)

	majors, err := svc.Majors(ctx, "f-eng")
	require.NoError(t, err)
	assert.Len(t, majors, 1)

	empty, err := svc.Majors(ctx, "other")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestCatalogTags(t *testing.T) {
	repo, svc := newCatalogFixture()
	ctx := context.Background()

	tags, err := svc.Tags(ctx, " EXAM ")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	_, err = svc.Tags(ctx, "exam")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.tagHit)

	tag, err := svc.CreateTag(ctx, models.CreateTagRequest{Name: "  Exam   Cram "})
	require.NoError(t, err)
	assert.Equal(t, "exam-cram", tag.Slug)

	tags, err = svc.Tags(ctx, "exam")
	require.NoError(t, err)
	assert.Len(t, tags, 2)
	assert.Equal(t, 2, repo.tagHit)

	_, err = svc.CreateTag(ctx, models.CreateTagRequest{Name: "exam cram"})
	require.Error(t, err)
	assert.Equal(t, "tag already exists", appErrors.FromError(err).Message)
}

func TestCatalogWithoutCache(t *testing.T) {
	repo := &catalogRepoStub{}
	svc := NewCatalogService(repo, nil, 0, nil, nil)

	items, err := svc.Faculties(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, items)
	_, _ = svc.Faculties(context.Background())
	assert.Equal(t, 2, repo.facultyHit)

	subjects, err := svc.Subjects(context.Background(), models.SubjectFilter{})
	require.NoError(t, err)
	assert.NotNil(t, subjects)
}
