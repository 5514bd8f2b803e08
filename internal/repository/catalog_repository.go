package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/studyhub-api/internal/models"
)

const catalogAuditColumns = `created_at, created_by, updated_at, updated_by, is_deleted, deleted_at, deleted_by, row_version`

// CatalogRepository handles faculties, majors, subjects and tags.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository creates a new repository instance.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ListFaculties returns all live faculties by name.
func (r *CatalogRepository) ListFaculties(ctx context.Context) ([]models.Faculty, error) {
	query := `SELECT id, code, name, ` + catalogAuditColumns + ` FROM faculties WHERE is_deleted = FALSE ORDER BY name`
	var faculties []models.Faculty
	if err := r.db.SelectContext(ctx, &faculties, query); err != nil {
		return nil, fmt.Errorf("list faculties: %w", err)
	}
	return faculties, nil
}

// ListMajors returns majors, optionally limited to one faculty.
func (r *CatalogRepository) ListMajors(ctx context.Context, facultyID string) ([]models.Major, error) {
	query := `SELECT id, faculty_id, code, name, ` + catalogAuditColumns + ` FROM majors WHERE is_deleted = FALSE`
	var args []interface{}
	if facultyID != "" {
		args = append(args, facultyID)
		query += fmt.Sprintf(" AND faculty_id = $%d", len(args))
	}
	query += " ORDER BY name"
	var majors []models.Major
	if err := r.db.SelectContext(ctx, &majors, query, args...); err != nil {
		return nil, fmt.Errorf("list majors: %w", err)
	}
	return majors, nil
}

// ListSubjects returns subjects matching filter.
func (r *CatalogRepository) ListSubjects(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, error) {
	query := `SELECT s.id, s.code, s.name, s.created_at, s.created_by, s.updated_at, s.updated_by, s.is_deleted,
s.deleted_at, s.deleted_by, s.row_version FROM subjects s WHERE s.is_deleted = FALSE`
	var args []interface{}
	if filter.MajorID != "" {
		args = append(args, filter.MajorID)
		query += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM major_subjects ms WHERE ms.subject_id = s.id AND ms.major_id = $%d)", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		query += fmt.Sprintf(" AND (LOWER(s.code) LIKE $%d OR LOWER(s.name) LIKE $%d)", len(args), len(args))
	}
	query += " ORDER BY s.name"
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, args...); err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	return subjects, nil
}

// SubjectExists reports whether a live subject has the given id.
func (r *CatalogRepository) SubjectExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM subjects WHERE id = $1 AND is_deleted = FALSE)`, id); err != nil {
		return false, fmt.Errorf("check subject: %w", err)
	}
	return exists, nil
}

// ListTags returns tags whose name or slug matches search.
func (r *CatalogRepository) ListTags(ctx context.Context, search string) ([]models.Tag, error) {
	query := `SELECT id, name, slug FROM tags`
	var args []interface{}
	if search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%")
		query += " WHERE LOWER(name) LIKE $1 OR slug LIKE $1"
	}
	query += " ORDER BY name"
	var tags []models.Tag
	if err := r.db.SelectContext(ctx, &tags, query, args...); err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return tags, nil
}

// CreateFaculty inserts a faculty.
func (r *CatalogRepository) CreateFaculty(ctx context.Context, f *models.Faculty, actorID string) error {
	stampCatalog(&f.ID, &f.AuditColumns, actorID)
	const query = `INSERT INTO faculties (id, code, name, created_at, created_by, updated_at, updated_by)
VALUES (:id, :code, :name, :created_at, :created_by, :updated_at, :updated_by)`
	if _, err := r.db.NamedExecContext(ctx, query, f); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create faculty: %w", err)
	}
	return nil
}

// CreateMajor inserts a major.
func (r *CatalogRepository) CreateMajor(ctx context.Context, m *models.Major, actorID string) error {
	stampCatalog(&m.ID, &m.AuditColumns, actorID)
	const query = `INSERT INTO majors (id, faculty_id, code, name, created_at, created_by, updated_at, updated_by)
VALUES (:id, :faculty_id, :code, :name, :created_at, :created_by, :updated_at, :updated_by)`
	if _, err := r.db.NamedExecContext(ctx, query, m); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		if isForeignKeyViolation(err) {
			return ErrUnknownReference
		}
		return fmt.Errorf("create major: %w", err)
	}
	return nil
}

// CreateSubject inserts a subject and its major links.
func (r *CatalogRepository) CreateSubject(ctx context.Context, s *models.Subject, actorID string) (err error) {
	stampCatalog(&s.ID, &s.AuditColumns, actorID)
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create subject: %w", err)
	}
	defer rollback(tx, &err)

	const query = `INSERT INTO subjects (id, code, name, created_at, created_by, updated_at, updated_by)
VALUES (:id, :code, :name, :created_at, :created_by, :updated_at, :updated_by)`
	if _, err = tx.NamedExecContext(ctx, query, s); err != nil {
		if isUniqueViolation(err) {
			err = ErrDuplicate
			return err
		}
		return fmt.Errorf("create subject: %w", err)
	}
	for _, majorID := range uniqueStrings(s.MajorIDs) {
		if _, err = tx.ExecContext(ctx, `INSERT INTO major_subjects (major_id, subject_id) VALUES ($1, $2)`, majorID, s.ID); err != nil {
			if isForeignKeyViolation(err) {
				err = ErrUnknownReference
				return err
			}
			return fmt.Errorf("link subject major: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create subject: %w", err)
	}
	return nil
}

// CreateTag inserts a tag, returning ErrDuplicate when the slug exists.
func (r *CatalogRepository) CreateTag(ctx context.Context, t *models.Tag) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, err := r.db.ExecContext(ctx, `INSERT INTO tags (id, name, slug) VALUES ($1, $2, $3)`, t.ID, t.Name, t.Slug); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

func stampCatalog(id *string, audit *models.AuditColumns, actorID string) {
	if *id == "" {
		*id = uuid.NewString()
	}
	now := time.Now().UTC()
	audit.CreatedAt, audit.UpdatedAt, audit.RowVersion = now, now, 1
	audit.CreatedBy, audit.UpdatedBy = &actorID, &actorID
}
