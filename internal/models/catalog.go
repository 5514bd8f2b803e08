package models

// Faculty groups majors.
type Faculty struct {
	ID   string `db:"id" json:"id"`
	Code string `db:"code" json:"code"`
	Name string `db:"name" json:"name"`
	AuditColumns
}

// Major belongs to one faculty.
type Major struct {
	ID        string `db:"id" json:"id"`
	FacultyID string `db:"faculty_id" json:"facultyId"`
	Code      string `db:"code" json:"code"`
	Name      string `db:"name" json:"name"`
	AuditColumns
}

// Subject can be taught in many majors.
type Subject struct {
	ID       string   `db:"id" json:"id"`
	Code     string   `db:"code" json:"code"`
	Name     string   `db:"name" json:"name"`
	MajorIDs []string `db:"-" json:"majorIds,omitempty"`
	AuditColumns
}

// Tag labels documents and conversations. Slug is the normalized unique key.
type Tag struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
	Slug string `db:"slug" json:"slug"`
}

// SubjectFilter narrows subject listings.
type SubjectFilter struct {
	MajorID string
	Search  string
}

// CreateFacultyRequest is the admin payload for a faculty.
type CreateFacultyRequest struct {
	Code string `json:"code" validate:"required,max=20"`
	Name string `json:"name" validate:"required,max=200"`
}

// CreateMajorRequest is the admin payload for a major.
type CreateMajorRequest struct {
	FacultyID string `json:"facultyId" validate:"required"`
	Code      string `json:"code" validate:"required,max=20"`
	Name      string `json:"name" validate:"required,max=200"`
}

// CreateSubjectRequest is the admin payload for a subject.
type CreateSubjectRequest struct {
	Code     string   `json:"code" validate:"required,max=20"`
	Name     string   `json:"name" validate:"required,max=200"`
	MajorIDs []string `json:"majorIds" validate:"dive,required"`
}

// CreateTagRequest is the admin payload for a tag.
type CreateTagRequest struct {
	Name string `json:"name" validate:"required,max=50"`
}
