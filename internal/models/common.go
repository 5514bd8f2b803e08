package models

import "time"

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalCount int `json:"totalCount"`
}

// AuditColumns are carried by every mutable entity. Soft-deleted rows keep
// their data for audit and are filtered out of listings.
type AuditColumns struct {
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
	CreatedBy  *string    `db:"created_by" json:"createdBy,omitempty"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updatedAt"`
	UpdatedBy  *string    `db:"updated_by" json:"updatedBy,omitempty"`
	IsDeleted  bool       `db:"is_deleted" json:"-"`
	DeletedAt  *time.Time `db:"deleted_at" json:"-"`
	DeletedBy  *string    `db:"deleted_by" json:"-"`
	RowVersion int64      `db:"row_version" json:"rowVersion"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
