package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrStaleVersion means the row exists but its row_version moved on.
	ErrStaleVersion = errors.New("row version mismatch")
	// ErrInvalidState means the row is no longer in the state the operation requires.
	ErrInvalidState = errors.New("row not in expected state")
	// ErrDuplicate wraps unique constraint violations.
	ErrDuplicate = errors.New("duplicate row")
	// ErrExpired is returned after an expired invitation has been marked as such.
	ErrExpired = errors.New("deadline passed")
	// ErrUnknownReference means a referenced row such as a tag does not exist.
	ErrUnknownReference = errors.New("unknown reference")
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation
}

func normalizePage(page, pageSize, max int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > max {
		pageSize = 20
	}
	return page, pageSize, (page - 1) * pageSize
}
