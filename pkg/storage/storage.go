package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned when a key does not exist in the backing store.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore persists rendered transcripts. LocalStorage and S3Storage implement it.
type ObjectStore interface {
	Save(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	CleanupOlderThan(ctx context.Context, ttl time.Duration) ([]string, error)
}

var (
	_ ObjectStore = (*LocalStorage)(nil)
	_ ObjectStore = (*S3Storage)(nil)
)

// ContentType maps an export format to its MIME type.
func ContentType(format string) string {
	switch format {
	case "pdf":
		return "application/pdf"
	case "csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
