package storage

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type s3Stub struct {
	s3iface.S3API
	putKeys    []string
	deleted    []string
	objects    []*s3.Object
	getMissing bool
}

func (s *s3Stub) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	s.putKeys = append(s.putKeys, aws.StringValue(in.Key))
	return &s3.PutObjectOutput{}, nil
}

func (s *s3Stub) GetObjectWithContext(_ aws.Context, _ *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	if s.getMissing {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "missing", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("body"))}, nil
}

func (s *s3Stub) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	s.deleted = append(s.deleted, aws.StringValue(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (s *s3Stub) ListObjectsV2PagesWithContext(_ aws.Context, _ *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	fn(&s3.ListObjectsV2Output{Contents: s.objects}, true)
	return nil
}

func TestS3StoragePrefixesKeys(t *testing.T) {
	stub := &s3Stub{}
	store := NewS3StorageWithClient(stub, "bucket", "/exports/")

	key, err := store.Save(context.Background(), "transcripts/a.pdf", []byte("pdf"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "transcripts/a.pdf", key)
	assert.Equal(t, []string{"exports/transcripts/a.pdf"}, stub.putKeys)

	rc, err := store.Open(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close() //nolint:errcheck
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "body", string(body))
}

func TestS3StorageOpenMissing(t *testing.T) {
	store := NewS3StorageWithClient(&s3Stub{getMissing: true}, "bucket", "")
	_, err := store.Open(context.Background(), "nope.csv")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestS3StorageCleanupOlderThan(t *testing.T) {
	stub := &s3Stub{objects: []*s3.Object{
		{Key: aws.String("exports/old.csv"), LastModified: aws.Time(time.Now().Add(-48 * time.Hour))},
		{Key: aws.String("exports/new.csv"), LastModified: aws.Time(time.Now())},
	}}
	store := NewS3StorageWithClient(stub, "bucket", "exports")

	deleted, err := store.CleanupOlderThan(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"old.csv"}, deleted)
	assert.Equal(t, []string{"exports/old.csv"}, stub.deleted)
}
