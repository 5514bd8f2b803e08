package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/studyhub-api/internal/models"
	appErrors "github.com/noah-isme/studyhub-api/pkg/errors"
	"github.com/noah-isme/studyhub-api/pkg/jobs"
	"github.com/noah-isme/studyhub-api/pkg/storage"
)

type exportStoreStub struct {
	mu   sync.Mutex
	seq  int
	jobs map[string]*models.TranscriptExport
}

func newExportStoreStub() *exportStoreStub {
	return &exportStoreStub{jobs: map[string]*models.TranscriptExport{}}
}

func (s *exportStoreStub) Create(ctx context.Context, job *models.TranscriptExport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	job.ID = fmt.Sprintf("job-%d", s.seq)
	job.CreatedAt = time.Now().UTC()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *exportStoreStub) GetByID(ctx context.Context, id string) (*models.TranscriptExport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *job
	return &cp, nil
}

func (s *exportStoreStub) Update(ctx context.Context, id string, params models.ExportUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.StorageKey != nil {
		job.StorageKey = params.StorageKey
	}
	if params.MessageCount != nil {
		job.MessageCount = *params.MessageCount
	}
	if params.ErrorMessage != nil {
		if *params.ErrorMessage == "" {
			job.ErrorMessage = nil
		} else {
			job.ErrorMessage = params.ErrorMessage
		}
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (s *exportStoreStub) ListQueued(ctx context.Context, limit int) ([]models.TranscriptExport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TranscriptExport
	for _, job := range s.jobs {
		if job.Status == models.ExportStatusQueued {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (s *exportStoreStub) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.TranscriptExport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TranscriptExport
	for _, job := range s.jobs {
		if job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (s *exportStoreStub) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type exportMetricsStub struct {
	counts map[models.ExportStatus]int
}

func (m *exportMetricsStub) ExportCompleted(status models.ExportStatus) {
	if m.counts == nil {
		m.counts = map[models.ExportStatus]int{}
	}
	m.counts[status]++
}

type transcriptStub struct {
	messages []models.MessageView
	err      error
}

func (t transcriptStub) ListForExport(ctx context.Context, conversationID string) ([]models.MessageView, error) {
	return t.messages, t.err
}

type exportFixture struct {
	store   *chatStore
	exports *exportStoreStub
	files   *storage.LocalStorage
	dir     string
	queue   *queueStub
	metrics *exportMetricsStub
	svc     *ExportService
	worker  *ExportWorker
}

func newExportFixture(t *testing.T, source transcriptStub) *exportFixture {
	t.Helper()
	dir := t.TempDir()
	files, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)

	store := newChatStore()
	store.addConversation("c1", models.VisibilityPrivate, false)
	store.addMember("c1", "alice", models.MemberRoleMember)

	f := &exportFixture{
		store:   store,
		exports: newExportStoreStub(),
		files:   files,
		dir:     dir,
		queue:   &queueStub{},
		metrics: &exportMetricsStub{},
	}
	f.svc = NewExportService(ExportDeps{
		Conversations: fakeConversations{store},
		Members:       fakeMembers{store},
		Exports:       f.exports,
		Storage:       files,
		Signer:        storage.NewSignedURLSigner("secret", time.Hour),
		Queue:         f.queue,
		Metrics:       f.metrics,
	}, ExportConfig{APIPrefix: "/api/"}, nil, zap.NewNop())
	f.worker = NewExportWorker(ExportWorkerDeps{
		Conversations: fakeConversations{store},
		Messages:      source,
		Exports:       f.exports,
		Storage:       files,
		Metrics:       f.metrics,
	}, 2, zap.NewNop())
	return f
}

func sampleTranscript() transcriptStub {
	alice := "Alice"
	created := models.SystemCreated
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return transcriptStub{messages: []models.MessageView{
		{Message: models.Message{ID: 1, Content: "created the conversation", SystemType: &created, ReviewStatus: models.ReviewApproved, AuditColumns: models.AuditColumns{CreatedAt: at}}, SenderName: &alice},
		{Message: models.Message{ID: 2, Content: "hello, world", ReviewStatus: models.ReviewApproved, AuditColumns: models.AuditColumns{CreatedAt: at.Add(time.Minute)}}, SenderName: &alice},
	}}
}

func TestExportRequestAndDownloadCSV(t *testing.T) {
	f := newExportFixture(t, sampleTranscript())
	ctx := context.Background()

	job, err := f.svc.Request(ctx, "c1", "alice", models.CreateExportRequest{Format: "CSV"})
	require.NoError(t, err)
	assert.Equal(t, models.ExportFormatCSV, job.Format)
	assert.Equal(t, models.ExportStatusQueued, job.Status)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, ExportJobType, f.queue.jobs[0].Type)

	pending, err := f.svc.Status(ctx, job.ID, "alice")
	require.NoError(t, err)
	assert.Empty(t, pending.DownloadURL)

	require.NoError(t, f.worker.Handle(ctx, f.queue.jobs[0]))

	done, err := f.svc.Status(ctx, job.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFinished, done.Status)
	assert.Equal(t, 2, done.MessageCount)
	require.NotNil(t, done.URLExpiresAt)
	require.True(t, strings.HasPrefix(done.DownloadURL, "/api/exports/download/"))
	assert.Equal(t, 1, f.metrics.counts[models.ExportStatusFinished])

	token := strings.TrimPrefix(done.DownloadURL, "/api/exports/download/")
	download, err := f.svc.ResolveDownload(ctx, token)
	require.NoError(t, err)
	defer download.Body.Close()
	assert.Equal(t, job.ID+".csv", download.Filename)
	assert.Contains(t, download.ContentType, "csv")
	body, err := io.ReadAll(download.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hello, world")

	_, err = f.svc.Status(ctx, job.ID, "mallory")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	require.NoError(t, f.worker.Handle(ctx, f.queue.jobs[0]))
	assert.Equal(t, 1, f.metrics.counts[models.ExportStatusFinished])
}

func TestExportRequestRules(t *testing.T) {
	f := newExportFixture(t, sampleTranscript())
	ctx := context.Background()

	_, err := f.svc.Request(ctx, "c1", "alice", models.CreateExportRequest{Format: "docx"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Request(ctx, "c1", "mallory", models.CreateExportRequest{Format: models.ExportFormatPDF})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	f.queue.err = jobs.ErrQueueClosed
	_, err = f.svc.Request(ctx, "c1", "alice", models.CreateExportRequest{Format: models.ExportFormatPDF})
	require.Error(t, err)
	require.Len(t, f.exports.jobs, 1)
	for _, job := range f.exports.jobs {
		assert.Equal(t, models.ExportStatusFailed, job.Status)
	}

	disabled := NewExportService(ExportDeps{Conversations: fakeConversations{f.store}, Members: fakeMembers{f.store}}, ExportConfig{}, nil, nil)
	_, err = disabled.Request(ctx, "c1", "alice", models.CreateExportRequest{Format: models.ExportFormatCSV})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnavailable.Code, appErrors.FromError(err).Code)
}

func TestExportWorkerRetriesThenFails(t *testing.T) {
	f := newExportFixture(t, transcriptStub{err: errors.New("database is down")})
	ctx := context.Background()

	job, err := f.svc.Request(ctx, "c1", "alice", models.CreateExportRequest{Format: models.ExportFormatPDF})
	require.NoError(t, err)

	queued := f.queue.jobs[0]
	require.Error(t, f.worker.Handle(ctx, queued))
	record, err := f.exports.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, record.Status)
	require.NotNil(t, record.ErrorMessage)
	assert.Contains(t, *record.ErrorMessage, "database is down")

	queued.Attempt = 2
	cause := f.worker.Handle(ctx, queued)
	require.Error(t, cause)
	f.worker.Fail(ctx, queued, cause)

	record, err = f.exports.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFailed, record.Status)
	assert.NotNil(t, record.FinishedAt)
	assert.Equal(t, 1, f.metrics.counts[models.ExportStatusFailed])

	_, err = f.svc.Status(ctx, job.ID, "alice")
	require.NoError(t, err)
}

func TestExportResolveDownloadRejectsBadTokens(t *testing.T) {
	f := newExportFixture(t, sampleTranscript())
	ctx := context.Background()

	_, err := f.svc.ResolveDownload(ctx, "garbage")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	foreign, _, err := storage.NewSignedURLSigner("other-secret", time.Hour).Generate("job-1", "c1/job-1.csv")
	require.NoError(t, err)
	_, err = f.svc.ResolveDownload(ctx, foreign)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	job, err := f.svc.Request(ctx, "c1", "alice", models.CreateExportRequest{Format: models.ExportFormatCSV})
	require.NoError(t, err)
	early, _, err := storage.NewSignedURLSigner("secret", time.Hour).Generate(job.ID, "c1/"+job.ID+".csv")
	require.NoError(t, err)
	_, err = f.svc.ResolveDownload(ctx, early)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)

	require.NoError(t, f.worker.Handle(ctx, f.queue.jobs[0]))
	forged, _, err := storage.NewSignedURLSigner("secret", time.Hour).Generate(job.ID, "c1/other.csv")
	require.NoError(t, err)
	_, err = f.svc.ResolveDownload(ctx, forged)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	require.NoError(t, os.Remove(filepath.Join(f.dir, "c1", job.ID+".csv")))
	_, err = f.svc.ResolveDownload(ctx, early)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrGone.Code, appErrors.FromError(err).Code)
}

func TestExportCleanupRemovesExpiredTranscripts(t *testing.T) {
	f := newExportFixture(t, sampleTranscript())
	ctx := context.Background()

	job, err := f.svc.Request(ctx, "c1", "alice", models.CreateExportRequest{Format: models.ExportFormatCSV})
	require.NoError(t, err)
	require.NoError(t, f.worker.Handle(ctx, f.queue.jobs[0]))
	path := filepath.Join(f.dir, "c1", job.ID+".csv")
	_, err = os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, f.svc.Cleanup(ctx))
	_, err = f.exports.GetByID(ctx, job.ID)
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	require.NoError(t, f.svc.Cleanup(ctx))
	_, err = f.exports.GetByID(ctx, job.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestExportRecoverPendingJobs(t *testing.T) {
	f := newExportFixture(t, sampleTranscript())
	ctx := context.Background()

	_, err := f.svc.Request(ctx, "c1", "alice", models.CreateExportRequest{Format: models.ExportFormatCSV})
	require.NoError(t, err)
	f.queue.jobs = nil

	f.svc.RecoverPendingJobs(ctx)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, ExportJobType, f.queue.jobs[0].Type)
}
