package service

import (
	"context"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/noah-isme/studyhub-api/internal/models"
	"github.com/noah-isme/studyhub-api/internal/realtime"
	appErrors "github.com/noah-isme/studyhub-api/pkg/errors"
)

const notifyConcurrency = 8

type notificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id, userID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// Notifier fans a notification out to recipients.
type Notifier interface {
	Notify(ctx context.Context, recipients []string, template models.Notification) error
}

// NotificationService stores inbox entries and pushes them to live sessions.
type NotificationService struct {
	repo   notificationRepository
	bus    EventPublisher
	logger *zap.Logger
}

// NewNotificationService constructs the service.
func NewNotificationService(repo notificationRepository, bus EventPublisher, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{repo: repo, bus: bus, logger: logger}
}

// Notify writes one notification per recipient and pushes each as
// notificationReceived. Failures for one recipient do not stop the others.
func (s *NotificationService) Notify(ctx context.Context, recipients []string, template models.Notification) error {
	p := pool.New().WithMaxGoroutines(notifyConcurrency).WithErrors()
	for _, userID := range recipients {
		userID := userID
		p.Go(func() error {
			n := template
			n.ID = ""
			n.UserID = userID
			if err := s.repo.Create(ctx, &n); err != nil {
				return err
			}
			publish(ctx, s.bus, s.logger, realtime.Event{
				Type:       realtime.EventNotificationReceived,
				Recipients: []string{userID},
				Payload:    n,
			})
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		s.logger.Warn("notification fan-out incomplete",
			zap.String("type", string(template.Type)),
			zap.Int("recipients", len(recipients)),
			zap.Error(err))
		return err
	}
	return nil
}

// List returns the caller's notifications newest first.
func (s *NotificationService) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, *models.Pagination, error) {
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return items, pagination(filter.Page, filter.PageSize, total), nil
}

// UnreadCount returns how many notifications the user has not read.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	count, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	return count, nil
}

// MarkRead marks one of the user's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, id, userID string) error {
	if err := s.repo.MarkRead(ctx, id, userID); err != nil {
		return repoError(err, "notification not found", "failed to mark notification read")
	}
	return nil
}

// MarkAllRead marks every unread notification of the user and returns how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	return n, nil
}

func pagination(page, size, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}
