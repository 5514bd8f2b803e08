package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/studyhub-api/internal/models"
	"github.com/noah-isme/studyhub-api/internal/realtime"
	appErrors "github.com/noah-isme/studyhub-api/pkg/errors"
)

type reportRepository interface {
	Create(ctx context.Context, report *models.Report) error
	FindByID(ctx context.Context, id string) (*models.Report, error)
	List(ctx context.Context, filter models.ReportFilter) ([]models.Report, int, error)
	TargetAuthor(ctx context.Context, targetType models.ReportTargetType, targetID string) (string, error)
	Resolve(ctx context.Context, review models.ReportReview) (*models.ReportOutcome, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// ModerationService handles content reports.
type ModerationService struct {
	reports   reportRepository
	audit     auditWriter
	notifier  Notifier
	bus       EventPublisher
	validator *validator.Validate
	logger    *zap.Logger
}

// NewModerationService constructs the service.
func NewModerationService(reports reportRepository, audit auditWriter, notifier Notifier, bus EventPublisher, validate *validator.Validate, logger *zap.Logger) *ModerationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModerationService{reports: reports, audit: audit, notifier: notifier, bus: bus, validator: validate, logger: logger}
}

// Create files a report against existing content. One pending report per
// reporter and target.
func (s *ModerationService) Create(ctx context.Context, reporterID string, req models.CreateReportRequest) (*models.Report, error) {
	req.TargetID = strings.TrimSpace(req.TargetID)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid report payload")
	}
	authorID, err := s.reports.TargetAuthor(ctx, req.TargetType, req.TargetID)
	if err != nil {
		return nil, repoError(err, "reported content not found", "failed to resolve reported content")
	}
	if authorID == reporterID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "you cannot report your own content")
	}

	report := &models.Report{
		TargetType:  req.TargetType,
		TargetID:    req.TargetID,
		ReporterID:  reporterID,
		Reason:      req.Reason,
		Description: trimmedPtr(req.Description),
	}
	if err := s.reports.Create(ctx, report); err != nil {
		if isDuplicate(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "you already reported this content")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create report")
	}
	return report, nil
}

// List returns the moderation queue.
func (s *ModerationService) List(ctx context.Context, filter models.ReportFilter) ([]models.Report, *models.Pagination, error) {
	reports, total, err := s.reports.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reports")
	}
	return nonNil(reports), pagination(filter.Page, filter.PageSize, total), nil
}

// Get returns one report.
func (s *ModerationService) Get(ctx context.Context, id string) (*models.Report, error) {
	report, err := s.reports.FindByID(ctx, id)
	if err != nil {
		return nil, repoError(err, "report not found", "failed to load report")
	}
	return report, nil
}

// Review resolves a pending report. Upheld reports penalize the author and
// remove reported messages.
func (s *ModerationService) Review(ctx context.Context, reportID, reviewerID string, req models.ReviewReportRequest, meta models.LoginRequest) (*models.Report, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid review payload")
	}
	outcome, err := s.reports.Resolve(ctx, models.ReportReview{
		ReportID:   reportID,
		Decision:   req.Decision,
		Note:       trimmedPtr(req.Note),
		ReviewerID: reviewerID,
	})
	if err != nil {
		if isInvalidState(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "report has already been reviewed")
		}
		return nil, repoError(err, "report not found", "failed to review report")
	}
	report := outcome.Report

	if removed := outcome.RemovedMessage; removed != nil {
		publish(ctx, s.bus, s.logger, realtime.Event{
			Type:           realtime.EventMessageDeleted,
			ConversationID: removed.ConversationID,
			Payload:        map[string]string{"id": strconv.FormatInt(removed.ID, 10), "conversationId": removed.ConversationID},
		})
	}

	if s.audit != nil {
		values := map[string]interface{}{"decision": report.Decision}
		if outcome.Trust != nil {
			values["authorId"] = outcome.AuthorID
			values["trustScore"] = outcome.Trust.ScoreAfter
		}
		newPayload, _ := json.Marshal(values)
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &reviewerID,
			Action:     models.AuditActionReportReview,
			Resource:   "reports",
			ResourceID: &report.ID,
			NewValues:  newPayload,
			IPAddress:  meta.IP,
			UserAgent:  meta.UserAgent,
		}); err != nil {
			s.logger.Warn("failed to record report review audit log", zap.Error(err))
		}
	}

	if s.notifier != nil {
		outcomeText := "dismissed"
		if req.Decision == models.ReportDecisionUpheld {
			outcomeText = "upheld"
		}
		if err := s.notifier.Notify(ctx, []string{report.ReporterID}, models.Notification{
			Type:          models.NotificationReportResolved,
			Title:         "Report reviewed",
			Content:       "Your report was " + outcomeText,
			ReferenceType: models.StringPtr("REPORT"),
			ReferenceID:   &report.ID,
		}); err != nil {
			s.logger.Warn("failed to notify reporter", zap.String("report_id", report.ID), zap.Error(err))
		}
	}
	return report, nil
}
