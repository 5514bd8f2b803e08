package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/studyhub-api/internal/models"
	appErrors "github.com/noah-isme/studyhub-api/pkg/errors"
)

type userRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	AdjustTrust(ctx context.Context, adj models.TrustAdjustment) (*models.UserTrustHistory, error)
	TrustHistory(ctx context.Context, userID string, page, pageSize int) ([]models.UserTrustHistory, int, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// UserService handles profiles, account provisioning and trust scores.
type UserService struct {
	repo      userRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, validator: validate, logger: logger}
}

// Me returns the full account of the caller.
func (s *UserService) Me(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, repoError(err, "user not found", "failed to load user")
	}
	return user, nil
}

// Profile returns the public projection of a user.
func (s *UserService) Profile(ctx context.Context, userID string) (*models.UserSummary, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, repoError(err, "user not found", "failed to load user")
	}
	return &models.UserSummary{
		ID:         user.ID,
		FullName:   user.FullName,
		AvatarURL:  user.AvatarURL,
		TrustLevel: user.TrustLevel,
	}, nil
}

// Create provisions an account. Emails are unique case-insensitively.
func (s *UserService) Create(ctx context.Context, req models.CreateUserRequest, actorID string, meta models.LoginRequest) (*models.User, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FullName = strings.TrimSpace(req.FullName)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid create user payload")
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		FullName:     req.FullName,
		Role:         req.Role,
		MajorID:      req.MajorID,
		AvatarURL:    req.AvatarURL,
		PasswordHash: string(passwordHash),
		TrustLevel:   models.TrustLevelFor(0),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if isDuplicate(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"id": user.ID, "email": user.Email, "role": user.Role})
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionUserCreate,
		Resource:   "users",
		ResourceID: &user.ID,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record user create audit log", zap.Error(err))
	}
	return user, nil
}

// TrustHistory lists a user's trust ledger. Only the user or an admin may read it.
func (s *UserService) TrustHistory(ctx context.Context, userID string, actor models.JWTClaims, page, pageSize int) ([]models.UserTrustHistory, *models.Pagination, error) {
	if actor.UserID != userID && actor.Role != models.RoleAdmin {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "trust history is private")
	}
	if _, err := s.repo.FindByID(ctx, userID); err != nil {
		return nil, nil, repoError(err, "user not found", "failed to load user")
	}
	entries, total, err := s.repo.TrustHistory(ctx, userID, page, pageSize)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list trust history")
	}
	if entries == nil {
		entries = []models.UserTrustHistory{}
	}
	return entries, pagination(page, pageSize, total), nil
}

// AdjustTrust applies a manual score change and records it in the audit log.
func (s *UserService) AdjustTrust(ctx context.Context, userID string, req models.AdjustTrustRequest, actorID string, meta models.LoginRequest) (*models.UserTrustHistory, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid trust adjustment")
	}
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, repoError(err, "user not found", "failed to load user")
	}

	entry, err := s.repo.AdjustTrust(ctx, models.TrustAdjustment{
		UserID:  user.ID,
		Delta:   req.Delta,
		Reason:  models.TrustReasonManual,
		Note:    trimmedPtr(req.Note),
		ActorID: &actorID,
	})
	if err != nil {
		return nil, repoError(err, "user not found", "failed to adjust trust")
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"trustScore": user.TrustScore})
	newPayload, _ := json.Marshal(map[string]interface{}{"trustScore": entry.ScoreAfter, "delta": entry.Delta})
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionTrustAdjust,
		Resource:   "users",
		ResourceID: &user.ID,
		OldValues:  oldPayload,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record trust audit log", zap.Error(err))
	}
	return entry, nil
}
