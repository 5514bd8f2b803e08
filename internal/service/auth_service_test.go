package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/studyhub-api/internal/models"
	appErrors "github.com/noah-isme/studyhub-api/pkg/errors"
)

type mockAuthRepo struct {
	user        *models.User
	findErr     error
	failures    int
	maxFailures int
	lockout     time.Duration
	successAt   *time.Time
	auditLogs   []*models.AuditLog
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.user == nil || m.user.Email != email {
		return nil, sql.ErrNoRows
	}
	return m.user, nil
}

func (m *mockAuthRepo) RecordLoginFailure(ctx context.Context, id string, maxFailures int, lockout time.Duration) (*time.Time, error) {
	m.failures++
	m.maxFailures = maxFailures
	m.lockout = lockout
	if m.failures >= maxFailures {
		m.failures = 0
		end := time.Now().UTC().Add(lockout)
		m.user.LockoutEnd = &end
	}
	return m.user.LockoutEnd, nil
}

func (m *mockAuthRepo) RecordLoginSuccess(ctx context.Context, id string, ts time.Time) error {
	m.failures = 0
	m.successAt = &ts
	return nil
}

func (m *mockAuthRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func newAuthRepo(t *testing.T) *mockAuthRepo {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	require.NoError(t, err)
	return &mockAuthRepo{user: &models.User{ID: "u1", Email: "user@example.com", FullName: "Ada", PasswordHash: string(hash), Role: models.RoleUser, TrustLevel: 2}}
}

func newAuthService(repo *mockAuthRepo) *AuthService {
	return NewAuthService(repo, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret: "secret",
		AccessTokenExpiry: time.Hour,
		MaxFailedLogins:   3,
		LockoutDuration:   10 * time.Minute,
	})
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	repo := newAuthRepo(t)
	svc := newAuthService(repo)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: " User@Example.com ", Password: "password", IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, int64(3600), res.ExpiresIn)
	assert.Equal(t, 2, res.User.TrustLevel)
	assert.NotNil(t, repo.successAt)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionLogin, repo.auditLogs[0].Action)
	assert.Equal(t, "10.0.0.1", repo.auditLogs[0].IPAddress)
}

func TestAuthServiceLoginUnknownEmail(t *testing.T) {
	svc := newAuthService(newAuthRepo(t))

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "nobody@example.com", Password: "password"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginLocksAfterRepeatedFailures(t *testing.T) {
	repo := newAuthRepo(t)
	svc := newAuthService(repo)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.Login(ctx, models.LoginRequest{Email: "user@example.com", Password: "wrong"})
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
	}

	_, err := svc.Login(ctx, models.LoginRequest{Email: "user@example.com", Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAccountLocked.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 3, repo.maxFailures)
	assert.Equal(t, 10*time.Minute, repo.lockout)

	_, err = svc.Login(ctx, models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAccountLocked.Code, appErrors.FromError(err).Code)
	assert.Nil(t, repo.successAt)

	failed := 0
	for _, log := range repo.auditLogs {
		if log.Action == models.AuditActionLoginFailed {
			failed++
		}
	}
	assert.Equal(t, 3, failed)
}

func TestAuthServiceLoginAfterLockoutExpires(t *testing.T) {
	repo := newAuthRepo(t)
	past := time.Now().Add(-time.Minute)
	repo.user.LockoutEnd = &past
	svc := newAuthService(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)
}

func TestValidateToken(t *testing.T) {
	svc := newAuthService(&mockAuthRepo{})
	user := &models.User{ID: "u1", Email: "user@example.com", Role: models.RoleAdmin, FullName: "Ada"}
	token, err := svc.generateAccessToken(user, time.Now().UTC())
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)

	other := NewAuthService(&mockAuthRepo{}, nil, nil, AuthConfig{AccessTokenSecret: "other"})
	_, err = other.ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestValidateTokenExpired(t *testing.T) {
	svc := newAuthService(&mockAuthRepo{})
	token, err := svc.generateAccessToken(&models.User{ID: "u1"}, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
}
