package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studyhub-api/internal/models"
)

func TestFindByEmail(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "full_name", "role", "trust_score", "trust_level", "failed_login_count", "created_at", "updated_at", "is_deleted", "row_version"}).
		AddRow("1", "user@example.com", "hash", "User", string(models.RoleUser), 20, 2, 0, now, now, false, 1)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE LOWER(email) = LOWER($1) AND is_deleted = FALSE LIMIT 1")).
		WithArgs("user@example.com").
		WillReturnRows(rows)

	user, err := repo.FindByEmail(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", user.Email)
	assert.Equal(t, 2, user.TrustLevel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordLoginFailureReturnsLockout(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	until := time.Now().Add(15 * time.Minute)
	mock.ExpectQuery(regexp.QuoteMeta("failed_login_count + 1 >= $2")).
		WithArgs("1", 5, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"lockout_end"}).AddRow(until))

	lockout, err := repo.RecordLoginFailure(context.Background(), "1", 5, 15*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lockout)
	assert.WithinDuration(t, until, *lockout, time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustTrustWritesLedger(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE users SET trust_score = trust_score + $2")).
		WithArgs("1", 7, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"trust_score"}).AddRow(17))
	mock.ExpectExec("INSERT INTO user_trust_history").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry, err := repo.AdjustTrust(context.Background(), models.TrustAdjustment{UserID: "1", Delta: 7, Reason: models.TrustReasonManual})
	require.NoError(t, err)
	assert.Equal(t, 17, entry.ScoreAfter)
	assert.Equal(t, 2, models.TrustLevelFor(entry.ScoreAfter))
	assert.NoError(t, mock.ExpectationsWereMet())
}
