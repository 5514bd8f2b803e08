package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/studyhub-api/internal/models"
)

const userColumns = `id, email, password_hash, full_name, avatar_url, role, major_id, trust_score, trust_level,
failed_login_count, lockout_end, last_login_at, created_at, created_by, updated_at, updated_by,
is_deleted, deleted_at, deleted_by, row_version`

// UserRepository provides database access for accounts and trust.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmail returns a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1) AND is_deleted = FALSE LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND is_deleted = FALSE LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// ListSummaries returns public profiles keyed by id.
func (r *UserRepository) ListSummaries(ctx context.Context, ids []string) (map[string]models.UserSummary, error) {
	result := make(map[string]models.UserSummary, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	const query = `SELECT id, full_name, avatar_url, trust_level FROM users WHERE id = ANY($1) AND is_deleted = FALSE`
	var rows []models.UserSummary
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list user summaries: %w", err)
	}
	for _, row := range rows {
		result[row.ID] = row
	}
	return result, nil
}

// Create inserts a new account.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt, user.RowVersion = now, now, 1
	const query = `INSERT INTO users (id, email, password_hash, full_name, avatar_url, role, major_id, created_at, updated_at)
VALUES (:id, :email, :password_hash, :full_name, :avatar_url, :role, :major_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// RecordLoginFailure increments the failure counter and locks the account
// once maxFailures is reached. The counter resets when the lock is applied.
func (r *UserRepository) RecordLoginFailure(ctx context.Context, id string, maxFailures int, lockout time.Duration) (*time.Time, error) {
	now := time.Now().UTC()
	const query = `UPDATE users SET
    lockout_end = CASE WHEN failed_login_count + 1 >= $2 THEN $3::timestamptz ELSE lockout_end END,
    failed_login_count = CASE WHEN failed_login_count + 1 >= $2 THEN 0 ELSE failed_login_count + 1 END,
    updated_at = $4
WHERE id = $1 RETURNING lockout_end`
	var lockoutEnd *time.Time
	if err := r.db.GetContext(ctx, &lockoutEnd, query, id, maxFailures, now.Add(lockout), now); err != nil {
		return nil, fmt.Errorf("record login failure: %w", err)
	}
	return lockoutEnd, nil
}

// RecordLoginSuccess clears the failure state and stamps last_login_at.
func (r *UserRepository) RecordLoginSuccess(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE users SET failed_login_count = 0, lockout_end = NULL, last_login_at = $2, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts); err != nil {
		return fmt.Errorf("record login success: %w", err)
	}
	return nil
}

// AdjustTrust applies a score delta and appends the ledger entry atomically.
func (r *UserRepository) AdjustTrust(ctx context.Context, adj models.TrustAdjustment) (entry *models.UserTrustHistory, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin adjust trust: %w", err)
	}
	defer rollback(tx, &err)

	if entry, err = applyTrust(ctx, tx, adj); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit adjust trust: %w", err)
	}
	return entry, nil
}

// TrustHistory lists a user's ledger newest first.
func (r *UserRepository) TrustHistory(ctx context.Context, userID string, page, pageSize int) ([]models.UserTrustHistory, int, error) {
	_, size, offset := normalizePage(page, pageSize, 100)
	const query = `SELECT id, user_id, delta, score_after, reason, note, reference_type, reference_id, created_at, created_by
FROM user_trust_history WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	var entries []models.UserTrustHistory
	if err := r.db.SelectContext(ctx, &entries, query, userID, size, offset); err != nil {
		return nil, 0, fmt.Errorf("list trust history: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM user_trust_history WHERE user_id = $1`, userID); err != nil {
		return nil, 0, fmt.Errorf("count trust history: %w", err)
	}
	return entries, total, nil
}

// CreateAuditLog stores an audit log entry.
func (r *UserRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at)
VALUES (:id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
