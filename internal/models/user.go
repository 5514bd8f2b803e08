package models

import "time"

// UserRole represents the platform-wide roles used for RBAC.
type UserRole string

const (
	RoleAdmin UserRole = "ADMIN"
	RoleUser  UserRole = "USER"
)

// User represents a platform account stored in the users table.
type User struct {
	ID               string     `db:"id" json:"id"`
	Email            string     `db:"email" json:"email"`
	PasswordHash     string     `db:"password_hash" json:"-"`
	FullName         string     `db:"full_name" json:"fullName"`
	AvatarURL        *string    `db:"avatar_url" json:"avatarUrl,omitempty"`
	Role             UserRole   `db:"role" json:"role"`
	MajorID          *string    `db:"major_id" json:"majorId,omitempty"`
	TrustScore       int        `db:"trust_score" json:"trustScore"`
	TrustLevel       int        `db:"trust_level" json:"trustLevel"`
	FailedLoginCount int        `db:"failed_login_count" json:"-"`
	LockoutEnd       *time.Time `db:"lockout_end" json:"-"`
	LastLoginAt      *time.Time `db:"last_login_at" json:"lastLoginAt,omitempty"`
	AuditColumns
}

// LockedAt reports whether the account is locked at the given instant.
func (u *User) LockedAt(now time.Time) bool {
	return u.LockoutEnd != nil && u.LockoutEnd.After(now)
}

// UserSummary is the public projection of a user embedded in other payloads.
type UserSummary struct {
	ID         string  `db:"id" json:"id"`
	FullName   string  `db:"full_name" json:"fullName"`
	AvatarURL  *string `db:"avatar_url" json:"avatarUrl,omitempty"`
	TrustLevel int     `db:"trust_level" json:"trustLevel"`
}

// TrustLevelFor maps a trust score onto a level. It mirrors the generated
// trust_level column on users.
func TrustLevelFor(score int) int {
	switch {
	case score < 5:
		return 0
	case score < 15:
		return 1
	case score < 60:
		return 2
	case score < 120:
		return 3
	default:
		return 4
	}
}

// TrustReason labels why a score changed.
type TrustReason string

const (
	TrustReasonManual          TrustReason = "MANUAL_ADJUSTMENT"
	TrustReasonReportUpheld    TrustReason = "REPORT_UPHELD"
	TrustReasonMessageRejected TrustReason = "MESSAGE_REJECTED"
	TrustReasonDocumentShared  TrustReason = "DOCUMENT_SHARED"
)

// Fixed score deltas applied by moderation outcomes.
const (
	TrustDeltaReportUpheld    = -5
	TrustDeltaMessageRejected = -1
)

// UserTrustHistory is an append-only ledger entry of a score change.
type UserTrustHistory struct {
	ID            string      `db:"id" json:"id"`
	UserID        string      `db:"user_id" json:"userId"`
	Delta         int         `db:"delta" json:"delta"`
	ScoreAfter    int         `db:"score_after" json:"scoreAfter"`
	Reason        TrustReason `db:"reason" json:"reason"`
	Note          *string     `db:"note" json:"note,omitempty"`
	ReferenceType *string     `db:"reference_type" json:"referenceType,omitempty"`
	ReferenceID   *string     `db:"reference_id" json:"referenceId,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"createdAt"`
	CreatedBy     *string     `db:"created_by" json:"createdBy,omitempty"`
}

// TrustAdjustment describes a score change to apply.
type TrustAdjustment struct {
	UserID        string
	Delta         int
	Reason        TrustReason
	Note          *string
	ReferenceType *string
	ReferenceID   *string
	ActorID       *string
}

// CreateUserRequest is the admin payload for provisioning an account.
type CreateUserRequest struct {
	Email     string   `json:"email" validate:"required,email"`
	FullName  string   `json:"fullName" validate:"required,max=200"`
	Password  string   `json:"password" validate:"required,min=8"`
	Role      UserRole `json:"role" validate:"omitempty,oneof=ADMIN USER"`
	MajorID   *string  `json:"majorId" validate:"omitempty"`
	AvatarURL *string  `json:"avatarUrl" validate:"omitempty,url"`
}

// AdjustTrustRequest is an admin's manual trust score change.
type AdjustTrustRequest struct {
	Delta int     `json:"delta" validate:"required,min=-1000,max=1000"`
	Note  *string `json:"note" validate:"omitempty,max=500"`
}
