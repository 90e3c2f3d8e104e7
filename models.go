package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the user model
type User struct {
	bun.BaseModel       `bun:"table:users,alias:usr"`
	ID                  uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	FirstName           string     `bun:"first_name" json:"first_name,omitempty"`
	LastName            string     `bun:"last_name" json:"last_name,omitempty"`
	Username            string     `bun:"username,notnull,unique" json:"username,omitempty"`
	Email               string     `bun:"email,unique" json:"email,omitempty"`
	Phone               string     `bun:"phone_number" json:"phone_number,omitempty"`
	PasswordHash        string     `bun:"password_hash" json:"password_hash,omitempty"`
	IsAdmin             bool       `bun:"is_admin" json:"is_admin,omitempty"`
	CredentialsVerified bool       `bun:"credentials_verified" json:"credentials_verified,omitempty"`
	LoggedInAt          *time.Time `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	CreatedAt           *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt           *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt           *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// TokenPurpose scopes an action token to the single follow-up
// action it authorizes.
type TokenPurpose string

const (
	// PurposeEmailConfirm authorizes a registration/OTP confirmation
	PurposeEmailConfirm TokenPurpose = "email_confirm"
	// PurposePasswordReset authorizes a password reset
	PurposePasswordReset TokenPurpose = "password_reset"
)

// Invalidation reasons recorded in the audit trail.
const (
	// ReasonSuperseded marks tokens replaced by a newer issue for the
	// same (user, purpose) pair
	ReasonSuperseded = "superseded"
	// ReasonExpired marks tokens flipped by the housekeeping sweep
	ReasonExpired = "expired"
	// ReasonPasswordReset marks tokens consumed by a password reset
	ReasonPasswordReset = "password reset"
	// ReasonRegistrationConfirm marks tokens consumed by a registration
	// confirmation
	ReasonRegistrationConfirm = "registration confirmation"
)

// ActionToken is a single-use, purpose-scoped secret tied to a user.
// Tokens are never deleted; invalidation flips the valid flag and
// records a reason so the full history can be audited.
type ActionToken struct {
	bun.BaseModel `bun:"table:action_tokens,alias:act"`
	ID            uuid.UUID    `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID    `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User          *User        `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	Secret        string       `bun:"secret,notnull,unique" json:"-"`
	Purpose       TokenPurpose `bun:"purpose,notnull" json:"purpose,omitempty"`
	Valid         bool         `bun:"valid" json:"valid"`
	Reason        string       `bun:"reason" json:"reason,omitempty"`
	IssuedAt      *time.Time   `bun:"issued_at,nullzero" json:"issued_at,omitempty"`
	ExpiresAt     *time.Time   `bun:"expires_at,nullzero" json:"expires_at,omitempty"`
	CreatedAt     *time.Time   `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time   `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// UsableAt reports whether the token can still be consumed at the given
// instant. Expired tokens read as unusable even while valid is still
// set; they are flipped lazily.
func (t *ActionToken) UsableAt(now time.Time) bool {
	if t == nil || !t.Valid {
		return false
	}
	if t.ExpiresAt == nil {
		return false
	}
	return now.Before(*t.ExpiresAt)
}
