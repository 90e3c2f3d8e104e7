package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthClaims is the principal resolved from a validated access token.
// Capability flags are a snapshot taken at issue time; a
// promotion/demotion after issuance is not visible until the token is
// reissued.
type AuthClaims interface {
	Subject() string
	UserID() string
	IsAdmin() bool
	CredentialsVerified() bool
	Expires() time.Time
	IssuedAt() time.Time
}

// JWTClaims is the concrete implementation of AuthClaims
type JWTClaims struct {
	jwt.RegisteredClaims
	UID      string         `json:"uid,omitempty"`
	Admin    bool           `json:"adm,omitempty"`
	Verified bool           `json:"vrf,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"` // extension payload
}

// Verify interface compliance
var _ AuthClaims = (*JWTClaims)(nil)

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the user ID
func (c *JWTClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

// IsAdmin reports the admin capability captured at issue time
func (c *JWTClaims) IsAdmin() bool {
	return c.Admin
}

// CredentialsVerified reports the verification flag captured at issue time
func (c *JWTClaims) CredentialsVerified() bool {
	return c.Verified
}

// Expires returns the expiration time or zero value
func (c *JWTClaims) Expires() time.Time {
	if c.ExpiresAt != nil {
		return c.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issue time or zero value
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
}
