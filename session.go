package auth

import (
	"time"

	"github.com/google/uuid"
)

var _ Session = &SessionObject{}

// SessionObject is the principal resolved from a validated access
// token. Capability flags are the snapshot taken at issue time.
type SessionObject struct {
	UserID         string         `json:"user_id,omitempty"`
	Audience       []string       `json:"audience,omitempty"`
	Issuer         string         `json:"issuer,omitempty"`
	Admin          bool           `json:"admin,omitempty"`
	Verified       bool           `json:"verified,omitempty"`
	IssuedAt       *time.Time     `json:"issued_at,omitempty"`
	ExpirationDate *time.Time     `json:"expiration_date,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

func (s *SessionObject) GetUserID() string {
	return s.UserID
}

func (s *SessionObject) GetUserUUID() (uuid.UUID, error) {
	return uuid.Parse(s.UserID)
}

func (s *SessionObject) GetAudience() []string {
	return s.Audience
}

func (s *SessionObject) GetIssuer() string {
	return s.Issuer
}

func (s *SessionObject) GetIssuedAt() *time.Time {
	return s.IssuedAt
}

func (s *SessionObject) GetData() map[string]any {
	return s.Data
}

// IsAdmin reports the admin snapshot carried by the session.
func (s *SessionObject) IsAdmin() bool {
	return s.Admin
}

// CredentialsVerified reports the verification snapshot carried by the
// session.
func (s *SessionObject) CredentialsVerified() bool {
	return s.Verified
}

// SessionFromClaims builds a session view over validated claims.
func SessionFromClaims(claims AuthClaims) *SessionObject {
	if claims == nil {
		return nil
	}

	session := &SessionObject{
		UserID:   claims.UserID(),
		Admin:    claims.IsAdmin(),
		Verified: claims.CredentialsVerified(),
	}

	if issued := claims.IssuedAt(); !issued.IsZero() {
		session.IssuedAt = &issued
	}

	if expires := claims.Expires(); !expires.IsZero() {
		session.ExpirationDate = &expires
	}

	if jc, ok := claims.(*JWTClaims); ok {
		session.Issuer = jc.Issuer
		session.Audience = jc.Audience
		if len(jc.Metadata) > 0 {
			session.Data = jc.Metadata
		}
	}

	return session
}
