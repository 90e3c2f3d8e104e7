package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Session holds attributes that are part of an auth session
type Session interface {
	GetUserID() string
	GetUserUUID() (uuid.UUID, error)
	GetAudience() []string
	GetIssuer() string
	GetIssuedAt() *time.Time
	GetData() map[string]any
}

// Authenticator holds methods to deal with authentication
type Authenticator interface {
	Login(ctx context.Context, identifier, password, remoteIP string) (string, error)
	Impersonate(ctx context.Context, identifier string) (string, error)
	SessionFromToken(token string) (Session, error)
	IdentityFromSession(ctx context.Context, session Session) (Identity, error)
}

// Identity holds the attributes of an identity
type Identity interface {
	ID() string
	Username() string
	Email() string
	IsAdmin() bool
	CredentialsVerified() bool
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetSigningMethod() string
	GetTokenExpiration() int
	GetIssuer() string
	GetAudience() []string
	GetMaxLoginAttempts() int
	GetLockoutDuration() time.Duration
	GetAttemptWindow() time.Duration
	GetActionTokenTTL() time.Duration
}

// SimpleConfig is a plain struct implementation of Config with
// sensible zero-value defaults.
type SimpleConfig struct {
	SigningKey      string
	SigningMethod   string
	TokenExpiration int // hours
	Issuer          string
	Audience        []string
	// MaxLoginAttempts is the failure count that trips a lockout
	MaxLoginAttempts int
	// LockoutDuration is how long an identifier stays locked
	LockoutDuration time.Duration
	// AttemptWindow bounds how long idle attempt records are kept.
	// Memory bounding only, never an early unlock.
	AttemptWindow time.Duration
	// ActionTokenTTL is the default lifetime for action tokens
	ActionTokenTTL time.Duration
}

func (c SimpleConfig) GetSigningKey() string { return c.SigningKey }

func (c SimpleConfig) GetSigningMethod() string {
	if c.SigningMethod == "" {
		return "HS256"
	}
	return c.SigningMethod
}

func (c SimpleConfig) GetTokenExpiration() int {
	if c.TokenExpiration <= 0 {
		return 24
	}
	return c.TokenExpiration
}

func (c SimpleConfig) GetIssuer() string { return c.Issuer }

func (c SimpleConfig) GetAudience() []string { return c.Audience }

func (c SimpleConfig) GetMaxLoginAttempts() int {
	if c.MaxLoginAttempts <= 0 {
		return 5
	}
	return c.MaxLoginAttempts
}

func (c SimpleConfig) GetLockoutDuration() time.Duration {
	if c.LockoutDuration <= 0 {
		return 15 * time.Minute
	}
	return c.LockoutDuration
}

func (c SimpleConfig) GetAttemptWindow() time.Duration {
	if c.AttemptWindow <= 0 {
		return time.Hour
	}
	return c.AttemptWindow
}

func (c SimpleConfig) GetActionTokenTTL() time.Duration {
	if c.ActionTokenTTL <= 0 {
		return 24 * time.Hour
	}
	return c.ActionTokenTTL
}

var _ Config = SimpleConfig{}

// IdentityProvider ensure we have a store to retrieve auth identity
type IdentityProvider interface {
	VerifyIdentity(ctx context.Context, identifier, password string) (Identity, error)
	FindIdentityByIdentifier(ctx context.Context, identifier string) (Identity, error)
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// LoginAttemptTracker counts failed logins per identifier and decides
// lockout. Implementations must serialize updates per key, not
// globally, so unrelated identifiers never contend.
type LoginAttemptTracker interface {
	// IsLocked reports whether the identifier is inside an active
	// lockout window
	IsLocked(ctx context.Context, identifier string) (bool, error)
	// LoginFailed records a failure, tripping the lock when the
	// failure budget is exhausted
	LoginFailed(ctx context.Context, identifier string) error
	// LoginSucceeded clears the failure counter. It does not clear an
	// active lock.
	LoginSucceeded(ctx context.Context, identifier string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
