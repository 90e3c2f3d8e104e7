package auth

import (
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes attached to rich errors so HTTP layers can map them
// without string matching.
const (
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeLockedOut          = "LOGIN_LOCKED_OUT"
	TextCodeInvalidActionToken = "INVALID_ACTION_TOKEN"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenMalformed     = "TOKEN_MALFORMED"
)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = errors.New("identity not found")

// ErrUnableToMapClaims unable to get claims from token
var ErrUnableToMapClaims = errors.New("unable to map claims")

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = errors.New("password can not be an empty string")

// ErrMismatchedHashAndPassword password comparison failed
var ErrMismatchedHashAndPassword = errors.New("mismatched hash and password")

// ErrInvalidCredentials is returned on any credential failure during
// login. Deliberately generic: callers can not tell a bad password from
// an unknown identifier.
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrLockedOut is returned when the identifier is inside an active
// lockout window. Credentials are never checked in that state.
var ErrLockedOut = goerrors.New("too many failed login attempts", goerrors.CategoryAuth).
	WithTextCode(TextCodeLockedOut).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidToken covers every action-token failure: not found,
// consumed, expired, or presented for the wrong purpose. The causes are
// collapsed on purpose so the token endpoint can not be used as an
// oracle.
var ErrInvalidToken = goerrors.New("invalid or expired token", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidActionToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned for access tokens past their expiry
var ErrTokenExpired = goerrors.New("authentication token expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned for access tokens that fail signature
// or structural checks
var ErrTokenMalformed = goerrors.New("authentication token malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenMalformed) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

// IsLockedOutError will check for lockout rejections
func IsLockedOutError(err error) bool {
	return err != nil && errors.Is(err, ErrLockedOut)
}

// IsInvalidTokenError will check for action token rejections
func IsInvalidTokenError(err error) bool {
	return err != nil && errors.Is(err, ErrInvalidToken)
}
