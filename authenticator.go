package auth

import (
	"context"
	"errors"
	"reflect"

	goerrors "github.com/goliatone/go-errors"
)

// Auther orchestrates the protected flows: login with lockout,
// registration confirmation, and password reset.
type Auther struct {
	provider     IdentityProvider
	signingKey   []byte
	issuer       string
	audience     []string
	logger       Logger
	clock        Clock
	tokenService *TokenServiceImpl
	// tokenValidator, when set, validates externally issued tokens
	tokenValidator TokenValidator
	attempts       LoginAttemptTracker
	activitySink   ActivitySink
}

var _ Authenticator = (*Auther)(nil)

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(provider IdentityProvider, opts Config) *Auther {
	tokenService := NewTokenService(
		[]byte(opts.GetSigningKey()),
		opts.GetTokenExpiration(),
		opts.GetIssuer(),
		opts.GetAudience(),
		defLogger{},
	)

	return &Auther{
		provider:     provider,
		signingKey:   []byte(opts.GetSigningKey()),
		audience:     opts.GetAudience(),
		issuer:       opts.GetIssuer(),
		logger:       defLogger{},
		clock:        systemClock{},
		tokenService: tokenService,
		attempts:     NewMemoryAttemptTracker(opts),
		activitySink: noopActivitySink{},
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithClock overrides the time source for the Auther and its token
// service.
func (s *Auther) WithClock(clock Clock) *Auther {
	s.clock = normalizeClock(clock)
	s.tokenService.WithClock(s.clock)
	return s
}

// WithAttemptTracker swaps the lockout tracker, e.g. for the Redis
// backed implementation.
func (s *Auther) WithAttemptTracker(tracker LoginAttemptTracker) *Auther {
	if tracker != nil {
		s.attempts = tracker
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithTokenValidator sets a custom token validator for externally issued tokens.
func (s *Auther) WithTokenValidator(validator TokenValidator) *Auther {
	s.tokenValidator = validator
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

// AttemptTracker returns the lockout tracker used by this Authenticator
func (s *Auther) AttemptTracker() LoginAttemptTracker {
	return s.attempts
}

// Login authenticates the identifier/password pair. The lockout check
// runs before any credential work: a locked identifier is rejected
// without touching the password hasher, so lockout state leaks no
// timing signal about credential correctness.
func (s *Auther) Login(ctx context.Context, identifier, password, remoteIP string) (string, error) {
	if remoteIP != "" {
		locked, err := s.attempts.IsLocked(ctx, remoteIP)
		if err != nil {
			return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check lockout state")
		}
		if locked {
			s.emitAuthEvent(ctx, ActivityEventLoginLockout, ActorRef{Type: "unknown"}, "", map[string]any{
				"identifier": identifier,
				"remote_ip":  remoteIP,
			})
			return "", ErrLockedOut
		}
	}

	identity, err := s.provider.VerifyIdentity(ctx, identifier, password)
	if err != nil {
		if aborted(ctx, err) {
			// a timed-out verification is not a failed login; counting
			// it would allow induced-timeout lockouts
			return "", goerrors.Wrap(err, goerrors.CategoryOperation, "credential verification aborted")
		}

		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrIdentityNotFound) {
			s.recordFailure(ctx, identifier, remoteIP)
			return "", ErrInvalidCredentials
		}

		s.logger.Error("Login verify identity error", "error", err)
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "credential verification failed")
	}

	if identity == nil || reflect.ValueOf(identity).IsZero() {
		s.logger.Error("Login identity is nil or zero value")
		s.recordFailure(ctx, identifier, remoteIP)
		return "", ErrInvalidCredentials
	}

	if remoteIP != "" {
		if err := s.attempts.LoginSucceeded(ctx, remoteIP); err != nil {
			s.logger.Error("failed to clear login failures", "error", err)
		}
	}

	token, err := s.tokenService.Generate(identity)
	if err != nil {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, s.actorFromIdentity(identity), identity.ID(), map[string]any{
			"identifier": identifier,
			"error":      err.Error(),
		})
		return "", err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, s.actorFromIdentity(identity), identity.ID(), map[string]any{
		"identifier": identifier,
	})

	return token, nil
}

func (s *Auther) recordFailure(ctx context.Context, identifier, remoteIP string) {
	if remoteIP != "" {
		if err := s.attempts.LoginFailed(ctx, remoteIP); err != nil {
			s.logger.Error("failed to record login failure", "error", err)
		}
	}

	s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
		"identifier": identifier,
		"remote_ip":  remoteIP,
	})
}

func (s *Auther) Impersonate(ctx context.Context, identifier string) (string, error) {
	var err error
	var identity Identity

	if identity, err = s.provider.FindIdentityByIdentifier(ctx, identifier); err != nil {
		s.logger.Error("Impersonate verify identity error", "error", err)
		s.emitAuthEvent(ctx, ActivityEventImpersonationFailure, ActorRef{Type: "system"}, "", map[string]any{
			"identifier": identifier,
			"error":      err.Error(),
		})
		return "", err
	}

	if identity == nil || reflect.ValueOf(identity).IsZero() {
		s.logger.Error("Impersonate identity is nil")
		s.emitAuthEvent(ctx, ActivityEventImpersonationFailure, ActorRef{Type: "system"}, "", map[string]any{
			"identifier": identifier,
			"error":      ErrIdentityNotFound.Error(),
		})
		return "", ErrIdentityNotFound
	}

	token, err := s.tokenService.Generate(identity)
	if err != nil {
		s.emitAuthEvent(ctx, ActivityEventImpersonationFailure, ActorRef{Type: "system"}, identity.ID(), map[string]any{
			"identifier": identifier,
			"error":      err.Error(),
		})
		return "", err
	}

	s.emitAuthEvent(ctx, ActivityEventImpersonationSuccess, ActorRef{Type: "system"}, identity.ID(), map[string]any{
		"identifier": identifier,
	})

	return token, nil
}

// IssueFor hands the caller a fresh access token reflecting the user's
// current state. Called after flows that mutate authentication-relevant
// state (password reset, registration confirmation) so the caller does
// not wait out the stale token's TTL. The fresh credential is an
// explicit return value; no ambient session state is touched.
func (s *Auther) IssueFor(user *User) (string, error) {
	identity := NewIdentityFromUser(user)
	if identity == nil {
		return "", goerrors.New("user is required to issue a token", goerrors.CategoryBadInput)
	}
	return s.tokenService.Generate(identity)
}

// ValidateAccessToken resolves the bearer string into claims. Fails
// closed on expiry, bad signature, or structural damage.
func (s *Auther) ValidateAccessToken(tokenString string) (AuthClaims, error) {
	validator := TokenValidator(s.tokenService)
	if s.tokenValidator != nil {
		validator = s.tokenValidator
	}

	return validator.Validate(tokenString)
}

func (s *Auther) IdentityFromSession(ctx context.Context, session Session) (Identity, error) {
	identity, err := s.provider.FindIdentityByIdentifier(ctx, session.GetUserID())

	if err != nil {
		s.logger.Error("IdentityFromSession find identity by identifier: %s", err)
		return nil, err
	}

	return identity, nil
}

func (s *Auther) SessionFromToken(raw string) (Session, error) {
	claims, err := s.ValidateAccessToken(raw)
	if err != nil {
		s.logger.Error("SessionFromToken validation failed", "error", err)
		return nil, err
	}

	session := SessionFromClaims(claims)
	if session == nil {
		return nil, ErrUnableToMapClaims
	}

	return session, nil
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, actor ActorRef, userID string, metadata map[string]any) {
	sink := normalizeActivitySink(s.activitySink)
	event := ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		UserID:    userID,
		Metadata:  metadata,
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.clock.Now()
	}

	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}

func (s *Auther) actorFromIdentity(identity Identity) ActorRef {
	if identity == nil {
		return ActorRef{Type: "unknown"}
	}

	return ActorRef{
		ID:   identity.ID(),
		Type: "user",
	}
}

// aborted reports whether credential verification ended because the
// caller gave up, not because the credentials were wrong.
func aborted(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
