package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// actionSecretSize is the raw entropy of an action token secret. 32
// bytes keeps a comfortable margin over the 128 bit floor.
const actionSecretSize = 32

func newActionSecret() (string, error) {
	var raw [actionSecretSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate token secret")
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ActionTokenService manages the lifecycle of single-use action tokens:
// issue, lookup, usability, invalidation, and atomic consumption.
type ActionTokenService struct {
	repo       RepositoryManager
	clock      Clock
	logger     Logger
	defaultTTL time.Duration
}

// NewActionTokenService creates the lifecycle manager. The default TTL
// comes from the config and applies when Issue is called with ttl <= 0.
func NewActionTokenService(repo RepositoryManager, cfg Config) *ActionTokenService {
	ttl := 24 * time.Hour
	if cfg != nil && cfg.GetActionTokenTTL() > 0 {
		ttl = cfg.GetActionTokenTTL()
	}

	return &ActionTokenService{
		repo:       repo,
		clock:      systemClock{},
		logger:     defLogger{},
		defaultTTL: ttl,
	}
}

// WithClock overrides the time source.
func (s *ActionTokenService) WithClock(clock Clock) *ActionTokenService {
	s.clock = normalizeClock(clock)
	return s
}

// WithLogger overrides the logger.
func (s *ActionTokenService) WithLogger(logger Logger) *ActionTokenService {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Issue creates a fresh token for the (user, purpose) pair. Any prior
// valid token of the same purpose is superseded in the same
// transaction, so at most one valid token per pair ever exists.
func (s *ActionTokenService) Issue(ctx context.Context, user *User, purpose TokenPurpose, ttl time.Duration) (*ActionToken, error) {
	if user == nil {
		return nil, goerrors.New("user is required to issue a token", goerrors.CategoryBadInput)
	}

	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	secret, err := newActionSecret()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	expires := now.Add(ttl)
	token := &ActionToken{
		UserID:    user.ID,
		Secret:    secret,
		Purpose:   purpose,
		Valid:     true,
		IssuedAt:  &now,
		ExpiresAt: &expires,
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		superseded, err := s.repo.ActionTokens().InvalidatePriorTx(ctx, tx, user.ID, purpose, ReasonSuperseded)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to supersede prior tokens")
		}
		if superseded > 0 {
			s.logger.Debug("superseded %d prior %s tokens for user %s", superseded, purpose, user.ID)
		}

		if token, err = s.repo.ActionTokens().CreateTx(ctx, tx, token); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist action token")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue action token")
	}

	return token, nil
}

// FindBySecret is a plain lookup, it does not mutate state.
func (s *ActionTokenService) FindBySecret(ctx context.Context, secret string) (*ActionToken, error) {
	token, err := s.repo.ActionTokens().GetBySecret(ctx, secret)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrInvalidToken
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up action token")
	}
	return token, nil
}

// IsUsable reports whether the token can still be consumed. Expired
// tokens read as unusable without being flipped; the flip happens on
// consumption or during the housekeeping sweep.
func (s *ActionTokenService) IsUsable(token *ActionToken) bool {
	return token.UsableAt(s.clock.Now())
}

// Invalidate flips the token and records the reason. Invalidating an
// already invalid token is a no-op, not an error.
func (s *ActionTokenService) Invalidate(ctx context.Context, token *ActionToken, reason string) error {
	if token == nil || !token.Valid {
		return nil
	}

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// ignore the affected count, someone else may have flipped it
		_, err := s.repo.ActionTokens().ConsumeTx(ctx, tx, token.ID, reason)
		return err
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to invalidate action token")
	}

	token.Valid = false
	token.Reason = reason
	return nil
}

// Consume looks up the secret, checks purpose and usability, atomically
// invalidates the token, and only then runs the side effect, all inside
// one transaction. Two concurrent calls with the same secret resolve to
// exactly one applied side effect; the loser sees ErrInvalidToken.
func (s *ActionTokenService) Consume(ctx context.Context, secret string, purpose TokenPurpose, reason string, apply func(ctx context.Context, tx bun.Tx, token *ActionToken) error) (*ActionToken, error) {
	var consumed *ActionToken

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		token, err := s.repo.ActionTokens().GetBySecretTx(ctx, tx, secret)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrInvalidToken
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up action token")
		}

		if token.Purpose != purpose || !s.IsUsable(token) {
			return ErrInvalidToken
		}

		ok, err := s.repo.ActionTokens().ConsumeTx(ctx, tx, token.ID, reason)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to consume action token")
		}
		if !ok {
			// lost the race to a concurrent consumer
			return ErrInvalidToken
		}

		token.Valid = false
		token.Reason = reason

		if apply != nil {
			if err := apply(ctx, tx, token); err != nil {
				return err
			}
		}

		consumed = token
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to consume action token")
	}

	return consumed, nil
}

// SweepExpired invalidates valid tokens past their expiry with reason
// "expired". Optional housekeeping, correctness never depends on it.
func (s *ActionTokenService) SweepExpired(ctx context.Context) (int, error) {
	var flipped int
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		n, err := s.repo.ActionTokens().ExpireStaleTx(ctx, tx, s.clock.Now())
		flipped = n
		return err
	})
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sweep expired tokens")
	}
	return flipped, nil
}
