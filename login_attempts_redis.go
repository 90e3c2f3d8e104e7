package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

const (
	attemptKeyPrefix = "auth:attempts:"
	lockoutKeyPrefix = "auth:lockout:"
)

// RedisAttemptTracker keeps failure counters and lockout state in
// Redis: durable, per-key atomic, TTL backed. This is the tracker to
// use when the service runs as more than one process.
type RedisAttemptTracker struct {
	client      redis.UniversalClient
	maxFailures int
	lockFor     time.Duration
	idleWindow  time.Duration
}

var _ LoginAttemptTracker = (*RedisAttemptTracker)(nil)

// NewRedisAttemptTracker builds a tracker over the given Redis client
// using the lockout knobs in the config.
func NewRedisAttemptTracker(client redis.UniversalClient, cfg Config) *RedisAttemptTracker {
	t := &RedisAttemptTracker{
		client:      client,
		maxFailures: 5,
		lockFor:     15 * time.Minute,
		idleWindow:  time.Hour,
	}

	if cfg != nil {
		if cfg.GetMaxLoginAttempts() > 0 {
			t.maxFailures = cfg.GetMaxLoginAttempts()
		}
		if cfg.GetLockoutDuration() > 0 {
			t.lockFor = cfg.GetLockoutDuration()
		}
		if cfg.GetAttemptWindow() > 0 {
			t.idleWindow = cfg.GetAttemptWindow()
		}
	}

	return t
}

func attemptKey(identifier string) string { return attemptKeyPrefix + identifier }
func lockoutKey(identifier string) string { return lockoutKeyPrefix + identifier }

// IsLocked checks for the lockout key. The key carries its own TTL so
// the lock expires by time alone.
func (t *RedisAttemptTracker) IsLocked(ctx context.Context, identifier string) (bool, error) {
	n, err := t.client.Exists(ctx, lockoutKey(identifier)).Result()
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check lockout state")
	}
	return n > 0, nil
}

// LoginFailed increments the failure counter (INCR + EXPIRE on first
// hit) and arms the lockout key when the budget is exhausted.
func (t *RedisAttemptTracker) LoginFailed(ctx context.Context, identifier string) error {
	key := attemptKey(identifier)

	count, err := t.client.Incr(ctx, key).Result()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to record login failure")
	}

	if count == 1 {
		if err := t.client.Expire(ctx, key, t.idleWindow).Err(); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to bound login failure record")
		}
	}

	// NX so failures during an active lock never extend it
	if count >= int64(t.maxFailures) {
		if err := t.client.SetNX(ctx, lockoutKey(identifier), "1", t.lockFor).Err(); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to arm lockout")
		}
	}

	return nil
}

// LoginSucceeded drops the failure counter. The lockout key is left
// alone, an active lock still blocks until its TTL runs out.
func (t *RedisAttemptTracker) LoginSucceeded(ctx context.Context, identifier string) error {
	if err := t.client.Del(ctx, attemptKey(identifier)).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to clear login failures")
	}
	return nil
}
