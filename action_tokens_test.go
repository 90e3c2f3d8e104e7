package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-authkit"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

// fakeActionTokenStore is an in-memory auth.ActionTokens with the same
// atomicity contract as the SQL implementation: ConsumeTx flips
// valid exactly once per token no matter how many callers race.
type fakeActionTokenStore struct {
	auth.ActionTokens
	mu   sync.Mutex
	byID map[uuid.UUID]*auth.ActionToken
}

func newFakeActionTokenStore() *fakeActionTokenStore {
	return &fakeActionTokenStore{byID: map[uuid.UUID]*auth.ActionToken{}}
}

func (f *fakeActionTokenStore) GetBySecret(ctx context.Context, secret string, criteria ...repository.SelectCriteria) (*auth.ActionToken, error) {
	return f.GetBySecretTx(ctx, nil, secret, criteria...)
}

func (f *fakeActionTokenStore) GetBySecretTx(_ context.Context, _ bun.IDB, secret string, _ ...repository.SelectCriteria) (*auth.ActionToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, tok := range f.byID {
		if tok.Secret == secret {
			clone := *tok
			return &clone, nil
		}
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeActionTokenStore) CreateTx(_ context.Context, _ bun.IDB, record *auth.ActionToken, _ ...repository.InsertCriteria) (*auth.ActionToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	clone := *record
	f.byID[record.ID] = &clone
	return record, nil
}

func (f *fakeActionTokenStore) InvalidatePriorTx(_ context.Context, _ bun.IDB, userID uuid.UUID, purpose auth.TokenPurpose, reason string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	flipped := 0
	for _, tok := range f.byID {
		if tok.UserID == userID && tok.Purpose == purpose && tok.Valid {
			tok.Valid = false
			tok.Reason = reason
			flipped++
		}
	}
	return flipped, nil
}

func (f *fakeActionTokenStore) ConsumeTx(_ context.Context, _ bun.IDB, id uuid.UUID, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tok, ok := f.byID[id]
	if !ok || !tok.Valid {
		return false, nil
	}
	tok.Valid = false
	tok.Reason = reason
	return true, nil
}

func (f *fakeActionTokenStore) ExpireStaleTx(_ context.Context, _ bun.IDB, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	flipped := 0
	for _, tok := range f.byID {
		if tok.Valid && tok.ExpiresAt != nil && !tok.ExpiresAt.After(cutoff) {
			tok.Valid = false
			tok.Reason = auth.ReasonExpired
			flipped++
		}
	}
	return flipped, nil
}

func (f *fakeActionTokenStore) get(id uuid.UUID) *auth.ActionToken {
	f.mu.Lock()
	defer f.mu.Unlock()

	tok, ok := f.byID[id]
	if !ok {
		return nil
	}
	clone := *tok
	return &clone
}

func (f *fakeActionTokenStore) validCount(userID uuid.UUID, purpose auth.TokenPurpose) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, tok := range f.byID {
		if tok.UserID == userID && tok.Purpose == purpose && tok.Valid {
			n++
		}
	}
	return n
}

func newTokenServiceHarness(clock auth.Clock) (*auth.ActionTokenService, *fakeActionTokenStore) {
	store := newFakeActionTokenStore()
	repo := &fakeRepoManager{actionTokens: store}
	svc := auth.NewActionTokenService(repo, auth.SimpleConfig{ActionTokenTTL: 24 * time.Hour}).
		WithClock(clock).
		WithLogger(testLogger{})
	return svc, store
}

func TestActionTokenService_Issue(t *testing.T) {
	ctx := context.Background()
	clock := newStubClock(time.Now())
	svc, store := newTokenServiceHarness(clock)

	user := &auth.User{ID: uuid.New(), Username: "testuser"}

	t.Run("issues a usable token", func(t *testing.T) {
		token, err := svc.Issue(ctx, user, auth.PurposePasswordReset, time.Hour)
		require.NoError(t, err)

		assert.NotEmpty(t, token.Secret)
		assert.True(t, token.Valid)
		assert.Equal(t, user.ID, token.UserID)
		assert.True(t, svc.IsUsable(token))
		require.NotNil(t, token.ExpiresAt)
		assert.Equal(t, clock.Now().Add(time.Hour), *token.ExpiresAt)
	})

	t.Run("supersedes prior tokens for the same purpose", func(t *testing.T) {
		first, err := svc.Issue(ctx, user, auth.PurposePasswordReset, time.Hour)
		require.NoError(t, err)

		second, err := svc.Issue(ctx, user, auth.PurposePasswordReset, time.Hour)
		require.NoError(t, err)

		stale := store.get(first.ID)
		require.NotNil(t, stale)
		assert.False(t, stale.Valid)
		assert.Equal(t, auth.ReasonSuperseded, stale.Reason)

		assert.Equal(t, 1, store.validCount(user.ID, auth.PurposePasswordReset))
		assert.True(t, store.get(second.ID).Valid)
	})

	t.Run("purposes do not supersede each other", func(t *testing.T) {
		reset, err := svc.Issue(ctx, user, auth.PurposePasswordReset, time.Hour)
		require.NoError(t, err)

		_, err = svc.Issue(ctx, user, auth.PurposeEmailConfirm, time.Hour)
		require.NoError(t, err)

		assert.True(t, store.get(reset.ID).Valid)
		assert.Equal(t, 1, store.validCount(user.ID, auth.PurposePasswordReset))
		assert.Equal(t, 1, store.validCount(user.ID, auth.PurposeEmailConfirm))
	})

	t.Run("users do not supersede each other", func(t *testing.T) {
		other := &auth.User{ID: uuid.New(), Username: "other"}

		mine, err := svc.Issue(ctx, user, auth.PurposePasswordReset, time.Hour)
		require.NoError(t, err)

		_, err = svc.Issue(ctx, other, auth.PurposePasswordReset, time.Hour)
		require.NoError(t, err)

		assert.True(t, store.get(mine.ID).Valid)
	})

	t.Run("secrets are unique per issue", func(t *testing.T) {
		a, err := svc.Issue(ctx, user, auth.PurposeEmailConfirm, time.Hour)
		require.NoError(t, err)
		b, err := svc.Issue(ctx, user, auth.PurposeEmailConfirm, time.Hour)
		require.NoError(t, err)
		assert.NotEqual(t, a.Secret, b.Secret)
	})

	t.Run("nil user rejected", func(t *testing.T) {
		_, err := svc.Issue(ctx, nil, auth.PurposePasswordReset, time.Hour)
		assert.Error(t, err)
	})
}

func TestActionTokenService_Consume(t *testing.T) {
	ctx := context.Background()

	t.Run("consumes exactly once", func(t *testing.T) {
		clock := newStubClock(time.Now())
		svc, store := newTokenServiceHarness(clock)
		user := &auth.User{ID: uuid.New()}

		token, err := svc.Issue(ctx, user, auth.PurposePasswordReset, time.Hour)
		require.NoError(t, err)

		applied := 0
		consumed, err := svc.Consume(ctx, token.Secret, auth.PurposePasswordReset, auth.ReasonPasswordReset, func(ctx context.Context, tx bun.Tx, tok *auth.ActionToken) error {
			applied++
			assert.Equal(t, token.ID, tok.ID)
			assert.False(t, tok.Valid)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, applied)
		assert.False(t, consumed.Valid)
		assert.Equal(t, auth.ReasonPasswordReset, store.get(token.ID).Reason)

		_, err = svc.Consume(ctx, token.Secret, auth.PurposePasswordReset, auth.ReasonPasswordReset, nil)
		require.True(t, auth.IsInvalidTokenError(err))
	})

	t.Run("unknown secret rejected", func(t *testing.T) {
		svc, _ := newTokenServiceHarness(newStubClock(time.Now()))

		_, err := svc.Consume(ctx, "no-such-secret", auth.PurposePasswordReset, auth.ReasonPasswordReset, nil)
		require.True(t, auth.IsInvalidTokenError(err))
	})

	t.Run("wrong purpose rejected and token survives", func(t *testing.T) {
		clock := newStubClock(time.Now())
		svc, store := newTokenServiceHarness(clock)
		user := &auth.User{ID: uuid.New()}

		token, err := svc.Issue(ctx, user, auth.PurposeEmailConfirm, time.Hour)
		require.NoError(t, err)

		_, err = svc.Consume(ctx, token.Secret, auth.PurposePasswordReset, auth.ReasonPasswordReset, nil)
		require.True(t, auth.IsInvalidTokenError(err))

		assert.True(t, store.get(token.ID).Valid, "a wrong-purpose attempt must not burn the token")
	})

	t.Run("expired token rejected without a sweep", func(t *testing.T) {
		clock := newStubClock(time.Now())
		svc, _ := newTokenServiceHarness(clock)
		user := &auth.User{ID: uuid.New()}

		token, err := svc.Issue(ctx, user, auth.PurposePasswordReset, time.Hour)
		require.NoError(t, err)

		clock.Advance(61 * time.Minute)

		_, err = svc.Consume(ctx, token.Secret, auth.PurposePasswordReset, auth.ReasonPasswordReset, nil)
		require.True(t, auth.IsInvalidTokenError(err))
	})

	t.Run("apply failure propagates", func(t *testing.T) {
		clock := newStubClock(time.Now())
		svc, _ := newTokenServiceHarness(clock)
		user := &auth.User{ID: uuid.New()}

		token, err := svc.Issue(ctx, user, auth.PurposePasswordReset, time.Hour)
		require.NoError(t, err)

		_, err = svc.Consume(ctx, token.Secret, auth.PurposePasswordReset, auth.ReasonPasswordReset, func(context.Context, bun.Tx, *auth.ActionToken) error {
			return assert.AnError
		})
		require.Error(t, err)
	})

	t.Run("concurrent consumers resolve to one winner", func(t *testing.T) {
		clock := newStubClock(time.Now())
		svc, _ := newTokenServiceHarness(clock)
		user := &auth.User{ID: uuid.New()}

		token, err := svc.Issue(ctx, user, auth.PurposePasswordReset, time.Hour)
		require.NoError(t, err)

		const workers = 8
		var wg sync.WaitGroup
		var applied int64
		var mu sync.Mutex
		errs := make([]error, 0, workers)

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Consume(ctx, token.Secret, auth.PurposePasswordReset, auth.ReasonPasswordReset, func(context.Context, bun.Tx, *auth.ActionToken) error {
					mu.Lock()
					applied++
					mu.Unlock()
					return nil
				})
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}()
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			} else {
				require.True(t, auth.IsInvalidTokenError(err))
			}
		}

		assert.Equal(t, 1, succeeded)
		assert.EqualValues(t, 1, applied)
	})
}

func TestActionTokenService_Invalidate(t *testing.T) {
	ctx := context.Background()
	clock := newStubClock(time.Now())
	svc, store := newTokenServiceHarness(clock)
	user := &auth.User{ID: uuid.New()}

	token, err := svc.Issue(ctx, user, auth.PurposeEmailConfirm, time.Hour)
	require.NoError(t, err)

	require.NoError(t, svc.Invalidate(ctx, token, "operator request"))
	assert.False(t, token.Valid)
	assert.Equal(t, "operator request", store.get(token.ID).Reason)

	// flipping again is a no-op
	require.NoError(t, svc.Invalidate(ctx, token, "again"))
	assert.Equal(t, "operator request", store.get(token.ID).Reason)
}

func TestActionTokenService_SweepExpired(t *testing.T) {
	ctx := context.Background()
	clock := newStubClock(time.Now())
	svc, store := newTokenServiceHarness(clock)
	user := &auth.User{ID: uuid.New()}

	stale, err := svc.Issue(ctx, user, auth.PurposeEmailConfirm, time.Hour)
	require.NoError(t, err)

	fresh, err := svc.Issue(ctx, user, auth.PurposePasswordReset, 3*time.Hour)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)

	flipped, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flipped)

	assert.False(t, store.get(stale.ID).Valid)
	assert.Equal(t, auth.ReasonExpired, store.get(stale.ID).Reason)
	assert.True(t, store.get(fresh.ID).Valid)
}
