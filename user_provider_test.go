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
)

type fakeUserStore struct {
	mu         sync.Mutex
	users      []*auth.User
	trackCalls int
	trackErr   error
}

func (f *fakeUserStore) GetByIdentifier(_ context.Context, identifier string, _ ...repository.SelectCriteria) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.Username == identifier || u.Email == identifier || u.ID.String() == identifier {
			return u, nil
		}
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeUserStore) TrackSuccessfulLogin(context.Context, *auth.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trackCalls++
	return f.trackErr
}

func TestUserProvider_VerifyIdentity(t *testing.T) {
	ctx := context.Background()

	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)

	user := &auth.User{
		ID:                  uuid.New(),
		Username:            "testuser",
		Email:               "test@example.com",
		PasswordHash:        hash,
		IsAdmin:             true,
		CredentialsVerified: true,
	}

	t.Run("valid credentials resolve the identity", func(t *testing.T) {
		store := &fakeUserStore{users: []*auth.User{user}}
		provider := auth.NewUserProvider(store).WithLogger(testLogger{})

		identity, err := provider.VerifyIdentity(ctx, "testuser", "password123")
		require.NoError(t, err)

		assert.Equal(t, user.ID.String(), identity.ID())
		assert.Equal(t, "testuser", identity.Username())
		assert.Equal(t, "test@example.com", identity.Email())
		assert.True(t, identity.IsAdmin())
		assert.True(t, identity.CredentialsVerified())
		assert.Equal(t, 1, store.trackCalls)
	})

	t.Run("email works as identifier", func(t *testing.T) {
		store := &fakeUserStore{users: []*auth.User{user}}
		provider := auth.NewUserProvider(store).WithLogger(testLogger{})

		identity, err := provider.VerifyIdentity(ctx, "test@example.com", "password123")
		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), identity.ID())
	})

	t.Run("wrong password and unknown user fail identically", func(t *testing.T) {
		store := &fakeUserStore{users: []*auth.User{user}}
		provider := auth.NewUserProvider(store).WithLogger(testLogger{})

		_, errWrong := provider.VerifyIdentity(ctx, "testuser", "not-the-password")
		_, errUnknown := provider.VerifyIdentity(ctx, "ghost", "password123")

		require.ErrorIs(t, errWrong, auth.ErrInvalidCredentials)
		require.ErrorIs(t, errUnknown, auth.ErrInvalidCredentials)
		assert.Equal(t, errWrong.Error(), errUnknown.Error())
		assert.Equal(t, 0, store.trackCalls)
	})

	t.Run("soft deleted user cannot authenticate", func(t *testing.T) {
		now := time.Now()
		gone := *user
		gone.Username = "deleted"
		gone.Email = "deleted@example.com"
		gone.DeletedAt = &now

		store := &fakeUserStore{users: []*auth.User{&gone}}
		provider := auth.NewUserProvider(store).WithLogger(testLogger{})

		_, err := provider.VerifyIdentity(ctx, "deleted", "password123")
		require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("tracking failure does not fail the login", func(t *testing.T) {
		store := &fakeUserStore{users: []*auth.User{user}, trackErr: assert.AnError}
		provider := auth.NewUserProvider(store).WithLogger(testLogger{})

		identity, err := provider.VerifyIdentity(ctx, "testuser", "password123")
		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), identity.ID())
	})
}

func TestUserProvider_FindIdentityByIdentifier(t *testing.T) {
	ctx := context.Background()

	user := &auth.User{
		ID:       uuid.New(),
		Username: "testuser",
		Email:    "test@example.com",
	}

	t.Run("resolves without credentials", func(t *testing.T) {
		store := &fakeUserStore{users: []*auth.User{user}}
		provider := auth.NewUserProvider(store).WithLogger(testLogger{})

		identity, err := provider.FindIdentityByIdentifier(ctx, "testuser")
		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), identity.ID())
		assert.Equal(t, 0, store.trackCalls)
	})

	t.Run("unknown identifier propagates not found", func(t *testing.T) {
		store := &fakeUserStore{}
		provider := auth.NewUserProvider(store).WithLogger(testLogger{})

		_, err := provider.FindIdentityByIdentifier(ctx, "ghost")
		require.Error(t, err)
	})
}
