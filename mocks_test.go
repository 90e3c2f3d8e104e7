package auth_test

import (
	"context"
	"database/sql"
	"sync"
	"time"

	auth "github.com/goliatone/go-authkit"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"
)

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}

// stubClock is a mutable time source for deterministic expiry tests
type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStubClock(now time.Time) *stubClock {
	return &stubClock{now: now}
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MockIdentityProvider implements auth.IdentityProvider
type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) VerifyIdentity(ctx context.Context, identifier, password string) (auth.Identity, error) {
	args := m.Called(ctx, identifier, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(auth.Identity), args.Error(1)
}

func (m *MockIdentityProvider) FindIdentityByIdentifier(ctx context.Context, identifier string) (auth.Identity, error) {
	args := m.Called(ctx, identifier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(auth.Identity), args.Error(1)
}

// MockUsers implements the slice of auth.Users the tests exercise. The
// embedded interface covers the rest; calling an unmocked method panics.
type MockUsers struct {
	auth.Users
	mock.Mock
}

func (m *MockUsers) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*auth.User, error) {
	args := m.Called(ctx, identifier, criteria)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.User), args.Error(1)
}

func (m *MockUsers) CreateTx(ctx context.Context, tx bun.IDB, record *auth.User, criteria ...repository.InsertCriteria) (*auth.User, error) {
	args := m.Called(ctx, tx, record, criteria)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.User), args.Error(1)
}

func (m *MockUsers) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	args := m.Called(ctx, tx, id, passwordHash)
	return args.Error(0)
}

func (m *MockUsers) MarkVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*auth.User, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.User), args.Error(1)
}

func (m *MockUsers) TrackSuccessfulLogin(ctx context.Context, user *auth.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

// MockActionTokens implements the slice of auth.ActionTokens the tests
// exercise.
type MockActionTokens struct {
	auth.ActionTokens
	mock.Mock
}

func (m *MockActionTokens) GetBySecret(ctx context.Context, secret string, criteria ...repository.SelectCriteria) (*auth.ActionToken, error) {
	args := m.Called(ctx, secret, criteria)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.ActionToken), args.Error(1)
}

func (m *MockActionTokens) GetBySecretTx(ctx context.Context, tx bun.IDB, secret string, criteria ...repository.SelectCriteria) (*auth.ActionToken, error) {
	args := m.Called(ctx, tx, secret, criteria)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.ActionToken), args.Error(1)
}

func (m *MockActionTokens) CreateTx(ctx context.Context, tx bun.IDB, record *auth.ActionToken, criteria ...repository.InsertCriteria) (*auth.ActionToken, error) {
	args := m.Called(ctx, tx, record, criteria)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.ActionToken), args.Error(1)
}

func (m *MockActionTokens) InvalidatePriorTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, purpose auth.TokenPurpose, reason string) (int, error) {
	args := m.Called(ctx, tx, userID, purpose, reason)
	return args.Int(0), args.Error(1)
}

func (m *MockActionTokens) ConsumeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, reason string) (bool, error) {
	args := m.Called(ctx, tx, id, reason)
	return args.Bool(0), args.Error(1)
}

func (m *MockActionTokens) ExpireStaleTx(ctx context.Context, tx bun.IDB, cutoff time.Time) (int, error) {
	args := m.Called(ctx, tx, cutoff)
	return args.Int(0), args.Error(1)
}

// fakeRepoManager wires mocks or fakes into an auth.RepositoryManager.
// RunInTx invokes the callback inline with a zero transaction so
// service and handler flows run end to end without a database.
type fakeRepoManager struct {
	users        auth.Users
	actionTokens auth.ActionTokens
}

func (f *fakeRepoManager) Validate() error { return nil }
func (f *fakeRepoManager) MustValidate()   {}

func (f *fakeRepoManager) RunInTx(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn(ctx, bun.Tx{})
	}
}

func (f *fakeRepoManager) Users() auth.Users               { return f.users }
func (f *fakeRepoManager) ActionTokens() auth.ActionTokens { return f.actionTokens }

// MockActivitySink implements auth.ActivitySink
type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event auth.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// capturingSink records every event for later inspection
type capturingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (c *capturingSink) Record(_ context.Context, evt auth.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) byType(eventType auth.ActivityEventType) []auth.ActivityEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []auth.ActivityEvent
	for _, evt := range c.events {
		if evt.EventType == eventType {
			out = append(out, evt)
		}
	}
	return out
}

// capturingMessenger records deliveries instead of sending them
type capturingMessenger struct {
	mu       sync.Mutex
	to       []string
	messages []string
}

func (c *capturingMessenger) Send(_ context.Context, to, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.to = append(c.to, to)
	c.messages = append(c.messages, message)
	return nil
}
