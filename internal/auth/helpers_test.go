package auth

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret   = "test-secret-with-at-least-32-characters!"
	testEmail    = "test@example.com"
	testPassword = "ValidPass123!"
	testName     = "Test User"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	clock         *fakeClock
	accounts      *MemoryAccounts
	refreshTokens *MemoryRefreshTokens
	revocations   *RevocationList
	issuer        *TokenIssuer
	events        *SecurityLog
	service       *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := newFakeClock()
	issuer, err := NewTokenIssuer(testSecret, 15*time.Minute, 7*24*time.Hour, clock, nil)
	require.NoError(t, err)

	env := &testEnv{
		clock:         clock,
		accounts:      NewMemoryAccounts(clock),
		refreshTokens: NewMemoryRefreshTokens(clock),
		revocations:   NewRevocationList(clock),
		issuer:        issuer,
		events:        NewSecurityLog(clock, nil),
	}
	env.service = NewService(Dependencies{
		Accounts:      env.accounts,
		RefreshTokens: env.refreshTokens,
		Revocations:   env.revocations,
		Issuer:        issuer,
		Hasher:        NewBcryptHasher(bcrypt.MinCost),
		Events:        env.events,
		Clock:         clock,
	})
	return env
}

func (e *testEnv) signup(t *testing.T) AuthResult {
	t.Helper()

	result, err := e.service.Signup(t.Context(), testEmail, testPassword, testName)
	require.NoError(t, err)
	return result
}
