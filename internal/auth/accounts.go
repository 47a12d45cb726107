package auth

import (
	"context"
	"sync"
	"time"
)

// AccountStore holds account records and the per-account failed-login state.
// Every method is atomic with respect to the record it touches.
type AccountStore interface {
	Create(ctx context.Context, email, passwordHash, name string) (Account, error)
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindByID(ctx context.Context, id int64) (Account, error)
	// RegisterFailedLogin counts one failure. An elapsed lock resets the
	// counter first; an active lock is returned unchanged.
	RegisterFailedLogin(ctx context.Context, id int64, maxAttempts int, lockFor time.Duration, now time.Time) (LoginAttempt, error)
	// ClearFailedLogins resets counter and lock unless a lock is active at now,
	// in which case the active lock is returned and nothing changes.
	ClearFailedLogins(ctx context.Context, id int64, now time.Time) (LoginAttempt, error)
}

type MemoryAccounts struct {
	mu      sync.Mutex
	clock   Clock
	nextID  int64
	byID    map[int64]*Account
	byEmail map[string]int64
}

func NewMemoryAccounts(clock Clock) *MemoryAccounts {
	if clock == nil {
		clock = SystemClock{}
	}
	return &MemoryAccounts{
		clock:   clock,
		nextID:  1,
		byID:    make(map[int64]*Account),
		byEmail: make(map[string]int64),
	}
}

func (m *MemoryAccounts) Create(_ context.Context, email, passwordHash, name string) (Account, error) {
	key := normalizeEmail(email)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byEmail[key]; exists {
		return Account{}, ErrEmailTaken
	}

	account := &Account{
		ID:           m.nextID,
		Email:        key,
		PasswordHash: passwordHash,
		Name:         name,
		CreatedAt:    m.clock.Now(),
	}
	m.nextID++
	m.byID[account.ID] = account
	m.byEmail[key] = account.ID

	return copyAccount(account), nil
}

func (m *MemoryAccounts) FindByEmail(_ context.Context, email string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byEmail[normalizeEmail(email)]
	if !ok {
		return Account{}, ErrNotFound
	}
	return copyAccount(m.byID[id]), nil
}

func (m *MemoryAccounts) FindByID(_ context.Context, id int64) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.byID[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return copyAccount(account), nil
}

func (m *MemoryAccounts) RegisterFailedLogin(_ context.Context, id int64, maxAttempts int, lockFor time.Duration, now time.Time) (LoginAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.byID[id]
	if !ok {
		return LoginAttempt{}, ErrNotFound
	}

	if account.LockedUntil != nil {
		if now.Before(*account.LockedUntil) {
			return attemptOf(account), nil
		}
		account.FailedLoginAttempts = 0
		account.LockedUntil = nil
	}

	account.FailedLoginAttempts++
	attempt := LoginAttempt{FailedAttempts: account.FailedLoginAttempts}
	if account.FailedLoginAttempts >= maxAttempts {
		until := now.Add(lockFor)
		account.LockedUntil = &until
		attempt.LockedUntil = &until
		attempt.JustLocked = true
	}

	return attempt, nil
}

func (m *MemoryAccounts) ClearFailedLogins(_ context.Context, id int64, now time.Time) (LoginAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.byID[id]
	if !ok {
		return LoginAttempt{}, ErrNotFound
	}

	if account.IsLocked(now) {
		return attemptOf(account), nil
	}

	account.FailedLoginAttempts = 0
	account.LockedUntil = nil
	return LoginAttempt{}, nil
}

func attemptOf(account *Account) LoginAttempt {
	attempt := LoginAttempt{FailedAttempts: account.FailedLoginAttempts}
	if account.LockedUntil != nil {
		until := *account.LockedUntil
		attempt.LockedUntil = &until
	}
	return attempt
}

func copyAccount(account *Account) Account {
	out := *account
	if account.LockedUntil != nil {
		until := *account.LockedUntil
		out.LockedUntil = &until
	}
	return out
}
