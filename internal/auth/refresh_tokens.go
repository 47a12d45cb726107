package auth

import (
	"context"
	"sync"
	"time"
)

type RefreshTokenStore interface {
	Create(ctx context.Context, accountID int64, token string, expiresAt time.Time) (RefreshToken, error)
	FindByToken(ctx context.Context, token string) (RefreshToken, error)
	// Revoke reports whether this call flipped a live record to revoked.
	Revoke(ctx context.Context, token string) (bool, error)
	RevokeAll(ctx context.Context, accountID int64) (int, error)
	PruneExpired(ctx context.Context) (int, error)
}

type MemoryRefreshTokens struct {
	mu      sync.Mutex
	clock   Clock
	nextID  int64
	byToken map[string]*RefreshToken
}

func NewMemoryRefreshTokens(clock Clock) *MemoryRefreshTokens {
	if clock == nil {
		clock = SystemClock{}
	}
	return &MemoryRefreshTokens{
		clock:   clock,
		nextID:  1,
		byToken: make(map[string]*RefreshToken),
	}
}

func (m *MemoryRefreshTokens) Create(_ context.Context, accountID int64, token string, expiresAt time.Time) (RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record := &RefreshToken{
		ID:        m.nextID,
		AccountID: accountID,
		Token:     token,
		ExpiresAt: expiresAt,
		CreatedAt: m.clock.Now(),
	}
	m.nextID++
	m.byToken[token] = record

	return *record, nil
}

func (m *MemoryRefreshTokens) FindByToken(_ context.Context, token string) (RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.byToken[token]
	if !ok {
		return RefreshToken{}, ErrNotFound
	}
	return *record, nil
}

func (m *MemoryRefreshTokens) Revoke(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.byToken[token]
	if !ok || record.Revoked {
		return false, nil
	}
	record.Revoked = true
	return true, nil
}

func (m *MemoryRefreshTokens) RevokeAll(_ context.Context, accountID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, record := range m.byToken {
		if record.AccountID == accountID && !record.Revoked {
			record.Revoked = true
			count++
		}
	}
	return count, nil
}

func (m *MemoryRefreshTokens) PruneExpired(_ context.Context) (int, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	pruned := 0
	for token, record := range m.byToken {
		if !now.Before(record.ExpiresAt) {
			delete(m.byToken, token)
			pruned++
		}
	}
	return pruned, nil
}

func (m *MemoryRefreshTokens) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byToken)
}
