package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// RevocationList rejects tokens that were invalidated before their natural
// expiry. Entries are keyed by the SHA-256 of the token and dropped once their
// own expiry passes, since the issuer rejects the token from then on anyway.
type RevocationList struct {
	mu      sync.Mutex
	clock   Clock
	entries map[string]time.Time
}

func NewRevocationList(clock Clock) *RevocationList {
	if clock == nil {
		clock = SystemClock{}
	}
	return &RevocationList{
		clock:   clock,
		entries: make(map[string]time.Time),
	}
}

// Add lists token until expiresAt and reports whether it was not listed before.
func (l *RevocationList) Add(token string, expiresAt time.Time) bool {
	key := hashToken(token)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(l.clock.Now())
	_, existed := l.entries[key]
	if !existed || l.entries[key].Before(expiresAt) {
		l.entries[key] = expiresAt
	}
	return !existed
}

func (l *RevocationList) Contains(token string) bool {
	key := hashToken(token)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(l.clock.Now())
	_, ok := l.entries[key]
	return ok
}

func (l *RevocationList) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked(l.clock.Now())
}

func (l *RevocationList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(l.clock.Now())
	return len(l.entries)
}

func (l *RevocationList) pruneLocked(now time.Time) int {
	pruned := 0
	for key, expiresAt := range l.entries {
		if expiresAt.Before(now) {
			delete(l.entries, key)
			pruned++
		}
	}
	return pruned
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
