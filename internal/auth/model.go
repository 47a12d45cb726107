package auth

import "time"

type Account struct {
	ID                  int64
	Email               string
	PasswordHash        string
	Name                string
	CreatedAt           time.Time
	FailedLoginAttempts int
	LockedUntil         *time.Time
}

// IsLocked reports whether a lock is set and still in the future at now.
func (a Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

func (a Account) View() AccountView {
	return AccountView{
		ID:        a.ID,
		Email:     a.Email,
		Name:      a.Name,
		CreatedAt: a.CreatedAt,
	}
}

// AccountView is the public projection of an Account; it never carries the digest.
type AccountView struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginAttempt struct {
	FailedAttempts int
	LockedUntil    *time.Time
	JustLocked     bool
}

func (l LoginAttempt) Locked(now time.Time) bool {
	return l.LockedUntil != nil && now.Before(*l.LockedUntil)
}

type RefreshToken struct {
	ID        int64
	AccountID int64
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}

func (r RefreshToken) IsValid(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}

type AuthResult struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int64       `json:"expires_in"`
	Account      AccountView `json:"account"`
}

type RefreshResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type RevocationOutcome string

const (
	OutcomeNotPresented   RevocationOutcome = "not_presented"
	OutcomeRevoked        RevocationOutcome = "revoked"
	OutcomeAlreadyInvalid RevocationOutcome = "already_invalid"
)

// LogoutResult is always a success; the outcomes only describe what had to be done.
type LogoutResult struct {
	Success bool              `json:"success"`
	Refresh RevocationOutcome `json:"refresh"`
	Access  RevocationOutcome `json:"access"`
}

type CleanupResult struct {
	PrunedRefreshTokens int `json:"pruned_refresh_tokens"`
	PrunedRevocations   int `json:"pruned_revocations"`
}
