package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultMaxAttempts = 5
	defaultLockWindow  = 15 * time.Minute
	tokenTypeBearer    = "Bearer"

	// Only used to spend the same bcrypt work on unknown emails.
	timingEqualizerPassword = "Timing-Equalizer-Password-1!"
)

type Dependencies struct {
	Accounts      AccountStore
	RefreshTokens RefreshTokenStore
	Revocations   *RevocationList
	Issuer        *TokenIssuer
	Hasher        PasswordHasher
	Events        *SecurityLog
	Clock         Clock
}

type SecurityConfig struct {
	MaxFailedAttempts   int
	LockDuration        time.Duration
	RotateRefreshTokens bool
	PasswordPolicy      PasswordPolicy
}

type Service struct {
	accounts      AccountStore
	refreshTokens RefreshTokenStore
	revocations   *RevocationList
	issuer        *TokenIssuer
	hasher        PasswordHasher
	events        *SecurityLog
	clock         Clock

	maxAttempts   int
	lockDuration  time.Duration
	rotateRefresh bool
	policy        PasswordPolicy

	dummyDigest string
}

func NewService(deps Dependencies) *Service {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	revocations := deps.Revocations
	if revocations == nil {
		revocations = NewRevocationList(clock)
	}
	events := deps.Events
	if events == nil {
		events = NewSecurityLog(clock, nil)
	}
	hasher := deps.Hasher
	if hasher == nil {
		hasher = NewBcryptHasher(0)
	}

	service := &Service{
		accounts:      deps.Accounts,
		refreshTokens: deps.RefreshTokens,
		revocations:   revocations,
		issuer:        deps.Issuer,
		hasher:        hasher,
		events:        events,
		clock:         clock,
		maxAttempts:   defaultMaxAttempts,
		lockDuration:  defaultLockWindow,
		policy:        DefaultPasswordPolicy(),
	}
	if digest, err := hasher.Hash(timingEqualizerPassword); err == nil {
		service.dummyDigest = digest
	}
	return service
}

func (s *Service) WithSecurityConfig(cfg SecurityConfig) {
	if cfg.MaxFailedAttempts > 0 {
		s.maxAttempts = cfg.MaxFailedAttempts
	}
	if cfg.LockDuration > 0 {
		s.lockDuration = cfg.LockDuration
	}
	if cfg.PasswordPolicy.MinLength > 0 {
		s.policy = cfg.PasswordPolicy
	}
	s.rotateRefresh = cfg.RotateRefreshTokens
}

func (s *Service) Events() *SecurityLog {
	return s.events
}

func (s *Service) Signup(ctx context.Context, email, password, name string) (AuthResult, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if err := validateCredentials(email, password, s.policy); err != nil {
		return AuthResult{}, err
	}
	if err := validateName(name); err != nil {
		return AuthResult{}, err
	}

	if _, err := s.accounts.FindByEmail(ctx, email); err == nil {
		s.record(ctx, EventSignupRejected, EventDetails{Email: email, Reason: "Email already registered"})
		return AuthResult{}, ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return AuthResult{}, fmt.Errorf("find account: %w", err)
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return AuthResult{}, err
	}

	account, err := s.accounts.Create(ctx, email, digest, name)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			s.record(ctx, EventSignupRejected, EventDetails{Email: email, Reason: "Email already registered"})
			return AuthResult{}, ErrAlreadyExists
		}
		return AuthResult{}, fmt.Errorf("create account: %w", err)
	}

	s.record(ctx, EventSignup, EventDetails{Email: account.Email, AccountID: account.ID})
	return s.issueTokens(ctx, account)
}

func (s *Service) Login(ctx context.Context, email, password string) (AuthResult, error) {
	email = normalizeEmail(email)
	if err := validateCredentials(email, password, s.policy); err != nil {
		return AuthResult{}, err
	}

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.equalizeTiming(password)
			s.record(ctx, EventFailedLogin, EventDetails{Email: email, Reason: "User not found"})
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, fmt.Errorf("find account: %w", err)
	}

	if account.IsLocked(s.clock.Now()) {
		s.record(ctx, EventFailedLogin, EventDetails{Email: email, AccountID: account.ID, Reason: "Account locked"})
		return AuthResult{}, lockedError(*account.LockedUntil)
	}

	if !s.hasher.Verify(password, account.PasswordHash) {
		attempt, err := s.accounts.RegisterFailedLogin(ctx, account.ID, s.maxAttempts, s.lockDuration, s.clock.Now())
		if err != nil {
			return AuthResult{}, fmt.Errorf("register failed login: %w", err)
		}
		if attempt.JustLocked {
			s.record(ctx, EventAccountLocked, EventDetails{Email: email, AccountID: account.ID})
		}
		s.record(ctx, EventFailedLogin, EventDetails{Email: email, AccountID: account.ID, Reason: "Invalid password"})
		return AuthResult{}, ErrInvalidCredentials
	}

	now := s.clock.Now()
	attempt, err := s.accounts.ClearFailedLogins(ctx, account.ID, now)
	if err != nil {
		return AuthResult{}, fmt.Errorf("clear failed logins: %w", err)
	}
	// A concurrent failure may have locked the account after the check above.
	if attempt.Locked(now) {
		s.record(ctx, EventFailedLogin, EventDetails{Email: email, AccountID: account.ID, Reason: "Account locked"})
		return AuthResult{}, lockedError(*attempt.LockedUntil)
	}

	s.record(ctx, EventSuccessfulLogin, EventDetails{Email: email, AccountID: account.ID})
	return s.issueTokens(ctx, account)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return RefreshResult{}, s.tokenFailure(ctx, ErrInvalidToken, 0)
	}

	if s.revocations.Contains(refreshToken) {
		return RefreshResult{}, s.tokenFailure(ctx, ErrTokenRevoked, 0)
	}

	claims, err := s.issuer.VerifyKind(refreshToken, KindRefresh)
	if err != nil {
		return RefreshResult{}, s.tokenFailure(ctx, err, 0)
	}

	stored, err := s.refreshTokens.FindByToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return RefreshResult{}, s.tokenFailure(ctx, ErrTokenNotFound, claims.AccountID)
		}
		return RefreshResult{}, fmt.Errorf("find refresh token: %w", err)
	}
	if !stored.IsValid(s.clock.Now()) || stored.AccountID != claims.AccountID {
		return RefreshResult{}, s.tokenFailure(ctx, ErrTokenNotFound, claims.AccountID)
	}

	account, err := s.accounts.FindByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return RefreshResult{}, s.tokenFailure(ctx, ErrAccountGone, claims.AccountID)
		}
		return RefreshResult{}, fmt.Errorf("find account: %w", err)
	}

	result := RefreshResult{TokenType: tokenTypeBearer}
	if s.rotateRefresh {
		rotated, err := s.rotate(ctx, account, stored)
		if err != nil {
			return RefreshResult{}, err
		}
		result.RefreshToken = rotated
	}

	access, expiresIn, err := s.issuer.IssueAccessToken(account.ID, account.Email, account.Name)
	if err != nil {
		return RefreshResult{}, err
	}
	result.AccessToken = access
	result.ExpiresIn = expiresIn

	s.record(ctx, EventTokenRefreshed, EventDetails{Email: account.Email, AccountID: account.ID})
	return result, nil
}

// rotate revokes the presented refresh token and issues its replacement. Only
// the caller that wins the revoke may rotate.
func (s *Service) rotate(ctx context.Context, account Account, stored RefreshToken) (string, error) {
	revoked, err := s.refreshTokens.Revoke(ctx, stored.Token)
	if err != nil {
		return "", fmt.Errorf("revoke refresh token: %w", err)
	}
	if !revoked {
		return "", s.tokenFailure(ctx, ErrTokenRevoked, account.ID)
	}
	s.revocations.Add(stored.Token, stored.ExpiresAt)

	token, expiresAt, err := s.issuer.IssueRefreshToken(account.ID)
	if err != nil {
		return "", err
	}
	if _, err := s.refreshTokens.Create(ctx, account.ID, token, expiresAt); err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return token, nil
}

// Logout is best effort: tokens that cannot be decoded are simply not listed.
// Only a failing store surfaces as an error.
func (s *Service) Logout(ctx context.Context, refreshToken, accessToken string) (LogoutResult, error) {
	result := LogoutResult{Success: true, Refresh: OutcomeNotPresented, Access: OutcomeNotPresented}
	refreshToken = strings.TrimSpace(refreshToken)
	accessToken = strings.TrimSpace(accessToken)

	var accountID int64
	if refreshToken != "" {
		listed, owner := s.revokeUntilExpiry(refreshToken)
		revoked, err := s.refreshTokens.Revoke(ctx, refreshToken)
		if err != nil {
			return result, fmt.Errorf("revoke refresh token: %w", err)
		}
		result.Refresh = outcomeOf(listed || revoked)
		accountID = owner
	}

	if accessToken != "" {
		listed, owner := s.revokeUntilExpiry(accessToken)
		result.Access = outcomeOf(listed)
		if accountID == 0 {
			accountID = owner
		}
	}

	if result.Refresh == OutcomeRevoked || result.Access == OutcomeRevoked {
		s.record(ctx, EventLogout, EventDetails{AccountID: accountID})
	}
	return result, nil
}

// LogoutEverywhere revokes every refresh token of the account and lists the
// presented access token.
func (s *Service) LogoutEverywhere(ctx context.Context, accountID int64, accessToken string) (int, error) {
	count, err := s.refreshTokens.RevokeAll(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("revoke all refresh tokens: %w", err)
	}
	if accessToken = strings.TrimSpace(accessToken); accessToken != "" {
		s.revokeUntilExpiry(accessToken)
	}

	s.record(ctx, EventLogout, EventDetails{AccountID: accountID, Reason: fmt.Sprintf("revoked %d sessions", count)})
	return count, nil
}

// Authenticate is the guard used before every protected operation.
func (s *Service) Authenticate(ctx context.Context, token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, s.tokenFailure(ctx, ErrUnauthorized, 0)
	}

	claims, err := s.issuer.VerifyKind(token, KindAccess)
	if err != nil {
		return Claims{}, s.tokenFailure(ctx, err, 0)
	}
	if s.revocations.Contains(token) {
		return Claims{}, s.tokenFailure(ctx, ErrTokenRevoked, claims.AccountID)
	}
	return claims, nil
}

func (s *Service) Account(ctx context.Context, id int64) (AccountView, error) {
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AccountView{}, ErrAccountGone
		}
		return AccountView{}, fmt.Errorf("find account: %w", err)
	}
	return account.View(), nil
}

func (s *Service) PruneExpired(ctx context.Context) (CleanupResult, error) {
	pruned, err := s.refreshTokens.PruneExpired(ctx)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("prune refresh tokens: %w", err)
	}
	return CleanupResult{
		PrunedRefreshTokens: pruned,
		PrunedRevocations:   s.revocations.Prune(),
	}, nil
}

func (s *Service) issueTokens(ctx context.Context, account Account) (AuthResult, error) {
	access, expiresIn, err := s.issuer.IssueAccessToken(account.ID, account.Email, account.Name)
	if err != nil {
		return AuthResult{}, err
	}

	refresh, expiresAt, err := s.issuer.IssueRefreshToken(account.ID)
	if err != nil {
		return AuthResult{}, err
	}
	if _, err := s.refreshTokens.Create(ctx, account.ID, refresh, expiresAt); err != nil {
		return AuthResult{}, fmt.Errorf("store refresh token: %w", err)
	}

	return AuthResult{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    expiresIn,
		Account:      account.View(),
	}, nil
}

// revokeUntilExpiry lists token until its own expiry. Tokens that do not decode
// or are already past expiry are left alone. The expiry is unverified, so it is
// capped at the longest lifetime this issuer ever grants.
func (s *Service) revokeUntilExpiry(token string) (bool, int64) {
	claims, err := s.issuer.DecodeUnverified(token)
	now := s.clock.Now()
	if err != nil || !claims.ExpiresAt.After(now) {
		return false, 0
	}

	expiresAt := claims.ExpiresAt
	if ceiling := now.Add(s.issuer.MaxTTL()); expiresAt.After(ceiling) {
		expiresAt = ceiling
	}
	return s.revocations.Add(token, expiresAt), claims.AccountID
}

func (s *Service) tokenFailure(ctx context.Context, err error, accountID int64) error {
	s.record(ctx, EventTokenValidationFailure, EventDetails{AccountID: accountID, Reason: err.Error()})
	return err
}

func (s *Service) record(ctx context.Context, eventType EventType, details EventDetails) {
	meta := RequestMetaFromContext(ctx)
	details.IP = meta.IP
	details.Endpoint = meta.Endpoint
	s.events.Record(eventType, details)
}

func (s *Service) equalizeTiming(password string) {
	if s.dummyDigest != "" {
		s.hasher.Verify(password, s.dummyDigest)
	}
}

func outcomeOf(revoked bool) RevocationOutcome {
	if revoked {
		return OutcomeRevoked
	}
	return OutcomeAlreadyInvalid
}
