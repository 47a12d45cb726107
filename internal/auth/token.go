package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims is the decoded, typed view of an access or refresh token.
type Claims struct {
	ID        string    `json:"jti"`
	Kind      TokenKind `json:"typ"`
	AccountID int64     `json:"sub"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Email string    `json:"email,omitempty"`
	Name  string    `json:"name,omitempty"`
	Type  TokenKind `json:"typ"`
}

// TokenIssuer mints and verifies HS256 tokens. It holds no mutable state and
// never consults the revocation list or the refresh token store.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      Clock
	ids        IDGenerator
	parser     *jwt.Parser
}

func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration, clock Clock, ids IDGenerator) (*TokenIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTTL
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if ids == nil {
		ids = UUIDGenerator{}
	}

	return &TokenIssuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		clock:      clock,
		ids:        ids,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithTimeFunc(clock.Now),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// MaxTTL is the longest lifetime of any token this issuer signs.
func (i *TokenIssuer) MaxTTL() time.Duration {
	return max(i.accessTTL, i.refreshTTL)
}

// IssueAccessToken returns the signed token and its lifetime in seconds.
func (i *TokenIssuer) IssueAccessToken(accountID int64, email, name string) (string, int64, error) {
	signed, _, err := i.issue(KindAccess, accountID, email, name, i.accessTTL)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(i.accessTTL / time.Second), nil
}

// IssueRefreshToken returns the signed token and the absolute expiry embedded in it.
func (i *TokenIssuer) IssueRefreshToken(accountID int64) (string, time.Time, error) {
	return i.issue(KindRefresh, accountID, "", "", i.refreshTTL)
}

func (i *TokenIssuer) issue(kind TokenKind, accountID int64, email, name string, ttl time.Duration) (string, time.Time, error) {
	id, err := i.ids.NewID()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate token id: %w", err)
	}

	now := i.clock.Now()
	expiresAt := jwt.NewNumericDate(now.Add(ttl))
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   strconv.FormatInt(accountID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: expiresAt,
		},
		Email: email,
		Name:  name,
		Type:  kind,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign jwt: %w", err)
	}
	return signed, expiresAt.Time, nil
}

// Verify checks signature and expiry and returns the typed claims.
func (i *TokenIssuer) Verify(token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrInvalidToken
	}

	var raw tokenClaims
	parsed, err := i.parser.ParseWithClaims(token, &raw, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}
	if !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}

	claims, ok := raw.typed()
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// VerifyKind verifies token and additionally requires the given kind.
func (i *TokenIssuer) VerifyKind(token string, kind TokenKind) (Claims, error) {
	claims, err := i.Verify(token)
	if err != nil {
		return Claims{}, err
	}
	if claims.Kind != kind {
		return Claims{}, &Error{Kind: KindInvalidToken, Message: "invalid token type"}
	}
	return claims, nil
}

// DecodeUnverified reads the claims without checking the signature or expiry.
// It must never feed an authorization decision.
func (i *TokenIssuer) DecodeUnverified(token string) (Claims, error) {
	var raw tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &raw); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if raw.ExpiresAt == nil {
		return Claims{}, ErrInvalidToken
	}

	claims := Claims{
		ID:        raw.ID,
		Kind:      raw.Type,
		Email:     raw.Email,
		Name:      raw.Name,
		ExpiresAt: raw.ExpiresAt.UTC(),
	}
	if raw.IssuedAt != nil {
		claims.IssuedAt = raw.IssuedAt.UTC()
	}
	if id, err := strconv.ParseInt(raw.Subject, 10, 64); err == nil {
		claims.AccountID = id
	}
	return claims, nil
}

func (c tokenClaims) typed() (Claims, bool) {
	if c.Type != KindAccess && c.Type != KindRefresh {
		return Claims{}, false
	}
	accountID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || accountID <= 0 {
		return Claims{}, false
	}
	if c.ID == "" || c.ExpiresAt == nil {
		return Claims{}, false
	}

	claims := Claims{
		ID:        c.ID,
		Kind:      c.Type,
		AccountID: accountID,
		Email:     c.Email,
		Name:      c.Name,
		ExpiresAt: c.ExpiresAt.UTC(),
	}
	if c.IssuedAt != nil {
		claims.IssuedAt = c.IssuedAt.UTC()
	}
	return claims, true
}
