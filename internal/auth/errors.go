package auth

import (
	"errors"
	"time"
)

type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindAccountLocked      Kind = "account_locked"
	KindAlreadyExists      Kind = "already_exists"
	KindUnauthorized       Kind = "unauthorized"
	KindInvalidToken       Kind = "invalid_token"
	KindExpiredToken       Kind = "expired_token"
	KindTokenRevoked       Kind = "token_revoked"
	KindTokenNotFound      Kind = "token_not_found"
	KindAccountGone        Kind = "account_gone"
)

// Unauthorized reports whether the kind belongs to the token/guard failure class.
func (k Kind) Unauthorized() bool {
	switch k {
	case KindUnauthorized, KindInvalidToken, KindExpiredToken, KindTokenRevoked, KindTokenNotFound, KindAccountGone:
		return true
	}
	return false
}

// Error is the caller-visible failure of the authentication core. Two errors
// are equal under errors.Is when their kinds match.
type Error struct {
	Kind    Kind
	Message string
	RetryAt time.Time
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation         = &Error{Kind: KindValidation, Message: "invalid input"}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials, Message: "invalid email or password"}
	ErrAccountLocked      = &Error{Kind: KindAccountLocked, Message: "account temporarily locked"}
	ErrAlreadyExists      = &Error{Kind: KindAlreadyExists, Message: "account with this email already exists"}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized, Message: "missing or malformed authorization"}
	ErrInvalidToken       = &Error{Kind: KindInvalidToken, Message: "invalid token"}
	ErrExpiredToken       = &Error{Kind: KindExpiredToken, Message: "token expired"}
	ErrTokenRevoked       = &Error{Kind: KindTokenRevoked, Message: "token has been revoked"}
	ErrTokenNotFound      = &Error{Kind: KindTokenNotFound, Message: "refresh token not found or revoked"}
	ErrAccountGone        = &Error{Kind: KindAccountGone, Message: "account no longer exists"}
)

// Store-level sentinels. These never reach callers of Service unchanged.
var (
	ErrNotFound   = errors.New("record not found")
	ErrEmailTaken = errors.New("email already registered")
)

func validationError(message string) error {
	return &Error{Kind: KindValidation, Message: message}
}

func lockedError(until time.Time) error {
	return &Error{Kind: KindAccountLocked, Message: ErrAccountLocked.Message, RetryAt: until}
}

// KindOf extracts the Kind of an authentication error. ok is false for
// internal faults.
func KindOf(err error) (Kind, bool) {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind, true
	}
	return "", false
}
