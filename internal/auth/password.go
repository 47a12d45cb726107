package auth

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
}

type BcryptHasher struct {
	Cost int
}

func NewBcryptHasher(cost int) BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return BcryptHasher{Cost: cost}
}

func (h BcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (h BcryptHasher) Verify(password, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

var (
	emailRegex   = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	upperRegex   = regexp.MustCompile(`[A-Z]`)
	lowerRegex   = regexp.MustCompile(`[a-z]`)
	numberRegex  = regexp.MustCompile(`[0-9]`)
	specialRegex = regexp.MustCompile(`[!@#$%^&*()_+\-=\[\]{};':"\\|,.<>/?]`)
)

const (
	maxEmailLength = 254
	maxNameLength  = 100
	// bcrypt ignores everything past 72 bytes.
	maxPasswordBytes = 72
)

type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumbers   bool
	RequireSpecial   bool
}

func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        8,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireNumbers:   true,
		RequireSpecial:   true,
	}
}

func (p PasswordPolicy) Validate(password string) error {
	if utf8.RuneCountInString(password) < p.MinLength {
		return validationError(fmt.Sprintf("password must be at least %d characters long", p.MinLength))
	}
	if len(password) > maxPasswordBytes {
		return validationError(fmt.Sprintf("password must be at most %d bytes long", maxPasswordBytes))
	}
	if p.RequireUppercase && !upperRegex.MatchString(password) {
		return validationError("password must contain at least one uppercase letter")
	}
	if p.RequireLowercase && !lowerRegex.MatchString(password) {
		return validationError("password must contain at least one lowercase letter")
	}
	if p.RequireNumbers && !numberRegex.MatchString(password) {
		return validationError("password must contain at least one number")
	}
	if p.RequireSpecial && !specialRegex.MatchString(password) {
		return validationError("password must contain at least one special character")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCredentials(email, password string, policy PasswordPolicy) error {
	if email == "" || password == "" {
		return validationError("email and password are required")
	}
	if len(email) > maxEmailLength || !emailRegex.MatchString(email) {
		return validationError("invalid email format")
	}
	return policy.Validate(password)
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return validationError("name cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return validationError(fmt.Sprintf("name must be at most %d characters long", maxNameLength))
	}
	return nil
}
