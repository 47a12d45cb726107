package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordPolicy_Validate(t *testing.T) {
	policy := DefaultPasswordPolicy()

	cases := []struct {
		name     string
		password string
		valid    bool
	}{
		{"valid", testPassword, true},
		{"too short", "Ab1!", false},
		{"no uppercase", "validpass123!", false},
		{"no lowercase", "VALIDPASS123!", false},
		{"no number", "ValidPass!!!", false},
		{"no special", "ValidPass123", false},
		{"over bcrypt limit", "Aa1!" + strings.Repeat("x", 80), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := policy.Validate(tc.password)
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestValidateCredentials(t *testing.T) {
	policy := DefaultPasswordPolicy()

	assert.NoError(t, validateCredentials(testEmail, testPassword, policy))
	assert.ErrorIs(t, validateCredentials("", testPassword, policy), ErrValidation)
	assert.ErrorIs(t, validateCredentials(testEmail, "", policy), ErrValidation)
	assert.ErrorIs(t, validateCredentials("not-an-email", testPassword, policy), ErrValidation)
	assert.ErrorIs(t, validateCredentials(strings.Repeat("a", 250)+"@x.io", testPassword, policy), ErrValidation)
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, validateName(testName))
	assert.ErrorIs(t, validateName("   "), ErrValidation)
	assert.ErrorIs(t, validateName(strings.Repeat("n", 101)), ErrValidation)
}

func TestBcryptHasher(t *testing.T) {
	hasher := NewBcryptHasher(bcrypt.MinCost)

	digest, err := hasher.Hash(testPassword)
	require.NoError(t, err)
	assert.NotEqual(t, testPassword, digest)
	assert.True(t, hasher.Verify(testPassword, digest))
	assert.False(t, hasher.Verify("WrongPass123!", digest))
	assert.False(t, hasher.Verify(testPassword, "not-a-digest"))

	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(0).Cost)
}
