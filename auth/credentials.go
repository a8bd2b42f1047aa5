/*
credentials.go - Password policy and the authentication decision

PURPOSE:
  Two pure decisions, separated from storage and hashing:
  1. Is this password strong enough to accept?
  2. Given a looked-up user (or nil) and a password, does this login
     succeed, and with which failure?

ORDERING INVARIANT:
  Credential validity is checked BEFORE account status. A deactivated
  account with a wrong password reports invalid credentials, not
  "deactivated"; account status is only disclosed to someone who
  already holds the correct password.
*/
package auth

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// =============================================================================
// PASSWORD POLICY
// =============================================================================

// DefaultMinPasswordLength is the smallest accepted password length.
const DefaultMinPasswordLength = 6

// CredentialPolicy validates password strength. The zero value is not
// usable; construct with DefaultPolicy or set MinLength explicitly.
type CredentialPolicy struct {
	MinLength int
}

// DefaultPolicy returns the standard policy: at least 6 characters
// including at least one digit.
func DefaultPolicy() CredentialPolicy {
	return CredentialPolicy{MinLength: DefaultMinPasswordLength}
}

// ValidatePassword checks a candidate password against the policy.
func (p CredentialPolicy) ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < p.MinLength {
		return &WeakCredentialError{
			Field:  "password",
			Reason: fmt.Sprintf("must be at least %d characters", p.MinLength),
		}
	}
	for _, r := range password {
		if unicode.IsDigit(r) {
			return nil
		}
	}
	return &WeakCredentialError{
		Field:  "password",
		Reason: "must contain at least one digit",
	}
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

// VerifyFunc reports whether a plaintext password matches a stored hash.
// Kept as a function value so this decision stays independent of the
// hashing implementation; production wires Hasher.Verify, tests can
// wire plain comparison.
type VerifyFunc func(password, hash string) bool

// Authenticate decides a login attempt. user is the lookup result and
// may be nil for an unknown username.
//
// Failure order: unknown user and wrong password both yield
// ErrInvalidCredentials; only after the password checks out does a
// deactivated account yield ErrInactiveUser.
func Authenticate(user *User, password string, verify VerifyFunc) (*User, error) {
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if !verify(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive() {
		return nil, ErrInactiveUser
	}
	return user, nil
}
