/*
errors.go - Authentication error types

All failures a caller can branch on during login, registration and
password changes. Invalid-username and wrong-password are deliberately
the same error so responses never reveal whether an account exists.
*/
package auth

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidCredentials covers both unknown username and wrong
	// password, indistinguishably.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInactiveUser is returned when the credentials are correct but
	// the account has been deactivated.
	ErrInactiveUser = errors.New("user is deactivated")

	// ErrUserExists is returned when registering a username that is
	// already taken.
	ErrUserExists = errors.New("username already exists")

	// ErrWeakCredential is returned when a password or username fails
	// the strength policy.
	ErrWeakCredential = errors.New("credential does not meet policy")

	// ErrUserLocked is returned while a lockout from repeated failed
	// logins is still in effect.
	ErrUserLocked = errors.New("user temporarily locked")

	// ErrNoSession is returned when a session token is unknown or has
	// expired from inactivity.
	ErrNoSession = errors.New("no active session")

	// ErrRecoveryKeyMismatch is returned when the offline recovery key
	// does not match the stored one.
	ErrRecoveryKeyMismatch = errors.New("recovery key mismatch")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// WeakCredentialError names the policy rule a credential violates.
type WeakCredentialError struct {
	Field  string // "password" or "username"
	Reason string
}

func (e *WeakCredentialError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Field, e.Reason)
}

func (e *WeakCredentialError) Unwrap() error { return ErrWeakCredential }

// LockedError carries how long the caller has to wait.
type LockedError struct {
	Username  string
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("user %q locked for another %ds after repeated failed logins",
		e.Username, int(e.Remaining.Seconds()))
}

func (e *LockedError) Unwrap() error { return ErrUserLocked }
