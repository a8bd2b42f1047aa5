/*
Package auth provides user identity, credential policy, sessions and
login throttling for the billing engine.

PURPOSE:
  Everything about WHO is acting: user records with roles and account
  status, password strength and verification, a token-based session
  registry with inactivity expiry, and failed-login lockout. What an
  authenticated user may DO with a given reading lives in package
  access, not here.

KEY CONCEPTS IN THIS FILE (user.go):
  - User: Account record; the password is only ever stored as a hash
  - Role: admin/user; admin bypasses ownership checks downstream
  - Status: active/inactive; inactive users keep their data but
    cannot authenticate

SEE ALSO:
  - credentials.go: Password policy and the authentication decision
  - session.go: Token sessions with inactivity timeout
  - throttle.go: Failed-attempt lockout
*/
package auth

import (
	"strings"
	"time"

	"github.com/wattline/billing-engine/billing"
)

// =============================================================================
// ROLES AND STATUS
// =============================================================================

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// =============================================================================
// USER
// =============================================================================

// User is one account. Deactivated users are never deleted; their
// readings and meters survive, they just cannot log in.
type User struct {
	ID                 billing.UserID
	Name               string
	Username           string
	PasswordHash       string
	Role               Role
	Status             Status
	MustChangePassword bool
	CreatedAt          time.Time
}

func (u User) IsAdmin() bool  { return u.Role == RoleAdmin }
func (u User) IsActive() bool { return u.Status == StatusActive }

// NormalizeUsername is applied to every username before lookup or
// storage, so "Admin " and "admin" are the same account.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// MinUsernameLength is the shortest accepted username.
const MinUsernameLength = 3

// ValidateUsername checks a normalized username for registration.
func ValidateUsername(username string) error {
	if len(username) < MinUsernameLength {
		return &WeakCredentialError{Field: "username", Reason: "must be at least 3 characters"}
	}
	return nil
}
