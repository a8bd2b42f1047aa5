/*
auth.go - Authentication workflows

PURPOSE:
  Login with failed-attempt lockout, session lifecycle, registration,
  password changes, offline admin recovery, and account deactivation.
  The pure decisions (policy, the authenticate ordering, throttling,
  session expiry) live in package auth; this file loads users, wires
  the hashing collaborator and writes the audit trail.

DEACTIVATION:
  Accounts are never deleted. Deactivating one ends its sessions and
  transfers its meters to the acting admin so the readings stay
  maintained; the user record remains for the audit trail.
*/
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wattline/billing-engine/access"
	"github.com/wattline/billing-engine/audit"
	"github.com/wattline/billing-engine/auth"
	"github.com/wattline/billing-engine/billing"
	"github.com/wattline/billing-engine/metrics"
	"github.com/wattline/billing-engine/store/sqlite"
)

// Auth orchestrates the authentication workflows.
type Auth struct {
	store           *sqlite.Store
	sessions        *auth.SessionRegistry
	throttle        *auth.LoginThrottle
	hasher          auth.Hasher
	policy          auth.CredentialPolicy
	audit           audit.Log
	log             *zap.Logger
	recoveryKeyPath string
	now             func() time.Time
}

// NewAuth wires the authentication workflows.
func NewAuth(store *sqlite.Store, sessions *auth.SessionRegistry, throttle *auth.LoginThrottle, hasher auth.Hasher, policy auth.CredentialPolicy, auditLog audit.Log, log *zap.Logger, recoveryKeyPath string) *Auth {
	return &Auth{
		store:           store,
		sessions:        sessions,
		throttle:        throttle,
		hasher:          hasher,
		policy:          policy,
		audit:           auditLog,
		log:             log,
		recoveryKeyPath: recoveryKeyPath,
		now:             defaultClock,
	}
}

// WithClock replaces the service's time source and returns the same
// service.
func (s *Auth) WithClock(now func() time.Time) *Auth {
	s.now = now
	return s
}

// =============================================================================
// LOGIN / LOGOUT
// =============================================================================

// LoginResult is a successful login: the session token plus what the UI
// needs to route the user (forced password change goes first).
type LoginResult struct {
	Token              string
	User               auth.User
	MustChangePassword bool
}

// Login authenticates a username/password pair. Failures count toward
// the per-username lockout; success resets it and opens a session.
func (s *Auth) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = auth.NormalizeUsername(username)

	if err := s.throttle.Check(username); err != nil {
		metrics.LoginAttempts.WithLabelValues("locked").Inc()
		s.appendAudit(ctx, "", audit.KindLoginFailed, fmt.Sprintf("user %q: locked out", username))
		return nil, err
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	authed, err := auth.Authenticate(user, password, s.hasher.Verify)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		remaining := s.throttle.RecordFailure(username)
		metrics.LoginAttempts.WithLabelValues("invalid").Inc()
		s.appendAudit(ctx, "", audit.KindLoginFailed,
			fmt.Sprintf("user %q: invalid credentials, %d attempts left", username, remaining))
		return nil, err
	}
	if errors.Is(err, auth.ErrInactiveUser) {
		metrics.LoginAttempts.WithLabelValues("inactive").Inc()
		s.appendAudit(ctx, user.ID, audit.KindLoginFailed, fmt.Sprintf("user %q: account deactivated", username))
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	s.throttle.Reset(username)
	session := s.sessions.Start(authed.ID)
	metrics.LoginAttempts.WithLabelValues("success").Inc()
	metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.appendAudit(ctx, authed.ID, audit.KindLogin, fmt.Sprintf("user %q", username))

	return &LoginResult{
		Token:              session.Token,
		User:               *authed,
		MustChangePassword: authed.MustChangePassword,
	}, nil
}

// Logout ends a session. Unknown tokens are a no-op.
func (s *Auth) Logout(ctx context.Context, token string) {
	if session, err := s.sessions.Resolve(token); err == nil {
		s.appendAudit(ctx, session.UserID, audit.KindLogout, "")
	}
	s.sessions.End(token)
	metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
}

// ResolveSession maps a token back to its user. Deactivated accounts
// lose their sessions at the next request.
func (s *Auth) ResolveSession(ctx context.Context, token string) (*auth.User, error) {
	session, err := s.sessions.Resolve(token)
	if err != nil {
		return nil, err
	}

	user, err := s.store.GetUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive() {
		s.sessions.End(token)
		return nil, auth.ErrNoSession
	}
	return user, nil
}

// =============================================================================
// REGISTRATION AND PASSWORDS
// =============================================================================

// Register creates a new active account with the user role.
func (s *Auth) Register(ctx context.Context, name, username, password string) (*auth.User, error) {
	username = auth.NormalizeUsername(username)
	if err := auth.ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := s.policy.ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user := auth.User{
		ID:           billing.UserID(uuid.NewString()),
		Name:         name,
		Username:     username,
		PasswordHash: hash,
		Role:         auth.RoleUser,
		Status:       auth.StatusActive,
		CreatedAt:    s.now(),
	}
	if err := s.store.SaveUser(ctx, user); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, user.ID, audit.KindUserCreated, fmt.Sprintf("user %q", username))
	return &user, nil
}

// ChangePassword sets a new password after verifying the current one,
// and clears the must-change flag.
func (s *Auth) ChangePassword(ctx context.Context, userID billing.UserID, current, newPassword string) error {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	if !s.hasher.Verify(current, user.PasswordHash) {
		return auth.ErrInvalidCredentials
	}
	if err := s.policy.ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, userID, hash, false); err != nil {
		return err
	}

	s.appendAudit(ctx, userID, audit.KindPasswordChanged, "")
	return nil
}

// RecoverAdmin resets the admin password against the offline recovery
// key file. This is the escape hatch when the only admin is locked out;
// it needs filesystem access to the host, which is the actual proof of
// authority here.
func (s *Auth) RecoverAdmin(ctx context.Context, adminUsername, key, newPassword string) error {
	stored, err := ReadRecoveryKey(s.recoveryKeyPath)
	if err != nil {
		return err
	}
	if key == "" || key != stored {
		return auth.ErrRecoveryKeyMismatch
	}

	admin, err := s.store.GetUserByUsername(ctx, auth.NormalizeUsername(adminUsername))
	if err != nil {
		return err
	}
	if admin == nil || !admin.IsAdmin() {
		return ErrUserNotFound
	}

	if err := s.policy.ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, admin.ID, hash, false); err != nil {
		return err
	}

	s.throttle.Reset(admin.Username)
	s.appendAudit(ctx, admin.ID, audit.KindPasswordReset, "via recovery key")
	return nil
}

// =============================================================================
// DEACTIVATION
// =============================================================================

// DeactivateUser sets an account inactive, ends its sessions and moves
// its meters to the acting admin. Admin only; self-deactivation is
// blocked so a household cannot lock itself out.
func (s *Auth) DeactivateUser(ctx context.Context, actor auth.User, targetID billing.UserID) error {
	if !actor.IsAdmin() {
		return &access.PermissionDeniedError{Action: "deactivate user", Reason: "administrator role required"}
	}
	if actor.ID == targetID {
		return &access.PermissionDeniedError{Action: "deactivate user", Reason: "cannot deactivate your own account"}
	}

	target, err := s.store.GetUser(ctx, targetID)
	if err != nil {
		return err
	}
	if target == nil {
		return ErrUserNotFound
	}

	// Transfer and status change commit together: a transfer that fails
	// (say, the admin already owns a meter with the same label) must not
	// leave a deactivated account still holding meters.
	var moved int
	err = s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		moved, err = tx.TransferMeters(ctx, targetID, actor.ID)
		if err != nil {
			return err
		}
		return tx.SetUserStatus(ctx, targetID, auth.StatusInactive)
	})
	if err != nil {
		return err
	}

	ended := s.sessions.EndAllFor(targetID)
	metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))

	s.appendAudit(ctx, actor.ID, audit.KindUserDeactivated,
		fmt.Sprintf("user %q, %d sessions ended", target.Username, ended))
	if moved > 0 {
		s.appendAudit(ctx, actor.ID, audit.KindUserTransferred,
			fmt.Sprintf("%d meters moved from %q to acting admin", moved, target.Username))
	}
	return nil
}

// ListUsers returns every account, for the admin user screen.
func (s *Auth) ListUsers(ctx context.Context, actor auth.User) ([]auth.User, error) {
	if !actor.IsAdmin() {
		return nil, &access.PermissionDeniedError{Action: "list users", Reason: "administrator role required"}
	}
	return s.store.ListUsers(ctx)
}

func (s *Auth) appendAudit(ctx context.Context, actor billing.UserID, kind audit.Kind, details string) {
	if err := s.audit.Append(ctx, audit.Entry{ActorID: actor, Kind: kind, Details: details}); err != nil {
		s.log.Warn("audit append failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}
