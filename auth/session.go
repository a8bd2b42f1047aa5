/*
session.go - Token sessions with inactivity expiry

PURPOSE:
  Replaces ambient "current user" state with an explicit registry:
  logging in starts a session and returns an opaque token, every
  request resolves its token back to a user id, and resolving counts
  as activity. A session that sits idle past the timeout is gone the
  next time anyone asks.

KEY CONCEPTS:
  - Tokens are random UUIDs, never derived from user data
  - Expiry is measured from last activity, not from login
  - Deactivating a user ends all of that user's sessions at once

USAGE:
  reg := auth.NewSessionRegistry(3 * time.Hour)
  s := reg.Start(user.ID)
  s2, err := reg.Resolve(s.Token)   // touches LastActivity
  reg.End(s.Token)
*/
package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wattline/billing-engine/billing"
)

// DefaultSessionTimeout is how long a session survives without activity.
const DefaultSessionTimeout = 3 * time.Hour

// Session is one authenticated presence. Values returned by the
// registry are copies; mutating them does not affect the registry.
type Session struct {
	Token        string
	UserID       billing.UserID
	CreatedAt    time.Time
	LastActivity time.Time
}

// =============================================================================
// REGISTRY
// =============================================================================

// SessionRegistry holds all live sessions in memory. Sessions do not
// survive a process restart; users simply log in again.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	timeout  time.Duration
	now      func() time.Time
}

// NewSessionRegistry creates a registry with the given inactivity
// timeout. A non-positive timeout falls back to the default.
func NewSessionRegistry(timeout time.Duration) *SessionRegistry {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &SessionRegistry{
		sessions: make(map[string]*Session),
		timeout:  timeout,
		now:      time.Now,
	}
}

// WithClock replaces the registry's time source and returns the same
// registry. Used by tests to control expiry.
func (r *SessionRegistry) WithClock(now func() time.Time) *SessionRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
	return r
}

// Start opens a session for a user and returns it. Multiple concurrent
// sessions per user are allowed (two household members on one account).
func (r *SessionRegistry) Start(userID billing.UserID) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Session{
		Token:        uuid.NewString(),
		UserID:       userID,
		CreatedAt:    r.now(),
		LastActivity: r.now(),
	}
	r.sessions[s.Token] = s
	return *s
}

// Resolve looks up a token, expires it if idle too long, and otherwise
// touches its activity timestamp. Returns ErrNoSession for unknown or
// expired tokens.
func (r *SessionRegistry) Resolve(token string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[token]
	if !ok {
		return Session{}, ErrNoSession
	}
	if r.now().Sub(s.LastActivity) > r.timeout {
		delete(r.sessions, token)
		return Session{}, ErrNoSession
	}
	s.LastActivity = r.now()
	return *s, nil
}

// End closes one session. Ending an unknown token is a no-op.
func (r *SessionRegistry) End(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, token)
}

// EndAllFor closes every session belonging to a user and reports how
// many were closed. Called when an account is deactivated.
func (r *SessionRegistry) EndAllFor(userID billing.UserID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ended := 0
	for token, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, token)
			ended++
		}
	}
	return ended
}

// ActiveCount reports live sessions, counting out the expired ones.
func (r *SessionRegistry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for token, s := range r.sessions {
		if r.now().Sub(s.LastActivity) > r.timeout {
			delete(r.sessions, token)
			continue
		}
		count++
	}
	return count
}
