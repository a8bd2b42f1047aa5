/*
throttle.go - Failed-login lockout

PURPOSE:
  Counts consecutive failed logins per username and locks the name out
  for a fixed window once the limit is hit. State is in memory and per
  process, like the sessions it protects; a restart clears it, which
  is acceptable for a throttle whose job is slowing down guessing, not
  providing an audit trail.

BEHAVIOR:
  - Each failure increments the username's counter
  - Reaching the limit starts the lockout window
  - A successful login, or the window elapsing, clears the counter
  - Lockout applies to the username, including names that do not exist,
    so probing cannot distinguish the two
*/
package auth

import (
	"sync"
	"time"
)

// Lockout defaults.
const (
	DefaultMaxLoginAttempts = 3
	DefaultLockoutWindow    = 1 * time.Minute
)

// LoginThrottle tracks failed logins per username.
type LoginThrottle struct {
	mu          sync.Mutex
	maxAttempts int
	window      time.Duration
	failures    map[string]int
	lockedUntil map[string]time.Time
	now         func() time.Time
}

// NewLoginThrottle creates a throttle. Non-positive arguments fall back
// to the defaults.
func NewLoginThrottle(maxAttempts int, window time.Duration) *LoginThrottle {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxLoginAttempts
	}
	if window <= 0 {
		window = DefaultLockoutWindow
	}
	return &LoginThrottle{
		maxAttempts: maxAttempts,
		window:      window,
		failures:    make(map[string]int),
		lockedUntil: make(map[string]time.Time),
		now:         time.Now,
	}
}

// WithClock replaces the throttle's time source and returns the same
// throttle. Used by tests to control the lockout window.
func (t *LoginThrottle) WithClock(now func() time.Time) *LoginThrottle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
	return t
}

// Check returns a LockedError if the username is currently locked out.
// An expired lockout is cleared as a side effect.
func (t *LoginThrottle) Check(username string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	until, locked := t.lockedUntil[username]
	if !locked {
		return nil
	}
	if t.now().After(until) {
		delete(t.lockedUntil, username)
		delete(t.failures, username)
		return nil
	}
	return &LockedError{Username: username, Remaining: until.Sub(t.now())}
}

// RecordFailure counts one failed attempt. Returns the attempts left
// before lockout; zero means this failure triggered the lockout.
func (t *LoginThrottle) RecordFailure(username string) (remaining int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failures[username]++
	remaining = t.maxAttempts - t.failures[username]
	if remaining <= 0 {
		t.lockedUntil[username] = t.now().Add(t.window)
		return 0
	}
	return remaining
}

// Reset clears the username's counter and any lockout. Called after a
// successful login.
func (t *LoginThrottle) Reset(username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, username)
	delete(t.lockedUntil, username)
}
