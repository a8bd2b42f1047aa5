/*
errors.go - Access decision failures
*/
package access

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPermissionDenied is the sentinel behind every denial that no
	// amount of waiting would change.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrEditWindowExpired marks edits blocked purely by elapsed time.
	ErrEditWindowExpired = errors.New("edit window expired")
)

// PermissionDeniedError explains which action was denied and why.
type PermissionDeniedError struct {
	Action string
	Reason string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("cannot %s: %s", e.Action, e.Reason)
}

func (e *PermissionDeniedError) Unwrap() error { return ErrPermissionDenied }

// EditWindowExpiredError carries the window that elapsed so callers can
// render it.
type EditWindowExpiredError struct {
	Window time.Duration
}

func (e *EditWindowExpiredError) Error() string {
	return fmt.Sprintf("readings can only be edited within %d hours of creation", int(e.Window.Hours()))
}

func (e *EditWindowExpiredError) Unwrap() error { return ErrEditWindowExpired }
