/*
Package access decides what an authenticated user may do with a meter's
readings.

PURPOSE:
  A meter has one owner; other users can be linked to it to collaborate.
  This package encodes the asymmetry between the two:

    edit    owner or admin: any reading, any age
            linked user:    own readings only, within the edit window
    delete  owner or admin only

  Decisions are pure functions over (user, reading, ownership, clock);
  loading those inputs is the service layer's job.

KEY CONCEPTS:
  - Ownership is passed in as a fact, not looked up here
  - The edit window counts from the reading's creation, not its period
  - Failures are typed: PermissionDeniedError states who may act,
    EditWindowExpiredError states the window that passed

SEE ALSO:
  - auth: Who the user is (roles live there)
  - billing: What a Reading is
*/
package access

import (
	"time"

	"github.com/wattline/billing-engine/auth"
	"github.com/wattline/billing-engine/billing"
)

// DefaultEditWindow is how long a linked (non-owner) user may edit
// their own readings after creating them.
const DefaultEditWindow = 48 * time.Hour

// Policy holds the edit window. The zero value denies all linked-user
// edits; construct with NewPolicy.
type Policy struct {
	EditWindow time.Duration
}

// NewPolicy returns the standard policy with the 48 hour window.
func NewPolicy() Policy {
	return Policy{EditWindow: DefaultEditWindow}
}

// =============================================================================
// DECISIONS
// =============================================================================

// CanEdit decides whether user may edit reading. isOwner states whether
// the user owns the reading's meter. Owner and admin may edit anything;
// a linked user may edit only readings they authored, and only while
// the edit window since creation is open.
func (p Policy) CanEdit(user auth.User, reading billing.Reading, isOwner bool, now time.Time) error {
	if user.IsAdmin() || isOwner {
		return nil
	}

	if reading.AuthorID != user.ID {
		return &PermissionDeniedError{
			Action: "edit",
			Reason: "linked users may only edit readings they recorded",
		}
	}

	// A reading with no creation timestamp has no window to be inside.
	if reading.CreatedAt.IsZero() || now.Sub(reading.CreatedAt) > p.EditWindow {
		return &EditWindowExpiredError{Window: p.EditWindow}
	}
	return nil
}

// CanDelete decides whether user may delete readings on a meter. Only
// the owner and admins may; authorship and age are irrelevant.
func (p Policy) CanDelete(user auth.User, isOwner bool) error {
	if user.IsAdmin() || isOwner {
		return nil
	}
	return &PermissionDeniedError{
		Action: "delete",
		Reason: "only the meter owner may delete readings",
	}
}
