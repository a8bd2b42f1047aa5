/*
Package service orchestrates the billing engine's workflows.

PURPOSE:
  The packages below this one are either pure (billing, access, auth
  policy) or dumb storage (store/sqlite). This package is where they
  meet: it loads the state a decision needs, asks the engine, persists
  the outcome, and records the audit entry. HTTP handlers call only
  into here.

SERVICES:
  - Auth:      Login/logout, registration, password changes, recovery
  - Readings:  Preview, create, edit, delete readings; cascade runs here
  - Meters:    Meter registry and shared-access links
  - Tariffs:   Schedule listing and atomic replacement
  - Dashboard: Per-user and per-meter statistics

SHARED RULES (this file):
  - Meter visibility: owner, linked user, or admin
  - Absent rows from the store become typed not-found errors

SEE ALSO:
  - billing: The pure engine every workflow delegates to
  - store/sqlite: Persistence, including the transaction boundary the
    cascade requires
*/
package service

import (
	"context"
	"time"

	"github.com/wattline/billing-engine/access"
	"github.com/wattline/billing-engine/auth"
	"github.com/wattline/billing-engine/billing"
	"github.com/wattline/billing-engine/store/sqlite"
)

// meterAccess loads a meter and decides whether user may see it at all.
// Returns the meter and whether the user is its owner. Admins see every
// meter; everyone else needs ownership or a link.
func meterAccess(ctx context.Context, store *sqlite.Store, user auth.User, meterID billing.MeterID) (*billing.Meter, bool, error) {
	meter, err := store.GetMeter(ctx, meterID)
	if err != nil {
		return nil, false, err
	}
	if meter == nil {
		return nil, false, ErrMeterNotFound
	}

	isOwner := meter.OwnerID == user.ID
	if isOwner || user.IsAdmin() {
		return meter, isOwner, nil
	}

	linked, err := store.IsLinked(ctx, user.ID, meterID)
	if err != nil {
		return nil, false, err
	}
	if !linked {
		return nil, false, &access.PermissionDeniedError{
			Action: "view",
			Reason: "meter is not shared with this user",
		}
	}
	return meter, false, nil
}

// defaultClock is the time source services start with; tests swap it
// out through the WithClock builders.
func defaultClock() time.Time { return time.Now() }
