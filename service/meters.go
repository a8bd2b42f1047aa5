/*
meters.go - Meter registry and shared-access links

PURPOSE:
  Register, rename and remove meters, and manage which other users may
  collaborate on one. Registry invariants (label rules, threshold sign)
  live on billing.Meter; per-owner label uniqueness is the store's
  unique index. What this file adds is who may do what and the
  confirmation gate in front of a destructive delete.

DELETE CONFIRMATION:
  Deleting a meter takes its readings with it. When readings exist the
  first call fails with MeterHasReadingsError carrying the count; the
  caller repeats the call with the confirmation flag after showing it.
*/
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wattline/billing-engine/access"
	"github.com/wattline/billing-engine/audit"
	"github.com/wattline/billing-engine/auth"
	"github.com/wattline/billing-engine/billing"
	"github.com/wattline/billing-engine/store/sqlite"
)

// Meters orchestrates the meter registry.
type Meters struct {
	store *sqlite.Store
	audit audit.Log
	log   *zap.Logger
	now   func() time.Time
}

// NewMeters wires the meter registry workflows.
func NewMeters(store *sqlite.Store, auditLog audit.Log, log *zap.Logger) *Meters {
	return &Meters{store: store, audit: auditLog, log: log, now: defaultClock}
}

// WithClock replaces the service's time source and returns the same
// service.
func (s *Meters) WithClock(now func() time.Time) *Meters {
	s.now = now
	return s
}

// =============================================================================
// REGISTRY
// =============================================================================

// MeterInput carries the user-editable meter fields.
type MeterInput struct {
	Label          string
	SerialNumber   string
	AlertThreshold *float64
}

// Create registers a meter owned by the acting user.
func (s *Meters) Create(ctx context.Context, owner auth.User, in MeterInput) (*billing.Meter, error) {
	meter := billing.Meter{
		ID:             billing.MeterID(uuid.NewString()),
		OwnerID:        owner.ID,
		Label:          trimmed(in.Label),
		SerialNumber:   trimmed(in.SerialNumber),
		AlertThreshold: in.AlertThreshold,
		CreatedAt:      s.now(),
	}
	if err := meter.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.SaveMeter(ctx, meter); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, owner.ID, audit.KindMeterCreated, fmt.Sprintf("meter %q", meter.Label))
	return &meter, nil
}

// Update edits a meter's label, serial number and alert threshold.
// Owner or admin only; linked users collaborate on readings, not on
// the registry.
func (s *Meters) Update(ctx context.Context, user auth.User, meterID billing.MeterID, in MeterInput) (*billing.Meter, error) {
	meter, err := s.requireOwner(ctx, user, meterID, "edit meter")
	if err != nil {
		return nil, err
	}

	updated := *meter
	updated.Label = trimmed(in.Label)
	updated.SerialNumber = trimmed(in.SerialNumber)
	updated.AlertThreshold = in.AlertThreshold
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.UpdateMeter(ctx, updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete removes a meter and everything on it. When readings exist,
// confirm must be true or the call fails with the count.
func (s *Meters) Delete(ctx context.Context, user auth.User, meterID billing.MeterID, confirm bool) error {
	meter, err := s.requireOwner(ctx, user, meterID, "delete meter")
	if err != nil {
		return err
	}

	count, err := s.store.CountReadings(ctx, meterID)
	if err != nil {
		return err
	}
	if count > 0 && !confirm {
		return &MeterHasReadingsError{ReadingCount: count}
	}

	if err := s.store.DeleteMeter(ctx, meterID); err != nil {
		return err
	}
	s.appendAudit(ctx, user.ID, audit.KindMeterDeleted,
		fmt.Sprintf("meter %q with %d readings", meter.Label, count))
	return nil
}

// Get returns one meter, provided the user may see it.
func (s *Meters) Get(ctx context.Context, user auth.User, meterID billing.MeterID) (*billing.Meter, bool, error) {
	return meterAccess(ctx, s.store, user, meterID)
}

// ListAccessible returns the meters the user owns or is linked to.
func (s *Meters) ListAccessible(ctx context.Context, user auth.User) ([]billing.Meter, error) {
	return s.store.ListAccessibleMeters(ctx, user.ID)
}

// =============================================================================
// LINKS
// =============================================================================

// Link grants another user access to a meter, by username. Owner or
// admin only; linking the owner to their own meter is rejected.
func (s *Meters) Link(ctx context.Context, user auth.User, meterID billing.MeterID, username string) (*auth.User, error) {
	meter, err := s.requireOwner(ctx, user, meterID, "share meter")
	if err != nil {
		return nil, err
	}

	target, err := s.store.GetUserByUsername(ctx, auth.NormalizeUsername(username))
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, ErrUserNotFound
	}
	if target.ID == meter.OwnerID {
		return nil, billing.ErrDuplicateLink
	}

	link := billing.MeterLink{
		UserID:    target.ID,
		MeterID:   meterID,
		CreatedAt: s.now(),
	}
	if err := s.store.SaveLink(ctx, link); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, user.ID, audit.KindLinkCreated,
		fmt.Sprintf("meter %q shared with %q", meter.Label, target.Username))
	return target, nil
}

// Unlink revokes a user's access to a meter.
func (s *Meters) Unlink(ctx context.Context, user auth.User, meterID billing.MeterID, targetID billing.UserID) error {
	meter, err := s.requireOwner(ctx, user, meterID, "unshare meter")
	if err != nil {
		return err
	}

	if err := s.store.DeleteLink(ctx, meterID, targetID); err != nil {
		return err
	}
	s.appendAudit(ctx, user.ID, audit.KindLinkDeleted,
		fmt.Sprintf("meter %q unshared from user %s", meter.Label, targetID))
	return nil
}

// LinkedUsers returns the users a meter is shared with.
func (s *Meters) LinkedUsers(ctx context.Context, user auth.User, meterID billing.MeterID) ([]auth.User, error) {
	if _, _, err := meterAccess(ctx, s.store, user, meterID); err != nil {
		return nil, err
	}
	return s.store.ListLinkedUsers(ctx, meterID)
}

// requireOwner loads a meter and rejects everyone but its owner and
// admins.
func (s *Meters) requireOwner(ctx context.Context, user auth.User, meterID billing.MeterID, action string) (*billing.Meter, error) {
	meter, err := s.store.GetMeter(ctx, meterID)
	if err != nil {
		return nil, err
	}
	if meter == nil {
		return nil, ErrMeterNotFound
	}
	if meter.OwnerID != user.ID && !user.IsAdmin() {
		return nil, &access.PermissionDeniedError{Action: action, Reason: "only the meter owner may do this"}
	}
	return meter, nil
}

func (s *Meters) appendAudit(ctx context.Context, actor billing.UserID, kind audit.Kind, details string) {
	if err := s.audit.Append(ctx, audit.Entry{ActorID: actor, Kind: kind, Details: details}); err != nil {
		s.log.Warn("audit append failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}
