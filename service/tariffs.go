/*
tariffs.go - Tariff schedule administration

The schedule is swapped all-or-nothing: validate first, then delete and
reinsert every tier inside one transaction. A malformed schedule never
replaces a valid one, and no reader ever observes a half-replaced set.
Changing tariffs does not touch stored readings; historical amounts are
repriced only when their reading is next recalculated.
*/
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wattline/billing-engine/access"
	"github.com/wattline/billing-engine/audit"
	"github.com/wattline/billing-engine/auth"
	"github.com/wattline/billing-engine/billing"
	"github.com/wattline/billing-engine/factory"
	"github.com/wattline/billing-engine/metrics"
	"github.com/wattline/billing-engine/store/sqlite"
)

// Tariffs orchestrates schedule listing and replacement.
type Tariffs struct {
	store   *sqlite.Store
	factory *factory.ScheduleFactory
	audit   audit.Log
	log     *zap.Logger
}

// NewTariffs wires the tariff administration workflows.
func NewTariffs(store *sqlite.Store, auditLog audit.Log, log *zap.Logger) *Tariffs {
	return &Tariffs{
		store:   store,
		factory: factory.NewScheduleFactory(),
		audit:   auditLog,
		log:     log,
	}
}

// List returns the active schedule in ascending tier order.
func (s *Tariffs) List(ctx context.Context) ([]billing.Tier, error) {
	return s.store.ListTariffs(ctx)
}

// Replace swaps the whole schedule atomically. Admin only; the tier set
// is validated before anything is touched.
func (s *Tariffs) Replace(ctx context.Context, actor auth.User, tiers []billing.Tier) error {
	if !actor.IsAdmin() {
		return &access.PermissionDeniedError{Action: "replace tariffs", Reason: "administrator role required"}
	}
	if err := billing.ValidateTiers(tiers); err != nil {
		return err
	}
	if err := s.store.ReplaceTariffs(ctx, tiers); err != nil {
		return err
	}

	metrics.TariffReplacements.Inc()
	if err := s.audit.Append(ctx, audit.Entry{
		ActorID: actor.ID,
		Kind:    audit.KindTariffChanged,
		Details: fmt.Sprintf("%d tiers", len(tiers)),
	}); err != nil {
		s.log.Warn("audit append failed", zap.String("kind", string(audit.KindTariffChanged)), zap.Error(err))
	}
	return nil
}

// ReplaceFromJSON parses a JSON schedule definition and replaces the
// active schedule with it.
func (s *Tariffs) ReplaceFromJSON(ctx context.Context, actor auth.User, scheduleJSON factory.ScheduleJSON) ([]billing.Tier, error) {
	tiers, err := s.factory.FromJSON(scheduleJSON)
	if err != nil {
		return nil, err
	}
	if err := s.Replace(ctx, actor, tiers); err != nil {
		return nil, err
	}
	return tiers, nil
}
