/*
readings.go - Reading workflows: preview, create, edit, delete, cascade

PURPOSE:
  Every mutation of a meter's timeline goes through here. The flow is
  always the same shape: check access, validate the period, ask the
  engine (rollover resolution, retroactive ordering, pricing), persist,
  and run the cascade over the readings that come after the touched
  point - all inside one store transaction, which is the single-writer
  boundary the recalculator requires.

PREVIEW:
  The UI shows consumption and amount before anything is saved. Preview
  runs the same derivation as Create but stops short of persistence; a
  transition that needs confirmation comes back as the typed
  confirmation error plus the figures to display.

FIRST READING:
  A meter's first reading has no predecessor; its previous value is 0,
  so the entered counter value is also the first period's consumption.

SEE ALSO:
  - billing/cascade.go: The recalculation the mutations trigger
  - access/policy.go: Who may edit or delete which reading
*/
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wattline/billing-engine/access"
	"github.com/wattline/billing-engine/audit"
	"github.com/wattline/billing-engine/auth"
	"github.com/wattline/billing-engine/billing"
	"github.com/wattline/billing-engine/metrics"
	"github.com/wattline/billing-engine/store/sqlite"
)

// Readings orchestrates reading mutations and queries.
type Readings struct {
	store    *sqlite.Store
	detector billing.Detector
	recalc   billing.Recalculator
	policy   access.Policy
	audit    audit.Log
	log      *zap.Logger
	now      func() time.Time
}

// NewReadings wires the reading workflows. auditLog may be audit.Nop{}.
func NewReadings(store *sqlite.Store, detector billing.Detector, policy access.Policy, auditLog audit.Log, log *zap.Logger) *Readings {
	return &Readings{
		store:    store,
		detector: detector,
		recalc:   billing.Recalculator{Detector: detector},
		policy:   policy,
		audit:    auditLog,
		log:      log,
		now:      defaultClock,
	}
}

// WithClock replaces the service's time source and returns the same
// service. Used by tests to control edit windows and stamps.
func (s *Readings) WithClock(now func() time.Time) *Readings {
	s.now = now
	return s
}

// =============================================================================
// PREVIEW
// =============================================================================

// Preview is what the UI shows before a reading is committed.
type Preview struct {
	PreviousValue        float64
	Consumption          float64
	Amount               decimal.Decimal
	AmountRounded        int64
	Breakdown            []billing.TierCharge
	IsRollover           bool
	RequiresConfirmation bool
	Message              string
}

// PreviewReading derives consumption and amount for a candidate counter
// value without persisting anything. When the transition needs
// confirmation and confirm is false, the returned Preview still carries
// the figures and the error is the typed confirmation error, so the
// caller can show the numbers while asking.
func (s *Readings) PreviewReading(ctx context.Context, user auth.User, meterID billing.MeterID, periodEnd time.Time, currentValue float64, confirm bool) (*Preview, error) {
	if _, _, err := meterAccess(ctx, s.store, user, meterID); err != nil {
		return nil, err
	}
	if err := billing.ValidateNotFuture(periodEnd, s.now()); err != nil {
		return nil, err
	}

	previousValue, err := s.previousValue(ctx, meterID, periodEnd)
	if err != nil {
		return nil, err
	}

	detection := s.detector.Detect(previousValue, currentValue)
	consumption, isRollover, err := s.detector.Resolve(previousValue, currentValue, confirm)
	if err != nil {
		return &Preview{
			PreviousValue:        previousValue,
			Consumption:          detection.Consumption,
			IsRollover:           detection.IsRollover,
			RequiresConfirmation: true,
			Message:              detection.Message,
		}, err
	}

	tiers, err := s.store.ListTariffs(ctx)
	if err != nil {
		return nil, err
	}

	return &Preview{
		PreviousValue: previousValue,
		Consumption:   consumption,
		Amount:        billing.Price(consumption, tiers),
		AmountRounded: billing.PriceRounded(consumption, tiers),
		Breakdown:     billing.Breakdown(consumption, tiers),
		IsRollover:    isRollover,
		Message:       detection.Message,
	}, nil
}

// previousValue is the current value of the chronologically previous
// reading, or 0 for a meter's first reading.
func (s *Readings) previousValue(ctx context.Context, meterID billing.MeterID, periodEnd time.Time) (float64, error) {
	prev, err := s.store.PreviousReading(ctx, meterID, periodEnd)
	if err != nil {
		return 0, err
	}
	if prev == nil {
		return 0, nil
	}
	return prev.CurrentValue, nil
}

// =============================================================================
// CREATE
// =============================================================================

// CreateReadingInput is one candidate reading from the UI.
type CreateReadingInput struct {
	MeterID         billing.MeterID
	PeriodStart     time.Time
	PeriodEnd       time.Time
	CurrentValue    float64
	ConfirmRollover bool
}

// ReadingResult reports a persisted mutation.
type ReadingResult struct {
	Reading        billing.Reading
	ThresholdAlert bool
	CascadeUpdated int
}

// Create validates, derives and persists a new reading, then cascades
// the correction over any chronologically later readings. The insert
// and the cascade updates commit as one transaction.
func (s *Readings) Create(ctx context.Context, user auth.User, in CreateReadingInput) (*ReadingResult, error) {
	meter, _, err := meterAccess(ctx, s.store, user, in.MeterID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := billing.ValidatePeriod(in.PeriodStart, in.PeriodEnd, now); err != nil {
		return nil, err
	}

	exists, err := s.store.PeriodExists(ctx, in.MeterID, in.PeriodStart, in.PeriodEnd, "")
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, billing.ErrDuplicatePeriod
	}

	prev, err := s.store.PreviousReading(ctx, in.MeterID, in.PeriodEnd)
	if err != nil {
		return nil, err
	}
	next, err := s.store.NextReading(ctx, in.MeterID, in.PeriodEnd)
	if err != nil {
		return nil, err
	}
	if err := s.detector.ValidateRetroactive(in.CurrentValue, in.PeriodEnd, prev, next); err != nil {
		return nil, err
	}

	previousValue := 0.0
	if prev != nil {
		previousValue = prev.CurrentValue
	}
	consumption, isRollover, err := s.detector.Resolve(previousValue, in.CurrentValue, in.ConfirmRollover)
	if err != nil {
		metrics.ReadingsProcessed.WithLabelValues("create", "needs_confirmation").Inc()
		return nil, err
	}

	tiers, err := s.store.ListTariffs(ctx)
	if err != nil {
		return nil, err
	}

	reading := billing.Reading{
		ID:            billing.ReadingID(uuid.NewString()),
		MeterID:       in.MeterID,
		AuthorID:      user.ID,
		PeriodStart:   in.PeriodStart,
		PeriodEnd:     in.PeriodEnd,
		PreviousValue: previousValue,
		CurrentValue:  in.CurrentValue,
		Consumption:   consumption,
		BilledAmount:  billing.Price(consumption, tiers),
		IsRollover:    isRollover,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	cascaded, err := s.persistWithCascade(ctx, tiers, now, func(tx *sqlite.Tx) error {
		return tx.SaveReading(ctx, reading)
	}, reading.MeterID, reading.PeriodEnd)
	if err != nil {
		metrics.ReadingsProcessed.WithLabelValues("create", "error").Inc()
		return nil, err
	}

	metrics.ReadingsProcessed.WithLabelValues("create", "ok").Inc()
	if isRollover {
		metrics.RolloversDetected.Inc()
		s.appendAudit(ctx, user.ID, audit.KindRolloverDetected,
			fmt.Sprintf("meter %s: counter wrapped, consumption %.2f kWh", meter.Label, consumption))
	}
	s.appendAudit(ctx, user.ID, audit.KindReadingCreated,
		fmt.Sprintf("meter %s: %.2f kWh, amount %s", meter.Label, consumption, reading.BilledAmount.StringFixed(2)))

	return &ReadingResult{
		Reading:        reading,
		ThresholdAlert: billing.ThresholdAlert(consumption, meter.AlertThreshold),
		CascadeUpdated: cascaded,
	}, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// Update replaces a reading's counter value, re-derives its fields and
// cascades over the later readings. The period itself never changes;
// correcting a wrong date is delete plus re-create.
func (s *Readings) Update(ctx context.Context, user auth.User, id billing.ReadingID, currentValue float64, confirm bool) (*ReadingResult, error) {
	reading, err := s.store.GetReading(ctx, id)
	if err != nil {
		return nil, err
	}
	if reading == nil {
		return nil, ErrReadingNotFound
	}

	meter, isOwner, err := meterAccess(ctx, s.store, user, reading.MeterID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.policy.CanEdit(user, *reading, isOwner, now); err != nil {
		metrics.ReadingsProcessed.WithLabelValues("update", "rejected").Inc()
		return nil, err
	}

	prev, err := s.store.PreviousReading(ctx, reading.MeterID, reading.PeriodEnd)
	if err != nil {
		return nil, err
	}
	next, err := s.store.NextReading(ctx, reading.MeterID, reading.PeriodEnd)
	if err != nil {
		return nil, err
	}
	if err := s.detector.ValidateRetroactive(currentValue, reading.PeriodEnd, prev, next); err != nil {
		return nil, err
	}

	previousValue := 0.0
	if prev != nil {
		previousValue = prev.CurrentValue
	}
	consumption, isRollover, err := s.detector.Resolve(previousValue, currentValue, confirm)
	if err != nil {
		metrics.ReadingsProcessed.WithLabelValues("update", "needs_confirmation").Inc()
		return nil, err
	}

	tiers, err := s.store.ListTariffs(ctx)
	if err != nil {
		return nil, err
	}

	updated := *reading
	updated.PreviousValue = previousValue
	updated.CurrentValue = currentValue
	updated.Consumption = consumption
	updated.BilledAmount = billing.Price(consumption, tiers)
	updated.IsRollover = isRollover
	updated.UpdatedAt = now

	cascaded, err := s.persistWithCascade(ctx, tiers, now, func(tx *sqlite.Tx) error {
		return tx.UpdateReading(ctx, updated)
	}, updated.MeterID, updated.PeriodEnd)
	if err != nil {
		metrics.ReadingsProcessed.WithLabelValues("update", "error").Inc()
		return nil, err
	}

	metrics.ReadingsProcessed.WithLabelValues("update", "ok").Inc()
	s.appendAudit(ctx, user.ID, audit.KindReadingEdited,
		fmt.Sprintf("reading %s: new value %.2f", id, currentValue))

	return &ReadingResult{
		Reading:        updated,
		ThresholdAlert: billing.ThresholdAlert(consumption, meter.AlertThreshold),
		CascadeUpdated: cascaded,
	}, nil
}

// =============================================================================
// DELETE
// =============================================================================

// Delete removes a reading and cascades over what followed it. Only the
// meter owner or an admin may delete; linked users record corrective
// readings instead, keeping the audit trail intact.
func (s *Readings) Delete(ctx context.Context, user auth.User, id billing.ReadingID) (int, error) {
	reading, err := s.store.GetReading(ctx, id)
	if err != nil {
		return 0, err
	}
	if reading == nil {
		return 0, ErrReadingNotFound
	}

	_, isOwner, err := meterAccess(ctx, s.store, user, reading.MeterID)
	if err != nil {
		return 0, err
	}
	if err := s.policy.CanDelete(user, isOwner); err != nil {
		metrics.ReadingsProcessed.WithLabelValues("delete", "rejected").Inc()
		return 0, err
	}

	now := s.now()
	tiers, err := s.store.ListTariffs(ctx)
	if err != nil {
		return 0, err
	}

	cascaded, err := s.persistWithCascade(ctx, tiers, now, func(tx *sqlite.Tx) error {
		return tx.DeleteReading(ctx, id)
	}, reading.MeterID, reading.PeriodEnd)
	if err != nil {
		metrics.ReadingsProcessed.WithLabelValues("delete", "error").Inc()
		return 0, err
	}

	metrics.ReadingsProcessed.WithLabelValues("delete", "ok").Inc()
	s.appendAudit(ctx, user.ID, audit.KindReadingDeleted, fmt.Sprintf("reading %s", id))
	return cascaded, nil
}

// =============================================================================
// CASCADE
// =============================================================================

// persistWithCascade applies one mutation and the recalculation it
// triggers inside a single transaction. After the mutation it reloads
// the meter's full chronological sequence, recalculates from the first
// reading at or after the touched period end, and persists only the
// entries the recalculator reports as changed.
func (s *Readings) persistWithCascade(ctx context.Context, tiers []billing.Tier, now time.Time, mutate func(tx *sqlite.Tx) error, meterID billing.MeterID, touchedEnd time.Time) (int, error) {
	cascaded := 0
	err := s.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		if err := mutate(tx); err != nil {
			return err
		}

		sequence, err := tx.ListReadings(ctx, meterID, 0)
		if err != nil {
			return err
		}

		from := len(sequence)
		for i, r := range sequence {
			if !r.PeriodEnd.Before(touchedEnd) {
				from = i
				break
			}
		}

		_, changed := s.recalc.Recalculate(sequence, tiers, from, now)
		for _, r := range changed {
			if err := tx.UpdateReading(ctx, r); err != nil {
				return err
			}
		}
		cascaded = len(changed)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if cascaded > 0 {
		metrics.CascadeUpdates.Add(float64(cascaded))
		s.log.Info("cascade recalculated readings",
			zap.String("meter_id", string(meterID)),
			zap.Int("updated", cascaded))
	}
	return cascaded, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns one reading, provided the user may see its meter.
func (s *Readings) Get(ctx context.Context, user auth.User, id billing.ReadingID) (*billing.Reading, error) {
	reading, err := s.store.GetReading(ctx, id)
	if err != nil {
		return nil, err
	}
	if reading == nil {
		return nil, ErrReadingNotFound
	}
	if _, _, err := meterAccess(ctx, s.store, user, reading.MeterID); err != nil {
		return nil, err
	}
	return reading, nil
}

// List returns a meter's readings in chronological order, optionally
// filtered to one year (0 means all).
func (s *Readings) List(ctx context.Context, user auth.User, meterID billing.MeterID, year int) ([]billing.Reading, error) {
	if _, _, err := meterAccess(ctx, s.store, user, meterID); err != nil {
		return nil, err
	}
	return s.store.ListReadings(ctx, meterID, year)
}

// Years returns the years the meter has data for, newest first.
func (s *Readings) Years(ctx context.Context, user auth.User, meterID billing.MeterID) ([]int, error) {
	if _, _, err := meterAccess(ctx, s.store, user, meterID); err != nil {
		return nil, err
	}
	return s.store.YearsWithData(ctx, meterID)
}

// appendAudit records an entry, logging instead of failing when the
// sink is unavailable; a broken audit file must not abort billing.
func (s *Readings) appendAudit(ctx context.Context, actor billing.UserID, kind audit.Kind, details string) {
	if err := s.audit.Append(ctx, audit.Entry{ActorID: actor, Kind: kind, Details: details}); err != nil {
		s.log.Warn("audit append failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}
