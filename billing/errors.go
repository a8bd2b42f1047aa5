/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All engine error kinds in one place. Expected business outcomes
  (rollover needs confirmation, incoherent decrease) are typed errors
  the caller branches on; none of them is retryable and none is ever
  suppressed inside the engine. The one documented exception is the
  cascade recalculator, which absorbs per-reading resolution failures
  so a single bad historical record cannot block correction of the
  rest of the sequence.

ERROR CATEGORIES:
  1. Confirmation errors - caller must re-invoke with explicit consent
  2. Validation errors - input violates an invariant, correct and retry
  3. Schedule errors - malformed tariff tier sets
  4. Uniqueness errors - duplicates surfaced by the persistence layer's
     unique indexes and mapped back to these sentinels

USAGE:
  consumption, isRollover, err := detector.Resolve(prev, cur, false)
  var notConfirmed *RolloverNotConfirmedError
  if errors.As(err, &notConfirmed) {
      // show notConfirmed.Consumption, ask the user, re-invoke with confirm
  }

SEE ALSO:
  - rollover.go: Produces the confirmation errors
  - tariff.go: Produces TariffValidationError
*/
package billing

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRolloverNotConfirmed is returned when a detected rollover has not
	// been explicitly confirmed by the caller.
	ErrRolloverNotConfirmed = errors.New("rollover not confirmed")

	// ErrIncoherentReading is returned when a reading decreases without a
	// plausible counter rollover.
	ErrIncoherentReading = errors.New("incoherent reading")

	// ErrInvalidTariff is returned when a tariff tier set is malformed.
	ErrInvalidTariff = errors.New("invalid tariff schedule")

	// ErrRetroactiveConflict is returned when a retroactive value violates
	// the ordering of its chronological neighbors.
	ErrRetroactiveConflict = errors.New("retroactive reading conflicts with neighbors")

	// ErrInvalidPeriod is returned when a period is malformed (start after end).
	ErrInvalidPeriod = errors.New("invalid period: start after end")

	// ErrFutureDate is returned when a reading is dated in the future.
	ErrFutureDate = errors.New("reading date is in the future")

	// ErrInvalidMeter is returned when meter registry input violates a rule.
	ErrInvalidMeter = errors.New("invalid meter")

	// ErrDuplicatePeriod is returned when a meter already has a reading
	// covering exactly the same period.
	ErrDuplicatePeriod = errors.New("a reading for this period already exists")

	// ErrDuplicateLabel is returned when an owner already has a meter with
	// the same label.
	ErrDuplicateLabel = errors.New("meter label already in use")

	// ErrDuplicateLink is returned when a user is already linked to a meter.
	ErrDuplicateLink = errors.New("user already linked to this meter")
)

// =============================================================================
// STRUCTURED ERRORS - Carry the values the caller needs to branch on
// =============================================================================

// RolloverNotConfirmedError carries the consumption the detector computed,
// so the caller can display it before asking for confirmation.
type RolloverNotConfirmedError struct {
	Consumption float64
}

func (e *RolloverNotConfirmedError) Error() string {
	return fmt.Sprintf("rollover detected (implied consumption %.2f kWh); confirmation required", e.Consumption)
}

func (e *RolloverNotConfirmedError) Unwrap() error { return ErrRolloverNotConfirmed }

// IncoherentReadingError carries both counter values of a decrease that
// cannot be classified as a rollover.
type IncoherentReadingError struct {
	Previous float64
	Current  float64
}

func (e *IncoherentReadingError) Error() string {
	return fmt.Sprintf("current reading %.2f is below previous %.2f and no rollover is plausible", e.Current, e.Previous)
}

func (e *IncoherentReadingError) Unwrap() error { return ErrIncoherentReading }

// TariffValidationError names the rule a tier set violates. It blocks the
// whole schedule replacement; schedules are swapped all-or-nothing.
type TariffValidationError struct {
	Reason string
}

func (e *TariffValidationError) Error() string {
	return fmt.Sprintf("invalid tariff schedule: %s", e.Reason)
}

func (e *TariffValidationError) Unwrap() error { return ErrInvalidTariff }

// RetroactiveError describes which neighbor a retroactive insertion
// collides with. Not recoverable without correcting the input value.
type RetroactiveError struct {
	Value         float64
	Date          time.Time
	Neighbor      string // "previous" or "next"
	NeighborValue float64
}

func (e *RetroactiveError) Error() string {
	return fmt.Sprintf("retroactive reading %.2f on %s conflicts with %s reading %.2f",
		e.Value, e.Date.Format("2006-01-02"), e.Neighbor, e.NeighborValue)
}

func (e *RetroactiveError) Unwrap() error { return ErrRetroactiveConflict }

// MeterValidationError names the meter registry rule an input violates.
type MeterValidationError struct {
	Field  string
	Reason string
}

func (e *MeterValidationError) Error() string {
	return fmt.Sprintf("invalid meter %s: %s", e.Field, e.Reason)
}

func (e *MeterValidationError) Unwrap() error { return ErrInvalidMeter }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// NeedsConfirmation returns true if the error means the same call would
// succeed when re-invoked with explicit confirmation.
func NeedsConfirmation(err error) bool {
	return errors.Is(err, ErrRolloverNotConfirmed) ||
		errors.Is(err, ErrIncoherentReading)
}

// IsValidationError returns true if the error is due to invalid input
// rather than state that confirmation could override.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidTariff) ||
		errors.Is(err, ErrRetroactiveConflict) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrFutureDate) ||
		errors.Is(err, ErrInvalidMeter)
}

// IsDuplicate returns true if the error is one of the uniqueness
// sentinels, where the same request can never succeed unchanged.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicatePeriod) ||
		errors.Is(err, ErrDuplicateLabel) ||
		errors.Is(err, ErrDuplicateLink)
}
