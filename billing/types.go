/*
Package billing provides the core electricity billing and metering engine.

PURPOSE:
  This package contains the pure domain logic for a household electricity
  tracker: tiered-tariff pricing, meter rollover detection, retroactive
  reading validation, and cascading recalculation of dependent readings.
  Everything here is synchronous, I/O-free computation over caller-supplied
  values; persistence, clocks, and transport live outside.

KEY CONCEPTS IN THIS FILE (types.go):
  - Reading: One billing period for one meter (previous/current counter
    values plus the derived consumption and billed amount)
  - Typed IDs: UserID, MeterID, ReadingID prevent identifier mixups
  - ApproximatelyEqual: The single epsilon policy for "did this change"

DESIGN PRINCIPLES:
  1. Purity: No component performs I/O, blocking, or reads global state
  2. Precision: Money uses decimal.Decimal; meter quantities are float64
     compared only through the centralized epsilon helpers
  3. Explicit outcomes: Expected business branches (rollover confirmation,
     incoherent data) are typed errors, never panics

SEE ALSO:
  - tariff.go: Tiered pricing and schedule validation
  - rollover.go: Counter reset classification
  - cascade.go: Forward recalculation of dependent readings
*/
package billing

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type MeterID string
type ReadingID string

// =============================================================================
// READING - One billing period for one meter
// =============================================================================

// Reading records the meter counter at the end of a billing period together
// with the values derived from it. PreviousValue, Consumption, BilledAmount,
// IsRollover and UpdatedAt are the only fields mutated after creation, and
// only by a direct edit or the cascade recalculator.
type Reading struct {
	ID            ReadingID
	MeterID       MeterID
	AuthorID      UserID
	PeriodStart   time.Time
	PeriodEnd     time.Time
	PreviousValue float64
	CurrentValue  float64
	Consumption   float64
	BilledAmount  decimal.Decimal
	IsRollover    bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BilledAmountRounded is the presentation value: the billed amount rounded
// to the nearest whole currency unit. Rounding is always this explicit
// operation, never embedded in the pricing itself.
func (r Reading) BilledAmountRounded() int64 {
	return r.BilledAmount.Round(0).IntPart()
}

// =============================================================================
// EPSILON POLICY
// =============================================================================

// Epsilon is the tolerance below which two derived values are considered
// unchanged. Repeated float recomputation can drift by less than this;
// treating such drift as a change would bump UpdatedAt and spam the audit
// trail with no-op updates.
const Epsilon = 0.01

// ApproximatelyEqual reports whether a and b differ by at most Epsilon.
// Every "did this value actually change" decision in the engine goes
// through here or through AmountsApproximatelyEqual.
func ApproximatelyEqual(a, b float64) bool {
	return math.Abs(a-b) <= Epsilon
}

var amountEpsilon = decimal.NewFromFloat(Epsilon)

// AmountsApproximatelyEqual is the decimal twin of ApproximatelyEqual,
// used for billed amounts.
func AmountsApproximatelyEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(amountEpsilon)
}
