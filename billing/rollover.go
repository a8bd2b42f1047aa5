/*
rollover.go - Meter rollover detection and resolution

PURPOSE:
  Household meters are finite counters. When one wraps past its maximum
  (or is replaced), the new reading is *lower* than the previous one.
  This file classifies every previous/current transition as normal
  consumption, a genuine rollover, or an anomaly that needs a human.

CLASSIFICATION:
  current >= previous            -> normal, consumption = current - previous
  current < previous, previous   -> rollover, consumption =
    near the counter maximum          (max - previous) + current
  current < previous otherwise   -> anomaly, consumption = 0

  "Near the maximum" means previous >= max * threshold fraction, with the
  comparison INCLUSIVE at the boundary. A counter that drops from halfway
  up its range did not wrap; that is a data-entry error, so the ambiguous
  case is surfaced for confirmation instead of silently resolved.

  Both non-normal classifications require confirmation: a rollover changes
  historical semantics even when the inference is confident, and an
  anomaly has no meaningful computed consumption at all.

USAGE:
  det := billing.NewDetector()
  res := det.Detect(99500, 150)          // inspect without committing
  c, roll, err := det.Resolve(99500, 150, confirmed)

SEE ALSO:
  - consistency.go: Reuses Detect for retroactive insertions
  - cascade.go: Reuses Resolve with the stored rollover flag as consent
*/
package billing

import "fmt"

// =============================================================================
// DETECTOR
// =============================================================================

// Counter geometry defaults for standard five-digit residential meters.
const (
	DefaultMeterMax          = 99999.9
	DefaultRolloverThreshold = 0.95
)

// Detector classifies meter value transitions. The zero value is not
// usable; construct with NewDetector or fill both fields.
type Detector struct {
	MeterMax          float64
	ThresholdFraction float64
}

// NewDetector returns a detector for a standard residential counter.
func NewDetector() Detector {
	return Detector{MeterMax: DefaultMeterMax, ThresholdFraction: DefaultRolloverThreshold}
}

// Detection is the transient result of classifying one transition.
// It is consumed immediately by the caller and never persisted.
type Detection struct {
	IsRollover           bool
	Consumption          float64
	RequiresConfirmation bool
	Message              string
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Detect classifies the transition from previous to current. Pure; it
// never fails, it only describes.
func (d Detector) Detect(previous, current float64) Detection {
	if current >= previous {
		return Detection{Consumption: current - previous}
	}

	// previous > current from here on.
	threshold := d.MeterMax * d.ThresholdFraction
	if previous >= threshold {
		consumption := (d.MeterMax - previous) + current
		return Detection{
			IsRollover:           true,
			Consumption:          consumption,
			RequiresConfirmation: true,
			Message: fmt.Sprintf("rollover detected: counter wrapped at %.1f (previous %.2f, current %.2f, implied consumption %.2f kWh)",
				d.MeterMax, previous, current, consumption),
		}
	}

	return Detection{
		RequiresConfirmation: true,
		Message: fmt.Sprintf("current reading %.2f is below previous %.2f but the counter was nowhere near its maximum; likely a data-entry error",
			current, previous),
	}
}

// Resolve wraps Detect with the confirmation contract. Unconfirmed
// rollovers fail with RolloverNotConfirmedError carrying the computed
// consumption; unconfirmed anomalies fail with IncoherentReadingError
// carrying both values. With confirm true the computed consumption and
// rollover flag are returned unconditionally: confirmation overrides
// the conservative default in both branches.
func (d Detector) Resolve(previous, current float64, confirm bool) (consumption float64, isRollover bool, err error) {
	res := d.Detect(previous, current)
	if res.RequiresConfirmation && !confirm {
		if res.IsRollover {
			return 0, false, &RolloverNotConfirmedError{Consumption: res.Consumption}
		}
		return 0, false, &IncoherentReadingError{Previous: previous, Current: current}
	}
	return res.Consumption, res.IsRollover, nil
}
