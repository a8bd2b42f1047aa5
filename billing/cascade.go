/*
cascade.go - Forward recalculation of dependent readings ("domino effect")

PURPOSE:
  Every reading's previous value is the current value of the reading
  before it. Editing or deleting a historical reading therefore
  invalidates the derived fields of everything after it. This file
  re-derives previous value, consumption, rollover flag and billed
  amount along the chronological sequence, reporting exactly which
  readings changed.

CONTRACT:
  The input must be the complete chronological sequence for one meter
  (ascending by period end), or at least a contiguous prefix-anchored
  suffix of it; recalculating an arbitrary subset is invalid because
  each reading's correctness depends on its true predecessor. The
  caller must hold the sequence under one transaction boundary so no
  concurrent writer slips a reading in between load and persist.

FAILURE ABSORPTION:
  When a reading's transition no longer resolves (for example the edit
  made a non-rollover pair incoherent), its consumption and rollover
  flag are left untouched rather than overwritten with undefined
  values, and the walk continues. One bad historical record must not
  block correction of the rest.

OUTPUT:
  The input is never mutated. The caller receives a full updated copy
  of the sequence plus the changed subset in chronological order, and
  decides how to persist them.

SEE ALSO:
  - rollover.go: Resolve, reused with the stored flag as consent
  - tariff.go: Price, reused for repricing
*/
package billing

import "time"

// =============================================================================
// RECALCULATOR
// =============================================================================

// Recalculator re-derives reading fields along a meter's timeline.
type Recalculator struct {
	Detector Detector
}

// NewRecalculator returns a recalculator using the standard detector.
func NewRecalculator() Recalculator {
	return Recalculator{Detector: NewDetector()}
}

// Recalculate walks readings from max(fromIndex, 1) and corrects each
// entry's derived fields against its predecessor. It returns an updated
// copy of the whole sequence plus the entries that actually changed, in
// chronological order. Epsilon-sized drift does not count as a change.
//
// A reading's existing rollover flag is passed to Resolve as the
// confirmation input, so a previously accepted rollover stays accepted
// without re-prompting anyone.
func (rc Recalculator) Recalculate(readings []Reading, tiers []Tier, fromIndex int, now time.Time) (updated []Reading, changed []Reading) {
	updated = make([]Reading, len(readings))
	copy(updated, readings)

	start := fromIndex
	if start < 1 {
		start = 1 // index 0 has no predecessor to re-derive from
	}

	for i := start; i < len(updated); i++ {
		r := updated[i]
		prev := updated[i-1]
		dirty := false

		if r.PreviousValue != prev.CurrentValue {
			r.PreviousValue = prev.CurrentValue
			dirty = true
		}

		consumption, isRollover, err := rc.Detector.Resolve(r.PreviousValue, r.CurrentValue, r.IsRollover)
		if err != nil {
			// Unresolvable transition: keep the stored derived values.
			consumption = r.Consumption
			isRollover = r.IsRollover
		}

		if !ApproximatelyEqual(consumption, r.Consumption) {
			r.Consumption = consumption
			r.IsRollover = isRollover
			dirty = true
		}

		// Priced from the stored field, not the resolved value, so the
		// amount always matches the consumption actually kept.
		amount := Price(r.Consumption, tiers)
		if !AmountsApproximatelyEqual(amount, r.BilledAmount) {
			r.BilledAmount = amount
			dirty = true
		}

		if dirty {
			r.UpdatedAt = now
			updated[i] = r
			changed = append(changed, r)
		}
	}

	return updated, changed
}
