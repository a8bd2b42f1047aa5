/*
consistency.go - Retroactive insertion validation

Meter counters are monotonic absent a rollover, so a reading inserted
into the interior of an existing timeline is constrained by both
neighbors: smaller than the previous reading only if that gap is a
genuine rollover, and never larger than the next one. A reading with
no neighbors is unconstrained here.
*/
package billing

import "time"

// ValidateRetroactive checks newValue against its chronological
// neighbors before insertion. prev and next may be nil when the new
// reading lands at either end of the timeline.
//
// Against prev: a smaller value is accepted only when Detect classifies
// the transition as a genuine rollover; any other decrease fails.
// Against next: a value above the later reading always fails, since the
// later reading proves the counter never got that high.
func (d Detector) ValidateRetroactive(newValue float64, newDate time.Time, prev, next *Reading) error {
	if prev != nil && newValue < prev.CurrentValue {
		if res := d.Detect(prev.CurrentValue, newValue); !res.IsRollover {
			return &RetroactiveError{
				Value:         newValue,
				Date:          newDate,
				Neighbor:      "previous",
				NeighborValue: prev.CurrentValue,
			}
		}
	}

	if next != nil && newValue > next.CurrentValue {
		return &RetroactiveError{
			Value:         newValue,
			Date:          newDate,
			Neighbor:      "next",
			NeighborValue: next.CurrentValue,
		}
	}

	return nil
}
