/*
tariff.go - Tiered tariff pricing and schedule validation

PURPOSE:
  Computes the cost of a consumption quantity under an ordered set of
  price tiers, the way residential electricity is billed: the first N
  kilowatt-hours at one rate, the next N at a higher rate, and so on,
  with the final tier open-ended.

KEY CONCEPTS:
  - Tier: [LowerBound, UpperBound) at PricePerUnit; UpperBound nil means
    unbounded, allowed only on the highest tier
  - Greedy walk: consumption fills tiers from the bottom up; each tier
    bills min(remaining, width) * price
  - Price never rounds; PriceRounded is the explicit presentation form

INVARIANTS (enforced by Validate):
  Tiers are non-overlapping, contiguous, start at 0, and exactly the
  highest tier is unbounded. Validate must run before any schedule
  replacement; a schedule is swapped atomically to avoid transient
  invalid states.

USAGE:
  total := billing.Price(550, billing.DefaultSchedule())
  lines := billing.Breakdown(550, billing.DefaultSchedule())
  if err := billing.ValidateTiers(customTiers); err != nil { ... }

SEE ALSO:
  - cascade.go: Reprices readings when a schedule or value changes
*/
package billing

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TIER
// =============================================================================

// Tier is one band of a tariff schedule. UpperBound nil marks the final,
// unbounded tier.
type Tier struct {
	ID           string
	LowerBound   float64
	UpperBound   *float64
	PricePerUnit decimal.Decimal
}

// Width returns the size of the band in consumption units.
// Unbounded tiers have no width; callers treat them as "all remaining".
func (t Tier) Width() (float64, bool) {
	if t.UpperBound == nil {
		return 0, false
	}
	return *t.UpperBound - t.LowerBound, true
}

// TierCharge is one line of an itemized bill.
type TierCharge struct {
	Tier     Tier
	Consumed float64
	Amount   decimal.Decimal
}

// =============================================================================
// PRICING
// =============================================================================

// Price returns the tiered cost of consumption under the given tiers.
// Returns zero for non-positive consumption or an empty tier set.
// Tiers are sorted defensively by lower bound; callers should already
// provide sorted input. No rounding is applied.
func Price(consumption float64, tiers []Tier) decimal.Decimal {
	if consumption <= 0 || len(tiers) == 0 {
		return decimal.Zero
	}

	total := decimal.Zero
	remaining := consumption
	for _, tier := range sortedByLowerBound(tiers) {
		if remaining <= 0 {
			break
		}
		consumed := remaining
		if width, bounded := tier.Width(); bounded && width < remaining {
			consumed = width
		}
		total = total.Add(decimal.NewFromFloat(consumed).Mul(tier.PricePerUnit))
		remaining -= consumed
	}
	return total
}

// PriceRounded returns Price rounded to the nearest whole currency unit.
// The separation is deliberate: billing math stays exact, rounding is a
// presentation decision made once, here.
func PriceRounded(consumption float64, tiers []Tier) int64 {
	return Price(consumption, tiers).Round(0).IntPart()
}

// Breakdown returns the per-tier contribution of a consumption quantity,
// in ascending tier order. Empty for non-positive consumption.
func Breakdown(consumption float64, tiers []Tier) []TierCharge {
	if consumption <= 0 || len(tiers) == 0 {
		return nil
	}

	var lines []TierCharge
	remaining := consumption
	for _, tier := range sortedByLowerBound(tiers) {
		if remaining <= 0 {
			break
		}
		consumed := remaining
		if width, bounded := tier.Width(); bounded && width < remaining {
			consumed = width
		}
		lines = append(lines, TierCharge{
			Tier:     tier,
			Consumed: consumed,
			Amount:   decimal.NewFromFloat(consumed).Mul(tier.PricePerUnit),
		})
		remaining -= consumed
	}
	return lines
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidateTiers checks that a tier set forms a well-formed schedule:
// non-empty, starting at 0, contiguous without gaps or overlaps, and
// unbounded exactly at the highest tier. Run this before every schedule
// replacement.
func ValidateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return &TariffValidationError{Reason: "no tiers defined"}
	}

	ordered := sortedByLowerBound(tiers)
	if ordered[0].LowerBound != 0 {
		return &TariffValidationError{Reason: "first tier must start at 0"}
	}

	for i := 0; i < len(ordered)-1; i++ {
		current, next := ordered[i], ordered[i+1]
		if current.UpperBound == nil {
			return &TariffValidationError{Reason: "only the last tier may be unbounded"}
		}
		if *current.UpperBound != next.LowerBound {
			return &TariffValidationError{Reason: fmt.Sprintf(
				"tiers are not contiguous: %.2f-%.2f followed by %.2f",
				current.LowerBound, *current.UpperBound, next.LowerBound)}
		}
	}

	if ordered[len(ordered)-1].UpperBound != nil {
		return &TariffValidationError{Reason: "last tier must be unbounded"}
	}
	return nil
}

func sortedByLowerBound(tiers []Tier) []Tier {
	ordered := make([]Tier, len(tiers))
	copy(ordered, tiers)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].LowerBound < ordered[j].LowerBound
	})
	return ordered
}

// =============================================================================
// DEFAULT SCHEDULE - UNE residential tariff
// =============================================================================

// DefaultSchedule returns the standard UNE residential schedule used to
// seed a fresh installation: ten tiers from 0.40 up to 25.00 per kWh,
// the last one unbounded above 500 kWh.
func DefaultSchedule() []Tier {
	bound := func(v float64) *float64 { return &v }
	price := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }
	return []Tier{
		{LowerBound: 0, UpperBound: bound(100), PricePerUnit: price("0.40")},
		{LowerBound: 100, UpperBound: bound(150), PricePerUnit: price("1.30")},
		{LowerBound: 150, UpperBound: bound(200), PricePerUnit: price("1.75")},
		{LowerBound: 200, UpperBound: bound(250), PricePerUnit: price("3.00")},
		{LowerBound: 250, UpperBound: bound(300), PricePerUnit: price("4.00")},
		{LowerBound: 300, UpperBound: bound(350), PricePerUnit: price("7.50")},
		{LowerBound: 350, UpperBound: bound(400), PricePerUnit: price("9.00")},
		{LowerBound: 400, UpperBound: bound(450), PricePerUnit: price("10.00")},
		{LowerBound: 450, UpperBound: bound(500), PricePerUnit: price("15.00")},
		{LowerBound: 500, UpperBound: nil, PricePerUnit: price("25.00")},
	}
}
