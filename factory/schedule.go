/*
Package factory provides JSON to tariff schedule conversion.

PURPOSE:
  Converts JSON schedule definitions into []billing.Tier and back. This
  enables tariff administration without code changes: the utility's
  published rate table can be typed up (or exported) as JSON, validated,
  and swapped in atomically.

JSON SCHEMA:
  {
    "name": "UNE residential 2024",
    "tiers": [
      {"lower_bound": 0,   "upper_bound": 100, "price_per_kwh": "0.40"},
      {"lower_bound": 100, "upper_bound": 150, "price_per_kwh": "1.30"},
      {"lower_bound": 500,                     "price_per_kwh": "25.00"}
    ]
  }

  A tier with no upper_bound is the final, unbounded tier. Prices are
  decimal strings so no precision is lost in transit.

KEY FEATURES:
  - Validates the parsed schedule with billing.ValidateTiers before
    returning it; a malformed schedule never leaves this package
  - Round-trips: ToJSON(FromJSON(x)) preserves the schedule

USAGE:
  f := factory.NewScheduleFactory()
  tiers, err := f.ParseSchedule(jsonString)

SEE ALSO:
  - billing/tariff.go: Tier type and validation rules
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wattline/billing-engine/billing"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ScheduleJSON is the JSON representation of a tariff schedule.
type ScheduleJSON struct {
	Name  string     `json:"name,omitempty"`
	Tiers []TierJSON `json:"tiers"`
}

// TierJSON is one band. UpperBound absent or null marks the unbounded
// final tier.
type TierJSON struct {
	ID          string          `json:"id,omitempty"`
	LowerBound  float64         `json:"lower_bound"`
	UpperBound  *float64        `json:"upper_bound,omitempty"`
	PricePerKWh decimal.Decimal `json:"price_per_kwh"`
}

// =============================================================================
// SCHEDULE FACTORY
// =============================================================================

// ScheduleFactory converts JSON schedules to billing tiers.
type ScheduleFactory struct{}

// NewScheduleFactory creates a new schedule factory.
func NewScheduleFactory() *ScheduleFactory {
	return &ScheduleFactory{}
}

// ParseSchedule parses and validates a JSON string into tiers.
func (f *ScheduleFactory) ParseSchedule(jsonStr string) ([]billing.Tier, error) {
	var sj ScheduleJSON
	if err := json.Unmarshal([]byte(jsonStr), &sj); err != nil {
		return nil, fmt.Errorf("failed to parse schedule JSON: %w", err)
	}
	return f.FromJSON(sj)
}

// FromJSON converts ScheduleJSON to validated tiers.
func (f *ScheduleFactory) FromJSON(sj ScheduleJSON) ([]billing.Tier, error) {
	tiers := make([]billing.Tier, 0, len(sj.Tiers))
	for _, tj := range sj.Tiers {
		tiers = append(tiers, billing.Tier{
			ID:           tj.ID,
			LowerBound:   tj.LowerBound,
			UpperBound:   tj.UpperBound,
			PricePerUnit: tj.PricePerKWh,
		})
	}

	if err := billing.ValidateTiers(tiers); err != nil {
		return nil, err
	}
	return tiers, nil
}

// ToJSON converts tiers to their JSON representation.
func (f *ScheduleFactory) ToJSON(name string, tiers []billing.Tier) ScheduleJSON {
	sj := ScheduleJSON{Name: name, Tiers: make([]TierJSON, 0, len(tiers))}
	for _, t := range tiers {
		sj.Tiers = append(sj.Tiers, TierJSON{
			ID:          t.ID,
			LowerBound:  t.LowerBound,
			UpperBound:  t.UpperBound,
			PricePerKWh: t.PricePerUnit,
		})
	}
	return sj
}

// MarshalSchedule renders tiers as indented JSON, for export.
func (f *ScheduleFactory) MarshalSchedule(name string, tiers []billing.Tier) (string, error) {
	out, err := json.MarshalIndent(f.ToJSON(name, tiers), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal schedule: %w", err)
	}
	return string(out), nil
}
