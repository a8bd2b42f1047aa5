/*
dashboard.go - Per-user and per-meter statistics

Read-only aggregation for the home screen: totals per accessible meter,
the running month, threshold alerts, chart series and year-over-year
comparison. Sums come from the store helpers that total decimal amounts
in Go, so displayed money matches billed money exactly.
*/
package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wattline/billing-engine/access"
	"github.com/wattline/billing-engine/auth"
	"github.com/wattline/billing-engine/billing"
	"github.com/wattline/billing-engine/store/sqlite"
)

// Dashboard serves the aggregated read models.
type Dashboard struct {
	store *sqlite.Store
	log   *zap.Logger
	now   func() time.Time
}

// NewDashboard wires the statistics queries.
func NewDashboard(store *sqlite.Store, log *zap.Logger) *Dashboard {
	return &Dashboard{store: store, log: log, now: defaultClock}
}

// WithClock replaces the service's time source and returns the same
// service.
func (s *Dashboard) WithClock(now func() time.Time) *Dashboard {
	s.now = now
	return s
}

// =============================================================================
// READ MODELS
// =============================================================================

// MeterOverview is one meter's card on the dashboard.
type MeterOverview struct {
	Meter            billing.Meter
	ReadingCount     int
	TotalConsumption float64
	TotalAmount      decimal.Decimal
	MonthConsumption float64
	MonthAmount      decimal.Decimal
	ThresholdAlert   bool
	LastReading      *billing.Reading
}

// Overview is the whole dashboard for one user.
type Overview struct {
	Meters             []MeterOverview
	ReadingCount       int
	MonthConsumption   float64
	MonthAmount        decimal.Decimal
	MonthAmountRounded int64
	AlertCount         int
}

// MeterSummary is the detail header for one meter.
type MeterSummary struct {
	Meter              MeterOverview
	AverageConsumption float64 // per reading, all time
}

// ChartSeries is the last-N-readings consumption chart.
type ChartSeries struct {
	Labels       []string // period end dates, chronological
	Consumptions []float64
	Amounts      []int64 // rounded, for display
}

// YearComparison holds two years of totals and the variation between
// them. Percent fields are zero when the earlier year has no data.
type YearComparison struct {
	Year                int
	PreviousYear        int
	Consumption         float64
	PreviousConsumption float64
	Amount              decimal.Decimal
	PreviousAmount      decimal.Decimal
	ConsumptionDeltaPct float64
}

// =============================================================================
// QUERIES
// =============================================================================

// Overview aggregates every meter the user can see.
func (s *Dashboard) Overview(ctx context.Context, user auth.User) (*Overview, error) {
	meters, err := s.store.ListAccessibleMeters(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	out := &Overview{MonthAmount: decimal.Zero}
	for _, meter := range meters {
		mo, err := s.meterOverview(ctx, meter)
		if err != nil {
			return nil, err
		}
		out.Meters = append(out.Meters, *mo)
		out.ReadingCount += mo.ReadingCount
		out.MonthConsumption += mo.MonthConsumption
		out.MonthAmount = out.MonthAmount.Add(mo.MonthAmount)
		if mo.ThresholdAlert {
			out.AlertCount++
		}
	}
	out.MonthAmountRounded = out.MonthAmount.Round(0).IntPart()
	return out, nil
}

// Summary returns one meter's totals, provided the user may see it.
func (s *Dashboard) Summary(ctx context.Context, user auth.User, meterID billing.MeterID) (*MeterSummary, error) {
	meter, _, err := meterAccess(ctx, s.store, user, meterID)
	if err != nil {
		return nil, err
	}

	mo, err := s.meterOverview(ctx, *meter)
	if err != nil {
		return nil, err
	}

	avg := 0.0
	if mo.ReadingCount > 0 {
		avg = mo.TotalConsumption / float64(mo.ReadingCount)
	}
	return &MeterSummary{Meter: *mo, AverageConsumption: avg}, nil
}

// Chart returns the last n readings as a plot-ready series.
func (s *Dashboard) Chart(ctx context.Context, user auth.User, meterID billing.MeterID, n int) (*ChartSeries, error) {
	if _, _, err := meterAccess(ctx, s.store, user, meterID); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 12
	}

	readings, err := s.store.LastReadings(ctx, meterID, n)
	if err != nil {
		return nil, err
	}

	series := &ChartSeries{}
	for _, r := range readings {
		series.Labels = append(series.Labels, r.PeriodEnd.Format("2006-01-02"))
		series.Consumptions = append(series.Consumptions, r.Consumption)
		series.Amounts = append(series.Amounts, r.BilledAmountRounded())
	}
	return series, nil
}

// Comparison compares a year against the one before it. Year 0 means
// the current year.
func (s *Dashboard) Comparison(ctx context.Context, user auth.User, meterID billing.MeterID, year int) (*YearComparison, error) {
	if _, _, err := meterAccess(ctx, s.store, user, meterID); err != nil {
		return nil, err
	}
	if year == 0 {
		year = s.now().Year()
	}

	current, currentAmount, err := s.yearTotals(ctx, meterID, year)
	if err != nil {
		return nil, err
	}
	previous, previousAmount, err := s.yearTotals(ctx, meterID, year-1)
	if err != nil {
		return nil, err
	}

	cmp := &YearComparison{
		Year:                year,
		PreviousYear:        year - 1,
		Consumption:         current,
		PreviousConsumption: previous,
		Amount:              currentAmount,
		PreviousAmount:      previousAmount,
	}
	if previous > 0 {
		cmp.ConsumptionDeltaPct = (current - previous) / previous * 100
	}
	return cmp, nil
}

// Stats returns the system-wide totals. Admin only.
func (s *Dashboard) Stats(ctx context.Context, actor auth.User) (sqlite.GlobalStats, error) {
	if !actor.IsAdmin() {
		return sqlite.GlobalStats{}, &access.PermissionDeniedError{
			Action: "view global statistics",
			Reason: "administrator role required",
		}
	}
	return s.store.GlobalStats(ctx)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Dashboard) meterOverview(ctx context.Context, meter billing.Meter) (*MeterOverview, error) {
	count, consumption, amount, err := s.store.ReadingTotals(ctx, meter.ID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	monthConsumption, monthAmount, err := s.store.MonthTotals(ctx, meter.ID, now.Year(), now.Month())
	if err != nil {
		return nil, err
	}

	last, err := s.store.LatestReading(ctx, meter.ID)
	if err != nil {
		return nil, err
	}

	return &MeterOverview{
		Meter:            meter,
		ReadingCount:     count,
		TotalConsumption: consumption,
		TotalAmount:      amount,
		MonthConsumption: monthConsumption,
		MonthAmount:      monthAmount,
		ThresholdAlert:   billing.ThresholdAlert(monthConsumption, meter.AlertThreshold),
		LastReading:      last,
	}, nil
}

func (s *Dashboard) yearTotals(ctx context.Context, meterID billing.MeterID, year int) (float64, decimal.Decimal, error) {
	readings, err := s.store.ListReadings(ctx, meterID, year)
	if err != nil {
		return 0, decimal.Zero, err
	}

	consumption := 0.0
	amount := decimal.Zero
	for _, r := range readings {
		consumption += r.Consumption
		amount = amount.Add(r.BilledAmount)
	}
	return consumption, amount, nil
}
