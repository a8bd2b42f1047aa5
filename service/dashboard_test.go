package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wattline/billing-engine/access"
	"github.com/wattline/billing-engine/auth"
	"github.com/wattline/billing-engine/billing"
	"github.com/wattline/billing-engine/service"
)

// seedTimeline inserts monthly readings Mar..Jun 2024 with consumption
// 100 each, the June one falling in the fixture's current month.
func seedTimeline(t *testing.T, f *fixture, owner auth.User, meter billing.MeterID) {
	t.Helper()
	value := 0.0
	for _, month := range []time.Month{time.March, time.April, time.May, time.June} {
		value += 100
		_, err := f.readings.Create(context.Background(), owner, service.CreateReadingInput{
			MeterID:     meter,
			PeriodStart: day(2024, month, 1), PeriodEnd: day(2024, month, 14),
			CurrentValue: value,
		})
		require.NoError(t, err)
	}
}

func TestDashboard_OverviewTotalsAndCurrentMonth(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser(t, "u1", "owner", auth.RoleUser)
	meter := f.seedMeter(t, "m1", owner.ID, "Home")
	seedTimeline(t, f, owner, meter.ID)

	overview, err := f.board.Overview(context.Background(), owner)
	require.NoError(t, err)

	require.Len(t, overview.Meters, 1)
	mo := overview.Meters[0]
	assert.Equal(t, 4, mo.ReadingCount)
	assert.Equal(t, 400.0, mo.TotalConsumption)
	assert.Equal(t, 100.0, mo.MonthConsumption) // only June counts
	require.NotNil(t, mo.LastReading)
	assert.Equal(t, 400.0, mo.LastReading.CurrentValue)

	// 100 kWh under the default schedule is exactly the first tier.
	assert.Equal(t, "40", mo.MonthAmount.String())
	assert.Equal(t, int64(40), overview.MonthAmountRounded)
}

func TestDashboard_SummaryAverage(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser(t, "u1", "owner", auth.RoleUser)
	meter := f.seedMeter(t, "m1", owner.ID, "Home")
	seedTimeline(t, f, owner, meter.ID)

	summary, err := f.board.Summary(context.Background(), owner, meter.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, summary.AverageConsumption)
}

func TestDashboard_ChartSeriesIsChronological(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser(t, "u1", "owner", auth.RoleUser)
	meter := f.seedMeter(t, "m1", owner.ID, "Home")
	seedTimeline(t, f, owner, meter.ID)

	series, err := f.board.Chart(context.Background(), owner, meter.ID, 3)
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-04-14", "2024-05-14", "2024-06-14"}, series.Labels)
	assert.Equal(t, []float64{100, 100, 100}, series.Consumptions)
	assert.Equal(t, []int64{40, 40, 40}, series.Amounts)
}

func TestDashboard_ComparisonAgainstPreviousYear(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser(t, "u1", "owner", auth.RoleUser)
	meter := f.seedMeter(t, "m1", owner.ID, "Home")
	ctx := context.Background()

	// One reading in 2023, two in 2024, all consumption 100.
	value := 0.0
	for _, end := range []time.Time{
		day(2023, time.May, 14), day(2024, time.April, 14), day(2024, time.May, 14),
	} {
		value += 100
		_, err := f.readings.Create(ctx, owner, service.CreateReadingInput{
			MeterID:     meter.ID,
			PeriodStart: end.AddDate(0, 0, -13), PeriodEnd: end,
			CurrentValue: value,
		})
		require.NoError(t, err)
	}

	cmp, err := f.board.Comparison(ctx, owner, meter.ID, 2024)
	require.NoError(t, err)
	assert.Equal(t, 200.0, cmp.Consumption)
	assert.Equal(t, 100.0, cmp.PreviousConsumption)
	assert.InDelta(t, 100.0, cmp.ConsumptionDeltaPct, 0.001)
}

func TestDashboard_StatsAdminOnly(t *testing.T) {
	f := newFixture(t)
	admin := f.seedUser(t, "a1", "boss", auth.RoleAdmin)
	user := f.seedUser(t, "u1", "owner", auth.RoleUser)
	f.seedMeter(t, "m1", user.ID, "Home")
	ctx := context.Background()

	_, err := f.board.Stats(ctx, user)
	assert.ErrorIs(t, err, access.ErrPermissionDenied)

	stats, err := f.board.Stats(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Users)
	assert.Equal(t, 1, stats.Meters)
}

func TestDashboard_StrangerCannotSeeMeterSummary(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser(t, "u1", "owner", auth.RoleUser)
	stranger := f.seedUser(t, "u2", "stranger", auth.RoleUser)
	meter := f.seedMeter(t, "m1", owner.ID, "Home")

	_, err := f.board.Summary(context.Background(), stranger, meter.ID)
	assert.ErrorIs(t, err, access.ErrPermissionDenied)
}
