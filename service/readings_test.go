package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wattline/billing-engine/access"
	"github.com/wattline/billing-engine/billing"
	"github.com/wattline/billing-engine/service"
)

// =============================================================================
// CREATE
// =============================================================================

func TestReadings_CreateFirstReadingStartsAtZero(t *testing.T) {
	// GIVEN: A meter with no readings
	// WHEN: The first reading is registered with counter value 120
	// THEN: Previous value is 0 and consumption equals the counter value

	f := newFixture(t)
	owner := f.seedUser(t, "u1", "owner", "user")
	meter := f.seedMeter(t, "m1", owner.ID, "Home")

	result, err := f.readings.Create(context.Background(), owner, service.CreateReadingInput{
		MeterID:      meter.ID,
		PeriodStart:  day(2024, time.May, 1),
		PeriodEnd:    day(2024, time.May, 31),
		CurrentValue: 120,
	})
	require.NoError(t, err)

	assert.Equal(t, 0.0, result.Reading.PreviousValue)
	assert.Equal(t, 120.0, result.Reading.Consumption)
	assert.False(t, result.Reading.IsRollover)
	// 100 * 0.40 + 20 * 1.30 = 66
	assert.Equal(t, "66", result.Reading.BilledAmount.String())
}

func TestReadings_CreateChainsFromPreviousReading(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser(t, "u1", "owner", "user")
	meter := f.seedMeter(t, "m1", owner.ID, "Home")

	_, err := f.readings.Create(context.Background(), owner, service.CreateReadingInput{
		MeterID: meter.ID, PeriodStart: day(2024, time.April, 1), PeriodEnd: day(2024, time.April, 30),
		CurrentValue: 100,
	})
	require.NoError(t, err)

	result, err := f.readings.Create(context.Background(), owner, service.CreateReadingInput{
		MeterID: meter.ID, PeriodStart: day(2024, time.May, 1), PeriodEnd: day(2024, time.May, 31),
		CurrentValue: 250,
	})
	require.NoError(t, err)

	assert.Equal(t, 100.0, result.Reading.PreviousValue)
	assert.Equal(t, 150.0, result.Reading.Consumption)
}

func TestReadings_CreateDuplicatePeriodRejected(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser(t, "u1", "owner", "user")
	meter := f.seedMeter(t, "m1", owner.ID, "Home")

	in := service.CreateReadingInput{
		MeterID: meter.ID, PeriodStart: day(2024, time.May, 1), PeriodEnd: day(2024, time.May, 31),
		CurrentValue: 100,
	}
	_, err := f.readings.Create(context.Background(), owner, in)
	require.NoError(t, err)

	in.CurrentValue = 150
	_, err = f.readings.Create(context.Background(), owner, in)
	assert.ErrorIs(t, err, billing.ErrDuplicatePeriod)
}

func TestReadings_CreateFutureDateRejected(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser(t, "u1", "owner", "user")
	meter := f.seedMeter(t, "m1", owner.ID, "Home")

	_, err := f.readings.Create(context.Background(), owner, service.CreateReadingInput{
		MeterID: meter.ID, PeriodStart: day(2024, time.June, 1), PeriodEnd: day(2024, time.July, 31),
		CurrentValue: 100,
	})
	assert.ErrorIs(t, err, billing.ErrFutureDate)
}

func TestReadings_CreateStrangerDenied(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser(t, "u1", "owner", "user")
	stranger := f.seedUser(t, "u2", "stranger", "user")
	meter := f.seedMeter(t, "m1", owner.ID, "Home")

	_, err := f.readings.Create(context.Background(), stranger, service.CreateReadingInput{
		MeterID: meter.ID, PeriodStart: day(2024, time.May, 1), PeriodEnd: day(2024, time.May, 31),
		CurrentValue: 100,
	})
	assert.ErrorIs(t, err, access.ErrPermissionDenied)
}

// =============================================================================
// ROLLOVER FLOW
// =============================================================================

func TestReadings_RolloverNeedsConfirmationThenAccepted(t *testing.T) {
	// GIVEN: The previous reading is near the counter maximum
	// WHEN: A lower value arrives unconfirmed, then confirmed
	// THEN: First call fails with the computed consumption; second persists a rollover

	f := newFixture(t)
	owner := f.seedUser(t, "u1", "owner", "user")
	meter := f.seedMeter(t, "m1", owner.ID, "Home")

	_, err := f.readings.Create(context.Background(), owner, service.CreateReadingInput{
		MeterID: meter.ID, PeriodStart: day(2024, time.April, 1), PeriodEnd: day(2024, time.April, 30),
		CurrentValue: 99500,
	})
	require.NoError(t, err)

	in := service.CreateReadingInput{
		MeterID: meter.ID, PeriodStart: day(2024, time.May, 1), PeriodEnd: day(2024, time.May, 31),
		CurrentValue: 150,
	}
	_, err = f.readings.Create(context.Background(), owner, in)
	require.Error(t, err)
	var notConfirmed *billing.RolloverNotConfirmedError
	require.ErrorAs(t, err, &notConfirmed)
	assert.InDelta(t, 649.9, notConfirmed.Consumption, 0.01)

	in.ConfirmRollover = true
	result, err := f.readings.Create(context.Background(), owner, in)
	require.NoError(t, err)
	assert.True(t, result.Reading.IsRollover)
	assert.InDelta(t, 649.9, result.Reading.Consumption, 0.01)
}

func TestReadings_PreviewCarriesFiguresWithConfirmationError(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser(t, "u1", "owner", "user")
	meter := f.seedMeter(t, "m1", owner.ID, "Home")

	_, err := f.readings.Create(context.Background(), owner, service.CreateReadingInput{
		MeterID: meter.ID, PeriodStart: day(2024, time.April, 1), PeriodEnd: day(2024, time.April, 30),
		CurrentValue: 99500,
	})
	require.NoError(t, err)

	preview, err := f.readings.PreviewReading(context.Background(), owner, meter.ID,
		day(2024, time.May, 31), 150, false)
	assert.ErrorIs(t, err, billing.ErrRolloverNotConfirmed)
	require.NotNil(t, preview)
	assert.True(t, preview.RequiresConfirmation)
	assert.True(t, preview.IsRollover)
	assert.InDelta(t, 649.9, preview.Consumption, 0.01)
}

func TestReadings_PreviewPricesAndItemizes(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser(t, "u1", "owner", "user")
	meter := f.seedMeter(t, "m1", owner.ID, "Home")

	preview, err := f.readings.PreviewReading(context.Background(), owner, meter.ID,
		day(2024, time.May, 31), 550, false)
	require.NoError(t, err)

	assert.Equal(t, 550.0, preview.Consumption)
	assert.Equal(t, "3867.5", preview.Amount.String())
	assert.Equal(t, int64(3868), preview.AmountRounded)
	assert.Len(t, preview.Breakdown, 10)
}

// =============================================================================
// UPDATE AND CASCADE
// =============================================================================

func TestReadings_UpdatePropagatesToLaterReadings(t *testing.T) {
	// GIVEN: Three chained monthly readings 100 / 250 / 400
	// WHEN: The first counter value is corrected to 120
	// THEN: The second reading re-derives from 120; stored rows reflect it

	f := newFixture(t)
	owner := f.seedUser(t, "u1", "owner", "user")
	meter := f.seedMeter(t, "m1", owner.ID, "Home")
	ctx := context.Background()

	values := []struct {
		month time.Month
		value float64
	}{{time.March, 100}, {time.April, 250}, {time.May, 400}}
	var ids []billing.ReadingID
	for _, v := range values {
		res, err := f.readings.Create(ctx, owner, service.CreateReadingInput{
			MeterID:     meter.ID,
			PeriodStart: day(2024, v.month, 1), PeriodEnd: day(2024, v.month, 28),
			CurrentValue: v.value,
		})
		require.NoError(t, err)
		ids = append(ids, res.Reading.ID)
	}

	result, err := f.readings.Update(ctx, owner, ids[0], 120, false)
	require.NoError(t, err)
	assert.Equal(t, 120.0, result.Reading.CurrentValue)
	assert.Equal(t, 1, result.CascadeUpdated)

	second, err := f.store.GetReading(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, 120.0, second.PreviousValue)
	assert.Equal(t, 130.0, second.Consumption)

	third, err := f.store.GetReading(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, 250.0, third.PreviousValue)
	assert.Equal(t, 150.0, third.Consumption)
}

func TestReadings_UpdateByLinkedAuthorInsideWindow(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser(t, "u1", "owner", "user")
	linked := f.seedUser(t, "u2", "linked", "user")
	meter := f.seedMeter(t, "m1", owner.ID, "Home")
	f.link(t, linked.ID, meter.ID)
	ctx := context.Background()

	res, err := f.readings.Create(ctx, linked, service.CreateReadingInput{
		MeterID: meter.ID, PeriodStart: day(2024, time.May, 1), PeriodEnd: day(2024, time.May, 31),
		CurrentValue: 100,
	})
	require.NoError(t, err)

	// Authored it minutes ago: allowed.
	_, err = f.readings.Update(ctx, linked, res.Reading.ID, 110, false)
	assert.NoError(t, err)
}

func TestReadings_DeleteByLinkedUserDenied(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser(t, "u1", "owner", "user")
	linked := f.seedUser(t, "u2", "linked", "user")
	meter := f.seedMeter(t, "m1", owner.ID, "Home")
	f.link(t, linked.ID, meter.ID)
	ctx := context.Background()

	res, err := f.readings.Create(ctx, linked, service.CreateReadingInput{
		MeterID: meter.ID, PeriodStart: day(2024, time.May, 1), PeriodEnd: day(2024, time.May, 31),
		CurrentValue: 100,
	})
	require.NoError(t, err)

	// Even their own reading: linked users never delete.
	_, err = f.readings.Delete(ctx, linked, res.Reading.ID)
	assert.ErrorIs(t, err, access.ErrPermissionDenied)

	_, err = f.readings.Delete(ctx, owner, res.Reading.ID)
	assert.NoError(t, err)
}

func TestReadings_DeleteMiddleRechainsTheRest(t *testing.T) {
	// GIVEN: Readings 100 / 250 / 400
	// WHEN: The middle one is deleted
	// THEN: The last re-derives from 100 (consumption 300)

	f := newFixture(t)
	owner := f.seedUser(t, "u1", "owner", "user")
	meter := f.seedMeter(t, "m1", owner.ID, "Home")
	ctx := context.Background()

	var ids []billing.ReadingID
	for _, v := range []struct {
		month time.Month
		value float64
	}{{time.March, 100}, {time.April, 250}, {time.May, 400}} {
		res, err := f.readings.Create(ctx, owner, service.CreateReadingInput{
			MeterID:     meter.ID,
			PeriodStart: day(2024, v.month, 1), PeriodEnd: day(2024, v.month, 28),
			CurrentValue: v.value,
		})
		require.NoError(t, err)
		ids = append(ids, res.Reading.ID)
	}

	cascaded, err := f.readings.Delete(ctx, owner, ids[1])
	require.NoError(t, err)
	assert.Equal(t, 1, cascaded)

	last, err := f.store.GetReading(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, 100.0, last.PreviousValue)
	assert.Equal(t, 300.0, last.Consumption)
}

// =============================================================================
// RETROACTIVE INSERTION
// =============================================================================

func TestReadings_RetroactiveAboveNextRejected(t *testing.T) {
	// GIVEN: An existing reading of 250 at end of May
	// WHEN: An April reading of 300 is inserted before it
	// THEN: Rejected, a later smaller value cannot follow it

	f := newFixture(t)
	owner := f.seedUser(t, "u1", "owner", "user")
	meter := f.seedMeter(t, "m1", owner.ID, "Home")
	ctx := context.Background()

	_, err := f.readings.Create(ctx, owner, service.CreateReadingInput{
		MeterID: meter.ID, PeriodStart: day(2024, time.May, 1), PeriodEnd: day(2024, time.May, 31),
		CurrentValue: 250,
	})
	require.NoError(t, err)

	_, err = f.readings.Create(ctx, owner, service.CreateReadingInput{
		MeterID: meter.ID, PeriodStart: day(2024, time.April, 1), PeriodEnd: day(2024, time.April, 30),
		CurrentValue: 300,
	})
	assert.ErrorIs(t, err, billing.ErrRetroactiveConflict)
}

func TestReadings_RetroactiveInteriorInsertCascades(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser(t, "u1", "owner", "user")
	meter := f.seedMeter(t, "m1", owner.ID, "Home")
	ctx := context.Background()

	_, err := f.readings.Create(ctx, owner, service.CreateReadingInput{
		MeterID: meter.ID, PeriodStart: day(2024, time.March, 1), PeriodEnd: day(2024, time.March, 31),
		CurrentValue: 100,
	})
	require.NoError(t, err)
	mayRes, err := f.readings.Create(ctx, owner, service.CreateReadingInput{
		MeterID: meter.ID, PeriodStart: day(2024, time.May, 1), PeriodEnd: day(2024, time.May, 31),
		CurrentValue: 400,
	})
	require.NoError(t, err)

	// Insert April in between; May must re-derive from it.
	res, err := f.readings.Create(ctx, owner, service.CreateReadingInput{
		MeterID: meter.ID, PeriodStart: day(2024, time.April, 1), PeriodEnd: day(2024, time.April, 30),
		CurrentValue: 250,
	})
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Reading.PreviousValue)
	assert.Equal(t, 1, res.CascadeUpdated)

	may, err := f.store.GetReading(ctx, mayRes.Reading.ID)
	require.NoError(t, err)
	assert.Equal(t, 250.0, may.PreviousValue)
	assert.Equal(t, 150.0, may.Consumption)
}

// =============================================================================
// THRESHOLD ALERT
// =============================================================================

func TestReadings_ThresholdAlertOnCreate(t *testing.T) {
	f := newFixture(t)
	owner := f.seedUser(t, "u1", "owner", "user")
	threshold := 100.0
	m := billing.Meter{
		ID: "m1", OwnerID: owner.ID, Label: "Home",
		AlertThreshold: &threshold, CreatedAt: fixedNow,
	}
	require.NoError(t, f.store.SaveMeter(context.Background(), m))

	result, err := f.readings.Create(context.Background(), owner, service.CreateReadingInput{
		MeterID: m.ID, PeriodStart: day(2024, time.May, 1), PeriodEnd: day(2024, time.May, 31),
		CurrentValue: 150,
	})
	require.NoError(t, err)
	assert.True(t, result.ThresholdAlert)
}
