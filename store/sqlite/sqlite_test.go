package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wattline/billing-engine/auth"
	"github.com/wattline/billing-engine/billing"
	"github.com/wattline/billing-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var storeNow = time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedUser(t *testing.T, store *sqlite.Store, id, username string) auth.User {
	u := auth.User{
		ID:           billing.UserID(id),
		Name:         "User " + username,
		Username:     username,
		PasswordHash: "hash-" + username,
		Role:         auth.RoleUser,
		Status:       auth.StatusActive,
		CreatedAt:    storeNow,
	}
	require.NoError(t, store.SaveUser(context.Background(), u))
	return u
}

func seedMeter(t *testing.T, store *sqlite.Store, id string, owner billing.UserID, label string) billing.Meter {
	m := billing.Meter{
		ID:        billing.MeterID(id),
		OwnerID:   owner,
		Label:     label,
		CreatedAt: storeNow,
	}
	require.NoError(t, store.SaveMeter(context.Background(), m))
	return m
}

// testReading builds a consistent one-month reading whose billed amount
// matches its consumption under the default schedule.
func testReading(id string, meterID billing.MeterID, year int, month time.Month, previous, current float64) billing.Reading {
	consumption := current - previous
	return billing.Reading{
		ID:            billing.ReadingID(id),
		MeterID:       meterID,
		AuthorID:      "user-1",
		PeriodStart:   time.Date(year, month, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:     time.Date(year, month, 28, 0, 0, 0, 0, time.UTC),
		PreviousValue: previous,
		CurrentValue:  current,
		Consumption:   consumption,
		BilledAmount:  billing.Price(consumption, billing.DefaultSchedule()),
		CreatedAt:     storeNow,
		UpdatedAt:     storeNow,
	}
}

// =============================================================================
// USER TESTS
// =============================================================================

func TestStore_UserRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := auth.User{
		ID:                 "user-1",
		Name:               "Maria",
		Username:           "maria",
		PasswordHash:       "bcrypt-hash",
		Role:               auth.RoleAdmin,
		Status:             auth.StatusActive,
		MustChangePassword: true,
		CreatedAt:          storeNow,
	}
	require.NoError(t, store.SaveUser(ctx, u))

	got, err := store.GetUser(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.Username, got.Username)
	assert.Equal(t, auth.RoleAdmin, got.Role)
	assert.True(t, got.MustChangePassword)
	assert.True(t, got.CreatedAt.Equal(storeNow))

	byName, err := store.GetUserByUsername(ctx, "maria")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, u.ID, byName.ID)
}

func TestStore_GetUser_Absent(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetUser(context.Background(), "nobody")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_DuplicateUsername_Rejected(t *testing.T) {
	// GIVEN: A user named "maria"
	// WHEN: Saving a second user with the same username
	// THEN: The unique index surfaces as auth.ErrUserExists

	store := newTestStore(t)
	seedUser(t, store, "user-1", "maria")

	err := store.SaveUser(context.Background(), auth.User{
		ID: "user-2", Name: "Other", Username: "maria",
		PasswordHash: "h", Role: auth.RoleUser, Status: auth.StatusActive,
		CreatedAt: storeNow,
	})
	assert.ErrorIs(t, err, auth.ErrUserExists)
}

func TestStore_UpdatePassword(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "user-1", "maria")

	require.NoError(t, store.UpdatePassword(ctx, "user-1", "new-hash", true))

	got, err := store.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)
	assert.True(t, got.MustChangePassword)
}

func TestStore_SetUserStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "user-1", "maria")

	require.NoError(t, store.SetUserStatus(ctx, "user-1", auth.StatusInactive))

	got, err := store.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, auth.StatusInactive, got.Status)
}

// =============================================================================
// METER TESTS
// =============================================================================

func TestStore_DuplicateLabel_SameOwnerRejected(t *testing.T) {
	// GIVEN: An owner with a meter labeled "House"
	// WHEN: The same owner registers another "House", and a second user does too
	// THEN: The owner's duplicate fails, the other user's succeeds

	store := newTestStore(t)
	ctx := context.Background()
	owner := seedUser(t, store, "user-1", "maria")
	other := seedUser(t, store, "user-2", "pedro")
	seedMeter(t, store, "meter-1", owner.ID, "House")

	err := store.SaveMeter(ctx, billing.Meter{
		ID: "meter-2", OwnerID: owner.ID, Label: "House", CreatedAt: storeNow,
	})
	assert.ErrorIs(t, err, billing.ErrDuplicateLabel)

	err = store.SaveMeter(ctx, billing.Meter{
		ID: "meter-3", OwnerID: other.ID, Label: "House", CreatedAt: storeNow,
	})
	assert.NoError(t, err, "the label namespace is per owner")
}

func TestStore_MeterRoundTrip_Threshold(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	owner := seedUser(t, store, "user-1", "maria")

	threshold := 250.0
	require.NoError(t, store.SaveMeter(ctx, billing.Meter{
		ID: "meter-1", OwnerID: owner.ID, Label: "House",
		SerialNumber: "A-7741", AlertThreshold: &threshold, CreatedAt: storeNow,
	}))

	got, err := store.GetMeter(ctx, "meter-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "A-7741", got.SerialNumber)
	require.NotNil(t, got.AlertThreshold)
	assert.Equal(t, 250.0, *got.AlertThreshold)

	// Clearing the threshold persists as NULL, read back as nil.
	got.AlertThreshold = nil
	require.NoError(t, store.UpdateMeter(ctx, *got))
	got, err = store.GetMeter(ctx, "meter-1")
	require.NoError(t, err)
	assert.Nil(t, got.AlertThreshold)
}

func TestStore_AccessibleMeters_OwnPlusLinked(t *testing.T) {
	// GIVEN: maria owns two meters, pedro owns one and links maria to it
	// WHEN: Listing maria's accessible meters
	// THEN: All three appear, ordered by label

	store := newTestStore(t)
	ctx := context.Background()
	maria := seedUser(t, store, "user-1", "maria")
	pedro := seedUser(t, store, "user-2", "pedro")
	seedMeter(t, store, "meter-1", maria.ID, "B own")
	seedMeter(t, store, "meter-2", maria.ID, "C own")
	shared := seedMeter(t, store, "meter-3", pedro.ID, "A shared")

	require.NoError(t, store.SaveLink(ctx, billing.MeterLink{
		UserID: maria.ID, MeterID: shared.ID, CreatedAt: storeNow,
	}))

	meters, err := store.ListAccessibleMeters(ctx, maria.ID)
	require.NoError(t, err)
	require.Len(t, meters, 3)
	assert.Equal(t, "A shared", meters[0].Label)
	assert.Equal(t, "B own", meters[1].Label)
	assert.Equal(t, "C own", meters[2].Label)

	owned, err := store.ListMetersByOwner(ctx, maria.ID)
	require.NoError(t, err)
	assert.Len(t, owned, 2)
}

func TestStore_DuplicateLink_Rejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	maria := seedUser(t, store, "user-1", "maria")
	pedro := seedUser(t, store, "user-2", "pedro")
	m := seedMeter(t, store, "meter-1", pedro.ID, "House")

	link := billing.MeterLink{UserID: maria.ID, MeterID: m.ID, CreatedAt: storeNow}
	require.NoError(t, store.SaveLink(ctx, link))

	err := store.SaveLink(ctx, link)
	assert.ErrorIs(t, err, billing.ErrDuplicateLink)

	linked, err := store.IsLinked(ctx, maria.ID, m.ID)
	require.NoError(t, err)
	assert.True(t, linked)

	require.NoError(t, store.DeleteLink(ctx, m.ID, maria.ID))
	linked, err = store.IsLinked(ctx, maria.ID, m.ID)
	require.NoError(t, err)
	assert.False(t, linked)
}

func TestStore_DeleteMeter_CascadesReadingsAndLinks(t *testing.T) {
	// GIVEN: A meter with readings and a linked user
	// WHEN: The meter is deleted
	// THEN: Its readings and links are removed with it

	store := newTestStore(t)
	ctx := context.Background()
	maria := seedUser(t, store, "user-1", "maria")
	pedro := seedUser(t, store, "user-2", "pedro")
	m := seedMeter(t, store, "meter-1", maria.ID, "House")

	require.NoError(t, store.SaveReading(ctx, testReading("r-1", m.ID, 2024, time.January, 1000, 1150)))
	require.NoError(t, store.SaveLink(ctx, billing.MeterLink{UserID: pedro.ID, MeterID: m.ID, CreatedAt: storeNow}))

	require.NoError(t, store.DeleteMeter(ctx, m.ID))

	got, err := store.GetMeter(ctx, m.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	reading, err := store.GetReading(ctx, "r-1")
	require.NoError(t, err)
	assert.Nil(t, reading, "readings go with their meter")

	linked, err := store.IsLinked(ctx, pedro.ID, m.ID)
	require.NoError(t, err)
	assert.False(t, linked, "links go with their meter")
}

func TestStore_TransferMeters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	maria := seedUser(t, store, "user-1", "maria")
	admin := seedUser(t, store, "admin-1", "admin")
	seedMeter(t, store, "meter-1", maria.ID, "House")
	seedMeter(t, store, "meter-2", maria.ID, "Garage")

	moved, err := store.TransferMeters(ctx, maria.ID, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	owned, err := store.ListMetersByOwner(ctx, admin.ID)
	require.NoError(t, err)
	assert.Len(t, owned, 2)
}

// =============================================================================
// TARIFF TESTS
// =============================================================================

func TestStore_SeedDefaults(t *testing.T) {
	// GIVEN: A fresh database
	// WHEN: Seeding with an admin user and the default schedule
	// THEN: Both land; a second call changes nothing

	store := newTestStore(t)
	ctx := context.Background()

	admin := auth.User{
		ID: "admin-1", Name: "Administrator", Username: "admin",
		PasswordHash: "h", Role: auth.RoleAdmin, Status: auth.StatusActive,
		MustChangePassword: true, CreatedAt: storeNow,
	}

	created, err := store.SeedDefaults(ctx, admin, billing.DefaultSchedule())
	require.NoError(t, err)
	assert.True(t, created)

	tiers, err := store.ListTariffs(ctx)
	require.NoError(t, err)
	require.Len(t, tiers, 10)
	assert.Equal(t, 0.0, tiers[0].LowerBound)
	assert.True(t, tiers[0].PricePerUnit.Equal(decimal.RequireFromString("0.40")))
	assert.Nil(t, tiers[9].UpperBound, "final tier stays unbounded")

	got, err := store.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.MustChangePassword)

	created, err = store.SeedDefaults(ctx, admin, billing.DefaultSchedule())
	require.NoError(t, err)
	assert.False(t, created, "seeding is idempotent")
}

func TestStore_ReplaceTariffs_Swaps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceTariffs(ctx, billing.DefaultSchedule()))

	flat := []billing.Tier{
		{LowerBound: 0, UpperBound: nil, PricePerUnit: decimal.RequireFromString("2.00")},
	}
	require.NoError(t, store.ReplaceTariffs(ctx, flat))

	tiers, err := store.ListTariffs(ctx)
	require.NoError(t, err)
	require.Len(t, tiers, 1)
	assert.True(t, tiers[0].PricePerUnit.Equal(decimal.RequireFromString("2.00")))
}

// =============================================================================
// READING TESTS
// =============================================================================

func TestStore_ReadingRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	maria := seedUser(t, store, "user-1", "maria")
	m := seedMeter(t, store, "meter-1", maria.ID, "House")

	r := testReading("r-1", m.ID, 2024, time.January, 99500, 150)
	r.Consumption = 649.9
	r.BilledAmount = billing.Price(649.9, billing.DefaultSchedule())
	r.IsRollover = true
	require.NoError(t, store.SaveReading(ctx, r))

	got, err := store.GetReading(ctx, "r-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsRollover)
	assert.Equal(t, 99500.0, got.PreviousValue)
	assert.Equal(t, 649.9, got.Consumption)
	assert.True(t, got.BilledAmount.Equal(r.BilledAmount))
	assert.True(t, got.PeriodStart.Equal(r.PeriodStart))
	assert.True(t, got.PeriodEnd.Equal(r.PeriodEnd))
	assert.True(t, got.CreatedAt.Equal(storeNow))
}

func TestStore_DuplicatePeriod_Rejected(t *testing.T) {
	// GIVEN: A meter with a reading for January
	// WHEN: Saving another January reading for the same meter, and one
	//       for a different meter
	// THEN: The same-meter duplicate fails, the other meter succeeds

	store := newTestStore(t)
	ctx := context.Background()
	maria := seedUser(t, store, "user-1", "maria")
	m1 := seedMeter(t, store, "meter-1", maria.ID, "House")
	m2 := seedMeter(t, store, "meter-2", maria.ID, "Garage")

	require.NoError(t, store.SaveReading(ctx, testReading("r-1", m1.ID, 2024, time.January, 1000, 1150)))

	err := store.SaveReading(ctx, testReading("r-2", m1.ID, 2024, time.January, 1150, 1300))
	assert.ErrorIs(t, err, billing.ErrDuplicatePeriod)

	err = store.SaveReading(ctx, testReading("r-3", m2.ID, 2024, time.January, 500, 600))
	assert.NoError(t, err, "periods are unique per meter, not globally")
}

func TestStore_PeriodExists_ExcludesSelf(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	maria := seedUser(t, store, "user-1", "maria")
	m := seedMeter(t, store, "meter-1", maria.ID, "House")

	r := testReading("r-1", m.ID, 2024, time.January, 1000, 1150)
	require.NoError(t, store.SaveReading(ctx, r))

	exists, err := store.PeriodExists(ctx, m.ID, r.PeriodStart, r.PeriodEnd, "")
	require.NoError(t, err)
	assert.True(t, exists)

	// An update of r-1 itself must not collide with its own row.
	exists, err = store.PeriodExists(ctx, m.ID, r.PeriodStart, r.PeriodEnd, r.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_ReadingNeighbors(t *testing.T) {
	// GIVEN: January, February and March readings
	// WHEN: Asking for the neighbors around February's period end
	// THEN: Previous is January, next is March, both strict

	store := newTestStore(t)
	ctx := context.Background()
	maria := seedUser(t, store, "user-1", "maria")
	m := seedMeter(t, store, "meter-1", maria.ID, "House")

	jan := testReading("r-jan", m.ID, 2024, time.January, 1000, 1100)
	feb := testReading("r-feb", m.ID, 2024, time.February, 1100, 1250)
	mar := testReading("r-mar", m.ID, 2024, time.March, 1250, 1500)
	for _, r := range []billing.Reading{mar, jan, feb} { // insertion order is irrelevant
		require.NoError(t, store.SaveReading(ctx, r))
	}

	prev, err := store.PreviousReading(ctx, m.ID, feb.PeriodEnd)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, jan.ID, prev.ID)

	next, err := store.NextReading(ctx, m.ID, feb.PeriodEnd)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, mar.ID, next.ID)

	latest, err := store.LatestReading(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, mar.ID, latest.ID)

	// No reading ends before January's.
	prev, err = store.PreviousReading(ctx, m.ID, jan.PeriodEnd)
	require.NoError(t, err)
	assert.Nil(t, prev)

	all, err := store.ListReadings(ctx, m.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, jan.ID, all[0].ID)
	assert.Equal(t, mar.ID, all[2].ID)
}

func TestStore_ListReadings_YearFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	maria := seedUser(t, store, "user-1", "maria")
	m := seedMeter(t, store, "meter-1", maria.ID, "House")

	require.NoError(t, store.SaveReading(ctx, testReading("r-1", m.ID, 2023, time.December, 900, 1000)))
	require.NoError(t, store.SaveReading(ctx, testReading("r-2", m.ID, 2024, time.January, 1000, 1100)))

	only2024, err := store.ListReadings(ctx, m.ID, 2024)
	require.NoError(t, err)
	require.Len(t, only2024, 1)
	assert.Equal(t, billing.ReadingID("r-2"), only2024[0].ID)

	years, err := store.YearsWithData(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{2024, 2023}, years)
}

func TestStore_LastReadings_ChronologicalTail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	maria := seedUser(t, store, "user-1", "maria")
	m := seedMeter(t, store, "meter-1", maria.ID, "House")

	for i, month := range []time.Month{time.January, time.February, time.March, time.April} {
		base := 1000 + float64(i)*100
		r := testReading("r-"+month.String(), m.ID, 2024, month, base, base+100)
		require.NoError(t, store.SaveReading(ctx, r))
	}

	last, err := store.LastReadings(ctx, m.ID, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, billing.ReadingID("r-March"), last[0].ID, "oldest of the tail comes first")
	assert.Equal(t, billing.ReadingID("r-April"), last[1].ID)
}

func TestStore_MonthTotals(t *testing.T) {
	// GIVEN: Two meters with readings in May 2024
	// WHEN: Totaling one meter's May
	// THEN: Only that meter's consumption and amount are summed, in decimal

	store := newTestStore(t)
	ctx := context.Background()
	maria := seedUser(t, store, "user-1", "maria")
	m1 := seedMeter(t, store, "meter-1", maria.ID, "House")
	m2 := seedMeter(t, store, "meter-2", maria.ID, "Garage")

	require.NoError(t, store.SaveReading(ctx, testReading("r-1", m1.ID, 2024, time.May, 1000, 1100)))  // 100 kWh -> 40
	require.NoError(t, store.SaveReading(ctx, testReading("r-2", m1.ID, 2024, time.April, 900, 1000))) // other month
	require.NoError(t, store.SaveReading(ctx, testReading("r-3", m2.ID, 2024, time.May, 0, 150)))      // other meter

	consumption, amount, err := store.MonthTotals(ctx, m1.ID, 2024, time.May)
	require.NoError(t, err)
	assert.Equal(t, 100.0, consumption)
	assert.True(t, amount.Equal(decimal.RequireFromString("40")), "got %s", amount)

	count, total, totalAmount, err := store.ReadingTotals(ctx, m1.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 200.0, total)
	assert.True(t, totalAmount.Equal(decimal.RequireFromString("80")))
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A callback that saves a reading and then fails
	// WHEN: WithTx returns the error
	// THEN: The reading never becomes visible

	store := newTestStore(t)
	ctx := context.Background()
	maria := seedUser(t, store, "user-1", "maria")
	m := seedMeter(t, store, "meter-1", maria.ID, "House")

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx *sqlite.Tx) error {
		if err := tx.SaveReading(ctx, testReading("r-1", m.ID, 2024, time.January, 1000, 1100)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.GetReading(ctx, "r-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_WithTx_CommitsMutationAndCascade(t *testing.T) {
	// GIVEN: Two chained readings
	// WHEN: One transaction edits the first and rewrites the second
	// THEN: Both updates are visible afterwards, and the tx saw its own writes

	store := newTestStore(t)
	ctx := context.Background()
	maria := seedUser(t, store, "user-1", "maria")
	m := seedMeter(t, store, "meter-1", maria.ID, "House")

	jan := testReading("r-jan", m.ID, 2024, time.January, 1000, 1100)
	feb := testReading("r-feb", m.ID, 2024, time.February, 1100, 1250)
	require.NoError(t, store.SaveReading(ctx, jan))
	require.NoError(t, store.SaveReading(ctx, feb))

	err := store.WithTx(ctx, func(tx *sqlite.Tx) error {
		jan.CurrentValue = 1120
		jan.Consumption = 120
		if err := tx.UpdateReading(ctx, jan); err != nil {
			return err
		}

		inTx, err := tx.ListReadings(ctx, m.ID, 0)
		if err != nil {
			return err
		}
		if inTx[0].CurrentValue != 1120 {
			return errors.New("tx should see its own write")
		}

		feb.PreviousValue = 1120
		feb.Consumption = 130
		return tx.UpdateReading(ctx, feb)
	})
	require.NoError(t, err)

	got, err := store.GetReading(ctx, "r-feb")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1120.0, got.PreviousValue)
	assert.Equal(t, 130.0, got.Consumption)
}

// =============================================================================
// STATISTICS TESTS
// =============================================================================

func TestStore_GlobalStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	maria := seedUser(t, store, "user-1", "maria")
	pedro := seedUser(t, store, "user-2", "pedro")
	require.NoError(t, store.SetUserStatus(ctx, pedro.ID, auth.StatusInactive))

	m := seedMeter(t, store, "meter-1", maria.ID, "House")
	require.NoError(t, store.SaveReading(ctx, testReading("r-1", m.ID, 2024, time.January, 1000, 1100)))
	require.NoError(t, store.SaveReading(ctx, testReading("r-2", m.ID, 2024, time.February, 1100, 1250)))

	stats, err := store.GlobalStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Users)
	assert.Equal(t, 1, stats.ActiveUsers)
	assert.Equal(t, 1, stats.Meters)
	assert.Equal(t, 2, stats.Readings)
	assert.Equal(t, 250.0, stats.Consumption)
	assert.True(t, stats.Amount.Equal(decimal.RequireFromString("145")), "40 + 105, got %s", stats.Amount)
}
