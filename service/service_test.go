package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/wattline/billing-engine/access"
	"github.com/wattline/billing-engine/audit"
	"github.com/wattline/billing-engine/auth"
	"github.com/wattline/billing-engine/billing"
	"github.com/wattline/billing-engine/service"
	"github.com/wattline/billing-engine/store/sqlite"
)

// =============================================================================
// SHARED FIXTURE
// =============================================================================

// Every service test runs against a real in-memory store seeded with
// the default tariff schedule; the fixture pins the clock so edit
// windows and month totals are deterministic.

var fixedNow = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type fixture struct {
	store    *sqlite.Store
	readings *service.Readings
	meters   *service.Meters
	auth     *service.Auth
	tariffs  *service.Tariffs
	board    *service.Dashboard
	sessions *auth.SessionRegistry
	throttle *auth.LoginThrottle
	keyPath  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	err = store.ReplaceTariffs(context.Background(), billing.DefaultSchedule())
	require.NoError(t, err)

	logger := zap.NewNop()
	sessions := auth.NewSessionRegistry(3 * time.Hour).WithClock(fixedClock)
	throttle := auth.NewLoginThrottle(3, time.Minute).WithClock(fixedClock)
	hasher := auth.Hasher{Cost: bcrypt.MinCost}
	keyPath := t.TempDir() + "/recovery_key.txt"

	return &fixture{
		store: store,
		readings: service.NewReadings(store, billing.NewDetector(),
			access.NewPolicy(), audit.Nop{}, logger).WithClock(fixedClock),
		meters: service.NewMeters(store, audit.Nop{}, logger).WithClock(fixedClock),
		auth: service.NewAuth(store, sessions, throttle, hasher,
			auth.DefaultPolicy(), audit.Nop{}, logger, keyPath).WithClock(fixedClock),
		tariffs:  service.NewTariffs(store, audit.Nop{}, logger),
		board:    service.NewDashboard(store, logger).WithClock(fixedClock),
		sessions: sessions,
		throttle: throttle,
		keyPath:  keyPath,
	}
}

func (f *fixture) seedUser(t *testing.T, id, username string, role auth.Role) auth.User {
	t.Helper()
	u := auth.User{
		ID:           billing.UserID(id),
		Name:         "User " + username,
		Username:     username,
		PasswordHash: "unused",
		Role:         role,
		Status:       auth.StatusActive,
		CreatedAt:    fixedNow,
	}
	require.NoError(t, f.store.SaveUser(context.Background(), u))
	return u
}

func (f *fixture) seedMeter(t *testing.T, id string, owner billing.UserID, label string) billing.Meter {
	t.Helper()
	m := billing.Meter{
		ID:        billing.MeterID(id),
		OwnerID:   owner,
		Label:     label,
		CreatedAt: fixedNow,
	}
	require.NoError(t, f.store.SaveMeter(context.Background(), m))
	return m
}

func (f *fixture) link(t *testing.T, user billing.UserID, meter billing.MeterID) {
	t.Helper()
	err := f.store.SaveLink(context.Background(), billing.MeterLink{
		UserID:    user,
		MeterID:   meter,
		CreatedAt: fixedNow,
	})
	require.NoError(t, err)
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}
