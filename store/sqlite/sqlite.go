/*
Package sqlite provides the SQLite-backed persistence for the billing engine.

PURPOSE:
  Single Store struct holding every repository the application needs:
  users, meters, shared-access links, the active tariff schedule and
  meter readings. The domain packages (billing, auth) stay I/O-free;
  this package is the only one that talks to the database.

KEY TABLES:
  users:       Operator accounts (admin or regular user)
  meters:      Physical counters, one owner each
  meter_links: Shared access grants for non-owner users
  tariffs:     The single active tariff schedule, one row per tier
  readings:    One billing period per row, derived fields included

UNIQUENESS MAPPING:
  The unique indexes are the source of truth for duplicate detection.
  Violations are mapped back to domain sentinels:
  - users.username                               -> auth.ErrUserExists
  - meters(owner_id, label)                      -> billing.ErrDuplicateLabel
  - meter_links(user_id, meter_id)               -> billing.ErrDuplicateLink
  - readings(meter_id, period_start, period_end) -> billing.ErrDuplicatePeriod

MONEY AND DATES:
  Billed amounts are stored as decimal strings (TEXT) and summed in Go;
  SQLite's SUM would coerce them to float and lose precision. Period
  dates are date-only strings (YYYY-MM-DD) so lexicographic order is
  chronological order; creation/update instants are RFC3339 UTC.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for
  the whole callback, which gives reading mutations and their cascade
  updates the single-writer guarantee the recalculator requires.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - billing/types.go: Reading and meter entities stored here
  - auth/user.go: User entity stored here
  - service: Workflows composing these repositories
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/wattline/billing-engine/auth"
	"github.com/wattline/billing-engine/billing"
)

// dateLayout is the storage format for period dates. Date-only strings
// compare lexicographically in chronological order.
const dateLayout = "2006-01-02"

// Store implements all repositories using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// dbtx is satisfied by both *sql.DB and *sql.Tx, so every query helper
// can run either standalone or inside WithTx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Users (operator accounts)
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		status TEXT NOT NULL,
		must_change_password INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- Meters (one row per physical counter)
	CREATE TABLE IF NOT EXISTS meters (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id),
		label TEXT NOT NULL,
		serial_number TEXT NOT NULL DEFAULT '',
		alert_threshold REAL,
		created_at TEXT NOT NULL,
		UNIQUE(owner_id, label)
	);

	CREATE INDEX IF NOT EXISTS idx_meters_owner ON meters(owner_id);

	-- Shared access grants; deleting a meter removes its links
	CREATE TABLE IF NOT EXISTS meter_links (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		meter_id TEXT NOT NULL REFERENCES meters(id) ON DELETE CASCADE,
		created_at TEXT NOT NULL,
		UNIQUE(user_id, meter_id)
	);

	CREATE INDEX IF NOT EXISTS idx_links_user ON meter_links(user_id);
	CREATE INDEX IF NOT EXISTS idx_links_meter ON meter_links(meter_id);

	-- The active tariff schedule, one row per tier
	CREATE TABLE IF NOT EXISTS tariffs (
		id TEXT PRIMARY KEY,
		lower_bound REAL NOT NULL,
		upper_bound REAL,
		price_per_kwh TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Readings (one billing period per row); deleting a meter removes them
	CREATE TABLE IF NOT EXISTS readings (
		id TEXT PRIMARY KEY,
		meter_id TEXT NOT NULL REFERENCES meters(id) ON DELETE CASCADE,
		author_id TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		previous_value REAL NOT NULL,
		current_value REAL NOT NULL,
		consumption REAL NOT NULL,
		billed_amount TEXT NOT NULL,
		is_rollover INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(meter_id, period_start, period_end)
	);

	-- CRITICAL: chronological scans per meter (cascade + neighbor lookups)
	CREATE INDEX IF NOT EXISTS idx_readings_meter_period_end
		ON readings(meter_id, period_end);
	`

	_, err := s.db.Exec(schema)
	return err
}

// mapUniqueViolation translates a SQLite unique-constraint failure into
// the domain sentinel for the violated index, or returns nil when the
// error is not a uniqueness violation.
func mapUniqueViolation(err error) error {
	if err == nil || !strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "users.username"):
		return auth.ErrUserExists
	case strings.Contains(msg, "meters.owner_id"):
		return billing.ErrDuplicateLabel
	case strings.Contains(msg, "meter_links.user_id"):
		return billing.ErrDuplicateLink
	case strings.Contains(msg, "readings.meter_id"):
		return billing.ErrDuplicatePeriod
	}
	return err
}

// =============================================================================
// USER STORE
// =============================================================================

// SaveUser inserts a new user. A taken username maps to auth.ErrUserExists.
func (s *Store) SaveUser(ctx context.Context, u auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return saveUser(ctx, s.db, u)
}

func saveUser(ctx context.Context, q dbtx, u auth.User) error {
	query := `
		INSERT INTO users (id, name, username, password_hash, role, status, must_change_password, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		string(u.ID), u.Name, u.Username, u.PasswordHash,
		string(u.Role), string(u.Status), u.MustChangePassword,
		u.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID. Returns (nil, nil) when absent.
func (s *Store) GetUser(ctx context.Context, id billing.UserID) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users, err := queryUsers(ctx, s.db, `
		SELECT id, name, username, password_hash, role, status, must_change_password, created_at
		FROM users WHERE id = ?
	`, string(id))
	if err != nil || len(users) == 0 {
		return nil, err
	}
	return &users[0], nil
}

// GetUserByUsername retrieves a user by exact username. Callers normalize
// the username before lookup. Returns (nil, nil) when absent.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users, err := queryUsers(ctx, s.db, `
		SELECT id, name, username, password_hash, role, status, must_change_password, created_at
		FROM users WHERE username = ?
	`, username)
	if err != nil || len(users) == 0 {
		return nil, err
	}
	return &users[0], nil
}

// ListUsers returns all users ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryUsers(ctx, s.db, `
		SELECT id, name, username, password_hash, role, status, must_change_password, created_at
		FROM users ORDER BY username
	`)
}

// UpdatePassword replaces a user's password hash and sets the
// must-change flag (true after an admin reset, false after the user
// picks their own password).
func (s *Store) UpdatePassword(ctx context.Context, id billing.UserID, hash string, mustChange bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET password_hash = ?, must_change_password = ? WHERE id = ?",
		hash, mustChange, string(id),
	)
	return err
}

// SetUserStatus activates or deactivates a user.
func (s *Store) SetUserStatus(ctx context.Context, id billing.UserID, status auth.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return setUserStatus(ctx, s.db, id, status)
}

func setUserStatus(ctx context.Context, q dbtx, id billing.UserID, status auth.Status) error {
	_, err := q.ExecContext(ctx,
		"UPDATE users SET status = ? WHERE id = ?",
		string(status), string(id),
	)
	return err
}

func queryUsers(ctx context.Context, q dbtx, query string, args ...any) ([]auth.User, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []auth.User
	for rows.Next() {
		var (
			u         auth.User
			id        string
			role      string
			status    string
			createdAt string
		)
		if err := rows.Scan(&id, &u.Name, &u.Username, &u.PasswordHash,
			&role, &status, &u.MustChangePassword, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.ID = billing.UserID(id)
		u.Role = auth.Role(role)
		u.Status = auth.Status(status)
		u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		users = append(users, u)
	}
	return users, rows.Err()
}

// =============================================================================
// METER STORE
// =============================================================================

// SaveMeter inserts a new meter. A label already used by the same owner
// maps to billing.ErrDuplicateLabel.
func (s *Store) SaveMeter(ctx context.Context, m billing.Meter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO meters (id, owner_id, label, serial_number, alert_threshold, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		string(m.ID), string(m.OwnerID), m.Label, m.SerialNumber,
		nullFloat(m.AlertThreshold),
		m.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to save meter: %w", err)
	}
	return nil
}

// UpdateMeter updates label, serial number and alert threshold.
// Ownership is never changed here; see TransferMeters.
func (s *Store) UpdateMeter(ctx context.Context, m billing.Meter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE meters SET label = ?, serial_number = ?, alert_threshold = ? WHERE id = ?",
		m.Label, m.SerialNumber, nullFloat(m.AlertThreshold), string(m.ID),
	)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to update meter: %w", err)
	}
	return nil
}

// GetMeter retrieves a meter by ID. Returns (nil, nil) when absent.
func (s *Store) GetMeter(ctx context.Context, id billing.MeterID) (*billing.Meter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meters, err := queryMeters(ctx, s.db, `
		SELECT id, owner_id, label, serial_number, alert_threshold, created_at
		FROM meters WHERE id = ?
	`, string(id))
	if err != nil || len(meters) == 0 {
		return nil, err
	}
	return &meters[0], nil
}

// DeleteMeter removes a meter. Its readings and links go with it via
// ON DELETE CASCADE.
func (s *Store) DeleteMeter(ctx context.Context, id billing.MeterID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM meters WHERE id = ?", string(id))
	return err
}

// ListMetersByOwner returns the meters owned by a user, ordered by label.
func (s *Store) ListMetersByOwner(ctx context.Context, owner billing.UserID) ([]billing.Meter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryMeters(ctx, s.db, `
		SELECT id, owner_id, label, serial_number, alert_threshold, created_at
		FROM meters WHERE owner_id = ? ORDER BY label
	`, string(owner))
}

// ListAccessibleMeters returns the meters a user can see: their own plus
// the ones they are linked to, ordered by label.
func (s *Store) ListAccessibleMeters(ctx context.Context, user billing.UserID) ([]billing.Meter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT m.id, m.owner_id, m.label, m.serial_number, m.alert_threshold, m.created_at
		FROM meters m WHERE m.owner_id = ?
		UNION
		SELECT m.id, m.owner_id, m.label, m.serial_number, m.alert_threshold, m.created_at
		FROM meters m JOIN meter_links l ON l.meter_id = m.id WHERE l.user_id = ?
		ORDER BY label
	`

	return queryMeters(ctx, s.db, query, string(user), string(user))
}

// TransferMeters reassigns every meter of one owner to another and
// returns how many moved. Used when an admin deactivates a user.
func (s *Store) TransferMeters(ctx context.Context, from, to billing.UserID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return transferMeters(ctx, s.db, from, to)
}

func transferMeters(ctx context.Context, q dbtx, from, to billing.UserID) (int, error) {
	res, err := q.ExecContext(ctx,
		"UPDATE meters SET owner_id = ? WHERE owner_id = ?",
		string(to), string(from),
	)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return 0, mapped
		}
		return 0, fmt.Errorf("failed to transfer meters: %w", err)
	}

	moved, _ := res.RowsAffected()
	return int(moved), nil
}

func queryMeters(ctx context.Context, q dbtx, query string, args ...any) ([]billing.Meter, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query meters: %w", err)
	}
	defer rows.Close()

	var meters []billing.Meter
	for rows.Next() {
		var (
			m         billing.Meter
			id        string
			ownerID   string
			threshold sql.NullFloat64
			createdAt string
		)
		if err := rows.Scan(&id, &ownerID, &m.Label, &m.SerialNumber, &threshold, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan meter: %w", err)
		}
		m.ID = billing.MeterID(id)
		m.OwnerID = billing.UserID(ownerID)
		if threshold.Valid {
			v := threshold.Float64
			m.AlertThreshold = &v
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		meters = append(meters, m)
	}
	return meters, rows.Err()
}

// =============================================================================
// LINK STORE
// =============================================================================

// SaveLink grants a user access to a meter. An existing grant maps to
// billing.ErrDuplicateLink. An empty link ID gets a generated one.
func (s *Store) SaveLink(ctx context.Context, l billing.MeterLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := l.ID
	if id == "" {
		id = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO meter_links (id, user_id, meter_id, created_at) VALUES (?, ?, ?, ?)",
		id, string(l.UserID), string(l.MeterID),
		l.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to save link: %w", err)
	}
	return nil
}

// DeleteLink revokes a user's access to a meter.
func (s *Store) DeleteLink(ctx context.Context, meterID billing.MeterID, userID billing.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM meter_links WHERE meter_id = ? AND user_id = ?",
		string(meterID), string(userID),
	)
	return err
}

// IsLinked reports whether a user has a link to a meter.
func (s *Store) IsLinked(ctx context.Context, userID billing.UserID, meterID billing.MeterID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM meter_links WHERE user_id = ? AND meter_id = ?",
		string(userID), string(meterID),
	).Scan(&count)
	return count > 0, err
}

// ListLinkedUsers returns the users linked to a meter, ordered by
// username. The owner is not included; ownership is not a link.
func (s *Store) ListLinkedUsers(ctx context.Context, meterID billing.MeterID) ([]auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryUsers(ctx, s.db, `
		SELECT u.id, u.name, u.username, u.password_hash, u.role, u.status, u.must_change_password, u.created_at
		FROM users u JOIN meter_links l ON l.user_id = u.id
		WHERE l.meter_id = ?
		ORDER BY u.username
	`, string(meterID))
}

// =============================================================================
// TARIFF STORE
// =============================================================================

// ListTariffs returns the active schedule ordered by lower bound.
func (s *Store) ListTariffs(ctx context.Context) ([]billing.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, lower_bound, upper_bound, price_per_kwh FROM tariffs ORDER BY lower_bound ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query tariffs: %w", err)
	}
	defer rows.Close()

	var tiers []billing.Tier
	for rows.Next() {
		var (
			t     billing.Tier
			upper sql.NullFloat64
			price string
		)
		if err := rows.Scan(&t.ID, &t.LowerBound, &upper, &price); err != nil {
			return nil, fmt.Errorf("failed to scan tariff: %w", err)
		}
		if upper.Valid {
			v := upper.Float64
			t.UpperBound = &v
		}
		t.PricePerUnit, _ = decimal.NewFromString(price)
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

// ReplaceTariffs swaps the whole schedule atomically. Callers validate
// the tier set first; a failure leaves the previous schedule in place.
func (s *Store) ReplaceTariffs(ctx context.Context, tiers []billing.Tier) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		return tx.ReplaceTariffs(ctx, tiers)
	})
}

func replaceTariffs(ctx context.Context, q dbtx, tiers []billing.Tier) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM tariffs"); err != nil {
		return fmt.Errorf("failed to clear tariffs: %w", err)
	}
	for _, t := range tiers {
		if err := insertTier(ctx, q, t); err != nil {
			return err
		}
	}
	return nil
}

func insertTier(ctx context.Context, q dbtx, t billing.Tier) error {
	id := t.ID
	if id == "" {
		id = uuid.NewString()
	}

	_, err := q.ExecContext(ctx,
		"INSERT INTO tariffs (id, lower_bound, upper_bound, price_per_kwh, created_at) VALUES (?, ?, ?, ?, ?)",
		id, t.LowerBound, nullFloat(t.UpperBound), t.PricePerUnit.String(),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert tariff tier: %w", err)
	}
	return nil
}

// =============================================================================
// READING STORE
// =============================================================================

// SaveReading inserts a new reading. A second reading for the same meter
// and period maps to billing.ErrDuplicatePeriod.
func (s *Store) SaveReading(ctx context.Context, r billing.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return saveReading(ctx, s.db, r)
}

func saveReading(ctx context.Context, q dbtx, r billing.Reading) error {
	query := `
		INSERT INTO readings
		(id, meter_id, author_id, period_start, period_end, previous_value, current_value,
		 consumption, billed_amount, is_rollover, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		string(r.ID), string(r.MeterID), string(r.AuthorID),
		r.PeriodStart.Format(dateLayout), r.PeriodEnd.Format(dateLayout),
		r.PreviousValue, r.CurrentValue, r.Consumption,
		r.BilledAmount.String(), r.IsRollover,
		r.CreatedAt.UTC().Format(time.RFC3339),
		r.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to save reading: %w", err)
	}
	return nil
}

// UpdateReading rewrites a reading's mutable fields. The meter a reading
// belongs to never changes.
func (s *Store) UpdateReading(ctx context.Context, r billing.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return updateReading(ctx, s.db, r)
}

func updateReading(ctx context.Context, q dbtx, r billing.Reading) error {
	query := `
		UPDATE readings SET
			author_id = ?, period_start = ?, period_end = ?,
			previous_value = ?, current_value = ?, consumption = ?,
			billed_amount = ?, is_rollover = ?, updated_at = ?
		WHERE id = ?
	`

	_, err := q.ExecContext(ctx, query,
		string(r.AuthorID),
		r.PeriodStart.Format(dateLayout), r.PeriodEnd.Format(dateLayout),
		r.PreviousValue, r.CurrentValue, r.Consumption,
		r.BilledAmount.String(), r.IsRollover,
		r.UpdatedAt.UTC().Format(time.RFC3339),
		string(r.ID),
	)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to update reading: %w", err)
	}
	return nil
}

// DeleteReading removes a reading.
func (s *Store) DeleteReading(ctx context.Context, id billing.ReadingID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return deleteReading(ctx, s.db, id)
}

func deleteReading(ctx context.Context, q dbtx, id billing.ReadingID) error {
	_, err := q.ExecContext(ctx, "DELETE FROM readings WHERE id = ?", string(id))
	return err
}

// GetReading retrieves a reading by ID. Returns (nil, nil) when absent.
func (s *Store) GetReading(ctx context.Context, id billing.ReadingID) (*billing.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	readings, err := queryReadings(ctx, s.db, readingSelect+" WHERE id = ?", string(id))
	if err != nil || len(readings) == 0 {
		return nil, err
	}
	return &readings[0], nil
}

// ListReadings returns a meter's readings in chronological order,
// optionally restricted to one year (year 0 means all).
func (s *Store) ListReadings(ctx context.Context, meterID billing.MeterID, year int) ([]billing.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return listReadings(ctx, s.db, meterID, year)
}

func listReadings(ctx context.Context, q dbtx, meterID billing.MeterID, year int) ([]billing.Reading, error) {
	if year > 0 {
		return queryReadings(ctx, q,
			readingSelect+" WHERE meter_id = ? AND strftime('%Y', period_end) = ? ORDER BY period_end ASC, created_at ASC",
			string(meterID), fmt.Sprintf("%04d", year))
	}
	return queryReadings(ctx, q,
		readingSelect+" WHERE meter_id = ? ORDER BY period_end ASC, created_at ASC",
		string(meterID))
}

// LatestReading returns the chronologically last reading of a meter.
// Returns (nil, nil) when the meter has none.
func (s *Store) LatestReading(ctx context.Context, meterID billing.MeterID) (*billing.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	readings, err := queryReadings(ctx, s.db,
		readingSelect+" WHERE meter_id = ? ORDER BY period_end DESC, created_at DESC LIMIT 1",
		string(meterID))
	if err != nil || len(readings) == 0 {
		return nil, err
	}
	return &readings[0], nil
}

// PreviousReading returns the last reading whose period ends strictly
// before the given date. This is the chronological predecessor a new or
// retroactive reading derives its consumption from.
func (s *Store) PreviousReading(ctx context.Context, meterID billing.MeterID, before time.Time) (*billing.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	readings, err := queryReadings(ctx, s.db,
		readingSelect+" WHERE meter_id = ? AND period_end < ? ORDER BY period_end DESC, created_at DESC LIMIT 1",
		string(meterID), before.Format(dateLayout))
	if err != nil || len(readings) == 0 {
		return nil, err
	}
	return &readings[0], nil
}

// NextReading returns the first reading whose period ends strictly after
// the given date.
func (s *Store) NextReading(ctx context.Context, meterID billing.MeterID, after time.Time) (*billing.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	readings, err := queryReadings(ctx, s.db,
		readingSelect+" WHERE meter_id = ? AND period_end > ? ORDER BY period_end ASC, created_at ASC LIMIT 1",
		string(meterID), after.Format(dateLayout))
	if err != nil || len(readings) == 0 {
		return nil, err
	}
	return &readings[0], nil
}

// LastReadings returns the n most recent readings in chronological
// order, for chart series.
func (s *Store) LastReadings(ctx context.Context, meterID billing.MeterID, n int) ([]billing.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT * FROM (` + readingSelect + `
			WHERE meter_id = ? ORDER BY period_end DESC, created_at DESC LIMIT ?
		) ORDER BY period_end ASC, created_at ASC
	`

	return queryReadings(ctx, s.db, query, string(meterID), n)
}

// PeriodExists reports whether the meter already has a reading covering
// exactly this period, ignoring the reading with the excluded ID (pass
// the empty string when inserting).
func (s *Store) PeriodExists(ctx context.Context, meterID billing.MeterID, start, end time.Time, exclude billing.ReadingID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM readings
		WHERE meter_id = ? AND period_start = ? AND period_end = ? AND id != ?
	`, string(meterID), start.Format(dateLayout), end.Format(dateLayout), string(exclude)).Scan(&count)
	return count > 0, err
}

// CountReadings returns how many readings a meter has. The meter delete
// flow reports this before asking for confirmation.
func (s *Store) CountReadings(ctx context.Context, meterID billing.MeterID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM readings WHERE meter_id = ?", string(meterID),
	).Scan(&count)
	return count, err
}

// ReadingTotals returns a meter's all-time reading count, consumption
// and billed amount.
func (s *Store) ReadingTotals(ctx context.Context, meterID billing.MeterID) (int, float64, decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sumReadings(ctx, s.db,
		"SELECT consumption, billed_amount FROM readings WHERE meter_id = ?",
		string(meterID))
}

// MonthTotals returns a meter's consumption and billed amount for one
// calendar month (by period end).
func (s *Store) MonthTotals(ctx context.Context, meterID billing.MeterID, year int, month time.Month) (float64, decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, consumption, amount, err := sumReadings(ctx, s.db,
		"SELECT consumption, billed_amount FROM readings WHERE meter_id = ? AND strftime('%Y-%m', period_end) = ?",
		string(meterID), fmt.Sprintf("%04d-%02d", year, int(month)))
	return consumption, amount, err
}

// YearsWithData returns the years a meter has readings for, newest first.
func (s *Store) YearsWithData(ctx context.Context, meterID billing.MeterID) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT strftime('%Y', period_end) AS year
		FROM readings WHERE meter_id = ?
		ORDER BY year DESC
	`, string(meterID))
	if err != nil {
		return nil, fmt.Errorf("failed to query years: %w", err)
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		var y string
		if err := rows.Scan(&y); err != nil {
			return nil, err
		}
		year, err := strconv.Atoi(y)
		if err != nil {
			continue
		}
		years = append(years, year)
	}
	return years, rows.Err()
}

// sumReadings counts rows and totals the consumption and billed-amount
// columns in Go, keeping decimal precision.
func sumReadings(ctx context.Context, q dbtx, query string, args ...any) (int, float64, decimal.Decimal, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, 0, decimal.Zero, fmt.Errorf("failed to query totals: %w", err)
	}
	defer rows.Close()

	var (
		count       int
		consumption float64
		amount      = decimal.Zero
	)
	for rows.Next() {
		var c float64
		var a string
		if err := rows.Scan(&c, &a); err != nil {
			return 0, 0, decimal.Zero, err
		}
		count++
		consumption += c
		parsed, _ := decimal.NewFromString(a)
		amount = amount.Add(parsed)
	}
	return count, consumption, amount, rows.Err()
}

const readingSelect = `
	SELECT id, meter_id, author_id, period_start, period_end, previous_value, current_value,
	       consumption, billed_amount, is_rollover, created_at, updated_at
	FROM readings`

func queryReadings(ctx context.Context, q dbtx, query string, args ...any) ([]billing.Reading, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []billing.Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

func scanReading(rows *sql.Rows) (billing.Reading, error) {
	var (
		r            billing.Reading
		id           string
		meterID      string
		authorID     string
		periodStart  string
		periodEnd    string
		billedAmount string
		createdAt    string
		updatedAt    string
	)

	err := rows.Scan(
		&id, &meterID, &authorID, &periodStart, &periodEnd,
		&r.PreviousValue, &r.CurrentValue, &r.Consumption,
		&billedAmount, &r.IsRollover, &createdAt, &updatedAt,
	)
	if err != nil {
		return r, fmt.Errorf("failed to scan reading: %w", err)
	}

	r.ID = billing.ReadingID(id)
	r.MeterID = billing.MeterID(meterID)
	r.AuthorID = billing.UserID(authorID)
	r.PeriodStart, _ = time.Parse(dateLayout, periodStart)
	r.PeriodEnd, _ = time.Parse(dateLayout, periodEnd)
	r.BilledAmount, _ = decimal.NewFromString(billedAmount)
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return r, nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes a function within a database transaction. The write
// lock is held for the whole callback, so a reading mutation and the
// cascade updates it triggers commit as one unit with no writer in
// between.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Tx is the store view inside WithTx. Its methods run against the open
// transaction and must not be used after the callback returns.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) SaveReading(ctx context.Context, r billing.Reading) error {
	return saveReading(ctx, t.tx, r)
}

func (t *Tx) UpdateReading(ctx context.Context, r billing.Reading) error {
	return updateReading(ctx, t.tx, r)
}

func (t *Tx) DeleteReading(ctx context.Context, id billing.ReadingID) error {
	return deleteReading(ctx, t.tx, id)
}

func (t *Tx) ListReadings(ctx context.Context, meterID billing.MeterID, year int) ([]billing.Reading, error) {
	return listReadings(ctx, t.tx, meterID, year)
}

func (t *Tx) ReplaceTariffs(ctx context.Context, tiers []billing.Tier) error {
	return replaceTariffs(ctx, t.tx, tiers)
}

func (t *Tx) SetUserStatus(ctx context.Context, id billing.UserID, status auth.Status) error {
	return setUserStatus(ctx, t.tx, id, status)
}

func (t *Tx) TransferMeters(ctx context.Context, from, to billing.UserID) (int, error) {
	return transferMeters(ctx, t.tx, from, to)
}

// =============================================================================
// GLOBAL STATISTICS
// =============================================================================

// GlobalStats is the admin overview across all users and meters.
type GlobalStats struct {
	Users       int
	ActiveUsers int
	Meters      int
	Readings    int
	Consumption float64
	Amount      decimal.Decimal
}

// GlobalStats returns system-wide counts and totals.
func (s *Store) GlobalStats(ctx context.Context) (GlobalStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats GlobalStats
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&stats.Users); err != nil {
		return stats, err
	}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE status = ?", string(auth.StatusActive),
	).Scan(&stats.ActiveUsers); err != nil {
		return stats, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM meters").Scan(&stats.Meters); err != nil {
		return stats, err
	}

	count, consumption, amount, err := sumReadings(ctx, s.db, "SELECT consumption, billed_amount FROM readings")
	if err != nil {
		return stats, err
	}
	stats.Readings = count
	stats.Consumption = consumption
	stats.Amount = amount
	return stats, nil
}

// =============================================================================
// SEEDING
// =============================================================================

// SeedDefaults inserts the bootstrap admin account and the default
// tariff schedule, each only when its table is empty. Returns whether
// the admin was created on this call so startup can announce the
// initial credentials once.
func (s *Store) SeedDefaults(ctx context.Context, admin auth.User, tiers []billing.Tier) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var users int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&users); err != nil {
		return false, err
	}

	adminCreated := false
	if users == 0 {
		if err := saveUser(ctx, s.db, admin); err != nil {
			return false, err
		}
		adminCreated = true
	}

	var tariffs int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tariffs").Scan(&tariffs); err != nil {
		return adminCreated, err
	}

	if tariffs == 0 {
		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return adminCreated, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer sqlTx.Rollback()

		for _, t := range tiers {
			if err := insertTier(ctx, sqlTx, t); err != nil {
				return adminCreated, err
			}
		}
		if err := sqlTx.Commit(); err != nil {
			return adminCreated, err
		}
	}

	return adminCreated, nil
}

// Helper functions

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
