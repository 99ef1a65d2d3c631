/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements promo.Store, enrollment.Store and enrollment.ScheduleStore on
  SQLite. The two mutation points of the engine, a promo code's use count
  and an enrollment's status, are versioned rows written with
  compare-and-swap: UPDATE ... WHERE version = ?. Zero rows affected means
  another writer won, reported as *generic.ConflictError.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on the redemptions table
  - UNIQUE(checkout_id, code) makes a retried checkout a no-op
  - Promo codes are retired by status, never deleted

KEY TABLES:
  promo_codes:  definition JSON + use_count + version
  redemptions:  immutable log of consumed uses
  enrollments:  lifecycle rows + version
  schedules:    read-only course schedule reference data

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/enrollment.db", generic.USD)
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  redemptions := promo.NewService(store, calendar, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - generic/store.go: concurrency contract
  - generic/store/memory.go: in-memory implementation for testing
  - store/postgres: row-locking implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/enrollment-engine/enrollment"
	"github.com/warp/enrollment-engine/factory"
	"github.com/warp/enrollment-engine/generic"
	"github.com/warp/enrollment-engine/promo"
	"github.com/warp/enrollment-engine/refund"
)

var (
	_ promo.Store              = (*Store)(nil)
	_ enrollment.Store         = (*Store)(nil)
	_ enrollment.ScheduleStore = (*Store)(nil)
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db    *sql.DB
	mu    sync.RWMutex
	codec *factory.PromoFactory
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, currency generic.Currency) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: an in-memory database exists per connection, and
	// SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, codec: factory.NewPromoFactory(currency)}
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
	-- Promo codes (definition + versioned use counter)
	CREATE TABLE IF NOT EXISTS promo_codes (
		code TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		definition_json TEXT NOT NULL,
		use_count INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_promo_codes_status
		ON promo_codes(status);

	-- Redemptions (append-only)
	CREATE TABLE IF NOT EXISTS redemptions (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL REFERENCES promo_codes(code),
		user_id TEXT NOT NULL,
		checkout_id TEXT NOT NULL,
		discount_minor INTEGER NOT NULL,
		currency TEXT NOT NULL,
		redeemed_at TEXT NOT NULL,
		UNIQUE(checkout_id, code)
	);

	-- Per-user counts (hot path of evaluation)
	CREATE INDEX IF NOT EXISTS idx_redemptions_code_user
		ON redemptions(code, user_id);
	CREATE INDEX IF NOT EXISTS idx_redemptions_checkout
		ON redemptions(checkout_id);

	-- Schedules (reference data)
	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		course_id TEXT NOT NULL,
		starts_at TEXT NOT NULL,
		ends_at TEXT NOT NULL,
		price_minor INTEGER NOT NULL,
		currency TEXT NOT NULL
	);

	-- Enrollments
	CREATE TABLE IF NOT EXISTS enrollments (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		course_id TEXT NOT NULL,
		schedule_id TEXT,
		status TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount_paid_minor INTEGER NOT NULL,
		amount_due_minor INTEGER NOT NULL,
		deposit_minor INTEGER NOT NULL,
		payment_reference TEXT,
		cancellation_json TEXT,
		held_from_schedule TEXT,
		transfer_to TEXT,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_enrollments_student
		ON enrollments(student_id);
	CREATE INDEX IF NOT EXISTS idx_enrollments_schedule
		ON enrollments(schedule_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// PROMO CODES (promo.Store)
// =============================================================================

func (s *Store) GetPromoCode(ctx context.Context, code string) (*promo.PromoCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT definition_json, use_count, version, created_at, updated_at
		FROM promo_codes WHERE code = ?`, code)
	pc, err := s.scanPromoCode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Entity: "promo_code", ID: code}
	}
	return pc, err
}

func (s *Store) ListPromoCodes(ctx context.Context) ([]promo.PromoCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT definition_json, use_count, version, created_at, updated_at
		FROM promo_codes ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to query promo codes: %w", err)
	}
	defer rows.Close()

	var codes []promo.PromoCode
	for rows.Next() {
		pc, err := s.scanPromoCode(rows)
		if err != nil {
			return nil, err
		}
		codes = append(codes, *pc)
	}
	return codes, rows.Err()
}

func (s *Store) CreatePromoCode(ctx context.Context, pc promo.PromoCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, err := s.codec.EncodePromoCode(pc)
	if err != nil {
		return fmt.Errorf("encode promo code %s: %w", pc.Code, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO promo_codes (code, status, definition_json, use_count, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pc.Code, pc.Status, string(def), pc.Uses.Count, pc.Uses.Version,
		formatTime(pc.CreatedAt), formatTime(pc.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return promo.ErrDuplicateCode
	}
	if err != nil {
		return fmt.Errorf("failed to insert promo code: %w", err)
	}
	return nil
}

func (s *Store) UpdatePromoCode(ctx context.Context, pc promo.PromoCode, expected generic.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, err := s.codec.EncodePromoCode(pc)
	if err != nil {
		return fmt.Errorf("encode promo code %s: %w", pc.Code, err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE promo_codes
		SET status = ?, definition_json = ?, version = version + 1, updated_at = ?
		WHERE code = ? AND version = ?`,
		pc.Status, string(def), formatTime(pc.UpdatedAt), pc.Code, expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update promo code: %w", err)
	}
	return checkSwapped(ctx, s.db, res, "promo_code", pc.Code, expected,
		"SELECT version FROM promo_codes WHERE code = ?")
}

// Redeem applies every intent in one database transaction.
func (s *Store) Redeem(ctx context.Context, intents []promo.RedeemIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, in := range intents {
		res, err := sqlTx.ExecContext(ctx, `
			UPDATE promo_codes SET use_count = use_count + 1, version = version + 1
			WHERE code = ? AND version = ?`, in.Code, in.Expected)
		if err != nil {
			return fmt.Errorf("failed to increment use count: %w", err)
		}
		if err := checkSwapped(ctx, sqlTx, res, "promo_code", in.Code, in.Expected,
			"SELECT version FROM promo_codes WHERE code = ?"); err != nil {
			return err
		}

		r := in.Redemption
		_, err = sqlTx.ExecContext(ctx, `
			INSERT INTO redemptions (id, code, user_id, checkout_id, discount_minor, currency, redeemed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, in.Code, r.UserID, r.CheckoutID, r.Discount.Minor, r.Discount.Currency, formatTime(r.RedeemedAt),
		)
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateIdempotencyKey
		}
		if err != nil {
			return fmt.Errorf("failed to append redemption: %w", err)
		}
	}

	return sqlTx.Commit()
}

func (s *Store) LoadRedemptions(ctx context.Context, code string) ([]generic.Redemption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRedemptions(ctx, `
		SELECT id, code, user_id, checkout_id, discount_minor, currency, redeemed_at
		FROM redemptions WHERE code = ? ORDER BY redeemed_at ASC, rowid ASC`, code)
}

func (s *Store) LoadRedemptionsByCheckout(ctx context.Context, checkoutID string) ([]generic.Redemption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRedemptions(ctx, `
		SELECT id, code, user_id, checkout_id, discount_minor, currency, redeemed_at
		FROM redemptions WHERE checkout_id = ? ORDER BY rowid ASC`, checkoutID)
}

func (s *Store) queryRedemptions(ctx context.Context, query string, args ...any) ([]generic.Redemption, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query redemptions: %w", err)
	}
	defer rows.Close()

	var result []generic.Redemption
	for rows.Next() {
		var (
			r          generic.Redemption
			minor      int64
			currency   string
			redeemedAt string
		)
		if err := rows.Scan(&r.ID, &r.Code, &r.UserID, &r.CheckoutID, &minor, &currency, &redeemedAt); err != nil {
			return nil, fmt.Errorf("failed to scan redemption: %w", err)
		}
		r.Discount = generic.NewMoney(minor, generic.Currency(currency))
		r.RedeemedAt = parseTime(redeemedAt)
		result = append(result, r)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanPromoCode(row scanner) (*promo.PromoCode, error) {
	var (
		def                  string
		count                int
		version              int64
		createdAt, updatedAt string
	)
	if err := row.Scan(&def, &count, &version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	pc, err := s.codec.ParsePromoCode([]byte(def))
	if err != nil {
		return nil, fmt.Errorf("decode stored promo code: %w", err)
	}
	pc.Uses = generic.Counter{Count: count, Version: generic.Version(version)}
	pc.CreatedAt = parseTime(createdAt)
	pc.UpdatedAt = parseTime(updatedAt)
	return pc, nil
}

// =============================================================================
// ENROLLMENTS (enrollment.Store)
// =============================================================================

const enrollmentColumns = `id, student_id, course_id, schedule_id, status, currency,
	amount_paid_minor, amount_due_minor, deposit_minor, payment_reference,
	cancellation_json, held_from_schedule, transfer_to, version, created_at, updated_at`

func (s *Store) GetEnrollment(ctx context.Context, id generic.EnrollmentID) (*enrollment.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+enrollmentColumns+" FROM enrollments WHERE id = ?", id)
	e, err := scanEnrollment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Entity: "enrollment", ID: string(id)}
	}
	return e, err
}

func (s *Store) CreateEnrollment(ctx context.Context, e enrollment.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancellation, err := encodeDecision(e.Cancellation)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, "INSERT INTO enrollments ("+enrollmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.StudentID, e.CourseID, nullString(string(e.ScheduleID)), e.Status, e.AmountDue.Currency,
		e.AmountPaid.Minor, e.AmountDue.Minor, e.Deposit.Minor, nullString(e.PaymentReference),
		cancellation, nullString(string(e.HeldFromSchedule)), nullString(string(e.TransferTo)),
		e.Version, formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return &generic.ConflictError{Entity: "enrollment", ID: string(e.ID), Expected: e.Version}
	}
	if err != nil {
		return fmt.Errorf("failed to insert enrollment: %w", err)
	}
	return nil
}

func (s *Store) UpdateEnrollment(ctx context.Context, e enrollment.Enrollment, expected generic.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancellation, err := encodeDecision(e.Cancellation)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE enrollments SET
			schedule_id = ?, status = ?, amount_paid_minor = ?, amount_due_minor = ?,
			payment_reference = ?, cancellation_json = ?, held_from_schedule = ?,
			transfer_to = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		nullString(string(e.ScheduleID)), e.Status, e.AmountPaid.Minor, e.AmountDue.Minor,
		nullString(e.PaymentReference), cancellation, nullString(string(e.HeldFromSchedule)),
		nullString(string(e.TransferTo)), formatTime(e.UpdatedAt),
		e.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update enrollment: %w", err)
	}
	return checkSwapped(ctx, s.db, res, "enrollment", string(e.ID), expected,
		"SELECT version FROM enrollments WHERE id = ?")
}

func scanEnrollment(row scanner) (*enrollment.Enrollment, error) {
	var (
		e                                enrollment.Enrollment
		scheduleID, paymentRef           sql.NullString
		cancellation, heldFrom, transfer sql.NullString
		currency                         string
		paid, due, deposit, version      int64
		createdAt, updatedAt             string
	)
	err := row.Scan(
		&e.ID, &e.StudentID, &e.CourseID, &scheduleID, &e.Status, &currency,
		&paid, &due, &deposit, &paymentRef,
		&cancellation, &heldFrom, &transfer, &version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	cur := generic.Currency(currency)
	e.ScheduleID = generic.ScheduleID(scheduleID.String)
	e.AmountPaid = generic.NewMoney(paid, cur)
	e.AmountDue = generic.NewMoney(due, cur)
	e.Deposit = generic.NewMoney(deposit, cur)
	e.PaymentReference = paymentRef.String
	e.HeldFromSchedule = generic.ScheduleID(heldFrom.String)
	e.TransferTo = generic.ScheduleID(transfer.String)
	e.Version = generic.Version(version)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)

	if cancellation.Valid && cancellation.String != "" {
		var d refund.Decision
		if err := json.Unmarshal([]byte(cancellation.String), &d); err != nil {
			return nil, fmt.Errorf("decode cancellation of %s: %w", e.ID, err)
		}
		e.Cancellation = &d
	}
	return &e, nil
}

// =============================================================================
// SCHEDULES (enrollment.ScheduleStore)
// =============================================================================

func (s *Store) GetSchedule(ctx context.Context, id generic.ScheduleID) (*enrollment.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		sc               enrollment.Schedule
		startsAt, endsAt string
		price            int64
		currency         string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, course_id, starts_at, ends_at, price_minor, currency FROM schedules WHERE id = ?", id,
	).Scan(&sc.ID, &sc.CourseID, &startsAt, &endsAt, &price, &currency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Entity: "schedule", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	sc.StartsAt = parseTime(startsAt)
	sc.EndsAt = parseTime(endsAt)
	sc.Price = generic.NewMoney(price, generic.Currency(currency))
	return &sc, nil
}

func (s *Store) SaveSchedule(ctx context.Context, sc enrollment.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, course_id, starts_at, ends_at, price_minor, currency)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			course_id = excluded.course_id,
			starts_at = excluded.starts_at,
			ends_at = excluded.ends_at,
			price_minor = excluded.price_minor,
			currency = excluded.currency`,
		sc.ID, sc.CourseID, formatTime(sc.StartsAt), formatTime(sc.EndsAt), sc.Price.Minor, sc.Price.Currency,
	)
	return err
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"redemptions", "promo_codes", "enrollments", "schedules"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// checkSwapped turns a zero-row compare-and-swap into NotFound or Conflict.
func checkSwapped(ctx context.Context, db execer, res sql.Result, entity, id string, expected generic.Version, versionQuery string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var actual int64
	err = db.QueryRowContext(ctx, versionQuery, id).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return &generic.NotFoundError{Entity: entity, ID: id}
	}
	if err != nil {
		return err
	}
	return &generic.ConflictError{Entity: entity, ID: id, Expected: expected, Actual: generic.Version(actual)}
}

func encodeDecision(d *refund.Decision) (sql.NullString, error) {
	if d == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode cancellation: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
