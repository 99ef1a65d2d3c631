/*
Package postgres provides a PostgreSQL-backed implementation of the storage interfaces.

PURPOSE:
  Same contracts as store/sqlite, but for deployments with many API
  replicas. Writes to a versioned row lock it first with
  SELECT ... FOR UPDATE inside a transaction, compare the locked version
  with the one the caller evaluated against, then update. Concurrent
  checkouts for the same code queue on the row lock instead of racing.

KEY TABLES:
  promo_codes, redemptions, enrollments, schedules (see schema below)

USAGE:
  db, err := postgres.Open(ctx, os.Getenv("DATABASE_URL"))
  store, err := postgres.New(ctx, db, generic.USD)

SEE ALSO:
  - generic/store.go: concurrency contract
  - store/sqlite: optimistic single-node implementation
*/
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"

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

const uniqueViolation = "23505"

type Store struct {
	db    *sql.DB
	codec *factory.PromoFactory
}

// Open connects and pings.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping failed: %w", err)
	}
	return db, nil
}

// New migrates the schema and returns the store.
func New(ctx context.Context, db *sql.DB, currency generic.Currency) (*Store, error) {
	s := &Store{db: db, codec: factory.NewPromoFactory(currency)}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS promo_codes (
	code TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	definition JSONB NOT NULL,
	use_count INTEGER NOT NULL DEFAULT 0,
	version BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS redemptions (
	id TEXT PRIMARY KEY,
	seq BIGSERIAL,
	code TEXT NOT NULL REFERENCES promo_codes(code),
	user_id TEXT NOT NULL,
	checkout_id TEXT NOT NULL,
	discount_minor BIGINT NOT NULL,
	currency TEXT NOT NULL,
	redeemed_at TIMESTAMPTZ NOT NULL,
	UNIQUE (checkout_id, code)
);

CREATE INDEX IF NOT EXISTS idx_redemptions_code_user ON redemptions(code, user_id);

CREATE TABLE IF NOT EXISTS schedules (
	id TEXT PRIMARY KEY,
	course_id TEXT NOT NULL,
	starts_at TIMESTAMPTZ NOT NULL,
	ends_at TIMESTAMPTZ NOT NULL,
	price_minor BIGINT NOT NULL,
	currency TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS enrollments (
	id TEXT PRIMARY KEY,
	student_id TEXT NOT NULL,
	course_id TEXT NOT NULL,
	schedule_id TEXT,
	status TEXT NOT NULL,
	currency TEXT NOT NULL,
	amount_paid_minor BIGINT NOT NULL,
	amount_due_minor BIGINT NOT NULL,
	deposit_minor BIGINT NOT NULL,
	payment_reference TEXT,
	cancellation JSONB,
	held_from_schedule TEXT,
	transfer_to TEXT,
	version BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// =============================================================================
// PROMO CODES
// =============================================================================

func (s *Store) GetPromoCode(ctx context.Context, code string) (*promo.PromoCode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT definition, use_count, version, created_at, updated_at
		FROM promo_codes WHERE code = $1`, code)
	pc, err := s.scanPromoCode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Entity: "promo_code", ID: code}
	}
	return pc, err
}

func (s *Store) ListPromoCodes(ctx context.Context) ([]promo.PromoCode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT definition, use_count, version, created_at, updated_at
		FROM promo_codes ORDER BY code`)
	if err != nil {
		return nil, err
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
	def, err := s.codec.EncodePromoCode(pc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO promo_codes (code, status, definition, use_count, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		pc.Code, string(pc.Status), string(def), pc.Uses.Count, int64(pc.Uses.Version), pc.CreatedAt, pc.UpdatedAt)
	if isUniqueViolation(err) {
		return promo.ErrDuplicateCode
	}
	return err
}

func (s *Store) UpdatePromoCode(ctx context.Context, pc promo.PromoCode, expected generic.Version) error {
	def, err := s.codec.EncodePromoCode(pc)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockVersion(ctx, tx, "promo_codes", "code", pc.Code, "promo_code", expected); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE promo_codes SET status = $1, definition = $2, version = version + 1, updated_at = $3
			WHERE code = $4`,
			string(pc.Status), string(def), pc.UpdatedAt, pc.Code)
		return err
	})
}

// Redeem locks every code row in a stable order, checks versions, then
// increments and appends in the same transaction.
func (s *Store) Redeem(ctx context.Context, intents []promo.RedeemIntent) error {
	ordered := append([]promo.RedeemIntent(nil), intents...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Code < ordered[j].Code })

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, in := range ordered {
			if err := lockVersion(ctx, tx, "promo_codes", "code", in.Code, "promo_code", in.Expected); err != nil {
				return err
			}
		}
		for _, in := range intents {
			if _, err := tx.ExecContext(ctx, `
				UPDATE promo_codes SET use_count = use_count + 1, version = version + 1
				WHERE code = $1`, in.Code); err != nil {
				return err
			}
			r := in.Redemption
			_, err := tx.ExecContext(ctx, `
				INSERT INTO redemptions (id, code, user_id, checkout_id, discount_minor, currency, redeemed_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				string(r.ID), in.Code, string(r.UserID), r.CheckoutID, r.Discount.Minor, string(r.Discount.Currency), r.RedeemedAt)
			if isUniqueViolation(err) {
				return generic.ErrDuplicateIdempotencyKey
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) LoadRedemptions(ctx context.Context, code string) ([]generic.Redemption, error) {
	return s.queryRedemptions(ctx, `
		SELECT id, code, user_id, checkout_id, discount_minor, currency, redeemed_at
		FROM redemptions WHERE code = $1 ORDER BY seq`, code)
}

func (s *Store) LoadRedemptionsByCheckout(ctx context.Context, checkoutID string) ([]generic.Redemption, error) {
	return s.queryRedemptions(ctx, `
		SELECT id, code, user_id, checkout_id, discount_minor, currency, redeemed_at
		FROM redemptions WHERE checkout_id = $1 ORDER BY seq`, checkoutID)
}

func (s *Store) queryRedemptions(ctx context.Context, query string, args ...any) ([]generic.Redemption, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []generic.Redemption
	for rows.Next() {
		var (
			r        generic.Redemption
			minor    int64
			currency string
		)
		if err := rows.Scan(&r.ID, &r.Code, &r.UserID, &r.CheckoutID, &minor, &currency, &r.RedeemedAt); err != nil {
			return nil, err
		}
		r.Discount = generic.NewMoney(minor, generic.Currency(currency))
		result = append(result, r)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanPromoCode(row scanner) (*promo.PromoCode, error) {
	var (
		def     []byte
		count   int
		version int64
		created time.Time
		updated time.Time
	)
	if err := row.Scan(&def, &count, &version, &created, &updated); err != nil {
		return nil, err
	}
	pc, err := s.codec.ParsePromoCode(def)
	if err != nil {
		return nil, fmt.Errorf("decode stored promo code: %w", err)
	}
	pc.Uses = generic.Counter{Count: count, Version: generic.Version(version)}
	pc.CreatedAt = created
	pc.UpdatedAt = updated
	return pc, nil
}

// =============================================================================
// ENROLLMENTS
// =============================================================================

func (s *Store) GetEnrollment(ctx context.Context, id generic.EnrollmentID) (*enrollment.Enrollment, error) {
	var (
		e                           enrollment.Enrollment
		scheduleID, paymentRef      sql.NullString
		heldFrom, transfer          sql.NullString
		cancellation                []byte
		currency                    string
		paid, due, deposit, version int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, student_id, course_id, schedule_id, status, currency,
		       amount_paid_minor, amount_due_minor, deposit_minor, payment_reference,
		       cancellation, held_from_schedule, transfer_to, version, created_at, updated_at
		FROM enrollments WHERE id = $1`, string(id),
	).Scan(
		&e.ID, &e.StudentID, &e.CourseID, &scheduleID, &e.Status, &currency,
		&paid, &due, &deposit, &paymentRef,
		&cancellation, &heldFrom, &transfer, &version, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Entity: "enrollment", ID: string(id)}
	}
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
	if len(cancellation) > 0 {
		var d refund.Decision
		if err := json.Unmarshal(cancellation, &d); err != nil {
			return nil, fmt.Errorf("decode cancellation of %s: %w", e.ID, err)
		}
		e.Cancellation = &d
	}
	return &e, nil
}

func (s *Store) CreateEnrollment(ctx context.Context, e enrollment.Enrollment) error {
	cancellation, err := encodeDecision(e.Cancellation)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO enrollments (id, student_id, course_id, schedule_id, status, currency,
			amount_paid_minor, amount_due_minor, deposit_minor, payment_reference,
			cancellation, held_from_schedule, transfer_to, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		string(e.ID), string(e.StudentID), string(e.CourseID), nullString(string(e.ScheduleID)),
		string(e.Status), string(e.AmountDue.Currency),
		e.AmountPaid.Minor, e.AmountDue.Minor, e.Deposit.Minor, nullString(e.PaymentReference),
		cancellation, nullString(string(e.HeldFromSchedule)), nullString(string(e.TransferTo)),
		int64(e.Version), e.CreatedAt, e.UpdatedAt)
	if isUniqueViolation(err) {
		return &generic.ConflictError{Entity: "enrollment", ID: string(e.ID), Expected: e.Version}
	}
	return err
}

func (s *Store) UpdateEnrollment(ctx context.Context, e enrollment.Enrollment, expected generic.Version) error {
	cancellation, err := encodeDecision(e.Cancellation)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockVersion(ctx, tx, "enrollments", "id", string(e.ID), "enrollment", expected); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE enrollments SET
				schedule_id = $1, status = $2, amount_paid_minor = $3, amount_due_minor = $4,
				payment_reference = $5, cancellation = $6, held_from_schedule = $7,
				transfer_to = $8, version = version + 1, updated_at = $9
			WHERE id = $10`,
			nullString(string(e.ScheduleID)), string(e.Status), e.AmountPaid.Minor, e.AmountDue.Minor,
			nullString(e.PaymentReference), cancellation, nullString(string(e.HeldFromSchedule)),
			nullString(string(e.TransferTo)), e.UpdatedAt, string(e.ID))
		return err
	})
}

// =============================================================================
// SCHEDULES
// =============================================================================

func (s *Store) GetSchedule(ctx context.Context, id generic.ScheduleID) (*enrollment.Schedule, error) {
	var (
		sc       enrollment.Schedule
		price    int64
		currency string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, course_id, starts_at, ends_at, price_minor, currency FROM schedules WHERE id = $1`, string(id),
	).Scan(&sc.ID, &sc.CourseID, &sc.StartsAt, &sc.EndsAt, &price, &currency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Entity: "schedule", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	sc.Price = generic.NewMoney(price, generic.Currency(currency))
	return &sc, nil
}

func (s *Store) SaveSchedule(ctx context.Context, sc enrollment.Schedule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, course_id, starts_at, ends_at, price_minor, currency)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			course_id = EXCLUDED.course_id,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			price_minor = EXCLUDED.price_minor,
			currency = EXCLUDED.currency`,
		string(sc.ID), string(sc.CourseID), sc.StartsAt, sc.EndsAt, sc.Price.Minor, string(sc.Price.Currency))
	return err
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE redemptions, promo_codes, enrollments, schedules")
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// lockVersion takes the row lock and compares versions. Table and column
// names are compile-time constants of this package.
func lockVersion(ctx context.Context, tx *sql.Tx, table, keyColumn, key, entity string, expected generic.Version) error {
	var actual int64
	query := fmt.Sprintf("SELECT version FROM %s WHERE %s = $1 FOR UPDATE", table, keyColumn)
	err := tx.QueryRowContext(ctx, query, key).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return &generic.NotFoundError{Entity: entity, ID: key}
	}
	if err != nil {
		return err
	}
	if generic.Version(actual) != expected {
		return &generic.ConflictError{Entity: entity, ID: key, Expected: expected, Actual: generic.Version(actual)}
	}
	return nil
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
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
