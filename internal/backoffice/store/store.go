package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store provides persistence for the back office, backed by SQLite.
// It is constructed once and passed to every component that needs it.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the back office database. path is a file path or a
// "file:" URI; pragmas for WAL and a busy timeout are appended.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store path is empty")
	}
	if strings.HasPrefix(path, "mongodb://") || strings.HasPrefix(path, "mongodb+srv://") {
		return nil, fmt.Errorf("mongodb URIs are not supported; DATABASE_URL must be a sqlite path")
	}

	filePath := strings.TrimPrefix(path, "file:")
	if i := strings.IndexByte(filePath, '?'); i >= 0 {
		filePath = filePath[:i]
	}
	if filePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open backoffice db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id                 TEXT PRIMARY KEY,
		email              TEXT NOT NULL UNIQUE,
		name               TEXT NOT NULL DEFAULT '',
		role               TEXT NOT NULL DEFAULT 'USER',
		phone              TEXT NOT NULL DEFAULT '',
		abn                TEXT NOT NULL DEFAULT '',
		address_line1      TEXT NOT NULL DEFAULT '',
		city               TEXT NOT NULL DEFAULT '',
		state              TEXT NOT NULL DEFAULT '',
		postcode           TEXT NOT NULL DEFAULT '',
		country            TEXT NOT NULL DEFAULT '',
		password_hash      TEXT NOT NULL DEFAULT '',
		stripe_customer_id TEXT NOT NULL DEFAULT '',
		created_at         INTEGER NOT NULL,
		updated_at         INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_stripe_customer_id ON users(stripe_customer_id);

	CREATE TABLE IF NOT EXISTS products (
		id                TEXT PRIMARY KEY,
		name              TEXT NOT NULL,
		description       TEXT NOT NULL DEFAULT '',
		category          TEXT NOT NULL DEFAULT 'subscription',
		stripe_product_id TEXT NOT NULL DEFAULT '',
		stripe_price_id   TEXT NOT NULL DEFAULT '',
		active            INTEGER NOT NULL DEFAULT 1,
		created_at        INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS prices (
		id              TEXT PRIMARY KEY,
		product_id      TEXT NOT NULL REFERENCES products(id),
		unit_amount     INTEGER NOT NULL,
		currency        TEXT NOT NULL DEFAULT 'aud',
		interval        TEXT NOT NULL DEFAULT '',
		stripe_price_id TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_prices_stripe_price_id ON prices(stripe_price_id);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id                     TEXT PRIMARY KEY,
		user_id                TEXT NOT NULL REFERENCES users(id),
		product_id             TEXT NOT NULL REFERENCES products(id),
		price_id               TEXT NOT NULL REFERENCES prices(id),
		quantity               INTEGER NOT NULL DEFAULT 1,
		stripe_subscription_id TEXT NOT NULL DEFAULT '',
		status                 TEXT NOT NULL DEFAULT '',
		created_at             INTEGER NOT NULL,
		updated_at             INTEGER NOT NULL,
		cancelled_at           INTEGER,
		ended_at               INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_created_at ON subscriptions(created_at);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_stripe_id ON subscriptions(stripe_subscription_id);

	CREATE TABLE IF NOT EXISTS orders (
		id                     TEXT PRIMARY KEY,
		user_id                TEXT NOT NULL DEFAULT '',
		status                 TEXT NOT NULL DEFAULT 'pending',
		total                  INTEGER NOT NULL DEFAULT 0,
		currency               TEXT NOT NULL DEFAULT 'aud',
		stripe_subscription_id TEXT NOT NULL DEFAULT '',
		metadata               TEXT NOT NULL DEFAULT '{}',
		created_at             INTEGER NOT NULL,
		updated_at             INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_stripe_subscription_id ON orders(stripe_subscription_id);

	CREATE TABLE IF NOT EXISTS activity_log (
		id              TEXT PRIMARY KEY,
		type            TEXT NOT NULL,
		user_id         TEXT NOT NULL DEFAULT '',
		subscription_id TEXT NOT NULL DEFAULT '',
		metadata        TEXT NOT NULL DEFAULT '{}',
		timestamp       INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_activity_timestamp ON activity_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_activity_user ON activity_log(user_id);

	CREATE TABLE IF NOT EXISTS reconciliations (
		payment_intent_id TEXT PRIMARY KEY,
		state             TEXT NOT NULL,
		email             TEXT NOT NULL DEFAULT '',
		amount            INTEGER NOT NULL DEFAULT 0,
		currency          TEXT NOT NULL DEFAULT '',
		xero_contact_id   TEXT NOT NULL DEFAULT '',
		xero_invoice_id   TEXT NOT NULL DEFAULT '',
		last_error        TEXT NOT NULL DEFAULT '',
		attempts          INTEGER NOT NULL DEFAULT 0,
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reconciliations_state ON reconciliations(state);

	CREATE TABLE IF NOT EXISTS report_registrations (
		email            TEXT PRIMARY KEY,
		company          TEXT NOT NULL,
		state            TEXT NOT NULL,
		first_name       TEXT NOT NULL,
		last_name        TEXT NOT NULL,
		marketing_opt_in INTEGER NOT NULL DEFAULT 0,
		created_at       INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_report_registrations_state ON report_registrations(state);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init backoffice schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// NewID returns a random identifier for a store record.
func NewID() string {
	return uuid.NewString()
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
