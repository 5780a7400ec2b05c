package repos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// TimeLayout is fixed width so stored timestamps sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

func Now() string { return time.Now().UTC().Format(TimeLayout) }

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx, so repo methods can run
// inside a coordinator transaction or directly for display reads.
type Querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

type Options struct {
	Driver      string
	DSN         string
	LockTimeout time.Duration
	Seed        bool
}

func OpenDB(opts Options) (*sqlx.DB, error) {
	if opts.Driver == "" {
		opts.Driver = DriverSQLite
	}
	dsn := opts.DSN
	switch opts.Driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn, opts.LockTimeout)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", opts.Driver)
	}

	db, err := sqlx.Open(opts.Driver, dsn)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}

	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	if opts.Seed {
		if err := seedIfEmpty(db); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// sqliteDSN turns a file path into a modernc DSN with WAL (readers never wait
// on the writer), a bounded busy wait and write-locking transactions.
func sqliteDSN(dsn string, lockTimeout time.Duration) string {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	params := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", lockTimeout.Milliseconds()),
		"_pragma=foreign_keys(1)",
		"_pragma=journal_mode(WAL)",
		"_txlock=immediate",
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// BeginTx opens a write transaction. On Postgres the lock wait is bounded with
// lock_timeout; SQLite bounds it through busy_timeout in the DSN.
func BeginTx(ctx context.Context, db *sqlx.DB, lockTimeout time.Duration) (*sqlx.Tx, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, Classify(err)
	}
	if db.DriverName() == DriverPostgres && lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return nil, Classify(err)
		}
	}
	return tx, nil
}

// forUpdate returns the row-lock suffix for the connected dialect. SQLite
// transactions already hold the database write lock from BEGIN IMMEDIATE.
func forUpdate(q Querier) string {
	if q.DriverName() == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound
	}
	return err
}

func ensureSchema(db *sqlx.DB) error {
	schema := `
-- Users & Sessions
CREATE TABLE IF NOT EXISTS users(
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL CHECK (role IN ('USER','ADMIN')),
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions(
  id TEXT PRIMARY KEY,
  user_id TEXT NULL REFERENCES users(id) ON DELETE SET NULL,
  created_at TEXT NOT NULL,
  last_seen TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

-- Products (one physical unit each)
CREATE TABLE IF NOT EXISTS products(
  id TEXT PRIMARY KEY,
  seller_id TEXT NOT NULL REFERENCES users(id),
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  price_cents BIGINT NOT NULL CHECK (price_cents >= 0),
  status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft','available','reserved','sold')),
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL DEFAULT '',
  deleted_at TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_products_seller ON products(seller_id);
CREATE INDEX IF NOT EXISTS idx_products_status ON products(status);

-- Want lists: at most one active per buyer
CREATE TABLE IF NOT EXISTS want_lists(
  id TEXT PRIMARY KEY,
  buyer_id TEXT NOT NULL REFERENCES users(id),
  status TEXT NOT NULL CHECK (status IN ('active','completed','cancelled')),
  cancelled_by TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_want_lists_one_active ON want_lists(buyer_id) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS want_list_items(
  id TEXT PRIMARY KEY,
  want_list_id TEXT NOT NULL REFERENCES want_lists(id) ON DELETE CASCADE,
  product_id TEXT NOT NULL REFERENCES products(id),
  added_at TEXT NOT NULL,
  UNIQUE (want_list_id, product_id)
);
CREATE INDEX IF NOT EXISTS idx_want_list_items_product ON want_list_items(product_id);

-- Interest queue: positions dense 1..N per product
CREATE TABLE IF NOT EXISTS interest_queue_entries(
  product_id TEXT NOT NULL REFERENCES products(id),
  buyer_id TEXT NOT NULL REFERENCES users(id),
  position INTEGER NOT NULL,
  created_at TEXT NOT NULL,
  PRIMARY KEY (product_id, buyer_id),
  UNIQUE (product_id, position)
);
CREATE INDEX IF NOT EXISTS idx_queue_buyer ON interest_queue_entries(buyer_id);

-- Sales records (write-once)
CREATE TABLE IF NOT EXISTS sales_records(
  id TEXT PRIMARY KEY,
  seller_id TEXT NOT NULL DEFAULT '',
  buyer_id TEXT NOT NULL,
  want_list_id TEXT NOT NULL UNIQUE REFERENCES want_lists(id),
  total_cents BIGINT NOT NULL,
  item_count INTEGER NOT NULL,
  completed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sales_record_lines(
  sales_record_id TEXT NOT NULL REFERENCES sales_records(id),
  product_id TEXT NOT NULL,
  seller_id TEXT NOT NULL,
  price_cents BIGINT NOT NULL,
  PRIMARY KEY (sales_record_id, product_id)
);

CREATE TABLE IF NOT EXISTS sales_outbox(
  id TEXT PRIMARY KEY,
  aggregate_id TEXT NOT NULL,
  type TEXT NOT NULL,
  payload TEXT NOT NULL,
  traceparent TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'pending',
  relay_id TEXT NOT NULL DEFAULT '',
  lease_until TEXT NOT NULL DEFAULT '',
  retry_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sales_outbox_status ON sales_outbox(status, created_at);
`
	_, err := db.Exec(schema)
	return err
}
