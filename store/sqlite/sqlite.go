/*
Package sqlite provides the durable SQLite implementation of asset.Store.

PURPOSE:
  Implements the unit of work (asset.TxBeginner), the read-only projections
  (asset.Queries), the employee / business unit directory used by the
  workflows and the metering feed used by the depreciation scheduler.

KEY TABLES:
  assets:               one row per asset, optimistic version column
  deployments:          deployment records, at most one active per asset
  transfers:            transfer records, at most one active per asset
  maintenance:          maintenance records, at most one active per asset
  disposals:            one terminal record per disposed asset
  depreciation_entries: append-only ledger, unique (asset_id, period)
  asset_history:        append-only audit trail, seq is the event cursor
  sequences:            named counters for DT- and TR- numbers
  employees, business_units, usage_readings

CONCURRENCY:
  Units of work open with BEGIN IMMEDIATE (_txlock=immediate) so the write
  lock is taken before the first read; the pool is capped at one connection.
  The "one active record per asset" rule is also a partial unique index, so
  the loser of any race that slips past the in-transaction check still gets
  a ConflictError.

ENCODING:
  Amounts and rates are TEXT (shopspring/decimal scans and values them).
  Timestamps are fixed-width UTC TEXT so they compare lexically. Periods are
  YYYY-MM-DD.

USAGE:
  store, err := sqlite.New("./data/assets.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - asset/store.go: interface definitions
  - asset/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/asset-engine/asset"
)

// Store implements asset.Store, workflow.Directory and
// depreciation.UsageSource on SQLite.
type Store struct {
	db *sql.DB
}

var _ asset.Store = (*Store)(nil)

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

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

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const (
	activeDeployment  = `status IN ('PENDING_ACCOUNTING_APPROVAL', 'APPROVED', 'DEPLOYED')`
	activeTransfer    = `status IN ('PENDING_APPROVAL', 'APPROVED', 'IN_TRANSIT')`
	activeMaintenance = `status = 'IN_PROGRESS'`
)

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS business_units (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		business_unit_id TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		category_id TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL,
		business_unit_id TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		purchase_price TEXT NOT NULL,
		salvage_value TEXT NOT NULL,
		current_book_value TEXT NOT NULL,
		accumulated_depreciation TEXT NOT NULL,
		monthly_depreciation TEXT NOT NULL,
		method TEXT NOT NULL,
		useful_life_months INTEGER NOT NULL DEFAULT 0,
		depreciation_rate TEXT NOT NULL DEFAULT '0',
		total_expected_units INTEGER NOT NULL DEFAULT 0,
		purchase_date TEXT NOT NULL,
		depreciation_start_date TEXT NOT NULL,
		next_depreciation_date TEXT,
		is_fully_depreciated BOOLEAN NOT NULL DEFAULT FALSE,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Asset codes are unique per business unit, case-insensitively
	CREATE UNIQUE INDEX IF NOT EXISTS idx_assets_unit_code
		ON assets(business_unit_id, code COLLATE NOCASE);

	-- Scheduler hot path
	CREATE INDEX IF NOT EXISTS idx_assets_due
		ON assets(next_depreciation_date)
		WHERE is_fully_depreciated = 0 AND status NOT IN ('DISPOSED', 'RETIRED');

	CREATE TABLE IF NOT EXISTS deployments (
		id TEXT PRIMARY KEY,
		transmittal_number TEXT NOT NULL UNIQUE,
		asset_id TEXT NOT NULL REFERENCES assets(id),
		employee_id TEXT NOT NULL,
		status TEXT NOT NULL,
		deployed_date TEXT,
		expected_return_date TEXT,
		returned_date TEXT,
		condition_notes TEXT NOT NULL DEFAULT '',
		return_condition TEXT NOT NULL DEFAULT '',
		rejection_reason TEXT NOT NULL DEFAULT '',
		requested_by TEXT NOT NULL,
		requested_at TEXT NOT NULL,
		approved_by TEXT NOT NULL DEFAULT '',
		approved_at TEXT,
		closed_by TEXT NOT NULL DEFAULT '',
		closed_at TEXT,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: one active deployment per asset
	CREATE UNIQUE INDEX IF NOT EXISTS idx_deployments_one_active
		ON deployments(asset_id) WHERE ` + activeDeployment + `;

	CREATE TABLE IF NOT EXISTS transfers (
		id TEXT PRIMARY KEY,
		transfer_number TEXT NOT NULL UNIQUE,
		asset_id TEXT NOT NULL REFERENCES assets(id),
		from_business_unit_id TEXT NOT NULL,
		to_business_unit_id TEXT NOT NULL,
		from_location TEXT NOT NULL DEFAULT '',
		to_location TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		rejection_reason TEXT NOT NULL DEFAULT '',
		transfer_cost TEXT NOT NULL DEFAULT '0',
		insurance_value TEXT NOT NULL DEFAULT '0',
		requested_by TEXT NOT NULL,
		requested_at TEXT NOT NULL,
		approved_by TEXT NOT NULL DEFAULT '',
		approved_at TEXT,
		shipped_by TEXT NOT NULL DEFAULT '',
		shipped_at TEXT,
		received_by TEXT NOT NULL DEFAULT '',
		received_at TEXT,
		closed_by TEXT NOT NULL DEFAULT '',
		closed_at TEXT,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: one active transfer per asset
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transfers_one_active
		ON transfers(asset_id) WHERE ` + activeTransfer + `;

	CREATE TABLE IF NOT EXISTS maintenance (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL REFERENCES assets(id),
		status TEXT NOT NULL,
		description TEXT NOT NULL,
		resolution TEXT NOT NULL DEFAULT '',
		cost TEXT NOT NULL DEFAULT '0',
		previous_status TEXT NOT NULL,
		started_by TEXT NOT NULL,
		started_at TEXT NOT NULL,
		completed_by TEXT NOT NULL DEFAULT '',
		completed_at TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_maintenance_one_active
		ON maintenance(asset_id) WHERE ` + activeMaintenance + `;

	CREATE TABLE IF NOT EXISTS disposals (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL UNIQUE REFERENCES assets(id),
		reason TEXT NOT NULL,
		disposal_date TEXT NOT NULL,
		book_value_at_disposal TEXT NOT NULL,
		disposal_value TEXT NOT NULL,
		disposal_cost TEXT NOT NULL,
		gain_loss TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		disposed_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Depreciation ledger (append-only)
	CREATE TABLE IF NOT EXISTS depreciation_entries (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL REFERENCES assets(id),
		period TEXT NOT NULL,
		period_date TEXT NOT NULL,
		method TEXT NOT NULL,
		amount TEXT NOT NULL,
		book_value_before TEXT NOT NULL,
		book_value_after TEXT NOT NULL,
		accumulated_after TEXT NOT NULL,
		units_consumed INTEGER,
		fully_depreciated BOOLEAN NOT NULL DEFAULT FALSE,
		posted_at TEXT NOT NULL,
		UNIQUE(asset_id, period)
	);

	-- Audit trail (append-only); seq is the event stream cursor
	CREATE TABLE IF NOT EXISTS asset_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		asset_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		record_id TEXT NOT NULL DEFAULT '',
		previous_status TEXT NOT NULL DEFAULT '',
		new_status TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		details_json TEXT,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_asset
		ON asset_history(asset_id, seq);

	CREATE TABLE IF NOT EXISTS sequences (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS usage_readings (
		asset_id TEXT NOT NULL,
		period TEXT NOT NULL,
		units INTEGER NOT NULL,
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (asset_id, period)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// UNIT OF WORK (asset.TxBeginner)
// =============================================================================

// Begin opens a BEGIN IMMEDIATE transaction. It waits for the single
// connection, honouring ctx.
func (s *Store) Begin(ctx context.Context) (asset.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &txRepo{q: tx, tx: tx}, nil
}

type txRepo struct {
	q  querier
	tx *sql.Tx
}

func (r *txRepo) Commit() error   { return r.tx.Commit() }
func (r *txRepo) Rollback() error { return r.tx.Rollback() }

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// HELPERS
// =============================================================================

const (
	// Fixed width so that TEXT comparison orders timestamps.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
	dateLayout = "2006-01-02"
)

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func formatDate(t time.Time) string { return t.UTC().Format(dateLayout) }

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// timeCol scans a TEXT timestamp or date into a time.Time.
type timeCol struct{ dst *time.Time }

func (c timeCol) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("time column: unexpected %T", src)
	}
	layout := timeLayout
	if len(s) == len(dateLayout) {
		layout = dateLayout
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return fmt.Errorf("time column: %w", err)
	}
	*c.dst = t
	return nil
}

// nullTimeCol scans a nullable TEXT timestamp into a *time.Time.
type nullTimeCol struct{ dst **time.Time }

func (c nullTimeCol) Scan(src any) error {
	if src == nil {
		*c.dst = nil
		return nil
	}
	var t time.Time
	if err := (timeCol{&t}).Scan(src); err != nil {
		return err
	}
	*c.dst = &t
	return nil
}

type row interface {
	Scan(dest ...any) error
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func isPrimaryKeyError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
