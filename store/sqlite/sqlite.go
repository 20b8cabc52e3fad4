/*
Package sqlite provides the SQLite-backed ledger store.

PURPOSE:
  Opens a SQLite database, migrates the ledger schema and returns a
  sqlstore.Store speaking the SQLite dialect. All query code lives in
  store/sqlstore and is shared with PostgreSQL.

KEY TABLES:
  transactions, transaction_items,      commercial events and their lines
  transport_details, transaction_attachments
  stock_balances                        one row per (branch, warehouse, item)
  stock_movements                       append-only, unique (ref, key)
  adjustments                           append-only audit log
  expenses, cash_drawer_daily           cash inputs, one drawer per branch-day
  branches, warehouses, items,          master data
  parties, payment_methods

APPEND-ONLY ENFORCEMENT:
  Triggers reject UPDATE and DELETE on stock_movements and adjustments,
  so the guarantee holds even for writers outside this package.

CONCURRENCY:
  The pool is limited to one connection: SQLite has a single writer and
  ":memory:" databases are per connection. Storage transactions therefore
  run one at a time and readers wait for the writer to commit.

WAL MODE:
  File databases are opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  eng := ledger.New(store, ledger.Options{})

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - store/sqlstore: query implementation
  - ledger/store:   in-memory implementation for tests
*/
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/stock-ledger/store/sqlstore"
)

// Dialect is the SQLite flavour of the shared SQL store.
var Dialect = sqlstore.Dialect{
	Name:              "sqlite",
	Numbered:          false,
	LockRows:          false,
	IsUniqueViolation: isUniqueConstraintError,
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*sqlstore.Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000"
	if dbPath != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return sqlstore.New(db, Dialect), nil
}

func isUniqueConstraintError(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// migrate creates the database schema.
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

const schema = `
	-- Master data
	CREATE TABLE IF NOT EXISTS branches (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS warehouses (
		id TEXT PRIMARY KEY,
		branch_id TEXT NOT NULL REFERENCES branches(id),
		name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		sku TEXT UNIQUE,
		unit TEXT NOT NULL DEFAULT '',
		tax_percent TEXT,
		is_active BOOLEAN NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS parties (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		party_types TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS payment_methods (
		id TEXT PRIMARY KEY,
		branch_id TEXT NOT NULL REFERENCES branches(id),
		name TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('cash_drawer', 'bank_account', 'credit', 'other')),
		is_active BOOLEAN NOT NULL DEFAULT 1
	);

	-- Transactions
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		branch_id TEXT NOT NULL REFERENCES branches(id),
		party_id TEXT NOT NULL REFERENCES parties(id),
		employee_id TEXT REFERENCES parties(id),
		type TEXT NOT NULL CHECK (type IN ('purchase', 'sales', 'return')),
		status TEXT NOT NULL,
		return_of TEXT REFERENCES transactions(id),
		bill_number TEXT,
		bill_date TEXT,
		shipped_date TEXT,
		payment_method_id TEXT REFERENCES payment_methods(id),
		notes TEXT,
		system_generated BOOLEAN NOT NULL DEFAULT 0,
		audited BOOLEAN NOT NULL DEFAULT 0,
		audited_by TEXT,
		audited_at TIMESTAMP,
		created_by TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_branch_bill_date
		ON transactions(branch_id, bill_date);

	CREATE INDEX IF NOT EXISTS idx_transactions_return_of
		ON transactions(return_of);

	CREATE TABLE IF NOT EXISTS transaction_items (
		transaction_id TEXT NOT NULL REFERENCES transactions(id),
		line_no INTEGER NOT NULL,
		item_id TEXT NOT NULL REFERENCES items(id),
		warehouse_id TEXT NOT NULL REFERENCES warehouses(id),
		quantity TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		tax_percent TEXT,
		discount TEXT NOT NULL DEFAULT '0',
		PRIMARY KEY (transaction_id, line_no)
	);

	CREATE TABLE IF NOT EXISTS transport_details (
		transaction_id TEXT PRIMARY KEY REFERENCES transactions(id),
		transport_name TEXT NOT NULL,
		booked_date TEXT,
		lr_number TEXT,
		freight_amount TEXT
	);

	CREATE TABLE IF NOT EXISTS transaction_attachments (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL REFERENCES transactions(id),
		file_path TEXT NOT NULL,
		file_type TEXT,
		created_at TIMESTAMP NOT NULL
	);

	-- Stock
	CREATE TABLE IF NOT EXISTS stock_balances (
		id TEXT PRIMARY KEY,
		branch_id TEXT NOT NULL REFERENCES branches(id),
		warehouse_id TEXT NOT NULL REFERENCES warehouses(id),
		item_id TEXT NOT NULL REFERENCES items(id),
		quantity TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (branch_id, warehouse_id, item_id)
	);

	CREATE TABLE IF NOT EXISTS stock_movements (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		branch_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		delta TEXT NOT NULL,
		movement_ref TEXT NOT NULL,
		balance TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (movement_ref, branch_id, warehouse_id, item_id)
	);

	CREATE INDEX IF NOT EXISTS idx_stock_movements_key
		ON stock_movements(branch_id, warehouse_id, item_id, seq);

	CREATE TRIGGER IF NOT EXISTS stock_movements_no_update
		BEFORE UPDATE ON stock_movements
		BEGIN SELECT RAISE(ABORT, 'stock_movements is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS stock_movements_no_delete
		BEFORE DELETE ON stock_movements
		BEGIN SELECT RAISE(ABORT, 'stock_movements is append-only'); END;

	-- Adjustments (append-only audit log)
	CREATE TABLE IF NOT EXISTS adjustments (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		reference_table TEXT NOT NULL,
		reference_id TEXT NOT NULL,
		adjustment_type TEXT NOT NULL,
		old_value TEXT NOT NULL,
		new_value TEXT NOT NULL,
		reason TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_adjustments_reference
		ON adjustments(reference_table, reference_id, seq);

	CREATE TRIGGER IF NOT EXISTS adjustments_no_update
		BEFORE UPDATE ON adjustments
		BEGIN SELECT RAISE(ABORT, 'adjustments is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS adjustments_no_delete
		BEFORE DELETE ON adjustments
		BEGIN SELECT RAISE(ABORT, 'adjustments is append-only'); END;

	-- Cash
	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		branch_id TEXT NOT NULL REFERENCES branches(id),
		party_id TEXT REFERENCES parties(id),
		employee_id TEXT REFERENCES parties(id),
		ledger TEXT NOT NULL,
		amount TEXT NOT NULL,
		payment_method_id TEXT NOT NULL REFERENCES payment_methods(id),
		notes TEXT,
		business_date TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_expenses_branch_date
		ON expenses(branch_id, business_date);

	CREATE TABLE IF NOT EXISTS cash_drawer_daily (
		id TEXT PRIMARY KEY,
		branch_id TEXT NOT NULL REFERENCES branches(id),
		business_date TEXT NOT NULL,
		opening_cash TEXT NOT NULL,
		system_cash TEXT NOT NULL,
		closing_cash TEXT,
		difference TEXT,
		adjustment_reason TEXT,
		audited_by TEXT,
		audited_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (branch_id, business_date)
	);
`
