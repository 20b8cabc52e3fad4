/*
Package postgres provides the PostgreSQL-backed ledger store.

PURPOSE:
  Opens a pgx connection pool, migrates the ledger schema and exposes it
  through database/sql so the shared store/sqlstore queries run
  unchanged. Stock rows are locked with SELECT ... FOR UPDATE, which
  serializes writers across processes.

USAGE:
  store, err := postgres.New(ctx, os.Getenv("DATABASE_URL"))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

NUMERIC COLUMNS:
  quantity  NUMERIC(14,3)
  money     NUMERIC(12,2)
  percent   NUMERIC(5,2)

SEE ALSO:
  - store/sqlstore: query implementation
  - store/sqlite:   single-file backend
*/
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/store/sqlstore"
)

const uniqueViolation = "23505"

// Dialect is the PostgreSQL flavour of the shared SQL store.
var Dialect = sqlstore.Dialect{
	Name:              "postgres",
	Numbered:          true,
	LockRows:          true,
	IsUniqueViolation: isUniqueViolation,
}

// Store is a sqlstore.Store that also owns the pgx pool behind it.
type Store struct {
	*sqlstore.Store
	pool *pgxpool.Pool
}

var _ ledger.Backend = (*Store)(nil)

// New connects to databaseURL, pings it and migrates the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database url not set")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	return &Store{Store: sqlstore.New(db, Dialect), pool: pool}, nil
}

// Pool exposes the pgx pool for callers that want native pgx access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Close() error {
	err := s.Store.Close()
	s.pool.Close()
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

const schema = `
CREATE TABLE IF NOT EXISTS branches (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	code TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS warehouses (
	id TEXT PRIMARY KEY,
	branch_id TEXT NOT NULL REFERENCES branches(id),
	name TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS items (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	sku TEXT UNIQUE,
	unit TEXT NOT NULL DEFAULT '',
	tax_percent NUMERIC(5,2),
	is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS parties (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	party_types TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS payment_methods (
	id TEXT PRIMARY KEY,
	branch_id TEXT NOT NULL REFERENCES branches(id),
	name TEXT NOT NULL,
	type TEXT NOT NULL CHECK (type IN ('cash_drawer', 'bank_account', 'credit', 'other')),
	is_active BOOLEAN NOT NULL DEFAULT TRUE
);

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
	system_generated BOOLEAN NOT NULL DEFAULT FALSE,
	audited BOOLEAN NOT NULL DEFAULT FALSE,
	audited_by TEXT,
	audited_at TIMESTAMPTZ,
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
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
	quantity NUMERIC(14,3) NOT NULL,
	unit_price NUMERIC(12,2) NOT NULL,
	tax_percent NUMERIC(5,2),
	discount NUMERIC(12,2) NOT NULL DEFAULT 0,
	PRIMARY KEY (transaction_id, line_no)
);

CREATE TABLE IF NOT EXISTS transport_details (
	transaction_id TEXT PRIMARY KEY REFERENCES transactions(id),
	transport_name TEXT NOT NULL,
	booked_date TEXT,
	lr_number TEXT,
	freight_amount NUMERIC(12,2)
);

CREATE TABLE IF NOT EXISTS transaction_attachments (
	id TEXT PRIMARY KEY,
	transaction_id TEXT NOT NULL REFERENCES transactions(id),
	file_path TEXT NOT NULL,
	file_type TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS stock_balances (
	id TEXT PRIMARY KEY,
	branch_id TEXT NOT NULL REFERENCES branches(id),
	warehouse_id TEXT NOT NULL REFERENCES warehouses(id),
	item_id TEXT NOT NULL REFERENCES items(id),
	quantity NUMERIC(14,3) NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (branch_id, warehouse_id, item_id)
);

CREATE TABLE IF NOT EXISTS stock_movements (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	branch_id TEXT NOT NULL,
	warehouse_id TEXT NOT NULL,
	item_id TEXT NOT NULL,
	delta NUMERIC(14,3) NOT NULL,
	movement_ref TEXT NOT NULL,
	balance NUMERIC(14,3) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (movement_ref, branch_id, warehouse_id, item_id)
);

CREATE INDEX IF NOT EXISTS idx_stock_movements_key
	ON stock_movements(branch_id, warehouse_id, item_id, seq);

CREATE TABLE IF NOT EXISTS adjustments (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	reference_table TEXT NOT NULL,
	reference_id TEXT NOT NULL,
	adjustment_type TEXT NOT NULL,
	old_value JSON NOT NULL,
	new_value JSON NOT NULL,
	reason TEXT NOT NULL,
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_adjustments_reference
	ON adjustments(reference_table, reference_id, seq);

CREATE OR REPLACE FUNCTION reject_append_only_change() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION '% is append-only', TG_TABLE_NAME;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS stock_movements_append_only ON stock_movements;
CREATE TRIGGER stock_movements_append_only
	BEFORE UPDATE OR DELETE ON stock_movements
	FOR EACH ROW EXECUTE FUNCTION reject_append_only_change();

DROP TRIGGER IF EXISTS adjustments_append_only ON adjustments;
CREATE TRIGGER adjustments_append_only
	BEFORE UPDATE OR DELETE ON adjustments
	FOR EACH ROW EXECUTE FUNCTION reject_append_only_change();

CREATE TABLE IF NOT EXISTS expenses (
	id TEXT PRIMARY KEY,
	branch_id TEXT NOT NULL REFERENCES branches(id),
	party_id TEXT REFERENCES parties(id),
	employee_id TEXT REFERENCES parties(id),
	ledger TEXT NOT NULL,
	amount NUMERIC(12,2) NOT NULL,
	payment_method_id TEXT NOT NULL REFERENCES payment_methods(id),
	notes TEXT,
	business_date TEXT NOT NULL,
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_expenses_branch_date
	ON expenses(branch_id, business_date);

CREATE TABLE IF NOT EXISTS cash_drawer_daily (
	id TEXT PRIMARY KEY,
	branch_id TEXT NOT NULL REFERENCES branches(id),
	business_date TEXT NOT NULL,
	opening_cash NUMERIC(12,2) NOT NULL,
	system_cash NUMERIC(12,2) NOT NULL,
	closing_cash NUMERIC(12,2),
	difference NUMERIC(12,2),
	adjustment_reason TEXT,
	audited_by TEXT,
	audited_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (branch_id, business_date)
);
`
