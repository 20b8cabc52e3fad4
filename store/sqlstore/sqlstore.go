/*
Package sqlstore implements ledger.Backend on database/sql.

PURPOSE:
  One implementation of every ledger.Store method, shared by the SQLite
  and PostgreSQL backends. A Dialect covers what differs between them:
  placeholder style, row locking and unique-violation detection. Each
  backend owns its schema and its connection setup.

TRANSACTIONS:
  WithTx opens a *sql.Tx and hands fn a Store bound to it. Calling WithTx
  on that Store joins the open transaction. fn's error rolls back.

ROW LOCKING:
  LockStock upserts the balance row and, where the dialect supports it,
  re-reads it with SELECT ... FOR UPDATE so concurrent writers from other
  processes queue on the row. SQLite has a single writer already.

TYPES ON THE WIRE:
  ids, statuses, business dates   TEXT ("YYYY-MM-DD" for dates)
  money, quantity, percent        decimal text in, decimal.Decimal out
  timestamps                      time.Time
  adjustment snapshots            JSON text, returned byte for byte

SEE ALSO:
  - store/sqlite:   SQLite schema and connection
  - store/postgres: PostgreSQL schema and pgx pool
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/warp/stock-ledger/ledger"
)

// Dialect describes the SQL differences between backends.
type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2, ...) instead of '?'.
	Numbered bool
	// LockRows appends FOR UPDATE to row-locking reads.
	LockRows bool
	// IsUniqueViolation reports a unique constraint failure.
	IsUniqueViolation func(error) bool
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements ledger.Backend.
type Store struct {
	db      *sql.DB
	q       querier
	dialect Dialect
	inTx    bool
}

var (
	_ ledger.Backend = (*Store)(nil)
)

func New(db *sql.DB, dialect Dialect) *Store {
	if dialect.IsUniqueViolation == nil {
		dialect.IsUniqueViolation = func(error) bool { return false }
	}
	return &Store{db: db, q: db, dialect: dialect}
}

// DB exposes the underlying pool, for migrations and health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.dialect }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &Store{db: s.db, q: sqlTx, dialect: s.dialect, inTx: true}
	if err := fn(txStore); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// QUERY HELPERS
// =============================================================================

// rebind rewrites '?' placeholders for dialects with numbered placeholders.
// Queries in this package never contain a literal '?'.
func (s *Store) rebind(query string) string {
	if !s.dialect.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) forUpdate() string {
	if s.dialect.LockRows {
		return " FOR UPDATE"
	}
	return ""
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.rebind(query), args...)
}

// insert maps a unique violation on a primary key to ErrConcurrentModification.
func (s *Store) insert(ctx context.Context, what, query string, args ...any) error {
	if _, err := s.exec(ctx, query, args...); err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return fmt.Errorf("insert %s: %w", what, ledger.ErrConcurrentModification)
		}
		return fmt.Errorf("failed to insert %s: %w", what, err)
	}
	return nil
}

// mustAffect returns ErrNotFound when an UPDATE touched no row.
func mustAffect(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrNotFound
	}
	return err
}
