/*
store.go - Persistence contract for the ledger engine

PURPOSE:
  Defines the interface between the engine and the database. The engine
  decides what to write; the Store only makes it durable and enforces the
  uniqueness constraints that back the engine's invariants.

KEY INTERFACES:
  Directory:        master-data reads (branches, warehouses, items, ...)
  DirectoryWriter:  master-data writes, used by seeding and tests only
  TransactionStore: transactions, status compare-and-set, audit stamps
  StockStore:       balances and the append-only movement log
  AdjustmentStore:  the append-only adjustment log
  CashStore:        expenses and daily cash drawers
  Store:            all of the above plus WithTx

STORAGE-LEVEL CONSTRAINTS:
  - one stock balance per (branch, warehouse, item)
  - one movement per (movement reference, stock key)
  - one cash drawer per (branch, business date)
  - adjustments and movements have no update or delete

TRANSACTIONS:
  WithTx runs fn against a Store bound to one storage transaction. If fn
  returns an error everything fn wrote is rolled back. Readers outside the
  transaction never see a partial write.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and the CLI's dry runs
  - store/sqlite:           SQLite
  - store/postgres:         PostgreSQL through pgx

SEE ALSO:
  - engine.go: the only caller
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// MASTER DATA
// =============================================================================

// Directory reads master data. Missing rows are ErrNotFound.
type Directory interface {
	Branch(ctx context.Context, id BranchID) (*Branch, error)
	Branches(ctx context.Context) ([]Branch, error)
	Warehouse(ctx context.Context, id WarehouseID) (*Warehouse, error)
	Item(ctx context.Context, id ItemID) (*Item, error)
	Party(ctx context.Context, id PartyID) (*Party, error)
	PaymentMethod(ctx context.Context, id PaymentMethodID) (*PaymentMethod, error)
}

// DirectoryWriter upserts master data. The engine never calls it.
type DirectoryWriter interface {
	SaveBranch(ctx context.Context, b Branch) error
	SaveWarehouse(ctx context.Context, w Warehouse) error
	SaveItem(ctx context.Context, it Item) error
	SaveParty(ctx context.Context, p Party) error
	SavePaymentMethod(ctx context.Context, pm PaymentMethod) error
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// StatusUpdate is a compare-and-set of a transaction's status.
type StatusUpdate struct {
	ID   TransactionID
	From Status
	To   Status
	// BillDate and ShippedDate are written only when the stored value is unset.
	BillDate    Date
	ShippedDate Date
	At          time.Time
}

type TransactionStore interface {
	InsertTransaction(ctx context.Context, t *Transaction) error
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// UpdateTransactionStatus fails with ErrConcurrentModification when the
	// stored status is not u.From.
	UpdateTransactionStatus(ctx context.Context, u StatusUpdate) error

	UpdateLinePrice(ctx context.Context, id TransactionID, lineNo int, price Money, at time.Time) error
	SetTransactionAudit(ctx context.Context, id TransactionID, by PartyID, at time.Time) error

	// TransactionsBilledOn returns a branch's transactions whose bill date is date.
	TransactionsBilledOn(ctx context.Context, branch BranchID, date Date) ([]Transaction, error)

	// ReturnsOf returns the return transactions that refer to id, oldest first.
	ReturnsOf(ctx context.Context, id TransactionID) ([]Transaction, error)
}

// =============================================================================
// STOCK
// =============================================================================

type StockStore interface {
	// LockStock returns the key's quantity, creating a zero row when absent.
	// Inside WithTx the row stays locked until the transaction ends.
	LockStock(ctx context.Context, key StockKey, at time.Time) (Quantity, error)

	MovementApplied(ctx context.Context, ref MovementRef, key StockKey) (bool, error)

	// InsertMovement fails with ErrDuplicateMovement when (ref, key) exists.
	InsertMovement(ctx context.Context, m *Movement) error

	SetStock(ctx context.Context, key StockKey, q Quantity, at time.Time) error

	// StockQuantity is zero when the key has never moved.
	StockQuantity(ctx context.Context, key StockKey) (Quantity, error)
	StockBalances(ctx context.Context, branch BranchID) ([]StockBalance, error)
	Movements(ctx context.Context, key StockKey) ([]Movement, error)
}

// =============================================================================
// ADJUSTMENTS - append-only
// =============================================================================

type AdjustmentStore interface {
	InsertAdjustment(ctx context.Context, a *Adjustment) error
	GetAdjustment(ctx context.Context, id AdjustmentID) (*Adjustment, error)
	// ListAdjustments returns adjustments for one reference, oldest first.
	ListAdjustments(ctx context.Context, ref Reference) ([]Adjustment, error)
}

// =============================================================================
// CASH
// =============================================================================

type CashStore interface {
	InsertExpense(ctx context.Context, e *Expense) error
	GetExpense(ctx context.Context, id ExpenseID) (*Expense, error)
	ExpensesOn(ctx context.Context, branch BranchID, date Date) ([]Expense, error)

	CashDrawer(ctx context.Context, branch BranchID, date Date) (*CashDrawerDaily, error)
	// PreviousCashDrawer returns the latest drawer strictly before date.
	PreviousCashDrawer(ctx context.Context, branch BranchID, date Date) (*CashDrawerDaily, error)
	// UpsertCashDrawer writes the row keyed by (branch, business date).
	UpsertCashDrawer(ctx context.Context, d *CashDrawerDaily) error
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	Directory
	TransactionStore
	StockStore
	AdjustmentStore
	CashStore

	// WithTx executes fn within a storage transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Backend is a Store that can also be seeded and closed.
type Backend interface {
	Store
	DirectoryWriter
	Close() error
}
