/*
engine.go - The in-process API of the ledger core

PURPOSE:
  Engine wires the four components to one Store and one Locker and exposes
  the operations the surrounding CRUD/API layer calls. Every mutating call
  takes an explicit Actor; the engine records who acted but does not
  decide whether they may.

COMPONENTS:
  Stock        StockLedger           (stock.go)
  Transactions TransactionService    (transaction.go)
  Audit        AuditLog              (audit.go)
  CashDrawer   CashDrawerReconciler  (cashdrawer.go)

LOCK ORDER:
  Locks are always taken through one Locker.Acquire call per operation,
  which sorts keys. Key names:
    txn:<id>            a transaction's status and lines
    stock:<b>/<w>/<i>   one stock balance
    drawer:<b>@<date>   one cash drawer day

USAGE:
  eng := ledger.New(store.NewMemory(), ledger.Options{})
  t, err := eng.CreateTransaction(ctx, ledger.NewTransaction{...}, actor)
  t, err = eng.TransitionTransaction(ctx, t.ID, ledger.StatusBilled, actor)
*/
package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type NegativeStockPolicy string

const (
	NegativeStockReject NegativeStockPolicy = "reject"
	NegativeStockAllow  NegativeStockPolicy = "allow"
)

func ParseNegativeStockPolicy(s string) (NegativeStockPolicy, error) {
	switch p := NegativeStockPolicy(s); p {
	case NegativeStockReject, NegativeStockAllow:
		return p, nil
	case "":
		return NegativeStockReject, nil
	}
	return "", invalid("negative_stock", "unknown negative stock policy %q, want reject or allow", s)
}

const DefaultMaxAttempts = 3

// Options configures an Engine. The zero value is usable.
type Options struct {
	NegativeStock NegativeStockPolicy
	Lifecycle     *Lifecycle
	Locker        Locker
	// Clock returns the current time. Business dates are derived from it in Location.
	Clock       func() time.Time
	Location    *time.Location
	MaxAttempts int
	Logger      *zerolog.Logger
}

// core is the state shared by all components.
type core struct {
	store       Store
	locker      Locker
	lifecycle   *Lifecycle
	negative    NegativeStockPolicy
	clock       func() time.Time
	loc         *time.Location
	maxAttempts int
	validate    *validator.Validate
	log         zerolog.Logger
}

// now is truncated to microseconds so that stored timestamps round-trip
// through every backend unchanged.
func (c *core) now() time.Time { return c.clock().UTC().Truncate(time.Microsecond) }

func (c *core) today() Date { return DateOf(c.clock(), c.loc) }

type Engine struct {
	Stock        *StockLedger
	Transactions *TransactionService
	Audit        *AuditLog
	CashDrawer   *CashDrawerReconciler

	core *core
}

func New(store Store, opts Options) *Engine {
	c := &core{
		store:       store,
		locker:      opts.Locker,
		lifecycle:   opts.Lifecycle,
		negative:    opts.NegativeStock,
		clock:       opts.Clock,
		loc:         opts.Location,
		maxAttempts: opts.MaxAttempts,
		validate:    newValidator(),
		log:         zerolog.Nop(),
	}
	if c.locker == nil {
		c.locker = NewKeyedLocker(0, 0)
	}
	if c.lifecycle == nil {
		c.lifecycle = DefaultLifecycle()
	}
	if c.negative == "" {
		c.negative = NegativeStockReject
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if opts.Logger != nil {
		c.log = *opts.Logger
	}

	audit := &AuditLog{core: c}
	return &Engine{
		Stock:        &StockLedger{core: c},
		Transactions: &TransactionService{core: c},
		Audit:        audit,
		CashDrawer:   &CashDrawerReconciler{core: c, audit: audit},
		core:         c,
	}
}

// =============================================================================
// OPERATIONS
// =============================================================================

func (e *Engine) CreateTransaction(ctx context.Context, in NewTransaction, actor Actor) (*Transaction, error) {
	return e.Transactions.Create(ctx, in, actor)
}

func (e *Engine) TransitionTransaction(ctx context.Context, id TransactionID, target Status, actor Actor) (*Transaction, error) {
	return e.Transactions.Transition(ctx, id, target, actor)
}

func (e *Engine) AuditTransaction(ctx context.Context, id TransactionID, actor Actor) (*Transaction, error) {
	return e.Transactions.Audit(ctx, id, actor)
}

func (e *Engine) Transaction(ctx context.Context, id TransactionID) (*Transaction, error) {
	return e.Transactions.Get(ctx, id)
}

// RecordAdjustment appends an adjustment addressed by its persisted
// (table, id) form. oldValue and newValue are any JSON-encodable snapshots.
func (e *Engine) RecordAdjustment(ctx context.Context, table RefTable, refID string, typ AdjustmentType, oldValue, newValue any, reason string, actor Actor) (*Adjustment, error) {
	ref, err := ParseReference(table, refID)
	if err != nil {
		return nil, err
	}
	return e.Audit.Record(ctx, AdjustmentInput{
		Ref:      ref,
		Type:     typ,
		OldValue: oldValue,
		NewValue: newValue,
		Reason:   reason,
	}, actor)
}

func (e *Engine) Adjustment(ctx context.Context, id AdjustmentID) (*Adjustment, error) {
	return e.Audit.Get(ctx, id)
}

func (e *Engine) Adjustments(ctx context.Context, ref Reference) ([]Adjustment, error) {
	return e.Audit.List(ctx, ref)
}

func (e *Engine) CorrectStock(ctx context.Context, key StockKey, target Quantity, reason string, actor Actor) (*Adjustment, error) {
	return e.Audit.CorrectStock(ctx, key, target, reason, actor)
}

func (e *Engine) CorrectLinePrice(ctx context.Context, id TransactionID, lineNo int, price Money, reason string, actor Actor) (*Adjustment, error) {
	return e.Audit.CorrectLinePrice(ctx, id, lineNo, price, reason, actor)
}

func (e *Engine) ApplyMovement(ctx context.Context, key StockKey, delta Quantity, ref MovementRef) (Quantity, error) {
	return e.Stock.ApplyMovement(ctx, key, delta, ref)
}

func (e *Engine) GetStockQuantity(ctx context.Context, key StockKey) (Quantity, error) {
	return e.Stock.Quantity(ctx, key)
}

func (e *Engine) Movements(ctx context.Context, key StockKey) ([]Movement, error) {
	return e.Stock.Movements(ctx, key)
}

func (e *Engine) StockBalances(ctx context.Context, branch BranchID) ([]StockBalance, error) {
	return e.Stock.Balances(ctx, branch)
}

func (e *Engine) OpenCashDrawer(ctx context.Context, branch BranchID, date Date, actor Actor) (*CashDrawerDaily, error) {
	return e.CashDrawer.Open(ctx, branch, date, actor)
}

func (e *Engine) ReconcileCashDrawer(ctx context.Context, branch BranchID, date Date, closingCash Money, actor Actor) (*CashDrawerDaily, error) {
	return e.CashDrawer.Reconcile(ctx, branch, date, closingCash, actor)
}

func (e *Engine) AuditCashDrawer(ctx context.Context, branch BranchID, date Date, actor Actor) (*CashDrawerDaily, error) {
	return e.CashDrawer.Audit(ctx, branch, date, actor)
}

func (e *Engine) ReopenCashDrawer(ctx context.Context, branch BranchID, date Date, reason string, actor Actor) (*Adjustment, error) {
	return e.CashDrawer.Reopen(ctx, branch, date, reason, actor)
}

func (e *Engine) CashDrawerDay(ctx context.Context, branch BranchID, date Date) (*CashDrawerDaily, error) {
	return e.CashDrawer.Get(ctx, branch, date)
}

func (e *Engine) RecordExpense(ctx context.Context, in NewExpense, actor Actor) (*Expense, error) {
	return e.CashDrawer.RecordExpense(ctx, in, actor)
}

// Today is the current business date in the engine's location.
func (e *Engine) Today() Date { return e.core.today() }

// =============================================================================
// SHARED HELPERS
// =============================================================================

func (c *core) checkActor(actor Actor) error {
	if actor.PartyID == "" {
		return invalid("actor", "actor party id is required")
	}
	return nil
}

// withLocks runs fn while holding keys.
func (c *core) withLocks(ctx context.Context, keys []string, fn func() error) error {
	release, err := c.locker.Acquire(ctx, keys...)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, invalid("value", "snapshot is not valid JSON")
		}
		return append(json.RawMessage(nil), raw...), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, invalid("value", "snapshot is not JSON encodable: %v", err)
	}
	return b, nil
}
