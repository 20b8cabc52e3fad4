// Package store provides the in-memory ledger.Store.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a ledger.Backend kept in maps. Every read and write takes the
// store lock; WithTx holds the write lock for the whole callback and
// restores a snapshot when the callback fails.
type Memory struct {
	mu   sync.RWMutex
	data *memoryData
}

type memoryData struct {
	branches   map[ledger.BranchID]ledger.Branch
	warehouses map[ledger.WarehouseID]ledger.Warehouse
	items      map[ledger.ItemID]ledger.Item
	parties    map[ledger.PartyID]ledger.Party
	methods    map[ledger.PaymentMethodID]ledger.PaymentMethod

	transactions map[ledger.TransactionID]*ledger.Transaction
	txOrder      []ledger.TransactionID

	balances  map[ledger.StockKey]ledger.StockBalance
	movements map[ledger.StockKey][]ledger.Movement
	applied   map[appliedKey]bool

	adjustments map[ledger.AdjustmentID]*ledger.Adjustment
	adjByRef    map[refKey][]ledger.AdjustmentID

	expenses     map[ledger.ExpenseID]*ledger.Expense
	expenseOrder []ledger.ExpenseID

	drawers map[drawerKey]*ledger.CashDrawerDaily
}

type appliedKey struct {
	ref ledger.MovementRef
	key ledger.StockKey
}

type refKey struct {
	table ledger.RefTable
	id    string
}

type drawerKey struct {
	branch ledger.BranchID
	date   string
}

func dk(b ledger.BranchID, d ledger.Date) drawerKey { return drawerKey{branch: b, date: d.String()} }

var (
	_ ledger.Backend = (*Memory)(nil)
	_ ledger.Store   = (*view)(nil)
)

func NewMemory() *Memory {
	return &Memory{data: &memoryData{
		branches:     make(map[ledger.BranchID]ledger.Branch),
		warehouses:   make(map[ledger.WarehouseID]ledger.Warehouse),
		items:        make(map[ledger.ItemID]ledger.Item),
		parties:      make(map[ledger.PartyID]ledger.Party),
		methods:      make(map[ledger.PaymentMethodID]ledger.PaymentMethod),
		transactions: make(map[ledger.TransactionID]*ledger.Transaction),
		balances:     make(map[ledger.StockKey]ledger.StockBalance),
		movements:    make(map[ledger.StockKey][]ledger.Movement),
		applied:      make(map[appliedKey]bool),
		adjustments:  make(map[ledger.AdjustmentID]*ledger.Adjustment),
		adjByRef:     make(map[refKey][]ledger.AdjustmentID),
		expenses:     make(map[ledger.ExpenseID]*ledger.Expense),
		drawers:      make(map[drawerKey]*ledger.CashDrawerDaily),
	}}
}

func (m *Memory) Close() error { return nil }

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The snapshot copies the whole store, so every write transaction costs
// O(store size); this backend is meant for tests and development.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(&view{d: m.data}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		branches:     copyMap(d.branches),
		warehouses:   copyMap(d.warehouses),
		items:        copyMap(d.items),
		parties:      copyMap(d.parties),
		methods:      copyMap(d.methods),
		transactions: make(map[ledger.TransactionID]*ledger.Transaction, len(d.transactions)),
		txOrder:      append([]ledger.TransactionID(nil), d.txOrder...),
		balances:     copyMap(d.balances),
		movements:    make(map[ledger.StockKey][]ledger.Movement, len(d.movements)),
		applied:      copyMap(d.applied),
		adjustments:  copyMap(d.adjustments),
		adjByRef:     make(map[refKey][]ledger.AdjustmentID, len(d.adjByRef)),
		expenses:     copyMap(d.expenses),
		expenseOrder: append([]ledger.ExpenseID(nil), d.expenseOrder...),
		drawers:      make(map[drawerKey]*ledger.CashDrawerDaily, len(d.drawers)),
	}
	for k, t := range d.transactions {
		c.transactions[k] = t.Clone()
	}
	for k, ms := range d.movements {
		c.movements[k] = append([]ledger.Movement(nil), ms...)
	}
	for k, ids := range d.adjByRef {
		c.adjByRef[k] = append([]ledger.AdjustmentID(nil), ids...)
	}
	for k, dr := range d.drawers {
		c.drawers[k] = dr.Clone()
	}
	return c
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	out := make(map[K]V, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// read runs fn under the read lock, write under the write lock.
func read[T any](m *Memory, fn func(v *view) (T, error)) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&view{d: m.data})
}

func (m *Memory) write(fn func(v *view) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&view{d: m.data})
}

// =============================================================================
// LOCKED ENTRY POINTS
// =============================================================================

func (m *Memory) SaveBranch(ctx context.Context, b ledger.Branch) error {
	return m.write(func(v *view) error { return v.SaveBranch(ctx, b) })
}

func (m *Memory) SaveWarehouse(ctx context.Context, w ledger.Warehouse) error {
	return m.write(func(v *view) error { return v.SaveWarehouse(ctx, w) })
}

func (m *Memory) SaveItem(ctx context.Context, it ledger.Item) error {
	return m.write(func(v *view) error { return v.SaveItem(ctx, it) })
}

func (m *Memory) SaveParty(ctx context.Context, p ledger.Party) error {
	return m.write(func(v *view) error { return v.SaveParty(ctx, p) })
}

func (m *Memory) SavePaymentMethod(ctx context.Context, pm ledger.PaymentMethod) error {
	return m.write(func(v *view) error { return v.SavePaymentMethod(ctx, pm) })
}

func (m *Memory) Branch(ctx context.Context, id ledger.BranchID) (*ledger.Branch, error) {
	return read(m, func(v *view) (*ledger.Branch, error) { return v.Branch(ctx, id) })
}

func (m *Memory) Branches(ctx context.Context) ([]ledger.Branch, error) {
	return read(m, func(v *view) ([]ledger.Branch, error) { return v.Branches(ctx) })
}

func (m *Memory) Warehouse(ctx context.Context, id ledger.WarehouseID) (*ledger.Warehouse, error) {
	return read(m, func(v *view) (*ledger.Warehouse, error) { return v.Warehouse(ctx, id) })
}

func (m *Memory) Item(ctx context.Context, id ledger.ItemID) (*ledger.Item, error) {
	return read(m, func(v *view) (*ledger.Item, error) { return v.Item(ctx, id) })
}

func (m *Memory) Party(ctx context.Context, id ledger.PartyID) (*ledger.Party, error) {
	return read(m, func(v *view) (*ledger.Party, error) { return v.Party(ctx, id) })
}

func (m *Memory) PaymentMethod(ctx context.Context, id ledger.PaymentMethodID) (*ledger.PaymentMethod, error) {
	return read(m, func(v *view) (*ledger.PaymentMethod, error) { return v.PaymentMethod(ctx, id) })
}

func (m *Memory) InsertTransaction(ctx context.Context, t *ledger.Transaction) error {
	return m.write(func(v *view) error { return v.InsertTransaction(ctx, t) })
}

func (m *Memory) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return read(m, func(v *view) (*ledger.Transaction, error) { return v.GetTransaction(ctx, id) })
}

func (m *Memory) UpdateTransactionStatus(ctx context.Context, u ledger.StatusUpdate) error {
	return m.write(func(v *view) error { return v.UpdateTransactionStatus(ctx, u) })
}

func (m *Memory) UpdateLinePrice(ctx context.Context, id ledger.TransactionID, lineNo int, price ledger.Money, at time.Time) error {
	return m.write(func(v *view) error { return v.UpdateLinePrice(ctx, id, lineNo, price, at) })
}

func (m *Memory) SetTransactionAudit(ctx context.Context, id ledger.TransactionID, by ledger.PartyID, at time.Time) error {
	return m.write(func(v *view) error { return v.SetTransactionAudit(ctx, id, by, at) })
}

func (m *Memory) TransactionsBilledOn(ctx context.Context, branch ledger.BranchID, date ledger.Date) ([]ledger.Transaction, error) {
	return read(m, func(v *view) ([]ledger.Transaction, error) { return v.TransactionsBilledOn(ctx, branch, date) })
}

func (m *Memory) ReturnsOf(ctx context.Context, id ledger.TransactionID) ([]ledger.Transaction, error) {
	return read(m, func(v *view) ([]ledger.Transaction, error) { return v.ReturnsOf(ctx, id) })
}

func (m *Memory) LockStock(ctx context.Context, key ledger.StockKey, at time.Time) (ledger.Quantity, error) {
	var q ledger.Quantity
	err := m.write(func(v *view) error {
		var err error
		q, err = v.LockStock(ctx, key, at)
		return err
	})
	return q, err
}

func (m *Memory) MovementApplied(ctx context.Context, ref ledger.MovementRef, key ledger.StockKey) (bool, error) {
	return read(m, func(v *view) (bool, error) { return v.MovementApplied(ctx, ref, key) })
}

func (m *Memory) InsertMovement(ctx context.Context, mv *ledger.Movement) error {
	return m.write(func(v *view) error { return v.InsertMovement(ctx, mv) })
}

func (m *Memory) SetStock(ctx context.Context, key ledger.StockKey, q ledger.Quantity, at time.Time) error {
	return m.write(func(v *view) error { return v.SetStock(ctx, key, q, at) })
}

func (m *Memory) StockQuantity(ctx context.Context, key ledger.StockKey) (ledger.Quantity, error) {
	return read(m, func(v *view) (ledger.Quantity, error) { return v.StockQuantity(ctx, key) })
}

func (m *Memory) StockBalances(ctx context.Context, branch ledger.BranchID) ([]ledger.StockBalance, error) {
	return read(m, func(v *view) ([]ledger.StockBalance, error) { return v.StockBalances(ctx, branch) })
}

func (m *Memory) Movements(ctx context.Context, key ledger.StockKey) ([]ledger.Movement, error) {
	return read(m, func(v *view) ([]ledger.Movement, error) { return v.Movements(ctx, key) })
}

func (m *Memory) InsertAdjustment(ctx context.Context, a *ledger.Adjustment) error {
	return m.write(func(v *view) error { return v.InsertAdjustment(ctx, a) })
}

func (m *Memory) GetAdjustment(ctx context.Context, id ledger.AdjustmentID) (*ledger.Adjustment, error) {
	return read(m, func(v *view) (*ledger.Adjustment, error) { return v.GetAdjustment(ctx, id) })
}

func (m *Memory) ListAdjustments(ctx context.Context, ref ledger.Reference) ([]ledger.Adjustment, error) {
	return read(m, func(v *view) ([]ledger.Adjustment, error) { return v.ListAdjustments(ctx, ref) })
}

func (m *Memory) InsertExpense(ctx context.Context, e *ledger.Expense) error {
	return m.write(func(v *view) error { return v.InsertExpense(ctx, e) })
}

func (m *Memory) GetExpense(ctx context.Context, id ledger.ExpenseID) (*ledger.Expense, error) {
	return read(m, func(v *view) (*ledger.Expense, error) { return v.GetExpense(ctx, id) })
}

func (m *Memory) ExpensesOn(ctx context.Context, branch ledger.BranchID, date ledger.Date) ([]ledger.Expense, error) {
	return read(m, func(v *view) ([]ledger.Expense, error) { return v.ExpensesOn(ctx, branch, date) })
}

func (m *Memory) CashDrawer(ctx context.Context, branch ledger.BranchID, date ledger.Date) (*ledger.CashDrawerDaily, error) {
	return read(m, func(v *view) (*ledger.CashDrawerDaily, error) { return v.CashDrawer(ctx, branch, date) })
}

func (m *Memory) PreviousCashDrawer(ctx context.Context, branch ledger.BranchID, date ledger.Date) (*ledger.CashDrawerDaily, error) {
	return read(m, func(v *view) (*ledger.CashDrawerDaily, error) { return v.PreviousCashDrawer(ctx, branch, date) })
}

func (m *Memory) UpsertCashDrawer(ctx context.Context, d *ledger.CashDrawerDaily) error {
	return m.write(func(v *view) error { return v.UpsertCashDrawer(ctx, d) })
}

// =============================================================================
// VIEW - the unlocked implementation, also handed to WithTx callbacks
// =============================================================================

type view struct {
	d *memoryData
}

// WithTx on a view joins the enclosing transaction.
func (v *view) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	return fn(v)
}

func (v *view) SaveBranch(_ context.Context, b ledger.Branch) error {
	v.d.branches[b.ID] = b
	return nil
}

func (v *view) SaveWarehouse(_ context.Context, w ledger.Warehouse) error {
	v.d.warehouses[w.ID] = w
	return nil
}

func (v *view) SaveItem(_ context.Context, it ledger.Item) error {
	it.TaxPercent = clonePercent(it.TaxPercent)
	v.d.items[it.ID] = it
	return nil
}

func (v *view) SaveParty(_ context.Context, p ledger.Party) error {
	v.d.parties[p.ID] = p
	return nil
}

func (v *view) SavePaymentMethod(_ context.Context, pm ledger.PaymentMethod) error {
	v.d.methods[pm.ID] = pm
	return nil
}

func clonePercent(p *ledger.Percent) *ledger.Percent {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func (v *view) Branch(_ context.Context, id ledger.BranchID) (*ledger.Branch, error) {
	b, ok := v.d.branches[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &b, nil
}

func (v *view) Branches(_ context.Context) ([]ledger.Branch, error) {
	out := make([]ledger.Branch, 0, len(v.d.branches))
	for _, b := range v.d.branches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) Warehouse(_ context.Context, id ledger.WarehouseID) (*ledger.Warehouse, error) {
	w, ok := v.d.warehouses[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &w, nil
}

func (v *view) Item(_ context.Context, id ledger.ItemID) (*ledger.Item, error) {
	it, ok := v.d.items[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	it.TaxPercent = clonePercent(it.TaxPercent)
	return &it, nil
}

func (v *view) Party(_ context.Context, id ledger.PartyID) (*ledger.Party, error) {
	p, ok := v.d.parties[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &p, nil
}

func (v *view) PaymentMethod(_ context.Context, id ledger.PaymentMethodID) (*ledger.PaymentMethod, error) {
	pm, ok := v.d.methods[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &pm, nil
}

// -----------------------------------------------------------------------------
// Transactions
// -----------------------------------------------------------------------------

func (v *view) InsertTransaction(_ context.Context, t *ledger.Transaction) error {
	if _, exists := v.d.transactions[t.ID]; exists {
		return ledger.ErrConcurrentModification
	}
	v.d.transactions[t.ID] = t.Clone()
	v.d.txOrder = append(v.d.txOrder, t.ID)
	return nil
}

func (v *view) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	t, ok := v.d.transactions[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return t.Clone(), nil
}

func (v *view) UpdateTransactionStatus(_ context.Context, u ledger.StatusUpdate) error {
	t, ok := v.d.transactions[u.ID]
	if !ok {
		return ledger.ErrNotFound
	}
	if t.Status != u.From {
		return ledger.ErrConcurrentModification
	}
	t.Status = u.To
	t.UpdatedAt = u.At
	if !u.BillDate.IsZero() && t.BillDate.IsZero() {
		t.BillDate = u.BillDate
	}
	if !u.ShippedDate.IsZero() && t.ShippedDate.IsZero() {
		t.ShippedDate = u.ShippedDate
	}
	return nil
}

func (v *view) UpdateLinePrice(_ context.Context, id ledger.TransactionID, lineNo int, price ledger.Money, at time.Time) error {
	t, ok := v.d.transactions[id]
	if !ok {
		return ledger.ErrNotFound
	}
	line, ok := t.Line(lineNo)
	if !ok {
		return ledger.ErrNotFound
	}
	line.UnitPrice = price
	t.UpdatedAt = at
	return nil
}

func (v *view) SetTransactionAudit(_ context.Context, id ledger.TransactionID, by ledger.PartyID, at time.Time) error {
	t, ok := v.d.transactions[id]
	if !ok {
		return ledger.ErrNotFound
	}
	t.Audited = true
	t.AuditedBy = &by
	t.AuditedAt = &at
	t.UpdatedAt = at
	return nil
}

func (v *view) TransactionsBilledOn(_ context.Context, branch ledger.BranchID, date ledger.Date) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for _, id := range v.d.txOrder {
		t := v.d.transactions[id]
		if t.BranchID == branch && t.BillDate.Equal(date) {
			out = append(out, *t.Clone())
		}
	}
	return out, nil
}

func (v *view) ReturnsOf(_ context.Context, id ledger.TransactionID) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for _, tid := range v.d.txOrder {
		t := v.d.transactions[tid]
		if t.ReturnOf != nil && *t.ReturnOf == id {
			out = append(out, *t.Clone())
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Stock
// -----------------------------------------------------------------------------

func (v *view) LockStock(_ context.Context, key ledger.StockKey, at time.Time) (ledger.Quantity, error) {
	b, ok := v.d.balances[key]
	if !ok {
		b = ledger.StockBalance{ID: ledger.NewID(), Key: key, UpdatedAt: at}
		v.d.balances[key] = b
	}
	return b.Quantity, nil
}

func (v *view) MovementApplied(_ context.Context, ref ledger.MovementRef, key ledger.StockKey) (bool, error) {
	return v.d.applied[appliedKey{ref: ref, key: key}], nil
}

func (v *view) InsertMovement(_ context.Context, mv *ledger.Movement) error {
	k := appliedKey{ref: mv.Ref, key: mv.Key}
	if v.d.applied[k] {
		return ledger.ErrDuplicateMovement
	}
	v.d.applied[k] = true
	v.d.movements[mv.Key] = append(v.d.movements[mv.Key], *mv)
	return nil
}

func (v *view) SetStock(_ context.Context, key ledger.StockKey, q ledger.Quantity, at time.Time) error {
	b, ok := v.d.balances[key]
	if !ok {
		b = ledger.StockBalance{ID: ledger.NewID(), Key: key}
	}
	b.Quantity = q
	b.UpdatedAt = at
	v.d.balances[key] = b
	return nil
}

func (v *view) StockQuantity(_ context.Context, key ledger.StockKey) (ledger.Quantity, error) {
	return v.d.balances[key].Quantity, nil
}

func (v *view) StockBalances(_ context.Context, branch ledger.BranchID) ([]ledger.StockBalance, error) {
	var out []ledger.StockBalance
	for k, b := range v.d.balances {
		if k.BranchID == branch {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out, nil
}

func (v *view) Movements(_ context.Context, key ledger.StockKey) ([]ledger.Movement, error) {
	return append([]ledger.Movement(nil), v.d.movements[key]...), nil
}

// -----------------------------------------------------------------------------
// Adjustments (append-only)
// -----------------------------------------------------------------------------

func (v *view) InsertAdjustment(_ context.Context, a *ledger.Adjustment) error {
	if _, exists := v.d.adjustments[a.ID]; exists {
		return ledger.ErrConcurrentModification
	}
	v.d.adjustments[a.ID] = a.Clone()
	k := refKey{table: a.Ref.Table(), id: a.Ref.ID()}
	v.d.adjByRef[k] = append(v.d.adjByRef[k], a.ID)
	return nil
}

func (v *view) GetAdjustment(_ context.Context, id ledger.AdjustmentID) (*ledger.Adjustment, error) {
	a, ok := v.d.adjustments[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return a.Clone(), nil
}

func (v *view) ListAdjustments(_ context.Context, ref ledger.Reference) ([]ledger.Adjustment, error) {
	ids := v.d.adjByRef[refKey{table: ref.Table(), id: ref.ID()}]
	out := make([]ledger.Adjustment, 0, len(ids))
	for _, id := range ids {
		out = append(out, *v.d.adjustments[id].Clone())
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Cash
// -----------------------------------------------------------------------------

func (v *view) InsertExpense(_ context.Context, e *ledger.Expense) error {
	if _, exists := v.d.expenses[e.ID]; exists {
		return ledger.ErrConcurrentModification
	}
	c := *e
	v.d.expenses[e.ID] = &c
	v.d.expenseOrder = append(v.d.expenseOrder, e.ID)
	return nil
}

func (v *view) GetExpense(_ context.Context, id ledger.ExpenseID) (*ledger.Expense, error) {
	e, ok := v.d.expenses[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	c := *e
	return &c, nil
}

func (v *view) ExpensesOn(_ context.Context, branch ledger.BranchID, date ledger.Date) ([]ledger.Expense, error) {
	var out []ledger.Expense
	for _, id := range v.d.expenseOrder {
		e := v.d.expenses[id]
		if e.BranchID == branch && e.BusinessDate.Equal(date) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (v *view) CashDrawer(_ context.Context, branch ledger.BranchID, date ledger.Date) (*ledger.CashDrawerDaily, error) {
	d, ok := v.d.drawers[dk(branch, date)]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return d.Clone(), nil
}

func (v *view) PreviousCashDrawer(_ context.Context, branch ledger.BranchID, date ledger.Date) (*ledger.CashDrawerDaily, error) {
	var best *ledger.CashDrawerDaily
	for _, d := range v.d.drawers {
		if d.BranchID != branch || !d.BusinessDate.Before(date) {
			continue
		}
		if best == nil || d.BusinessDate.After(best.BusinessDate) {
			best = d
		}
	}
	if best == nil {
		return nil, ledger.ErrNotFound
	}
	return best.Clone(), nil
}

func (v *view) UpsertCashDrawer(_ context.Context, d *ledger.CashDrawerDaily) error {
	k := dk(d.BranchID, d.BusinessDate)
	c := d.Clone()
	if existing, ok := v.d.drawers[k]; ok {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
	}
	v.d.drawers[k] = c
	return nil
}
