package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/ledger/store"
	"github.com/warp/stock-ledger/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	branch1 ledger.BranchID    = "br-1"
	branch2 ledger.BranchID    = "br-2"
	wh1     ledger.WarehouseID = "wh-1"
	wh2     ledger.WarehouseID = "wh-2"
	whOther ledger.WarehouseID = "wh-x"
	itemA   ledger.ItemID      = "item-a"
	itemB   ledger.ItemID      = "item-b"

	supplier ledger.PartyID = "sup-1"
	customer ledger.PartyID = "cus-1"
	clerk    ledger.PartyID = "emp-1"
	auditor  ledger.PartyID = "emp-2"

	cashPM ledger.PaymentMethodID = "pm-cash"
	bankPM ledger.PaymentMethodID = "pm-bank"
)

var (
	clerkActor   = ledger.Actor{PartyID: clerk, Role: "clerk"}
	auditorActor = ledger.Actor{PartyID: auditor, Role: "auditor"}
	businessDay  = ledger.MustDate("2024-03-15")
)

// tickingClock advances one second on every read so that successive events
// always get distinct, increasing timestamps.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *tickingClock {
	return &tickingClock{now: time.Date(2024, time.March, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// Set moves the clock to t; subsequent reads tick from there.
func (c *tickingClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	ctx   context.Context
	eng   *ledger.Engine
	store ledger.Backend
	clock *tickingClock
}

type backendFactory func(t *testing.T) ledger.Backend

var backends = map[string]backendFactory{
	"memory": func(t *testing.T) ledger.Backend {
		return store.NewMemory()
	},
	"sqlite": func(t *testing.T) ledger.Backend {
		s, err := sqlite.New(":memory:")
		require.NoError(t, err)
		return s
	},
}

// forEachBackend runs fn once per storage backend with a freshly seeded fixture.
func forEachBackend(t *testing.T, fn func(t *testing.T, f *fixture), opts ...func(*ledger.Options)) {
	t.Helper()
	for name, newBackend := range backends {
		newBackend := newBackend
		t.Run(name, func(t *testing.T) {
			fn(t, newFixture(t, newBackend(t), opts...))
		})
	}
}

func newFixture(t *testing.T, backend ledger.Backend, opts ...func(*ledger.Options)) *fixture {
	t.Helper()
	t.Cleanup(func() { backend.Close() })

	clock := newClock()
	o := ledger.Options{Clock: clock.Now}
	for _, opt := range opts {
		opt(&o)
	}
	f := &fixture{
		ctx:   context.Background(),
		eng:   ledger.New(backend, o),
		store: backend,
		clock: clock,
	}
	f.seed(t)
	return f
}

func allowNegative(o *ledger.Options) { o.NegativeStock = ledger.NegativeStockAllow }

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx, s := f.ctx, f.store

	require.NoError(t, s.SaveBranch(ctx, ledger.Branch{ID: branch1, Name: "Main Street", Code: "MS", IsActive: true}))
	require.NoError(t, s.SaveBranch(ctx, ledger.Branch{ID: branch2, Name: "Harbour", Code: "HB", IsActive: true}))

	require.NoError(t, s.SaveWarehouse(ctx, ledger.Warehouse{ID: wh1, BranchID: branch1, Name: "Front", IsActive: true}))
	require.NoError(t, s.SaveWarehouse(ctx, ledger.Warehouse{ID: wh2, BranchID: branch1, Name: "Back", IsActive: true}))
	require.NoError(t, s.SaveWarehouse(ctx, ledger.Warehouse{ID: whOther, BranchID: branch2, Name: "Dock", IsActive: true}))

	require.NoError(t, s.SaveItem(ctx, ledger.Item{ID: itemA, Name: "Cement", SKU: "CEM-50", Unit: "bag", IsActive: true}))
	require.NoError(t, s.SaveItem(ctx, ledger.Item{ID: itemB, Name: "Rebar", SKU: "REB-12", Unit: "rod", IsActive: true}))

	require.NoError(t, s.SaveParty(ctx, ledger.Party{ID: supplier, Name: "Acme Supply",
		Types: ledger.NewPartyTypes(ledger.PartySupplier), IsActive: true}))
	require.NoError(t, s.SaveParty(ctx, ledger.Party{ID: customer, Name: "Builder Co",
		Types: ledger.NewPartyTypes(ledger.PartyCustomer), IsActive: true}))
	require.NoError(t, s.SaveParty(ctx, ledger.Party{ID: clerk, Name: "Asha",
		Types: ledger.NewPartyTypes(ledger.PartyEmployee), IsActive: true}))
	require.NoError(t, s.SaveParty(ctx, ledger.Party{ID: auditor, Name: "Ravi",
		Types: ledger.NewPartyTypes(ledger.PartyEmployee), IsActive: true}))

	require.NoError(t, s.SavePaymentMethod(ctx, ledger.PaymentMethod{ID: cashPM, BranchID: branch1,
		Name: "Till", Type: ledger.PaymentCashDrawer, IsActive: true}))
	require.NoError(t, s.SavePaymentMethod(ctx, ledger.PaymentMethod{ID: bankPM, BranchID: branch1,
		Name: "Current account", Type: ledger.PaymentBankAccount, IsActive: true}))
}

func key(wh ledger.WarehouseID, item ledger.ItemID) ledger.StockKey {
	return ledger.StockKey{BranchID: branch1, WarehouseID: wh, ItemID: item}
}

func qty(s string) ledger.Quantity { return ledger.MustQuantity(s) }

func money(s string) ledger.Money { return ledger.MustMoney(s) }

func line(wh ledger.WarehouseID, item ledger.ItemID, q, price string) ledger.NewLineItem {
	return ledger.NewLineItem{ItemID: item, WarehouseID: wh, Quantity: qty(q), UnitPrice: money(price)}
}

func pm(id ledger.PaymentMethodID) *ledger.PaymentMethodID { return &id }

func purchase(items ...ledger.NewLineItem) ledger.NewTransaction {
	return ledger.NewTransaction{BranchID: branch1, PartyID: supplier, Type: ledger.TypePurchase, Items: items}
}

func sale(items ...ledger.NewLineItem) ledger.NewTransaction {
	return ledger.NewTransaction{BranchID: branch1, PartyID: customer, Type: ledger.TypeSales, Items: items}
}

func returnOf(orig *ledger.Transaction, items ...ledger.NewLineItem) ledger.NewTransaction {
	return ledger.NewTransaction{
		BranchID: orig.BranchID,
		PartyID:  orig.PartyID,
		Type:     ledger.TypeReturn,
		ReturnOf: &orig.ID,
		Items:    items,
	}
}

func (f *fixture) create(t *testing.T, in ledger.NewTransaction) *ledger.Transaction {
	t.Helper()
	txn, err := f.eng.CreateTransaction(f.ctx, in, clerkActor)
	require.NoError(t, err)
	return txn
}

// walk transitions txn through each status in order.
func (f *fixture) walk(t *testing.T, txn *ledger.Transaction, path ...ledger.Status) *ledger.Transaction {
	t.Helper()
	for _, s := range path {
		var err error
		txn, err = f.eng.TransitionTransaction(f.ctx, txn.ID, s, clerkActor)
		require.NoError(t, err, "transition to %s", s)
	}
	return txn
}

// stockUp puts q units of item at wh through a billed purchase.
func (f *fixture) stockUp(t *testing.T, wh ledger.WarehouseID, item ledger.ItemID, q string) *ledger.Transaction {
	t.Helper()
	return f.walk(t, f.create(t, purchase(line(wh, item, q, "1.00"))), ledger.StatusBilled)
}

func (f *fixture) quantity(t *testing.T, k ledger.StockKey) ledger.Quantity {
	t.Helper()
	q, err := f.eng.GetStockQuantity(f.ctx, k)
	require.NoError(t, err)
	return q
}

func (f *fixture) movements(t *testing.T, k ledger.StockKey) []ledger.Movement {
	t.Helper()
	ms, err := f.eng.Movements(f.ctx, k)
	require.NoError(t, err)
	return ms
}

// requireQty compares quantities by value, ignoring decimal representation.
func requireQty(t *testing.T, want string, got ledger.Quantity) {
	t.Helper()
	require.True(t, qty(want).Equal(got), "want %s, got %s", want, got)
}

func requireMoney(t *testing.T, want string, got ledger.Money) {
	t.Helper()
	require.True(t, money(want).Equal(got), "want %s, got %s", want, got)
}

// requireLedgerConsistent checks that the movement log replays to the balance.
func (f *fixture) requireLedgerConsistent(t *testing.T, k ledger.StockKey) {
	t.Helper()
	var sum ledger.Quantity
	for _, m := range f.movements(t, k) {
		sum = sum.Add(m.Delta)
		require.True(t, sum.Equal(m.Balance), "running balance of %s diverges at %s", k, m.Ref)
	}
	requireQty(t, sum.String(), f.quantity(t, k))
}
