package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// STATUS GRAPH
// =============================================================================

func TestDefaultLifecycle_Edges(t *testing.T) {
	l := ledger.DefaultLifecycle()

	allowed := map[ledger.Status][]ledger.Status{
		ledger.StatusBooked:        {ledger.StatusCancelled, ledger.StatusBilled, ledger.StatusOnHold},
		ledger.StatusBilled:        {ledger.StatusCancelled, ledger.StatusShipped},
		ledger.StatusShipped:       {ledger.StatusReturned, ledger.StatusReachedLorry},
		ledger.StatusReachedLorry:  {ledger.StatusDeliveryTaken},
		ledger.StatusDeliveryTaken: {ledger.StatusReturned, ledger.StatusAllOK},
		ledger.StatusOnHold:        {ledger.StatusCancelled, ledger.StatusBooked},
	}
	for _, from := range ledger.AllStatuses {
		assert.ElementsMatch(t, allowed[from], l.Next(from), "exits of %s", from)
		for _, to := range ledger.AllStatuses {
			want := false
			for _, a := range allowed[from] {
				want = want || a == to
			}
			assert.Equal(t, want, l.CanTransition(from, to), "%s -> %s", from, to)
		}
	}

	for _, s := range []ledger.Status{ledger.StatusReturned, ledger.StatusAllOK, ledger.StatusCancelled} {
		assert.True(t, l.IsTerminal(s), s)
	}
	assert.False(t, l.IsTerminal(ledger.StatusBooked))
}

// =============================================================================
// MOVEMENT POLICY
// =============================================================================

func TestDefaultLifecycle_Multipliers(t *testing.T) {
	l := ledger.DefaultLifecycle()

	cases := []struct {
		typ      ledger.TransactionType
		original ledger.TransactionType
		from, to ledger.Status
		want     int
	}{
		{ledger.TypePurchase, "", ledger.StatusBooked, ledger.StatusBilled, +1},
		{ledger.TypePurchase, "", ledger.StatusBilled, ledger.StatusCancelled, -1},
		{ledger.TypePurchase, "", ledger.StatusBooked, ledger.StatusCancelled, 0},
		{ledger.TypePurchase, "", ledger.StatusBilled, ledger.StatusShipped, 0},
		{ledger.TypePurchase, "", ledger.StatusShipped, ledger.StatusReturned, -1},
		{ledger.TypeSales, "", ledger.StatusBooked, ledger.StatusBilled, 0},
		{ledger.TypeSales, "", ledger.StatusBilled, ledger.StatusShipped, -1},
		{ledger.TypeSales, "", ledger.StatusShipped, ledger.StatusReturned, +1},
		{ledger.TypeSales, "", ledger.StatusDeliveryTaken, ledger.StatusReturned, +1},
		{ledger.TypeSales, "", ledger.StatusBilled, ledger.StatusCancelled, 0},
		{ledger.TypeReturn, ledger.TypeSales, ledger.StatusDeliveryTaken, ledger.StatusAllOK, +1},
		{ledger.TypeReturn, ledger.TypePurchase, ledger.StatusDeliveryTaken, ledger.StatusAllOK, -1},
		{ledger.TypeReturn, ledger.TypeSales, ledger.StatusBooked, ledger.StatusBilled, 0},
	}
	for _, tc := range cases {
		dir := l.Direction(tc.typ, tc.original)
		got := l.Multiplier(tc.typ, dir, tc.from, tc.to)
		assert.Equal(t, tc.want, got, "%s %s -> %s", tc.typ, tc.from, tc.to)
	}
}

func TestLifecycle_EffectsAlwaysBalance(t *testing.T) {
	// Walking any path through the graph never applies an effect twice or
	// reverses one that was not applied: the running sum stays in {0, dir}.
	l := ledger.DefaultLifecycle()

	for _, typ := range []ledger.TransactionType{ledger.TypePurchase, ledger.TypeSales} {
		dir := l.Direction(typ, "")
		var walk func(s ledger.Status, sum int, depth int)
		walk = func(s ledger.Status, sum int, depth int) {
			require.Contains(t, []int{0, dir}, sum, "%s at %s", typ, s)
			if l.Holds(typ, s) {
				require.Equal(t, dir, sum)
			} else {
				require.Equal(t, 0, sum)
			}
			if depth > 8 {
				return
			}
			for _, next := range l.Next(s) {
				walk(next, sum+l.Multiplier(typ, dir, s, next), depth+1)
			}
		}
		walk(ledger.StatusBooked, 0, 0)
	}
}

func TestNewLifecycle_Validates(t *testing.T) {
	_, err := ledger.NewLifecycle(map[ledger.Status][]ledger.Status{
		ledger.StatusBooked: {"lost"},
	}, ledger.DefaultPolicies())
	assert.Error(t, err)

	_, err = ledger.NewLifecycle(map[ledger.Status][]ledger.Status{
		ledger.StatusBooked: {ledger.StatusBooked},
	}, ledger.DefaultPolicies())
	assert.Error(t, err)

	policies := ledger.DefaultPolicies()
	delete(policies, ledger.TypeSales)
	_, err = ledger.NewLifecycle(ledger.DefaultEdges(), policies)
	assert.Error(t, err)

	policies = ledger.DefaultPolicies()
	policies[ledger.TypePurchase] = ledger.MovementPolicy{Direction: 0}
	_, err = ledger.NewLifecycle(ledger.DefaultEdges(), policies)
	assert.Error(t, err)
}

func TestCustomLifecycle_DrivesTransitions(t *testing.T) {
	// GIVEN: A lifecycle where purchases move stock only at all_ok
	// WHEN: A purchase is billed, then reaches all_ok
	// THEN: Stock moves only on the last edge

	policies := ledger.DefaultPolicies()
	policies[ledger.TypePurchase] = ledger.MovementPolicy{Direction: +1, Held: []ledger.Status{ledger.StatusAllOK}}
	edges := ledger.DefaultEdges()
	edges[ledger.StatusBilled] = append(edges[ledger.StatusBilled], ledger.StatusAllOK)
	l, err := ledger.NewLifecycle(edges, policies)
	require.NoError(t, err)

	forEachBackend(t, func(t *testing.T, f *fixture) {
		txn := f.walk(t, f.create(t, purchase(line(wh1, itemA, "7", "1.00"))), ledger.StatusBilled)
		requireQty(t, "0", f.quantity(t, key(wh1, itemA)))

		f.walk(t, txn, ledger.StatusAllOK)
		requireQty(t, "7", f.quantity(t, key(wh1, itemA)))
	}, func(o *ledger.Options) { o.Lifecycle = l })
}
