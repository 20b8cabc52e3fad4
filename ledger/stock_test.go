package ledger_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/ledger"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// STOCK LEDGER TESTS
// =============================================================================

func TestApplyMovement_AddsDeltaAndRecordsMovement(t *testing.T) {
	// GIVEN: An empty stock key
	// WHEN: Applying +12.5 then -2.25
	// THEN: Balance is 10.25 and two movements carry running balances

	forEachBackend(t, func(t *testing.T, f *fixture) {
		k := key(wh1, itemA)

		q, err := f.eng.ApplyMovement(f.ctx, k, qty("12.5"), "manual:1")
		require.NoError(t, err)
		requireQty(t, "12.5", q)

		q, err = f.eng.ApplyMovement(f.ctx, k, qty("-2.25"), "manual:2")
		require.NoError(t, err)
		requireQty(t, "10.25", q)

		ms := f.movements(t, k)
		require.Len(t, ms, 2)
		assert.Equal(t, ledger.MovementRef("manual:1"), ms[0].Ref)
		requireQty(t, "12.5", ms[0].Balance)
		requireQty(t, "10.25", ms[1].Balance)
		f.requireLedgerConsistent(t, k)
	})
}

func TestApplyMovement_SameRefIsNoOp(t *testing.T) {
	// GIVEN: A movement already applied with ref "manual:1"
	// WHEN: Applying the same ref again, even with another delta
	// THEN: Balance and movement log are unchanged

	forEachBackend(t, func(t *testing.T, f *fixture) {
		k := key(wh1, itemA)
		_, err := f.eng.ApplyMovement(f.ctx, k, qty("5"), "manual:1")
		require.NoError(t, err)

		q, err := f.eng.ApplyMovement(f.ctx, k, qty("7"), "manual:1")
		require.NoError(t, err)
		requireQty(t, "5", q)
		assert.Len(t, f.movements(t, k), 1)
	})
}

func TestApplyMovement_SameRefOnOtherKeyApplies(t *testing.T) {
	// GIVEN: A ref applied to item A
	// WHEN: The same ref is applied to item B
	// THEN: Both keys move; deduplication is per (ref, key)

	forEachBackend(t, func(t *testing.T, f *fixture) {
		_, err := f.eng.ApplyMovement(f.ctx, key(wh1, itemA), qty("1"), "manual:shared")
		require.NoError(t, err)
		_, err = f.eng.ApplyMovement(f.ctx, key(wh1, itemB), qty("2"), "manual:shared")
		require.NoError(t, err)

		requireQty(t, "1", f.quantity(t, key(wh1, itemA)))
		requireQty(t, "2", f.quantity(t, key(wh1, itemB)))
	})
}

func TestApplyMovement_RejectsNegativeResult(t *testing.T) {
	// GIVEN: 3 units on hand, negative stock rejected (default)
	// WHEN: Applying -5
	// THEN: InsufficientStock; nothing written

	forEachBackend(t, func(t *testing.T, f *fixture) {
		k := key(wh1, itemA)
		_, err := f.eng.ApplyMovement(f.ctx, k, qty("3"), "manual:in")
		require.NoError(t, err)

		_, err = f.eng.ApplyMovement(f.ctx, k, qty("-5"), "manual:out")
		require.ErrorIs(t, err, ledger.ErrInsufficientStock)

		var ise *ledger.InsufficientStockError
		require.ErrorAs(t, err, &ise)
		requireQty(t, "3", ise.Available)
		requireQty(t, "3", f.quantity(t, k))
		assert.Len(t, f.movements(t, k), 1)
	})
}

func TestApplyMovement_AllowPolicyPermitsNegative(t *testing.T) {
	// GIVEN: Negative stock allowed
	// WHEN: Selling 4 from an empty key
	// THEN: Balance is -4

	forEachBackend(t, func(t *testing.T, f *fixture) {
		q, err := f.eng.ApplyMovement(f.ctx, key(wh1, itemA), qty("-4"), "manual:out")
		require.NoError(t, err)
		requireQty(t, "-4", q)
	}, allowNegative)
}

func TestApplyMovement_InputValidation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		_, err := f.eng.ApplyMovement(f.ctx, key(wh1, itemA), qty("0"), "manual:zero")
		assert.ErrorIs(t, err, ledger.ErrInvalidInput)

		_, err = f.eng.ApplyMovement(f.ctx, key(wh1, itemA), qty("1"), "")
		assert.ErrorIs(t, err, ledger.ErrInvalidInput)

		_, err = f.eng.ApplyMovement(f.ctx, key(wh1, "no-such-item"), qty("1"), "manual:x")
		assert.ErrorIs(t, err, ledger.ErrUnknownEntity)

		// Warehouse of another branch.
		_, err = f.eng.ApplyMovement(f.ctx, key(whOther, itemA), qty("1"), "manual:y")
		assert.ErrorIs(t, err, ledger.ErrUnknownEntity)
	})
}

func TestGetStockQuantity_NeverMovedIsZero(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		requireQty(t, "0", f.quantity(t, key(wh2, itemB)))
		assert.Empty(t, f.movements(t, key(wh2, itemB)))
	})
}

func TestStockBalances_ListsBranchKeys(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		_, err := f.eng.ApplyMovement(f.ctx, key(wh2, itemB), qty("2"), "manual:1")
		require.NoError(t, err)
		_, err = f.eng.ApplyMovement(f.ctx, key(wh1, itemA), qty("1"), "manual:2")
		require.NoError(t, err)

		balances, err := f.eng.StockBalances(f.ctx, branch1)
		require.NoError(t, err)
		require.Len(t, balances, 2)
		assert.Equal(t, key(wh1, itemA), balances[0].Key)
		assert.Equal(t, key(wh2, itemB), balances[1].Key)

		others, err := f.eng.StockBalances(f.ctx, branch2)
		require.NoError(t, err)
		assert.Empty(t, others)
	})
}

func TestApplyMovement_ConcurrentWritersDoNotLoseUpdates(t *testing.T) {
	// GIVEN: 20 concurrent writers, each adding 1 with a distinct ref
	// WHEN: All complete
	// THEN: Balance is exactly 20 and the log replays to it

	forEachBackend(t, func(t *testing.T, f *fixture) {
		k := key(wh1, itemA)
		var g errgroup.Group
		for i := 0; i < 20; i++ {
			ref := ledger.MovementRef(fmt.Sprintf("manual:%d", i))
			g.Go(func() error {
				_, err := f.eng.ApplyMovement(f.ctx, k, qty("1"), ref)
				return err
			})
		}
		require.NoError(t, g.Wait())

		requireQty(t, "20", f.quantity(t, k))
		assert.Len(t, f.movements(t, k), 20)
		f.requireLedgerConsistent(t, k)
	})
}

func TestApplyMovement_ConcurrentReplaysApplyOnce(t *testing.T) {
	// GIVEN: 10 concurrent writers replaying the same ref
	// THEN: Exactly one movement is recorded

	forEachBackend(t, func(t *testing.T, f *fixture) {
		k := key(wh1, itemA)
		var g errgroup.Group
		for i := 0; i < 10; i++ {
			g.Go(func() error {
				_, err := f.eng.ApplyMovement(f.ctx, k, qty("3"), "manual:once")
				return err
			})
		}
		require.NoError(t, g.Wait())

		requireQty(t, "3", f.quantity(t, k))
		assert.Len(t, f.movements(t, k), 1)
	})
}
