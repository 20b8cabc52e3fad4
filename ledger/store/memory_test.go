package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/ledger/store"
)

var key = ledger.StockKey{BranchID: "br-1", WarehouseID: "wh-1", ItemID: "item-a"}

func TestMemory_WithTxRestoresSnapshotOnError(t *testing.T) {
	// GIVEN: A balance of 4 with one movement
	// WHEN: A transaction writes a movement and a balance, then fails
	// THEN: Neither write is visible

	m := store.NewMemory()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, m.WithTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.LockStock(ctx, key, now); err != nil {
			return err
		}
		if err := tx.InsertMovement(ctx, &ledger.Movement{ID: "m-1", Key: key,
			Delta: ledger.MustQuantity("4"), Ref: "opening", Balance: ledger.MustQuantity("4"), CreatedAt: now}); err != nil {
			return err
		}
		return tx.SetStock(ctx, key, ledger.MustQuantity("4"), now)
	}))

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.InsertMovement(ctx, &ledger.Movement{ID: "m-2", Key: key,
			Delta: ledger.MustQuantity("1"), Ref: "second", Balance: ledger.MustQuantity("5"), CreatedAt: now}); err != nil {
			return err
		}
		if err := tx.SetStock(ctx, key, ledger.MustQuantity("5"), now); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	q, err := m.StockQuantity(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "4.000", q.String())

	ms, err := m.Movements(ctx, key)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, ledger.MovementRef("opening"), ms[0].Ref)

	applied, err := m.MovementApplied(ctx, "second", key)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestMemory_DuplicateMovement(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	mv := &ledger.Movement{ID: "m-1", Key: key, Delta: ledger.MustQuantity("1"),
		Ref: "t-1:booked->billed", Balance: ledger.MustQuantity("1"), CreatedAt: time.Now()}
	require.NoError(t, m.InsertMovement(ctx, mv))
	assert.ErrorIs(t, m.InsertMovement(ctx, mv), ledger.ErrDuplicateMovement)
}

func TestMemory_ReadsReturnCopies(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	closing := ledger.MustMoney("10.00")
	require.NoError(t, m.UpsertCashDrawer(ctx, &ledger.CashDrawerDaily{
		ID:           "cd-1",
		BranchID:     "br-1",
		BusinessDate: ledger.MustDate("2024-03-15"),
		ClosingCash:  &closing,
	}))

	got, err := m.CashDrawer(ctx, "br-1", ledger.MustDate("2024-03-15"))
	require.NoError(t, err)
	*got.ClosingCash = ledger.MustMoney("99.00")

	again, err := m.CashDrawer(ctx, "br-1", ledger.MustDate("2024-03-15"))
	require.NoError(t, err)
	assert.Equal(t, "10.00", again.ClosingCash.String())

	_, err = m.CashDrawer(ctx, "br-1", ledger.MustDate("2024-03-16"))
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestMemory_PreviousCashDrawer(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	for _, d := range []string{"2024-03-10", "2024-03-13", "2024-03-20"} {
		require.NoError(t, m.UpsertCashDrawer(ctx, &ledger.CashDrawerDaily{
			ID: "cd-" + d, BranchID: "br-1", BusinessDate: ledger.MustDate(d),
		}))
	}

	prev, err := m.PreviousCashDrawer(ctx, "br-1", ledger.MustDate("2024-03-15"))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-13", prev.BusinessDate.String())

	_, err = m.PreviousCashDrawer(ctx, "br-1", ledger.MustDate("2024-03-10"))
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
