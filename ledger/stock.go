/*
stock.go - Stock Ledger: per-key balances moved by idempotent deltas

PURPOSE:
  Owns (branch, warehouse, item) -> quantity. The only way a balance
  changes is applyMovement, which records a Movement next to the new
  balance in the same storage transaction.

IDEMPOTENCY:
  Each delta carries a MovementRef naming its cause:
    "<transaction id>:<from>-><to>"   a status transition edge
    "adjustment:<adjustment id>"      a stock correction
  A (ref, key) pair is applied once. Replaying it returns the current
  quantity and changes nothing, so a caller that lost the response of a
  previous call can retry with the same ref.

CONCURRENCY:
  Writers hold the key lock ("stock:<b>/<w>/<i>") and, inside the storage
  transaction, the balance row itself. Quantity() takes no lock and reads
  the last committed value.

NEGATIVE STOCK:
  With NegativeStockReject a negative delta that would leave the balance
  below zero fails with *InsufficientStockError. Positive deltas are never
  rejected, even when the balance is already negative.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type StockLedger struct {
	*core
}

// ApplyMovement adds delta to key's balance once per ref and returns the
// resulting quantity.
func (l *StockLedger) ApplyMovement(ctx context.Context, key StockKey, delta Quantity, ref MovementRef) (Quantity, error) {
	if delta.IsZero() {
		return Quantity{}, invalid("delta", "movement delta must not be zero")
	}
	if ref == "" {
		return Quantity{}, invalid("movement_ref", "movement reference is required")
	}
	if err := checkStockKey(ctx, l.store, key); err != nil {
		return Quantity{}, err
	}

	var result Quantity
	err := l.withLocks(ctx, []string{key.lockKey()}, func() error {
		return l.store.WithTx(ctx, func(tx Store) error {
			q, _, err := applyMovement(ctx, tx, l.negative, key, delta, ref, l.now())
			result = q
			return err
		})
	})
	if err != nil {
		return Quantity{}, err
	}
	return result, nil
}

// applyMovement is the body of every stock change. It must run inside
// WithTx with the key lock held. applied is false for a replayed ref.
func applyMovement(ctx context.Context, tx Store, policy NegativeStockPolicy, key StockKey, delta Quantity, ref MovementRef, at time.Time) (q Quantity, applied bool, err error) {
	current, err := tx.LockStock(ctx, key, at)
	if err != nil {
		return Quantity{}, false, fmt.Errorf("lock stock %s: %w", key, err)
	}

	seen, err := tx.MovementApplied(ctx, ref, key)
	if err != nil {
		return Quantity{}, false, fmt.Errorf("check movement %s: %w", ref, err)
	}
	if seen {
		return current, false, nil
	}

	next := current.Add(delta)
	if policy == NegativeStockReject && delta.IsNegative() && next.IsNegative() {
		return Quantity{}, false, &InsufficientStockError{Key: key, Available: current, Delta: delta}
	}

	err = tx.InsertMovement(ctx, &Movement{
		ID:        NewID(),
		Key:       key,
		Delta:     delta,
		Ref:       ref,
		Balance:   next,
		CreatedAt: at,
	})
	if errors.Is(err, ErrDuplicateMovement) {
		return current, false, nil
	}
	if err != nil {
		return Quantity{}, false, fmt.Errorf("insert movement %s: %w", ref, err)
	}
	if err := tx.SetStock(ctx, key, next, at); err != nil {
		return Quantity{}, false, fmt.Errorf("set stock %s: %w", key, err)
	}
	return next, true, nil
}

// Quantity reads the committed balance. It is zero for a key that never moved.
func (l *StockLedger) Quantity(ctx context.Context, key StockKey) (Quantity, error) {
	if err := checkStockKey(ctx, l.store, key); err != nil {
		return Quantity{}, err
	}
	return l.store.StockQuantity(ctx, key)
}

// Movements returns the applied movements for key, oldest first.
func (l *StockLedger) Movements(ctx context.Context, key StockKey) ([]Movement, error) {
	return l.store.Movements(ctx, key)
}

func (l *StockLedger) Balances(ctx context.Context, branch BranchID) ([]StockBalance, error) {
	if _, err := activeBranch(ctx, l.store, branch); err != nil {
		return nil, err
	}
	return l.store.StockBalances(ctx, branch)
}
