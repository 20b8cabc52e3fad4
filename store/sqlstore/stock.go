package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// STOCK (ledger.StockStore)
// =============================================================================

// LockStock creates the balance row at zero when absent and returns its
// quantity, locking the row for the rest of the transaction where the
// dialect supports it.
func (s *Store) LockStock(ctx context.Context, key ledger.StockKey, at time.Time) (ledger.Quantity, error) {
	_, err := s.exec(ctx, `
		INSERT INTO stock_balances (id, branch_id, warehouse_id, item_id, quantity, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (branch_id, warehouse_id, item_id) DO NOTHING
	`, ledger.NewID(), string(key.BranchID), string(key.WarehouseID), string(key.ItemID), "0", at.UTC())
	if err != nil {
		return ledger.Quantity{}, fmt.Errorf("failed to create stock balance: %w", err)
	}

	var q decimal.Decimal
	err = s.queryRow(ctx, `
		SELECT quantity FROM stock_balances
		WHERE branch_id = ? AND warehouse_id = ? AND item_id = ?`+s.forUpdate(),
		string(key.BranchID), string(key.WarehouseID), string(key.ItemID),
	).Scan(&q)
	if err != nil {
		return ledger.Quantity{}, fmt.Errorf("failed to lock stock balance: %w", err)
	}
	return ledger.QuantityFromDecimal(q)
}

func (s *Store) MovementApplied(ctx context.Context, ref ledger.MovementRef, key ledger.StockKey) (bool, error) {
	var count int
	err := s.queryRow(ctx, `
		SELECT COUNT(*) FROM stock_movements
		WHERE movement_ref = ? AND branch_id = ? AND warehouse_id = ? AND item_id = ?
	`, string(ref), string(key.BranchID), string(key.WarehouseID), string(key.ItemID)).Scan(&count)
	return count > 0, err
}

// InsertMovement relies on the (movement_ref, key) unique index; a conflict
// inserts nothing and reports ErrDuplicateMovement without aborting the
// surrounding transaction.
func (s *Store) InsertMovement(ctx context.Context, m *ledger.Movement) error {
	res, err := s.exec(ctx, `
		INSERT INTO stock_movements
		(id, branch_id, warehouse_id, item_id, delta, movement_ref, balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (movement_ref, branch_id, warehouse_id, item_id) DO NOTHING
	`, m.ID, string(m.Key.BranchID), string(m.Key.WarehouseID), string(m.Key.ItemID),
		m.Delta.String(), string(m.Ref), m.Balance.String(), m.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert movement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrDuplicateMovement
	}
	return nil
}

func (s *Store) SetStock(ctx context.Context, key ledger.StockKey, q ledger.Quantity, at time.Time) error {
	err := mustAffect(s.exec(ctx, `
		UPDATE stock_balances SET quantity = ?, updated_at = ?
		WHERE branch_id = ? AND warehouse_id = ? AND item_id = ?
	`, q.String(), at.UTC(), string(key.BranchID), string(key.WarehouseID), string(key.ItemID)))
	if err != nil {
		return fmt.Errorf("failed to set stock %s: %w", key, err)
	}
	return nil
}

func (s *Store) StockQuantity(ctx context.Context, key ledger.StockKey) (ledger.Quantity, error) {
	var q decimal.Decimal
	err := s.queryRow(ctx, `
		SELECT quantity FROM stock_balances WHERE branch_id = ? AND warehouse_id = ? AND item_id = ?
	`, string(key.BranchID), string(key.WarehouseID), string(key.ItemID)).Scan(&q)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Quantity{}, nil
	}
	if err != nil {
		return ledger.Quantity{}, fmt.Errorf("failed to read stock: %w", err)
	}
	return ledger.QuantityFromDecimal(q)
}

func (s *Store) StockBalances(ctx context.Context, branch ledger.BranchID) ([]ledger.StockBalance, error) {
	rows, err := s.query(ctx, `
		SELECT id, branch_id, warehouse_id, item_id, quantity, updated_at
		FROM stock_balances WHERE branch_id = ?
		ORDER BY warehouse_id, item_id
	`, string(branch))
	if err != nil {
		return nil, fmt.Errorf("failed to query stock balances: %w", err)
	}
	defer rows.Close()

	var out []ledger.StockBalance
	for rows.Next() {
		var (
			b ledger.StockBalance
			q decimal.Decimal
		)
		if err := rows.Scan(&b.ID, &b.Key.BranchID, &b.Key.WarehouseID, &b.Key.ItemID, &q, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock balance: %w", err)
		}
		if b.Quantity, err = ledger.QuantityFromDecimal(q); err != nil {
			return nil, err
		}
		b.UpdatedAt = b.UpdatedAt.UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) Movements(ctx context.Context, key ledger.StockKey) ([]ledger.Movement, error) {
	rows, err := s.query(ctx, `
		SELECT id, delta, movement_ref, balance, created_at
		FROM stock_movements
		WHERE branch_id = ? AND warehouse_id = ? AND item_id = ?
		ORDER BY seq
	`, string(key.BranchID), string(key.WarehouseID), string(key.ItemID))
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var out []ledger.Movement
	for rows.Next() {
		var (
			m              ledger.Movement
			delta, balance decimal.Decimal
		)
		if err := rows.Scan(&m.ID, &delta, &m.Ref, &balance, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		m.Key = key
		if m.Delta, err = ledger.QuantityFromDecimal(delta); err != nil {
			return nil, err
		}
		if m.Balance, err = ledger.QuantityFromDecimal(balance); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}
