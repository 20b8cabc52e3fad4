package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// ADJUSTMENTS (ledger.AdjustmentStore) - INSERT and SELECT only
// =============================================================================

func (s *Store) InsertAdjustment(ctx context.Context, a *ledger.Adjustment) error {
	return s.insert(ctx, "adjustment", `
		INSERT INTO adjustments
		(id, reference_table, reference_id, adjustment_type, old_value, new_value, reason, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(a.ID), string(a.Ref.Table()), a.Ref.ID(), string(a.Type),
		string(a.OldValue), string(a.NewValue), a.Reason, string(a.CreatedBy), a.CreatedAt.UTC())
}

const adjustmentColumns = `id, reference_table, reference_id, adjustment_type, old_value, new_value, reason, created_by, created_at`

func (s *Store) GetAdjustment(ctx context.Context, id ledger.AdjustmentID) (*ledger.Adjustment, error) {
	adjs, err := s.queryAdjustments(ctx, `SELECT `+adjustmentColumns+` FROM adjustments WHERE id = ?`, string(id))
	if err != nil {
		return nil, err
	}
	if len(adjs) == 0 {
		return nil, ledger.ErrNotFound
	}
	return &adjs[0], nil
}

func (s *Store) ListAdjustments(ctx context.Context, ref ledger.Reference) ([]ledger.Adjustment, error) {
	return s.queryAdjustments(ctx, `
		SELECT `+adjustmentColumns+` FROM adjustments
		WHERE reference_table = ? AND reference_id = ?
		ORDER BY seq
	`, string(ref.Table()), ref.ID())
}

func (s *Store) queryAdjustments(ctx context.Context, query string, args ...any) ([]ledger.Adjustment, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query adjustments: %w", err)
	}
	defer rows.Close()

	var out []ledger.Adjustment
	for rows.Next() {
		var (
			a              ledger.Adjustment
			table, refID   string
			oldVal, newVal []byte
		)
		err := rows.Scan(&a.ID, &table, &refID, &a.Type, &oldVal, &newVal, &a.Reason, &a.CreatedBy, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan adjustment: %w", err)
		}
		if a.Ref, err = ledger.ParseReference(ledger.RefTable(table), refID); err != nil {
			return nil, fmt.Errorf("adjustment %s: %w", a.ID, err)
		}
		a.OldValue = json.RawMessage(oldVal)
		a.NewValue = json.RawMessage(newVal)
		a.CreatedAt = a.CreatedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}
