package sqlstore

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// MASTER DATA (ledger.Directory, ledger.DirectoryWriter)
// =============================================================================

func (s *Store) SaveBranch(ctx context.Context, b ledger.Branch) error {
	_, err := s.exec(ctx, `
		INSERT INTO branches (id, name, code, is_active) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, code = excluded.code, is_active = excluded.is_active
	`, string(b.ID), b.Name, b.Code, b.IsActive)
	if err != nil {
		return fmt.Errorf("failed to save branch: %w", err)
	}
	return nil
}

func (s *Store) SaveWarehouse(ctx context.Context, w ledger.Warehouse) error {
	_, err := s.exec(ctx, `
		INSERT INTO warehouses (id, branch_id, name, is_active) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET branch_id = excluded.branch_id, name = excluded.name, is_active = excluded.is_active
	`, string(w.ID), string(w.BranchID), w.Name, w.IsActive)
	if err != nil {
		return fmt.Errorf("failed to save warehouse: %w", err)
	}
	return nil
}

func (s *Store) SaveItem(ctx context.Context, it ledger.Item) error {
	_, err := s.exec(ctx, `
		INSERT INTO items (id, name, display_name, sku, unit, tax_percent, is_active) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, display_name = excluded.display_name,
			sku = excluded.sku, unit = excluded.unit, tax_percent = excluded.tax_percent, is_active = excluded.is_active
	`, string(it.ID), it.Name, it.DisplayName, nullString(it.SKU), it.Unit, optPercentArg(it.TaxPercent), it.IsActive)
	if err != nil {
		return fmt.Errorf("failed to save item: %w", err)
	}
	return nil
}

func (s *Store) SaveParty(ctx context.Context, p ledger.Party) error {
	_, err := s.exec(ctx, `
		INSERT INTO parties (id, name, party_types, is_active) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, party_types = excluded.party_types, is_active = excluded.is_active
	`, string(p.ID), p.Name, p.Types.String(), p.IsActive)
	if err != nil {
		return fmt.Errorf("failed to save party: %w", err)
	}
	return nil
}

func (s *Store) SavePaymentMethod(ctx context.Context, pm ledger.PaymentMethod) error {
	_, err := s.exec(ctx, `
		INSERT INTO payment_methods (id, branch_id, name, type, is_active) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET branch_id = excluded.branch_id, name = excluded.name,
			type = excluded.type, is_active = excluded.is_active
	`, string(pm.ID), string(pm.BranchID), pm.Name, string(pm.Type), pm.IsActive)
	if err != nil {
		return fmt.Errorf("failed to save payment method: %w", err)
	}
	return nil
}

func (s *Store) Branch(ctx context.Context, id ledger.BranchID) (*ledger.Branch, error) {
	var b ledger.Branch
	err := s.queryRow(ctx, `SELECT id, name, code, is_active FROM branches WHERE id = ?`, string(id)).
		Scan(&b.ID, &b.Name, &b.Code, &b.IsActive)
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (s *Store) Branches(ctx context.Context) ([]ledger.Branch, error) {
	rows, err := s.query(ctx, `SELECT id, name, code, is_active FROM branches ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query branches: %w", err)
	}
	defer rows.Close()

	var out []ledger.Branch
	for rows.Next() {
		var b ledger.Branch
		if err := rows.Scan(&b.ID, &b.Name, &b.Code, &b.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan branch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) Warehouse(ctx context.Context, id ledger.WarehouseID) (*ledger.Warehouse, error) {
	var w ledger.Warehouse
	err := s.queryRow(ctx, `SELECT id, branch_id, name, is_active FROM warehouses WHERE id = ?`, string(id)).
		Scan(&w.ID, &w.BranchID, &w.Name, &w.IsActive)
	if err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

func (s *Store) Item(ctx context.Context, id ledger.ItemID) (*ledger.Item, error) {
	var (
		it  ledger.Item
		sku *string
		tax decimal.NullDecimal
	)
	err := s.queryRow(ctx, `SELECT id, name, display_name, sku, unit, tax_percent, is_active FROM items WHERE id = ?`, string(id)).
		Scan(&it.ID, &it.Name, &it.DisplayName, &sku, &it.Unit, &tax, &it.IsActive)
	if err != nil {
		return nil, notFound(err)
	}
	if sku != nil {
		it.SKU = *sku
	}
	if it.TaxPercent, err = optPercent(tax); err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *Store) Party(ctx context.Context, id ledger.PartyID) (*ledger.Party, error) {
	var (
		p     ledger.Party
		types string
	)
	err := s.queryRow(ctx, `SELECT id, name, party_types, is_active FROM parties WHERE id = ?`, string(id)).
		Scan(&p.ID, &p.Name, &types, &p.IsActive)
	if err != nil {
		return nil, notFound(err)
	}
	if p.Types, err = ledger.ParsePartyTypes(types); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) PaymentMethod(ctx context.Context, id ledger.PaymentMethodID) (*ledger.PaymentMethod, error) {
	var pm ledger.PaymentMethod
	err := s.queryRow(ctx, `SELECT id, branch_id, name, type, is_active FROM payment_methods WHERE id = ?`, string(id)).
		Scan(&pm.ID, &pm.BranchID, &pm.Name, &pm.Type, &pm.IsActive)
	if err != nil {
		return nil, notFound(err)
	}
	return &pm, nil
}
