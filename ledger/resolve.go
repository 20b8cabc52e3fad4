package ledger

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// REFERENCE RESOLUTION - every foreign key is checked before any write
// =============================================================================

func unknown(kind, id string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return &UnknownEntityError{Kind: kind, ID: id}
	}
	return fmt.Errorf("load %s %s: %w", kind, id, err)
}

func activeBranch(ctx context.Context, d Directory, id BranchID) (*Branch, error) {
	b, err := d.Branch(ctx, id)
	if err != nil {
		return nil, unknown("branch", string(id), err)
	}
	if !b.IsActive {
		return nil, &UnknownEntityError{Kind: "branch", ID: string(id), Inactive: true}
	}
	return b, nil
}

func activeWarehouse(ctx context.Context, d Directory, branch BranchID, id WarehouseID) (*Warehouse, error) {
	w, err := d.Warehouse(ctx, id)
	if err != nil {
		return nil, unknown("warehouse", string(id), err)
	}
	if !w.IsActive {
		return nil, &UnknownEntityError{Kind: "warehouse", ID: string(id), Inactive: true}
	}
	if w.BranchID != branch {
		return nil, &UnknownEntityError{
			Kind:   "warehouse",
			ID:     string(id),
			Detail: fmt.Sprintf("belongs to branch %s, not %s", w.BranchID, branch),
		}
	}
	return w, nil
}

func activeItem(ctx context.Context, d Directory, id ItemID) (*Item, error) {
	it, err := d.Item(ctx, id)
	if err != nil {
		return nil, unknown("item", string(id), err)
	}
	if !it.IsActive {
		return nil, &UnknownEntityError{Kind: "item", ID: string(id), Inactive: true}
	}
	return it, nil
}

// activeParty loads a party and, when want is non-zero, requires that type.
func activeParty(ctx context.Context, d Directory, id PartyID, want PartyType) (*Party, error) {
	p, err := d.Party(ctx, id)
	if err != nil {
		return nil, unknown("party", string(id), err)
	}
	if !p.IsActive {
		return nil, &UnknownEntityError{Kind: "party", ID: string(id), Inactive: true}
	}
	if want != 0 && !p.Types.Has(want) {
		return nil, &UnknownEntityError{
			Kind:   "party",
			ID:     string(id),
			Detail: fmt.Sprintf("types %q do not include %s", p.Types, PartyTypes(want)),
		}
	}
	return p, nil
}

func activePaymentMethod(ctx context.Context, d Directory, branch BranchID, id PaymentMethodID) (*PaymentMethod, error) {
	pm, err := d.PaymentMethod(ctx, id)
	if err != nil {
		return nil, unknown("payment method", string(id), err)
	}
	if !pm.IsActive {
		return nil, &UnknownEntityError{Kind: "payment method", ID: string(id), Inactive: true}
	}
	if pm.BranchID != branch {
		return nil, &UnknownEntityError{
			Kind:   "payment method",
			ID:     string(id),
			Detail: fmt.Sprintf("belongs to branch %s, not %s", pm.BranchID, branch),
		}
	}
	return pm, nil
}

// checkStockKey requires an active branch, an active warehouse of that
// branch and an active item.
func checkStockKey(ctx context.Context, d Directory, key StockKey) error {
	if _, err := activeBranch(ctx, d, key.BranchID); err != nil {
		return err
	}
	if _, err := activeWarehouse(ctx, d, key.BranchID, key.WarehouseID); err != nil {
		return err
	}
	_, err := activeItem(ctx, d, key.ItemID)
	return err
}
