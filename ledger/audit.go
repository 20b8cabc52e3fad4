/*
audit.go - Append-only adjustment log and the corrections that use it

PURPOSE:
  Every change to a value after its entity left its initial state is
  recorded here as an Adjustment: what it referred to, old and new value
  snapshots, why, who and when. Adjustments are never updated or deleted.

CORRECTIONS:
  The log is a record of fact, not a mutator. Corrections that change
  state write the adjustment and the change in one storage transaction:

    CorrectStock      stock_correction  + one movement "adjustment:<id>"
    CorrectLinePrice  price_correction  + the line's unit price
    Reopen (drawer)   cash_reopen       + permits one more reconciliation

  Record alone writes only the adjustment. A cash_correction recorded on
  a CashDrawerRef also unlocks an audited drawer for reconciliation.

SNAPSHOTS:
  Old and new values are opaque JSON. Whatever the caller passes is
  encoded once on write and handed back byte for byte on every read.
*/
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type AdjustmentType string

const (
	AdjustStockCorrection  AdjustmentType = "stock_correction"
	AdjustPriceCorrection  AdjustmentType = "price_correction"
	AdjustCashCorrection   AdjustmentType = "cash_correction"
	AdjustCashReopen       AdjustmentType = "cash_reopen"
	AdjustStatusCorrection AdjustmentType = "status_correction"
	AdjustDataCorrection   AdjustmentType = "data_correction"
)

// Adjustment is an immutable audit entry.
type Adjustment struct {
	ID        AdjustmentID
	Ref       Reference
	Type      AdjustmentType
	OldValue  json.RawMessage
	NewValue  json.RawMessage
	Reason    string
	CreatedBy PartyID
	CreatedAt time.Time
}

// Clone returns a deep copy so stored snapshots cannot be mutated by callers.
func (a *Adjustment) Clone() *Adjustment {
	if a == nil {
		return nil
	}
	c := *a
	c.OldValue = append(json.RawMessage(nil), a.OldValue...)
	c.NewValue = append(json.RawMessage(nil), a.NewValue...)
	return &c
}

// AdjustmentInput is the input of Record.
type AdjustmentInput struct {
	Ref      Reference      `validate:"required"`
	Type     AdjustmentType `validate:"required,max=64"`
	OldValue any
	NewValue any
	Reason   string `validate:"required,max=2000"`
}

type AuditLog struct {
	*core
}

// =============================================================================
// RECORD / READ
// =============================================================================

func (a *AuditLog) Record(ctx context.Context, in AdjustmentInput, actor Actor) (*Adjustment, error) {
	if err := a.checkActor(actor); err != nil {
		return nil, err
	}
	if err := check(a.validate, in); err != nil {
		return nil, err
	}
	if err := a.resolve(ctx, a.store, in.Ref); err != nil {
		return nil, err
	}
	adj, err := a.build(in, actor)
	if err != nil {
		return nil, err
	}
	if err := a.store.InsertAdjustment(ctx, adj); err != nil {
		return nil, fmt.Errorf("insert adjustment: %w", err)
	}
	a.logged(adj)
	return adj.Clone(), nil
}

func (a *AuditLog) build(in AdjustmentInput, actor Actor) (*Adjustment, error) {
	oldValue, err := snapshot(in.OldValue)
	if err != nil {
		return nil, err
	}
	newValue, err := snapshot(in.NewValue)
	if err != nil {
		return nil, err
	}
	return &Adjustment{
		ID:        AdjustmentID(NewID()),
		Ref:       in.Ref,
		Type:      in.Type,
		OldValue:  oldValue,
		NewValue:  newValue,
		Reason:    in.Reason,
		CreatedBy: actor.PartyID,
		CreatedAt: a.now(),
	}, nil
}

func (a *AuditLog) logged(adj *Adjustment) {
	a.log.Info().
		Str("adjustment_id", string(adj.ID)).
		Str("type", string(adj.Type)).
		Str("ref_table", string(adj.Ref.Table())).
		Str("ref_id", adj.Ref.ID()).
		Str("actor", string(adj.CreatedBy)).
		Msg("adjustment recorded")
}

func (a *AuditLog) Get(ctx context.Context, id AdjustmentID) (*Adjustment, error) {
	adj, err := a.store.GetAdjustment(ctx, id)
	if err != nil {
		return nil, unknown("adjustment", string(id), err)
	}
	return adj, nil
}

func (a *AuditLog) List(ctx context.Context, ref Reference) ([]Adjustment, error) {
	if ref == nil {
		return nil, invalid("reference", "reference is required")
	}
	return a.store.ListAdjustments(ctx, ref)
}

// resolve checks that the entity a reference points at exists.
func (a *AuditLog) resolve(ctx context.Context, s Store, ref Reference) error {
	switch r := ref.(type) {
	case TransactionRef:
		_, err := s.GetTransaction(ctx, r.TransactionID)
		if err != nil {
			return unknown("transaction", string(r.TransactionID), err)
		}
	case TransactionItemRef:
		t, err := s.GetTransaction(ctx, r.TransactionID)
		if err != nil {
			return unknown("transaction", string(r.TransactionID), err)
		}
		if _, ok := t.Line(r.LineNo); !ok {
			return &UnknownEntityError{Kind: "transaction item", ID: r.ID()}
		}
	case StockBalanceRef:
		return checkStockKey(ctx, s, r.Key)
	case CashDrawerRef:
		_, err := s.CashDrawer(ctx, r.BranchID, r.BusinessDate)
		if err != nil {
			return unknown("cash drawer", r.ID(), err)
		}
	case ExpenseRef:
		_, err := s.GetExpense(ctx, r.ExpenseID)
		if err != nil {
			return unknown("expense", string(r.ExpenseID), err)
		}
	default:
		return invalid("reference", "unsupported reference %T", ref)
	}
	return nil
}

// =============================================================================
// CORRECTIONS
// =============================================================================

type stockSnapshot struct {
	Quantity Quantity `json:"quantity"`
}

// CorrectStock sets key's balance to target and records why. The change is
// one stock_correction adjustment plus one movement referencing it.
func (a *AuditLog) CorrectStock(ctx context.Context, key StockKey, target Quantity, reason string, actor Actor) (*Adjustment, error) {
	if err := a.checkActor(actor); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, invalid("reason", "reason is required")
	}
	if a.negative == NegativeStockReject && target.IsNegative() {
		return nil, invalid("quantity", "stock cannot be corrected to a negative quantity")
	}
	if err := checkStockKey(ctx, a.store, key); err != nil {
		return nil, err
	}

	var adj *Adjustment
	err := a.withLocks(ctx, []string{key.lockKey()}, func() error {
		return a.store.WithTx(ctx, func(tx Store) error {
			now := a.now()
			current, err := tx.LockStock(ctx, key, now)
			if err != nil {
				return fmt.Errorf("lock stock %s: %w", key, err)
			}
			delta := target.Sub(current)
			if delta.IsZero() {
				return invalid("quantity", "stock at %s is already %s", key, target)
			}
			adj, err = a.build(AdjustmentInput{
				Ref:      StockBalanceRef{Key: key},
				Type:     AdjustStockCorrection,
				OldValue: stockSnapshot{Quantity: current},
				NewValue: stockSnapshot{Quantity: target},
				Reason:   reason,
			}, actor)
			if err != nil {
				return err
			}
			if err := tx.InsertAdjustment(ctx, adj); err != nil {
				return fmt.Errorf("insert adjustment: %w", err)
			}
			_, _, err = applyMovement(ctx, tx, a.negative, key, delta, AdjustmentRef(adj.ID), now)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	a.logged(adj)
	return adj.Clone(), nil
}

type priceSnapshot struct {
	LineNo    int   `json:"line_no"`
	UnitPrice Money `json:"unit_price"`
}

// CorrectLinePrice changes the unit price of one line and records the old
// and new price.
func (a *AuditLog) CorrectLinePrice(ctx context.Context, id TransactionID, lineNo int, price Money, reason string, actor Actor) (*Adjustment, error) {
	if err := a.checkActor(actor); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, invalid("reason", "reason is required")
	}
	if price.IsNegative() {
		return nil, invalid("unit_price", "unit price must not be negative")
	}

	var adj *Adjustment
	err := a.withLocks(ctx, []string{txnLockKey(id)}, func() error {
		return a.store.WithTx(ctx, func(tx Store) error {
			t, err := tx.GetTransaction(ctx, id)
			if err != nil {
				return unknown("transaction", string(id), err)
			}
			line, ok := t.Line(lineNo)
			if !ok {
				return &UnknownEntityError{Kind: "transaction item", ID: TransactionItemRef{TransactionID: id, LineNo: lineNo}.ID()}
			}
			if line.UnitPrice.Equal(price) {
				return invalid("unit_price", "line %d already has unit price %s", lineNo, price)
			}
			adj, err = a.build(AdjustmentInput{
				Ref:      TransactionItemRef{TransactionID: id, LineNo: lineNo},
				Type:     AdjustPriceCorrection,
				OldValue: priceSnapshot{LineNo: lineNo, UnitPrice: line.UnitPrice},
				NewValue: priceSnapshot{LineNo: lineNo, UnitPrice: price},
				Reason:   reason,
			}, actor)
			if err != nil {
				return err
			}
			if err := tx.InsertAdjustment(ctx, adj); err != nil {
				return fmt.Errorf("insert adjustment: %w", err)
			}
			return tx.UpdateLinePrice(ctx, id, lineNo, price, adj.CreatedAt)
		})
	})
	if err != nil {
		return nil, err
	}
	a.logged(adj)
	return adj.Clone(), nil
}

// latestAfter returns the newest adjustment on ref created at or after t, if
// any. Timestamps are truncated to microseconds, so an adjustment recorded in
// the same tick as t counts.
func latestAfter(ctx context.Context, s Store, ref Reference, t time.Time) (*Adjustment, error) {
	adjs, err := s.ListAdjustments(ctx, ref)
	if err != nil {
		return nil, err
	}
	for i := len(adjs) - 1; i >= 0; i-- {
		if !adjs[i].CreatedAt.Before(t) {
			return &adjs[i], nil
		}
	}
	return nil, nil
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
