/*
transaction.go - Transaction service: creation and status transitions

PURPOSE:
  Creates transactions in status booked and moves them along the
  Lifecycle. A transition and the stock movements it implies commit
  together or not at all.

TRANSITION FLOW:
  1. Load. If the status already equals the target, return unchanged.
  2. Reject edges the Lifecycle does not allow.
  3. Aggregate lines per (warehouse, item), multiply by the edge's
     multiplier, drop zero deltas.
  4. Lock the transaction and every stock key (sorted).
  5. In one storage transaction: compare-and-set the status, then apply
     each delta with ref "<id>:<from>-><to>".
  6. A lost compare-and-set is retried from step 1, up to MaxAttempts.

RETURNS:
  A return transaction points at its original through ReturnOf. It moves
  stock in the opposite direction of the original. The original's own
  stock effect must still be applied, and per (warehouse, item) the open
  returns of one original never exceed what it carried. A return is open
  while it can still reach all_ok or sits in it. The check runs at Create
  and again, under the original's lock, when the return enters all_ok.
  An original with open returns cannot reverse its own effect.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

type TransactionService struct {
	*core
}

// NewTransaction is the input of Create.
type NewTransaction struct {
	BranchID        BranchID         `json:"branch_id" validate:"required"`
	PartyID         PartyID          `json:"party_id" validate:"required"`
	EmployeeID      *PartyID         `json:"employee_id,omitempty" validate:"omitempty,required"`
	Type            TransactionType  `json:"type" validate:"required,oneof=purchase sales return"`
	ReturnOf        *TransactionID   `json:"return_of,omitempty" validate:"required_if=Type return"`
	BillNumber      string           `json:"bill_number,omitempty" validate:"max=64"`
	BillDate        Date             `json:"bill_date,omitempty"` // optional; stamped on entering billed when unset
	PaymentMethodID *PaymentMethodID `json:"payment_method_id,omitempty" validate:"omitempty,required"`
	Notes           string           `json:"notes,omitempty" validate:"max=2000"`
	SystemGenerated bool             `json:"system_generated,omitempty"`
	Items           []NewLineItem    `json:"items" validate:"required,min=1,dive"`
	Transport       *TransportDetail `json:"transport,omitempty"`
	Attachments     []Attachment     `json:"attachments,omitempty"`
}

type NewLineItem struct {
	ItemID      ItemID      `json:"item_id" validate:"required"`
	WarehouseID WarehouseID `json:"warehouse_id" validate:"required"`
	Quantity    Quantity    `json:"quantity" validate:"positive"`
	UnitPrice   Money       `json:"unit_price" validate:"nonnegative"`
	TaxPercent  *Percent    `json:"tax_percent,omitempty" validate:"omitempty,percent"`
	Discount    Money       `json:"discount" validate:"nonnegative"`
}

func txnLockKey(id TransactionID) string { return "txn:" + string(id) }

// =============================================================================
// CREATE
// =============================================================================

func (s *TransactionService) Create(ctx context.Context, in NewTransaction, actor Actor) (*Transaction, error) {
	if err := s.checkActor(actor); err != nil {
		return nil, err
	}
	if err := check(s.validate, in); err != nil {
		return nil, err
	}
	if err := s.resolveReferences(ctx, in); err != nil {
		return nil, err
	}
	if in.Type != TypeReturn && in.ReturnOf != nil {
		return nil, invalid("return_of", "only return transactions refer to an original")
	}
	if in.Type == TypeReturn {
		if err := s.checkReturn(ctx, in); err != nil {
			return nil, err
		}
	}

	now := s.now()
	t := &Transaction{
		ID:              TransactionID(NewID()),
		BranchID:        in.BranchID,
		PartyID:         in.PartyID,
		EmployeeID:      clonePtr(in.EmployeeID),
		Type:            in.Type,
		Status:          StatusBooked,
		ReturnOf:        clonePtr(in.ReturnOf),
		BillNumber:      in.BillNumber,
		BillDate:        in.BillDate,
		PaymentMethodID: clonePtr(in.PaymentMethodID),
		Notes:           in.Notes,
		SystemGenerated: in.SystemGenerated,
		Transport:       clonePtr(in.Transport),
		CreatedBy:       actor.PartyID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i, l := range in.Items {
		t.Items = append(t.Items, LineItem{
			LineNo:      i + 1,
			ItemID:      l.ItemID,
			WarehouseID: l.WarehouseID,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			TaxPercent:  clonePtr(l.TaxPercent),
			Discount:    l.Discount,
		})
	}
	for _, a := range in.Attachments {
		if a.ID == "" {
			a.ID = NewID()
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		t.Attachments = append(t.Attachments, a)
	}

	if err := s.store.InsertTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	s.log.Info().
		Str("transaction_id", string(t.ID)).
		Str("type", string(t.Type)).
		Str("branch_id", string(t.BranchID)).
		Str("actor", string(actor.PartyID)).
		Int("lines", len(t.Items)).
		Msg("transaction created")
	return t.Clone(), nil
}

func (s *TransactionService) resolveReferences(ctx context.Context, in NewTransaction) error {
	if _, err := activeBranch(ctx, s.store, in.BranchID); err != nil {
		return err
	}
	if _, err := activeParty(ctx, s.store, in.PartyID, 0); err != nil {
		return err
	}
	if in.EmployeeID != nil {
		if _, err := activeParty(ctx, s.store, *in.EmployeeID, PartyEmployee); err != nil {
			return err
		}
	}
	if in.PaymentMethodID != nil {
		if _, err := activePaymentMethod(ctx, s.store, in.BranchID, *in.PaymentMethodID); err != nil {
			return err
		}
	}
	for _, l := range in.Items {
		if _, err := activeWarehouse(ctx, s.store, in.BranchID, l.WarehouseID); err != nil {
			return err
		}
		if _, err := activeItem(ctx, s.store, l.ItemID); err != nil {
			return err
		}
	}
	return nil
}

func (s *TransactionService) checkReturn(ctx context.Context, in NewTransaction) error {
	orig, err := s.store.GetTransaction(ctx, *in.ReturnOf)
	if err != nil {
		return unknown("transaction", string(*in.ReturnOf), err)
	}
	if orig.BranchID != in.BranchID {
		return &UnknownEntityError{
			Kind:   "transaction",
			ID:     string(orig.ID),
			Detail: fmt.Sprintf("belongs to branch %s, not %s", orig.BranchID, in.BranchID),
		}
	}
	left, err := s.returnable(ctx, s.store, orig, "")
	if err != nil {
		return err
	}
	return checkReturnQuantities(orig.ID, aggregateNew(in.Items), left)
}

// returnOpen reports whether return r still claims quantities of its original.
func (s *TransactionService) returnOpen(r *Transaction) bool {
	return !s.lifecycle.IsTerminal(r.Status) || s.lifecycle.Holds(r.Type, r.Status)
}

// returnable is what is left to return of orig per (warehouse, item) once its
// open returns, other than self, are subtracted.
func (s *TransactionService) returnable(ctx context.Context, st TransactionStore, orig *Transaction, self TransactionID) (map[lineKey]Quantity, error) {
	if orig.Type == TypeReturn {
		return nil, invalid("return_of", "cannot return a return transaction")
	}
	if !s.lifecycle.Holds(orig.Type, orig.Status) {
		return nil, invalid("return_of", "transaction %s is %s and has no stock effect to return", orig.ID, orig.Status)
	}
	returns, err := st.ReturnsOf(ctx, orig.ID)
	if err != nil {
		return nil, fmt.Errorf("load returns of %s: %w", orig.ID, err)
	}
	left := aggregate(orig.Items)
	for i := range returns {
		r := &returns[i]
		if r.ID == self || !s.returnOpen(r) {
			continue
		}
		for k, q := range aggregate(r.Items) {
			left[k] = left[k].Sub(q)
		}
	}
	return left, nil
}

func checkReturnQuantities(orig TransactionID, want, left map[lineKey]Quantity) error {
	for k, q := range want {
		l, ok := left[k]
		if !ok {
			return invalid("items", "item %s at warehouse %s is not on transaction %s", k.item, k.warehouse, orig)
		}
		if q.Cmp(l) > 0 {
			return invalid("items", "returning %s of item %s exceeds the %s left to return on %s", q, k.item, l, orig)
		}
	}
	return nil
}

// guardReturns stops a return and its original from reversing the same stock
// twice. It runs inside the transition's locks and storage transaction.
func (s *TransactionService) guardReturns(ctx context.Context, tx Store, t *Transaction, from, to Status) error {
	wasHeld, isHeld := s.lifecycle.Holds(t.Type, from), s.lifecycle.Holds(t.Type, to)
	rejected := func(reason string) error {
		return &InvalidTransitionError{TransactionID: t.ID, From: from, To: to, Reason: reason}
	}

	switch {
	case t.Type == TypeReturn && !wasHeld && isHeld:
		orig, err := tx.GetTransaction(ctx, *t.ReturnOf)
		if err != nil {
			return unknown("transaction", string(*t.ReturnOf), err)
		}
		left, err := s.returnable(ctx, tx, orig, t.ID)
		if err == nil {
			err = checkReturnQuantities(orig.ID, aggregate(t.Items), left)
		}
		var ve *ValidationError
		if errors.As(err, &ve) {
			return rejected(ve.Message)
		}
		return err

	case t.Type != TypeReturn && wasHeld && !isHeld:
		returns, err := tx.ReturnsOf(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("load returns of %s: %w", t.ID, err)
		}
		for i := range returns {
			if r := &returns[i]; s.returnOpen(r) {
				return rejected(fmt.Sprintf("return %s is %s; cancel it first", r.ID, r.Status))
			}
		}
	}
	return nil
}

// =============================================================================
// TRANSITION
// =============================================================================

type lineKey struct {
	warehouse WarehouseID
	item      ItemID
}

func aggregate(items []LineItem) map[lineKey]Quantity {
	out := make(map[lineKey]Quantity, len(items))
	for _, l := range items {
		k := lineKey{warehouse: l.WarehouseID, item: l.ItemID}
		out[k] = out[k].Add(l.Quantity)
	}
	return out
}

func aggregateNew(items []NewLineItem) map[lineKey]Quantity {
	out := make(map[lineKey]Quantity, len(items))
	for _, l := range items {
		k := lineKey{warehouse: l.WarehouseID, item: l.ItemID}
		out[k] = out[k].Add(l.Quantity)
	}
	return out
}

type stockDelta struct {
	key   StockKey
	delta Quantity
}

// Transition moves transaction id to target and applies the stock effect of
// that edge. Calling it again once the transaction is at target is a no-op.
func (s *TransactionService) Transition(ctx context.Context, id TransactionID, target Status, actor Actor) (*Transaction, error) {
	if err := s.checkActor(actor); err != nil {
		return nil, err
	}
	if !target.Valid() {
		return nil, invalid("status", "unknown status %q", target)
	}

	for attempt := 1; ; attempt++ {
		t, err := s.transitionOnce(ctx, id, target, actor)
		if !errors.Is(err, ErrConcurrentModification) {
			return t, err
		}
		s.log.Debug().
			Str("transaction_id", string(id)).
			Int("attempt", attempt).
			Msg("status compare-and-set lost, retrying")
		if attempt >= s.maxAttempts {
			return nil, &BusyError{Key: txnLockKey(id), Attempts: attempt}
		}
	}
}

func (s *TransactionService) transitionOnce(ctx context.Context, id TransactionID, target Status, actor Actor) (*Transaction, error) {
	t, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, unknown("transaction", string(id), err)
	}
	if t.Status == target {
		return t, nil
	}
	from := t.Status
	if !s.lifecycle.CanTransition(from, target) {
		s.log.Debug().
			Str("transaction_id", string(id)).
			Str("from", string(from)).
			Str("to", string(target)).
			Msg("transition rejected")
		return nil, &InvalidTransitionError{TransactionID: id, From: from, To: target}
	}

	deltas, err := s.deltas(ctx, t, from, target)
	if err != nil {
		return nil, err
	}

	keys := []string{txnLockKey(id)}
	if t.ReturnOf != nil {
		keys = append(keys, txnLockKey(*t.ReturnOf))
	}
	for _, d := range deltas {
		keys = append(keys, d.key.lockKey())
	}

	ref := TransitionRef(id, from, target)
	now := s.now()
	update := StatusUpdate{ID: id, From: from, To: target, At: now}
	switch target {
	case StatusBilled:
		update.BillDate = s.today()
	case StatusShipped:
		update.ShippedDate = s.today()
	}

	err = s.withLocks(ctx, keys, func() error {
		return s.store.WithTx(ctx, func(tx Store) error {
			if err := s.guardReturns(ctx, tx, t, from, target); err != nil {
				return err
			}
			if err := tx.UpdateTransactionStatus(ctx, update); err != nil {
				return err
			}
			for _, d := range deltas {
				if _, _, err := applyMovement(ctx, tx, s.negative, d.key, d.delta, ref, now); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		if !errors.Is(err, ErrConcurrentModification) {
			s.log.Debug().Err(err).
				Str("transaction_id", string(id)).
				Str("from", string(from)).
				Str("to", string(target)).
				Msg("transition failed")
		}
		return nil, err
	}

	s.log.Info().
		Str("transaction_id", string(id)).
		Str("from", string(from)).
		Str("to", string(target)).
		Str("actor", string(actor.PartyID)).
		Int("movements", len(deltas)).
		Msg("transaction transitioned")

	out, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload transaction %s: %w", id, err)
	}
	return out, nil
}

// deltas computes the signed stock deltas of the edge from -> to, sorted by key.
func (s *TransactionService) deltas(ctx context.Context, t *Transaction, from, to Status) ([]stockDelta, error) {
	var original TransactionType
	if t.Type == TypeReturn {
		if t.ReturnOf == nil {
			return nil, invalid("return_of", "return transaction %s has no original", t.ID)
		}
		orig, err := s.store.GetTransaction(ctx, *t.ReturnOf)
		if err != nil {
			return nil, unknown("transaction", string(*t.ReturnOf), err)
		}
		original = orig.Type
	}
	dir := s.lifecycle.Direction(t.Type, original)
	mult := s.lifecycle.Multiplier(t.Type, dir, from, to)
	if mult == 0 {
		return nil, nil
	}

	var out []stockDelta
	for k, q := range aggregate(t.Items) {
		d := q.Times(mult)
		if d.IsZero() {
			continue
		}
		out = append(out, stockDelta{
			key:   StockKey{BranchID: t.BranchID, WarehouseID: k.warehouse, ItemID: k.item},
			delta: d,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key.Less(out[j].key) })
	return out, nil
}

// =============================================================================
// READS AND AUDIT
// =============================================================================

func (s *TransactionService) Get(ctx context.Context, id TransactionID) (*Transaction, error) {
	t, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, unknown("transaction", string(id), err)
	}
	return t, nil
}

// Audit marks a transaction as reviewed. Auditing twice keeps the first stamp.
func (s *TransactionService) Audit(ctx context.Context, id TransactionID, actor Actor) (*Transaction, error) {
	if err := s.checkActor(actor); err != nil {
		return nil, err
	}
	var out *Transaction
	err := s.withLocks(ctx, []string{txnLockKey(id)}, func() error {
		t, err := s.store.GetTransaction(ctx, id)
		if err != nil {
			return unknown("transaction", string(id), err)
		}
		if t.Audited {
			out = t
			return nil
		}
		now := s.now()
		if err := s.store.SetTransactionAudit(ctx, id, actor.PartyID, now); err != nil {
			return fmt.Errorf("audit transaction %s: %w", id, err)
		}
		t.Audited = true
		t.AuditedBy = &actor.PartyID
		t.AuditedAt = &now
		t.UpdatedAt = now
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("transaction_id", string(id)).Str("actor", string(actor.PartyID)).Msg("transaction audited")
	return out, nil
}
