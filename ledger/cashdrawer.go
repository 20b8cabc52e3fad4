/*
cashdrawer.go - Daily cash drawer reconciliation

PURPOSE:
  Once per branch per business date the physically counted closing cash
  is compared with what the system says should be in the drawer.

SYSTEM CASH:
  systemCash = opening
             + cash sales
             - cash purchases
             - cash sales returns
             + cash purchase returns
             - cash expenses

  A transaction is "cash" when its payment method has type cash_drawer.
  It counts on its bill date, and only while it is in a cash-bearing
  status: billed through all_ok for purchases and sales, all_ok for
  returns. Cancelled and returned transactions do not count.

LIFECYCLE OF A DAY:
  Open       row created, opening = previous day's closing (or system
             cash when that day was never counted), else zero
  Reconcile  opening re-read from the previous day, system cash
             recomputed, closing stored; repeatable (upsert)
  Audit      auditor stamped; from now on Reconcile fails AlreadyAudited
  Reopen     cash_reopen adjustment; the next Reconcile proceeds, clears
             the audit and copies the adjustment's reason

CONCURRENCY:
  Every write to a day holds "drawer:<branch>@<date>".
*/
package ledger

import (
	"context"
	"fmt"
	"time"
)

type CashDrawerReconciler struct {
	*core
	audit *AuditLog
}

// NewExpense is the input of RecordExpense. A zero BusinessDate means today.
type NewExpense struct {
	BranchID        BranchID        `json:"branch_id" validate:"required"`
	PartyID         *PartyID        `json:"party_id,omitempty" validate:"omitempty,required"`
	EmployeeID      *PartyID        `json:"employee_id,omitempty" validate:"omitempty,required"`
	Ledger          string          `json:"ledger" validate:"required,max=128"`
	Amount          Money           `json:"amount" validate:"positive"`
	PaymentMethodID PaymentMethodID `json:"payment_method_id" validate:"required"`
	Notes           string          `json:"notes,omitempty" validate:"max=2000"`
	BusinessDate    Date            `json:"business_date,omitempty"`
}

func (r *CashDrawerReconciler) Get(ctx context.Context, branch BranchID, date Date) (*CashDrawerDaily, error) {
	d, err := r.store.CashDrawer(ctx, branch, date)
	if err != nil {
		return nil, unknown("cash drawer", CashDrawerRef{BranchID: branch, BusinessDate: date}.ID(), err)
	}
	return d, nil
}

// =============================================================================
// OPEN
// =============================================================================

// Open creates the day's drawer with the carried-over opening cash. Opening
// an existing day returns it unchanged.
func (r *CashDrawerReconciler) Open(ctx context.Context, branch BranchID, date Date, actor Actor) (*CashDrawerDaily, error) {
	if err := r.checkDay(ctx, branch, date, actor); err != nil {
		return nil, err
	}
	var out *CashDrawerDaily
	created := false
	err := r.withLocks(ctx, []string{drawerLockKey(branch, date)}, func() error {
		return r.store.WithTx(ctx, func(tx Store) error {
			d, err := tx.CashDrawer(ctx, branch, date)
			if err == nil {
				out = d
				return nil
			}
			if !isNotFound(err) {
				return fmt.Errorf("load cash drawer: %w", err)
			}
			d, err = r.newDay(ctx, tx, branch, date)
			if err != nil {
				return err
			}
			d.SystemCash, err = r.systemCash(ctx, tx, branch, date, d.OpeningCash)
			if err != nil {
				return err
			}
			if err := tx.UpsertCashDrawer(ctx, d); err != nil {
				return fmt.Errorf("insert cash drawer: %w", err)
			}
			out, created = d, true
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if created {
		r.log.Info().
			Str("branch_id", string(branch)).
			Str("date", date.String()).
			Str("opening", out.OpeningCash.String()).
			Str("actor", string(actor.PartyID)).
			Msg("cash drawer opened")
	}
	return out.Clone(), nil
}

func (r *CashDrawerReconciler) newDay(ctx context.Context, tx Store, branch BranchID, date Date) (*CashDrawerDaily, error) {
	opening, err := r.openingCash(ctx, tx, branch, date)
	if err != nil {
		return nil, err
	}
	now := r.now()
	return &CashDrawerDaily{
		ID:           NewID(),
		BranchID:     branch,
		BusinessDate: date,
		OpeningCash:  opening,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// openingCash is the nearest earlier day's closing count, or its system cash
// when it was never counted. The first day of a branch opens at zero.
func (r *CashDrawerReconciler) openingCash(ctx context.Context, tx Store, branch BranchID, date Date) (Money, error) {
	prev, err := tx.PreviousCashDrawer(ctx, branch, date)
	switch {
	case isNotFound(err):
		return Money{}, nil
	case err != nil:
		return Money{}, fmt.Errorf("load previous cash drawer: %w", err)
	case prev.ClosingCash != nil:
		return *prev.ClosingCash, nil
	}
	return prev.SystemCash, nil
}

// =============================================================================
// RECONCILE
// =============================================================================

// Reconcile records the counted closing cash for a day and recomputes system
// cash. Reconciling the same day again updates the same row.
func (r *CashDrawerReconciler) Reconcile(ctx context.Context, branch BranchID, date Date, closingCash Money, actor Actor) (*CashDrawerDaily, error) {
	if err := r.checkDay(ctx, branch, date, actor); err != nil {
		return nil, err
	}
	if closingCash.IsNegative() {
		return nil, invalid("closing_cash", "closing cash must not be negative")
	}

	var out *CashDrawerDaily
	reopened := false
	err := r.withLocks(ctx, []string{drawerLockKey(branch, date)}, func() error {
		return r.store.WithTx(ctx, func(tx Store) error {
			d, err := tx.CashDrawer(ctx, branch, date)
			switch {
			case isNotFound(err):
				if d, err = r.newDay(ctx, tx, branch, date); err != nil {
					return err
				}
			case err != nil:
				return fmt.Errorf("load cash drawer: %w", err)
			}

			if d.IsAudited() {
				ref := CashDrawerRef{BranchID: branch, BusinessDate: date}
				adj, err := latestAfter(ctx, tx, ref, *d.AuditedAt)
				if err != nil {
					return fmt.Errorf("load adjustments: %w", err)
				}
				if adj == nil {
					by := PartyID("")
					if d.AuditedBy != nil {
						by = *d.AuditedBy
					}
					return &AlreadyAuditedError{BranchID: branch, BusinessDate: date, AuditedBy: by, AuditedAt: *d.AuditedAt}
				}
				d.AuditedBy, d.AuditedAt = nil, nil
				d.AdjustmentReason = adj.Reason
				reopened = true
			}

			// The previous day may have been recounted since this row was opened.
			if d.OpeningCash, err = r.openingCash(ctx, tx, branch, date); err != nil {
				return err
			}
			d.SystemCash, err = r.systemCash(ctx, tx, branch, date, d.OpeningCash)
			if err != nil {
				return err
			}
			d.ClosingCash = &closingCash
			d.UpdatedAt = r.now()
			if err := tx.UpsertCashDrawer(ctx, d); err != nil {
				return fmt.Errorf("upsert cash drawer: %w", err)
			}
			out = d
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	r.log.Info().
		Str("branch_id", string(branch)).
		Str("date", date.String()).
		Str("system", out.SystemCash.String()).
		Str("closing", closingCash.String()).
		Str("difference", out.Difference().String()).
		Bool("reopened", reopened).
		Str("actor", string(actor.PartyID)).
		Msg("cash drawer reconciled")
	return out.Clone(), nil
}

// systemCash computes the drawer's expected cash from the day's cash
// transactions and expenses.
func (r *CashDrawerReconciler) systemCash(ctx context.Context, tx Store, branch BranchID, date Date, opening Money) (Money, error) {
	methods := map[PaymentMethodID]bool{}
	isCash := func(id PaymentMethodID) (bool, error) {
		if cash, ok := methods[id]; ok {
			return cash, nil
		}
		pm, err := tx.PaymentMethod(ctx, id)
		if err != nil {
			return false, unknown("payment method", string(id), err)
		}
		methods[id] = pm.Type == PaymentCashDrawer
		return methods[id], nil
	}

	total := opening

	txns, err := tx.TransactionsBilledOn(ctx, branch, date)
	if err != nil {
		return Money{}, fmt.Errorf("load transactions: %w", err)
	}
	for i := range txns {
		t := &txns[i]
		if t.PaymentMethodID == nil || !r.cashBearing(t) {
			continue
		}
		cash, err := isCash(*t.PaymentMethodID)
		if err != nil {
			return Money{}, err
		}
		if !cash {
			continue
		}
		sign, err := r.cashSign(ctx, tx, t)
		if err != nil {
			return Money{}, err
		}
		if sign > 0 {
			total = total.Add(t.Total())
		} else {
			total = total.Sub(t.Total())
		}
	}

	expenses, err := tx.ExpensesOn(ctx, branch, date)
	if err != nil {
		return Money{}, fmt.Errorf("load expenses: %w", err)
	}
	for _, e := range expenses {
		cash, err := isCash(e.PaymentMethodID)
		if err != nil {
			return Money{}, err
		}
		if cash {
			total = total.Sub(e.Amount)
		}
	}
	return total, nil
}

func (r *CashDrawerReconciler) cashBearing(t *Transaction) bool {
	if t.Type == TypeReturn {
		return t.Status == StatusAllOK
	}
	switch t.Status {
	case StatusBilled, StatusShipped, StatusReachedLorry, StatusDeliveryTaken, StatusAllOK:
		return true
	}
	return false
}

// cashSign is +1 when the transaction brings cash into the drawer.
func (r *CashDrawerReconciler) cashSign(ctx context.Context, tx Store, t *Transaction) (int, error) {
	switch t.Type {
	case TypeSales:
		return +1, nil
	case TypePurchase:
		return -1, nil
	}
	if t.ReturnOf == nil {
		return 0, invalid("return_of", "return transaction %s has no original", t.ID)
	}
	orig, err := tx.GetTransaction(ctx, *t.ReturnOf)
	if err != nil {
		return 0, unknown("transaction", string(*t.ReturnOf), err)
	}
	if orig.Type == TypeSales {
		return -1, nil
	}
	return +1, nil
}

// =============================================================================
// AUDIT / REOPEN
// =============================================================================

// Audit closes a reconciled day. Auditing an audited day returns it unchanged.
func (r *CashDrawerReconciler) Audit(ctx context.Context, branch BranchID, date Date, actor Actor) (*CashDrawerDaily, error) {
	if err := r.checkDay(ctx, branch, date, actor); err != nil {
		return nil, err
	}
	var out *CashDrawerDaily
	err := r.withLocks(ctx, []string{drawerLockKey(branch, date)}, func() error {
		return r.store.WithTx(ctx, func(tx Store) error {
			d, err := tx.CashDrawer(ctx, branch, date)
			if isNotFound(err) {
				return fmt.Errorf("%w: %s@%s has no cash drawer", ErrNotReconciled, branch, date)
			}
			if err != nil {
				return fmt.Errorf("load cash drawer: %w", err)
			}
			if !d.IsCounted() {
				return fmt.Errorf("%w: %s@%s has no closing count", ErrNotReconciled, branch, date)
			}
			if d.IsAudited() {
				out = d
				return nil
			}
			now := r.now()
			by := actor.PartyID
			d.AuditedBy, d.AuditedAt, d.UpdatedAt = &by, &now, now
			if err := tx.UpsertCashDrawer(ctx, d); err != nil {
				return fmt.Errorf("audit cash drawer: %w", err)
			}
			out = d
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	r.log.Info().
		Str("branch_id", string(branch)).
		Str("date", date.String()).
		Str("actor", string(actor.PartyID)).
		Msg("cash drawer audited")
	return out.Clone(), nil
}

type auditSnapshot struct {
	AuditedBy *PartyID   `json:"audited_by"`
	AuditedAt *time.Time `json:"audited_at"`
}

// Reopen records a cash_reopen adjustment on an audited day, which lets the
// next Reconcile through.
func (r *CashDrawerReconciler) Reopen(ctx context.Context, branch BranchID, date Date, reason string, actor Actor) (*Adjustment, error) {
	if err := r.checkDay(ctx, branch, date, actor); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, invalid("reason", "reason is required")
	}
	var adj *Adjustment
	err := r.withLocks(ctx, []string{drawerLockKey(branch, date)}, func() error {
		return r.store.WithTx(ctx, func(tx Store) error {
			d, err := tx.CashDrawer(ctx, branch, date)
			if err != nil {
				return unknown("cash drawer", CashDrawerRef{BranchID: branch, BusinessDate: date}.ID(), err)
			}
			if !d.IsAudited() {
				return invalid("cash_drawer", "%s@%s is not audited", branch, date)
			}
			adj, err = r.audit.build(AdjustmentInput{
				Ref:      CashDrawerRef{BranchID: branch, BusinessDate: date},
				Type:     AdjustCashReopen,
				OldValue: auditSnapshot{AuditedBy: d.AuditedBy, AuditedAt: d.AuditedAt},
				NewValue: auditSnapshot{},
				Reason:   reason,
			}, actor)
			if err != nil {
				return err
			}
			return tx.InsertAdjustment(ctx, adj)
		})
	})
	if err != nil {
		return nil, err
	}
	r.audit.logged(adj)
	return adj.Clone(), nil
}

// =============================================================================
// EXPENSES
// =============================================================================

func (r *CashDrawerReconciler) RecordExpense(ctx context.Context, in NewExpense, actor Actor) (*Expense, error) {
	if err := r.checkActor(actor); err != nil {
		return nil, err
	}
	if err := check(r.validate, in); err != nil {
		return nil, err
	}
	if _, err := activeBranch(ctx, r.store, in.BranchID); err != nil {
		return nil, err
	}
	if in.PartyID != nil {
		if _, err := activeParty(ctx, r.store, *in.PartyID, 0); err != nil {
			return nil, err
		}
	}
	if in.EmployeeID != nil {
		if _, err := activeParty(ctx, r.store, *in.EmployeeID, PartyEmployee); err != nil {
			return nil, err
		}
	}
	if _, err := activePaymentMethod(ctx, r.store, in.BranchID, in.PaymentMethodID); err != nil {
		return nil, err
	}

	date := in.BusinessDate
	if date.IsZero() {
		date = r.today()
	}
	e := &Expense{
		ID:              ExpenseID(NewID()),
		BranchID:        in.BranchID,
		PartyID:         clonePtr(in.PartyID),
		EmployeeID:      clonePtr(in.EmployeeID),
		Ledger:          in.Ledger,
		Amount:          in.Amount,
		PaymentMethodID: in.PaymentMethodID,
		Notes:           in.Notes,
		BusinessDate:    date,
		CreatedBy:       actor.PartyID,
		CreatedAt:       r.now(),
	}
	if err := r.store.InsertExpense(ctx, e); err != nil {
		return nil, fmt.Errorf("insert expense: %w", err)
	}
	r.log.Info().
		Str("expense_id", string(e.ID)).
		Str("branch_id", string(e.BranchID)).
		Str("amount", e.Amount.String()).
		Str("date", date.String()).
		Msg("expense recorded")
	return e, nil
}

func (r *CashDrawerReconciler) checkDay(ctx context.Context, branch BranchID, date Date, actor Actor) error {
	if err := r.checkActor(actor); err != nil {
		return err
	}
	if date.IsZero() {
		return invalid("business_date", "business date is required")
	}
	_, err := activeBranch(ctx, r.store, branch)
	return err
}
