package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// CASH (ledger.CashStore)
// =============================================================================

func (s *Store) InsertExpense(ctx context.Context, e *ledger.Expense) error {
	return s.insert(ctx, "expense", `
		INSERT INTO expenses
		(id, branch_id, party_id, employee_id, ledger, amount, payment_method_id, notes, business_date, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(e.ID), string(e.BranchID), optString(e.PartyID), optString(e.EmployeeID), e.Ledger,
		e.Amount.String(), string(e.PaymentMethodID), nullString(e.Notes), e.BusinessDate.String(),
		string(e.CreatedBy), e.CreatedAt.UTC())
}

const expenseColumns = `id, branch_id, party_id, employee_id, ledger, amount, payment_method_id, notes, business_date, created_by, created_at`

func (s *Store) GetExpense(ctx context.Context, id ledger.ExpenseID) (*ledger.Expense, error) {
	out, err := s.queryExpenses(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, string(id))
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ledger.ErrNotFound
	}
	return &out[0], nil
}

func (s *Store) ExpensesOn(ctx context.Context, branch ledger.BranchID, date ledger.Date) ([]ledger.Expense, error) {
	return s.queryExpenses(ctx, `
		SELECT `+expenseColumns+` FROM expenses
		WHERE branch_id = ? AND business_date = ?
		ORDER BY created_at, id
	`, string(branch), date.String())
}

func (s *Store) queryExpenses(ctx context.Context, query string, args ...any) ([]ledger.Expense, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer rows.Close()

	var out []ledger.Expense
	for rows.Next() {
		var (
			e                   ledger.Expense
			partyID, employeeID sql.NullString
			notes               sql.NullString
			amount              decimal.Decimal
		)
		err := rows.Scan(&e.ID, &e.BranchID, &partyID, &employeeID, &e.Ledger, &amount,
			&e.PaymentMethodID, &notes, dateCol{&e.BusinessDate}, &e.CreatedBy, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		e.PartyID = optID[ledger.PartyID](partyID)
		e.EmployeeID = optID[ledger.PartyID](employeeID)
		e.Notes = notes.String
		if e.Amount, err = money(amount); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

const drawerColumns = `id, branch_id, business_date, opening_cash, system_cash, closing_cash,
	adjustment_reason, audited_by, audited_at, created_at, updated_at`

func (s *Store) CashDrawer(ctx context.Context, branch ledger.BranchID, date ledger.Date) (*ledger.CashDrawerDaily, error) {
	return s.queryDrawer(ctx, `
		SELECT `+drawerColumns+` FROM cash_drawer_daily WHERE branch_id = ? AND business_date = ?
	`, string(branch), date.String())
}

func (s *Store) PreviousCashDrawer(ctx context.Context, branch ledger.BranchID, date ledger.Date) (*ledger.CashDrawerDaily, error) {
	return s.queryDrawer(ctx, `
		SELECT `+drawerColumns+` FROM cash_drawer_daily
		WHERE branch_id = ? AND business_date < ?
		ORDER BY business_date DESC
		LIMIT 1
	`, string(branch), date.String())
}

func (s *Store) queryDrawer(ctx context.Context, query string, args ...any) (*ledger.CashDrawerDaily, error) {
	var (
		d               ledger.CashDrawerDaily
		opening, system decimal.Decimal
		closing         decimal.NullDecimal
		reason, by      sql.NullString
		auditedAt       sql.NullTime
	)
	err := s.queryRow(ctx, query, args...).Scan(
		&d.ID, &d.BranchID, dateCol{&d.BusinessDate}, &opening, &system, &closing,
		&reason, &by, &auditedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if d.OpeningCash, err = money(opening); err != nil {
		return nil, err
	}
	if d.SystemCash, err = money(system); err != nil {
		return nil, err
	}
	if d.ClosingCash, err = optMoney(closing); err != nil {
		return nil, err
	}
	d.AdjustmentReason = reason.String
	d.AuditedBy = optID[ledger.PartyID](by)
	d.AuditedAt = timePtr(auditedAt)
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}

// UpsertCashDrawer writes the day keyed by (branch, business date). The
// difference column is always written from the same closing and system
// values it is derived from.
func (s *Store) UpsertCashDrawer(ctx context.Context, d *ledger.CashDrawerDaily) error {
	var difference any
	if d.ClosingCash != nil {
		difference = d.Difference().String()
	}
	_, err := s.exec(ctx, `
		INSERT INTO cash_drawer_daily
		(id, branch_id, business_date, opening_cash, system_cash, closing_cash, difference,
		 adjustment_reason, audited_by, audited_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (branch_id, business_date) DO UPDATE SET
			opening_cash = excluded.opening_cash,
			system_cash = excluded.system_cash,
			closing_cash = excluded.closing_cash,
			difference = excluded.difference,
			adjustment_reason = excluded.adjustment_reason,
			audited_by = excluded.audited_by,
			audited_at = excluded.audited_at,
			updated_at = excluded.updated_at
	`, d.ID, string(d.BranchID), d.BusinessDate.String(), d.OpeningCash.String(), d.SystemCash.String(),
		optMoneyArg(d.ClosingCash), difference, nullString(d.AdjustmentReason), optString(d.AuditedBy),
		optTime(d.AuditedAt), d.CreatedAt.UTC(), d.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert cash drawer: %w", err)
	}
	return nil
}
