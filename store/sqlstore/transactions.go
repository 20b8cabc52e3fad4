package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// TRANSACTIONS (ledger.TransactionStore)
// =============================================================================

// InsertTransaction writes the transaction, its lines, transport details and
// attachments. Outside WithTx it opens its own transaction.
func (s *Store) InsertTransaction(ctx context.Context, t *ledger.Transaction) error {
	return s.WithTx(ctx, func(tx ledger.Store) error {
		return tx.(*Store).insertTransaction(ctx, t)
	})
}

func (s *Store) insertTransaction(ctx context.Context, t *ledger.Transaction) error {
	err := s.insert(ctx, "transaction", `
		INSERT INTO transactions
		(id, branch_id, party_id, employee_id, type, status, return_of, bill_number, bill_date,
		 shipped_date, payment_method_id, notes, system_generated, audited, audited_by, audited_at,
		 created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(t.ID),
		string(t.BranchID),
		string(t.PartyID),
		optString(t.EmployeeID),
		string(t.Type),
		string(t.Status),
		optString(t.ReturnOf),
		nullString(t.BillNumber),
		dateArg(t.BillDate),
		dateArg(t.ShippedDate),
		optString(t.PaymentMethodID),
		nullString(t.Notes),
		t.SystemGenerated,
		t.Audited,
		optString(t.AuditedBy),
		optTime(t.AuditedAt),
		string(t.CreatedBy),
		t.CreatedAt.UTC(),
		t.UpdatedAt.UTC(),
	)
	if err != nil {
		return err
	}

	for _, l := range t.Items {
		_, err := s.exec(ctx, `
			INSERT INTO transaction_items
			(transaction_id, line_no, item_id, warehouse_id, quantity, unit_price, tax_percent, discount)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, string(t.ID), l.LineNo, string(l.ItemID), string(l.WarehouseID),
			l.Quantity.String(), l.UnitPrice.String(), optPercentArg(l.TaxPercent), l.Discount.String())
		if err != nil {
			return fmt.Errorf("failed to insert transaction item %d: %w", l.LineNo, err)
		}
	}

	if tr := t.Transport; tr != nil {
		_, err := s.exec(ctx, `
			INSERT INTO transport_details (transaction_id, transport_name, booked_date, lr_number, freight_amount)
			VALUES (?, ?, ?, ?, ?)
		`, string(t.ID), tr.TransportName, dateArg(tr.BookedDate), nullString(tr.LRNumber), optMoneyArg(tr.FreightAmount))
		if err != nil {
			return fmt.Errorf("failed to insert transport details: %w", err)
		}
	}

	for _, a := range t.Attachments {
		_, err := s.exec(ctx, `
			INSERT INTO transaction_attachments (id, transaction_id, file_path, file_type, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, a.ID, string(t.ID), a.FilePath, nullString(a.FileType), a.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert attachment: %w", err)
		}
	}
	return nil
}

const transactionColumns = `
	id, branch_id, party_id, employee_id, type, status, return_of, bill_number, bill_date,
	shipped_date, payment_method_id, notes, system_generated, audited, audited_by, audited_at,
	created_by, created_at, updated_at`

func (s *Store) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	txns, err := s.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, string(id))
	if err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return nil, ledger.ErrNotFound
	}
	return &txns[0], nil
}

func (s *Store) TransactionsBilledOn(ctx context.Context, branch ledger.BranchID, date ledger.Date) ([]ledger.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE branch_id = ? AND bill_date = ?
		ORDER BY created_at, id
	`, string(branch), date.String())
}

func (s *Store) ReturnsOf(ctx context.Context, id ledger.TransactionID) ([]ledger.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE return_of = ?
		ORDER BY created_at, id
	`, string(id))
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	var txns []ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Children are loaded after the parent cursor is closed; SQLite runs on
	// one connection.
	for i := range txns {
		if err := s.loadChildren(ctx, &txns[i]); err != nil {
			return nil, err
		}
	}
	return txns, nil
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		t                              ledger.Transaction
		employeeID, returnOf, auditBy  sql.NullString
		paymentMethodID, billNo, notes sql.NullString
		auditedAt                      sql.NullTime
	)
	err := rows.Scan(
		&t.ID, &t.BranchID, &t.PartyID, &employeeID, &t.Type, &t.Status, &returnOf, &billNo,
		dateCol{&t.BillDate}, dateCol{&t.ShippedDate}, &paymentMethodID, &notes,
		&t.SystemGenerated, &t.Audited, &auditBy, &auditedAt,
		&t.CreatedBy, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return t, fmt.Errorf("failed to scan transaction: %w", err)
	}
	t.EmployeeID = optID[ledger.PartyID](employeeID)
	t.ReturnOf = optID[ledger.TransactionID](returnOf)
	t.PaymentMethodID = optID[ledger.PaymentMethodID](paymentMethodID)
	t.AuditedBy = optID[ledger.PartyID](auditBy)
	t.AuditedAt = timePtr(auditedAt)
	t.BillNumber = billNo.String
	t.Notes = notes.String
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func (s *Store) loadChildren(ctx context.Context, t *ledger.Transaction) error {
	rows, err := s.query(ctx, `
		SELECT line_no, item_id, warehouse_id, quantity, unit_price, tax_percent, discount
		FROM transaction_items WHERE transaction_id = ? ORDER BY line_no
	`, string(t.ID))
	if err != nil {
		return fmt.Errorf("failed to query transaction items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			l                    ledger.LineItem
			qty, price, discount decimal.Decimal
			tax                  decimal.NullDecimal
		)
		if err := rows.Scan(&l.LineNo, &l.ItemID, &l.WarehouseID, &qty, &price, &tax, &discount); err != nil {
			return fmt.Errorf("failed to scan transaction item: %w", err)
		}
		if l.Quantity, err = ledger.QuantityFromDecimal(qty); err != nil {
			return err
		}
		if l.UnitPrice, err = money(price); err != nil {
			return err
		}
		if l.Discount, err = money(discount); err != nil {
			return err
		}
		if l.TaxPercent, err = optPercent(tax); err != nil {
			return err
		}
		t.Items = append(t.Items, l)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	var (
		tr      ledger.TransportDetail
		lr      sql.NullString
		freight decimal.NullDecimal
	)
	err = s.queryRow(ctx, `
		SELECT transport_name, booked_date, lr_number, freight_amount
		FROM transport_details WHERE transaction_id = ?
	`, string(t.ID)).Scan(&tr.TransportName, dateCol{&tr.BookedDate}, &lr, &freight)
	switch {
	case err == nil:
		tr.LRNumber = lr.String
		if tr.FreightAmount, err = optMoney(freight); err != nil {
			return err
		}
		t.Transport = &tr
	case err != sql.ErrNoRows:
		return fmt.Errorf("failed to load transport details: %w", err)
	}

	arows, err := s.query(ctx, `
		SELECT id, file_path, file_type, created_at
		FROM transaction_attachments WHERE transaction_id = ? ORDER BY created_at, id
	`, string(t.ID))
	if err != nil {
		return fmt.Errorf("failed to query attachments: %w", err)
	}
	defer arows.Close()
	for arows.Next() {
		var (
			a        ledger.Attachment
			fileType sql.NullString
		)
		if err := arows.Scan(&a.ID, &a.FilePath, &fileType, &a.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan attachment: %w", err)
		}
		a.FileType = fileType.String
		a.CreatedAt = a.CreatedAt.UTC()
		t.Attachments = append(t.Attachments, a)
	}
	return arows.Err()
}

// UpdateTransactionStatus is a compare-and-set on status. Bill and shipped
// dates are only filled when still NULL.
func (s *Store) UpdateTransactionStatus(ctx context.Context, u ledger.StatusUpdate) error {
	res, err := s.exec(ctx, `
		UPDATE transactions
		SET status = ?,
		    bill_date = COALESCE(bill_date, ?),
		    shipped_date = COALESCE(shipped_date, ?),
		    updated_at = ?
		WHERE id = ? AND status = ?
	`, string(u.To), dateArg(u.BillDate), dateArg(u.ShippedDate), u.At.UTC(), string(u.ID), string(u.From))
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = s.queryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE id = ?`, string(u.ID)).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return ledger.ErrNotFound
	}
	return ledger.ErrConcurrentModification
}

func (s *Store) UpdateLinePrice(ctx context.Context, id ledger.TransactionID, lineNo int, price ledger.Money, at time.Time) error {
	err := mustAffect(s.exec(ctx, `
		UPDATE transaction_items SET unit_price = ? WHERE transaction_id = ? AND line_no = ?
	`, price.String(), string(id), lineNo))
	if err != nil {
		return err
	}
	return mustAffect(s.exec(ctx, `UPDATE transactions SET updated_at = ? WHERE id = ?`, at.UTC(), string(id)))
}

func (s *Store) SetTransactionAudit(ctx context.Context, id ledger.TransactionID, by ledger.PartyID, at time.Time) error {
	return mustAffect(s.exec(ctx, `
		UPDATE transactions SET audited = ?, audited_by = ?, audited_at = ?, updated_at = ? WHERE id = ?
	`, true, string(by), at.UTC(), at.UTC(), string(id)))
}
