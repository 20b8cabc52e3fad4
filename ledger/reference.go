package ledger

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// REFERENCE - what an Adjustment is about
// =============================================================================

// RefTable names the entity kind an adjustment refers to. It is what the
// storage layer persists next to the reference id.
type RefTable string

const (
	TableTransactions     RefTable = "transactions"
	TableTransactionItems RefTable = "transaction_items"
	TableStockBalances    RefTable = "stock_balances"
	TableCashDrawerDaily  RefTable = "cash_drawer_daily"
	TableExpenses         RefTable = "expenses"
)

// Reference is a closed set of correctable entities. Adding a new kind means
// adding a type here, a case in ParseReference and a case in
// AuditLog.resolve; the unexported method keeps the set closed.
type Reference interface {
	Table() RefTable
	ID() string
	isReference()
}

type TransactionRef struct {
	TransactionID TransactionID
}

func (r TransactionRef) Table() RefTable { return TableTransactions }
func (r TransactionRef) ID() string      { return string(r.TransactionID) }
func (TransactionRef) isReference()      {}

// TransactionItemRef points at one line of a transaction. Its id is "<txid>#<line>".
type TransactionItemRef struct {
	TransactionID TransactionID
	LineNo        int
}

func (r TransactionItemRef) Table() RefTable { return TableTransactionItems }
func (r TransactionItemRef) ID() string {
	return fmt.Sprintf("%s#%d", r.TransactionID, r.LineNo)
}
func (TransactionItemRef) isReference() {}

type StockBalanceRef struct {
	Key StockKey
}

func (r StockBalanceRef) Table() RefTable { return TableStockBalances }
func (r StockBalanceRef) ID() string      { return r.Key.String() }
func (StockBalanceRef) isReference()      {}

// CashDrawerRef points at one branch-day. Its id is "<branch>@<YYYY-MM-DD>".
type CashDrawerRef struct {
	BranchID     BranchID
	BusinessDate Date
}

func (r CashDrawerRef) Table() RefTable { return TableCashDrawerDaily }
func (r CashDrawerRef) ID() string      { return fmt.Sprintf("%s@%s", r.BranchID, r.BusinessDate) }
func (CashDrawerRef) isReference()      {}

type ExpenseRef struct {
	ExpenseID ExpenseID
}

func (r ExpenseRef) Table() RefTable { return TableExpenses }
func (r ExpenseRef) ID() string      { return string(r.ExpenseID) }
func (ExpenseRef) isReference()      {}

// ParseReference rebuilds a Reference from its persisted (table, id) form.
func ParseReference(table RefTable, id string) (Reference, error) {
	if id == "" {
		return nil, invalid("reference_id", "reference id is required")
	}
	switch table {
	case TableTransactions:
		return TransactionRef{TransactionID: TransactionID(id)}, nil

	case TableTransactionItems:
		i := strings.LastIndexByte(id, '#')
		if i <= 0 {
			return nil, invalid("reference_id", "transaction item reference %q, want <transaction>#<line>", id)
		}
		line, err := strconv.Atoi(id[i+1:])
		if err != nil || line <= 0 {
			return nil, invalid("reference_id", "transaction item reference %q has a bad line number", id)
		}
		return TransactionItemRef{TransactionID: TransactionID(id[:i]), LineNo: line}, nil

	case TableStockBalances:
		parts := strings.Split(id, "/")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, invalid("reference_id", "stock balance reference %q, want <branch>/<warehouse>/<item>", id)
		}
		return StockBalanceRef{Key: StockKey{
			BranchID:    BranchID(parts[0]),
			WarehouseID: WarehouseID(parts[1]),
			ItemID:      ItemID(parts[2]),
		}}, nil

	case TableCashDrawerDaily:
		i := strings.LastIndexByte(id, '@')
		if i <= 0 {
			return nil, invalid("reference_id", "cash drawer reference %q, want <branch>@<date>", id)
		}
		date, err := ParseDate(id[i+1:])
		if err != nil {
			return nil, err
		}
		return CashDrawerRef{BranchID: BranchID(id[:i]), BusinessDate: date}, nil

	case TableExpenses:
		return ExpenseRef{ExpenseID: ExpenseID(id)}, nil
	}
	return nil, invalid("reference_table", "unknown reference table %q", table)
}
