package sqlstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// ARGUMENT AND SCAN HELPERS
// =============================================================================

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func optString[T ~string](p *T) any {
	if p == nil {
		return nil
	}
	return string(*p)
}

func optID[T ~string](ns sql.NullString) *T {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	v := T(ns.String)
	return &v
}

func dateArg(d ledger.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

func optTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// dateCol scans a business date stored as text (or, from some drivers, as a
// timestamp) into a ledger.Date. NULL is the zero Date.
type dateCol struct {
	d *ledger.Date
}

func (c dateCol) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*c.d = ledger.Date{}
		return nil
	case string:
		return c.parse(v)
	case []byte:
		return c.parse(string(v))
	case time.Time:
		*c.d = ledger.NewDate(v.Year(), v.Month(), v.Day())
		return nil
	}
	return fmt.Errorf("cannot scan %T into a date", src)
}

func (c dateCol) parse(s string) error {
	if s == "" {
		*c.d = ledger.Date{}
		return nil
	}
	if len(s) > len(ledger.DateLayout) {
		s = s[:len(ledger.DateLayout)]
	}
	d, err := ledger.ParseDate(s)
	if err != nil {
		return err
	}
	*c.d = d
	return nil
}

func money(d decimal.Decimal) (ledger.Money, error) {
	return ledger.MoneyFromDecimal(d)
}

func optMoney(nd decimal.NullDecimal) (*ledger.Money, error) {
	if !nd.Valid {
		return nil, nil
	}
	m, err := ledger.MoneyFromDecimal(nd.Decimal)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func optMoneyArg(m *ledger.Money) any {
	if m == nil {
		return nil
	}
	return m.String()
}

func optPercent(nd decimal.NullDecimal) (*ledger.Percent, error) {
	if !nd.Valid {
		return nil, nil
	}
	p, err := ledger.PercentFromDecimal(nd.Decimal)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func optPercentArg(p *ledger.Percent) any {
	if p == nil {
		return nil
	}
	return p.String()
}
