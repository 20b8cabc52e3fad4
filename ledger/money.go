/*
money.go - Fixed-point Money, Quantity and Percent values

PURPOSE:
  Every amount the ledger touches is exact. Currency is carried with 2
  decimal places, stock quantities with 3, tax percentages with 2. No
  float64 ever enters a balance.

PRECISION RULES:
  - Parsing rejects values with more decimal places than the type allows
    ("1.005" is not a Money, "0.0001" is not a Quantity).
  - Add/Sub/Neg are closed over the type, so the scale never grows.
  - Multiplication (quantity × price, amount × percent) is the only place
    rounding happens and it always rounds half away from zero to 2 places.

ZERO VALUE:
  The zero value of Money, Quantity and Percent is a valid 0.

SEE ALSO:
  - transaction.go: LineItem totals use LineTotal and Percent.Of
  - cashdrawer.go:  drawer arithmetic is pure Money
*/
package ledger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	MoneyScale    int32 = 2
	QuantityScale int32 = 3
	PercentScale  int32 = 2
)

var hundred = decimal.NewFromInt(100)

func parseFixed(kind, s string, scale int32) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, &ValidationError{Field: kind, Message: fmt.Sprintf("invalid %s %q", kind, s)}
	}
	return fixed(kind, d, scale)
}

func fixed(kind string, d decimal.Decimal, scale int32) (decimal.Decimal, error) {
	if !d.Equal(d.Truncate(scale)) {
		return decimal.Zero, &ValidationError{
			Field:   kind,
			Message: fmt.Sprintf("%s %s has more than %d decimal places", kind, d.String(), scale),
		}
	}
	return d, nil
}

func unmarshalFixed(kind string, data []byte, scale int32) (decimal.Decimal, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Accept bare JSON numbers as well as strings.
		s = string(data)
	}
	return parseFixed(kind, s, scale)
}

// =============================================================================
// MONEY - currency, 2 decimal places
// =============================================================================

type Money struct {
	d decimal.Decimal
}

func ParseMoney(s string) (Money, error) {
	d, err := parseFixed("money", s, MoneyScale)
	return Money{d: d}, err
}

// MustMoney parses s and panics on error. Intended for constants and tests.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	d, err := fixed("money", d, MoneyScale)
	return Money{d: d}, err
}

func MoneyFromInt(units int64) Money     { return Money{d: decimal.NewFromInt(units)} }
func MoneyFromCents(c int64) Money       { return Money{d: decimal.New(c, -MoneyScale)} }
func (m Money) Add(o Money) Money        { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money        { return Money{d: m.d.Sub(o.d)} }
func (m Money) Neg() Money               { return Money{d: m.d.Neg()} }
func (m Money) Cmp(o Money) int          { return m.d.Cmp(o.d) }
func (m Money) Equal(o Money) bool       { return m.d.Equal(o.d) }
func (m Money) IsZero() bool             { return m.d.IsZero() }
func (m Money) IsNegative() bool         { return m.d.IsNegative() }
func (m Money) IsPositive() bool         { return m.d.IsPositive() }
func (m Money) Decimal() decimal.Decimal { return m.d }
func (m Money) String() string           { return m.d.StringFixed(MoneyScale) }

func (m Money) MarshalJSON() ([]byte, error) { return json.Marshal(m.String()) }

func (m *Money) UnmarshalJSON(data []byte) error {
	d, err := unmarshalFixed("money", data, MoneyScale)
	if err != nil {
		return err
	}
	m.d = d
	return nil
}

// =============================================================================
// QUANTITY - stock quantity, 3 decimal places, signed
// =============================================================================

type Quantity struct {
	d decimal.Decimal
}

func ParseQuantity(s string) (Quantity, error) {
	d, err := parseFixed("quantity", s, QuantityScale)
	return Quantity{d: d}, err
}

func MustQuantity(s string) Quantity {
	q, err := ParseQuantity(s)
	if err != nil {
		panic(err)
	}
	return q
}

func QuantityFromDecimal(d decimal.Decimal) (Quantity, error) {
	d, err := fixed("quantity", d, QuantityScale)
	return Quantity{d: d}, err
}

func QuantityFromInt(n int64) Quantity      { return Quantity{d: decimal.NewFromInt(n)} }
func (q Quantity) Add(o Quantity) Quantity  { return Quantity{d: q.d.Add(o.d)} }
func (q Quantity) Sub(o Quantity) Quantity  { return Quantity{d: q.d.Sub(o.d)} }
func (q Quantity) Neg() Quantity            { return Quantity{d: q.d.Neg()} }
func (q Quantity) Cmp(o Quantity) int       { return q.d.Cmp(o.d) }
func (q Quantity) Equal(o Quantity) bool    { return q.d.Equal(o.d) }
func (q Quantity) IsZero() bool             { return q.d.IsZero() }
func (q Quantity) IsNegative() bool         { return q.d.IsNegative() }
func (q Quantity) IsPositive() bool         { return q.d.IsPositive() }
func (q Quantity) Sign() int                { return q.d.Sign() }
func (q Quantity) Decimal() decimal.Decimal { return q.d }
func (q Quantity) String() string           { return q.d.StringFixed(QuantityScale) }

// Times scales the quantity by a small integer multiplier (-1, 0, +1 in practice).
func (q Quantity) Times(n int) Quantity { return Quantity{d: q.d.Mul(decimal.NewFromInt(int64(n)))} }

func (q Quantity) MarshalJSON() ([]byte, error) { return json.Marshal(q.String()) }

func (q *Quantity) UnmarshalJSON(data []byte) error {
	d, err := unmarshalFixed("quantity", data, QuantityScale)
	if err != nil {
		return err
	}
	q.d = d
	return nil
}

// =============================================================================
// PERCENT - tax rate, 2 decimal places
// =============================================================================

type Percent struct {
	d decimal.Decimal
}

func ParsePercent(s string) (Percent, error) {
	d, err := parseFixed("percent", s, PercentScale)
	return Percent{d: d}, err
}

func MustPercent(s string) Percent {
	p, err := ParsePercent(s)
	if err != nil {
		panic(err)
	}
	return p
}

func PercentFromDecimal(d decimal.Decimal) (Percent, error) {
	d, err := fixed("percent", d, PercentScale)
	return Percent{d: d}, err
}

func (p Percent) Decimal() decimal.Decimal { return p.d }
func (p Percent) String() string           { return p.d.StringFixed(PercentScale) }

// Of returns p% of m, rounded to cents.
func (p Percent) Of(m Money) Money {
	return Money{d: m.d.Mul(p.d).Div(hundred).Round(MoneyScale)}
}

func (p Percent) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

func (p *Percent) UnmarshalJSON(data []byte) error {
	d, err := unmarshalFixed("percent", data, PercentScale)
	if err != nil {
		return err
	}
	p.d = d
	return nil
}

// LineTotal returns quantity × unit price rounded to cents.
func LineTotal(q Quantity, price Money) Money {
	return Money{d: q.d.Mul(price.d).Round(MoneyScale)}
}
