package ledger_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/ledger"
)

func TestMoney_ParseEnforcesScale(t *testing.T) {
	m, err := ledger.ParseMoney("12.5")
	require.NoError(t, err)
	assert.Equal(t, "12.50", m.String())

	_, err = ledger.ParseMoney("1.005")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, err = ledger.ParseMoney("ten")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	q, err := ledger.ParseQuantity("0.125")
	require.NoError(t, err)
	assert.Equal(t, "0.125", q.String())

	_, err = ledger.ParseQuantity("0.0001")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestMoney_ArithmeticIsExact(t *testing.T) {
	// 0.1 + 0.2 is the classic float trap.
	sum := money("0.10").Add(money("0.20"))
	assert.True(t, sum.Equal(money("0.30")))

	var zero ledger.Money
	assert.True(t, zero.IsZero())
	assert.True(t, zero.Sub(money("1.00")).IsNegative())
}

func TestLineTotal_RoundsHalfAwayFromZero(t *testing.T) {
	cases := []struct {
		qty, price, want string
	}{
		{"3", "19.99", "59.97"},
		{"1.5", "0.33", "0.50"},   // 0.495
		{"0.125", "0.20", "0.03"}, // 0.025
		{"2.5", "4.00", "10.00"},
	}
	for _, tc := range cases {
		got := ledger.LineTotal(qty(tc.qty), money(tc.price))
		assert.Equal(t, tc.want, got.String(), "%s x %s", tc.qty, tc.price)
	}
}

func TestPercent_Of(t *testing.T) {
	p := ledger.MustPercent("18")
	assert.Equal(t, "18.00", p.String())
	assert.Equal(t, "1.80", p.Of(money("10.00")).String())
	assert.Equal(t, "0.01", ledger.MustPercent("12.5").Of(money("0.10")).String()) // 0.0125

	_, err := ledger.ParsePercent("1.125")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestMoney_JSONUsesStrings(t *testing.T) {
	b, err := json.Marshal(struct {
		Amount ledger.Money    `json:"amount"`
		Qty    ledger.Quantity `json:"qty"`
	}{money("3.10"), qty("2")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"3.10","qty":"2.000"}`, string(b))

	var m ledger.Money
	require.NoError(t, json.Unmarshal([]byte(`4.25`), &m))
	assert.Equal(t, "4.25", m.String())
	assert.Error(t, json.Unmarshal([]byte(`"4.255"`), &m))
}

func TestLineItem_Net(t *testing.T) {
	tax := ledger.MustPercent("10")
	l := ledger.LineItem{Quantity: qty("2"), UnitPrice: money("50.00"), TaxPercent: &tax, Discount: money("5.00")}
	assert.Equal(t, "100.00", l.Gross().String())
	assert.Equal(t, "10.00", l.Tax().String())
	assert.Equal(t, "105.00", l.Net().String())
}
