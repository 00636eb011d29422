package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyQuotePackageBoundaries(t *testing.T) {
	cases := []struct {
		quantity int
		want     QuotePackage
	}{
		{1, QuotePackageStarter},
		{49, QuotePackageStarter},
		{50, QuotePackagePro},
		{200, QuotePackagePro},
		{201, QuotePackageEvento},
		{5000, QuotePackageEvento},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyQuotePackage(tc.quantity), "quantity %d", tc.quantity)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusPendingPayment, OrderStatusPaid, true},
		{OrderStatusPendingPayment, OrderStatusCancelled, true},
		{OrderStatusPendingPayment, OrderStatusShipped, false},
		{OrderStatusPaid, OrderStatusPaid, true},
		{OrderStatusPaid, OrderStatusInProduction, true},
		{OrderStatusPaid, OrderStatusCancelled, true},
		{OrderStatusInProduction, OrderStatusShipped, true},
		{OrderStatusInProduction, OrderStatusCancelled, false},
		{OrderStatusShipped, OrderStatusDelivered, true},
		{OrderStatusDelivered, OrderStatusPendingPayment, false},
		{OrderStatusCancelled, OrderStatusPaid, false},
		{OrderStatusPaid, OrderStatus("REFUNDED"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
	assert.True(t, IsTerminal(OrderStatusDelivered))
	assert.True(t, IsTerminal(OrderStatusCancelled))
	assert.False(t, IsTerminal(OrderStatusPaid))
}

func TestParseOrderStatus(t *testing.T) {
	status, ok := ParseOrderStatus(" in_production ")
	require.True(t, ok)
	assert.Equal(t, OrderStatusInProduction, status)

	_, ok = ParseOrderStatus("PAGADA")
	assert.False(t, ok)
}

func TestOrderCurrentStatusUsesNewestEntry(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	order := Order{History: []OrderStatusEntry{
		{ID: 1, Status: OrderStatusPendingPayment, RecordedAt: base},
		{ID: 3, Status: OrderStatusInProduction, RecordedAt: base.Add(time.Hour)},
		{ID: 2, Status: OrderStatusPaid, RecordedAt: base.Add(time.Hour)},
	}}
	assert.Equal(t, OrderStatusInProduction, order.CurrentStatus())
	assert.Equal(t, OrderStatus(""), Order{}.CurrentStatus())
}

func TestComputeOrderTotal(t *testing.T) {
	items := []OrderLineItem{
		{SKU: "A", Quantity: 2, UnitPrice: 4500000},
		{SKU: "B", Quantity: 1, UnitPrice: 3800000},
	}
	total, err := ComputeOrderTotal(items)
	require.NoError(t, err)
	assert.Equal(t, Money(12800000), total)
	assert.Equal(t, 128000.0, total.Decimal())
}

func TestComputeOrderTotalRejectsOverflow(t *testing.T) {
	huge, err := MoneyFromDecimal(4e16)
	require.NoError(t, err)

	_, err = ComputeOrderTotal([]OrderLineItem{{SKU: "A", Quantity: 5, UnitPrice: huge}})
	assert.ErrorIs(t, err, ErrMoneyOverflow)

	_, err = ComputeOrderTotal([]OrderLineItem{
		{SKU: "A", Quantity: 1, UnitPrice: maxMoney},
		{SKU: "B", Quantity: 1, UnitPrice: maxMoney},
		{SKU: "C", Quantity: 1, UnitPrice: maxMoney},
	})
	assert.ErrorIs(t, err, ErrMoneyOverflow)
}

func TestMoneyFromDecimalRoundsHalfAwayFromZero(t *testing.T) {
	cases := []struct {
		in   float64
		want int64
	}{
		{90000.5, 9000050},
		{1.005, 101},
		{1.015, 102},
		{2.675, 268},
		{0.125, 13},
		{0.375, 38},
		{-0.125, -13},
		{45000, 4500000},
	}
	for _, tc := range cases {
		got, err := MoneyFromDecimal(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got.MinorUnits(), "amount %v", tc.in)
	}
}

func TestMoneyJSON(t *testing.T) {
	var payload struct {
		Price Money `json:"price"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"price": 90000.5}`), &payload))
	assert.Equal(t, int64(9000050), payload.Price.MinorUnits())

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"price": 90000.5}`, string(out))
	assert.Equal(t, "90000.50", payload.Price.String())
}

func TestMoneyJSONRoundsTheLiteral(t *testing.T) {
	cases := map[string]int64{
		"1.005":  101,
		"2.675":  268,
		"1.015":  102,
		"0.125":  13,
		"-1.005": -101,
		"1.2e3":  120000,
	}
	for literal, want := range cases {
		var price Money
		require.NoError(t, json.Unmarshal([]byte(literal), &price), literal)
		assert.Equal(t, want, price.MinorUnits(), literal)
	}

	var price Money
	assert.Error(t, json.Unmarshal([]byte(`"12.50"`), &price))
	assert.Error(t, json.Unmarshal([]byte(`1e30`), &price))
	assert.Equal(t, "-0.05", Money(-5).String())
}

func TestSKUValidation(t *testing.T) {
	assert.Equal(t, "TB-COLECCION-FLORESDELSUR-AZUL", ExpectedSKU("Colección", "Flores del Sur", "azul"))
	assert.True(t, ValidSKU("TB-VERANO-PALMA-NEGRO", "Verano", "Palma", "Negro"))
	assert.False(t, ValidSKU("TB-VERANO-PALMA", "Verano", "Palma", "Negro"))
	assert.False(t, ValidSKU("XX-VERANO-PALMA-NEGRO", "Verano", "Palma", "Negro"))
	assert.False(t, ValidSKU("tb-verano-palma-negro", "Verano", "Palma", "Negro"))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "coleccion-de-verano", Slugify("Colección de Verano!"))
	assert.Equal(t, "tote_bag-2026", Slugify(" Tote_Bag 2026 "))
}
