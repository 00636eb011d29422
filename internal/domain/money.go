package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Money holds an amount in minor units (cents).
type Money int64

// maxMoney bounds accepted amounts so that sums of a few prices stay
// representable.
const maxMoney = math.MaxInt64 / 2

var (
	errMoneyOutOfRange = errors.New("money: amount out of range")
	// ErrMoneyOverflow reports an arithmetic result outside the int64 cent range.
	ErrMoneyOverflow = errors.New("money: overflow")

	maxMoneyDecimal = decimal.NewFromInt(maxMoney)
	minMoneyDecimal = decimal.NewFromInt(-maxMoney)
)

// MoneyFromDecimal converts decimal currency units to minor units, rounding
// half away from zero on the shortest decimal form of amount, so 1.005 is 101.
func MoneyFromDecimal(amount float64) (Money, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, errMoneyOutOfRange
	}
	return moneyFromUnits(decimal.NewFromFloat(amount))
}

// ParseMoney reads a decimal literal such as "90000.5" or "1.2e3".
func ParseMoney(text string) (Money, error) {
	units, err := decimal.NewFromString(text)
	if err != nil {
		return 0, fmt.Errorf("money: %w", err)
	}
	return moneyFromUnits(units)
}

func moneyFromUnits(units decimal.Decimal) (Money, error) {
	cents := units.Shift(2).Round(0)
	if cents.GreaterThan(maxMoneyDecimal) || cents.LessThan(minMoneyDecimal) {
		return 0, errMoneyOutOfRange
	}
	return Money(cents.IntPart()), nil
}

// MinorUnits returns the integer cent amount.
func (m Money) MinorUnits() int64 {
	return int64(m)
}

// Decimal returns the amount in currency units.
func (m Money) Decimal() float64 {
	return float64(m) / 100
}

// Add returns m + other, failing when the sum leaves the int64 range.
func (m Money) Add(other Money) (Money, error) {
	sum := m + other
	if (other > 0 && sum < m) || (other < 0 && sum > m) {
		return 0, ErrMoneyOverflow
	}
	return sum, nil
}

// Mul returns m multiplied by a quantity, failing on overflow.
func (m Money) Mul(qty int64) (Money, error) {
	if m == 0 || qty == 0 {
		return 0, nil
	}
	product := int64(m) * qty
	if product/qty != int64(m) || (qty == -1 && m == math.MinInt64) {
		return 0, ErrMoneyOverflow
	}
	return Money(product), nil
}

// String renders the amount with two decimals.
func (m Money) String() string {
	return decimal.New(int64(m), -2).StringFixed(2)
}

// MarshalJSON renders the amount as a decimal number of currency units.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(m.Decimal(), 'f', -1, 64)), nil
}

// UnmarshalJSON accepts a JSON number of currency units. The literal is
// converted as written; it never passes through float64.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var literal json.Number
	if err := json.Unmarshal(data, &literal); err != nil || len(data) == 0 || data[0] == '"' {
		return fmt.Errorf("money: expected a JSON number, got %s", data)
	}
	converted, err := ParseMoney(literal.String())
	if err != nil {
		return err
	}
	*m = converted
	return nil
}
