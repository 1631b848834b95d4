// Package core provides money parsing and handling utilities.
//
// Amounts are carried as integer cents and converted through
// shopspring/decimal at the edges (parsing, JSON, ratios), so no
// arithmetic on money ever goes through float64.
package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in cents.
type Money struct {
	Cents int64
}

// Rate is a per-unit price such as cost per mile, kept at full decimal precision.
type Rate struct {
	decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// MaxAmount bounds any single parsed amount ($1B) so sums stay within int64.
var MaxAmount = Money{Cents: 100_000_000_000}

var maxAmountDecimal = MaxAmount.Decimal()

// Cents builds Money from a cent count.
func Cents(c int64) Money { return Money{Cents: c} }

// MoneyFromDecimal rounds half away from zero to whole cents.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{Cents: d.Round(2).Mul(hundred).IntPart()}
}

// ParseMoney converts a decimal string to Money.
//
// It tolerates a leading "$", thousands separators and surrounding spaces,
// and rounds to cents. Signs are preserved; Entry.Normalize turns amounts
// into magnitudes.
//
// Examples:
//
//	ParseMoney("12.34")    -> 1234
//	ParseMoney("$1,200.5") -> 120050
//	ParseMoney("12.345")   -> 1235
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return boundedMoney(d)
}

// boundedMoney rejects magnitudes above MaxAmount before converting.
func boundedMoney(d decimal.Decimal) (Money, error) {
	if d.Abs().GreaterThan(maxAmountDecimal) {
		return Money{}, fmt.Errorf("%w: %s exceeds %s", ErrInvalidAmount, d.String(), MaxAmount.String())
	}
	return MoneyFromDecimal(d), nil
}

// ParseRate parses a non-negative per-unit price.
func ParseRate(s string) (Rate, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	if s == "" {
		return Rate{}, ErrInvalidRate
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return Rate{}, fmt.Errorf("%w: %q", ErrInvalidRate, s)
	}
	return Rate{Decimal: d}, nil
}

func (m Money) Decimal() decimal.Decimal { return decimal.New(m.Cents, -2) }

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }

func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }

func (m Money) Abs() Money {
	if m.Cents < 0 {
		return Money{Cents: -m.Cents}
	}
	return m
}

func (m Money) IsZero() bool { return m.Cents == 0 }

// String renders the amount with two decimals and no currency symbol.
func (m Money) String() string { return m.Decimal().StringFixed(2) }

// Dollars renders the magnitude as "$12.34".
func (m Money) Dollars() string { return "$" + m.Abs().String() }

// MarshalJSON emits a JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts numbers and numeric strings.
func (m *Money) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, string(b))
	}
	v, err := boundedMoney(d)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// MarshalJSON emits the rate as a JSON number.
func (r Rate) MarshalJSON() ([]byte, error) {
	return []byte(r.Decimal.String()), nil
}

// Times multiplies a quantity by the rate and rounds to cents.
func (r Rate) Times(quantity float64) Money {
	return MoneyFromDecimal(r.Decimal.Mul(decimal.NewFromFloat(quantity)))
}
