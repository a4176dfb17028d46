// Package core holds the ledger's domain types: money, accounts, categories,
// transactions and the read models built on top of them.
//
// This file contains money parsing and formatting. Amounts are fixed-point
// with two decimal places and carry no currency.
package core

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a signed amount in hundredths of the (unspecified) currency unit.
type Money struct {
	Cents int64
}

// Cents builds a Money from a count of hundredths.
func Cents(c int64) Money {
	return Money{Cents: c}
}

// ParseMoney converts a decimal string to Money with half-up rounding on the
// third decimal place.
//
// Both dot (12.34) and comma (12,34) separators are accepted and a leading
// sign is allowed. Range checks (positive amounts, non-negative opening
// balances) belong to the callers.
//
// Examples:
//
//	ParseMoney("12.34")  -> 1234
//	ParseMoney("12,345") -> 1235
//	ParseMoney("-0.5")   -> -50
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidMoneyFormat
	}
	s = strings.ReplaceAll(s, ",", ".")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidMoneyFormat
	}
	shifted := d.Round(2).Shift(2)
	if !shifted.BigInt().IsInt64() {
		return Money{}, ErrInvalidMoneyFormat
	}
	return Money{Cents: shifted.IntPart()}, nil
}

// ParseAmount parses a transaction amount, which must be strictly positive.
func ParseAmount(s string) (Money, error) {
	m, err := ParseMoney(s)
	if err != nil {
		return Money{}, err
	}
	if err := m.ValidateAmount(); err != nil {
		return Money{}, err
	}
	return m, nil
}

// ValidateAmount rejects zero and negative transaction amounts.
func (m Money) ValidateAmount() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Decimal returns the exact decimal value.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String formats the amount with exactly two decimals, e.g. "-12.30".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }
func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }
func (m Money) Neg() Money        { return Money{Cents: -m.Cents} }
func (m Money) IsZero() bool      { return m.Cents == 0 }

// MarshalJSON encodes money as a fixed two-decimal string.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts both quoted decimal strings and bare JSON numbers.
func (m *Money) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		s = string(data)
	}
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
