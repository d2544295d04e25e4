// Package core provides the allowance ledger domain: money, kids,
// transactions and the running-balance calculator.
//
// This file contains functions for parsing monetary amounts from strings
// and rendering cents for display.
package core

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// maxAmountCents caps a single amount at one billion dollars.
const maxAmountCents = 100_000_000_000

// ParseAmount converts a decimal string to Money with half-up rounding to cents.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators.
// Returns ErrInvalidAmount for invalid formats, signs, zero or oversized values.
//
// Examples:
//
//	ParseAmount("12.34")  -> {1234}, nil
//	ParseAmount("12,345") -> {1235}, nil (rounds half up)
//	ParseAmount("0")      -> {}, ErrInvalidAmount
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return Money{}, ErrInvalidAmount
	}
	// decimal accepts exponents; amounts typed by people never carry one.
	if strings.ContainsAny(s, "eE") {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return centsFromDecimal(d)
}

// MoneyFromFloat rounds a float amount (as sent by JSON clients) to cents.
// It applies the same bounds as ParseAmount.
func MoneyFromFloat(f float64) (Money, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Money{}, ErrInvalidAmount
	}
	return centsFromDecimal(decimal.NewFromFloat(f))
}

// centsFromDecimal checks the bounds before converting, so IntPart never
// sees a value outside int64.
func centsFromDecimal(d decimal.Decimal) (Money, error) {
	cents := d.Mul(hundred).Round(0)
	if !cents.IsPositive() || cents.GreaterThan(decimal.NewFromInt(maxAmountCents)) {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: cents.IntPart()}, nil
}

// Decimal returns the amount as a two-digit decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String renders the amount with two fraction digits and no currency symbol.
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// FormatAmount renders cents as a dollar amount, e.g. "$12.34" or "-$0.50".
func FormatAmount(m Money) string {
	if m.Cents < 0 {
		return "-$" + Money{Cents: -m.Cents}.String()
	}
	return "$" + m.String()
}

// FormatSigned renders a transaction amount with its direction, e.g. "+$5.00"
// for a credit and "−$5.00" for an expense.
func FormatSigned(t TransactionType, m Money) string {
	sign := "−"
	if t == Credit {
		sign = "+"
	}
	return sign + "$" + m.String()
}

// NormalizePresets keeps positive amounts in input order, up to MaxPresets.
func NormalizePresets(in []Money) []Money {
	out := make([]Money, 0, MaxPresets)
	for _, p := range in {
		if p.Cents <= 0 {
			continue
		}
		out = append(out, p)
		if len(out) == MaxPresets {
			break
		}
	}
	return out
}
