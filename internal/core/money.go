// Package core holds the domain model of saldo: accounts, transactions,
// holdings, currencies and the balance sheet they aggregate into.
//
// This file contains helpers for parsing monetary amounts. All money is
// carried as decimal.Decimal, including in JSON, where it is written as an
// exact number literal.
package core

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxFractionDigits is the scale amounts are rounded to on input.
const MaxFractionDigits = 4

// ParseBalance parses a signed balance. Credit products may carry negative balances.
func ParseBalance(s string) (decimal.Decimal, error) {
	return parseDecimal(s)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 || strings.ContainsAny(s, "eE") {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d.Round(MaxFractionDigits), nil
}

// Percentage returns part/total*100, or zero when total is zero.
func Percentage(part, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return part.Div(total).Mul(decimal.NewFromInt(100))
}

// SharePercentages returns each part's share of total as a percentage rounded
// to places decimals. Shares are rounded by largest remainder, so whenever
// total is non-zero they add up to exactly 100. All shares are zero when
// total is zero. Parts are expected to be non-negative.
func SharePercentages(parts []decimal.Decimal, total decimal.Decimal, places int32) []decimal.Decimal {
	out := make([]decimal.Decimal, len(parts))
	if total.IsZero() {
		for i := range out {
			out[i] = decimal.Zero
		}
		return out
	}

	remainders := make([]decimal.Decimal, len(parts))
	allocated := decimal.Zero
	for i, p := range parts {
		exact := Percentage(p, total)
		out[i] = exact.Truncate(places)
		remainders[i] = exact.Sub(out[i])
		allocated = allocated.Add(out[i])
	}

	unit := decimal.New(1, -places)
	left := decimal.NewFromInt(100).Sub(allocated).Div(unit).Round(0).IntPart()
	order := make([]int, len(parts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]].GreaterThan(remainders[order[b]])
	})
	for k := 0; k < int(left) && k < len(order); k++ {
		out[order[k]] = out[order[k]].Add(unit)
	}
	return out
}
