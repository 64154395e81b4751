// Package core provides the domain model: cards, expenses, budgets,
// drafts, money parsing and month-token arithmetic.
package core

import "time"

const monthLayout = "2006-01"

// NowMonth returns the month token for t, e.g. "2024-03".
func NowMonth(t time.Time) string {
	return t.Format(monthLayout)
}

// MonthKey returns the month token an expense date falls into.
func MonthKey(t time.Time) string {
	return t.Format(monthLayout)
}

// PrevMonth returns the token of the month preceding ym, rolling the
// year boundary (January -> December of the previous year). Every
// rollover chain goes through here, so an off-by-one would corrupt all
// derived balances transitively.
//
// A malformed token is returned unchanged; the rollover depth cutoff
// then terminates the recursion.
func PrevMonth(ym string) string {
	t, err := time.Parse(monthLayout, ym)
	if err != nil {
		return ym
	}
	return t.AddDate(0, -1, 0).Format(monthLayout)
}

// ValidMonth reports whether ym is a canonical "YYYY-MM" token.
func ValidMonth(ym string) bool {
	t, err := time.Parse(monthLayout, ym)
	return err == nil && t.Format(monthLayout) == ym
}

// MonthBefore reports whether a is strictly before b. Canonical tokens
// are zero padded, so lexicographic order is chronological order.
func MonthBefore(a, b string) bool {
	return a < b
}
