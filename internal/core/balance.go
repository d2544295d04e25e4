package core

import (
	"slices"
	"strings"
)

// SignedEffect is the change a transaction applies to the balance:
// +amount for a credit, -amount for an expense.
func SignedEffect(t Transaction) Money {
	if t.Type == Credit {
		return t.Amount
	}
	return Money{Cents: -t.Amount.Cents}
}

// ComputeBalance is the authoritative aggregate of a kid's ledger:
// the sum of credits minus the sum of expenses.
func ComputeBalance(txs []Transaction) Money {
	var total Money
	for _, t := range txs {
		total = total.Add(SignedEffect(t))
	}
	return total
}

// compareNewestFirst orders by date descending, then by ID descending.
// IDs are UUIDv7, so equal dates fall back to most recently inserted first.
func compareNewestFirst(a, b Transaction) int {
	if c := b.Date.Compare(a.Date); c != 0 {
		return c
	}
	return strings.Compare(b.ID, a.ID)
}

// SortNewestFirst returns a copy of txs in display order.
func SortNewestFirst(txs []Transaction) []Transaction {
	out := slices.Clone(txs)
	slices.SortFunc(out, compareNewestFirst)
	return out
}

// RunningBalances maps every transaction ID to the balance immediately after
// that transaction, walking backward from the known current balance.
//
// txs may be a partial window of the kid's history (e.g. the last 30 days):
// since currentBalance already includes everything, the values are exact
// regardless of what lies before the window.
func RunningBalances(txs []Transaction, currentBalance Money) map[string]Money {
	out := make(map[string]Money, len(txs))
	balance := currentBalance
	for _, t := range SortNewestFirst(txs) {
		out[t.ID] = balance
		balance = balance.Sub(SignedEffect(t))
	}
	return out
}

// LedgerRow is a transaction annotated with the balance after it.
type LedgerRow struct {
	Transaction
	BalanceAfter Money
}

// AnnotateLedger returns txs newest first, each with its running balance.
func AnnotateLedger(txs []Transaction, currentBalance Money) []LedgerRow {
	balances := RunningBalances(txs, currentBalance)
	sorted := SortNewestFirst(txs)
	rows := make([]LedgerRow, len(sorted))
	for i, t := range sorted {
		rows[i] = LedgerRow{Transaction: t, BalanceAfter: balances[t.ID]}
	}
	return rows
}
