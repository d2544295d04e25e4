package core

// KidSummary is one card on the household overview.
type KidSummary struct {
	Kid
	Negative bool
	Recent   []LedgerRow // newest first, filled by the caller when wanted
}

// HouseholdSummary aggregates every kid of a household.
type HouseholdSummary struct {
	Household Household
	Kids      []KidSummary
	Total     Money
}

// Summarize builds the overview; Total is the sum of current balances.
func Summarize(h Household, kids []Kid) HouseholdSummary {
	s := HouseholdSummary{Household: h, Kids: make([]KidSummary, 0, len(kids))}
	for _, k := range kids {
		s.Kids = append(s.Kids, KidSummary{Kid: k, Negative: k.CurrentBalance.IsNegative()})
		s.Total = s.Total.Add(k.CurrentBalance)
	}
	return s
}
