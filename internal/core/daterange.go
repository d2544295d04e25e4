package core

import (
	"errors"
	"strings"
	"time"
)

// Named date-range presets accepted by ParseDateRange.
const (
	RangeLast7Days  = "7d"
	RangeLast30Days = "30d"
	RangeThisMonth  = "month"
	RangeAll        = "all"
)

var ErrInvalidRange = errors.New("invalid date range")

// DateRange is a half-open interval [From, To). A zero bound is unbounded.
type DateRange struct {
	From time.Time
	To   time.Time
}

// AllTime matches every transaction.
func AllTime() DateRange { return DateRange{} }

// LastDays covers the n days up to now, aligned to the start of the first day.
func LastDays(now time.Time, n int) DateRange {
	start := startOfDay(now).AddDate(0, 0, -(n - 1))
	return DateRange{From: start}
}

// ThisMonth covers the calendar month containing now.
func ThisMonth(now time.Time) DateRange {
	y, m, _ := now.Date()
	start := time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
	return DateRange{From: start, To: start.AddDate(0, 1, 0)}
}

// ParseDateRange resolves a preset name, or custom inclusive YYYY-MM-DD
// bounds when from/to are set. An empty preset defaults to the last 30 days.
func ParseDateRange(preset, from, to string, now time.Time) (DateRange, error) {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from != "" || to != "" {
		var r DateRange
		if from != "" {
			f, err := time.ParseInLocation("2006-01-02", from, now.Location())
			if err != nil {
				return DateRange{}, ErrInvalidRange
			}
			r.From = f
		}
		if to != "" {
			t, err := time.ParseInLocation("2006-01-02", to, now.Location())
			if err != nil {
				return DateRange{}, ErrInvalidRange
			}
			r.To = t.AddDate(0, 0, 1)
		}
		if !r.From.IsZero() && !r.To.IsZero() && !r.From.Before(r.To) {
			return DateRange{}, ErrInvalidRange
		}
		return r, nil
	}

	switch strings.ToLower(strings.TrimSpace(preset)) {
	case "", RangeLast30Days:
		return LastDays(now, 30), nil
	case RangeLast7Days:
		return LastDays(now, 7), nil
	case RangeThisMonth:
		return ThisMonth(now), nil
	case RangeAll:
		return AllTime(), nil
	default:
		return DateRange{}, ErrInvalidRange
	}
}

func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// Filter keeps the transactions dated inside the range, preserving order.
func (r DateRange) Filter(txs []Transaction) []Transaction {
	out := make([]Transaction, 0, len(txs))
	for _, t := range txs {
		if r.Contains(t.Date) {
			out = append(out, t)
		}
	}
	return out
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
