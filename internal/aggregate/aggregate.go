// Package aggregate reduces entry lists into totals, rollups and per-day
// calendar buckets.
//
// Amounts are magnitudes (see core.Entry.Normalize); the entry type alone
// decides whether an amount adds revenue, claws it back or counts as an
// expense.
package aggregate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"ninja/internal/core"
	"ninja/internal/period"
)

// Totals is the flat aggregation of an entry list.
type Totals struct {
	Revenue  core.Money
	Expenses core.Money
	Profit   core.Money
	Miles    float64
	Minutes  int
	Orders   int
	Count    int
	ByType   map[core.EntryType]core.Money
	ByApp    map[core.App]core.Money
}

// DayBucket holds one local calendar day of activity.
type DayBucket struct {
	Date     string     `json:"date"`
	Revenue  core.Money `json:"revenue"`
	Expenses core.Money `json:"expenses"`
	Profit   core.Money `json:"profit"`
	// Cancellations is the revenue clawed back that day, already
	// subtracted from Revenue.
	Cancellations core.Money `json:"cancellations"`
	Entries       int        `json:"entries"`
}

// EarnedNet is (orders + bonuses) - expenses, ignoring cancellations.
func (b DayBucket) EarnedNet() core.Money {
	return b.Revenue.Add(b.Cancellations).Sub(b.Expenses)
}

// Green reports whether the day's earned net is strictly positive.
// Cancellations lower profit but do not turn a day red.
func (b DayBucket) Green() bool { return b.EarnedNet().Cents > 0 }

// Contribution splits an entry into its revenue and expense effect.
// Cancellations are a negative revenue contribution.
func Contribution(e core.Entry) (revenue, expenses core.Money) {
	switch e.Type {
	case core.Order, core.Bonus:
		return e.Amount, core.Money{}
	case core.Cancellation:
		return core.Money{Cents: -e.Amount.Cents}, core.Money{}
	case core.Expense:
		return core.Money{}, e.Amount
	}
	return core.Money{}, core.Money{}
}

// Net is the profit effect of a single entry.
func Net(e core.Entry) core.Money {
	r, x := Contribution(e)
	return r.Sub(x)
}

// Summarize aggregates entries without any time bucketing.
func Summarize(entries []core.Entry) Totals {
	t := Totals{
		ByType: make(map[core.EntryType]core.Money),
		ByApp:  make(map[core.App]core.Money),
	}
	miles := decimal.Zero
	for _, e := range entries {
		rev, exp := Contribution(e)
		t.Revenue = t.Revenue.Add(rev)
		t.Expenses = t.Expenses.Add(exp)
		t.ByType[e.Type] = t.ByType[e.Type].Add(e.Amount)
		if e.Type.IsIncome() {
			t.ByApp[e.App] = t.ByApp[e.App].Add(rev)
		}
		if e.Type == core.Order {
			t.Orders++
		}
		miles = miles.Add(decimal.NewFromFloat(e.DistanceMiles))
		t.Minutes += e.DurationMinutes
		t.Count++
	}
	t.Profit = t.Revenue.Sub(t.Expenses)
	t.Miles = miles.Round(2).InexactFloat64()
	return t
}

// DailyBuckets groups entries by their calendar date in loc, ascending.
func DailyBuckets(entries []core.Entry, loc *time.Location) []DayBucket {
	byDay := make(map[string]*DayBucket)
	for _, e := range entries {
		key := period.ToZonedDateString(e.Timestamp, loc)
		b, ok := byDay[key]
		if !ok {
			b = &DayBucket{Date: key}
			byDay[key] = b
		}
		rev, exp := Contribution(e)
		b.Revenue = b.Revenue.Add(rev)
		b.Expenses = b.Expenses.Add(exp)
		if e.Type == core.Cancellation {
			b.Cancellations = b.Cancellations.Add(e.Amount)
		}
		b.Entries++
	}

	out := make([]DayBucket, 0, len(byDay))
	for _, b := range byDay {
		b.Profit = b.Revenue.Sub(b.Expenses)
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// BucketIndex keys buckets by date for O(1) lookups while walking days.
func BucketIndex(buckets []DayBucket) map[string]DayBucket {
	idx := make(map[string]DayBucket, len(buckets))
	for _, b := range buckets {
		idx[b.Date] = b
	}
	return idx
}

// SumBuckets folds buckets back into revenue, expenses and profit.
func SumBuckets(buckets []DayBucket) (revenue, expenses, profit core.Money) {
	for _, b := range buckets {
		revenue = revenue.Add(b.Revenue)
		expenses = expenses.Add(b.Expenses)
		profit = profit.Add(b.Profit)
	}
	return revenue, expenses, profit
}
