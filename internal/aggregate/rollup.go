package aggregate

import (
	"time"

	"github.com/shopspring/decimal"

	"ninja/internal/core"
)

// Rollup is the derived projection served for a time window.
type Rollup struct {
	Revenue         core.Money                    `json:"revenue"`
	Expenses        core.Money                    `json:"expenses"`
	Profit          core.Money                    `json:"profit"`
	Miles           float64                       `json:"miles"`
	Hours           float64                       `json:"hours"`
	DollarsPerMile  core.Money                    `json:"dollars_per_mile"`
	DollarsPerHour  core.Money                    `json:"dollars_per_hour"`
	MileageCost     core.Money                    `json:"mileage_cost"`
	NetAfterMileage core.Money                    `json:"net_after_mileage"`
	EntryCount      int                           `json:"entry_count"`
	OrderCount      int                           `json:"order_count"`
	ByType          map[core.EntryType]core.Money `json:"by_type"`
	ByApp           map[core.App]core.Money       `json:"by_app"`
	GoalTarget      *core.Money                   `json:"goal_target,omitempty"`
	GoalProgress    *float64                      `json:"goal_progress,omitempty"`
	Timeframe       core.Timeframe                `json:"timeframe,omitempty"`
	From            time.Time                     `json:"from"`
	To              time.Time                     `json:"to"`
}

// RollupOptions carries the per-user inputs of a rollup.
type RollupOptions struct {
	CostPerMile core.Rate
	Goal        *core.Goal
	Timeframe   core.Timeframe
	From, To    time.Time
}

// NewRollup computes KPIs over entries. Ratios are zero when their divisor is.
func NewRollup(entries []core.Entry, opts RollupOptions) Rollup {
	t := Summarize(entries)
	miles := decimal.NewFromFloat(t.Miles)
	hours := decimal.NewFromInt(int64(t.Minutes)).Div(decimal.NewFromInt(60))

	r := Rollup{
		Revenue:    t.Revenue,
		Expenses:   t.Expenses,
		Profit:     t.Profit,
		Miles:      t.Miles,
		Hours:      hours.Round(2).InexactFloat64(),
		EntryCount: t.Count,
		OrderCount: t.Orders,
		ByType:     t.ByType,
		ByApp:      t.ByApp,
		Timeframe:  opts.Timeframe,
		From:       opts.From,
		To:         opts.To,
	}
	r.DollarsPerMile = ratio(t.Revenue, miles)
	r.DollarsPerHour = ratio(t.Revenue, hours)
	r.MileageCost = opts.CostPerMile.Times(t.Miles)
	r.NetAfterMileage = t.Profit.Sub(r.MileageCost)

	if opts.Goal != nil {
		target := opts.Goal.TargetProfit
		r.GoalTarget = &target
		progress := GoalProgress(t.Profit, target)
		r.GoalProgress = &progress
	}
	return r
}

// GoalProgress is profit as a percentage of target, rounded to one decimal.
// A zero target yields 0.
func GoalProgress(profit, target core.Money) float64 {
	if target.Cents <= 0 {
		return 0
	}
	pct := profit.Decimal().Div(target.Decimal()).Mul(decimal.NewFromInt(100))
	return pct.Round(1).InexactFloat64()
}

func ratio(m core.Money, by decimal.Decimal) core.Money {
	if by.IsZero() {
		return core.Money{}
	}
	return core.MoneyFromDecimal(m.Decimal().Div(by))
}
