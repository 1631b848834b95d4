// Package suggestions derives order statistics for a window of entries and
// turns them into an earning tip, from an LLM when one is configured and
// from fixed rules otherwise.
package suggestions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"ninja/internal/core"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	SourceLLM   = "llm"
	SourceRules = "rules"
)

// Generator produces free text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Stats summarizes ORDER entries of a window.
type Stats struct {
	TotalOrders int
	Revenue     core.Money
	Average     core.Money
	// Minimum is the 25th percentile order amount, the suggested floor for
	// accepting offers.
	Minimum core.Money
	// PeakHour is the local hour with the most order revenue, -1 when empty.
	PeakHour    int
	PeakRevenue core.Money
	Miles       float64
}

// Result is the payload of the suggestions endpoint.
type Result struct {
	TotalOrders  int    `json:"total_orders"`
	AverageOrder string `json:"average_order"`
	MinimumOrder string `json:"minimum_order"`
	PeakTime     string `json:"peak_time"`
	Suggestion   string `json:"suggestion"`
	Reasoning    string `json:"reasoning"`
	Source       string `json:"source"`
}

var printer = message.NewPrinter(language.AmericanEnglish)

// Compute gathers order statistics. Hours are bucketed in loc.
func Compute(entries []core.Entry, loc *time.Location) Stats {
	if loc == nil {
		loc = time.UTC
	}
	s := Stats{PeakHour: -1}

	var (
		amounts []int64
		byHour  [24]int64
		miles   = decimal.Zero
	)
	for _, e := range entries {
		if e.Type != core.Order {
			continue
		}
		amounts = append(amounts, e.Amount.Cents)
		s.Revenue = s.Revenue.Add(e.Amount)
		byHour[e.Timestamp.In(loc).Hour()] += e.Amount.Cents
		miles = miles.Add(decimal.NewFromFloat(e.DistanceMiles))
	}
	s.TotalOrders = len(amounts)
	s.Miles, _ = miles.Float64()
	if s.TotalOrders == 0 {
		return s
	}

	avg := decimal.New(s.Revenue.Cents, -2).Div(decimal.NewFromInt(int64(s.TotalOrders)))
	s.Average = core.MoneyFromDecimal(avg)

	sort.Slice(amounts, func(i, j int) bool { return amounts[i] < amounts[j] })
	s.Minimum = core.Cents(amounts[percentileIndex(len(amounts), 25)])

	for h, cents := range byHour {
		if cents > 0 && (s.PeakHour < 0 || cents > s.PeakRevenue.Cents) {
			s.PeakHour = h
			s.PeakRevenue = core.Cents(cents)
		}
	}
	return s
}

// percentileIndex is the nearest-rank index of the p-th percentile.
func percentileIndex(n, p int) int {
	rank := (p*n + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return rank - 1
}

// PeakLabel renders an hour as a one-hour window, e.g. "6 PM - 7 PM".
func PeakLabel(hour int) string {
	if hour < 0 || hour > 23 {
		return ""
	}
	return clock(hour) + " - " + clock((hour+1)%24)
}

func clock(h int) string {
	switch {
	case h == 0:
		return "12 AM"
	case h < 12:
		return fmt.Sprintf("%d AM", h)
	case h == 12:
		return "12 PM"
	}
	return fmt.Sprintf("%d PM", h-12)
}

func dollars(m core.Money) string {
	f, _ := m.Decimal().Float64()
	return printer.Sprintf("$%.2f", f)
}

// RuleTip is the fallback advice derived from the statistics alone.
func RuleTip(s Stats) string {
	if s.TotalOrders == 0 {
		return "Log a few orders in this period to get personalized tips."
	}
	var b strings.Builder
	b.WriteString(printer.Sprintf("Aim to accept offers of at least %s; a quarter of your %d orders paid less.", dollars(s.Minimum), s.TotalOrders))
	if s.PeakHour >= 0 {
		b.WriteString(printer.Sprintf(" Your best hour is %s, which brought in %s.", PeakLabel(s.PeakHour), dollars(s.PeakRevenue)))
	}
	if s.Miles > 0 {
		perMile := s.Revenue.Decimal().Div(decimal.NewFromFloat(s.Miles)).Round(2)
		f, _ := perMile.Float64()
		if f < 1 {
			b.WriteString(printer.Sprintf(" You average $%.2f per mile; favor shorter trips to lift it above $1.", f))
		} else {
			b.WriteString(printer.Sprintf(" You average $%.2f per mile; keep that ratio when picking orders.", f))
		}
	}
	return b.String()
}

// Prompt asks the model for short, concrete advice.
func Prompt(s Stats) string {
	peak := PeakLabel(s.PeakHour)
	if peak == "" {
		peak = "unknown"
	}
	return printer.Sprintf(`You are an earnings coach for food delivery drivers.
Stats for the selected period:
- Orders completed: %d
- Average order: %s
- 25th percentile order: %s
- Peak earning hour: %s
- Miles driven: %.1f
Give at most three short, practical tips to increase profit. Plain text, no markdown.`,
		s.TotalOrders, dollars(s.Average), dollars(s.Minimum), peak, s.Miles)
}

func reasoning(s Stats) string {
	if s.TotalOrders == 0 {
		return "no orders in the selected period"
	}
	return printer.Sprintf("%d orders totaling %s", s.TotalOrders, dollars(s.Revenue))
}

// Suggest computes statistics and asks gen for a tip, falling back to
// RuleTip when gen is nil, fails, or there is nothing to analyze.
func Suggest(ctx context.Context, entries []core.Entry, loc *time.Location, gen Generator) Result {
	s := Compute(entries, loc)
	res := Result{
		TotalOrders:  s.TotalOrders,
		AverageOrder: s.Average.String(),
		MinimumOrder: s.Minimum.String(),
		PeakTime:     PeakLabel(s.PeakHour),
		Reasoning:    reasoning(s),
		Source:       SourceRules,
	}

	if gen != nil && s.TotalOrders > 0 {
		text, err := gen.Generate(ctx, Prompt(s))
		if err == nil {
			res.Suggestion = text
			res.Source = SourceLLM
			return res
		}
		slog.WarnContext(ctx, "LLM suggestion failed, using rules", "error", err)
	}
	res.Suggestion = RuleTip(s)
	return res
}
