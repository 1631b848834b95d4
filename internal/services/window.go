package services

import (
	"fmt"
	"strings"
	"time"

	"ninja/internal/core"
	"ninja/internal/period"
	"ninja/internal/storage"
)

// WindowQuery is the raw time window of a request. Timeframe wins over
// From/To; either bound may be empty for an open-ended range.
type WindowQuery struct {
	Timeframe string
	From      string
	To        string
	DayOffset int
}

// Window is a resolved WindowQuery. A zero Range bound is open.
type Window struct {
	Timeframe core.Timeframe
	Range     period.Range
}

// Bounded reports whether the window filters anything.
func (w Window) Bounded() bool {
	return !w.Range.From.IsZero() || !w.Range.To.IsZero()
}

// Query converts the window into a storage query.
func (w Window) Query() storage.EntryQuery {
	return storage.EntryQuery{From: w.Range.From, To: w.Range.To}
}

// ResolveWindow turns q into concrete bounds. fallback applies when q names
// neither a timeframe nor a bound; an empty fallback yields an unbounded
// window.
func ResolveWindow(q WindowQuery, fallback core.Timeframe, now time.Time, loc *time.Location) (Window, error) {
	from, to := strings.TrimSpace(q.From), strings.TrimSpace(q.To)

	tfRaw := strings.TrimSpace(q.Timeframe)
	if tfRaw == "" && from == "" && to == "" {
		tfRaw = string(fallback)
	}

	if tfRaw != "" {
		tf, err := core.ParseTimeframe(tfRaw)
		if err != nil {
			return Window{}, err
		}
		r, err := period.TimeframeBounds(tf, now, loc, q.DayOffset)
		if err != nil {
			return Window{}, err
		}
		return Window{Timeframe: tf, Range: r}, nil
	}

	switch {
	case from != "" && to != "":
		r, err := period.ParseRange(from, to, loc)
		if err != nil {
			return Window{}, err
		}
		return Window{Range: r}, nil
	case from != "":
		f, err := period.ParseInstant(from, loc)
		if err != nil {
			return Window{}, err
		}
		return Window{Range: period.Range{From: f}}, nil
	case to != "":
		t, err := period.ParseInstant(to, loc)
		if err != nil {
			return Window{}, err
		}
		if len(to) == len(period.DateLayout) {
			t = period.EndOfDay(t, loc)
		}
		return Window{Range: period.Range{To: t}}, nil
	}
	return Window{}, nil
}

// label is the display name of w, used in exports.
func (w Window) label(loc *time.Location) string {
	if w.Timeframe != "" {
		return w.Timeframe.Label()
	}
	if !w.Bounded() {
		return "All Time"
	}
	var parts []string
	if !w.Range.From.IsZero() {
		parts = append(parts, period.ToZonedDateString(w.Range.From, loc))
	}
	if !w.Range.To.IsZero() {
		parts = append(parts, period.ToZonedDateString(w.Range.To, loc))
	}
	return fmt.Sprintf("Custom %s", strings.Join(parts, " to "))
}
