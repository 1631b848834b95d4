// Package period turns named periods into concrete local-calendar ranges.
//
// Every range is computed in an explicit *time.Location and is inclusive
// at both ends: To is the last nanosecond before the next local day starts,
// so days that are 23 or 25 hours long because of DST keep their real
// length. In zones where DST skips midnight, a day starts at the first
// instant that carries its date.
package period

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"ninja/internal/core"
)

// Period names a relative calendar window.
type Period string

const (
	Today     Period = "today"
	Yesterday Period = "yesterday"
	Week      Period = "week"
	Last7     Period = "last7"
	Month     Period = "month"
	LastMonth Period = "lastMonth"
)

// DateLayout is the calendar-date format used for bucket keys and query params.
const DateLayout = "2006-01-02"

// Range is an inclusive time window.
type Range struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

// In returns the range with both bounds expressed in loc.
func (r Range) In(loc *time.Location) Range {
	return Range{From: r.From.In(loc), To: r.To.In(loc)}
}

var (
	ErrUnknownPeriod = errors.New("unknown period")
	ErrInvertedRange = errors.New("from is after to")
)

// InvalidDateError reports a date string that could not be interpreted.
type InvalidDateError struct {
	Input string
	Err   error
}

func (e *InvalidDateError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid date %q", e.Input)
	}
	return fmt.Sprintf("invalid date %q: %v", e.Input, e.Err)
}

func (e *InvalidDateError) Unwrap() error { return e.Err }

// LoadLocation resolves an IANA zone name. The embedded tzdata makes this
// independent of the host zoneinfo.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// ToZonedDateString returns the calendar date of instant in loc.
func ToZonedDateString(instant time.Time, loc *time.Location) string {
	return instant.In(loc).Format(DateLayout)
}

// dayStart is the first instant of the local date y-m-d. time.Date leaves
// a nonexistent midnight unspecified; when it lands on the previous date
// the day begins where that zone period ends.
func dayStart(y int, m time.Month, d int, loc *time.Location) time.Time {
	want := time.Date(y, m, d, 12, 0, 0, 0, loc).Format(DateLayout)
	t := time.Date(y, m, d, 0, 0, 0, 0, loc)
	if t.Format(DateLayout) < want {
		if _, end := t.ZoneBounds(); !end.IsZero() {
			return end.In(loc)
		}
	}
	return t
}

// StartOfDay is the first local instant of the day containing t.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return dayStart(y, m, d, loc)
}

// EndOfDay is the last nanosecond before the next local day starts.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return dayStart(y, m, d+1, loc).Add(-time.Nanosecond)
}

// ShiftDays moves t by n local calendar days. It anchors at noon so the
// result never lands on a skipped or repeated DST hour.
func ShiftDays(t time.Time, n int, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d+n, 12, 0, 0, 0, loc)
}

// Day is the inclusive range of the local day containing t.
func Day(t time.Time, loc *time.Location) Range {
	return Range{From: StartOfDay(t, loc), To: EndOfDay(t, loc)}
}

// Bounds returns the inclusive range of p relative to now.
// Weeks run Sunday through Saturday.
func Bounds(p Period, now time.Time, loc *time.Location) (Range, error) {
	now = now.In(loc)
	y, m, d := now.Date()

	switch p {
	case Today:
		return Day(now, loc), nil
	case Yesterday:
		return Day(ShiftDays(now, -1, loc), loc), nil
	case Week:
		start := dayStart(y, m, d-int(now.Weekday()), loc)
		return Range{From: start, To: EndOfDay(ShiftDays(start, 6, loc), loc)}, nil
	case Last7:
		return Range{From: StartOfDay(ShiftDays(now, -6, loc), loc), To: EndOfDay(now, loc)}, nil
	case Month:
		return Range{
			From: dayStart(y, m, 1, loc),
			To:   EndOfDay(time.Date(y, m+1, 0, 12, 0, 0, 0, loc), loc),
		}, nil
	case LastMonth:
		// time.Date normalizes month 0 to December of the previous year.
		return Range{
			From: dayStart(y, m-1, 1, loc),
			To:   EndOfDay(time.Date(y, m, 0, 12, 0, 0, 0, loc), loc),
		}, nil
	}
	return Range{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, p)
}

// FromTimeframe maps the persisted timeframe enum to a period.
func FromTimeframe(tf core.Timeframe) (Period, error) {
	switch tf {
	case core.Today:
		return Today, nil
	case core.Yesterday:
		return Yesterday, nil
	case core.ThisWeek:
		return Week, nil
	case core.Last7Days:
		return Last7, nil
	case core.ThisMonth:
		return Month, nil
	case core.LastMonth:
		return LastMonth, nil
	}
	return "", fmt.Errorf("%w: %q", core.ErrInvalidTimeframe, tf)
}

// TimeframeBounds resolves tf relative to now. dayOffset moves the reference
// day and only applies to TODAY and YESTERDAY, as the day navigator does.
func TimeframeBounds(tf core.Timeframe, now time.Time, loc *time.Location, dayOffset int) (Range, error) {
	p, err := FromTimeframe(tf)
	if err != nil {
		return Range{}, err
	}
	if dayOffset != 0 && (p == Today || p == Yesterday) {
		now = ShiftDays(now, dayOffset, loc)
	}
	return Bounds(p, now, loc)
}

// ParseDate parses a YYYY-MM-DD calendar date as the start of that day in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, &InvalidDateError{Input: s, Err: err}
	}
	y, m, d := t.Date()
	return dayStart(y, m, d, loc), nil
}

// ParseInstant accepts RFC 3339 timestamps, with or without fractional
// seconds, and bare calendar dates (interpreted as local midnight).
func ParseInstant(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, &InvalidDateError{Input: s, Err: errors.New("empty")}
	}
	if len(s) == len(DateLayout) {
		return ParseDate(s, loc)
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &InvalidDateError{Input: s, Err: errors.New("expected RFC 3339 or YYYY-MM-DD")}
}

// ParseRange builds a range from query-style bounds. A bare date for "to"
// covers that whole local day.
func ParseRange(from, to string, loc *time.Location) (Range, error) {
	f, err := ParseInstant(from, loc)
	if err != nil {
		return Range{}, err
	}
	t, err := ParseInstant(to, loc)
	if err != nil {
		return Range{}, err
	}
	if len(strings.TrimSpace(to)) == len(DateLayout) {
		t = EndOfDay(t, loc)
	}
	if f.After(t) {
		return Range{}, &InvalidDateError{Input: from + ".." + to, Err: ErrInvertedRange}
	}
	return Range{From: f, To: t}, nil
}

// Label is the display name of a period.
func (p Period) Label() string {
	switch p {
	case Today:
		return "Today"
	case Yesterday:
		return "Yesterday"
	case Week:
		return "This Week"
	case Last7:
		return "Last 7 Days"
	case Month:
		return "This Month"
	case LastMonth:
		return "Last Month"
	}
	return string(p)
}

// All lists every period in display order.
func All() []Period {
	return []Period{Today, Yesterday, Week, Last7, Month, LastMonth}
}
