// Package ledger holds the sort, selection and filter state of an entries
// table. None of it is persisted.
package ledger

import (
	"fmt"
	"sort"
	"strings"

	"ninja/internal/core"
)

type Column string

const (
	ByDate   Column = "date"
	ByAmount Column = "amount"
	ByType   Column = "type"
	ByApp    Column = "app"
	ByMiles  Column = "miles"
)

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Sort is a column plus a direction.
type Sort struct {
	Column    Column    `json:"column"`
	Direction Direction `json:"direction"`
}

// DefaultSort is reverse-chronological.
var DefaultSort = Sort{Column: ByDate, Direction: Desc}

// ParseSort reads "column" or "column:dir" as used in query strings.
func ParseSort(s string) (Sort, error) {
	if s == "" {
		return DefaultSort, nil
	}
	col, dir, found := strings.Cut(strings.ToLower(s), ":")
	out := Sort{Column: Column(col), Direction: initialDirection(Column(col))}
	if !out.Column.valid() {
		return Sort{}, fmt.Errorf("unknown sort column %q", col)
	}
	if found {
		switch Direction(dir) {
		case Asc, Desc:
			out.Direction = Direction(dir)
		default:
			return Sort{}, fmt.Errorf("unknown sort direction %q", dir)
		}
	}
	return out, nil
}

func (c Column) valid() bool {
	switch c {
	case ByDate, ByAmount, ByType, ByApp, ByMiles:
		return true
	}
	return false
}

// initialDirection is the direction a column gets when it is first picked.
func initialDirection(c Column) Direction {
	if c == ByDate {
		return Desc
	}
	return Asc
}

// Toggle returns the sort after a click on col: the same column flips
// direction, a new column starts at its initial direction.
func (s Sort) Toggle(col Column) Sort {
	if s.Column == col {
		if s.Direction == Asc {
			return Sort{Column: col, Direction: Desc}
		}
		return Sort{Column: col, Direction: Asc}
	}
	return Sort{Column: col, Direction: initialDirection(col)}
}

func compare(a, b core.Entry, col Column) int {
	switch col {
	case ByDate:
		return a.Timestamp.Compare(b.Timestamp)
	case ByAmount:
		return cmpInt64(a.Amount.Cents, b.Amount.Cents)
	case ByType:
		return strings.Compare(string(a.Type), string(b.Type))
	case ByApp:
		return strings.Compare(a.DisplaySource(), b.DisplaySource())
	case ByMiles:
		switch {
		case a.DistanceMiles < b.DistanceMiles:
			return -1
		case a.DistanceMiles > b.DistanceMiles:
			return 1
		}
	}
	return 0
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Apply returns a sorted copy of entries. Ties keep their input order.
func (s Sort) Apply(entries []core.Entry) []core.Entry {
	out := make([]core.Entry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		c := compare(out[i], out[j], s.Column)
		if s.Direction == Desc {
			return c > 0
		}
		return c < 0
	})
	return out
}
