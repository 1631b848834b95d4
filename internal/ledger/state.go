package ledger

import (
	"strings"

	"ninja/internal/core"
	"ninja/internal/period"
)

// Selection is an ordered set of entry IDs.
type Selection struct {
	ids   []int64
	index map[int64]struct{}
}

func NewSelection() *Selection {
	return &Selection{index: make(map[int64]struct{})}
}

func (s *Selection) Has(id int64) bool {
	_, ok := s.index[id]
	return ok
}

func (s *Selection) Add(id int64) {
	if s.Has(id) {
		return
	}
	s.index[id] = struct{}{}
	s.ids = append(s.ids, id)
}

func (s *Selection) Remove(id int64) {
	if !s.Has(id) {
		return
	}
	delete(s.index, id)
	for i, v := range s.ids {
		if v == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			break
		}
	}
}

// Toggle flips membership of id.
func (s *Selection) Toggle(id int64) {
	if s.Has(id) {
		s.Remove(id)
		return
	}
	s.Add(id)
}

func (s *Selection) Clear() {
	s.ids = nil
	s.index = make(map[int64]struct{})
}

func (s *Selection) Len() int { return len(s.ids) }

// IDs returns the selected IDs in selection order.
func (s *Selection) IDs() []int64 {
	return append([]int64(nil), s.ids...)
}

// Table is the view state of the entries table: active period, sort order
// and selection. Selection is independent of sort order.
type Table struct {
	Period    period.Period
	Sort      Sort
	Selection *Selection
}

func NewTable(p period.Period) *Table {
	return &Table{Period: p, Sort: DefaultSort, Selection: NewSelection()}
}

// SetPeriod switches the active period. A change of period clears the
// selection since the selected rows are no longer on screen.
func (t *Table) SetPeriod(p period.Period) {
	if p == t.Period {
		return
	}
	t.Period = p
	t.Selection.Clear()
}

// ClickColumn toggles sorting on col.
func (t *Table) ClickColumn(col Column) {
	t.Sort = t.Sort.Toggle(col)
}

// Rows returns the entries in display order.
func (t *Table) Rows(entries []core.Entry) []core.Entry {
	return t.Sort.Apply(entries)
}

// ToggleAll selects every visible entry, or clears the selection when
// all of them are already selected.
func (t *Table) ToggleAll(visible []core.Entry) {
	if len(visible) > 0 && t.AllSelected(visible) {
		t.Selection.Clear()
		return
	}
	for _, e := range visible {
		t.Selection.Add(e.ID)
	}
}

func (t *Table) AllSelected(visible []core.Entry) bool {
	if len(visible) == 0 {
		return false
	}
	for _, e := range visible {
		if !t.Selection.Has(e.ID) {
			return false
		}
	}
	return true
}

// Filter narrows an entry list. Empty sets match everything.
type Filter struct {
	Types []core.EntryType
	Apps  []core.App
	Query string
}

func (f Filter) Match(e core.Entry) bool {
	if len(f.Types) > 0 && !contains(f.Types, e.Type) {
		return false
	}
	if len(f.Apps) > 0 && !contains(f.Apps, e.App) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(e.Note), q) && !strings.Contains(strings.ToLower(e.OrderID), q) {
			return false
		}
	}
	return true
}

// Apply keeps entries that match, preserving order.
func (f Filter) Apply(entries []core.Entry) []core.Entry {
	out := make([]core.Entry, 0, len(entries))
	for _, e := range entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
