package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ninja/internal/core"
	"ninja/internal/sheets"
)

// Mirror is an in-process sheets.EntryMirror.
type Mirror struct {
	mu   sync.Mutex
	loc  *time.Location
	rows map[int64][]any
}

func New(loc *time.Location) *Mirror {
	return &Mirror{loc: loc, rows: make(map[int64][]any)}
}

// UpsertEntry stores the rendered row and returns a synthetic row reference.
func (m *Mirror) UpsertEntry(_ context.Context, e core.Entry) (string, error) {
	if e.ID <= 0 {
		return "", fmt.Errorf("upsert entry: %w", core.ErrNotFound)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[e.ID] = sheets.EntryRow(e, m.loc)
	return fmt.Sprintf("mem:%d", e.ID), nil
}

func (m *Mirror) DeleteEntry(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *Mirror) PurgeUser(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, row := range m.rows {
		if row[1] == userID {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

// Row returns the stored row for an entry.
func (m *Mirror) Row(id int64) ([]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	return row, ok
}

// IDs lists mirrored entry IDs in ascending order.
func (m *Mirror) IDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, 0, len(m.rows))
	for id := range m.rows {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var _ sheets.EntryMirror = (*Mirror)(nil)
