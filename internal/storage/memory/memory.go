// Package memory is an in-process storage.Repository used for development
// and tests. State is lost on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ninja/internal/core"
	"ninja/internal/points"
	"ninja/internal/storage"

	"github.com/shopspring/decimal"
)

type syncStatus int

const (
	statusPending syncStatus = iota
	statusSynced
	statusError
)

type record struct {
	entry   core.Entry
	version int64
	status  syncStatus
}

type Store struct {
	mu          sync.RWMutex
	nextID      int64
	entries     map[int64]*record
	goals       map[string]map[core.Timeframe]core.Goal
	settings    map[string]core.Settings
	points      map[string]core.UserPoints
	usage       map[string]map[string]int
	costPerMile decimal.Decimal
	now         func() time.Time
}

func NewStore(costPerMile decimal.Decimal) *Store {
	return &Store{
		entries:     make(map[int64]*record),
		goals:       make(map[string]map[core.Timeframe]core.Goal),
		settings:    make(map[string]core.Settings),
		points:      make(map[string]core.UserPoints),
		usage:       make(map[string]map[string]int),
		costPerMile: costPerMile,
		now:         time.Now,
	}
}

// WithClock replaces the store clock.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) stamp() time.Time {
	return time.UnixMilli(s.now().UTC().UnixMilli()).UTC()
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) CreateEntry(_ context.Context, userID string, e core.Entry) (core.Entry, error) {
	e.Normalize()
	if err := e.Validate(); err != nil {
		return core.Entry{}, fmt.Errorf("validate entry: %w", err)
	}
	// Match the millisecond precision of the SQLite backend.
	e.Timestamp = time.UnixMilli(e.Timestamp.UnixMilli()).UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	e.UserID = userID
	e.CreatedAt = s.stamp()
	e.UpdatedAt = e.CreatedAt
	s.entries[e.ID] = &record{entry: e, version: 1}
	return e, nil
}

func (s *Store) owned(userID string, id int64) (*record, error) {
	rec, ok := s.entries[id]
	if !ok || rec.entry.UserID != userID {
		return nil, fmt.Errorf("entry %d: %w", id, core.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) GetEntry(_ context.Context, userID string, id int64) (core.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.owned(userID, id)
	if err != nil {
		return core.Entry{}, err
	}
	return rec.entry, nil
}

func (s *Store) touch(rec *record) {
	rec.version++
	rec.status = statusPending
	rec.entry.UpdatedAt = s.stamp()
}

func (s *Store) UpdateEntry(_ context.Context, userID string, id int64, patch core.EntryPatch) (core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.owned(userID, id)
	if err != nil {
		return core.Entry{}, err
	}
	next := rec.entry
	next.Apply(patch)
	if err := next.Validate(); err != nil {
		return core.Entry{}, fmt.Errorf("validate entry: %w", err)
	}
	next.Timestamp = time.UnixMilli(next.Timestamp.UnixMilli()).UTC()
	rec.entry = next
	s.touch(rec)
	return rec.entry, nil
}

func (s *Store) DeleteEntry(_ context.Context, userID string, id int64) (core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.owned(userID, id)
	if err != nil {
		return core.Entry{}, err
	}
	delete(s.entries, id)
	return rec.entry, nil
}

func (s *Store) DeleteAllForUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.entries {
		if rec.entry.UserID == userID {
			delete(s.entries, id)
			n++
		}
	}
	delete(s.goals, userID)
	return n, nil
}

func newerFirst(a, b core.Entry) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID > b.ID
}

func (s *Store) ListEntries(_ context.Context, userID string, q storage.EntryQuery) ([]core.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cursor *core.Entry
	if q.Cursor > 0 {
		rec, err := s.owned(userID, q.Cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: %d", storage.ErrInvalidCursor, q.Cursor)
		}
		cursor = &rec.entry
	}

	out := []core.Entry{}
	for _, rec := range s.entries {
		e := rec.entry
		if e.UserID != userID {
			continue
		}
		if !q.From.IsZero() && e.Timestamp.UnixMilli() < q.From.UnixMilli() {
			continue
		}
		if !q.To.IsZero() && e.Timestamp.UnixMilli() > q.To.UnixMilli() {
			continue
		}
		if cursor != nil && !newerFirst(*cursor, e) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i], out[j]) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) SetReceiptURL(_ context.Context, userID string, id int64, url string) (core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.owned(userID, id)
	if err != nil {
		return core.Entry{}, err
	}
	rec.entry.ReceiptURL = url
	s.touch(rec)
	return rec.entry, nil
}

func (s *Store) GetGoal(_ context.Context, userID string, tf core.Timeframe) (core.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.goals[userID][tf]
	if !ok {
		return core.Goal{}, fmt.Errorf("goal %s: %w", tf, core.ErrNotFound)
	}
	return g, nil
}

func (s *Store) ListGoals(_ context.Context, userID string) ([]core.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []core.Goal{}
	for _, g := range s.goals[userID] {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timeframe < out[j].Timeframe })
	return out, nil
}

func (s *Store) UpsertGoal(_ context.Context, userID string, g core.Goal) (core.Goal, error) {
	if err := g.Validate(); err != nil {
		return core.Goal{}, fmt.Errorf("validate goal: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g.UpdatedAt = s.stamp()
	if s.goals[userID] == nil {
		s.goals[userID] = make(map[core.Timeframe]core.Goal)
	}
	s.goals[userID][g.Timeframe] = g
	return g, nil
}

func (s *Store) DeleteGoal(_ context.Context, userID string, tf core.Timeframe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.goals[userID], tf)
	return nil
}

func (s *Store) GetSettings(_ context.Context, userID string) (core.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settings[userID]
	if !ok {
		st = core.Settings{CostPerMile: core.Rate{Decimal: s.costPerMile}, UpdatedAt: s.stamp()}
		s.settings[userID] = st
	}
	return st, nil
}

func (s *Store) UpdateSettings(_ context.Context, userID string, st core.Settings) (core.Settings, error) {
	if err := st.Validate(); err != nil {
		return core.Settings{}, fmt.Errorf("validate settings: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st.UpdatedAt = s.stamp()
	s.settings[userID] = st
	return st, nil
}

func (s *Store) loadPoints(userID string) core.UserPoints {
	p, ok := s.points[userID]
	if !ok {
		p = core.UserPoints{TotalPoints: points.SignupPoints, SignupAt: s.stamp()}
		s.points[userID] = p
	}
	return p
}

func (s *Store) GetPoints(_ context.Context, userID string) (core.UserPoints, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadPoints(userID), nil
}

func (s *Store) UpdatePoints(_ context.Context, userID string, fn storage.PointsUpdate) (core.UserPoints, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.loadPoints(userID)
	next, earned, changed := fn(current)
	if !changed {
		return current, nil
	}
	next.SignupAt = current.SignupAt
	s.points[userID] = next
	if next.LastUsedDate != "" {
		if s.usage[userID] == nil {
			s.usage[userID] = make(map[string]int)
		}
		s.usage[userID][next.LastUsedDate] += earned
	}
	return next, nil
}

// DailyUsage returns the points earned per local date.
func (s *Store) DailyUsage(userID string) map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.usage[userID]))
	for k, v := range s.usage[userID] {
		out[k] = v
	}
	return out
}

func (s *Store) GetEntryByID(_ context.Context, id int64) (core.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.entries[id]
	if !ok {
		return core.Entry{}, fmt.Errorf("entry %d: %w", id, core.ErrNotFound)
	}
	return rec.entry, nil
}

func (s *Store) EntryVersion(_ context.Context, id int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.entries[id]
	if !ok {
		return 0, fmt.Errorf("entry %d: %w", id, core.ErrNotFound)
	}
	return rec.version, nil
}

func (s *Store) GetPendingSync(_ context.Context, limit int) ([]storage.PendingSync, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []storage.PendingSync{}
	for _, rec := range s.entries {
		if rec.status == statusSynced {
			continue
		}
		out = append(out, storage.PendingSync{
			ID:        rec.entry.ID,
			UserID:    rec.entry.UserID,
			Version:   rec.version,
			UpdatedAt: rec.entry.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkSynced(_ context.Context, id, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.entries[id]; ok && rec.version == version {
		rec.status = statusSynced
	}
	return nil
}

func (s *Store) MarkSyncError(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.entries[id]; ok {
		rec.status = statusError
	}
	return nil
}

var _ storage.Repository = (*Store)(nil)
