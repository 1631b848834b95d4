package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ninja/internal/achievements"
	"ninja/internal/aggregate"
	"ninja/internal/core"
	"ninja/internal/export"
	"ninja/internal/period"
	"ninja/internal/storage"

	"golang.org/x/sync/errgroup"
)

// OverviewEntryLimit caps the entries returned with the overview.
const OverviewEntryLimit = 100

// DashboardStore is the read side the dashboard needs.
type DashboardStore interface {
	ListEntries(ctx context.Context, userID string, q storage.EntryQuery) ([]core.Entry, error)
	GetSettings(ctx context.Context, userID string) (core.Settings, error)
	GetGoal(ctx context.Context, userID string, tf core.Timeframe) (core.Goal, error)
}

// Overview bundles what the dashboard renders in one round trip.
type Overview struct {
	Entries   []core.Entry     `json:"entries"`
	Rollup    aggregate.Rollup `json:"rollup"`
	Timeframe core.Timeframe   `json:"timeframe"`
}

// Export is a rendered CSV download.
type Export struct {
	FileName string
	Body     []byte
}

// DashboardService computes rollups, calendars, achievements and exports.
type DashboardService struct {
	store DashboardStore
	loc   *time.Location
	now   func() time.Time
}

func NewDashboardService(store DashboardStore, loc *time.Location, now func() time.Time) *DashboardService {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &DashboardService{store: store, loc: loc, now: now}
}

// Resolve applies the service clock and zone to q.
func (s *DashboardService) Resolve(q WindowQuery, fallback core.Timeframe) (Window, error) {
	return ResolveWindow(q, fallback, s.now(), s.loc)
}

// snapshot is the concurrent read behind rollups and the overview.
type snapshot struct {
	entries  []core.Entry
	settings core.Settings
	goal     *core.Goal
}

func (s *DashboardService) load(ctx context.Context, userID string, w Window) (snapshot, error) {
	var snap snapshot
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		entries, err := s.store.ListEntries(gctx, userID, w.Query())
		if err != nil {
			return fmt.Errorf("list entries: %w", err)
		}
		snap.entries = entries
		return nil
	})
	g.Go(func() error {
		settings, err := s.store.GetSettings(gctx, userID)
		if err != nil {
			return fmt.Errorf("get settings: %w", err)
		}
		snap.settings = settings
		return nil
	})
	if w.Timeframe != "" {
		g.Go(func() error {
			goal, err := s.store.GetGoal(gctx, userID, w.Timeframe)
			if errors.Is(err, core.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("get goal: %w", err)
			}
			snap.goal = &goal
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return snapshot{}, err
	}
	return snap, nil
}

func (snap snapshot) rollup(w Window) aggregate.Rollup {
	return aggregate.NewRollup(snap.entries, aggregate.RollupOptions{
		CostPerMile: snap.settings.CostPerMile,
		Goal:        snap.goal,
		Timeframe:   w.Timeframe,
		From:        w.Range.From,
		To:          w.Range.To,
	})
}

// Rollup aggregates the window. Without a timeframe or bounds it covers
// the whole history.
func (s *DashboardService) Rollup(ctx context.Context, userID string, w Window) (aggregate.Rollup, error) {
	snap, err := s.load(ctx, userID, w)
	if err != nil {
		return aggregate.Rollup{}, err
	}
	r := snap.rollup(w)
	slog.DebugContext(ctx, "Rollup computed",
		"user_id", userID,
		"timeframe", w.Timeframe,
		"entries", r.EntryCount)
	return r, nil
}

// Overview returns the newest entries of the window with its rollup.
func (s *DashboardService) Overview(ctx context.Context, userID string, w Window) (Overview, error) {
	snap, err := s.load(ctx, userID, w)
	if err != nil {
		return Overview{}, err
	}
	entries := snap.entries
	if len(entries) > OverviewEntryLimit {
		entries = entries[:OverviewEntryLimit]
	}
	if entries == nil {
		entries = []core.Entry{}
	}
	return Overview{Entries: entries, Rollup: snap.rollup(w), Timeframe: w.Timeframe}, nil
}

// Calendar buckets the window by local day.
func (s *DashboardService) Calendar(ctx context.Context, userID string, w Window) ([]aggregate.DayBucket, error) {
	entries, err := s.store.ListEntries(ctx, userID, w.Query())
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	buckets := aggregate.DailyBuckets(entries, s.loc)
	if buckets == nil {
		buckets = []aggregate.DayBucket{}
	}
	return buckets, nil
}

// Achievements evaluates streaks and badges over the whole history.
func (s *DashboardService) Achievements(ctx context.Context, userID string) (achievements.State, error) {
	now := s.now()
	month, err := period.Bounds(period.Month, now, s.loc)
	if err != nil {
		return achievements.State{}, err
	}

	var (
		history []core.Entry
		goal    core.Money
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		entries, err := s.store.ListEntries(gctx, userID, storage.EntryQuery{})
		if err != nil {
			return fmt.Errorf("list entries: %w", err)
		}
		history = entries
		return nil
	})
	g.Go(func() error {
		gl, err := s.store.GetGoal(gctx, userID, core.ThisMonth)
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get monthly goal: %w", err)
		}
		goal = gl.TargetProfit
		return nil
	})
	if err := g.Wait(); err != nil {
		return achievements.State{}, err
	}

	var inMonth []core.Entry
	for _, e := range history {
		if month.Contains(e.Timestamp) {
			inMonth = append(inMonth, e)
		}
	}

	return achievements.Evaluate(achievements.Input{
		Entries:     history,
		Today:       now,
		Location:    s.loc,
		MonthProfit: aggregate.Summarize(inMonth).Profit,
		MonthlyGoal: goal,
	}), nil
}

// Export renders the window as a CSV document.
func (s *DashboardService) Export(ctx context.Context, userID string, w Window) (Export, error) {
	entries, err := s.store.ListEntries(ctx, userID, w.Query())
	if err != nil {
		return Export{}, fmt.Errorf("list entries: %w", err)
	}
	t := aggregate.Summarize(entries)
	now := s.now()
	label := w.label(s.loc)

	body, err := export.Bytes(export.Document{
		Timeframe: label,
		Summary: export.Summary{
			Revenue:  t.Revenue,
			Expenses: t.Expenses,
			Profit:   t.Profit,
			Miles:    t.Miles,
		},
		Entries:     entries,
		GeneratedAt: now,
		Location:    s.loc,
	})
	if err != nil {
		return Export{}, fmt.Errorf("render export: %w", err)
	}

	slog.InfoContext(ctx, "Export generated",
		"user_id", userID,
		"timeframe", label,
		"entries", len(entries))
	return Export{FileName: export.FileName(label, now, s.loc), Body: body}, nil
}
