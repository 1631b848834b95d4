package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ninja/internal/achievements"
	"ninja/internal/core"
	"ninja/internal/storage"

	"github.com/stretchr/testify/require"
)

// seedDashboard stores a small history around baseTime (Monday 2025-03-10):
// today ORDER 50 + EXPENSE 20, yesterday ORDER 30, last month ORDER 10.
func seedDashboard(t *testing.T) (*DashboardService, storage.Repository) {
	t.Helper()
	store := newMemoryStore()
	ctx := context.Background()

	entries := []core.Entry{
		{Type: core.Order, App: core.DoorDash, Amount: core.Cents(5000), DistanceMiles: 10, DurationMinutes: 60, Timestamp: baseTime.Add(-2 * time.Hour)},
		{Type: core.Expense, Category: core.Gas, Amount: core.Cents(2000), Timestamp: baseTime.Add(-time.Hour)},
		{Type: core.Order, App: core.UberEats, Amount: core.Cents(3000), Timestamp: baseTime.AddDate(0, 0, -1)},
		{Type: core.Order, App: core.Grubhub, Amount: core.Cents(1000), Timestamp: time.Date(2025, 2, 20, 12, 0, 0, 0, time.UTC)},
	}
	for _, e := range entries {
		_, err := store.CreateEntry(ctx, "u1", e)
		require.NoError(t, err)
	}
	return NewDashboardService(store, time.UTC, fixedNow), store
}

func resolve(t *testing.T, svc *DashboardService, q WindowQuery, fallback core.Timeframe) Window {
	t.Helper()
	w, err := svc.Resolve(q, fallback)
	require.NoError(t, err)
	return w
}

func TestDashboardService_RollupToday(t *testing.T) {
	svc, store := seedDashboard(t)
	ctx := context.Background()
	_, err := store.UpsertGoal(ctx, "u1", core.Goal{Timeframe: core.Today, TargetProfit: core.Cents(6000)})
	require.NoError(t, err)

	r, err := svc.Rollup(ctx, "u1", resolve(t, svc, WindowQuery{Timeframe: "TODAY"}, ""))
	require.NoError(t, err)

	require.Equal(t, int64(5000), r.Revenue.Cents)
	require.Equal(t, int64(2000), r.Expenses.Cents)
	require.Equal(t, int64(3000), r.Profit.Cents)
	require.Equal(t, 2, r.EntryCount)
	require.Equal(t, int64(500), r.DollarsPerMile.Cents)
	require.Equal(t, int64(5000), r.DollarsPerHour.Cents)
	require.Equal(t, int64(670), r.MileageCost.Cents)
	require.Equal(t, int64(2330), r.NetAfterMileage.Cents)
	require.NotNil(t, r.GoalProgress)
	require.Equal(t, 50.0, *r.GoalProgress)
	require.Equal(t, core.Today, r.Timeframe)
}

func TestDashboardService_RollupWindows(t *testing.T) {
	svc, _ := seedDashboard(t)
	ctx := context.Background()

	cases := []struct {
		q       WindowQuery
		revenue int64
		count   int
	}{
		{WindowQuery{}, 9000, 4},
		{WindowQuery{Timeframe: "TODAY", DayOffset: -1}, 3000, 1},
		{WindowQuery{Timeframe: "THIS_MONTH"}, 8000, 3},
		{WindowQuery{Timeframe: "LAST_MONTH"}, 1000, 1},
		{WindowQuery{From: "2025-03-09"}, 8000, 3},
		{WindowQuery{To: "2025-03-09"}, 4000, 2},
	}
	for i, tc := range cases {
		r, err := svc.Rollup(ctx, "u1", resolve(t, svc, tc.q, ""))
		require.NoError(t, err)
		if r.Revenue.Cents != tc.revenue || r.EntryCount != tc.count {
			t.Fatalf("case %d expected revenue %d over %d entries, got %d over %d",
				i, tc.revenue, tc.count, r.Revenue.Cents, r.EntryCount)
		}
		if r.GoalProgress != nil {
			t.Fatalf("case %d expected no goal progress", i)
		}
	}
}

func TestDashboardService_OverviewDefaultsToToday(t *testing.T) {
	svc, _ := seedDashboard(t)

	ov, err := svc.Overview(context.Background(), "u1", resolve(t, svc, WindowQuery{}, core.Today))
	require.NoError(t, err)
	require.Equal(t, core.Today, ov.Timeframe)
	require.Len(t, ov.Entries, 2)
	require.Equal(t, core.Expense, ov.Entries[0].Type, "newest first")
	require.Equal(t, int64(3000), ov.Rollup.Profit.Cents)
}

func TestDashboardService_OverviewCapsEntries(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	for i := 0; i < OverviewEntryLimit+5; i++ {
		_, err := store.CreateEntry(ctx, "u1", order(100, baseTime.Add(-time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	svc := NewDashboardService(store, time.UTC, fixedNow)

	ov, err := svc.Overview(ctx, "u1", resolve(t, svc, WindowQuery{}, core.Today))
	require.NoError(t, err)
	require.Len(t, ov.Entries, OverviewEntryLimit)
	require.Equal(t, OverviewEntryLimit+5, ov.Rollup.EntryCount, "rollup covers the whole window")
}

func TestDashboardService_OverviewEmpty(t *testing.T) {
	svc := NewDashboardService(newMemoryStore(), time.UTC, fixedNow)
	ov, err := svc.Overview(context.Background(), "nobody", resolve(t, svc, WindowQuery{}, core.Today))
	require.NoError(t, err)
	require.NotNil(t, ov.Entries)
	require.Empty(t, ov.Entries)
}

func TestDashboardService_Calendar(t *testing.T) {
	svc, _ := seedDashboard(t)

	buckets, err := svc.Calendar(context.Background(), "u1", resolve(t, svc, WindowQuery{}, core.ThisMonth))
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	require.Equal(t, "2025-03-09", buckets[0].Date)
	require.Equal(t, "2025-03-10", buckets[1].Date)
	require.Equal(t, int64(3000), buckets[1].Profit.Cents)
	require.True(t, buckets[1].Green())
}

func TestDashboardService_Achievements(t *testing.T) {
	svc, store := seedDashboard(t)
	ctx := context.Background()
	_, err := store.UpsertGoal(ctx, "u1", core.Goal{Timeframe: core.ThisMonth, TargetProfit: core.Cents(5000)})
	require.NoError(t, err)

	st, err := svc.Achievements(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, st.GreenStreak)
	require.Equal(t, 3, st.ProfitableDays)
	require.Equal(t, 1, st.GoalStreak)
	require.Equal(t, achievements.Beginner, st.Level)

	labels := make([]string, len(st.Badges))
	for i, b := range st.Badges {
		labels[i] = b.Label
	}
	require.Contains(t, labels, "Goal Crusher")
	require.NotContains(t, labels, "7-Day Green Streak")
}

func TestDashboardService_AchievementsEmptyHistory(t *testing.T) {
	svc := NewDashboardService(newMemoryStore(), time.UTC, fixedNow)
	st, err := svc.Achievements(context.Background(), "u1")
	require.NoError(t, err)
	require.Zero(t, st.GreenStreak)
	require.Equal(t, achievements.Beginner, st.Level)
	require.Empty(t, st.Badges)
}

func TestDashboardService_Export(t *testing.T) {
	svc, _ := seedDashboard(t)

	out, err := svc.Export(context.Background(), "u1", resolve(t, svc, WindowQuery{}, core.Today))
	require.NoError(t, err)
	require.Equal(t, "earnings-pro-today-2025-03-10.csv", out.FileName)

	body := string(out.Body)
	require.True(t, strings.HasPrefix(body, "EARNINGS PRO - DATA EXPORT\n"))
	require.Contains(t, body, "Timeframe,Today\n")
	require.Contains(t, body, "Profit,$30.00\n")
	require.Contains(t, body, "EXPENSE,GAS,$20.00")
}

type failingStore struct{ storage.Repository }

func (failingStore) ListEntries(context.Context, string, storage.EntryQuery) ([]core.Entry, error) {
	return nil, errors.New("disk on fire")
}

func TestDashboardService_PropagatesStoreErrors(t *testing.T) {
	svc := NewDashboardService(failingStore{newMemoryStore()}, time.UTC, fixedNow)
	ctx := context.Background()
	w := resolve(t, svc, WindowQuery{}, core.Today)

	_, err := svc.Rollup(ctx, "u1", w)
	require.ErrorContains(t, err, "disk on fire")
	_, err = svc.Overview(ctx, "u1", w)
	require.Error(t, err)
	_, err = svc.Achievements(ctx, "u1")
	require.Error(t, err)
	_, err = svc.Export(ctx, "u1", w)
	require.Error(t, err)
}
