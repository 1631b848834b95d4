package services

import (
	"context"
	"testing"
	"time"

	"ninja/internal/core"
	"ninja/internal/points"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestProfileService_Goals(t *testing.T) {
	svc := NewProfileService(newMemoryStore(), time.UTC, fixedNow)
	ctx := context.Background()

	g, err := svc.GetGoal(ctx, "u1", core.ThisWeek)
	require.NoError(t, err)
	require.Nil(t, g, "missing goal is nil, not an error")

	_, err = svc.GetGoal(ctx, "u1", core.Timeframe("FOREVER"))
	require.ErrorIs(t, err, core.ErrInvalidTimeframe)

	saved, err := svc.SetGoal(ctx, "u1", core.Goal{Timeframe: core.ThisWeek, TargetProfit: core.Cents(50000)})
	require.NoError(t, err)
	require.Equal(t, int64(50000), saved.TargetProfit.Cents)

	_, err = svc.SetGoal(ctx, "u1", core.Goal{Timeframe: core.ThisWeek, TargetProfit: core.Cents(60000)})
	require.NoError(t, err)

	goals, err := svc.ListGoals(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, goals, 1)
	require.Equal(t, int64(60000), goals[0].TargetProfit.Cents)

	_, err = svc.SetGoal(ctx, "u1", core.Goal{Timeframe: core.ThisWeek, TargetProfit: core.Cents(-1)})
	require.ErrorIs(t, err, core.ErrInvalidAmount)

	require.NoError(t, svc.DeleteGoal(ctx, "u1", core.ThisWeek))
	require.NoError(t, svc.DeleteGoal(ctx, "u1", core.ThisWeek), "delete is idempotent")
	require.ErrorIs(t, svc.DeleteGoal(ctx, "u1", core.Timeframe("x")), core.ErrInvalidTimeframe)

	goals, err = svc.ListGoals(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, goals)
	require.Empty(t, goals)
}

func TestProfileService_Settings(t *testing.T) {
	svc := NewProfileService(newMemoryStore(), time.UTC, fixedNow)
	ctx := context.Background()

	st, err := svc.GetSettings(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "0.67", st.CostPerMile.String())

	rate, err := core.ParseRate("0.70")
	require.NoError(t, err)
	saved, err := svc.UpdateSettings(ctx, "u1", core.Settings{CostPerMile: rate})
	require.NoError(t, err)
	require.True(t, saved.CostPerMile.Equal(decimal.RequireFromString("0.7")))

	bad := core.Settings{CostPerMile: core.Rate{Decimal: decimal.NewFromInt(-1)}}
	_, err = svc.UpdateSettings(ctx, "u1", bad)
	require.ErrorIs(t, err, core.ErrInvalidRate)
}

func TestProfileService_PointsAndCheckIn(t *testing.T) {
	now := baseTime
	store := newMemoryStore()
	svc := NewProfileService(store, time.UTC, func() time.Time { return now })
	ctx := context.Background()

	p, err := svc.Points(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, points.SignupPoints, p.TotalPoints)
	require.Len(t, p.AllRewards, len(points.Rewards()))
	require.Len(t, p.UnlockedRewards, 1, "signup bonus unlocks the bronze badge")
	require.NotNil(t, p.NextRewardPoints)
	require.Equal(t, 250, *p.NextRewardPoints)

	res, err := svc.CheckIn(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 10, res.PointsEarned)
	require.Equal(t, 1, res.DailyStreak)
	require.Equal(t, 110, res.TotalPoints)

	again, err := svc.CheckIn(ctx, "u1")
	require.NoError(t, err)
	require.True(t, again.Already)
	require.Zero(t, again.PointsEarned)
	require.Equal(t, "Already checked in today", again.Message)

	now = now.AddDate(0, 0, 1)
	res, err = svc.CheckIn(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, res.DailyStreak)
	require.Equal(t, 11, res.PointsEarned)

	require.Equal(t, map[string]int{"2025-03-10": 10, "2025-03-11": 11}, store.DailyUsage("u1"))

	now = now.AddDate(0, 0, 3)
	res, err = svc.CheckIn(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, res.DailyStreak, "a gap resets the streak")
}

func TestProfileService_Rewards(t *testing.T) {
	svc := NewProfileService(newMemoryStore(), nil, nil)
	require.Equal(t, points.Rewards(), svc.Rewards())
}
