package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ninja/internal/core"
	"ninja/internal/points"
	"ninja/internal/storage"
)

// ProfileStore covers goals, settings and the points ledger.
type ProfileStore interface {
	storage.GoalStore
	storage.SettingsStore
	storage.PointsStore
}

// PointsSummary is the points ledger with its reward progress.
type PointsSummary struct {
	core.UserPoints
	UnlockedRewards  []points.Reward `json:"unlocked_rewards"`
	AllRewards       []points.Reward `json:"all_rewards"`
	NextRewardPoints *int            `json:"next_reward_points"`
}

// ProfileService manages per-user goals, settings and points.
type ProfileService struct {
	store ProfileStore
	loc   *time.Location
	now   func() time.Time
}

func NewProfileService(store ProfileStore, loc *time.Location, now func() time.Time) *ProfileService {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &ProfileService{store: store, loc: loc, now: now}
}

func (s *ProfileService) ListGoals(ctx context.Context, userID string) ([]core.Goal, error) {
	goals, err := s.store.ListGoals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	if goals == nil {
		goals = []core.Goal{}
	}
	return goals, nil
}

// GetGoal returns nil when the timeframe has no goal yet.
func (s *ProfileService) GetGoal(ctx context.Context, userID string, tf core.Timeframe) (*core.Goal, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidTimeframe, tf)
	}
	g, err := s.store.GetGoal(ctx, userID, tf)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get goal %s: %w", tf, err)
	}
	return &g, nil
}

func (s *ProfileService) SetGoal(ctx context.Context, userID string, g core.Goal) (core.Goal, error) {
	if err := g.Validate(); err != nil {
		return core.Goal{}, err
	}
	saved, err := s.store.UpsertGoal(ctx, userID, g)
	if err != nil {
		return core.Goal{}, fmt.Errorf("save goal %s: %w", g.Timeframe, err)
	}
	slog.InfoContext(ctx, "Goal saved",
		"user_id", userID,
		"timeframe", saved.Timeframe,
		"target_profit", saved.TargetProfit.String())
	return saved, nil
}

// DeleteGoal is idempotent.
func (s *ProfileService) DeleteGoal(ctx context.Context, userID string, tf core.Timeframe) error {
	if !tf.Valid() {
		return fmt.Errorf("%w: %q", core.ErrInvalidTimeframe, tf)
	}
	if err := s.store.DeleteGoal(ctx, userID, tf); err != nil && !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("delete goal %s: %w", tf, err)
	}
	return nil
}

func (s *ProfileService) GetSettings(ctx context.Context, userID string) (core.Settings, error) {
	st, err := s.store.GetSettings(ctx, userID)
	if err != nil {
		return core.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return st, nil
}

func (s *ProfileService) UpdateSettings(ctx context.Context, userID string, st core.Settings) (core.Settings, error) {
	if err := st.Validate(); err != nil {
		return core.Settings{}, err
	}
	saved, err := s.store.UpdateSettings(ctx, userID, st)
	if err != nil {
		return core.Settings{}, fmt.Errorf("update settings: %w", err)
	}
	slog.InfoContext(ctx, "Settings updated",
		"user_id", userID,
		"cost_per_mile", saved.CostPerMile.String())
	return saved, nil
}

// Points returns the ledger, creating it with the signup bonus on first use.
func (s *ProfileService) Points(ctx context.Context, userID string) (PointsSummary, error) {
	p, err := s.store.GetPoints(ctx, userID)
	if err != nil {
		return PointsSummary{}, fmt.Errorf("get points: %w", err)
	}
	return PointsSummary{
		UserPoints:       p,
		UnlockedRewards:  points.Unlocked(p),
		AllRewards:       points.Rewards(),
		NextRewardPoints: points.NextRewardPoints(p.TotalPoints),
	}, nil
}

// CheckIn records today's visit. A repeated check-in on the same local day
// reports Already and earns nothing.
func (s *ProfileService) CheckIn(ctx context.Context, userID string) (points.CheckInResult, error) {
	now := s.now()
	var result points.CheckInResult
	_, err := s.store.UpdatePoints(ctx, userID, func(cur core.UserPoints) (core.UserPoints, int, bool) {
		next, res := points.CheckIn(cur, now, s.loc)
		result = res
		return next, res.PointsEarned, !res.Already
	})
	if err != nil {
		return points.CheckInResult{}, fmt.Errorf("check in: %w", err)
	}
	if !result.Already {
		slog.InfoContext(ctx, "Daily check-in",
			"user_id", userID,
			"points_earned", result.PointsEarned,
			"daily_streak", result.DailyStreak)
	}
	return result, nil
}

// Rewards is the static reward table.
func (s *ProfileService) Rewards() []points.Reward {
	return points.Rewards()
}
