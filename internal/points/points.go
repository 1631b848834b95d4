// Package points implements the daily check-in reward scheme.
package points

import (
	"fmt"
	"time"

	"ninja/internal/core"
	"ninja/internal/period"
)

const (
	// SignupPoints is credited when a user's points ledger is created.
	SignupPoints = 100
	// DailyPoints is the base award of a check-in.
	DailyPoints = 10
)

type RewardKind string

const (
	KindPoints RewardKind = "points"
	KindStreak RewardKind = "streak"
)

// Reward is unlocked once its threshold is reached. Points rewards are
// measured against total points, streak rewards against the daily streak.
type Reward struct {
	Points      int        `json:"points"`
	Name        string     `json:"name"`
	Emoji       string     `json:"emoji"`
	Description string     `json:"description"`
	Kind        RewardKind `json:"kind"`
}

var rewards = []Reward{
	{100, "Bronze Badge", "🥉", "100 points milestone", KindPoints},
	{250, "Silver Badge", "🥈", "250 points milestone", KindPoints},
	{500, "Gold Badge", "🥇", "500 points milestone", KindPoints},
	{1000, "Platinum Badge", "💎", "1000 points milestone", KindPoints},
	{5, "5-Day Streak", "🔥", "5 consecutive days", KindStreak},
	{10, "10-Day Streak", "⚡", "10 consecutive days", KindStreak},
	{30, "Monthly Master", "👑", "30 consecutive days", KindStreak},
}

// Rewards returns the full reward table.
func Rewards() []Reward { return append([]Reward(nil), rewards...) }

func (r Reward) reached(total, streak int) bool {
	if r.Kind == KindStreak {
		return streak >= r.Points
	}
	return total >= r.Points
}

// Unlocked lists every reward the ledger has reached.
func Unlocked(p core.UserPoints) []Reward {
	out := []Reward{}
	for _, r := range rewards {
		if r.reached(p.TotalPoints, p.DailyStreak) {
			out = append(out, r)
		}
	}
	return out
}

// NextRewardPoints is the smallest points threshold above total, or nil
// once every points reward is unlocked.
func NextRewardPoints(total int) *int {
	var next *int
	for _, r := range rewards {
		if r.Kind != KindPoints || r.Points <= total {
			continue
		}
		if next == nil || r.Points < *next {
			v := r.Points
			next = &v
		}
	}
	return next
}

// Award is the check-in award for a given streak length:
// the base plus ten percent per extra streak day.
func Award(streak int) int {
	if streak < 1 {
		streak = 1
	}
	return DailyPoints * (9 + streak) / 10
}

// CheckInResult describes what a check-in did.
type CheckInResult struct {
	PointsEarned int      `json:"points_earned"`
	TotalPoints  int      `json:"total_points"`
	DailyStreak  int      `json:"daily_streak"`
	NewRewards   []Reward `json:"new_rewards"`
	Message      string   `json:"message"`
	Already      bool     `json:"already_checked_in"`
}

// CheckIn applies a check-in on the local day containing now. The streak
// continues only when the previous check-in was the day before; a second
// check-in on the same day earns nothing.
func CheckIn(p core.UserPoints, now time.Time, loc *time.Location) (core.UserPoints, CheckInResult) {
	today := period.ToZonedDateString(now, loc)
	if p.LastUsedDate == today {
		return p, CheckInResult{
			TotalPoints: p.TotalPoints,
			DailyStreak: p.DailyStreak,
			NewRewards:  []Reward{},
			Message:     "Already checked in today",
			Already:     true,
		}
	}

	yesterday := period.ToZonedDateString(period.ShiftDays(now, -1, loc), loc)
	next := p
	if p.LastUsedDate == yesterday {
		next.DailyStreak++
	} else {
		next.DailyStreak = 1
	}
	earned := Award(next.DailyStreak)
	next.TotalPoints += earned
	next.LastUsedDate = today

	return next, CheckInResult{
		PointsEarned: earned,
		TotalPoints:  next.TotalPoints,
		DailyStreak:  next.DailyStreak,
		NewRewards:   crossed(p, next),
		Message:      fmt.Sprintf("Great! +%d points (Streak: %d days)", earned, next.DailyStreak),
	}
}

// crossed lists rewards reached by after but not by before.
func crossed(before, after core.UserPoints) []Reward {
	out := []Reward{}
	for _, r := range rewards {
		if !r.reached(before.TotalPoints, before.DailyStreak) && r.reached(after.TotalPoints, after.DailyStreak) {
			out = append(out, r)
		}
	}
	return out
}
