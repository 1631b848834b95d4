// Package achievements derives streaks, badges and levels from entry history.
//
// Evaluate is a pure function: callers pass the full history and a reference
// day, and get back a State that can be cached or recomputed freely.
package achievements

import (
	"time"

	"ninja/internal/aggregate"
	"ninja/internal/core"
	"ninja/internal/period"
)

// MaxLookbackDays bounds the backward green-streak walk.
const MaxLookbackDays = 365

type Level string

const (
	Beginner  Level = "Beginner"
	Hustler   Level = "Hustler"
	Boss      Level = "Boss"
	Legendary Level = "Legendary"
)

// levelLadder is ordered by threshold; the last matching rung wins.
var levelLadder = []struct {
	level   Level
	minDays int
}{
	{Beginner, 0},
	{Hustler, 7},
	{Boss, 30},
	{Legendary, 90},
}

// Counters are the inputs of every badge predicate.
type Counters struct {
	GreenStreak    int `json:"green_streak"`
	ProfitableDays int `json:"profitable_days"`
	GoalStreak     int `json:"goal_streak"`
}

type Badge struct {
	Icon      string `json:"icon"`
	Label     string `json:"label"`
	Condition string `json:"condition"`
	Unlocked  bool   `json:"unlocked"`
}

type badgeRule struct {
	icon, label, condition string
	unlocked               func(Counters) bool
}

var badgeTable = []badgeRule{
	{"✅", "Started Strong Today", "End day green", func(c Counters) bool { return c.ProfitableDays >= 1 }},
	{"💚", "Consistent Earner", "10 profitable days", func(c Counters) bool { return c.ProfitableDays >= 10 }},
	{"🔥", "7-Day Green Streak", "End 7 days green", func(c Counters) bool { return c.GreenStreak >= 7 }},
	{"⭐", "Week Champion", "Complete a green week", func(c Counters) bool { return c.GreenStreak >= 7 }},
	{"👑", "Month Master", "Complete a green month", func(c Counters) bool { return c.GreenStreak >= 30 }},
	{"🎯", "Goal Crusher", "Reach monthly goal", func(c Counters) bool { return c.GoalStreak > 0 }},
	{"🚀", "Legendary", "90-day streak", func(c Counters) bool { return c.GreenStreak >= 90 }},
}

// Input is everything Evaluate looks at.
type Input struct {
	Entries  []core.Entry
	Today    time.Time
	Location *time.Location
	// MonthProfit is the realized profit of the current calendar month.
	MonthProfit core.Money
	// MonthlyGoal is the THIS_MONTH goal target; zero means no goal.
	MonthlyGoal core.Money
}

type State struct {
	Counters
	Level           Level   `json:"level"`
	NextLevel       *Level  `json:"next_level,omitempty"`
	DaysToNextLevel int     `json:"days_to_next_level"`
	Badges          []Badge `json:"badges"`
	AllBadges       []Badge `json:"all_badges"`
}

// Evaluate computes the achievement state for in.Today.
func Evaluate(in Input) State {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	buckets := aggregate.DailyBuckets(in.Entries, loc)

	c := Counters{
		GreenStreak:    GreenStreak(aggregate.BucketIndex(buckets), in.Today, loc),
		ProfitableDays: ProfitableDays(buckets),
		GoalStreak:     GoalStreak(in.MonthProfit, in.MonthlyGoal),
	}

	s := State{Counters: c, Badges: []Badge{}}
	s.Level, s.NextLevel, s.DaysToNextLevel = LevelFor(c.GreenStreak)
	for _, r := range badgeTable {
		b := Badge{Icon: r.icon, Label: r.label, Condition: r.condition, Unlocked: r.unlocked(c)}
		s.AllBadges = append(s.AllBadges, b)
		if b.Unlocked {
			s.Badges = append(s.Badges, b)
		}
	}
	return s
}

// GreenStreak counts consecutive green days ending at today, walking back
// at most MaxLookbackDays. A day without entries ends the streak.
func GreenStreak(byDay map[string]aggregate.DayBucket, today time.Time, loc *time.Location) int {
	streak := 0
	for i := 0; i < MaxLookbackDays; i++ {
		key := period.ToZonedDateString(period.ShiftDays(today, -i, loc), loc)
		b, ok := byDay[key]
		if !ok || !b.Green() {
			break
		}
		streak++
	}
	return streak
}

// ProfitableDays counts green days over the whole history.
func ProfitableDays(buckets []aggregate.DayBucket) int {
	n := 0
	for _, b := range buckets {
		if b.Green() {
			n++
		}
	}
	return n
}

// GoalStreak is 1 when this month's profit meets a positive goal, else 0.
// It never counts past months.
func GoalStreak(monthProfit, goal core.Money) int {
	if goal.Cents > 0 && monthProfit.Cents >= goal.Cents {
		return 1
	}
	return 0
}

// LevelFor maps a green streak onto the level ladder.
func LevelFor(greenStreak int) (Level, *Level, int) {
	current := Beginner
	for i, rung := range levelLadder {
		if greenStreak < rung.minDays {
			next := levelLadder[i].level
			return current, &next, rung.minDays - greenStreak
		}
		current = rung.level
	}
	return current, nil, 0
}
