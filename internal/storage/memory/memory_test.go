package memory

import (
	"context"
	"testing"
	"time"

	"ninja/internal/core"
	"ninja/internal/points"
	"ninja/internal/storage"
	"ninja/internal/storage/storagetest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, now func() time.Time) storage.Repository {
		return NewStore(decimal.RequireFromString("0.67")).WithClock(now)
	})
}

func TestStore_DailyUsage(t *testing.T) {
	day := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s := NewStore(decimal.Zero).WithClock(func() time.Time { return day })

	_, err := s.UpdatePoints(context.Background(), "u1", func(p core.UserPoints) (core.UserPoints, int, bool) {
		next, res := points.CheckIn(p, day, time.UTC)
		return next, res.PointsEarned, !res.Already
	})
	require.NoError(t, err)
	require.Equal(t, map[string]int{"2025-03-10": 10}, s.DailyUsage("u1"))
}
