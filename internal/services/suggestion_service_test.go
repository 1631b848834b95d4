package services

import (
	"context"
	"testing"
	"time"

	"ninja/internal/core"
	"ninja/internal/suggestions"

	"github.com/stretchr/testify/require"
)

type cannedGenerator struct{ prompts int }

func (g *cannedGenerator) Generate(context.Context, string) (string, error) {
	g.prompts++
	return "Stay near the mall after 6 PM.", nil
}

func TestSuggestionService_Suggest(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	for _, cents := range []int64{800, 1200, 1000} {
		_, err := store.CreateEntry(ctx, "u1", order(cents, baseTime))
		require.NoError(t, err)
	}
	_, err := store.CreateEntry(ctx, "u1", order(9900, baseTime.AddDate(0, -1, 0)))
	require.NoError(t, err)

	gen := &cannedGenerator{}
	svc := NewSuggestionService(store, gen, time.UTC)
	w, err := ResolveWindow(WindowQuery{Timeframe: "TODAY"}, "", baseTime, time.UTC)
	require.NoError(t, err)

	res, err := svc.Suggest(ctx, "u1", w)
	require.NoError(t, err)
	require.Equal(t, 3, res.TotalOrders)
	require.Equal(t, "10.00", res.AverageOrder)
	require.Equal(t, "8.00", res.MinimumOrder)
	require.Equal(t, "12 PM - 1 PM", res.PeakTime)
	require.Equal(t, suggestions.SourceLLM, res.Source)
	require.Equal(t, 1, gen.prompts)
}

func TestSuggestionService_RulesWithoutGenerator(t *testing.T) {
	store := newMemoryStore()
	_, err := store.CreateEntry(context.Background(), "u1", core.Entry{
		Type: core.Order, App: core.Shipt, Amount: core.Cents(1500), Timestamp: baseTime,
	})
	require.NoError(t, err)

	svc := NewSuggestionService(store, nil, time.UTC)
	res, err := svc.Suggest(context.Background(), "u1", Window{})
	require.NoError(t, err)
	require.Equal(t, suggestions.SourceRules, res.Source)
	require.Contains(t, res.Suggestion, "$15.00")
}
