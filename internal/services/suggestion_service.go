package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ninja/internal/core"
	"ninja/internal/storage"
	"ninja/internal/suggestions"
)

// EntryLister is the single read suggestions need.
type EntryLister interface {
	ListEntries(ctx context.Context, userID string, q storage.EntryQuery) ([]core.Entry, error)
}

// SuggestionService turns a window of orders into an earning tip.
type SuggestionService struct {
	store EntryLister
	gen   suggestions.Generator
	loc   *time.Location
}

// NewSuggestionService wires the service. gen may be nil for rule based tips only.
func NewSuggestionService(store EntryLister, gen suggestions.Generator, loc *time.Location) *SuggestionService {
	if loc == nil {
		loc = time.UTC
	}
	return &SuggestionService{store: store, gen: gen, loc: loc}
}

func (s *SuggestionService) Suggest(ctx context.Context, userID string, w Window) (suggestions.Result, error) {
	entries, err := s.store.ListEntries(ctx, userID, w.Query())
	if err != nil {
		return suggestions.Result{}, fmt.Errorf("list entries: %w", err)
	}
	res := suggestions.Suggest(ctx, entries, s.loc, s.gen)
	slog.DebugContext(ctx, "Suggestion generated",
		"user_id", userID,
		"orders", res.TotalOrders,
		"source", res.Source)
	return res, nil
}
