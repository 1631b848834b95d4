package http

import (
	"context"
	"fmt"
	"net/http"

	"ninja/internal/core"
	"ninja/internal/log"
)

func (s *Server) handleRollup(w http.ResponseWriter, r *http.Request) {
	window, err := s.resolveWindow(r, "")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	userID := userFrom(r.Context())
	s.cached(w, r, windowKey("rollup", window), func(ctx context.Context) (any, error) {
		return s.deps.Dashboard.Rollup(ctx, userID, window)
	})
}

// handleCalendar defaults to the current month.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	window, err := s.resolveWindow(r, core.ThisMonth)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	userID := userFrom(r.Context())
	s.cached(w, r, windowKey("calendar", window), func(ctx context.Context) (any, error) {
		return s.deps.Dashboard.Calendar(ctx, userID, window)
	})
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	window, err := s.resolveWindow(r, core.Today)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	userID := userFrom(r.Context())
	s.cached(w, r, windowKey("overview", window), func(ctx context.Context) (any, error) {
		return s.deps.Dashboard.Overview(ctx, userID, window)
	})
}

func (s *Server) handleAchievements(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context())
	s.cached(w, r, s.dayKey("achievements"), func(ctx context.Context) (any, error) {
		return s.deps.Dashboard.Achievements(ctx, userID)
	})
}

// handleExport streams the CSV download. It is never cached since the
// body carries the export time.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	window, err := s.resolveWindow(r, core.Today)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	export, err := s.deps.Dashboard.Export(ctx, userFrom(ctx), window)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.count(&s.appMetrics.exports)

	log.FromContext(ctx).InfoContext(ctx, "Entries exported",
		log.FieldOperation, log.OpExport,
		log.FieldTimeframe, string(window.Timeframe),
		"file", export.FileName)

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(export.Body)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	window, err := s.resolveWindow(r, "")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	userID := userFrom(r.Context())
	s.cached(w, r, windowKey("suggestions", window), func(ctx context.Context) (any, error) {
		return s.deps.Suggestions.Suggest(ctx, userID, window)
	})
}
