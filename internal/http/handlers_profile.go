package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ninja/internal/core"
	"ninja/internal/log"
)

func (s *Server) handleListGoals(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context())
	s.cached(w, r, "goals", func(ctx context.Context) (any, error) {
		return s.deps.Profile.ListGoals(ctx, userID)
	})
}

// handleGetGoal answers null when the timeframe has no goal.
func (s *Server) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	tf, err := core.ParseTimeframe(chi.URLParam(r, "timeframe"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	userID := userFrom(r.Context())
	s.cached(w, r, "goal/"+string(tf), func(ctx context.Context) (any, error) {
		return s.deps.Profile.GetGoal(ctx, userID, tf)
	})
}

// handleSetGoal serves both POST /goals and PUT /goals/{timeframe}; the
// path wins over the body when both name a timeframe.
func (s *Server) handleSetGoal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req goalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if p := chi.URLParam(r, "timeframe"); p != "" {
		req.Timeframe = p
	}
	tf, err := core.ParseTimeframe(req.Timeframe)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if req.TargetProfit == nil {
		s.writeServiceError(w, r, fmt.Errorf("%w: target_profit is required", core.ErrInvalidAmount))
		return
	}

	userID := userFrom(ctx)
	goal, err := s.deps.Profile.SetGoal(ctx, userID, core.Goal{Timeframe: tf, TargetProfit: *req.TargetProfit})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.invalidateUser(ctx, userID)

	log.FromContext(ctx).InfoContext(ctx, "Goal saved",
		log.FieldTimeframe, string(tf),
		log.FieldAmount, goal.TargetProfit.String())
	writeJSON(w, http.StatusOK, goal)
}

func (s *Server) handleDeleteGoal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tf, err := core.ParseTimeframe(chi.URLParam(r, "timeframe"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	userID := userFrom(ctx)
	if err := s.deps.Profile.DeleteGoal(ctx, userID, tf); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.invalidateUser(ctx, userID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context())
	s.cached(w, r, "settings", func(ctx context.Context) (any, error) {
		return s.deps.Profile.GetSettings(ctx, userID)
	})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req settingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if req.CostPerMile == nil {
		s.writeServiceError(w, r, fmt.Errorf("%w: cost_per_mile is required", core.ErrInvalidRate))
		return
	}

	userID := userFrom(ctx)
	st, err := s.deps.Profile.UpdateSettings(ctx, userID, core.Settings{CostPerMile: *req.CostPerMile})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	// Every rollup depends on the rate.
	s.invalidateUser(ctx, userID)

	log.FromContext(ctx).InfoContext(ctx, "Settings updated",
		log.FieldOperation, log.OpUpdate,
		"cost_per_mile", st.CostPerMile.String())
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context())
	s.cached(w, r, s.dayKey("points"), func(ctx context.Context) (any, error) {
		return s.deps.Profile.Points(ctx, userID)
	})
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userFrom(ctx)
	res, err := s.deps.Profile.CheckIn(ctx, userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if !res.Already {
		s.count(&s.appMetrics.checkIns)
		s.invalidateUser(ctx, userID)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRewards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Profile.Rewards())
}
