package http

import (
	"context"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"ninja/internal/log"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady pings storage with a short deadline.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health.Ping(ctx); err != nil {
			s.logger.WarnContext(ctx, "Readiness check failed",
				log.FieldError, err.Error(),
				log.FieldErrorType, log.ErrorTypeDatabase)
			writeError(w, r, http.StatusServiceUnavailable, "not_ready", "storage unavailable")
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

type metricsResponse struct {
	HTTP      any            `json:"http"`
	Security  any            `json:"security"`
	RateLimit any            `json:"rate_limit,omitempty"`
	Cache     map[string]any `json:"cache"`
	App       map[string]any `json:"app"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := metricsResponse{
		HTTP:     s.tracer.GetMetrics(),
		Security: s.detector.GetMetrics(),
		Cache: map[string]any{
			"responses": s.responses.Stats(),
			"pages":     s.pageCache.Stats(),
		},
		App: map[string]any{
			"entries_created": atomic.LoadInt64(&s.appMetrics.entriesCreated),
			"entries_updated": atomic.LoadInt64(&s.appMetrics.entriesUpdated),
			"entries_deleted": atomic.LoadInt64(&s.appMetrics.entriesDeleted),
			"receipts":        atomic.LoadInt64(&s.appMetrics.receipts),
			"check_ins":       atomic.LoadInt64(&s.appMetrics.checkIns),
			"exports":         atomic.LoadInt64(&s.appMetrics.exports),
		},
	}
	if s.limiter != nil {
		m.RateLimit = s.limiter.GetMetrics()
	}
	writeJSON(w, http.StatusOK, m)
}

// handleReceipt serves a stored receipt file by its generated name.
func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	if s.deps.Receipts == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "not found")
		return
	}
	path, contentType, err := s.deps.Receipts.Path(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, http.StatusNotFound, "not_found", "not found")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "not_found", "not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
