// Package http serves the Earnings Ninja REST API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ninja/internal/cache"
	"ninja/internal/config"
	"ninja/internal/core"
	"ninja/internal/log"
	"ninja/internal/middleware/ratelimit"
	"ninja/internal/middleware/security"
	"ninja/internal/middleware/trace"
	"ninja/internal/period"
	"ninja/internal/receipts"
	"ninja/internal/services"
)

// HealthChecker reports whether the storage behind the API is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators a Server is built from.
type Deps struct {
	Entries     *services.EntryService
	Dashboard   *services.DashboardService
	Profile     *services.ProfileService
	Suggestions *services.SuggestionService
	// Receipts serves uploaded files; nil disables /receipts/.
	Receipts *receipts.Store
	Health   HealthChecker
	Logger   *log.Logger
}

// Options tune the HTTP layer.
type Options struct {
	Addr               string
	DefaultUserID      string
	RequestTimeout     time.Duration
	RateLimitPerMinute int // 0 disables rate limiting
	TrustedProxies     []string
	CacheSize          int
	CacheTTL           time.Duration
	MaxReceiptBytes    int64
}

// OptionsFromConfig maps the application config onto server options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Addr:               ":" + cfg.Port,
		DefaultUserID:      cfg.DefaultUserID,
		RequestTimeout:     cfg.RequestTimeout,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		TrustedProxies:     cfg.TrustedProxies,
		CacheSize:          cfg.CacheSize,
		CacheTTL:           cfg.CacheTTL,
		MaxReceiptBytes:    cfg.MaxReceiptBytes,
	}
}

// appMetrics counts domain events for /metrics.
type appMetrics struct {
	entriesCreated int64
	entriesUpdated int64
	entriesDeleted int64
	receipts       int64
	checkIns       int64
	exports        int64
}

type Server struct {
	http.Server

	deps   Deps
	opts   Options
	logger *log.Logger

	detector *security.Detector
	tracer   *trace.Middleware
	limiter  *ratelimit.Limiter

	// responses holds encoded JSON bodies keyed by user, resource and query.
	responses    *cache.LRUCache[[]byte]
	loader       *cache.Loader[[]byte]
	// pages holds raw entry pages; listing filters apply after the cache.
	pageCache    *cache.LRUCache[[]core.Entry]
	pages        *cache.Loader[[]core.Entry]
	cacheManager *cache.Manager

	appMetrics   appMetrics
	shutdownOnce sync.Once
	now          func() time.Time
}

// NewServer configures middleware and routes, returning a ready-to-run server.
func NewServer(opts Options, deps Deps) (*Server, error) {
	if opts.DefaultUserID == "" {
		opts.DefaultUserID = "default-user"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}
	if opts.MaxReceiptBytes <= 0 {
		opts.MaxReceiptBytes = 5 << 20
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}

	detector := security.NewDetector()
	for _, p := range opts.TrustedProxies {
		if err := detector.AddTrustedProxy(p); err != nil {
			return nil, fmt.Errorf("configure trusted proxies: %w", err)
		}
	}

	responses := cache.NewLRUCache[[]byte](opts.CacheSize, opts.CacheTTL)
	pageCache := cache.NewLRUCache[[]core.Entry](opts.CacheSize, opts.CacheTTL)
	manager := cache.NewManager(logger)
	manager.Register(responses)
	manager.Register(pageCache)

	s := &Server{
		deps:         deps,
		opts:         opts,
		logger:       logger.WithComponent(log.ComponentHTTP),
		detector:     detector,
		tracer:       trace.NewMiddleware(detector.ExtractClientIP, logger),
		responses:    responses,
		loader:       cache.NewLoader[[]byte](responses),
		pageCache:    pageCache,
		pages:        cache.NewLoader[[]core.Entry](pageCache),
		cacheManager: manager,
		now:          time.Now,
	}
	if opts.RateLimitPerMinute > 0 {
		s.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute})
	}
	if opts.CacheTTL > 0 {
		manager.StartCleanup(10 * time.Minute)
	}

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(s.tracer.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(s.detector.Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)
	r.With(security.StaticAssetMiddleware(86400)).Get(receipts.URLPrefix+"{name}", s.handleReceipt)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))
		r.Use(middleware.Compress(5, "application/json", "text/csv"))
		r.Use(s.withUser)
		if s.limiter != nil {
			r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, nil))
		}

		r.Group(func(r chi.Router) {
			r.Use(log.ComponentMiddleware(log.ComponentEntries))
			r.Get("/entries", s.handleListEntries)
			r.Post("/entries", s.handleCreateEntry)
			r.Delete("/entries", s.handleDeleteAll)
			r.Post("/entries/bulk-delete", s.handleBulkDelete)
			r.Put("/entries/{id}", s.handleUpdateEntry)
			r.Delete("/entries/{id}", s.handleDeleteEntry)
			r.Post("/entries/{id}/receipt", s.handleUploadReceipt)
		})

		r.Group(func(r chi.Router) {
			r.Use(log.ComponentMiddleware(log.ComponentDashboard))
			r.Get("/rollup", s.handleRollup)
			r.Get("/calendar", s.handleCalendar)
			r.Get("/dashboard/overview", s.handleOverview)
			r.Get("/achievements", s.handleAchievements)
			r.Get("/export.csv", s.handleExport)
		})

		r.Group(func(r chi.Router) {
			r.Use(log.ComponentMiddleware(log.ComponentProfile))
			r.Get("/goals", s.handleListGoals)
			r.Post("/goals", s.handleSetGoal)
			r.Get("/goals/{timeframe}", s.handleGetGoal)
			r.Put("/goals/{timeframe}", s.handleSetGoal)
			r.Delete("/goals/{timeframe}", s.handleDeleteGoal)

			r.Get("/settings", s.handleGetSettings)
			r.Post("/settings", s.handleUpdateSettings)
			r.Put("/settings", s.handleUpdateSettings)

			r.Get("/points/user", s.handlePoints)
			r.Post("/points/daily-check-in", s.handleCheckIn)
			r.Get("/points/rewards", s.handleRewards)
		})

		r.With(log.ComponentMiddleware(log.ComponentSuggestions)).Get("/suggestions", s.handleSuggestions)
	})

	return r
}

// Shutdown stops background routines and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		if s.limiter != nil {
			s.limiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// invalidateUser drops every cached response of userID.
func (s *Server) invalidateUser(ctx context.Context, userID string) {
	prefix := userCachePrefix(userID)
	if n := s.loader.Invalidate(prefix) + s.pages.Invalidate(prefix); n > 0 {
		log.FromContext(ctx).DebugContext(ctx, "Response cache invalidated",
			log.FieldUserID, userID, log.FieldCount, n)
	}
}

func userCachePrefix(userID string) string {
	return "u:" + userID + "|"
}

// windowKey names a windowed resource by its resolved bounds, so a relative
// timeframe such as TODAY stops matching once the local day rolls over.
func windowKey(resource string, w services.Window) string {
	return fmt.Sprintf("%s?%s|%s|%s", resource, w.Timeframe, boundKey(w.Range.From), boundKey(w.Range.To))
}

func boundKey(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

// dayKey names a resource whose result depends on the current local date.
func (s *Server) dayKey(resource string) string {
	return resource + "@" + period.ToZonedDateString(s.now(), s.deps.Entries.Location())
}

// cached serves the JSON encoding of load's result from the per-user
// response cache, loading it on a miss. key is relative to the user.
func (s *Server) cached(w http.ResponseWriter, r *http.Request, key string, load func(ctx context.Context) (any, error)) {
	ctx := r.Context()
	key = userCachePrefix(userFrom(ctx)) + key

	body, hit, err := s.loader.Get(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return encodeJSON(v)
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	if hit {
		w.Header().Set("X-Cache", "HIT")
		log.FromContext(ctx).DebugContext(ctx, "Response cache hit", log.FieldCacheKey, key)
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSONBytes(w, http.StatusOK, body)
}

func (s *Server) count(counter *int64) {
	atomic.AddInt64(counter, 1)
}
