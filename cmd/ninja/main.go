package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"ninja/internal/cli"
	"ninja/internal/config"
	apphttp "ninja/internal/http"
	"ninja/internal/llm"
	"ninja/internal/log"
	"ninja/internal/receipts"
	"ninja/internal/services"
	"ninja/internal/suggestions"
)

func main() {
	cli.LoadEnvFile()

	cfg := config.Load()
	logger := cli.SetupLogger(cfg.SlogLevel(), log.ComponentApp)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	// The API never requires the broker; the poller catches up later.
	be, _ := cli.InitBackend(context.Background(), logger, cfg, false)
	loc := cfg.Location()

	var receiptStore *receipts.Store
	if cfg.ReceiptsDir != "" {
		rs, err := receipts.NewStore(cfg.ReceiptsDir, cfg.MaxReceiptBytes)
		if err != nil {
			logger.Error("Failed to initialize receipt storage", log.FieldError, err, "dir", cfg.ReceiptsDir)
			os.Exit(1)
		}
		receiptStore = rs
	} else {
		logger.Info("Receipt uploads disabled - no RECEIPTS_DIR provided")
	}

	var gen suggestions.Generator
	if cfg.OllamaURL != "" {
		gen = llm.NewClient(cfg.OllamaURL, cfg.OllamaModel, cfg.OllamaTimeout)
		logger.Info("LLM suggestions enabled", "model", cfg.OllamaModel)
	}

	srv, err := apphttp.NewServer(apphttp.OptionsFromConfig(cfg), apphttp.Deps{
		Entries:     services.NewEntryService(be.Repository, be.Publisher, receiptStore, loc),
		Dashboard:   services.NewDashboardService(be.Repository, loc, time.Now),
		Profile:     services.NewProfileService(be.Repository, loc, time.Now),
		Suggestions: services.NewSuggestionService(be.Repository, gen, loc),
		Receipts:    receiptStore,
		Health:      be.Repository,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("Failed to configure HTTP server", log.FieldError, err)
		os.Exit(1)
	}

	// Configure server timeouts and limits
	srv.ReadTimeout = 30 * time.Second
	srv.WriteTimeout = cfg.RequestTimeout + 15*time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := be.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	logger.Info("Starting ninja server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"timezone", cfg.Timezone,
		"sync_events", be.Publisher != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
