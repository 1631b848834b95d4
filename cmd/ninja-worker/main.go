package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"ninja/internal/backend"
	"ninja/internal/cli"
	"ninja/internal/log"
	"ninja/internal/services"
	"ninja/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(slog.LevelInfo, log.ComponentWorker)
	logger.Info("Starting ninja-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}
	if level := cfg.SlogLevel(); level != slog.LevelInfo {
		logger = cli.SetupLogger(level, log.ComponentWorker)
	}

	be, bcfg := cli.InitBackend(context.Background(), logger, cfg, true)
	defer func() {
		if err := be.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	}()

	mirror, err := backend.NewFactory(logger.Logger).CreateMirror(context.Background(), bcfg)
	if err != nil {
		logger.Error("Failed to initialize mirror", log.FieldError, err, "mirror", cfg.MirrorBackend)
		os.Exit(1)
	}

	syncWorker := worker.NewSyncWorker(be.Repository, mirror, cfg.SyncBatchSize)
	processor := services.NewSyncProcessor(syncWorker, services.SyncProcessorConfig{
		PollInterval: cfg.SyncInterval,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		logger.Info("Shutting down worker...")
		if err := processor.Stop(ctx); err != nil {
			logger.Warn("Sync processor did not stop cleanly", log.FieldError, err)
		}
	})

	// Recover anything missed while the worker was down.
	logger.Info("Performing startup sync check...")
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Failed startup sync check", log.FieldError, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return be.AMQP.Consume(gctx, syncWorker.HandleSyncMessage)
	})
	g.Go(func() error {
		return processor.Start(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}
