package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingProcessor struct {
	calls atomic.Int32
	err   error
}

func (c *countingProcessor) ProcessPending(context.Context) error {
	c.calls.Add(1)
	return c.err
}

func TestDefaultSyncProcessorConfig(t *testing.T) {
	config := DefaultSyncProcessorConfig()
	if config.PollInterval != 30*time.Second {
		t.Errorf("expected PollInterval 30s, got %v", config.PollInterval)
	}
}

func TestNewSyncProcessor_ZeroIntervalUsesDefault(t *testing.T) {
	processor := NewSyncProcessor(&countingProcessor{}, SyncProcessorConfig{})
	if processor.config.PollInterval != 30*time.Second {
		t.Errorf("expected default interval, got %v", processor.config.PollInterval)
	}
}

func TestSyncProcessor_IsRunning(t *testing.T) {
	processor := NewSyncProcessor(&countingProcessor{}, DefaultSyncProcessorConfig())
	if processor.IsRunning() {
		t.Error("processor should not be running initially")
	}
}

func TestSyncProcessor_StartTwice(t *testing.T) {
	processor := NewSyncProcessor(&countingProcessor{}, SyncProcessorConfig{PollInterval: time.Hour})
	ctx := context.Background()

	if err := processor.Start(ctx); err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer processor.Stop(ctx)

	if err := processor.Start(ctx); err == nil {
		t.Error("expected error when starting already running processor")
	}
}

func TestSyncProcessor_StopNotRunning(t *testing.T) {
	processor := NewSyncProcessor(&countingProcessor{}, DefaultSyncProcessorConfig())
	if err := processor.Stop(context.Background()); err != nil {
		t.Errorf("Stop on idle processor should be a no-op, got %v", err)
	}
}

func TestSyncProcessor_PollsUntilStopped(t *testing.T) {
	worker := &countingProcessor{err: errors.New("mirror offline")}
	processor := NewSyncProcessor(worker, SyncProcessorConfig{PollInterval: 10 * time.Millisecond})
	ctx := context.Background()

	if err := processor.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for worker.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if worker.calls.Load() < 2 {
		t.Fatalf("expected at least two passes, got %d", worker.calls.Load())
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := processor.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if processor.IsRunning() {
		t.Error("processor should not be running after Stop")
	}

	after := worker.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if worker.calls.Load() != after {
		t.Error("no passes expected after Stop")
	}
}
