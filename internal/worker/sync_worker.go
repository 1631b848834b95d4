package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ninja/internal/amqp"
	"ninja/internal/core"
	"ninja/internal/sheets"
	"ninja/internal/storage"
)

// SyncWorker mirrors ledger entries from the database into the spreadsheet.
type SyncWorker struct {
	store     storage.SyncStore
	mirror    sheets.EntryMirror
	batchSize int
}

func NewSyncWorker(store storage.SyncStore, mirror sheets.EntryMirror, batchSize int) *SyncWorker {
	if batchSize < 1 {
		batchSize = 10
	}
	return &SyncWorker{
		store:     store,
		mirror:    mirror,
		batchSize: batchSize,
	}
}

// HandleSyncMessage processes a single entry sync message from AMQP.
// A returned error makes the consumer requeue the message.
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *amqp.EntrySyncMessage) error {
	slog.InfoContext(ctx, "Processing sync message",
		"action", msg.Action,
		"entry_id", msg.EntryID,
		"user_id", msg.UserID,
		"version", msg.Version)

	switch msg.Action {
	case amqp.ActionUpsert:
		return w.handleUpsert(ctx, msg)
	case amqp.ActionDelete:
		if err := w.mirror.DeleteEntry(ctx, msg.EntryID); err != nil {
			return fmt.Errorf("delete entry %d from mirror: %w", msg.EntryID, err)
		}
		slog.InfoContext(ctx, "Successfully deleted mirror row", "entry_id", msg.EntryID)
		return nil
	case amqp.ActionPurge:
		n, err := w.mirror.PurgeUser(ctx, msg.UserID)
		if err != nil {
			return fmt.Errorf("purge mirror rows of %s: %w", msg.UserID, err)
		}
		slog.InfoContext(ctx, "Successfully purged mirror rows", "user_id", msg.UserID, "rows", n)
		return nil
	}
	return fmt.Errorf("unknown action %q", msg.Action)
}

func (w *SyncWorker) handleUpsert(ctx context.Context, msg *amqp.EntrySyncMessage) error {
	current, err := w.store.EntryVersion(ctx, msg.EntryID)
	if errors.Is(err, core.ErrNotFound) {
		// Deleted after the message was published; the delete message follows.
		slog.InfoContext(ctx, "Entry no longer exists, skipping upsert", "entry_id", msg.EntryID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get entry version: %w", err)
	}
	if current > msg.Version {
		slog.DebugContext(ctx, "Skipping stale sync message",
			"entry_id", msg.EntryID,
			"message_version", msg.Version,
			"current_version", current)
		return nil
	}
	return w.syncEntry(ctx, msg.EntryID, current)
}

// ProcessPending syncs entries that haven't been mirrored yet.
// This is a backup mechanism in case AMQP messages are lost.
func (w *SyncWorker) ProcessPending(ctx context.Context) error {
	pending, err := w.store.GetPendingSync(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending entries: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending entries", "count", len(pending))
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.syncEntry(ctx, p.ID, p.Version); err != nil {
			slog.ErrorContext(ctx, "Failed to sync entry", "entry_id", p.ID, "error", err)
		}
	}
	return nil
}

// StartupSyncCheck syncs a larger batch of pending entries at worker startup,
// recovering from missed messages or worker downtime.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	pending, err := w.store.GetPendingSync(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending entries for startup check: %w", err)
	}
	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending entries found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending entries on startup, processing...", "count", len(pending))

	successCount, errorCount := 0, 0
	for _, p := range pending {
		if err := w.syncEntry(ctx, p.ID, p.Version); err != nil {
			slog.ErrorContext(ctx, "Failed to sync entry during startup", "entry_id", p.ID, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.InfoContext(ctx, "Startup sync completed",
		"total", len(pending),
		"synced", successCount,
		"errors", errorCount)
	return nil
}

// syncEntry writes the row and records version as synced. MarkSynced is a
// no-op if the entry changed meanwhile, leaving it pending for the next pass.
func (w *SyncWorker) syncEntry(ctx context.Context, id, version int64) error {
	e, err := w.store.GetEntryByID(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get entry %d: %w", id, err)
	}

	ref, err := w.mirror.UpsertEntry(ctx, e)
	if err != nil {
		if markErr := w.store.MarkSyncError(ctx, id); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error", "entry_id", id, "error", markErr)
		}
		return fmt.Errorf("upsert mirror row: %w", err)
	}

	if err := w.store.MarkSynced(ctx, id, version); err != nil {
		// The row is mirrored; a later pass rewrites it in place.
		slog.ErrorContext(ctx, "Failed to mark as synced", "entry_id", id, "error", err)
	}

	slog.InfoContext(ctx, "Successfully synced entry",
		"entry_id", id,
		"version", version,
		"mirror_ref", ref,
		"amount_cents", e.Amount.Cents)
	return nil
}
