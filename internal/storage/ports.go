package storage

import (
	"context"
	"errors"
	"time"

	"ninja/internal/core"
)

const (
	// DefaultListLimit applies when EntryQuery.Limit is zero and paging is requested.
	DefaultListLimit = 100
	// MaxListLimit caps a single page.
	MaxListLimit = 500
)

// ErrInvalidCursor is returned when a page cursor names no entry of the user.
var ErrInvalidCursor = errors.New("invalid cursor")

// EntryQuery selects a user's entries newest first. Zero bounds are open;
// Limit 0 returns every match. Cursor is the ID of the last entry of the
// previous page.
type EntryQuery struct {
	From   time.Time
	To     time.Time
	Limit  int
	Cursor int64
}

// PendingSync is the minimal data the sync worker needs per entry.
type PendingSync struct {
	ID        int64
	UserID    string
	Version   int64
	UpdatedAt time.Time
}

// PointsUpdate computes the next points state. changed=false skips the write.
type PointsUpdate func(current core.UserPoints) (next core.UserPoints, earned int, changed bool)

// Ports consumed by the services layer.
type (
	EntryStore interface {
		CreateEntry(ctx context.Context, userID string, e core.Entry) (core.Entry, error)
		GetEntry(ctx context.Context, userID string, id int64) (core.Entry, error)
		UpdateEntry(ctx context.Context, userID string, id int64, patch core.EntryPatch) (core.Entry, error)
		// DeleteEntry returns the deleted row so callers can publish it.
		DeleteEntry(ctx context.Context, userID string, id int64) (core.Entry, error)
		// DeleteAllForUser removes entries and goals; it returns the entry count.
		DeleteAllForUser(ctx context.Context, userID string) (int, error)
		ListEntries(ctx context.Context, userID string, q EntryQuery) ([]core.Entry, error)
		SetReceiptURL(ctx context.Context, userID string, id int64, url string) (core.Entry, error)
	}

	GoalStore interface {
		// GetGoal returns core.ErrNotFound when the timeframe has no goal.
		GetGoal(ctx context.Context, userID string, tf core.Timeframe) (core.Goal, error)
		ListGoals(ctx context.Context, userID string) ([]core.Goal, error)
		UpsertGoal(ctx context.Context, userID string, g core.Goal) (core.Goal, error)
		DeleteGoal(ctx context.Context, userID string, tf core.Timeframe) error
	}

	SettingsStore interface {
		// GetSettings creates the row with the default cost per mile on first read.
		GetSettings(ctx context.Context, userID string) (core.Settings, error)
		UpdateSettings(ctx context.Context, userID string, s core.Settings) (core.Settings, error)
	}

	PointsStore interface {
		// GetPoints creates the ledger with the signup bonus on first read.
		GetPoints(ctx context.Context, userID string) (core.UserPoints, error)
		UpdatePoints(ctx context.Context, userID string, fn PointsUpdate) (core.UserPoints, error)
	}

	SyncStore interface {
		GetEntryByID(ctx context.Context, id int64) (core.Entry, error)
		EntryVersion(ctx context.Context, id int64) (int64, error)
		GetPendingSync(ctx context.Context, limit int) ([]PendingSync, error)
		// MarkSynced is a no-op when the row moved past version meanwhile.
		MarkSynced(ctx context.Context, id, version int64) error
		MarkSyncError(ctx context.Context, id int64) error
	}

	Repository interface {
		EntryStore
		GoalStore
		SettingsStore
		PointsStore
		SyncStore
		Ping(ctx context.Context) error
		Close() error
	}
)

// ClampLimit applies the page size rules of the listing endpoints.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}
