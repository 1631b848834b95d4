// Package storagetest holds the behaviour every storage.Repository must share.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"ninja/internal/core"
	"ninja/internal/points"
	"ninja/internal/storage"

	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty repository whose clock reads now.
type Factory func(t *testing.T, now func() time.Time) storage.Repository

var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func entry(typ core.EntryType, cents int64, at time.Time) core.Entry {
	return core.Entry{Type: typ, App: core.DoorDash, Amount: core.Cents(cents), Timestamp: at}
}

// Run exercises the repository contract.
func Run(t *testing.T, newRepo Factory) {
	clock := func() time.Time { return base }

	t.Run("create normalizes and assigns ids", func(t *testing.T) {
		repo := newRepo(t, clock)
		ctx := context.Background()

		e := entry(core.Order, -1250, base)
		e.Category = core.Gas
		e.Note = "  downtown  "
		created, err := repo.CreateEntry(ctx, "u1", e)
		require.NoError(t, err)
		require.NotZero(t, created.ID)
		require.Equal(t, int64(1250), created.Amount.Cents)
		require.Empty(t, created.Category)
		require.Equal(t, "downtown", created.Note)
		require.Equal(t, base, created.CreatedAt)

		got, err := repo.GetEntry(ctx, "u1", created.ID)
		require.NoError(t, err)
		require.Equal(t, created.ID, got.ID)
		require.True(t, got.Timestamp.Equal(base))

		_, err = repo.GetEntry(ctx, "u2", created.ID)
		require.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("create rejects invalid entries", func(t *testing.T) {
		repo := newRepo(t, clock)
		_, err := repo.CreateEntry(context.Background(), "u1", entry(core.Order, 0, base))
		require.ErrorIs(t, err, core.ErrInvalidAmount)
	})

	t.Run("update applies the patch and bumps the version", func(t *testing.T) {
		repo := newRepo(t, clock)
		ctx := context.Background()
		created, err := repo.CreateEntry(ctx, "u1", entry(core.Expense, 2000, base))
		require.NoError(t, err)
		v1, err := repo.EntryVersion(ctx, created.ID)
		require.NoError(t, err)

		amount := core.Cents(2500)
		cat := core.Tolls
		updated, err := repo.UpdateEntry(ctx, "u1", created.ID, core.EntryPatch{Amount: &amount, Category: &cat})
		require.NoError(t, err)
		require.Equal(t, int64(2500), updated.Amount.Cents)
		require.Equal(t, core.Tolls, updated.Category)

		v2, err := repo.EntryVersion(ctx, created.ID)
		require.NoError(t, err)
		require.Greater(t, v2, v1)

		bad := core.EntryType("REFUND")
		_, err = repo.UpdateEntry(ctx, "u1", created.ID, core.EntryPatch{Type: &bad})
		require.ErrorIs(t, err, core.ErrInvalidType)

		_, err = repo.UpdateEntry(ctx, "u1", 9999, core.EntryPatch{Amount: &amount})
		require.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("delete returns the row once", func(t *testing.T) {
		repo := newRepo(t, clock)
		ctx := context.Background()
		created, err := repo.CreateEntry(ctx, "u1", entry(core.Bonus, 500, base))
		require.NoError(t, err)

		deleted, err := repo.DeleteEntry(ctx, "u1", created.ID)
		require.NoError(t, err)
		require.Equal(t, created.ID, deleted.ID)

		_, err = repo.DeleteEntry(ctx, "u1", created.ID)
		require.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("list is newest first with bounds and cursor", func(t *testing.T) {
		repo := newRepo(t, clock)
		ctx := context.Background()
		var ids []int64
		for i := 0; i < 5; i++ {
			e, err := repo.CreateEntry(ctx, "u1", entry(core.Order, int64(100*(i+1)), base.Add(time.Duration(i)*time.Hour)))
			require.NoError(t, err)
			ids = append(ids, e.ID)
		}
		_, err := repo.CreateEntry(ctx, "u2", entry(core.Order, 999, base))
		require.NoError(t, err)

		all, err := repo.ListEntries(ctx, "u1", storage.EntryQuery{})
		require.NoError(t, err)
		require.Len(t, all, 5)
		require.Equal(t, ids[4], all[0].ID)
		require.Equal(t, ids[0], all[4].ID)

		window, err := repo.ListEntries(ctx, "u1", storage.EntryQuery{
			From: base.Add(time.Hour),
			To:   base.Add(3 * time.Hour),
		})
		require.NoError(t, err)
		require.Len(t, window, 3)

		page1, err := repo.ListEntries(ctx, "u1", storage.EntryQuery{Limit: 2})
		require.NoError(t, err)
		require.Len(t, page1, 2)
		page2, err := repo.ListEntries(ctx, "u1", storage.EntryQuery{Limit: 2, Cursor: page1[1].ID})
		require.NoError(t, err)
		require.Len(t, page2, 2)
		require.Equal(t, ids[2], page2[0].ID)

		_, err = repo.ListEntries(ctx, "u1", storage.EntryQuery{Cursor: 424242})
		require.True(t, errors.Is(err, storage.ErrInvalidCursor))
	})

	t.Run("same timestamp pages by id", func(t *testing.T) {
		repo := newRepo(t, clock)
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			_, err := repo.CreateEntry(ctx, "u1", entry(core.Order, 100, base))
			require.NoError(t, err)
		}
		first, err := repo.ListEntries(ctx, "u1", storage.EntryQuery{Limit: 1})
		require.NoError(t, err)
		rest, err := repo.ListEntries(ctx, "u1", storage.EntryQuery{Cursor: first[0].ID})
		require.NoError(t, err)
		require.Len(t, rest, 2)
		require.Greater(t, first[0].ID, rest[0].ID)
	})

	t.Run("delete all removes entries and goals of one user", func(t *testing.T) {
		repo := newRepo(t, clock)
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			_, err := repo.CreateEntry(ctx, "u1", entry(core.Order, 100, base))
			require.NoError(t, err)
		}
		_, err := repo.CreateEntry(ctx, "u2", entry(core.Order, 100, base))
		require.NoError(t, err)
		_, err = repo.UpsertGoal(ctx, "u1", core.Goal{Timeframe: core.Today, TargetProfit: core.Cents(10000)})
		require.NoError(t, err)

		n, err := repo.DeleteAllForUser(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, 3, n)

		left, err := repo.ListEntries(ctx, "u1", storage.EntryQuery{})
		require.NoError(t, err)
		require.Empty(t, left)
		goals, err := repo.ListGoals(ctx, "u1")
		require.NoError(t, err)
		require.Empty(t, goals)

		other, err := repo.ListEntries(ctx, "u2", storage.EntryQuery{})
		require.NoError(t, err)
		require.Len(t, other, 1)
	})

	t.Run("goals upsert and delete idempotently", func(t *testing.T) {
		repo := newRepo(t, clock)
		ctx := context.Background()

		_, err := repo.GetGoal(ctx, "u1", core.ThisWeek)
		require.ErrorIs(t, err, core.ErrNotFound)

		_, err = repo.UpsertGoal(ctx, "u1", core.Goal{Timeframe: core.ThisWeek, TargetProfit: core.Cents(50000)})
		require.NoError(t, err)
		_, err = repo.UpsertGoal(ctx, "u1", core.Goal{Timeframe: core.ThisWeek, TargetProfit: core.Cents(60000)})
		require.NoError(t, err)

		g, err := repo.GetGoal(ctx, "u1", core.ThisWeek)
		require.NoError(t, err)
		require.Equal(t, int64(60000), g.TargetProfit.Cents)

		goals, err := repo.ListGoals(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, goals, 1)

		require.NoError(t, repo.DeleteGoal(ctx, "u1", core.ThisWeek))
		require.NoError(t, repo.DeleteGoal(ctx, "u1", core.ThisWeek))

		_, err = repo.UpsertGoal(ctx, "u1", core.Goal{Timeframe: "FOREVER", TargetProfit: core.Cents(1)})
		require.ErrorIs(t, err, core.ErrInvalidTimeframe)
	})

	t.Run("settings are seeded with the default rate", func(t *testing.T) {
		repo := newRepo(t, clock)
		ctx := context.Background()

		s, err := repo.GetSettings(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, "0.67", s.CostPerMile.String())

		rate, err := core.ParseRate("0.725")
		require.NoError(t, err)
		_, err = repo.UpdateSettings(ctx, "u1", core.Settings{CostPerMile: rate})
		require.NoError(t, err)

		s, err = repo.GetSettings(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, "0.725", s.CostPerMile.String())
	})

	t.Run("points ledger starts with the signup bonus", func(t *testing.T) {
		repo := newRepo(t, clock)
		ctx := context.Background()

		p, err := repo.GetPoints(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, points.SignupPoints, p.TotalPoints)
		require.Equal(t, base, p.SignupAt)

		checkIn := func(cur core.UserPoints) (core.UserPoints, int, bool) {
			next, res := points.CheckIn(cur, base, time.UTC)
			return next, res.PointsEarned, !res.Already
		}
		p, err = repo.UpdatePoints(ctx, "u1", checkIn)
		require.NoError(t, err)
		require.Equal(t, 110, p.TotalPoints)
		require.Equal(t, "2025-03-10", p.LastUsedDate)

		p, err = repo.UpdatePoints(ctx, "u1", checkIn)
		require.NoError(t, err)
		require.Equal(t, 110, p.TotalPoints)
	})

	t.Run("sync state follows versions", func(t *testing.T) {
		repo := newRepo(t, clock)
		ctx := context.Background()
		created, err := repo.CreateEntry(ctx, "u1", entry(core.Order, 100, base))
		require.NoError(t, err)

		pending, err := repo.GetPendingSync(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		require.Equal(t, "u1", pending[0].UserID)

		amount := core.Cents(200)
		_, err = repo.UpdateEntry(ctx, "u1", created.ID, core.EntryPatch{Amount: &amount})
		require.NoError(t, err)

		// A stale version leaves the row pending.
		require.NoError(t, repo.MarkSynced(ctx, created.ID, pending[0].Version))
		pending, err = repo.GetPendingSync(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)

		require.NoError(t, repo.MarkSyncError(ctx, created.ID))
		pending, err = repo.GetPendingSync(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)

		require.NoError(t, repo.MarkSynced(ctx, created.ID, pending[0].Version))
		pending, err = repo.GetPendingSync(ctx, 10)
		require.NoError(t, err)
		require.Empty(t, pending)

		got, err := repo.GetEntryByID(ctx, created.ID)
		require.NoError(t, err)
		require.Equal(t, "u1", got.UserID)
	})

	t.Run("receipt url is attached", func(t *testing.T) {
		repo := newRepo(t, clock)
		ctx := context.Background()
		created, err := repo.CreateEntry(ctx, "u1", entry(core.Expense, 4000, base))
		require.NoError(t, err)

		e, err := repo.SetReceiptURL(ctx, "u1", created.ID, "/receipts/abc.jpg")
		require.NoError(t, err)
		require.Equal(t, "/receipts/abc.jpg", e.ReceiptURL)

		_, err = repo.SetReceiptURL(ctx, "u2", created.ID, "/receipts/x.jpg")
		require.ErrorIs(t, err, core.ErrNotFound)
	})
}
