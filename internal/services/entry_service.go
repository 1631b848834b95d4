package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"ninja/internal/core"
	"ninja/internal/receipts"
	"ninja/internal/storage"

	"golang.org/x/sync/errgroup"
)

// bulkDeleteConcurrency bounds parallel deletes of a single bulk request.
const bulkDeleteConcurrency = 4

// ErrReceiptsDisabled is returned by AttachReceipt when no receipt store is wired.
var ErrReceiptsDisabled = errors.New("receipt storage not configured")

// SyncPublisher announces entry changes to the mirror worker.
type SyncPublisher interface {
	PublishUpsert(ctx context.Context, userID string, id, version int64) error
	PublishDelete(ctx context.Context, userID string, id int64) error
	PublishPurge(ctx context.Context, userID string) error
}

// EntryRepository is the storage EntryService writes through.
type EntryRepository interface {
	storage.EntryStore
	EntryVersion(ctx context.Context, id int64) (int64, error)
}

// BulkFailure reports one id a bulk delete could not remove.
type BulkFailure struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`
}

// BulkDeleteResult is the settle-all outcome of BulkDelete.
type BulkDeleteResult struct {
	Deleted []int64       `json:"deleted"`
	Failed  []BulkFailure `json:"failed"`
}

// EntryService orchestrates entry writes across storage and AMQP.
type EntryService struct {
	store     EntryRepository
	publisher SyncPublisher
	receipts  *receipts.Store
	loc       *time.Location
}

// NewEntryService wires the service. publisher and receipts may be nil.
func NewEntryService(store EntryRepository, publisher SyncPublisher, rs *receipts.Store, loc *time.Location) *EntryService {
	if loc == nil {
		loc = time.UTC
	}
	return &EntryService{
		store:     store,
		publisher: publisher,
		receipts:  rs,
		loc:       loc,
	}
}

// Location is the zone used to resolve windows and local dates.
func (s *EntryService) Location() *time.Location { return s.loc }

// CreateEntry saves an entry and publishes its first version.
func (s *EntryService) CreateEntry(ctx context.Context, userID string, e core.Entry) (core.Entry, error) {
	saved, err := s.store.CreateEntry(ctx, userID, e)
	if err != nil {
		return core.Entry{}, fmt.Errorf("save entry: %w", err)
	}
	s.publishUpsert(ctx, userID, saved.ID)
	return saved, nil
}

func (s *EntryService) GetEntry(ctx context.Context, userID string, id int64) (core.Entry, error) {
	e, err := s.store.GetEntry(ctx, userID, id)
	if err != nil {
		return core.Entry{}, fmt.Errorf("get entry %d: %w", id, err)
	}
	return e, nil
}

// UpdateEntry applies a partial update and publishes the new version.
func (s *EntryService) UpdateEntry(ctx context.Context, userID string, id int64, patch core.EntryPatch) (core.Entry, error) {
	updated, err := s.store.UpdateEntry(ctx, userID, id, patch)
	if err != nil {
		return core.Entry{}, fmt.Errorf("update entry %d: %w", id, err)
	}
	s.publishUpsert(ctx, userID, id)
	return updated, nil
}

// DeleteEntry removes an entry, its receipt file and its mirror row.
func (s *EntryService) DeleteEntry(ctx context.Context, userID string, id int64) error {
	deleted, err := s.store.DeleteEntry(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("delete entry %d: %w", id, err)
	}
	s.removeReceipt(ctx, deleted.ReceiptURL)
	s.publishDelete(ctx, userID, id)
	return nil
}

// BulkDelete attempts every id and reports each outcome. Duplicate ids are
// attempted once.
func (s *EntryService) BulkDelete(ctx context.Context, userID string, ids []int64) BulkDeleteResult {
	res := BulkDeleteResult{Deleted: []int64{}, Failed: []BulkFailure{}}
	seen := make(map[int64]bool, len(ids))
	unique := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	outcomes := make([]error, len(unique))
	var g errgroup.Group
	g.SetLimit(bulkDeleteConcurrency)
	for i, id := range unique {
		g.Go(func() error {
			outcomes[i] = s.DeleteEntry(ctx, userID, id)
			return nil
		})
	}
	g.Wait()

	for i, id := range unique {
		if err := outcomes[i]; err != nil {
			res.Failed = append(res.Failed, BulkFailure{ID: id, Error: errorText(err)})
			continue
		}
		res.Deleted = append(res.Deleted, id)
	}

	slog.InfoContext(ctx, "Bulk delete settled",
		"user_id", userID,
		"deleted", len(res.Deleted),
		"failed", len(res.Failed))
	return res
}

// DeleteAll removes every entry and goal of the user.
func (s *EntryService) DeleteAll(ctx context.Context, userID string) (int, error) {
	n, err := s.store.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("delete all entries: %w", err)
	}
	if s.publisher != nil {
		if err := s.publisher.PublishPurge(ctx, userID); err != nil {
			slog.ErrorContext(ctx, "Failed to publish purge message", "user_id", userID, "error", err)
		}
	}
	return n, nil
}

// ListEntries returns one newest-first page of the window.
func (s *EntryService) ListEntries(ctx context.Context, userID string, w Window, limit int, cursor int64) ([]core.Entry, error) {
	q := w.Query()
	q.Limit = storage.ClampLimit(limit)
	q.Cursor = cursor
	entries, err := s.store.ListEntries(ctx, userID, q)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return entries, nil
}

// AttachReceipt stores the uploaded file and links it to the entry,
// replacing any earlier receipt.
func (s *EntryService) AttachReceipt(ctx context.Context, userID string, id int64, filename string, r io.Reader) (core.Entry, error) {
	if s.receipts == nil {
		return core.Entry{}, ErrReceiptsDisabled
	}
	current, err := s.store.GetEntry(ctx, userID, id)
	if err != nil {
		return core.Entry{}, fmt.Errorf("get entry %d: %w", id, err)
	}

	url, err := s.receipts.Save(filename, r)
	if err != nil {
		return core.Entry{}, fmt.Errorf("save receipt: %w", err)
	}

	updated, err := s.store.SetReceiptURL(ctx, userID, id, url)
	if err != nil {
		s.removeReceipt(ctx, url)
		return core.Entry{}, fmt.Errorf("link receipt to entry %d: %w", id, err)
	}
	s.removeReceipt(ctx, current.ReceiptURL)

	slog.InfoContext(ctx, "Receipt attached", "user_id", userID, "entry_id", id, "receipt_url", url)
	s.publishUpsert(ctx, userID, id)
	return updated, nil
}

func (s *EntryService) removeReceipt(ctx context.Context, url string) {
	if s.receipts == nil || url == "" {
		return
	}
	if err := s.receipts.Remove(url); err != nil {
		slog.WarnContext(ctx, "Failed to remove receipt file", "receipt_url", url, "error", err)
	}
}

func (s *EntryService) publishUpsert(ctx context.Context, userID string, id int64) {
	if s.publisher == nil {
		return
	}
	version, err := s.store.EntryVersion(ctx, id)
	if err != nil {
		// The row stays pending; the worker picks it up on its next pass.
		slog.ErrorContext(ctx, "Failed to read entry version", "entry_id", id, "error", err)
		return
	}
	if err := s.publisher.PublishUpsert(ctx, userID, id, version); err != nil {
		slog.ErrorContext(ctx, "Failed to publish sync message",
			"entry_id", id, "version", version, "error", err)
	}
}

func (s *EntryService) publishDelete(ctx context.Context, userID string, id int64) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishDelete(ctx, userID, id); err != nil {
		slog.ErrorContext(ctx, "Failed to publish delete message", "entry_id", id, "error", err)
	}
}

// errorText drops the wrapping context for client-facing messages.
func errorText(err error) string {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return "not found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "request cancelled"
	}
	return err.Error()
}
