package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"

	"ninja/internal/core"
	"ninja/internal/log"
	"ninja/internal/storage"
)

// maxMultipartMemory is the part of an upload kept in memory; the rest
// spills to temp files.
const maxMultipartMemory = 1 << 20

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window, err := s.resolveWindow(r, "")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	limit, err := parseOptionalInt(q, "limit")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	cursor, err := parseOptionalInt(q, "cursor")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	filter, sortBy, err := listFilter(q)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	ctx := r.Context()
	userID := userFrom(ctx)
	pageSize := storage.ClampLimit(int(limit))
	key := fmt.Sprintf("%sentries?%s|%d|%d|%d|%d", userCachePrefix(userID), window.Timeframe,
		window.Range.From.UnixNano(), window.Range.To.UnixNano(), pageSize, cursor)

	page, hit, err := s.pages.Get(ctx, key, func(ctx context.Context) ([]core.Entry, error) {
		return s.deps.Entries.ListEntries(ctx, userID, window, pageSize, cursor)
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	if next := nextCursor(page, pageSize); next > 0 {
		w.Header().Set("X-Next-Cursor", strconv.FormatInt(next, 10))
	}

	// Filters and sort apply to the fetched page; the cached page is shared.
	rows := sortBy.Apply(filter.Apply(page))
	writeJSON(w, http.StatusOK, rows)
}

// nextCursor is the id to resume after, or 0 when page was the last one.
func nextCursor(page []core.Entry, limit int) int64 {
	if len(page) < limit || len(page) == 0 {
		return 0
	}
	return page[len(page)-1].ID
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req entryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	loc := s.deps.Entries.Location()
	entry, err := req.toEntry(s.now(), loc)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	userID := userFrom(ctx)
	saved, err := s.deps.Entries.CreateEntry(ctx, userID, entry)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.count(&s.appMetrics.entriesCreated)
	s.invalidateUser(ctx, userID)

	log.NewStructuredLogger(log.FromContext(ctx)).
		LogEntryCreated(ctx, userID, saved.ID, string(saved.Type), string(saved.App), saved.Amount.String())

	w.Header().Set("Location", "/api/entries/"+strconv.FormatInt(saved.ID, 10))
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := parseIDParam(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var req entryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	userID := userFrom(ctx)
	current := s.now()
	// A lone date or time keeps the other half of the stored timestamp.
	if (req.Date == nil) != (req.Time == nil) {
		existing, err := s.deps.Entries.GetEntry(ctx, userID, id)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		current = existing.Timestamp
	}

	patch, err := req.toPatch(current, s.deps.Entries.Location())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	updated, err := s.deps.Entries.UpdateEntry(ctx, userID, id, patch)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.count(&s.appMetrics.entriesUpdated)
	s.invalidateUser(ctx, userID)

	log.FromContext(ctx).InfoContext(ctx, "Entry updated",
		log.FieldEntryID, id,
		log.FieldOperation, log.OpUpdate)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := parseIDParam(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	userID := userFrom(ctx)
	if err := s.deps.Entries.DeleteEntry(ctx, userID, id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.count(&s.appMetrics.entriesDeleted)
	s.invalidateUser(ctx, userID)

	log.FromContext(ctx).InfoContext(ctx, "Entry deleted",
		log.FieldEntryID, id,
		log.FieldOperation, log.OpDelete)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req bulkDeleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if len(req.IDs) == 0 {
		s.writeServiceError(w, r, fmt.Errorf("%w: ids must not be empty", errBadRequest))
		return
	}
	if len(req.IDs) > storage.MaxListLimit {
		s.writeServiceError(w, r, fmt.Errorf("%w: at most %d ids per call", errBadRequest, storage.MaxListLimit))
		return
	}

	userID := userFrom(ctx)
	res := s.deps.Entries.BulkDelete(ctx, userID, req.IDs)
	if len(res.Deleted) > 0 {
		atomic.AddInt64(&s.appMetrics.entriesDeleted, int64(len(res.Deleted)))
		s.invalidateUser(ctx, userID)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userFrom(ctx)
	n, err := s.deps.Entries.DeleteAll(ctx, userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.entriesDeleted, int64(n))
	s.invalidateUser(ctx, userID)

	log.FromContext(ctx).WarnContext(ctx, "All entries deleted",
		log.FieldCount, n,
		log.FieldOperation, log.OpDelete)
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := parseIDParam(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	// Leave room for the multipart envelope around the file.
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxReceiptBytes+maxMultipartMemory)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if !errors.As(err, &tooBig) {
			err = fmt.Errorf("%w: %v", errBadRequest, err)
		}
		s.writeServiceError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeServiceError(w, r, fmt.Errorf("%w: missing file field", errBadRequest))
		return
	}
	defer file.Close()

	userID := userFrom(ctx)
	updated, err := s.deps.Entries.AttachReceipt(ctx, userID, id, header.Filename, file)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.count(&s.appMetrics.receipts)
	s.invalidateUser(ctx, userID)
	writeJSON(w, http.StatusOK, updated)
}
