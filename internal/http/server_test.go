package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ninja/internal/log"
	"ninja/internal/receipts"
	"ninja/internal/services"
	"ninja/internal/storage/memory"
)

var baseTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return baseTime }

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	return newTestServerAt(t, opts, fixedNow)
}

func newTestServerAt(t *testing.T, opts Options, now func() time.Time) *Server {
	t.Helper()

	store := memory.NewStore(decimal.RequireFromString("0.5")).WithClock(now)
	rs, err := receipts.NewStore(t.TempDir(), 1<<20)
	require.NoError(t, err)

	if opts.CacheTTL == 0 {
		opts.CacheTTL = time.Minute
	}
	srv, err := NewServer(opts, Deps{
		Entries:     services.NewEntryService(store, nil, rs, time.UTC),
		Dashboard:   services.NewDashboardService(store, time.UTC, now),
		Profile:     services.NewProfileService(store, time.UTC, now),
		Suggestions: services.NewSuggestionService(store, nil, time.UTC),
		Receipts:    rs,
		Health:      pingFunc(func(context.Context) error { return nil }),
		Logger:      log.New(log.Config{Output: io.Discard}),
	})
	require.NoError(t, err)
	srv.now = now
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type entryJSON struct {
	ID         int64   `json:"id"`
	Timestamp  string  `json:"timestamp"`
	Type       string  `json:"type"`
	App        string  `json:"app"`
	Amount     float64 `json:"amount"`
	ReceiptURL string  `json:"receipt_url"`
}

func createEntry(t *testing.T, srv *Server, body string, header ...string) entryJSON {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/entries", body, header...)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[entryJSON](t, rec)
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, Options{})

	rec := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	srv.deps.Health = pingFunc(func(context.Context) error { return io.ErrUnexpectedEOF })
	rec = do(t, srv, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", decode[APIError](t, rec).Code)
}

func TestUnknownRoutesAnswerJSON(t *testing.T) {
	srv := newTestServer(t, Options{})

	rec := do(t, srv, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[APIError](t, rec).Code)

	rec = do(t, srv, http.MethodPatch, "/api/rollup", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "method_not_allowed", decode[APIError](t, rec).Code)
}

func TestRollupAndResponseCache(t *testing.T) {
	srv := newTestServer(t, Options{})

	createEntry(t, srv, `{"timestamp":"2025-03-10T09:00:00Z","type":"order","app":"doordash","amount":50,"distance_miles":10,"duration_minutes":30}`)
	createEntry(t, srv, `{"timestamp":"2025-03-10T10:00:00Z","type":"EXPENSE","amount":"20","category":"gas"}`)

	type rollupJSON struct {
		Revenue    float64 `json:"revenue"`
		Expenses   float64 `json:"expenses"`
		Profit     float64 `json:"profit"`
		Miles      float64 `json:"miles"`
		EntryCount int     `json:"entry_count"`
		OrderCount int     `json:"order_count"`
	}

	rec := do(t, srv, http.MethodGet, "/api/rollup?timeframe=TODAY", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	got := decode[rollupJSON](t, rec)
	assert.Equal(t, 50.0, got.Revenue)
	assert.Equal(t, 20.0, got.Expenses)
	assert.Equal(t, 30.0, got.Profit)
	assert.Equal(t, 10.0, got.Miles)
	assert.Equal(t, 2, got.EntryCount)
	assert.Equal(t, 1, got.OrderCount)

	rec = do(t, srv, http.MethodGet, "/api/rollup?timeframe=TODAY", "")
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))

	createEntry(t, srv, `{"timestamp":"2025-03-10T11:00:00Z","type":"BONUS","amount":5}`)
	rec = do(t, srv, http.MethodGet, "/api/rollup?timeframe=TODAY", "")
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, 55.0, decode[rollupJSON](t, rec).Revenue)
}

func TestResponseCacheRollsOverAtMidnight(t *testing.T) {
	current := time.Date(2025, 3, 10, 23, 50, 0, 0, time.UTC)
	srv := newTestServerAt(t, Options{}, func() time.Time { return current })

	createEntry(t, srv, `{"timestamp":"2025-03-10T09:00:00Z","type":"ORDER","amount":50}`)

	rec := do(t, srv, http.MethodGet, "/api/rollup?timeframe=TODAY", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 50.0, decode[struct {
		Revenue float64 `json:"revenue"`
	}](t, rec).Revenue)
	rec = do(t, srv, http.MethodGet, "/api/achievements", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))

	current = time.Date(2025, 3, 11, 0, 10, 0, 0, time.UTC)

	rec = do(t, srv, http.MethodGet, "/api/rollup?timeframe=TODAY", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, 0.0, decode[struct {
		Revenue float64 `json:"revenue"`
	}](t, rec).Revenue)

	rec = do(t, srv, http.MethodGet, "/api/achievements", "")
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))

	rec = do(t, srv, http.MethodGet, "/api/rollup?timeframe=YESTERDAY", "")
	assert.Equal(t, 50.0, decode[struct {
		Revenue float64 `json:"revenue"`
	}](t, rec).Revenue)
}

func TestCreateEntryValidation(t *testing.T) {
	srv := newTestServer(t, Options{})

	tests := []struct {
		name     string
		body     string
		wantCode string
		contains string
	}{
		{"misspelled type", `{"type":"ordr","amount":5}`, "validation_error", "ORDER"},
		{"missing amount", `{"type":"ORDER"}`, "validation_error", "amount"},
		{"missing type", `{"amount":5}`, "validation_error", "type"},
		{"zero amount", `{"type":"ORDER","amount":0}`, "validation_error", ""},
		{"oversized amount", `{"type":"ORDER","amount":100000000000000000}`, "validation_error", "amount"},
		{"bad date", `{"type":"ORDER","amount":5,"date":"2025-02-30"}`, "", ""},
		{"empty body", ``, "bad_request", ""},
		{"malformed json", `{"type":`, "bad_request", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/entries", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			apiErr := decode[APIError](t, rec)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, apiErr.Code)
			}
			if tt.contains != "" {
				assert.Contains(t, apiErr.Error, tt.contains)
			}
		})
	}
}

func TestCreateEntryNormalizesSign(t *testing.T) {
	srv := newTestServer(t, Options{})

	rec := do(t, srv, http.MethodPost, "/api/entries", `{"type":"ORDER","amount":-12.5}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	got := decode[entryJSON](t, rec)
	assert.Equal(t, 12.5, got.Amount)
	assert.Equal(t, "/api/entries/"+strconv.FormatInt(got.ID, 10), rec.Header().Get("Location"))
	// No timestamp falls back to the server clock.
	assert.Equal(t, "2025-03-10T12:00:00Z", got.Timestamp)
}

func TestWindowErrors(t *testing.T) {
	srv := newTestServer(t, Options{})

	rec := do(t, srv, http.MethodGet, "/api/rollup?timeframe=FOREVER", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decode[APIError](t, rec).Code)

	rec = do(t, srv, http.MethodGet, "/api/rollup?from=2025-13-01&to=2025-03-01", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_date", decode[APIError](t, rec).Code)

	rec = do(t, srv, http.MethodGet, "/api/entries?cursor=999", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_cursor", decode[APIError](t, rec).Code)

	rec = do(t, srv, http.MethodGet, "/api/entries?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListEntries(t *testing.T) {
	srv := newTestServer(t, Options{})

	first := createEntry(t, srv, `{"timestamp":"2025-03-10T08:00:00Z","type":"ORDER","app":"UBEREATS","amount":30}`)
	second := createEntry(t, srv, `{"timestamp":"2025-03-10T09:00:00Z","type":"EXPENSE","amount":12,"category":"GAS"}`)
	third := createEntry(t, srv, `{"timestamp":"2025-03-10T10:00:00Z","type":"ORDER","app":"DOORDASH","amount":8}`)

	t.Run("pages newest first", func(t *testing.T) {
		rec := do(t, srv, http.MethodGet, "/api/entries?limit=2", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		page := decode[[]entryJSON](t, rec)
		require.Len(t, page, 2)
		assert.Equal(t, third.ID, page[0].ID)
		assert.Equal(t, second.ID, page[1].ID)
		cursor := rec.Header().Get("X-Next-Cursor")
		assert.Equal(t, strconv.FormatInt(second.ID, 10), cursor)

		rec = do(t, srv, http.MethodGet, "/api/entries?limit=2&cursor="+cursor, "")
		require.Equal(t, http.StatusOK, rec.Code)
		page = decode[[]entryJSON](t, rec)
		require.Len(t, page, 1)
		assert.Equal(t, first.ID, page[0].ID)
		assert.Empty(t, rec.Header().Get("X-Next-Cursor"))
	})

	t.Run("type filter", func(t *testing.T) {
		rec := do(t, srv, http.MethodGet, "/api/entries?type=expense", "")
		page := decode[[]entryJSON](t, rec)
		require.Len(t, page, 1)
		assert.Equal(t, second.ID, page[0].ID)
	})

	t.Run("sort by amount", func(t *testing.T) {
		rec := do(t, srv, http.MethodGet, "/api/entries?sort=amount:asc", "")
		page := decode[[]entryJSON](t, rec)
		require.Len(t, page, 3)
		assert.Equal(t, []int64{third.ID, second.ID, first.ID}, []int64{page[0].ID, page[1].ID, page[2].ID})
	})

	t.Run("bad sort", func(t *testing.T) {
		rec := do(t, srv, http.MethodGet, "/api/entries?sort=colour", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty user gets an array", func(t *testing.T) {
		rec := do(t, srv, http.MethodGet, "/api/entries", "", HeaderUserID, "nobody")
		assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
	})
}

func TestUpdateEntry(t *testing.T) {
	srv := newTestServer(t, Options{})
	e := createEntry(t, srv, `{"timestamp":"2025-03-10T09:15:00Z","type":"ORDER","amount":20}`)
	path := "/api/entries/" + strconv.FormatInt(e.ID, 10)

	rec := do(t, srv, http.MethodPut, path, `{"date":"2025-03-08"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2025-03-08T09:15:00Z", decode[entryJSON](t, rec).Timestamp)

	rec = do(t, srv, http.MethodPut, path, `{"amount":"33.10","type":"bonus"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[entryJSON](t, rec)
	assert.Equal(t, 33.1, got.Amount)
	assert.Equal(t, "BONUS", got.Type)

	rec = do(t, srv, http.MethodPut, "/api/entries/999", `{"amount":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteEntries(t *testing.T) {
	srv := newTestServer(t, Options{})
	a := createEntry(t, srv, `{"type":"ORDER","amount":10}`)
	b := createEntry(t, srv, `{"type":"ORDER","amount":11}`)
	createEntry(t, srv, `{"type":"ORDER","amount":12}`)

	rec := do(t, srv, http.MethodDelete, "/api/entries/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[APIError](t, rec).Code)

	rec = do(t, srv, http.MethodDelete, "/api/entries/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/api/entries/"+strconv.FormatInt(a.ID, 10), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/entries/bulk-delete",
		`{"ids":[`+strconv.FormatInt(b.ID, 10)+`,999]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[services.BulkDeleteResult](t, rec)
	assert.Equal(t, []int64{b.ID}, res.Deleted)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, int64(999), res.Failed[0].ID)

	rec = do(t, srv, http.MethodPost, "/api/entries/bulk-delete", `{"ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/api/entries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"deleted": 1}, decode[map[string]int](t, rec))
}

func TestGoals(t *testing.T) {
	srv := newTestServer(t, Options{})

	rec := do(t, srv, http.MethodGet, "/api/goals/THIS_MONTH", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))

	rec = do(t, srv, http.MethodPut, "/api/goals/this_month", `{"target_profit":1000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	type goalJSON struct {
		Timeframe    string  `json:"timeframe"`
		TargetProfit float64 `json:"target_profit"`
	}
	assert.Equal(t, goalJSON{"THIS_MONTH", 1000}, decode[goalJSON](t, rec))

	rec = do(t, srv, http.MethodGet, "/api/goals/THIS_MONTH", "")
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, 1000.0, decode[goalJSON](t, rec).TargetProfit)

	rec = do(t, srv, http.MethodGet, "/api/goals", "")
	assert.Len(t, decode[[]goalJSON](t, rec), 1)

	rec = do(t, srv, http.MethodPost, "/api/goals", `{"timeframe":"bogus","target_profit":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/goals", `{"timeframe":"TODAY"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/goals/NOPE", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for range 2 {
		rec = do(t, srv, http.MethodDelete, "/api/goals/THIS_MONTH", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
	rec = do(t, srv, http.MethodGet, "/api/goals/THIS_MONTH", "")
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
}

func TestSettings(t *testing.T) {
	srv := newTestServer(t, Options{})
	type settingsJSON struct {
		CostPerMile float64 `json:"cost_per_mile"`
	}

	rec := do(t, srv, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.5, decode[settingsJSON](t, rec).CostPerMile)

	rec = do(t, srv, http.MethodPut, "/api/settings", `{"cost_per_mile":0.7}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 0.7, decode[settingsJSON](t, rec).CostPerMile)

	rec = do(t, srv, http.MethodGet, "/api/settings", "")
	assert.Equal(t, 0.7, decode[settingsJSON](t, rec).CostPerMile)

	rec = do(t, srv, http.MethodPost, "/api/settings", `{"cost_per_mile":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/settings", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPointsAndCheckIn(t *testing.T) {
	srv := newTestServer(t, Options{})
	type pointsJSON struct {
		TotalPoints int `json:"total_points"`
	}
	type checkInJSON struct {
		PointsEarned int  `json:"points_earned"`
		TotalPoints  int  `json:"total_points"`
		Already      bool `json:"already_checked_in"`
	}

	rec := do(t, srv, http.MethodGet, "/api/points/user", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100, decode[pointsJSON](t, rec).TotalPoints)

	rec = do(t, srv, http.MethodPost, "/api/points/daily-check-in", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[checkInJSON](t, rec)
	assert.Equal(t, checkInJSON{PointsEarned: 10, TotalPoints: 110}, first)

	rec = do(t, srv, http.MethodPost, "/api/points/daily-check-in", "")
	second := decode[checkInJSON](t, rec)
	assert.True(t, second.Already)
	assert.Zero(t, second.PointsEarned)
	assert.Equal(t, 110, second.TotalPoints)

	rec = do(t, srv, http.MethodGet, "/api/points/user", "")
	assert.Equal(t, 110, decode[pointsJSON](t, rec).TotalPoints)

	rec = do(t, srv, http.MethodGet, "/api/points/rewards", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDashboardEndpoints(t *testing.T) {
	srv := newTestServer(t, Options{})
	createEntry(t, srv, `{"timestamp":"2025-03-10T09:00:00Z","type":"ORDER","app":"UBEREATS","amount":40}`)
	createEntry(t, srv, `{"timestamp":"2025-03-02T09:00:00Z","type":"ORDER","app":"UBEREATS","amount":25}`)

	rec := do(t, srv, http.MethodGet, "/api/dashboard/overview", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	overview := decode[struct {
		Entries   []entryJSON `json:"entries"`
		Timeframe string      `json:"timeframe"`
	}](t, rec)
	assert.Equal(t, "TODAY", overview.Timeframe)
	assert.Len(t, overview.Entries, 1)

	rec = do(t, srv, http.MethodGet, "/api/calendar", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode[[]map[string]any](t, rec))

	rec = do(t, srv, http.MethodGet, "/api/achievements", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, decode[map[string]any](t, rec), "level")

	rec = do(t, srv, http.MethodGet, "/api/suggestions", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sugg := decode[map[string]any](t, rec)
	assert.Equal(t, "rules", sugg["source"])
	assert.Equal(t, 2.0, sugg["total_orders"])
}

func TestExportCSV(t *testing.T) {
	srv := newTestServer(t, Options{})
	createEntry(t, srv, `{"timestamp":"2025-03-10T09:00:00Z","type":"ORDER","app":"UBEREATS","amount":40}`)

	rec := do(t, srv, http.MethodGet, "/api/export.csv?timeframe=TODAY", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "earnings-pro-today-2025-03-10.csv")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "EARNINGS PRO"), rec.Body.String())
}

func TestReceiptUpload(t *testing.T) {
	srv := newTestServer(t, Options{})
	e := createEntry(t, srv, `{"type":"EXPENSE","amount":9,"category":"PARKING"}`)

	upload := func(id int64, filename string, content []byte) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/entries/"+strconv.FormatInt(id, 10)+"/receipt", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, req)
		return rec
	}

	png := []byte("\x89PNG\r\n\x1a\nfake image")
	rec := upload(e.ID, "receipt.png", png)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[entryJSON](t, rec)
	require.True(t, strings.HasPrefix(got.ReceiptURL, receipts.URLPrefix), got.ReceiptURL)

	rec = do(t, srv, http.MethodGet, got.ReceiptURL, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, png, rec.Body.Bytes())

	rec = upload(e.ID, "malware.exe", []byte("MZ"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_receipt", decode[APIError](t, rec).Code)

	rec = upload(999, "receipt.png", png)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, "/receipts/../../etc/passwd", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUsersAreIsolated(t *testing.T) {
	srv := newTestServer(t, Options{})
	e := createEntry(t, srv, `{"type":"ORDER","amount":10}`, HeaderUserID, "alice")

	rec := do(t, srv, http.MethodGet, "/api/entries", "", HeaderUserID, "bob")
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	rec = do(t, srv, http.MethodDelete, "/api/entries/"+strconv.FormatInt(e.ID, 10), "", HeaderUserID, "bob")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/entries", "", HeaderUserID, "alice")
	assert.Len(t, decode[[]entryJSON](t, rec), 1)

	rec = do(t, srv, http.MethodGet, "/api/entries", "", HeaderUserID, "bad|user")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, Options{RateLimitPerMinute: 2})

	for i := 0; i < 2; i++ {
		rec := do(t, srv, http.MethodGet, "/api/settings", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, srv, http.MethodGet, "/api/settings", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Probes sit outside /api and are never limited.
	rec = do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetrics(t *testing.T) {
	srv := newTestServer(t, Options{RateLimitPerMinute: 100})
	createEntry(t, srv, `{"type":"ORDER","amount":10}`)
	do(t, srv, http.MethodGet, "/api/settings", "")
	do(t, srv, http.MethodGet, "/api/settings", "")

	rec := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode[struct {
		App   map[string]int64 `json:"app"`
		Cache map[string]struct {
			Hits int64 `json:"hits"`
		} `json:"cache"`
		RateLimit *struct {
			TotalHits int64 `json:"total_hits"`
			Rejected  int64 `json:"rejected"`
		} `json:"rate_limit"`
	}](t, rec)
	assert.Equal(t, int64(1), m.App["entries_created"])
	assert.Equal(t, int64(1), m.Cache["responses"].Hits)
	require.NotNil(t, m.RateLimit)
	assert.Equal(t, int64(3), m.RateLimit.TotalHits)
	assert.Zero(t, m.RateLimit.Rejected)
}

func TestSecurityHeadersOnAPI(t *testing.T) {
	srv := newTestServer(t, Options{})

	rec := do(t, srv, http.MethodGet, "/api/settings", "")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
