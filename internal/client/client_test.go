package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ninja/internal/core"
)

type fakeAPI struct {
	mux   *http.ServeMux
	calls map[string]*atomic.Int64
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{mux: http.NewServeMux(), calls: map[string]*atomic.Int64{}}
}

func (f *fakeAPI) handle(pattern string, h http.HandlerFunc) {
	n := &atomic.Int64{}
	f.calls[pattern] = n
	f.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		n.Add(1)
		h(w, r)
	})
}

func (f *fakeAPI) count(pattern string) int64 { return f.calls[pattern].Load() }

func jsonBody(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func newTestClient(t *testing.T, api *fakeAPI, opts ...Option) *APIClient {
	t.Helper()
	srv := httptest.NewServer(api.mux)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithRetryDelay(time.Millisecond)}, opts...)
	return NewAPIClient(srv.URL+"/", opts...)
}

func TestQueryCacheAndInvalidation(t *testing.T) {
	api := newFakeAPI()
	var revenue atomic.Int64
	revenue.Store(50)
	api.handle("GET /api/rollup", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TODAY", r.URL.Query().Get("timeframe"))
		if revenue.Load() == 50 {
			jsonBody(w, http.StatusOK, `{"revenue":50.00,"expenses":20.00,"profit":30.00}`)
			return
		}
		jsonBody(w, http.StatusOK, `{"revenue":55.00,"expenses":20.00,"profit":35.00}`)
	})
	api.handle("POST /api/entries", func(w http.ResponseWriter, r *http.Request) {
		revenue.Store(55)
		jsonBody(w, http.StatusCreated, `{"id":3,"type":"BONUS","app":"OTHER","amount":5.00}`)
	})
	api.handle("GET /api/settings", func(w http.ResponseWriter, r *http.Request) {
		jsonBody(w, http.StatusOK, `{"cost_per_mile":0.5}`)
	})
	c := newTestClient(t, api)
	ctx := context.Background()
	today := Window{Timeframe: core.Today}

	r, err := c.Rollup(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, core.Cents(3000), r.Profit)

	_, err = c.Rollup(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, int64(1), api.count("GET /api/rollup"), "second read served from cache")

	_, err = c.Settings(ctx)
	require.NoError(t, err)

	amount := core.Cents(500)
	e, err := c.CreateEntry(ctx, EntryInput{Type: "BONUS", Amount: &amount})
	require.NoError(t, err)
	assert.Equal(t, int64(3), e.ID)

	r, err = c.Rollup(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, core.Cents(3500), r.Profit)
	assert.Equal(t, int64(2), api.count("GET /api/rollup"))

	// Settings do not depend on entries.
	_, err = c.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), api.count("GET /api/settings"))
}

func TestQueryRetriesOnce(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		wantErr   bool
		wantCalls int64
	}{
		{"recovers after server error", []int{500, 200}, false, 2},
		{"gives up after second failure", []int{503, 502, 200}, true, 2},
		{"client error is not retried", []int{400, 200}, true, 1},
		{"rate limit is retried", []int{429, 200}, false, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			var n atomic.Int64
			api.handle("GET /api/settings", func(w http.ResponseWriter, r *http.Request) {
				status := tt.statuses[n.Add(1)-1]
				if status != http.StatusOK {
					jsonBody(w, status, `{"error":"boom","code":"internal_error"}`)
					return
				}
				jsonBody(w, http.StatusOK, `{"cost_per_mile":0.65}`)
			})
			c := newTestClient(t, api)

			s, err := c.Settings(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				var apiErr *APIError
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, "boom", apiErr.Message)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "0.65", s.CostPerMile.String())
			}
			assert.Equal(t, tt.wantCalls, api.count("GET /api/settings"))
		})
	}
}

func TestMutationsAreNotRetried(t *testing.T) {
	api := newFakeAPI()
	api.handle("POST /api/points/daily-check-in", func(w http.ResponseWriter, r *http.Request) {
		jsonBody(w, http.StatusInternalServerError, `{"error":"Internal server error","code":"internal_error"}`)
	})
	c := newTestClient(t, api)

	_, err := c.CheckIn(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(1), api.count("POST /api/points/daily-check-in"))
}

func TestFailedMutationKeepsCache(t *testing.T) {
	api := newFakeAPI()
	api.handle("GET /api/points/user", func(w http.ResponseWriter, r *http.Request) {
		jsonBody(w, http.StatusOK, `{"total_points":100,"daily_streak":0}`)
	})
	api.handle("POST /api/points/daily-check-in", func(w http.ResponseWriter, r *http.Request) {
		jsonBody(w, http.StatusBadRequest, `{"error":"nope","code":"bad_request"}`)
	})
	c := newTestClient(t, api)
	ctx := context.Background()

	p, err := c.Points(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, p.TotalPoints)

	_, err = c.CheckIn(ctx)
	require.Error(t, err)

	_, err = c.Points(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), api.count("GET /api/points/user"))
}

func TestGoalNullAndSet(t *testing.T) {
	api := newFakeAPI()
	var set atomic.Bool
	api.handle("GET /api/goals/{tf}", func(w http.ResponseWriter, r *http.Request) {
		if !set.Load() {
			jsonBody(w, http.StatusOK, "null\n")
			return
		}
		jsonBody(w, http.StatusOK, `{"timeframe":"THIS_WEEK","target_profit":750.00}`)
	})
	api.handle("PUT /api/goals/{tf}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "THIS_WEEK", r.PathValue("tf"))
		set.Store(true)
		jsonBody(w, http.StatusOK, `{"timeframe":"THIS_WEEK","target_profit":750.00}`)
	})
	c := newTestClient(t, api)
	ctx := context.Background()

	g, err := c.Goal(ctx, core.ThisWeek)
	require.NoError(t, err)
	assert.Nil(t, g)

	_, err = c.SetGoal(ctx, core.ThisWeek, core.Cents(75000))
	require.NoError(t, err)

	g, err = c.Goal(ctx, core.ThisWeek)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, core.Cents(75000), g.TargetProfit)
	assert.Equal(t, int64(2), api.count("GET /api/goals/{tf}"))
}

func TestEntriesPaging(t *testing.T) {
	api := newFakeAPI()
	api.handle("GET /api/entries", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, []string{"ORDER", "BONUS"}, q["type"])
		if q.Get("cursor") == "" {
			w.Header().Set("X-Next-Cursor", "7")
			jsonBody(w, http.StatusOK, `[{"id":9,"type":"ORDER","app":"UBEREATS","amount":12.00},{"id":7,"type":"BONUS","app":"UBEREATS","amount":3.00}]`)
			return
		}
		assert.Equal(t, "7", q.Get("cursor"))
		jsonBody(w, http.StatusOK, `[{"id":4,"type":"ORDER","app":"UBEREATS","amount":8.00}]`)
	})
	c := newTestClient(t, api)
	ctx := context.Background()
	opts := ListOptions{Limit: 2, Types: []core.EntryType{core.Order, core.Bonus}}

	page, err := c.Entries(ctx, Window{}, opts)
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, int64(7), page.NextCursor)
	assert.Equal(t, core.Cents(1200), page.Entries[0].Amount)

	opts.Cursor = page.NextCursor
	page, err = c.Entries(ctx, Window{}, opts)
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Zero(t, page.NextCursor)

	// Cached pages keep their cursor.
	opts.Cursor = 0
	page, err = c.Entries(ctx, Window{}, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(7), page.NextCursor)
	assert.Equal(t, int64(2), api.count("GET /api/entries"))
}

func TestUserHeaderAndErrors(t *testing.T) {
	api := newFakeAPI()
	api.handle("DELETE /api/entries/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "alice", r.Header.Get("X-User-ID"))
		if r.PathValue("id") == "1" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		jsonBody(w, http.StatusNotFound, `{"error":"entry not found","code":"not_found"}`)
	})
	c := newTestClient(t, api, WithUserID("alice"))
	ctx := context.Background()

	require.NoError(t, c.DeleteEntry(ctx, 1))

	err := c.DeleteEntry(ctx, 2)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "not_found")
}

func TestExport(t *testing.T) {
	api := newFakeAPI()
	api.handle("GET /api/export.csv", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="earnings-pro-today-2025-03-10.csv"`)
		_, _ = w.Write([]byte("EARNINGS PRO - DATA EXPORT\n"))
	})
	c := newTestClient(t, api)

	name, body, err := c.Export(context.Background(), Window{Timeframe: core.Today})
	require.NoError(t, err)
	assert.Equal(t, "earnings-pro-today-2025-03-10.csv", name)
	assert.Equal(t, "EARNINGS PRO - DATA EXPORT\n", string(body))
}

func TestCancelledContext(t *testing.T) {
	api := newFakeAPI()
	api.handle("GET /api/settings", func(w http.ResponseWriter, r *http.Request) {
		jsonBody(w, http.StatusOK, `{"cost_per_mile":0.5}`)
	})
	c := newTestClient(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Settings(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, api.count("GET /api/settings"))
}
