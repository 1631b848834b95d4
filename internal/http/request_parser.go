package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ninja/internal/core"
	"ninja/internal/ledger"
	"ninja/internal/log"
	"ninja/internal/period"
	"ninja/internal/services"
)

// HeaderUserID selects the user a request acts for.
const HeaderUserID = "X-User-ID"

const (
	maxUserIDLength = 128
	maxJSONBody     = 1 << 20
)

type userKey struct{}

// withUser resolves X-User-ID, falling back to the configured default user.
func (s *Server) withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := sanitizeInput(r.Header.Get(HeaderUserID))
		if userID == "" {
			userID = s.opts.DefaultUserID
		}
		if len(userID) > maxUserIDLength || strings.ContainsAny(userID, "|\n\r") {
			writeError(w, r, http.StatusBadRequest, "bad_request", "invalid "+HeaderUserID+" header")
			return
		}

		ctx := context.WithValue(r.Context(), userKey{}, userID)
		ctx = log.NewContext(ctx, log.FromContext(ctx).With(log.FieldUserID, userID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}

// parseWindowQuery reads timeframe, from, to and day_offset.
func parseWindowQuery(q url.Values) (services.WindowQuery, error) {
	wq := services.WindowQuery{
		Timeframe: strings.TrimSpace(q.Get("timeframe")),
		From:      strings.TrimSpace(q.Get("from")),
		To:        strings.TrimSpace(q.Get("to")),
	}
	if v := strings.TrimSpace(q.Get("day_offset")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return services.WindowQuery{}, fmt.Errorf("%w: day_offset must be an integer", errBadRequest)
		}
		wq.DayOffset = n
	}
	return wq, nil
}

func (s *Server) resolveWindow(r *http.Request, fallback core.Timeframe) (services.Window, error) {
	wq, err := parseWindowQuery(r.URL.Query())
	if err != nil {
		return services.Window{}, err
	}
	return s.deps.Dashboard.Resolve(wq, fallback)
}

func parseIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid entry id %q", errBadRequest, raw)
	}
	return id, nil
}

func parseOptionalInt(q url.Values, name string) (int64, error) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, name)
	}
	return n, nil
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			return fmt.Errorf("%w: body larger than %d bytes", errBadRequest, maxJSONBody)
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: empty body", errBadRequest)
		}
		// Domain unmarshalers wrap their sentinel; keep it visible.
		for _, v := range validationErrors {
			if errors.Is(err, v) {
				return err
			}
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// listFilter reads the table filters and sort of the entries listing.
func listFilter(q url.Values) (ledger.Filter, ledger.Sort, error) {
	var f ledger.Filter
	for _, raw := range splitCSV(q["type"]) {
		t, err := core.ParseEntryType(raw)
		if err != nil {
			return f, ledger.Sort{}, err
		}
		f.Types = append(f.Types, t)
	}
	for _, raw := range splitCSV(q["app"]) {
		a, err := core.ParseApp(raw)
		if err != nil {
			return f, ledger.Sort{}, err
		}
		f.Apps = append(f.Apps, a)
	}
	f.Query = sanitizeInput(q.Get("q"))

	srt, err := ledger.ParseSort(q.Get("sort"))
	if err != nil {
		return f, ledger.Sort{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return f, srt, nil
}

func splitCSV(values []string) []string {
	var out []string
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// entryRequest is the body of entry create and update calls. Pointer
// fields distinguish "absent" from "zero" for partial updates.
type entryRequest struct {
	Timestamp       *string     `json:"timestamp"`
	Date            *string     `json:"date"`
	Time            *string     `json:"time"`
	Type            *string     `json:"type"`
	App             *string     `json:"app"`
	OrderID         *string     `json:"order_id"`
	Amount          *core.Money `json:"amount"`
	DistanceMiles   *float64    `json:"distance_miles"`
	DurationMinutes *int        `json:"duration_minutes"`
	Category        *string     `json:"category"`
	Note            *string     `json:"note"`
}

// combineDateTime joins a YYYY-MM-DD date and an HH:MM time in loc.
func combineDateTime(date, clock string, loc *time.Location) (time.Time, error) {
	d, err := period.ParseDate(date, loc)
	if err != nil {
		return time.Time{}, err
	}
	clock = strings.TrimSpace(clock)
	if clock == "" {
		return d, nil
	}
	layout := "15:04"
	if strings.Count(clock, ":") == 2 {
		layout = "15:04:05"
	}
	c, err := time.Parse(layout, clock)
	if err != nil {
		return time.Time{}, &period.InvalidDateError{Input: clock, Err: err}
	}
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), c.Second(), 0, loc), nil
}

// timestamp resolves the instant of the request. current supplies the
// missing half when only one of date or time is sent.
func (req entryRequest) timestamp(current time.Time, loc *time.Location) (*time.Time, error) {
	if req.Timestamp != nil && strings.TrimSpace(*req.Timestamp) != "" {
		t, err := period.ParseInstant(*req.Timestamp, loc)
		if err != nil {
			return nil, err
		}
		return &t, nil
	}
	if req.Date == nil && req.Time == nil {
		return nil, nil
	}

	local := current.In(loc)
	date := local.Format(period.DateLayout)
	clock := local.Format("15:04:05")
	if req.Date != nil {
		date = *req.Date
	}
	if req.Time != nil {
		clock = *req.Time
	}
	t, err := combineDateTime(date, clock, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// toEntry builds a new entry; a missing timestamp means now.
func (req entryRequest) toEntry(now time.Time, loc *time.Location) (core.Entry, error) {
	if req.Type == nil {
		return core.Entry{}, fmt.Errorf("%w: type is required", core.ErrInvalidType)
	}
	if req.Amount == nil {
		return core.Entry{}, fmt.Errorf("%w: amount is required", core.ErrInvalidAmount)
	}

	patch, err := req.toPatch(now, loc)
	if err != nil {
		return core.Entry{}, err
	}
	e := core.Entry{Timestamp: now}
	e.Apply(patch)
	return e, nil
}

// toPatch converts the request into a partial update against current.
func (req entryRequest) toPatch(current time.Time, loc *time.Location) (core.EntryPatch, error) {
	var p core.EntryPatch

	ts, err := req.timestamp(current, loc)
	if err != nil {
		return p, err
	}
	p.Timestamp = ts

	if req.Type != nil {
		t, err := core.ParseEntryType(*req.Type)
		if err != nil {
			return p, err
		}
		p.Type = &t
	}
	if req.App != nil {
		a, err := core.ParseApp(*req.App)
		if err != nil {
			return p, err
		}
		p.App = &a
	}
	if req.Category != nil {
		var c core.ExpenseCategory
		if strings.TrimSpace(*req.Category) != "" {
			if c, err = core.ParseCategory(*req.Category); err != nil {
				return p, err
			}
		}
		p.Category = &c
	}
	if req.OrderID != nil {
		v := sanitizeInput(*req.OrderID)
		p.OrderID = &v
	}
	if req.Note != nil {
		v := sanitizeInput(*req.Note)
		p.Note = &v
	}
	p.Amount = req.Amount
	p.DistanceMiles = req.DistanceMiles
	p.DurationMinutes = req.DurationMinutes
	return p, nil
}

type bulkDeleteRequest struct {
	IDs []int64 `json:"ids"`
}

type goalRequest struct {
	Timeframe    string      `json:"timeframe"`
	TargetProfit *core.Money `json:"target_profit"`
}

type settingsRequest struct {
	CostPerMile *core.Rate `json:"cost_per_mile"`
}
