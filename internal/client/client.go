// Package client talks to the Earnings Ninja REST API.
//
// Reads go through a small query cache keyed by resource and parameters.
// A failed read is retried once; mutations are never retried and, on
// success, drop every cached read that depends on what they changed.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ninja/internal/aggregate"
	"ninja/internal/cache"
	"ninja/internal/core"
	"ninja/internal/points"
)

const (
	resRollup       = "rollup"
	resEntries      = "entries"
	resCalendar     = "calendar"
	resOverview     = "overview"
	resAchievements = "achievements"
	resSuggestions  = "suggestions"
	resGoals        = "goals"
	resSettings     = "settings"
	resPoints       = "points"
)

// Reads that change whenever an entry does.
var entryDependents = []string{resEntries, resRollup, resCalendar, resOverview, resAchievements, resSuggestions}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type APIClient struct {
	baseURL    string
	userID     string
	httpClient *http.Client
	retryDelay time.Duration

	queries *cache.Loader[[]byte]
}

type Option func(*APIClient)

// WithUserID sends id as X-User-ID on every call.
func WithUserID(id string) Option {
	return func(c *APIClient) { c.userID = id }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *APIClient) { c.httpClient = hc }
}

// WithCacheTTL bounds how long a read is served from the cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *APIClient) { c.queries = cache.NewLoader[[]byte](cache.NewLRUCache[[]byte](256, ttl)) }
}

// WithRetryDelay sets the pause before the single read retry.
func WithRetryDelay(d time.Duration) Option {
	return func(c *APIClient) { c.retryDelay = d }
}

func NewAPIClient(baseURL string, opts ...Option) *APIClient {
	c := &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		retryDelay: 500 * time.Millisecond,
		queries:    cache.NewLoader[[]byte](cache.NewLRUCache[[]byte](256, 5*time.Minute)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Window selects the period of a read. The zero value is unbounded.
type Window struct {
	Timeframe core.Timeframe
	From, To  string // YYYY-MM-DD
	DayOffset int
}

func (w Window) values() url.Values {
	v := url.Values{}
	if w.Timeframe != "" {
		v.Set("timeframe", string(w.Timeframe))
	}
	if w.From != "" {
		v.Set("from", w.From)
	}
	if w.To != "" {
		v.Set("to", w.To)
	}
	if w.DayOffset != 0 {
		v.Set("day_offset", strconv.Itoa(w.DayOffset))
	}
	return v
}

// ListOptions narrow an entries listing.
type ListOptions struct {
	Limit  int
	Cursor int64
	Types  []core.EntryType
	Apps   []core.App
	Query  string
	Sort   string // column[:asc|desc]
}

// EntryInput is the body of create and update calls. Empty fields are
// left out, so an update only touches what is set.
type EntryInput struct {
	Timestamp       string      `json:"timestamp,omitempty"`
	Date            string      `json:"date,omitempty"`
	Time            string      `json:"time,omitempty"`
	Type            string      `json:"type,omitempty"`
	App             string      `json:"app,omitempty"`
	OrderID         string      `json:"order_id,omitempty"`
	Amount          *core.Money `json:"amount,omitempty"`
	DistanceMiles   *float64    `json:"distance_miles,omitempty"`
	DurationMinutes *int        `json:"duration_minutes,omitempty"`
	Category        string      `json:"category,omitempty"`
	Note            string      `json:"note,omitempty"`
}

// BulkDeleteResult mirrors the bulk delete answer.
type BulkDeleteResult struct {
	Deleted []int64 `json:"deleted"`
	Failed  []struct {
		ID    int64  `json:"id"`
		Error string `json:"error"`
	} `json:"failed"`
}

// Page is one slice of a newest-first listing. NextCursor is 0 on the last page.
type Page struct {
	Entries    []core.Entry
	NextCursor int64
}

func (c *APIClient) Rollup(ctx context.Context, w Window) (aggregate.Rollup, error) {
	var r aggregate.Rollup
	err := c.query(ctx, resRollup, "/api/rollup", w.values(), &r)
	return r, err
}

func (c *APIClient) Calendar(ctx context.Context, w Window) ([]aggregate.DayBucket, error) {
	var days []aggregate.DayBucket
	err := c.query(ctx, resCalendar, "/api/calendar", w.values(), &days)
	return days, err
}

// Entries fetches one page of entries. The next cursor travels in a
// header, so the cached value is the whole Page.
func (c *APIClient) Entries(ctx context.Context, w Window, opts ListOptions) (Page, error) {
	v := w.values()
	if opts.Limit > 0 {
		v.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor > 0 {
		v.Set("cursor", strconv.FormatInt(opts.Cursor, 10))
	}
	for _, t := range opts.Types {
		v.Add("type", string(t))
	}
	for _, a := range opts.Apps {
		v.Add("app", string(a))
	}
	if opts.Query != "" {
		v.Set("q", opts.Query)
	}
	if opts.Sort != "" {
		v.Set("sort", opts.Sort)
	}

	body, _, err := c.queries.Get(ctx, resEntries+"?"+v.Encode(), func(ctx context.Context) ([]byte, error) {
		var page Page
		header, err := c.getWithRetry(ctx, "/api/entries", v, &page.Entries)
		if err != nil {
			return nil, err
		}
		if raw := header.Get("X-Next-Cursor"); raw != "" {
			page.NextCursor, err = strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse next cursor %q: %w", raw, err)
			}
		}
		return json.Marshal(page)
	})
	if err != nil {
		return Page{}, err
	}

	var page Page
	if err := json.Unmarshal(body, &page); err != nil {
		return Page{}, fmt.Errorf("decode entries: %w", err)
	}
	return page, nil
}

func (c *APIClient) CreateEntry(ctx context.Context, in EntryInput) (core.Entry, error) {
	var e core.Entry
	err := c.mutate(ctx, http.MethodPost, "/api/entries", in, &e, entryDependents...)
	return e, err
}

func (c *APIClient) UpdateEntry(ctx context.Context, id int64, in EntryInput) (core.Entry, error) {
	var e core.Entry
	err := c.mutate(ctx, http.MethodPut, entryPath(id), in, &e, entryDependents...)
	return e, err
}

func (c *APIClient) DeleteEntry(ctx context.Context, id int64) error {
	return c.mutate(ctx, http.MethodDelete, entryPath(id), nil, nil, entryDependents...)
}

func (c *APIClient) BulkDelete(ctx context.Context, ids []int64) (BulkDeleteResult, error) {
	var res BulkDeleteResult
	body := struct {
		IDs []int64 `json:"ids"`
	}{IDs: ids}
	err := c.mutate(ctx, http.MethodPost, "/api/entries/bulk-delete", body, &res, entryDependents...)
	return res, err
}

// Goal returns nil when the timeframe has no goal.
func (c *APIClient) Goal(ctx context.Context, tf core.Timeframe) (*core.Goal, error) {
	var g *core.Goal
	err := c.query(ctx, resGoals, "/api/goals/"+url.PathEscape(string(tf)), nil, &g)
	return g, err
}

func (c *APIClient) Goals(ctx context.Context) ([]core.Goal, error) {
	var goals []core.Goal
	err := c.query(ctx, resGoals, "/api/goals", nil, &goals)
	return goals, err
}

func (c *APIClient) SetGoal(ctx context.Context, tf core.Timeframe, target core.Money) (core.Goal, error) {
	var g core.Goal
	body := struct {
		TargetProfit core.Money `json:"target_profit"`
	}{TargetProfit: target}
	err := c.mutate(ctx, http.MethodPut, "/api/goals/"+url.PathEscape(string(tf)), body, &g,
		resGoals, resRollup, resOverview)
	return g, err
}

func (c *APIClient) DeleteGoal(ctx context.Context, tf core.Timeframe) error {
	return c.mutate(ctx, http.MethodDelete, "/api/goals/"+url.PathEscape(string(tf)), nil, nil,
		resGoals, resRollup, resOverview)
}

func (c *APIClient) Settings(ctx context.Context) (core.Settings, error) {
	var s core.Settings
	err := c.query(ctx, resSettings, "/api/settings", nil, &s)
	return s, err
}

func (c *APIClient) UpdateSettings(ctx context.Context, costPerMile core.Rate) (core.Settings, error) {
	var s core.Settings
	body := struct {
		CostPerMile core.Rate `json:"cost_per_mile"`
	}{CostPerMile: costPerMile}
	err := c.mutate(ctx, http.MethodPut, "/api/settings", body, &s,
		resSettings, resRollup, resOverview)
	return s, err
}

func (c *APIClient) Points(ctx context.Context) (core.UserPoints, error) {
	var p core.UserPoints
	err := c.query(ctx, resPoints, "/api/points/user", nil, &p)
	return p, err
}

func (c *APIClient) CheckIn(ctx context.Context) (points.CheckInResult, error) {
	var res points.CheckInResult
	err := c.mutate(ctx, http.MethodPost, "/api/points/daily-check-in", nil, &res, resPoints)
	return res, err
}

// Export downloads the CSV of a window with its suggested file name.
func (c *APIClient) Export(ctx context.Context, w Window) (string, []byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/export.csv", w.values(), nil)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("read export: %w", err)
	}
	name := "export.csv"
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	return name, body, nil
}

// Invalidate drops every cached read of the named resources.
func (c *APIClient) Invalidate(resources ...string) {
	for _, r := range resources {
		c.queries.Invalidate(r + "?")
		c.queries.Invalidate(r + "/")
	}
}

func entryPath(id int64) string {
	return "/api/entries/" + strconv.FormatInt(id, 10)
}

// query serves a cached read or fetches it, retrying once on failure.
func (c *APIClient) query(ctx context.Context, resource, path string, params url.Values, dst any) error {
	key := resource + strings.TrimPrefix(path, "/api/"+resource) + "?" + params.Encode()
	body, _, err := c.queries.Get(ctx, key, func(ctx context.Context) ([]byte, error) {
		var raw json.RawMessage
		if _, err := c.getWithRetry(ctx, path, params, &raw); err != nil {
			return nil, err
		}
		return raw, nil
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode %s: %w", resource, err)
	}
	return nil
}

func (c *APIClient) getWithRetry(ctx context.Context, path string, params url.Values, dst any) (http.Header, error) {
	header, err := c.call(ctx, http.MethodGet, path, params, nil, dst)
	if err == nil || !retryable(err) || ctx.Err() != nil {
		return header, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.retryDelay):
	}
	return c.call(ctx, http.MethodGet, path, params, nil, dst)
}

// retryable excludes client errors: repeating a bad request cannot help.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 || apiErr.Status == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}

func (c *APIClient) mutate(ctx context.Context, method, path string, body, dst any, invalidates ...string) error {
	if _, err := c.call(ctx, method, path, nil, body, dst); err != nil {
		return err
	}
	c.Invalidate(invalidates...)
	return nil
}

func (c *APIClient) call(ctx context.Context, method, path string, params url.Values, body, dst any) (http.Header, error) {
	resp, err := c.do(ctx, method, path, params, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if dst == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.Header, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}
	return resp.Header, nil
}

// do sends the request and turns non-2xx answers into *APIError.
func (c *APIClient) do(ctx context.Context, method, path string, params url.Values, body any) (*http.Response, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("error encoding request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making request: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var errRes struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errRes); err == nil && errRes.Error != "" {
		apiErr.Message, apiErr.Code = errRes.Error, errRes.Code
	}
	return nil, apiErr
}
