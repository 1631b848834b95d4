package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"ninja/internal/core"
	ports "ninja/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Config selects the spreadsheet and service account credentials.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
	Location        *time.Location
}

// values is the subset of the Values API the mirror needs.
type values interface {
	get(ctx context.Context, rng string) ([][]any, error)
	update(ctx context.Context, rng string, rows [][]any) error
	append(ctx context.Context, rng string, rows [][]any) error
	clear(ctx context.Context, rng string) error
}

type Client struct {
	api   values
	sheet string
	loc   *time.Location

	mu         sync.Mutex
	headerDone bool
}

var _ ports.EntryMirror = (*Client)(nil)

// New creates a mirror client authenticated with a service account.
func New(ctx context.Context, cfg Config) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	sheet := strings.TrimSpace(cfg.SheetName)
	if sheet == "" {
		sheet = "Entries"
	}

	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return newClient(&serviceValues{svc: svc, spreadsheetID: spreadsheetID}, sheet, cfg.Location), nil
}

func newClient(api values, sheet string, loc *time.Location) *Client {
	if loc == nil {
		loc = time.UTC
	}
	return &Client{api: api, sheet: sheet, loc: loc}
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(cfg.CredentialsJSON)
	serviceAccountFile := strings.TrimSpace(cfg.CredentialsFile)
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		b, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope),
		goption.WithHTTPClient(newHTTPClientWithPooling()))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// newHTTPClientWithPooling creates an HTTP client with connection pooling
// and keep-alive for the Sheets API.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

func (c *Client) ensureHeader(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.headerDone {
		return nil
	}

	rng := fmt.Sprintf("%s!A1:L1", c.sheet)
	rows, err := c.api.get(ctx, rng)
	if err != nil {
		return fmt.Errorf("read header %s: %w", rng, err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		header := make([]any, len(ports.Columns))
		for i, col := range ports.Columns {
			header[i] = col
		}
		if err := c.api.update(ctx, rng, [][]any{header}); err != nil {
			return fmt.Errorf("write header %s: %w", rng, err)
		}
	}
	c.headerDone = true
	return nil
}

// ids reads column A and maps entry IDs to their 1-based row numbers.
func (c *Client) ids(ctx context.Context) (map[int64]int, error) {
	rng := fmt.Sprintf("%s!A:A", c.sheet)
	rows, err := c.api.get(ctx, rng)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	out := make(map[int64]int, len(rows))
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(fmt.Sprint(row[0])), 10, 64)
		if err != nil {
			continue
		}
		out[id] = i + 1
	}
	return out, nil
}

// UpsertEntry rewrites the entry's row in place or appends a new one.
func (c *Client) UpsertEntry(ctx context.Context, e core.Entry) (string, error) {
	if e.ID <= 0 {
		return "", errors.New("entry has no id")
	}
	if err := c.ensureHeader(ctx); err != nil {
		return "", err
	}

	rows, err := c.ids(ctx)
	if err != nil {
		return "", err
	}
	row := ports.EntryRow(e, c.loc)

	if n, ok := rows[e.ID]; ok {
		rng := fmt.Sprintf("%s!A%d:L%d", c.sheet, n, n)
		if err := c.api.update(ctx, rng, [][]any{row}); err != nil {
			return "", fmt.Errorf("update %s: %w", rng, err)
		}
		slog.DebugContext(ctx, "Mirror row updated", "entry_id", e.ID, "range", rng)
		return rng, nil
	}

	rng := fmt.Sprintf("%s!A:L", c.sheet)
	if err := c.api.append(ctx, rng, [][]any{row}); err != nil {
		return "", fmt.Errorf("append to %s: %w", c.sheet, err)
	}
	slog.DebugContext(ctx, "Mirror row appended", "entry_id", e.ID, "sheet", c.sheet)
	return rng, nil
}

// DeleteEntry clears the entry's row. Row positions of other entries are kept.
func (c *Client) DeleteEntry(ctx context.Context, id int64) error {
	rows, err := c.ids(ctx)
	if err != nil {
		return err
	}
	n, ok := rows[id]
	if !ok {
		return nil
	}
	rng := fmt.Sprintf("%s!A%d:L%d", c.sheet, n, n)
	if err := c.api.clear(ctx, rng); err != nil {
		return fmt.Errorf("clear %s: %w", rng, err)
	}
	return nil
}

// PurgeUser clears every row belonging to the user.
func (c *Client) PurgeUser(ctx context.Context, userID string) (int, error) {
	rng := fmt.Sprintf("%s!A:B", c.sheet)
	rows, err := c.api.get(ctx, rng)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", rng, err)
	}
	removed := 0
	for i, row := range rows {
		if i == 0 || len(row) < 2 || strings.TrimSpace(fmt.Sprint(row[1])) != userID {
			continue
		}
		r := fmt.Sprintf("%s!A%d:L%d", c.sheet, i+1, i+1)
		if err := c.api.clear(ctx, r); err != nil {
			return removed, fmt.Errorf("clear %s: %w", r, err)
		}
		removed++
	}
	return removed, nil
}

// serviceValues adapts the generated Sheets service.
type serviceValues struct {
	svc           *gsheet.Service
	spreadsheetID string
}

func (s *serviceValues) get(ctx context.Context, rng string) ([][]any, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (s *serviceValues) update(ctx context.Context, rng string, rows [][]any) error {
	_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, rng, &gsheet.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	return err
}

func (s *serviceValues) append(ctx context.Context, rng string, rows [][]any) error {
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, rng, &gsheet.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	return err
}

func (s *serviceValues) clear(ctx context.Context, rng string) error {
	_, err := s.svc.Spreadsheets.Values.Clear(s.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do()
	return err
}
