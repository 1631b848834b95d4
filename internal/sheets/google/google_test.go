package google

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"ninja/internal/core"
)

// fakeValues is a single-sheet grid addressed with A1 ranges.
type fakeValues struct {
	grid  [][]any
	calls []string
	fail  error
}

var rowRange = regexp.MustCompile(`!A(\d+):[A-Z](\d+)$`)

func (f *fakeValues) rowSpan(rng string) (int, int, bool) {
	m := rowRange.FindStringSubmatch(rng)
	if m == nil {
		return 0, 0, false
	}
	from, _ := strconv.Atoi(m[1])
	to, _ := strconv.Atoi(m[2])
	return from, to, true
}

func (f *fakeValues) get(_ context.Context, rng string) ([][]any, error) {
	f.calls = append(f.calls, "get "+rng)
	if f.fail != nil {
		return nil, f.fail
	}
	if from, to, ok := f.rowSpan(rng); ok {
		var out [][]any
		for i := from; i <= to && i <= len(f.grid); i++ {
			out = append(out, f.grid[i-1])
		}
		return out, nil
	}
	return f.grid, nil
}

func (f *fakeValues) update(_ context.Context, rng string, rows [][]any) error {
	f.calls = append(f.calls, "update "+rng)
	from, _, ok := f.rowSpan(rng)
	if !ok {
		return fmt.Errorf("bad range %s", rng)
	}
	for len(f.grid) < from {
		f.grid = append(f.grid, nil)
	}
	f.grid[from-1] = rows[0]
	return nil
}

func (f *fakeValues) append(_ context.Context, rng string, rows [][]any) error {
	f.calls = append(f.calls, "append "+rng)
	f.grid = append(f.grid, rows...)
	return nil
}

func (f *fakeValues) clear(_ context.Context, rng string) error {
	f.calls = append(f.calls, "clear "+rng)
	from, _, ok := f.rowSpan(rng)
	if !ok {
		return fmt.Errorf("bad range %s", rng)
	}
	f.grid[from-1] = []any{}
	return nil
}

func entry(id int64, user string, cents int64) core.Entry {
	return core.Entry{
		ID:        id,
		UserID:    user,
		Type:      core.Order,
		App:       core.Grubhub,
		Amount:    core.Cents(cents),
		Timestamp: time.Date(2025, 3, 1, 23, 30, 0, 0, time.UTC),
	}
}

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	_, err := New(context.Background(), Config{SpreadsheetID: "sheet"})
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClient_UpsertWritesHeaderThenAppendsAndUpdates(t *testing.T) {
	ny, _ := time.LoadLocation("America/New_York")
	api := &fakeValues{}
	c := newClient(api, "Entries", ny)
	ctx := context.Background()

	if _, err := c.UpsertEntry(ctx, entry(7, "u1", 1250)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(api.grid) != 2 || api.grid[0][0] != "ID" {
		t.Fatalf("expected header plus one row, got %v", api.grid)
	}
	if api.grid[1][2] != "2025-03-01" || api.grid[1][3] != "18:30" {
		t.Fatalf("row should use the local zone: %v", api.grid[1])
	}

	ref, err := c.UpsertEntry(ctx, entry(7, "u1", 1500))
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if ref != "Entries!A2:L2" {
		t.Fatalf("expected in-place update, got %q", ref)
	}
	if len(api.grid) != 2 || api.grid[1][6] != 15.0 {
		t.Fatalf("unexpected grid: %v", api.grid)
	}

	headerWrites := 0
	for _, call := range api.calls {
		if call == "update Entries!A1:L1" {
			headerWrites++
		}
	}
	if headerWrites != 1 {
		t.Fatalf("header should be written once, calls=%v", api.calls)
	}
}

func TestClient_DeleteAndPurge(t *testing.T) {
	api := &fakeValues{}
	c := newClient(api, "Entries", time.UTC)
	ctx := context.Background()
	for i, user := range []string{"u1", "u2", "u1"} {
		if _, err := c.UpsertEntry(ctx, entry(int64(i+1), user, 100)); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	if err := c.DeleteEntry(ctx, 2); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(api.grid[2]) != 0 {
		t.Fatalf("row 3 should be cleared: %v", api.grid[2])
	}
	if err := c.DeleteEntry(ctx, 42); err != nil {
		t.Fatalf("delete of unknown id should be a no-op: %v", err)
	}

	n, err := c.PurgeUser(ctx, "u1")
	if err != nil || n != 2 {
		t.Fatalf("unexpected purge: n=%d err=%v", n, err)
	}
	if api.grid[0][0] != "ID" {
		t.Fatal("purge must keep the header row")
	}
}

func TestClient_PropagatesAPIErrors(t *testing.T) {
	boom := errors.New("quota exceeded")
	c := newClient(&fakeValues{fail: boom}, "Entries", time.UTC)

	_, err := c.UpsertEntry(context.Background(), entry(1, "u1", 100))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped api error, got %v", err)
	}
	if _, err := c.UpsertEntry(context.Background(), core.Entry{}); err == nil {
		t.Fatal("expected error for entry without id")
	}
}
