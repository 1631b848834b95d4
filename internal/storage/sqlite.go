package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ninja/internal/core"
	"ninja/internal/points"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Options tunes a SQLiteRepository.
type Options struct {
	// DefaultCostPerMile seeds the settings row of a new user.
	DefaultCostPerMile decimal.Decimal
	// Now overrides the clock, mainly in tests.
	Now func() time.Time
}

type SQLiteRepository struct {
	db          *sql.DB
	costPerMile decimal.Decimal
	now         func() time.Time
}

// DSN builds the connection string used for both the pool and migrations.
func DSN(dbPath string) string {
	return "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

func NewSQLiteRepository(dbPath string, opts Options) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := DSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	repo := &SQLiteRepository{db: db, costPerMile: opts.DefaultCostPerMile, now: opts.Now}
	if repo.now == nil {
		repo.now = time.Now
	}
	return repo, nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

const entryColumns = `id, user_id, timestamp_ms, type, app, order_id, amount_cents,
	distance_miles, duration_minutes, category, note, receipt_url, created_at_ms, updated_at_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(s rowScanner) (core.Entry, error) {
	var (
		e                      core.Entry
		ts, created, updated   int64
		typ, app, cat, orderID string
	)
	err := s.Scan(&e.ID, &e.UserID, &ts, &typ, &app, &orderID, &e.Amount.Cents,
		&e.DistanceMiles, &e.DurationMinutes, &cat, &e.Note, &e.ReceiptURL, &created, &updated)
	if err != nil {
		return core.Entry{}, err
	}
	e.Timestamp = time.UnixMilli(ts).UTC()
	e.Type = core.EntryType(typ)
	e.App = core.App(app)
	e.OrderID = orderID
	e.Category = core.ExpenseCategory(cat)
	e.CreatedAt = time.UnixMilli(created).UTC()
	e.UpdatedAt = time.UnixMilli(updated).UTC()
	return e, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (r *SQLiteRepository) CreateEntry(ctx context.Context, userID string, e core.Entry) (core.Entry, error) {
	e.Normalize()
	if err := e.Validate(); err != nil {
		return core.Entry{}, fmt.Errorf("validate entry: %w", err)
	}

	now := r.now().UTC().UnixMilli()
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO entries (user_id, timestamp_ms, type, app, order_id, amount_cents,
			distance_miles, duration_minutes, category, note, receipt_url, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+entryColumns,
		userID, e.Timestamp.UnixMilli(), string(e.Type), string(e.App), e.OrderID, e.Amount.Cents,
		e.DistanceMiles, e.DurationMinutes, string(e.Category), e.Note, e.ReceiptURL, now, now)

	created, err := scanEntry(row)
	if err != nil {
		return core.Entry{}, fmt.Errorf("create entry: %w", err)
	}

	slog.InfoContext(ctx, "Entry saved to SQLite",
		"id", created.ID,
		"user_id", userID,
		"type", created.Type,
		"amount_cents", created.Amount.Cents)

	return created, nil
}

func (r *SQLiteRepository) GetEntry(ctx context.Context, userID string, id int64) (core.Entry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = ? AND user_id = ?`, id, userID)
	e, err := scanEntry(row)
	if err != nil {
		return core.Entry{}, notFound(err, "get entry")
	}
	return e, nil
}

func (r *SQLiteRepository) UpdateEntry(ctx context.Context, userID string, id int64, patch core.EntryPatch) (core.Entry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Entry{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanEntry(tx.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = ? AND user_id = ?`, id, userID))
	if err != nil {
		return core.Entry{}, notFound(err, "get entry")
	}

	current.Apply(patch)
	if err := current.Validate(); err != nil {
		return core.Entry{}, fmt.Errorf("validate entry: %w", err)
	}

	updated, err := scanEntry(tx.QueryRowContext(ctx, `
		UPDATE entries SET timestamp_ms = ?, type = ?, app = ?, order_id = ?, amount_cents = ?,
			distance_miles = ?, duration_minutes = ?, category = ?, note = ?,
			version = version + 1, sync_status = 'pending', updated_at_ms = ?
		WHERE id = ? AND user_id = ?
		RETURNING `+entryColumns,
		current.Timestamp.UnixMilli(), string(current.Type), string(current.App), current.OrderID,
		current.Amount.Cents, current.DistanceMiles, current.DurationMinutes, string(current.Category),
		current.Note, r.now().UTC().UnixMilli(), id, userID))
	if err != nil {
		return core.Entry{}, fmt.Errorf("update entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Entry{}, fmt.Errorf("commit transaction: %w", err)
	}

	slog.InfoContext(ctx, "Entry updated", "id", id, "user_id", userID)
	return updated, nil
}

func (r *SQLiteRepository) DeleteEntry(ctx context.Context, userID string, id int64) (core.Entry, error) {
	row := r.db.QueryRowContext(ctx,
		`DELETE FROM entries WHERE id = ? AND user_id = ? RETURNING `+entryColumns, id, userID)
	deleted, err := scanEntry(row)
	if err != nil {
		return core.Entry{}, notFound(err, "delete entry")
	}

	slog.InfoContext(ctx, "Entry deleted", "id", id, "user_id", userID)
	return deleted, nil
}

func (r *SQLiteRepository) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM goals WHERE user_id = ?`, userID); err != nil {
		return 0, fmt.Errorf("delete goals: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	slog.InfoContext(ctx, "All entries deleted", "user_id", userID, "count", n)
	return int(n), nil
}

func (r *SQLiteRepository) ListEntries(ctx context.Context, userID string, q EntryQuery) ([]core.Entry, error) {
	var (
		sb   strings.Builder
		args = []any{userID}
	)
	sb.WriteString(`SELECT ` + entryColumns + ` FROM entries WHERE user_id = ?`)

	if !q.From.IsZero() {
		sb.WriteString(` AND timestamp_ms >= ?`)
		args = append(args, q.From.UnixMilli())
	}
	if !q.To.IsZero() {
		sb.WriteString(` AND timestamp_ms <= ?`)
		args = append(args, q.To.UnixMilli())
	}
	if q.Cursor > 0 {
		var cursorTS int64
		err := r.db.QueryRowContext(ctx,
			`SELECT timestamp_ms FROM entries WHERE id = ? AND user_id = ?`, q.Cursor, userID).Scan(&cursorTS)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrInvalidCursor, q.Cursor)
		}
		if err != nil {
			return nil, fmt.Errorf("resolve cursor: %w", err)
		}
		sb.WriteString(` AND (timestamp_ms < ? OR (timestamp_ms = ? AND id < ?))`)
		args = append(args, cursorTS, cursorTS, q.Cursor)
	}
	sb.WriteString(` ORDER BY timestamp_ms DESC, id DESC`)
	if q.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	entries := []core.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

func (r *SQLiteRepository) SetReceiptURL(ctx context.Context, userID string, id int64, url string) (core.Entry, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE entries SET receipt_url = ?, version = version + 1, sync_status = 'pending', updated_at_ms = ?
		WHERE id = ? AND user_id = ?
		RETURNING `+entryColumns, url, r.now().UTC().UnixMilli(), id, userID)
	e, err := scanEntry(row)
	if err != nil {
		return core.Entry{}, notFound(err, "set receipt url")
	}
	slog.InfoContext(ctx, "Receipt attached", "id", id, "user_id", userID)
	return e, nil
}

// Goals

func (r *SQLiteRepository) GetGoal(ctx context.Context, userID string, tf core.Timeframe) (core.Goal, error) {
	var (
		g       = core.Goal{Timeframe: tf}
		updated int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT target_profit_cents, updated_at_ms FROM goals WHERE user_id = ? AND timeframe = ?`,
		userID, string(tf)).Scan(&g.TargetProfit.Cents, &updated)
	if err != nil {
		return core.Goal{}, notFound(err, "get goal")
	}
	g.UpdatedAt = time.UnixMilli(updated).UTC()
	return g, nil
}

func (r *SQLiteRepository) ListGoals(ctx context.Context, userID string) ([]core.Goal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT timeframe, target_profit_cents, updated_at_ms FROM goals WHERE user_id = ? ORDER BY timeframe`, userID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	goals := []core.Goal{}
	for rows.Next() {
		var (
			g       core.Goal
			tf      string
			updated int64
		)
		if err := rows.Scan(&tf, &g.TargetProfit.Cents, &updated); err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		g.Timeframe = core.Timeframe(tf)
		g.UpdatedAt = time.UnixMilli(updated).UTC()
		goals = append(goals, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate goals: %w", err)
	}
	return goals, nil
}

func (r *SQLiteRepository) UpsertGoal(ctx context.Context, userID string, g core.Goal) (core.Goal, error) {
	if err := g.Validate(); err != nil {
		return core.Goal{}, fmt.Errorf("validate goal: %w", err)
	}
	g.UpdatedAt = time.UnixMilli(r.now().UTC().UnixMilli()).UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO goals (user_id, timeframe, target_profit_cents, updated_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, timeframe) DO UPDATE SET
			target_profit_cents = excluded.target_profit_cents,
			updated_at_ms = excluded.updated_at_ms`,
		userID, string(g.Timeframe), g.TargetProfit.Cents, g.UpdatedAt.UnixMilli())
	if err != nil {
		return core.Goal{}, fmt.Errorf("upsert goal: %w", err)
	}

	slog.InfoContext(ctx, "Goal saved", "user_id", userID, "timeframe", g.Timeframe, "target_cents", g.TargetProfit.Cents)
	return g, nil
}

func (r *SQLiteRepository) DeleteGoal(ctx context.Context, userID string, tf core.Timeframe) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM goals WHERE user_id = ? AND timeframe = ?`, userID, string(tf)); err != nil {
		return fmt.Errorf("delete goal: %w", err)
	}
	slog.InfoContext(ctx, "Goal deleted", "user_id", userID, "timeframe", tf)
	return nil
}

// Settings

func (r *SQLiteRepository) GetSettings(ctx context.Context, userID string) (core.Settings, error) {
	now := r.now().UTC().UnixMilli()
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (user_id, cost_per_mile, updated_at_ms) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING`, userID, r.costPerMile.String(), now); err != nil {
		return core.Settings{}, fmt.Errorf("seed settings: %w", err)
	}

	var (
		raw     string
		updated int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT cost_per_mile, updated_at_ms FROM settings WHERE user_id = ?`, userID).Scan(&raw, &updated)
	if err != nil {
		return core.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	rate, err := core.ParseRate(raw)
	if err != nil {
		return core.Settings{}, fmt.Errorf("parse stored cost per mile %q: %w", raw, err)
	}
	return core.Settings{CostPerMile: rate, UpdatedAt: time.UnixMilli(updated).UTC()}, nil
}

func (r *SQLiteRepository) UpdateSettings(ctx context.Context, userID string, s core.Settings) (core.Settings, error) {
	if err := s.Validate(); err != nil {
		return core.Settings{}, fmt.Errorf("validate settings: %w", err)
	}
	s.UpdatedAt = time.UnixMilli(r.now().UTC().UnixMilli()).UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (user_id, cost_per_mile, updated_at_ms) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			cost_per_mile = excluded.cost_per_mile,
			updated_at_ms = excluded.updated_at_ms`,
		userID, s.CostPerMile.String(), s.UpdatedAt.UnixMilli())
	if err != nil {
		return core.Settings{}, fmt.Errorf("update settings: %w", err)
	}

	slog.InfoContext(ctx, "Settings updated", "user_id", userID, "cost_per_mile", s.CostPerMile.String())
	return s, nil
}

// Points

func (r *SQLiteRepository) GetPoints(ctx context.Context, userID string) (core.UserPoints, error) {
	return r.loadPoints(ctx, r.db, userID)
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// loadPoints reads the ledger, creating it with the signup bonus first.
func (r *SQLiteRepository) loadPoints(ctx context.Context, q queryer, userID string) (core.UserPoints, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO user_points (user_id, total_points, daily_streak, last_used_date, signup_at_ms)
		VALUES (?, ?, 0, '', ?)
		ON CONFLICT (user_id) DO NOTHING`, userID, points.SignupPoints, r.now().UTC().UnixMilli())
	if err != nil {
		return core.UserPoints{}, fmt.Errorf("seed points: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.InfoContext(ctx, "Points ledger created", "user_id", userID, "signup_points", points.SignupPoints)
	}

	var (
		p      core.UserPoints
		signup int64
	)
	err = q.QueryRowContext(ctx,
		`SELECT total_points, daily_streak, last_used_date, signup_at_ms FROM user_points WHERE user_id = ?`,
		userID).Scan(&p.TotalPoints, &p.DailyStreak, &p.LastUsedDate, &signup)
	if err != nil {
		return core.UserPoints{}, fmt.Errorf("get points: %w", err)
	}
	p.SignupAt = time.UnixMilli(signup).UTC()
	return p, nil
}

func (r *SQLiteRepository) UpdatePoints(ctx context.Context, userID string, fn PointsUpdate) (core.UserPoints, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.UserPoints{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := r.loadPoints(ctx, tx, userID)
	if err != nil {
		return core.UserPoints{}, err
	}

	next, earned, changed := fn(current)
	if !changed {
		if err := tx.Commit(); err != nil {
			return core.UserPoints{}, fmt.Errorf("commit transaction: %w", err)
		}
		return current, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE user_points SET total_points = ?, daily_streak = ?, last_used_date = ?
		WHERE user_id = ?`, next.TotalPoints, next.DailyStreak, next.LastUsedDate, userID); err != nil {
		return core.UserPoints{}, fmt.Errorf("update points: %w", err)
	}
	if next.LastUsedDate != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO daily_usage (user_id, usage_date, points_earned) VALUES (?, ?, ?)
			ON CONFLICT (user_id, usage_date) DO UPDATE SET
				points_earned = daily_usage.points_earned + excluded.points_earned`,
			userID, next.LastUsedDate, earned); err != nil {
			return core.UserPoints{}, fmt.Errorf("record daily usage: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return core.UserPoints{}, fmt.Errorf("commit transaction: %w", err)
	}

	slog.InfoContext(ctx, "Points updated", "user_id", userID, "earned", earned, "total", next.TotalPoints)
	next.SignupAt = current.SignupAt
	return next, nil
}

// Sync

func (r *SQLiteRepository) GetEntryByID(ctx context.Context, id int64) (core.Entry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err != nil {
		return core.Entry{}, notFound(err, "get entry by id")
	}
	return e, nil
}

func (r *SQLiteRepository) EntryVersion(ctx context.Context, id int64) (int64, error) {
	var v int64
	if err := r.db.QueryRowContext(ctx, `SELECT version FROM entries WHERE id = ?`, id).Scan(&v); err != nil {
		return 0, notFound(err, "get entry version")
	}
	return v, nil
}

// GetPendingSync returns entries that still need to reach the mirror, oldest first.
func (r *SQLiteRepository) GetPendingSync(ctx context.Context, limit int) ([]PendingSync, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, version, updated_at_ms FROM entries
		WHERE sync_status IN ('pending', 'error')
		ORDER BY updated_at_ms ASC, id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending sync entries: %w", err)
	}
	defer rows.Close()

	out := []PendingSync{}
	for rows.Next() {
		var (
			p       PendingSync
			updated int64
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.Version, &updated); err != nil {
			return nil, fmt.Errorf("scan pending sync entry: %w", err)
		}
		p.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending sync entries: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, id, version int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE entries SET sync_status = 'synced' WHERE id = ? AND version = ?`, id, version)
	if err != nil {
		return fmt.Errorf("mark entry synced: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.DebugContext(ctx, "Entry changed before sync completed", "id", id, "version", version)
		return nil
	}
	slog.InfoContext(ctx, "Entry marked as synced", "id", id, "version", version)
	return nil
}

func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE entries SET sync_status = 'error' WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark entry sync error: %w", err)
	}
	slog.WarnContext(ctx, "Entry marked with sync error", "id", id)
	return nil
}

var _ Repository = (*SQLiteRepository)(nil)
