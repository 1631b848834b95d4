package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"ninja/internal/client"
	"ninja/internal/core"
	"ninja/internal/ledger"
	"ninja/internal/period"
)

var printer = message.NewPrinter(language.AmericanEnglish)

// App holds what every command needs: the API client and where to print.
type App struct {
	api *client.APIClient
	out io.Writer

	baseURL string
	userID  string
	timeout time.Duration
}

func (a *App) connect() {
	if a.api == nil {
		a.api = client.NewAPIClient(a.baseURL, client.WithUserID(a.userID))
	}
}

func (a *App) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.timeout)
}

func dollars(m core.Money) string {
	f, _ := m.Decimal().Float64()
	if f < 0 {
		return printer.Sprintf("-$%.2f", -f)
	}
	return printer.Sprintf("$%.2f", f)
}

func (a *App) Rollup(w client.Window) error {
	ctx, cancel := a.context()
	defer cancel()

	r, err := a.api.Rollup(ctx, w)
	if err != nil {
		return fmt.Errorf("fetch rollup: %w", err)
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"Revenue", dollars(r.Revenue)},
		{"Expenses", dollars(r.Expenses)},
		{"Profit", dollars(r.Profit)},
		{"Miles", printer.Sprintf("%.1f", r.Miles)},
		{"Hours", printer.Sprintf("%.1f", r.Hours)},
		{"$/mile", dollars(r.DollarsPerMile)},
		{"$/hour", dollars(r.DollarsPerHour)},
		{"Net after mileage", dollars(r.NetAfterMileage)},
		{"Orders", printer.Sprintf("%d", r.OrderCount)},
	}
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1])
	}
	if r.GoalTarget != nil && r.GoalProgress != nil {
		fmt.Fprintf(tw, "Goal\t%s (%s)\n", dollars(*r.GoalTarget), printer.Sprintf("%.0f%%", *r.GoalProgress))
	}
	return tw.Flush()
}

func (a *App) ListEntries(w client.Window, opts client.ListOptions) error {
	ctx, cancel := a.context()
	defer cancel()

	page, err := a.api.Entries(ctx, w, opts)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	if len(page.Entries) == 0 {
		fmt.Fprintln(a.out, "No entries.")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWhen\tType\tApp\tAmount\tMiles\tNote")
	var total core.Money
	for _, e := range page.Entries {
		amount := e.Amount
		if e.Type == core.Expense || e.Type == core.Cancellation {
			amount = core.Cents(-e.Amount.Cents)
		}
		total = total.Add(amount)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.Timestamp.Local().Format("Jan 02 15:04"),
			e.Type,
			e.App,
			dollars(amount),
			printer.Sprintf("%.1f", e.DistanceMiles),
			e.Note)
	}
	fmt.Fprintf(tw, "\t\t\tTotal:\t%s\t\t\n", dollars(total))
	if err := tw.Flush(); err != nil {
		return err
	}
	if page.NextCursor > 0 {
		fmt.Fprintf(a.out, "More entries: --cursor %d\n", page.NextCursor)
	}
	return nil
}

func (a *App) AddEntry(in client.EntryInput) error {
	ctx, cancel := a.context()
	defer cancel()

	e, err := a.api.CreateEntry(ctx, in)
	if err != nil {
		return fmt.Errorf("add entry: %w", err)
	}
	fmt.Fprintf(a.out, "Added %s %s (#%d)\n", strings.ToLower(string(e.Type)), dollars(e.Amount), e.ID)
	return nil
}

// SelectEntries builds the rm selection: the explicit ids, plus every entry
// of the window matching opts when all is set.
func (a *App) SelectEntries(ids []int64, all bool, w client.Window, opts client.ListOptions) ([]int64, error) {
	var p period.Period
	if w.Timeframe != "" {
		tp, err := period.FromTimeframe(w.Timeframe)
		if err != nil {
			return nil, err
		}
		p = tp
	}
	table := ledger.NewTable(p)
	for _, id := range ids {
		table.Selection.Add(id)
	}
	if !all {
		return table.Selection.IDs(), nil
	}

	ctx, cancel := a.context()
	defer cancel()

	var rows []core.Entry
	opts.Limit = 500
	opts.Cursor = 0
	for {
		page, err := a.api.Entries(ctx, w, opts)
		if err != nil {
			return nil, fmt.Errorf("list entries: %w", err)
		}
		rows = append(rows, page.Entries...)
		if page.NextCursor == 0 {
			break
		}
		opts.Cursor = page.NextCursor
	}
	if !table.AllSelected(rows) {
		table.ToggleAll(rows)
	}
	return table.Selection.IDs(), nil
}

// RemoveEntries deletes one entry directly and several through bulk delete.
func (a *App) RemoveEntries(ids []int64) error {
	if len(ids) == 0 {
		fmt.Fprintln(a.out, "Nothing to delete.")
		return nil
	}

	ctx, cancel := a.context()
	defer cancel()

	if len(ids) == 1 {
		if err := a.api.DeleteEntry(ctx, ids[0]); err != nil {
			return fmt.Errorf("delete entry %d: %w", ids[0], err)
		}
		fmt.Fprintf(a.out, "Deleted #%d\n", ids[0])
		return nil
	}

	res, err := a.api.BulkDelete(ctx, ids)
	if err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	fmt.Fprintf(a.out, "Deleted %d of %d entries\n", len(res.Deleted), len(ids))
	for _, f := range res.Failed {
		fmt.Fprintf(a.out, "  #%d: %s\n", f.ID, f.Error)
	}
	return nil
}

func (a *App) ShowGoal(tf core.Timeframe) error {
	ctx, cancel := a.context()
	defer cancel()

	g, err := a.api.Goal(ctx, tf)
	if err != nil {
		return fmt.Errorf("fetch goal: %w", err)
	}
	if g == nil {
		fmt.Fprintf(a.out, "No goal set for %s\n", tf.Label())
		return nil
	}
	fmt.Fprintf(a.out, "%s goal: %s\n", tf.Label(), dollars(g.TargetProfit))
	return nil
}

func (a *App) SetGoal(tf core.Timeframe, target core.Money) error {
	ctx, cancel := a.context()
	defer cancel()

	g, err := a.api.SetGoal(ctx, tf, target)
	if err != nil {
		return fmt.Errorf("set goal: %w", err)
	}
	fmt.Fprintf(a.out, "%s goal set to %s\n", g.Timeframe.Label(), dollars(g.TargetProfit))
	return nil
}

// Settings prints the settings, updating the rate first when one is given.
func (a *App) Settings(rate *core.Rate) error {
	ctx, cancel := a.context()
	defer cancel()

	var (
		s   core.Settings
		err error
	)
	if rate != nil {
		s, err = a.api.UpdateSettings(ctx, *rate)
	} else {
		s, err = a.api.Settings(ctx)
	}
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	fmt.Fprintf(a.out, "Cost per mile: $%s\n", s.CostPerMile.StringFixed(3))
	return nil
}

func (a *App) CheckIn() error {
	ctx, cancel := a.context()
	defer cancel()

	res, err := a.api.CheckIn(ctx)
	if err != nil {
		return fmt.Errorf("check in: %w", err)
	}
	fmt.Fprintln(a.out, res.Message)
	fmt.Fprintln(a.out, printer.Sprintf("Points: %d (streak %d)", res.TotalPoints, res.DailyStreak))
	for _, r := range res.NewRewards {
		fmt.Fprintf(a.out, "Unlocked %s %s\n", r.Emoji, r.Name)
	}
	return nil
}

// Export writes the CSV to path, or to the server's file name when path is empty.
func (a *App) Export(w client.Window, path string) error {
	ctx, cancel := a.context()
	defer cancel()

	name, body, err := a.api.Export(ctx, w)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if path == "-" {
		_, err := a.out.Write(body)
		return err
	}
	if path == "" {
		path = name
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Fprintf(a.out, "Saved %s (%d bytes)\n", path, len(body))
	return nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid entry id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
