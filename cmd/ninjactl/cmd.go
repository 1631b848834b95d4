package main

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ninja/internal/client"
	"ninja/internal/core"
)

// windowFlags are shared by every command that reads a period.
type windowFlags struct {
	timeframe string
	from, to  string
	dayOffset int
}

func (f *windowFlags) register(cmd *cobra.Command, defaultTimeframe string) {
	cmd.Flags().StringVarP(&f.timeframe, "timeframe", "t", defaultTimeframe, "TODAY, YESTERDAY, THIS_WEEK, LAST_7_DAYS, THIS_MONTH or LAST_MONTH")
	cmd.Flags().StringVar(&f.from, "from", "", "custom range start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "to", "", "custom range end (YYYY-MM-DD)")
	cmd.Flags().IntVar(&f.dayOffset, "day-offset", 0, "shift TODAY/YESTERDAY by this many days")
}

func (f *windowFlags) window() (client.Window, error) {
	w := client.Window{From: f.from, To: f.to, DayOffset: f.dayOffset}
	if f.timeframe != "" && f.from == "" && f.to == "" {
		tf, err := core.ParseTimeframe(f.timeframe)
		if err != nil {
			return client.Window{}, err
		}
		w.Timeframe = tf
	}
	return w, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func SetupCommands(a *App) *cobra.Command {
	// root command
	rootCmd := &cobra.Command{
		Use:           "ninjactl",
		Short:         "Command line client for the Earnings Ninja API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.connect()
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.baseURL, "api", envOr("NINJA_API_URL", "http://localhost:8081"), "API base URL")
	rootCmd.PersistentFlags().StringVarP(&a.userID, "user", "u", envOr("NINJA_USER_ID", ""), "user id sent as X-User-ID")
	rootCmd.PersistentFlags().DurationVar(&a.timeout, "timeout", 15*time.Second, "per command timeout")

	// rollup of a period
	var rollupWin windowFlags
	rollupCmd := &cobra.Command{
		Use:   "rollup",
		Short: "Show revenue, expenses and profit for a period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := rollupWin.window()
			if err != nil {
				return err
			}
			return a.Rollup(w)
		},
	}
	rollupWin.register(rollupCmd, string(core.Today))

	entriesCmd := &cobra.Command{
		Use:   "entries",
		Short: "List, add and remove entries",
	}

	var (
		listWin  windowFlags
		listOpts client.ListOptions
		types    []string
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List entries newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := listWin.window()
			if err != nil {
				return err
			}
			listOpts.Types = listOpts.Types[:0]
			for _, raw := range types {
				t, err := core.ParseEntryType(raw)
				if err != nil {
					return err
				}
				listOpts.Types = append(listOpts.Types, t)
			}
			return a.ListEntries(w, listOpts)
		},
	}
	listWin.register(listCmd, "")
	listCmd.Flags().IntVarP(&listOpts.Limit, "limit", "n", 0, "page size (default 100, max 500)")
	listCmd.Flags().Int64Var(&listOpts.Cursor, "cursor", 0, "continue after this entry id")
	listCmd.Flags().StringSliceVar(&types, "type", nil, "only these entry types")
	listCmd.Flags().StringVarP(&listOpts.Query, "query", "q", "", "text search over notes and order ids")
	listCmd.Flags().StringVar(&listOpts.Sort, "sort", "", "column[:asc|desc] with column one of date, amount, type, app, miles")

	var (
		in      client.EntryInput
		miles   float64
		minutes int
	)
	addCmd := &cobra.Command{
		Use:   "add TYPE AMOUNT",
		Short: "Record an order, bonus, expense or cancellation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := core.ParseMoney(args[1])
			if err != nil {
				return err
			}
			in.Type = args[0]
			in.Amount = &m
			if cmd.Flags().Changed("miles") {
				in.DistanceMiles = &miles
			}
			if cmd.Flags().Changed("minutes") {
				in.DurationMinutes = &minutes
			}
			return a.AddEntry(in)
		},
	}
	addCmd.Flags().StringVar(&in.App, "app", "", "platform (DOORDASH, UBEREATS, INSTACART, GRUBHUB, SHIPT, OTHER)")
	addCmd.Flags().StringVar(&in.Category, "category", "", "expense category")
	addCmd.Flags().StringVar(&in.OrderID, "order-id", "", "platform order id")
	addCmd.Flags().StringVar(&in.Note, "note", "", "free text note")
	addCmd.Flags().StringVar(&in.Date, "date", "", "local date (YYYY-MM-DD), default today")
	addCmd.Flags().StringVar(&in.Time, "time", "", "local time (HH:MM), default now")
	addCmd.Flags().Float64Var(&miles, "miles", 0, "distance driven")
	addCmd.Flags().IntVar(&minutes, "minutes", 0, "time spent")

	var (
		rmWin   windowFlags
		rmOpts  client.ListOptions
		rmTypes []string
		rmAll   bool
	)
	rmCmd := &cobra.Command{
		Use:     "rm [ID...]",
		Aliases: []string{"delete"},
		Short:   "Delete entries by id, or every entry of a period with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if !rmAll && len(args) == 0 {
				return errors.New("give entry ids or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			w, err := rmWin.window()
			if err != nil {
				return err
			}
			if rmAll && w.Timeframe == "" && w.From == "" && w.To == "" {
				return errors.New("--all needs --timeframe or --from/--to")
			}
			rmOpts.Types = rmOpts.Types[:0]
			for _, raw := range rmTypes {
				t, err := core.ParseEntryType(raw)
				if err != nil {
					return err
				}
				rmOpts.Types = append(rmOpts.Types, t)
			}
			selected, err := a.SelectEntries(ids, rmAll, w, rmOpts)
			if err != nil {
				return err
			}
			return a.RemoveEntries(selected)
		},
	}
	rmWin.register(rmCmd, "")
	rmCmd.Flags().BoolVar(&rmAll, "all", false, "select every entry of the period")
	rmCmd.Flags().StringSliceVar(&rmTypes, "type", nil, "with --all, only these entry types")
	rmCmd.Flags().StringVarP(&rmOpts.Query, "query", "q", "", "with --all, only entries whose note or order id matches")

	entriesCmd.AddCommand(listCmd, addCmd, rmCmd)

	goalsCmd := &cobra.Command{
		Use:   "goals",
		Short: "Show or set profit goals",
	}
	goalGetCmd := &cobra.Command{
		Use:   "get [TIMEFRAME]",
		Short: "Show the goal of a timeframe",
		Args:  cobra.MaximumNArgs(1),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			return timeframeNames(), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := string(core.ThisMonth)
			if len(args) > 0 {
				raw = args[0]
			}
			tf, err := core.ParseTimeframe(raw)
			if err != nil {
				return err
			}
			return a.ShowGoal(tf)
		},
	}
	goalSetCmd := &cobra.Command{
		Use:   "set TIMEFRAME AMOUNT",
		Short: "Set the profit target of a timeframe",
		Args:  cobra.ExactArgs(2),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				return timeframeNames(), cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			tf, err := core.ParseTimeframe(args[0])
			if err != nil {
				return err
			}
			target, err := core.ParseMoney(args[1])
			if err != nil {
				return err
			}
			return a.SetGoal(tf, target)
		},
	}
	goalsCmd.AddCommand(goalGetCmd, goalSetCmd)

	var costPerMile string
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Show settings, or change the cost per mile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if costPerMile == "" {
				return a.Settings(nil)
			}
			rate, err := core.ParseRate(costPerMile)
			if err != nil {
				return err
			}
			return a.Settings(&rate)
		},
	}
	settingsCmd.Flags().StringVar(&costPerMile, "cost-per-mile", "", "new vehicle cost per mile")

	checkInCmd := &cobra.Command{
		Use:   "checkin",
		Short: "Claim today's check-in points",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.CheckIn()
		},
	}

	var (
		exportWin windowFlags
		output    string
	)
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Download the CSV export of a period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := exportWin.window()
			if err != nil {
				return err
			}
			return a.Export(w, output)
		},
	}
	exportWin.register(exportCmd, string(core.Today))
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "file to write, - for stdout (default: server file name)")

	// add commands
	rootCmd.AddCommand(rollupCmd, entriesCmd, goalsCmd, settingsCmd, checkInCmd, exportCmd)

	return rootCmd
}

func timeframeNames() []string {
	out := make([]string, 0, len(core.Timeframes()))
	for _, tf := range core.Timeframes() {
		out = append(out, string(tf))
	}
	return out
}
