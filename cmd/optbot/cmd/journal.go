package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/optbot/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the trade journal",
	Long: `Query and display positions and backtest runs from the SQLite journal.

Subcommands:
  trade     - Show one position by ID
  today     - List positions closed today
  day       - List positions closed on a specific day
  report    - Summarise a day's closed positions
  backtest  - Show a recorded backtest run

Examples:
  optbot journal trade 01J0ZK3M8Q6V1S2T3U4W5X6Y7Z
  optbot journal today
  optbot journal day 2025-06-10 --csv
  optbot journal report 2025-06-10`,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <position-id>",
	Short: "Show one position",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List positions closed today",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDay(cmd, "")
	},
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List positions closed on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDay(cmd, args[0])
	},
}

var journalReportCmd = &cobra.Command{
	Use:   "report [YYYY-MM-DD]",
	Short: "Summarise a day's closed positions (default today)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runJournalReport,
}

var journalBacktestCmd = &cobra.Command{
	Use:   "backtest <run-id>",
	Short: "Show a recorded backtest run",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalBacktest,
}

var (
	journalDBPath string
	journalCSV    bool
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradeCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)
	journalCmd.AddCommand(journalReportCmd)
	journalCmd.AddCommand(journalBacktestCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "", "path to SQLite journal DB (default journal.db_path)")
	journalTodayCmd.Flags().BoolVar(&journalCSV, "csv", false, "write CSV instead of Org")
	journalDayCmd.Flags().BoolVar(&journalCSV, "csv", false, "write CSV instead of Org")
}

// journalSetup opens the journal and resolves the exchange timezone.
func journalSetup() (*journal.SQLite, *time.Location, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	cal, err := cfg.Calendar()
	if err != nil {
		return nil, nil, err
	}
	path := journalDBPath
	if path == "" {
		path = cfg.Journal.DBPath
	}
	j, err := openJournal(path)
	if err != nil {
		return nil, nil, err
	}
	return j, cal.Location, nil
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	j, _, err := journalSetup()
	if err != nil {
		return err
	}
	defer j.Close()

	p, err := j.GetPosition(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("get position: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatPositionOrg(p))
	return nil
}

func listDay(cmd *cobra.Command, day string) error {
	j, loc, err := journalSetup()
	if err != nil {
		return err
	}
	defer j.Close()

	start, end, err := dayBounds(loc, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	ps, err := j.ListPositionsClosedBetween(context.Background(), start, end)
	if err != nil {
		return fmt.Errorf("query positions: %w", err)
	}

	if journalCSV {
		return journal.WritePositionsCSV(cmd.OutOrStdout(), ps)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatPositionsOrg(ps))
	return nil
}

func runJournalReport(cmd *cobra.Command, args []string) error {
	j, loc, err := journalSetup()
	if err != nil {
		return err
	}
	defer j.Close()

	day := ""
	if len(args) == 1 {
		day = args[0]
	}
	start, end, err := dayBounds(loc, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	ps, err := j.ListPositionsClosedBetween(context.Background(), start, end)
	if err != nil {
		return fmt.Errorf("query positions: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatSummaryOrg(start.Format(time.DateOnly), journal.Summarize(ps)))
	return nil
}

func runJournalBacktest(cmd *cobra.Command, args []string) error {
	j, _, err := journalSetup()
	if err != nil {
		return err
	}
	defer j.Close()

	r, err := j.GetBacktestRun(context.Background(), args[0])
	if err != nil {
		return err
	}
	org, err := r.BacktestOrg()
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), org)
	return nil
}

// dayBounds returns [midnight, next midnight) of day in loc. An empty
// day means today.
func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	if day == "" {
		day = time.Now().In(loc).Format(time.DateOnly)
	}
	t, err := time.ParseInLocation(time.DateOnly, day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1), nil
}
