package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/optbot/backtest"
	"github.com/rustyeddy/optbot/market"
	"github.com/rustyeddy/optbot/session"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay index candles through the entry, risk and exit rules",
	Long: `Replay a CSV of index candles (time,open,high,low,close[,volume]) through
the configured EMA periods, entry rule, exit rule and risk limits.

P/L is measured on the index: a CE trade is long, a PE trade short, times
the configured position size. Times without an offset are read in the
session timezone.

Examples:
  optbot backtest --data data/sensex_3m.csv
  optbot backtest --data data/sensex_3m.csv --record --org`,
	Args: cobra.NoArgs,
	RunE: runBacktest,
}

var (
	backtestData       string
	backtestRecord     bool
	backtestOrg        bool
	backtestNoCalendar bool
	backtestTrades     bool
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVarP(&backtestData, "data", "d", "", "candle CSV file (required)")
	backtestCmd.Flags().BoolVar(&backtestRecord, "record", false, "save the run summary to the journal")
	backtestCmd.Flags().BoolVar(&backtestOrg, "org", false, "print the summary as an Org-mode report")
	backtestCmd.Flags().BoolVar(&backtestNoCalendar, "no-calendar", false, "ignore market hours and holidays")
	backtestCmd.Flags().BoolVar(&backtestTrades, "trades", false, "list every trade")
	backtestCmd.MarkFlagRequired("data")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	cal, err := cfg.Calendar()
	if err != nil {
		return err
	}
	exit, err := cfg.ExitRule()
	if err != nil {
		return err
	}
	interval, err := session.IntervalDuration(cfg.Market.Interval)
	if err != nil {
		return err
	}

	btc := backtest.Config{
		Periods:  cfg.Periods(),
		Rule:     cfg.Rule(),
		Exit:     exit,
		Limits:   cfg.Limits(),
		Interval: interval,
	}
	if !backtestNoCalendar {
		btc.Calendar = cal
	}

	feed, err := market.OpenCandleCSV(backtestData, cal.Location)
	if err != nil {
		return fmt.Errorf("open candles: %w", err)
	}

	ctx := context.Background()
	rep, err := backtest.Run(ctx, feed, btc, filepath.Base(backtestData), log)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if backtestOrg {
		org, err := rep.Run.BacktestOrg()
		if err != nil {
			return err
		}
		fmt.Fprint(out, org)
	} else {
		r := rep.Run
		fmt.Fprintln(out, panel("Backtest "+r.Dataset, []row{
			{"Run", r.RunID},
			{"Period", r.Start.Format("2006-01-02 15:04") + " to " + r.End.Format("2006-01-02 15:04")},
			{"Candles", fmt.Sprint(r.Candles)},
			{"Signals", fmt.Sprintf("%d (%d denied)", r.Signals, r.Denied)},
			{"Trades", fmt.Sprintf("%d (%d won, %d lost)", r.Trades, r.Wins, r.Losses)},
			{"Win rate", fmt.Sprintf("%.1f%%", r.WinRate*100)},
			{"Net points", fmt.Sprintf("%+.2f", r.NetPoints)},
			{"Net P/L", pnlText(r.NetPL)},
			{"Max drawdown", fmt.Sprintf("%.2f", r.MaxDD)},
		}))
	}

	if backtestTrades {
		for _, t := range rep.Trades {
			fmt.Fprintf(out, "%s %s  %s -> %s  %.2f -> %.2f  %s  %s\n",
				t.EntryTime.Format("2006-01-02"), t.Side,
				t.EntryTime.Format("15:04"), t.ExitTime.Format("15:04"),
				t.EntryIndex, t.ExitIndex, pnlText(t.PnL), t.Reason)
		}
	}

	if backtestRecord {
		j, err := openJournal(cfg.Journal.DBPath)
		if err != nil {
			return err
		}
		defer j.Close()
		if err := j.RecordBacktest(ctx, rep.Run); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "recorded run %s in %s\n", rep.Run.RunID, cfg.Journal.DBPath)
	}
	return nil
}
