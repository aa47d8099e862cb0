package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/optbot/journal"
	"github.com/rustyeddy/optbot/risk"
)

var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "Inspect or override the stored risk counters",
	Long: `Show today's risk counters, halt trading, or reset the counters.

The bot reads the counters from the journal when it starts, so halt and
reset take effect the next time it runs. Reset requires
risk.allow_manual_reset in the config.

Examples:
  optbot risk show
  optbot risk halt "broker outage"
  optbot risk reset`,
}

var riskShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show today's risk counters",
	Args:  cobra.NoArgs,
	RunE:  runRiskShow,
}

var riskHaltCmd = &cobra.Command{
	Use:   "halt [reason]",
	Short: "Stop new entries until the next trading day",
	Args:  cobra.ArbitraryArgs,
	RunE:  runRiskHalt,
}

var riskResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Zero today's counters and clear a halt",
	Args:  cobra.NoArgs,
	RunE:  runRiskReset,
}

func init() {
	rootCmd.AddCommand(riskCmd)
	riskCmd.AddCommand(riskShowCmd)
	riskCmd.AddCommand(riskHaltCmd)
	riskCmd.AddCommand(riskResetCmd)
}

// riskSetup restores the manager from the journal as the bot would.
func riskSetup(ctx context.Context) (*risk.Manager, *journal.SQLite, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	cal, err := cfg.Calendar()
	if err != nil {
		return nil, nil, err
	}
	j, err := openJournal(cfg.Journal.DBPath)
	if err != nil {
		return nil, nil, err
	}
	rm := risk.NewManager(cfg.Limits(), j, cal, zerolog.Nop())
	if err := rm.InitAtStartup(ctx, time.Now()); err != nil {
		_ = j.Close()
		return nil, nil, err
	}
	return rm, j, nil
}

func runRiskShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rm, j, err := riskSetup(ctx)
	if err != nil {
		return err
	}
	defer j.Close()

	fmt.Fprintln(cmd.OutOrStdout(), renderRisk(rm.State(), rm.Limits()))
	return nil
}

func runRiskHalt(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rm, j, err := riskSetup(ctx)
	if err != nil {
		return err
	}
	defer j.Close()

	reason := strings.Join(args, " ")
	if reason == "" {
		reason = "manual halt"
	}
	now := time.Now()
	if err := rm.Halt(ctx, reason, now); err != nil {
		return err
	}
	if err := j.RecordEvent(ctx, journal.Event{Time: now, Kind: journal.EventHalt, Message: reason}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Trading halted: %s\n", badStyle.Render("■"), reason)
	return nil
}

func runRiskReset(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rm, j, err := riskSetup(ctx)
	if err != nil {
		return err
	}
	defer j.Close()

	now := time.Now()
	if err := rm.Reset(ctx, now); err != nil {
		return err
	}
	if err := j.RecordEvent(ctx, journal.Event{Time: now, Kind: journal.EventDayReset, Message: "manual reset"}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Risk counters reset for %s\n", okStyle.Render("✓"), rm.State().Day)
	return nil
}

func renderRisk(s risk.State, l risk.Limits) string {
	halted := okStyle.Render("no")
	if s.Halted {
		halted = badStyle.Render("yes: " + s.HaltReason)
	}
	return panel("Risk "+s.Day, []row{
		{"Trades", fmt.Sprintf("%d / %d", s.TradesToday, l.MaxDailyTrades)},
		{"Losing streak", fmt.Sprintf("%d / %d", s.ConsecutiveLosses, l.MaxConsecutiveLosses)},
		{"Daily P/L", pnlText(s.DailyPnL) + fmt.Sprintf("  (cap %.0f)", l.MaxDailyLoss)},
		{"Halted", halted},
		{"Updated", s.UpdatedAt.Local().Format(time.DateTime)},
	})
}
