package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading loop",
	Long: `Run the trading loop in paper or live mode until interrupted.

The loop wakes every cycle interval during market hours, evaluates the
latest completed index candle and manages the open position. After the
close it exits anything still open and sends the daily report. The
status API serves /healthz, /status and /metrics on server.addr.

Examples:
  optbot run
  optbot run --config optbot.yaml
  OPTBOT_MODE=live optbot run`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var runMode string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runMode, "mode", "m", "", "override the trading mode (paper|live)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runMode != "" {
		cfg.Mode = runMode
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := buildBot(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return err
	}
	defer b.close()

	log.Info().
		Str("mode", cfg.Mode).
		Str("index", cfg.Market.IndexSymbol).
		Str("interval", cfg.Market.Interval).
		Str("journal", cfg.Journal.DBPath).
		Msg("optbot starting")

	return b.run(ctx)
}
