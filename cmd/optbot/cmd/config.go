package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/optbot/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage the bot configuration file. Secrets are never written to it.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  optbot config init -o optbot.yaml
  optbot config validate -f optbot.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var (
	configInitOutput   string
	configInitForce    bool
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "optbot.yaml", "output config file path")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (default --config)")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if !configInitForce && fileExists(configInitOutput) {
		return fmt.Errorf("%s exists; pass --force to overwrite", configInitOutput)
	}
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Created default configuration: %s\n", okStyle.Render("✓"), configInitOutput)
	fmt.Fprintln(out, "\nPut secrets in .env or the environment, then run with:")
	fmt.Fprintf(out, "  optbot run --config %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configValidatePath
	if path == "" {
		path = cfgPath
	}
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return err
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	exit, err := cfg.ExitRule()
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	l := cfg.Limits()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Configuration valid: %s\n", okStyle.Render("✓"), path)
	fmt.Fprintf(out, "  Mode: %s\n", cfg.Mode)
	fmt.Fprintf(out, "  Market: %s on %s %s candles\n", cfg.Market.IndexSymbol, cfg.Market.OptionExchange, cfg.Market.Interval)
	fmt.Fprintf(out, "  EMA: %d/%d  spread <= %.0f  proximity < %.0f\n",
		cfg.Strategy.FastPeriod, cfg.Strategy.SlowPeriod, cfg.Strategy.MaxSpread, cfg.Strategy.Proximity)
	fmt.Fprintf(out, "  Exit: target %.0f pts  hold CE %s PE %s\n", exit.TargetDistance, exit.CallMaxHold, exit.PutMaxHold)
	fmt.Fprintf(out, "  Risk: %d trades  %d losses  loss cap %.0f  exposure %.0f  qty %d\n",
		l.MaxDailyTrades, l.MaxConsecutiveLosses, l.MaxDailyLoss, l.MaxExposure, l.PositionSize)
	fmt.Fprintf(out, "  Journal: %s\n", cfg.Journal.DBPath)
	if err := cfg.RequireCredentials(); err != nil {
		fmt.Fprintf(out, "%s %v\n", warnStyle.Render("!"), err)
	}
	return nil
}
