package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/optbot/config"
	"github.com/rustyeddy/optbot/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "optbot",
	Short: "EMA pullback trader for SENSEX weekly options",
	Long: `Optbot watches the SENSEX index on three-minute candles and buys the
at-the-money weekly call or put when price pulls back to a rising or
falling 10/20 EMA pair. Every entry passes a daily risk gate and exits on
the slow EMA, a fixed index target or a holding time cap.

Trades go to the Kite Connect API in live mode or to an in-process paper
engine fed by live quotes. Secrets come from the environment or a .env
file:
  KITE_API_KEY, KITE_API_SECRET, KITE_ACCESS_TOKEN
  TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_ID
  OPTBOT_MODE, REDIS_ADDR, REDIS_PASSWORD`,
	SilenceUsage: true,
}

var (
	cfgPath  string
	envFiles []string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "optbot.yaml", "config file (YAML or JSON); defaults apply when missing")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env", []string{".env"}, "dotenv files to load before reading the environment")
}

// loadConfig reads the dotenv files and the config file. A missing
// config file falls back to the defaults plus the environment.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	cfg, err := config.LoadFromFile(cfgPath)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cfg = config.Default()
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	log, err := logging.New(cfg.LogOptions())
	if err != nil {
		return zerolog.Nop(), err
	}
	return log, nil
}
