package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/optbot/broker/kite"
	"github.com/rustyeddy/optbot/config"
	"github.com/rustyeddy/optbot/notify"
)

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Check that the bot is ready to trade",
	Long: `Run the readiness checks: configuration, credentials, access token,
journal, notifier and market hours. With --online the token is also
verified against the broker and a test message is sent to Telegram.

Exits non-zero when a required check fails.`,
	Args: cobra.NoArgs,
	RunE: runPreflight,
}

var preflightOnline bool

func init() {
	rootCmd.AddCommand(preflightCmd)

	preflightCmd.Flags().BoolVar(&preflightOnline, "online", false, "call the broker and Telegram")
}

func runPreflight(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		printChecks(out, []check{{name: "configuration", err: err}})
		return errors.New("preflight failed")
	}
	checks := []check{{name: "configuration (" + cfg.Mode + " mode)"}}
	checks = append(checks, preflightChecks(ctx, cfg)...)

	if failed := printChecks(out, checks); failed > 0 {
		return fmt.Errorf("preflight failed: %d check(s)", failed)
	}
	fmt.Fprintln(out, okStyle.Render("ready"))
	return nil
}

func preflightChecks(ctx context.Context, cfg *config.Config) []check {
	var checks []check
	add := func(name string, err error, warn bool) {
		checks = append(checks, check{name: name, err: err, warn: warn})
	}

	cal, err := cfg.Calendar()
	if err != nil {
		add("calendar", err, false)
		return checks
	}
	_, err = cfg.ExitRule()
	add("exit rule", err, false)
	_, err = cfg.GuardConfig()
	add("order guard", err, false)

	add("credentials", cfg.RequireCredentials(), false)

	tok, tokErr := loadToken(ctx, cfg, cal)
	add("access token", tokErr, false)

	add("journal", checkJournal(ctx, cfg.Journal.DBPath), false)

	var tgErr error
	if !cfg.Telegram.Enabled() {
		tgErr = fmt.Errorf("set %s and %s to receive alerts", config.EnvTelegramToken, config.EnvTelegramChat)
	}
	add("telegram", tgErr, true)

	open, why := cal.Status(time.Now())
	var mktErr error
	if !open {
		mktErr = fmt.Errorf("%s; next open %s", why, cal.NextOpen(time.Now()).Format("Mon 2006-01-02 15:04"))
	}
	add("market", mktErr, true)

	if !preflightOnline {
		return checks
	}
	if tokErr == nil && cfg.Broker.APIKey != "" {
		user, err := kite.NewClient(cfg.Broker.APIKey, tok.Value).Profile(ctx)
		name := "broker session"
		if err == nil {
			name += " (" + user + ")"
		}
		add(name, err, false)
	}
	if cfg.Telegram.Enabled() {
		tg := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		err := tg.Send(ctx, notify.Message{Kind: notify.KindInfo, Title: "optbot preflight", Body: "Notifications are working.", Time: time.Now()})
		add("telegram delivery", err, true)
	}
	return checks
}

// checkJournal opens the database, writes nothing and pings it.
func checkJournal(ctx context.Context, path string) error {
	j, err := openJournal(path)
	if err != nil {
		return err
	}
	defer j.Close()
	if err := j.Ping(ctx); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	return f.Close()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
