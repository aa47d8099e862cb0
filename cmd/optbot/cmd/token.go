package cmd

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/optbot/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the broker access token",
	Long: `Kite access tokens expire every morning. The login flow normally writes
today's token; these commands store or inspect it by hand.

Examples:
  optbot token set abcdef123456
  echo abcdef123456 | optbot token set -
  optbot token show`,
}

var tokenSetCmd = &cobra.Command{
	Use:   "set <token|->",
	Short: "Store today's access token in the configured source",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenSet,
}

var tokenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored token, masked, and whether it is still valid",
	Args:  cobra.NoArgs,
	RunE:  runTokenShow,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenSetCmd)
	tokenCmd.AddCommand(tokenShowCmd)
}

func runTokenSet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	value := args[0]
	if value == "-" {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read token: %w", err)
		}
		value = line
	}
	value = strings.TrimSpace(value)

	store, client, err := writableStore(cfg)
	if err != nil {
		return err
	}
	if client != nil {
		defer client.Close()
	}

	tok := auth.Token{Value: value, IssuedAt: time.Now()}
	if err := store.Save(context.Background(), tok); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Saved token %s to %s\n", okStyle.Render("✓"), tok.Masked(), cfg.Auth.Source)
	return nil
}

func runTokenShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cal, err := cfg.Calendar()
	if err != nil {
		return err
	}

	src, client := tokenStore(cfg)
	if client != nil {
		defer client.Close()
	}
	tok, err := src.Load(context.Background())
	if err != nil {
		return err
	}

	issued := "unknown"
	if !tok.IssuedAt.IsZero() {
		issued = tok.IssuedAt.In(cal.Location).Format(time.DateTime)
	}
	state := okStyle.Render("valid")
	if tok.Expired(time.Now(), cal.Location) {
		state = badStyle.Render("expired")
	}
	fmt.Fprintln(cmd.OutOrStdout(), panel("Access token", []row{
		{"Source", cfg.Auth.Source},
		{"Token", tok.Masked()},
		{"Issued", issued},
		{"State", state},
	}))
	return nil
}
