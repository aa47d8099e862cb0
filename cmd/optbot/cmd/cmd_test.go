package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/optbot/journal"
	"github.com/rustyeddy/optbot/market"
	"github.com/rustyeddy/optbot/risk"
	"github.com/rustyeddy/optbot/session"
)

// execute runs the root command. Flags are package globals, so these
// tests do not run in parallel.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestDayBounds(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	start, end, err := dayBounds(loc, "2025-06-10")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 10, 0, 0, 0, 0, loc), start)
	assert.Equal(t, 24*time.Hour, end.Sub(start))

	_, _, err = dayBounds(loc, "10/06/2025")
	assert.Error(t, err)
}

func TestConfigInitAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "optbot.yaml")
	noEnv := filepath.Join(dir, "missing.env")

	out, err := execute(t, "config", "init", "-o", path, "--env", noEnv)
	require.NoError(t, err)
	assert.Contains(t, out, "Created default configuration")
	assert.FileExists(t, path)

	_, err = execute(t, "config", "init", "-o", path, "--env", noEnv)
	assert.ErrorContains(t, err, "exists")

	out, err = execute(t, "config", "validate", "-f", path, "--env", noEnv)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid")
	assert.Contains(t, out, "BSE:SENSEX")
}

func TestBacktestCommand(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "sensex.csv")

	candles := make([]market.Candle, 30)
	start := time.Date(2025, 6, 10, 9, 15, 0, 0, time.UTC)
	for i := range candles {
		cl := 80000 + 2*float64(i)
		candles[i] = market.Candle{Time: start.Add(time.Duration(i) * 3 * time.Minute), Open: cl - 1, High: cl + 2, Low: cl - 3, Close: cl}
	}
	f, err := os.Create(csvPath)
	require.NoError(t, err)
	require.NoError(t, market.WriteCandles(f, candles))
	require.NoError(t, f.Close())

	out, err := execute(t, "backtest",
		"--config", filepath.Join(dir, "none.yaml"),
		"--env", filepath.Join(dir, "none.env"),
		"--data", csvPath, "--no-calendar", "--org")
	require.NoError(t, err)
	assert.Contains(t, out, "BACKTEST: EMA pullback sensex.csv")
	assert.Contains(t, out, ":TRADES:      1")
}

func TestRenderStatus(t *testing.T) {
	flat := renderStatus(remoteStatus{
		Status: session.Status{
			Mode:   "paper",
			Market: "market closed: weekend (Saturday)",
			Risk:   risk.State{Day: "2025-06-14", Halted: true, HaltReason: "daily loss cap"},
			Limits: risk.DefaultLimits(),
		},
		Breaker: "open",
	})
	assert.Contains(t, flat, "flat")
	assert.Contains(t, flat, "HALTED daily loss cap")
	assert.Contains(t, flat, "open")

	holding := renderStatus(remoteStatus{
		Status: session.Status{
			Mode:       "live",
			MarketOpen: true,
			Market:     "market open (10:30)",
			Limits:     risk.DefaultLimits(),
			Position:   &journal.Position{Symbol: "SENSEX2561080000CE", Quantity: 100, EntryPrice: 200, EntryTime: time.Now().Add(-5 * time.Minute)},
			Mark:       210,
			Unrealized: 1000,
		},
	})
	assert.Contains(t, holding, "SENSEX2561080000CE 100 @ 200.00")
	assert.Contains(t, holding, "+1000.00")
}

func TestTokenSetAndShow(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "optbot.json")
	noEnv := filepath.Join(dir, "none.env")

	_, err := execute(t, "config", "init", "-o", cfgFile, "--force", "--env", noEnv)
	require.NoError(t, err)

	// Point the token file into the temp dir.
	data, err := os.ReadFile(cfgFile)
	require.NoError(t, err)
	data = bytes.Replace(data, []byte(`"data/access_token.txt"`), []byte(`"`+filepath.ToSlash(filepath.Join(dir, "token.txt"))+`"`), 1)
	require.NoError(t, os.WriteFile(cfgFile, data, 0o644))

	out, err := execute(t, "token", "set", "abcdef123456", "--config", cfgFile, "--env", noEnv)
	require.NoError(t, err)
	assert.Contains(t, out, "abcdef...")

	out, err = execute(t, "token", "show", "--config", cfgFile, "--env", noEnv)
	require.NoError(t, err)
	assert.Contains(t, out, "abcdef...")
	assert.Contains(t, out, "valid")
}
