package backtest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/optbot/journal"
	"github.com/rustyeddy/optbot/market"
	"github.com/rustyeddy/optbot/strategy"
)

var day0 = time.Date(2025, 6, 10, 9, 15, 0, 0, time.UTC)

// rising builds n green three-minute candles from start with closes
// climbing two points each. Once warm the fast and slow EMAs sit 9 and
// 19 points under the close, which satisfies the CE rule on every candle.
func rising(n int, start time.Time, base float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		cl := base + 2*float64(i)
		out[i] = market.Candle{
			Time:  start.Add(time.Duration(i) * 3 * time.Minute),
			Open:  cl - 1,
			High:  cl + 2,
			Low:   cl - 3,
			Close: cl,
		}
	}
	return out
}

// falling mirrors rising for the PE rule.
func falling(n int, start time.Time, base float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		cl := base - 2*float64(i)
		out[i] = market.Candle{
			Time:  start.Add(time.Duration(i) * 3 * time.Minute),
			Open:  cl + 1,
			High:  cl + 3,
			Low:   cl - 2,
			Close: cl,
		}
	}
	return out
}

func replay(t *testing.T, cfg Config, candles []market.Candle) *Engine {
	t.Helper()
	ctx := context.Background()
	eng, err := NewEngine(cfg, zerolog.Nop())
	require.NoError(t, err)
	for _, c := range candles {
		require.NoError(t, eng.OnCandle(ctx, c))
	}
	require.NoError(t, eng.Finish(ctx))
	return eng
}

func TestNewEngineRejectsBadConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"periods", func(c *Config) { c.Periods.Fast = c.Periods.Slow }},
		{"rule", func(c *Config) { c.Rule.MaxSpread = 0 }},
		{"exit", func(c *Config) { c.Exit.TargetDistance = -1 }},
		{"limits", func(c *Config) { c.Limits.MaxDailyTrades = 0 }},
		{"interval", func(c *Config) { c.Interval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewEngine(cfg, zerolog.Nop())
			assert.Error(t, err)
		})
	}
}

func TestCallHeldToEndOfReplay(t *testing.T) {
	t.Parallel()

	eng := replay(t, DefaultConfig(), rising(30, day0, 80000))

	assert.Equal(t, 30, eng.Candles)
	assert.Equal(t, 1, eng.Signals)
	require.Len(t, eng.Trades, 1)

	tr := eng.Trades[0]
	assert.Equal(t, strategy.CE, tr.Side)
	assert.Equal(t, 80038.0, tr.EntryIndex)
	assert.Equal(t, 80058.0, tr.ExitIndex)
	assert.Equal(t, 20.0, tr.Points)
	assert.Equal(t, 2000.0, tr.PnL)
	assert.Equal(t, 100, tr.Quantity)
	assert.Equal(t, ReasonReplayEnd, tr.Reason)
	assert.InDelta(t, 0.8, tr.Confidence, 1e-9)
	assert.Nil(t, eng.Pos)
}

func TestCallTimeCap(t *testing.T) {
	t.Parallel()

	// Entry on candle 19; held exactly 60 minutes at candle 39 and 63 at 40.
	eng := replay(t, DefaultConfig(), rising(45, day0, 80000))

	require.Len(t, eng.Trades, 2)
	first := eng.Trades[0]
	assert.Equal(t, string(strategy.ExitTime), first.Reason)
	assert.Equal(t, 80080.0, first.ExitIndex)
	assert.Equal(t, 42.0, first.Points)
	assert.Equal(t, 63*time.Minute, first.ExitTime.Sub(first.EntryTime))

	// The next candle signals again.
	assert.Equal(t, 80082.0, eng.Trades[1].EntryIndex)
	assert.Equal(t, 2, eng.Signals)
}

func TestPutStopLoss(t *testing.T) {
	t.Parallel()

	candles := falling(20, day0, 90000)
	last := candles[len(candles)-1]
	candles = append(candles, market.Candle{
		Time:  last.Time.Add(3 * time.Minute),
		Open:  last.Close,
		High:  last.Close + 105,
		Low:   last.Close - 1,
		Close: last.Close + 100,
	})

	eng := replay(t, DefaultConfig(), candles)

	require.Len(t, eng.Trades, 1)
	tr := eng.Trades[0]
	assert.Equal(t, strategy.PE, tr.Side)
	assert.Equal(t, string(strategy.ExitSL), tr.Reason)
	assert.Equal(t, -100.0, tr.Points)
	assert.Equal(t, -10000.0, tr.PnL)
	assert.Equal(t, 10000.0, eng.MaxDrawdown())
}

func TestRiskGateDeniesAfterTradeCap(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Limits.MaxDailyTrades = 1
	eng := replay(t, cfg, rising(50, day0, 80000))

	require.Len(t, eng.Trades, 1)
	assert.Equal(t, string(strategy.ExitTime), eng.Trades[0].Reason)
	assert.Equal(t, 10, eng.Signals)
	assert.Equal(t, 9, eng.Denied)
}

func TestPositionClosedAtDayEnd(t *testing.T) {
	t.Parallel()

	candles := rising(25, day0, 80000)
	next := rising(1, day0.AddDate(0, 0, 1), 80050)
	eng := replay(t, DefaultConfig(), append(candles, next...))

	require.Len(t, eng.Trades, 2)
	eod := eng.Trades[0]
	assert.Equal(t, ReasonDayEnd, eod.Reason)
	assert.Equal(t, 80048.0, eod.ExitIndex)
	assert.Equal(t, candles[24].Time.Add(3*time.Minute), eod.ExitTime)
	assert.Equal(t, ReasonReplayEnd, eng.Trades[1].Reason)
}

func TestCalendarBlocksEntriesAfterClose(t *testing.T) {
	t.Parallel()

	cal, err := market.NewCalendar("Asia/Kolkata", nil)
	require.NoError(t, err)

	// The first warm candle starts 15:30 IST and completes after the close.
	start := time.Date(2025, 6, 10, 14, 33, 0, 0, cal.Location)
	cfg := DefaultConfig()
	cfg.Calendar = cal
	eng := replay(t, cfg, rising(20, start, 80000))

	assert.Zero(t, eng.Signals)
	assert.Empty(t, eng.Trades)
}

func TestRunFromCSV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sensex.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, market.WriteCandles(f, rising(45, day0, 80000)))
	require.NoError(t, f.Close())

	feed, err := market.OpenCandleCSV(path, time.UTC)
	require.NoError(t, err)

	rep, err := Run(context.Background(), feed, DefaultConfig(), "sensex.csv", zerolog.Nop())
	require.NoError(t, err)

	run := rep.Run
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, "sensex.csv", run.Dataset)
	assert.Equal(t, 45, run.Candles)
	assert.Equal(t, 2, run.Trades)
	assert.Equal(t, 2, run.Wins)
	assert.Equal(t, 48.0, run.NetPoints)
	assert.Equal(t, 4800.0, run.NetPL)
	assert.Equal(t, 1.0, run.WinRate)
	assert.True(t, run.Start.Equal(day0))
	assert.Contains(t, run.Notes, "EXIT_TIME: 1")
	assert.Contains(t, run.Notes, "EXIT_END: 1")
	assert.Len(t, rep.Trades, 2)

	org, err := run.BacktestOrg()
	require.NoError(t, err)
	assert.True(t, strings.Contains(org, ":TRADES:      2"))
}

func TestRunRecordsToJournal(t *testing.T) {
	t.Parallel()

	j, err := journal.NewSQLite(filepath.Join(t.TempDir(), "bt.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	ctx := context.Background()
	rep, err := Run(ctx, NewSliceFeed(rising(30, day0, 80000)), DefaultConfig(), "mem", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, j.RecordBacktest(ctx, rep.Run))

	got, err := j.GetBacktestRun(ctx, rep.Run.RunID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Trades)
	assert.Equal(t, 2000.0, got.NetPL)
}

func TestRunRejectsOutOfOrderCandles(t *testing.T) {
	t.Parallel()

	candles := rising(3, day0, 80000)
	candles[2].Time = candles[0].Time
	_, err := Run(context.Background(), NewSliceFeed(candles), DefaultConfig(), "", zerolog.Nop())
	assert.ErrorContains(t, err, "not after")
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, NewSliceFeed(rising(5, day0, 80000)), DefaultConfig(), "", zerolog.Nop())
	assert.ErrorIs(t, err, context.Canceled)
}
