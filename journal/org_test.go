package journal

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPositionOrg(t *testing.T) {
	t.Parallel()

	entry := time.Date(2025, 6, 10, 10, 3, 0, 0, time.UTC)
	p := testPosition("01JXABCDEF0123456789KLMNOP", entry)
	p.Status = StatusOpen

	out := FormatPositionOrg(p)
	assert.Contains(t, out, "** CE: SENSEX2561081500CE (89KLMNOP)")
	assert.Contains(t, out, ":ID: 01JXABCDEF0123456789KLMNOP")
	assert.Contains(t, out, ":QUANTITY: 100")
	assert.Contains(t, out, ":ENTRY_TIME: 2025-06-10T10:03:00Z")
	assert.NotContains(t, out, ":EXIT_PRICE:")

	p.Status = StatusClosed
	p.ExitPrice = 280.25
	p.ExitTime = entry.Add(21 * time.Minute)
	p.ExitReason = "EXIT_TARGET"
	p.PnL = 3475
	out = FormatPositionOrg(p)
	assert.Contains(t, out, ":EXIT_REASON: EXIT_TARGET")
	assert.Contains(t, out, ":PNL: 3475.00")
	assert.True(t, strings.HasSuffix(out, ":END:\n"))
}

func TestFormatPositionsOrgEmpty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, FormatPositionsOrg(nil))
}

func TestFormatSummaryOrg(t *testing.T) {
	t.Parallel()

	out := FormatSummaryOrg("2025-06-10", Summary{Trades: 2, Wins: 1, Losses: 1, WinRate: 0.5, PnL: 400})
	assert.Contains(t, out, "* 2025-06-10")
	assert.Contains(t, out, "| 2 | 1 | 1 | 50% | 400.00 |")
}

func TestWritePositionsCSV(t *testing.T) {
	t.Parallel()

	entry := time.Date(2025, 6, 10, 10, 3, 0, 0, time.UTC)
	p := testPosition("P1", entry)

	var buf bytes.Buffer
	require.NoError(t, WritePositionsCSV(&buf, []Position{p}))

	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, positionCSVHeader, recs[0])
	assert.Equal(t, "P1", recs[1][0])
	assert.Equal(t, "245.50", recs[1][6])
	assert.Empty(t, recs[1][9])
}

func TestBacktestRunRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j, _ := newTestSQLite(t)
	defer j.Close()

	run := BacktestRun{
		RunID:     "BT1",
		Dataset:   "sensex_3m.csv",
		Start:     time.Date(2025, 6, 2, 9, 15, 0, 0, time.UTC),
		End:       time.Date(2025, 6, 6, 15, 30, 0, 0, time.UTC),
		Candles:   625,
		Signals:   9,
		Denied:    2,
		Trades:    7,
		Wins:      4,
		Losses:    3,
		NetPoints: 212.5,
		NetPL:     21250,
		MaxDD:     -6000,
		Notes:     []string{"gap day on 2025-06-04"},
	}
	require.NoError(t, j.RecordBacktest(ctx, run))

	got, err := j.GetBacktestRun(ctx, "BT1")
	require.NoError(t, err)
	assert.Equal(t, 7, got.Trades)
	assert.InDelta(t, 4.0/7.0, got.WinRate, 1e-9)

	org, err := run.BacktestOrg()
	require.NoError(t, err)
	assert.Contains(t, org, "* BACKTEST: EMA pullback sensex_3m.csv")
	assert.Contains(t, org, ":NET_PL:      21250.00")
	assert.Contains(t, org, "- gap day on 2025-06-04")

	_, err = j.GetBacktestRun(ctx, "missing")
	assert.Error(t, err)
}
