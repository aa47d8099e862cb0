package journal

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPosition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j, _ := newTestSQLite(t)
	defer j.Close()

	loc := time.FixedZone("IST", 5*3600+1800)
	entry := time.Date(2025, 6, 10, 10, 3, 0, 0, loc)
	want := testPosition("P123", entry)
	require.NoError(t, j.OpenPosition(ctx, want))

	got, err := j.GetPosition(ctx, "P123")
	require.NoError(t, err)

	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Symbol, got.Symbol)
	assert.Equal(t, want.Quantity, got.Quantity)
	assert.InDelta(t, want.EntryPrice, got.EntryPrice, 1e-9)
	assert.True(t, got.EntryTime.Equal(entry))
	assert.True(t, got.Expiry.Equal(want.Expiry))
	assert.Equal(t, StatusOpen, got.Status)
	assert.Zero(t, got.PnL)
}

func TestGetPositionNotFound(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	_, err := j.GetPosition(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestListPositionsClosedBetween(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j, _ := newTestSQLite(t)
	defer j.Close()

	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	rows := []struct {
		id   string
		exit time.Time
		pnl  float64
	}{
		{"A", day.Add(10 * time.Hour), 1200},
		{"B", day.Add(12 * time.Hour), -800},
		{"C", day.Add(30 * time.Hour), 50},
	}
	for _, r := range rows {
		require.NoError(t, j.OpenPosition(ctx, testPosition(r.id, r.exit.Add(-15*time.Minute))))
		require.NoError(t, j.ClosePosition(ctx, r.id, Exit{Price: 200, Time: r.exit, Reason: "EXIT_TIME", PnL: r.pnl}))
	}
	require.NoError(t, j.OpenPosition(ctx, testPosition("D", day.Add(11*time.Hour))))

	got, err := j.ListPositionsClosedBetween(ctx, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].ID)
	assert.Equal(t, "B", got[1].ID)
	assert.Equal(t, "EXIT_TIME", got[1].ExitReason)

	opened, err := j.ListPositionsOpenedBetween(ctx, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, opened, 3)
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	ps := []Position{
		{Status: StatusClosed, PnL: 1200},
		{Status: StatusClosed, PnL: -800},
		{Status: StatusClosed, PnL: 0},
		{Status: StatusOpen, PnL: 99999},
	}
	s := Summarize(ps)
	assert.Equal(t, 3, s.Trades)
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 400, s.PnL, 1e-9)
	assert.InDelta(t, 1.5, s.ProfitFactor, 1e-9)
	assert.InDelta(t, 1.0/3.0, s.WinRate, 1e-9)
	assert.Equal(t, 1200.0, s.Best)
	assert.Equal(t, -800.0, s.Worst)

	assert.Equal(t, Summary{}, Summarize(nil))
	assert.True(t, math.IsInf(Summarize([]Position{{Status: StatusClosed, PnL: 10}}).ProfitFactor, 1))
}
