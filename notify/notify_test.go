package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/optbot/indicators"
	"github.com/rustyeddy/optbot/journal"
	"github.com/rustyeddy/optbot/market"
	"github.com/rustyeddy/optbot/risk"
	"github.com/rustyeddy/optbot/strategy"
)

var now = time.Date(2025, 6, 10, 10, 3, 0, 0, time.UTC)

func TestTelegramSend(t *testing.T) {
	t.Parallel()

	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot123:ABC/sendMessage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer server.Close()

	tg := NewTelegram("123:ABC", "-100200")
	tg.baseURL = server.URL

	err := tg.Send(context.Background(), Message{Title: "Hello", Body: "world"})
	require.NoError(t, err)
	assert.Equal(t, "-100200", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, "<b>Hello</b>\n\nworld", got["text"])
}

func TestTelegramAPIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer server.Close()

	tg := NewTelegram("123:ABC", "1")
	tg.baseURL = server.URL

	err := tg.Send(context.Background(), Message{Body: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegramDisabled(t *testing.T) {
	t.Parallel()

	tg := NewTelegram("", "1")
	assert.False(t, tg.Enabled())
	assert.NoError(t, tg.Send(context.Background(), Message{Body: "x"}))
}

func TestTelegramRedactsToken(t *testing.T) {
	t.Parallel()

	tg := NewTelegram("secret-token", "1")
	tg.baseURL = "http://127.0.0.1:1"
	err := tg.Send(context.Background(), Message{Body: "x"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")
}

type failing struct{ calls int }

func (f *failing) Send(ctx context.Context, m Message) error {
	f.calls++
	return errors.New("down")
}
func (f *failing) Name() string  { return "failing" }
func (f *failing) Enabled() bool { return true }

func TestManagerFansOutAndSwallowsErrors(t *testing.T) {
	t.Parallel()

	bad := &failing{}
	rec := &Recorder{}
	m := NewManager(zerolog.Nop(), bad, NewTelegram("", ""))
	m.Add(rec)
	assert.True(t, m.Enabled())

	m.Send(context.Background(), Message{Kind: KindInfo, Body: "hi"})
	assert.Equal(t, 1, bad.calls)
	require.Len(t, rec.Messages(), 1)
	assert.False(t, rec.Messages()[0].Time.IsZero())
	assert.Equal(t, []Kind{KindInfo}, rec.Kinds())

	assert.False(t, NewManager(zerolog.Nop(), NewTelegram("", "")).Enabled())
}

func TestSignalDebug(t *testing.T) {
	t.Parallel()

	c := market.Candle{Time: now, Open: 100, High: 106, Low: 99, Close: 105}
	sig := strategy.Evaluate(c, indicators.Pair{Fast: 102, Slow: 90})
	m := SignalDebug(sig, now)

	assert.Equal(t, KindSignal, m.Kind)
	assert.Contains(t, m.Body, "✓ green candle")
	assert.Contains(t, m.Body, "Result: <b>CE</b> confidence 80% (4/4)")
}

func TestTradeMessages(t *testing.T) {
	t.Parallel()

	p := journal.Position{
		Symbol: "SENSEX2561081500CE", OptionType: "CE", Mode: "paper",
		Quantity: 20, EntryPrice: 250, EntryIndex: 81540, StopLoss: 81500, Target: 81690,
		Confidence: 0.8, EntryTime: now,
	}
	open := TradeOpened(p)
	assert.Equal(t, "Opened CE", open.Title)
	assert.Contains(t, open.Body, "x 20 @ 250.00")
	assert.Contains(t, open.Body, "Mode PAPER")

	p.ExitPrice, p.ExitTime, p.ExitReason, p.PnL = 240, now.Add(9*time.Minute), "EXIT_SL", -200
	p.Status = journal.StatusClosed
	closed := TradeClosed(p)
	assert.Equal(t, "Closed at a loss", closed.Title)
	assert.Contains(t, closed.Body, "Reason EXIT_SL")
	assert.Contains(t, closed.Body, "Held 9m0s")
}

func TestRiskAndReportMessages(t *testing.T) {
	t.Parallel()

	l := risk.DefaultLimits()
	s := risk.State{Day: "2025-06-10", TradesToday: 3, ConsecutiveLosses: 1, DailyPnL: -1200}
	d := risk.Evaluate(l, s, risk.Intent{})

	m := RiskDenied(d, s, now)
	assert.Contains(t, m.Body, "<b>MAX_TRADES</b>")
	assert.Contains(t, m.Body, "Trades 3")

	rep := DailyReport("2025-06-10", journal.Summary{Trades: 3, Wins: 2, Losses: 1, WinRate: 2.0 / 3.0, PnL: 900}, s, l, now)
	assert.Equal(t, "Daily report 2025-06-10", rep.Title)
	assert.Contains(t, rep.Body, "Win rate 67%")
	assert.Contains(t, rep.Body, "✓ trades 3/3")

	e := Error("Cycle failed", errors.New("quote <BSE:SENSEX> timeout"), now)
	assert.Contains(t, e.Body, "&lt;BSE:SENSEX&gt;")

	assert.Contains(t, Halted("operator stop", now).Body, "operator stop")
	assert.Contains(t, DayReset("2025-06-11", now).Body, "2025-06-11")
	assert.Contains(t, Started("paper", l, now).Body, "PAPER")
	assert.Contains(t, Stopped("signal", now).Body, "signal")
}
