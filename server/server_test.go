package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/optbot/journal"
	"github.com/rustyeddy/optbot/risk"
	"github.com/rustyeddy/optbot/session"
)

type staticStatus session.Status

func (s staticStatus) Status() session.Status { return session.Status(s) }

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type fakeFeed struct {
	connected bool
	last      time.Time
}

func (f fakeFeed) Connected() bool     { return f.connected }
func (f fakeFeed) LastTick() time.Time { return f.last }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		ping     error
		wantCode int
		wantDB   string
	}{
		{name: "healthy", wantCode: http.StatusOK, wantDB: "healthy"},
		{name: "database down", ping: errors.New("disk I/O error"), wantCode: http.StatusServiceUnavailable, wantDB: "disk I/O error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := New(":0", Deps{
				Status: staticStatus{},
				DB:     pingFunc(func(context.Context) error { return tt.ping }),
				Feed:   fakeFeed{connected: true, last: time.Date(2025, 6, 10, 5, 0, 0, 0, time.UTC)},
			}, zerolog.Nop())

			rec := get(t, s.Handler(), "/healthz")
			assert.Equal(t, tt.wantCode, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantDB, body["database"])
			assert.Equal(t, true, body["ticker_connected"])
			assert.Equal(t, "2025-06-10T05:00:00Z", body["last_tick"])
		})
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	st := session.Status{
		Mode:       "paper",
		MarketOpen: true,
		Market:     "market open (10:30)",
		Risk:       risk.State{Day: "2025-06-10", TradesToday: 2},
		Limits:     risk.DefaultLimits(),
		Position:   &journal.Position{ID: "P1", Symbol: "SENSEX2561080000CE", Quantity: 100},
		Mark:       210,
		Unrealized: 1000,
	}
	s := New(":0", Deps{Status: staticStatus(st), Breaker: func() string { return "closed" }}, zerolog.Nop())

	rec := get(t, s.Handler(), "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Mode       string            `json:"mode"`
		MarketOpen bool              `json:"market_open"`
		Risk       risk.State        `json:"risk"`
		Position   *journal.Position `json:"position"`
		Unrealized float64           `json:"unrealized"`
		Breaker    string            `json:"breaker"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "paper", body.Mode)
	assert.True(t, body.MarketOpen)
	assert.Equal(t, 2, body.Risk.TradesToday)
	require.NotNil(t, body.Position)
	assert.Equal(t, "P1", body.Position.ID)
	assert.Equal(t, 1000.0, body.Unrealized)
	assert.Equal(t, "closed", body.Breaker)
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	s := New(":0", Deps{Status: staticStatus{}}, zerolog.Nop())
	rec := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "optbot_risk_trades_today"))
}

func TestRunShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	s := New("127.0.0.1:0", Deps{Status: staticStatus{}}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
