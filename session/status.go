package session

import (
	"time"

	"github.com/rustyeddy/optbot/indicators"
	"github.com/rustyeddy/optbot/journal"
	"github.com/rustyeddy/optbot/market"
	"github.com/rustyeddy/optbot/risk"
	"github.com/rustyeddy/optbot/strategy"
)

// Status is a read-only snapshot of the loop for the status API.
type Status struct {
	Mode       string            `json:"mode"`
	UpdatedAt  time.Time         `json:"updated_at"`
	MarketOpen bool              `json:"market_open"`
	Market     string            `json:"market"`
	Candle     market.Candle     `json:"candle"`
	EMA        indicators.Pair   `json:"ema"`
	Signal     strategy.Side     `json:"signal"`
	Confidence float64           `json:"confidence"`
	Risk       risk.State        `json:"risk"`
	Limits     risk.Limits       `json:"limits"`
	Position   *journal.Position `json:"position,omitempty"`
	Mark       float64           `json:"mark,omitempty"`
	Unrealized float64           `json:"unrealized,omitempty"`
	Session    journal.Session   `json:"session"`
	LastError  string            `json:"last_error,omitempty"`
}

// Status returns a copy of the latest snapshot.
func (t *Trader) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.snap
	if s.Position != nil {
		p := *s.Position
		s.Position = &p
	}
	return s
}

func (t *Trader) publish(now time.Time, open bool, why string) {
	st := t.risk.State()

	t.mu.Lock()
	t.snap.Mode = t.opts.Mode
	t.snap.UpdatedAt = now
	t.snap.MarketOpen = open
	t.snap.Market = why
	t.snap.Risk = st
	t.snap.Limits = t.risk.Limits()
	t.snap.Session = t.sess
	t.snap.Position = nil
	t.snap.Unrealized = 0
	if t.pos != nil {
		p := *t.pos
		t.snap.Position = &p
		if t.snap.Mark > 0 {
			t.snap.Unrealized = (t.snap.Mark - p.EntryPrice) * float64(p.Quantity)
		}
	} else {
		t.snap.Mark = 0
	}
	t.mu.Unlock()

	metricTradesToday.Set(float64(st.TradesToday))
	metricConsecutiveLosses.Set(float64(st.ConsecutiveLosses))
	metricDailyPnL.Set(st.DailyPnL)
	boolGauge(metricHalted, st.Halted)
	boolGauge(metricPositionOpen, t.pos != nil)
}

func (t *Trader) setChart(c market.Candle, ema indicators.Pair) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Candle = c
	t.snap.EMA = ema
}

func (t *Trader) setSignal(sig strategy.Signal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Signal = sig.Side
	t.snap.Confidence = sig.Confidence
}

func (t *Trader) setMark(price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Mark = price
}

func (t *Trader) setError(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.LastError = msg
}
