// Package backtest replays index candles through the same EMA, entry,
// risk and exit rules the live loop uses. P/L is measured on the index:
// a CE trade is long the index, a PE trade short, times the quantity.
package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/optbot/indicators"
	"github.com/rustyeddy/optbot/market"
	"github.com/rustyeddy/optbot/risk"
	"github.com/rustyeddy/optbot/strategy"
)

// Exit reasons the engine adds to the exit rule's.
const (
	ReasonDayEnd    = "EXIT_EOD"
	ReasonReplayEnd = "EXIT_END"
)

type Config struct {
	Periods  indicators.Periods
	Rule     strategy.Rule
	Exit     strategy.ExitRule
	Limits   risk.Limits
	Interval time.Duration // candle length; a candle is evaluated at its close

	// Quantity per trade. Zero uses Limits.PositionSize.
	Quantity int

	// Calendar limits entries to market hours and keys trading days.
	// Nil treats every candle as tradable and keys days by date.
	Calendar *market.Calendar
}

func DefaultConfig() Config {
	return Config{
		Periods:  indicators.DefaultPeriods(),
		Rule:     strategy.DefaultRule(),
		Exit:     strategy.DefaultExitRule(),
		Limits:   risk.DefaultLimits(),
		Interval: 3 * time.Minute,
	}
}

type Trade struct {
	Side       strategy.Side
	EntryTime  time.Time
	ExitTime   time.Time
	EntryIndex float64
	ExitIndex  float64
	Quantity   int
	Points     float64
	PnL        float64
	Confidence float64
	Reason     string
}

type Position struct {
	Side       strategy.Side
	EntryIndex float64
	EntryTime  time.Time
	Quantity   int
	Confidence float64
	Day        string
}

type Engine struct {
	cfg    Config
	ema    *indicators.PairTracker
	risk   *risk.Manager
	clock  risk.DayClock
	log    zerolog.Logger
	inited bool

	Pos    *Position
	Trades []Trade

	Candles int
	Signals int
	Denied  int
	Start   time.Time
	End     time.Time

	last   market.Candle
	equity float64
	peak   float64
	maxDD  float64
}

func NewEngine(cfg Config, log zerolog.Logger) (*Engine, error) {
	if err := cfg.Periods.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Rule.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Exit.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Limits.Validate(); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if cfg.Quantity <= 0 {
		cfg.Quantity = cfg.Limits.PositionSize
	}

	var clock risk.DayClock = dateClock{}
	if cfg.Calendar != nil {
		clock = cfg.Calendar
	}
	log = log.With().Str("component", "backtest").Logger()
	return &Engine{
		cfg:   cfg,
		ema:   indicators.NewPairTracker(cfg.Periods),
		risk:  risk.NewManager(cfg.Limits, &memStore{}, clock, log),
		clock: clock,
		log:   log,
	}, nil
}

// OnCandle advances the replay by one completed candle: close a
// position left over from an earlier day, roll the counters, update the
// EMAs, then either manage the open position or look for an entry.
func (e *Engine) OnCandle(ctx context.Context, c market.Candle) error {
	now := c.Time.Add(e.cfg.Interval)
	if !e.inited {
		if err := e.risk.InitAtStartup(ctx, now); err != nil {
			return err
		}
		e.inited = true
		e.Start = c.Time
	}

	day := e.clock.TradingDay(now)
	if e.Pos != nil && e.Pos.Day != day {
		if err := e.close(ctx, e.last.Close, e.last.Time.Add(e.cfg.Interval), ReasonDayEnd); err != nil {
			return err
		}
	}
	if _, err := e.risk.RolloverIfNeeded(ctx, now); err != nil {
		return err
	}

	e.Candles++
	e.End = c.Time
	e.last = c
	e.ema.Update(c)
	if !e.ema.Ready() {
		return nil
	}
	pair := e.ema.Pair()

	if e.Pos != nil {
		chk := e.cfg.Exit.Check(strategy.Holding{Side: e.Pos.Side, EntryTime: e.Pos.EntryTime}, c, pair, now)
		if chk.Decision.Closes() {
			return e.close(ctx, c.Close, now, string(chk.Decision))
		}
		return nil
	}

	if e.cfg.Calendar != nil && !e.cfg.Calendar.IsOpen(now) {
		return nil
	}

	sig := e.cfg.Rule.Evaluate(c, pair)
	if !sig.Fired() {
		return nil
	}
	e.Signals++

	if d := e.risk.Check(risk.Intent{Now: now}); !d.Allowed {
		e.Denied++
		e.log.Debug().Time("time", now).Str("reason", d.Reason()).Msg("signal denied")
		return nil
	}

	e.Pos = &Position{
		Side:       sig.Side,
		EntryIndex: c.Close,
		EntryTime:  now,
		Quantity:   e.cfg.Quantity,
		Confidence: sig.Confidence,
		Day:        day,
	}
	return e.risk.RecordOpened(ctx, now)
}

// Finish closes any open position at the last close.
func (e *Engine) Finish(ctx context.Context) error {
	if e.Pos == nil {
		return nil
	}
	return e.close(ctx, e.last.Close, e.last.Time.Add(e.cfg.Interval), ReasonReplayEnd)
}

func (e *Engine) close(ctx context.Context, price float64, t time.Time, reason string) error {
	p := e.Pos
	e.Pos = nil

	dir := 1.0
	if p.Side == strategy.PE {
		dir = -1
	}
	points := dir * (price - p.EntryIndex)
	pnl := points * float64(p.Quantity)

	e.Trades = append(e.Trades, Trade{
		Side:       p.Side,
		EntryTime:  p.EntryTime,
		ExitTime:   t,
		EntryIndex: p.EntryIndex,
		ExitIndex:  price,
		Quantity:   p.Quantity,
		Points:     points,
		PnL:        pnl,
		Confidence: p.Confidence,
		Reason:     reason,
	})

	e.equity += pnl
	e.peak = math.Max(e.peak, e.equity)
	e.maxDD = math.Max(e.maxDD, e.peak-e.equity)

	return e.risk.RecordClosed(ctx, pnl, t)
}

// MaxDrawdown is the largest fall of cumulative P/L from its peak.
func (e *Engine) MaxDrawdown() float64 { return e.maxDD }

type dateClock struct{}

func (dateClock) TradingDay(t time.Time) string { return t.Format(time.DateOnly) }

// memStore keeps risk state for the length of a replay.
type memStore struct {
	state risk.State
	ok    bool
}

func (m *memStore) LoadRiskState(ctx context.Context) (risk.State, bool, error) {
	return m.state, m.ok, nil
}

func (m *memStore) SaveRiskState(ctx context.Context, s risk.State) error {
	m.state, m.ok = s, true
	return nil
}
