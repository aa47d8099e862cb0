package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/optbot/internal/id"
	"github.com/rustyeddy/optbot/journal"
	"github.com/rustyeddy/optbot/market"
)

// CandleFeed yields candles in time order. Implementations return
// (ok=false, err=nil) at EOF.
type CandleFeed interface {
	Next() (c market.Candle, ok bool, err error)
	Close() error
}

// SliceFeed replays candles already in memory.
type SliceFeed struct {
	candles []market.Candle
	i       int
}

func NewSliceFeed(candles []market.Candle) *SliceFeed { return &SliceFeed{candles: candles} }

func (f *SliceFeed) Next() (market.Candle, bool, error) {
	if f.i >= len(f.candles) {
		return market.Candle{}, false, nil
	}
	c := f.candles[f.i]
	f.i++
	return c, true, nil
}

func (f *SliceFeed) Close() error { return nil }

// Report is a finished run: the journal summary plus every trade.
type Report struct {
	Run    journal.BacktestRun
	Trades []Trade
}

// Run drives an engine over feed until EOF or ctx is done, then closes
// anything still open and summarises.
func Run(ctx context.Context, feed CandleFeed, cfg Config, dataset string, log zerolog.Logger) (Report, error) {
	if feed == nil {
		return Report{}, fmt.Errorf("backtest: feed is required")
	}
	defer feed.Close()

	eng, err := NewEngine(cfg, log)
	if err != nil {
		return Report{}, fmt.Errorf("backtest: %w", err)
	}

	var prev time.Time
	for {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		c, ok, err := feed.Next()
		if err != nil {
			return Report{}, err
		}
		if !ok {
			break
		}
		if !prev.IsZero() && !c.Time.After(prev) {
			return Report{}, fmt.Errorf("backtest: candle %s not after %s", c.Time.Format(time.RFC3339), prev.Format(time.RFC3339))
		}
		prev = c.Time

		if err := eng.OnCandle(ctx, c); err != nil {
			return Report{}, err
		}
	}
	if err := eng.Finish(ctx); err != nil {
		return Report{}, err
	}

	rep := Report{Run: eng.Summary(dataset), Trades: eng.Trades}
	log.Info().
		Str("run_id", rep.Run.RunID).
		Int("candles", rep.Run.Candles).
		Int("signals", rep.Run.Signals).
		Int("trades", rep.Run.Trades).
		Float64("net_pl", rep.Run.NetPL).
		Msg("backtest finished")
	return rep, nil
}

// Summary folds the engine's trades into a journal row.
func (e *Engine) Summary(dataset string) journal.BacktestRun {
	r := journal.BacktestRun{
		RunID:   id.New(),
		Created: time.Now(),
		Dataset: dataset,
		Start:   e.Start,
		End:     e.End,
		Candles: e.Candles,
		Signals: e.Signals,
		Denied:  e.Denied,
		Trades:  len(e.Trades),
		MaxDD:   e.maxDD,
	}
	reasons := map[string]int{}
	for _, t := range e.Trades {
		r.NetPoints += t.Points
		r.NetPL += t.PnL
		if t.PnL > 0 {
			r.Wins++
		} else {
			r.Losses++
		}
		reasons[t.Reason]++
	}
	if r.Trades > 0 {
		r.WinRate = float64(r.Wins) / float64(r.Trades)
	}
	for _, reason := range []string{"EXIT_SL", "EXIT_TARGET", "EXIT_TIME", ReasonDayEnd, ReasonReplayEnd} {
		if n := reasons[reason]; n > 0 {
			r.Notes = append(r.Notes, fmt.Sprintf("%s: %d", reason, n))
		}
	}
	if r.Denied > 0 {
		r.Notes = append(r.Notes, fmt.Sprintf("%d signals refused by the risk gate", r.Denied))
	}
	return r
}
