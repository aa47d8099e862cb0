// Package indicators computes the EMA pair the signal and exit rules
// read, in batch over a candle window or streaming one candle at a time.
package indicators

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/rustyeddy/optbot/market"
)

// Default EMA periods for the fast and slow lines.
const (
	DefaultFast = 10
	DefaultSlow = 20
)

// EMA returns the full exponential moving average series of closes.
// Entries before period-1 are zero, as talib leaves them.
func EMA(closes []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(closes) < period {
		return nil, fmt.Errorf("not enough candles: need %d, got %d", period, len(closes))
	}
	return talib.Ema(closes, period), nil
}

// Pair is the fast and slow EMA at one candle.
type Pair struct {
	Fast float64
	Slow float64
}

// Spread is fast minus slow.
func (p Pair) Spread() float64 { return p.Fast - p.Slow }

func (p Pair) String() string {
	return fmt.Sprintf("fast=%.2f slow=%.2f", p.Fast, p.Slow)
}

// Periods selects the fast and slow lookbacks.
type Periods struct {
	Fast int
	Slow int
}

func DefaultPeriods() Periods { return Periods{Fast: DefaultFast, Slow: DefaultSlow} }

func (p Periods) Validate() error {
	if p.Fast <= 0 || p.Slow <= 0 {
		return fmt.Errorf("ema periods must be positive (fast=%d slow=%d)", p.Fast, p.Slow)
	}
	if p.Fast >= p.Slow {
		return fmt.Errorf("fast period %d must be shorter than slow period %d", p.Fast, p.Slow)
	}
	return nil
}

// MinCandles is how many candles Latest needs.
func (p Periods) MinCandles() int { return p.Slow }

// Latest computes the EMA pair at the last candle.
func Latest(candles []market.Candle, p Periods) (Pair, error) {
	if err := p.Validate(); err != nil {
		return Pair{}, err
	}
	closes := market.Closes(candles)
	fast, err := EMA(closes, p.Fast)
	if err != nil {
		return Pair{}, fmt.Errorf("fast ema: %w", err)
	}
	slow, err := EMA(closes, p.Slow)
	if err != nil {
		return Pair{}, fmt.Errorf("slow ema: %w", err)
	}
	n := len(closes) - 1
	return Pair{Fast: fast[n], Slow: slow[n]}, nil
}
