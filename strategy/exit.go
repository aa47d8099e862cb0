package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/optbot/indicators"
	"github.com/rustyeddy/optbot/market"
)

// Exit is the outcome of the exit rule.
type Exit string

const (
	Hold       Exit = "HOLD"
	ExitSL     Exit = "EXIT_SL"
	ExitTarget Exit = "EXIT_TARGET"
	ExitTime   Exit = "EXIT_TIME"
)

func (e Exit) Closes() bool { return e != Hold }

const (
	DefaultTargetDistance = 150.0
	DefaultCallMaxHold    = 60 * time.Minute // 20 three-minute candles
	DefaultPutMaxHold     = 30 * time.Minute // 10 three-minute candles
)

// ExitRule carries the exit thresholds.
type ExitRule struct {
	TargetDistance float64 // |close-slow| beyond this takes profit
	CallMaxHold    time.Duration
	PutMaxHold     time.Duration
}

func DefaultExitRule() ExitRule {
	return ExitRule{
		TargetDistance: DefaultTargetDistance,
		CallMaxHold:    DefaultCallMaxHold,
		PutMaxHold:     DefaultPutMaxHold,
	}
}

func (r ExitRule) Validate() error {
	if r.TargetDistance <= 0 {
		return fmt.Errorf("target distance %.2f must be positive", r.TargetDistance)
	}
	if r.CallMaxHold <= 0 || r.PutMaxHold <= 0 {
		return fmt.Errorf("max hold must be positive (ce=%s pe=%s)", r.CallMaxHold, r.PutMaxHold)
	}
	return nil
}

// MaxHold returns the holding cap for a side.
func (r ExitRule) MaxHold(side Side) time.Duration {
	if side == PE {
		return r.PutMaxHold
	}
	return r.CallMaxHold
}

// Holding is the part of an open position the exit rule needs.
type Holding struct {
	Side      Side
	EntryTime time.Time
}

// ExitCheck is a decision plus a human readable reason.
type ExitCheck struct {
	Decision Exit
	Reason   string
	Held     time.Duration
}

// Check evaluates stop, target and time cap in that order; the first
// hit wins. The stop is the slow EMA: a CE exits once the close is at or
// below it, a PE once the close is at or above it.
func (r ExitRule) Check(h Holding, c market.Candle, ema indicators.Pair, now time.Time) ExitCheck {
	held := now.Sub(h.EntryTime)
	out := ExitCheck{Decision: Hold, Held: held}

	switch h.Side {
	case CE:
		if c.Close <= ema.Slow {
			out.Decision = ExitSL
			out.Reason = fmt.Sprintf("close %.2f at or below slow ema %.2f", c.Close, ema.Slow)
			return out
		}
	case PE:
		if c.Close >= ema.Slow {
			out.Decision = ExitSL
			out.Reason = fmt.Sprintf("close %.2f at or above slow ema %.2f", c.Close, ema.Slow)
			return out
		}
	}

	if dist := math.Abs(c.Close - ema.Slow); dist > r.TargetDistance {
		out.Decision = ExitTarget
		out.Reason = fmt.Sprintf("close %.2f is %.2f from slow ema (> %.0f)", c.Close, dist, r.TargetDistance)
		return out
	}

	if limit := r.MaxHold(h.Side); held > limit {
		out.Decision = ExitTime
		out.Reason = fmt.Sprintf("held %s exceeds %s", held.Round(time.Second), limit)
		return out
	}

	out.Reason = fmt.Sprintf("held %s, close %.2f, slow ema %.2f", held.Round(time.Second), c.Close, ema.Slow)
	return out
}

// CheckExit applies DefaultExitRule.
func CheckExit(h Holding, c market.Candle, ema indicators.Pair, now time.Time) ExitCheck {
	return DefaultExitRule().Check(h, c, ema, now)
}
