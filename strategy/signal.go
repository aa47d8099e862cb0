// Package strategy holds the entry and exit rules. Both are pure
// functions of the latest candle and the EMA pair.
package strategy

import (
	"fmt"
	"math"

	"github.com/rustyeddy/optbot/indicators"
	"github.com/rustyeddy/optbot/market"
)

// Side is the outcome of the entry rule.
type Side string

const (
	CE   Side = "CE"
	PE   Side = "PE"
	None Side = "NONE"
)

// OptionType maps a trade side to the option bought. None has no type.
func (s Side) OptionType() (market.OptionType, bool) {
	switch s {
	case CE:
		return market.Call, true
	case PE:
		return market.Put, true
	}
	return "", false
}

// Rule thresholds, in index points.
const (
	DefaultMaxSpread      = 51.0
	DefaultProximity      = 21.0
	DefaultConfidenceBase = 0.8
)

// Rule carries the entry thresholds.
type Rule struct {
	MaxSpread      float64 // |fast-slow| must not exceed this
	Proximity      float64 // open or wick must be strictly closer than this to fast
	ConfidenceBase float64
}

func DefaultRule() Rule {
	return Rule{
		MaxSpread:      DefaultMaxSpread,
		Proximity:      DefaultProximity,
		ConfidenceBase: DefaultConfidenceBase,
	}
}

func (r Rule) Validate() error {
	if r.MaxSpread <= 0 || r.Proximity <= 0 {
		return fmt.Errorf("rule thresholds must be positive (max_spread=%.2f proximity=%.2f)", r.MaxSpread, r.Proximity)
	}
	if r.ConfidenceBase <= 0 || r.ConfidenceBase > 1 {
		return fmt.Errorf("confidence base %.2f must be in (0,1]", r.ConfidenceBase)
	}
	return nil
}

// Condition is one named check of the rule.
type Condition struct {
	Name   string
	Passed bool
	Detail string
}

// Signal is the evaluated rule. Conditions belong to the side that
// scored higher (CE on ties).
type Signal struct {
	Side       Side
	Confidence float64
	Conditions []Condition
	Candle     market.Candle
	EMA        indicators.Pair
}

func (s Signal) Fired() bool { return s.Side != None }

// Passed counts passing conditions.
func (s Signal) Passed() int {
	n := 0
	for _, c := range s.Conditions {
		if c.Passed {
			n++
		}
	}
	return n
}

// Evaluate applies the rule to the latest candle.
//
// CE: green candle, fast above slow, lines within MaxSpread, and the
// open or the low within Proximity of the fast line. PE mirrors it with
// a red candle, fast below slow and the high.
func (r Rule) Evaluate(c market.Candle, ema indicators.Pair) Signal {
	spread := math.Abs(ema.Fast - ema.Slow)
	openDist := math.Abs(c.Open - ema.Fast)

	ceTouch := math.Min(openDist, math.Abs(c.Low-ema.Fast))
	ce := []Condition{
		{Name: "green candle", Passed: c.Close > c.Open, Detail: fmt.Sprintf("close %.2f > open %.2f", c.Close, c.Open)},
		{Name: "fast above slow", Passed: ema.Fast > ema.Slow, Detail: ema.String()},
		{Name: "ema spread", Passed: spread <= r.MaxSpread, Detail: fmt.Sprintf("%.2f <= %.0f", spread, r.MaxSpread)},
		{Name: "near fast ema", Passed: ceTouch < r.Proximity, Detail: fmt.Sprintf("min(open,low) dist %.2f < %.0f", ceTouch, r.Proximity)},
	}

	peTouch := math.Min(openDist, math.Abs(c.High-ema.Fast))
	pe := []Condition{
		{Name: "red candle", Passed: c.Close < c.Open, Detail: fmt.Sprintf("close %.2f < open %.2f", c.Close, c.Open)},
		{Name: "fast below slow", Passed: ema.Fast < ema.Slow, Detail: ema.String()},
		{Name: "ema spread", Passed: spread <= r.MaxSpread, Detail: fmt.Sprintf("%.2f <= %.0f", spread, r.MaxSpread)},
		{Name: "near fast ema", Passed: peTouch < r.Proximity, Detail: fmt.Sprintf("min(open,high) dist %.2f < %.0f", peTouch, r.Proximity)},
	}

	sig := Signal{Side: None, Candle: c, EMA: ema}
	ceN, peN := count(ce), count(pe)

	switch {
	case ceN == len(ce):
		sig.Side, sig.Conditions = CE, ce
	case peN == len(pe):
		sig.Side, sig.Conditions = PE, pe
	case peN > ceN:
		sig.Conditions = pe
	default:
		sig.Conditions = ce
	}
	sig.Confidence = float64(sig.Passed()) / float64(len(sig.Conditions)) * r.ConfidenceBase
	return sig
}

// Evaluate applies DefaultRule.
func Evaluate(c market.Candle, ema indicators.Pair) Signal {
	return DefaultRule().Evaluate(c, ema)
}

func count(cs []Condition) int {
	n := 0
	for _, c := range cs {
		if c.Passed {
			n++
		}
	}
	return n
}
