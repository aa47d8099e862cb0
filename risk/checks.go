package risk

import "fmt"

// Reason codes. The first three are the daily circuit breakers.
const (
	ReasonOK                = "OK"
	ReasonMaxTrades         = "MAX_TRADES"
	ReasonMaxLosses         = "MAX_LOSSES"
	ReasonDailyLossCap      = "DAILY_LOSS_CAP"
	ReasonHalted            = "HALTED"
	ReasonMaxExposure       = "MAX_EXPOSURE"
	ReasonInsufficientFunds = "INSUFFICIENT_FUNDS"
)

type Violation struct {
	Code string
	Msg  string
}

type Decision struct {
	Allowed    bool
	Violations []Violation
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Reason is the first violation, or OK.
func (d Decision) Reason() string {
	if len(d.Violations) == 0 {
		return ReasonOK
	}
	return d.Violations[0].Code
}

func (d Decision) Message() string {
	if len(d.Violations) == 0 {
		return "trade allowed"
	}
	return d.Violations[0].Msg
}

// Evaluate checks a proposed trade against the limits. Counters are
// tested first and in a fixed order, so with trades_today at the cap
// the reason is always MAX_TRADES. Every breach is listed.
func Evaluate(l Limits, s State, in Intent) Decision {
	d := Decision{Allowed: true}

	if s.TradesToday >= l.MaxDailyTrades {
		d.add(ReasonMaxTrades,
			fmt.Sprintf("trades today %d >= max %d", s.TradesToday, l.MaxDailyTrades))
	}
	if s.ConsecutiveLosses >= l.MaxConsecutiveLosses {
		d.add(ReasonMaxLosses,
			fmt.Sprintf("consecutive losses %d >= max %d", s.ConsecutiveLosses, l.MaxConsecutiveLosses))
	}
	if s.DailyPnL <= l.MaxDailyLoss {
		d.add(ReasonDailyLossCap,
			fmt.Sprintf("daily P/L %.2f <= limit %.2f", s.DailyPnL, l.MaxDailyLoss))
	}

	if s.Halted {
		msg := "trading halted"
		if s.HaltReason != "" {
			msg += ": " + s.HaltReason
		}
		d.add(ReasonHalted, msg)
	}

	if in.Premium > 0 {
		if in.Quantity < l.LotSize {
			d.add(ReasonInsufficientFunds,
				fmt.Sprintf("quantity %d is below one lot (%d)", in.Quantity, l.LotSize))
		}
		if exp := in.Exposure(); exp > l.MaxExposure {
			d.add(ReasonMaxExposure,
				fmt.Sprintf("exposure %.2f exceeds max %.2f", exp, l.MaxExposure))
		}
	}

	return d
}
