package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/rustyeddy/optbot/journal"
	"github.com/rustyeddy/optbot/risk"
	"github.com/rustyeddy/optbot/strategy"
)

const clock = "15:04:05"

func esc(s string) string { return html.EscapeString(s) }

func Started(mode string, l risk.Limits, now time.Time) Message {
	body := fmt.Sprintf(
		"Mode: <code>%s</code>\nTime: %s\n\nLimits: %d trades, %d losses in a row, daily loss %.0f\nSize: %d (lot %d), max exposure %.0f",
		esc(strings.ToUpper(mode)), now.Format(clock),
		l.MaxDailyTrades, l.MaxConsecutiveLosses, l.MaxDailyLoss,
		l.PositionSize, l.LotSize, l.MaxExposure,
	)
	return Message{Kind: KindStart, Title: "Bot started", Body: body, Time: now}
}

func Stopped(reason string, now time.Time) Message {
	return Message{
		Kind:  KindStop,
		Title: "Bot stopped",
		Body:  fmt.Sprintf("Reason: %s\nTime: %s", esc(reason), now.Format(clock)),
		Time:  now,
	}
}

// SignalDebug lists every condition of the evaluated rule.
func SignalDebug(sig strategy.Signal, now time.Time) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Candle %s  O %.2f H %.2f L %.2f C %.2f\n",
		sig.Candle.Time.Format("15:04"), sig.Candle.Open, sig.Candle.High, sig.Candle.Low, sig.Candle.Close)
	fmt.Fprintf(&b, "EMA %s\n\n", esc(sig.EMA.String()))
	for _, c := range sig.Conditions {
		mark := "✗"
		if c.Passed {
			mark = "✓"
		}
		fmt.Fprintf(&b, "%s %s <i>(%s)</i>\n", mark, esc(c.Name), esc(c.Detail))
	}
	fmt.Fprintf(&b, "\nResult: <b>%s</b> confidence %.0f%% (%d/%d)",
		sig.Side, sig.Confidence*100, sig.Passed(), len(sig.Conditions))

	return Message{Kind: KindSignal, Title: "Signal check", Body: b.String(), Time: now}
}

func TradeOpened(p journal.Position) Message {
	body := fmt.Sprintf(
		"<code>%s</code> x %d @ %.2f\nSENSEX %.2f\nStop %.2f | Target %.2f\nConfidence %.0f%%\nMode %s",
		esc(p.Symbol), p.Quantity, p.EntryPrice, p.EntryIndex,
		p.StopLoss, p.Target, p.Confidence*100, esc(strings.ToUpper(p.Mode)),
	)
	return Message{Kind: KindTradeOpen, Title: "Opened " + esc(p.OptionType), Body: body, Time: p.EntryTime}
}

func TradeClosed(p journal.Position) Message {
	title := "Closed in profit"
	if p.PnL < 0 {
		title = "Closed at a loss"
	}
	body := fmt.Sprintf(
		"<code>%s</code> x %d\nEntry %.2f → Exit %.2f\nP/L <b>%.2f</b>\nReason %s\nHeld %s",
		esc(p.Symbol), p.Quantity, p.EntryPrice, p.ExitPrice, p.PnL,
		esc(p.ExitReason), p.Held(p.ExitTime).Round(time.Second),
	)
	return Message{Kind: KindTradeClose, Title: title, Body: body, Time: p.ExitTime}
}

// RiskDenied is sent the first time a reason blocks trading in a day.
func RiskDenied(d risk.Decision, s risk.State, now time.Time) Message {
	var b strings.Builder
	for _, v := range d.Violations {
		fmt.Fprintf(&b, "• <b>%s</b>: %s\n", esc(v.Code), esc(v.Msg))
	}
	fmt.Fprintf(&b, "\nTrades %d | Losses in a row %d | P/L %.2f",
		s.TradesToday, s.ConsecutiveLosses, s.DailyPnL)
	return Message{Kind: KindRisk, Title: "Trade blocked", Body: b.String(), Time: now}
}

func Halted(reason string, now time.Time) Message {
	return Message{
		Kind:  KindHalt,
		Title: "Trading halted",
		Body:  fmt.Sprintf("%s\nNo new positions until the next trading day or a manual reset.", esc(reason)),
		Time:  now,
	}
}

func DayReset(day string, now time.Time) Message {
	return Message{
		Kind:  KindDayReset,
		Title: "New trading day",
		Body:  fmt.Sprintf("Counters reset for <b>%s</b>.", esc(day)),
		Time:  now,
	}
}

// DailyReport summarises the day and whether every limit held.
func DailyReport(day string, sum journal.Summary, s risk.State, l risk.Limits, now time.Time) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Trades %d | Wins %d | Losses %d\n", sum.Trades, sum.Wins, sum.Losses)
	fmt.Fprintf(&b, "Win rate %.0f%%\n", sum.WinRate*100)
	fmt.Fprintf(&b, "P/L <b>%.2f</b> (best %.2f, worst %.2f)\n\n", sum.PnL, sum.Best, sum.Worst)

	check := func(ok bool) string {
		if ok {
			return "✓"
		}
		return "✗"
	}
	fmt.Fprintf(&b, "%s trades %d/%d\n", check(s.TradesToday <= l.MaxDailyTrades), s.TradesToday, l.MaxDailyTrades)
	fmt.Fprintf(&b, "%s losses in a row %d/%d\n", check(s.ConsecutiveLosses <= l.MaxConsecutiveLosses), s.ConsecutiveLosses, l.MaxConsecutiveLosses)
	fmt.Fprintf(&b, "%s daily P/L %.2f (floor %.0f)", check(s.DailyPnL >= l.MaxDailyLoss), s.DailyPnL, l.MaxDailyLoss)
	if s.Halted {
		fmt.Fprintf(&b, "\nHalted: %s", esc(s.HaltReason))
	}
	return Message{Kind: KindDailyReport, Title: "Daily report " + esc(day), Body: b.String(), Time: now}
}

func Error(title string, err error, now time.Time) Message {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Message{Kind: KindError, Title: esc(title), Body: "<code>" + esc(msg) + "</code>", Time: now}
}
