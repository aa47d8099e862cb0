package market

import (
	"fmt"
	"math"
	"time"
)

// Strike selection constants for the index. After the midday cut-off the
// reference price is shifted down before rounding.
const (
	StrikeStep        = 100.0
	AfternoonOffset   = 175.0
	AfternoonFromHour = 12
)

// ATMStrike picks the at-the-money strike for spot at now (already in
// exchange local time).
func ATMStrike(spot float64, now time.Time) float64 {
	ref := spot
	if now.Hour() >= AfternoonFromHour {
		ref = spot - AfternoonOffset
	}
	return math.Floor(ref/StrikeStep) * StrikeStep
}

// monthCodes are the single-character month markers used in weekly
// option symbols. October to December use O, N, D.
var monthCodes = [...]string{"", "1", "2", "3", "4", "5", "6", "7", "8", "9", "O", "N", "D"}

// WeeklySymbol builds a weekly contract symbol such as
// SENSEX2561081500CE (yy, month code, dd, strike, side). It is only a
// fallback for paper trading when no instrument master is available.
func WeeklySymbol(underlying string, expiry time.Time, strike float64, typ OptionType) string {
	return fmt.Sprintf("%s%02d%s%02d%.0f%s",
		underlying, expiry.Year()%100, monthCodes[expiry.Month()], expiry.Day(), strike, typ)
}

// NextWeekday returns the first date on or after from falling on wd.
func NextWeekday(from time.Time, wd time.Weekday) time.Time {
	days := (int(wd) - int(from.Weekday()) + 7) % 7
	d := from.AddDate(0, 0, days)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, from.Location())
}
