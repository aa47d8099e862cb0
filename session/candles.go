package session

import (
	"fmt"
	"time"

	"github.com/rustyeddy/optbot/market"
)

var intervals = map[string]time.Duration{
	"minute":   time.Minute,
	"3minute":  3 * time.Minute,
	"5minute":  5 * time.Minute,
	"10minute": 10 * time.Minute,
	"15minute": 15 * time.Minute,
	"30minute": 30 * time.Minute,
	"60minute": time.Hour,
}

// IntervalDuration maps a broker candle interval name to its length.
func IntervalDuration(interval string) (time.Duration, error) {
	d, ok := intervals[interval]
	if !ok {
		return 0, fmt.Errorf("unsupported candle interval %q", interval)
	}
	return d, nil
}

// completed drops a trailing candle that is still forming at now.
func completed(candles []market.Candle, now time.Time, d time.Duration) []market.Candle {
	n := len(candles)
	if n == 0 {
		return candles
	}
	if candles[n-1].Time.Add(d).After(now) {
		return candles[:n-1]
	}
	return candles
}
