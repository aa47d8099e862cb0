package market

import "time"

// Candle represents OHLC (Open, High, Low, Close) candlestick data
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Green reports a candle that closed above its open.
func (c Candle) Green() bool { return c.Close > c.Open }

// Red reports a candle that closed below its open.
func (c Candle) Red() bool { return c.Close < c.Open }

// Body is the signed close-minus-open move.
func (c Candle) Body() float64 { return c.Close - c.Open }

// Closes extracts close prices in order.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Last returns the most recent candle, or false when there is none.
func Last(candles []Candle) (Candle, bool) {
	if len(candles) == 0 {
		return Candle{}, false
	}
	return candles[len(candles)-1], true
}
