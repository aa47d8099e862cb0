package indicators

import "github.com/rustyeddy/optbot/market"

// Stream is an EMA fed one closed candle at a time. It seeds with the
// SMA of the first period closes, so it agrees with EMA over the same
// input.
type Stream struct {
	period int
	alpha  float64
	n      int
	sum    float64
	value  float64
}

func NewStream(period int) *Stream {
	return &Stream{period: period, alpha: 2 / float64(period+1)}
}

func (s *Stream) Push(close float64) {
	if s.n < s.period {
		s.sum += close
		s.n++
		if s.n == s.period {
			s.value = s.sum / float64(s.period)
		}
		return
	}
	s.value += s.alpha * (close - s.value)
}

func (s *Stream) Ready() bool { return s.n >= s.period }

// Value is zero until Ready.
func (s *Stream) Value() float64 {
	if !s.Ready() {
		return 0
	}
	return s.value
}

func (s *Stream) Reset() { *s = Stream{period: s.period, alpha: s.alpha} }

// PairTracker keeps the fast and slow streams of a Periods in step.
type PairTracker struct {
	fast, slow *Stream
}

func NewPairTracker(p Periods) *PairTracker {
	return &PairTracker{fast: NewStream(p.Fast), slow: NewStream(p.Slow)}
}

func (t *PairTracker) Update(c market.Candle) {
	t.fast.Push(c.Close)
	t.slow.Push(c.Close)
}

// Ready is true once the slow stream is seeded.
func (t *PairTracker) Ready() bool { return t.fast.Ready() && t.slow.Ready() }

func (t *PairTracker) Reset() {
	t.fast.Reset()
	t.slow.Reset()
}

func (t *PairTracker) Pair() Pair {
	return Pair{Fast: t.fast.Value(), Slow: t.slow.Value()}
}
