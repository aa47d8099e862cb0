package market

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoQuote is returned when a store holds nothing for an instrument.
var ErrNoQuote = errors.New("quote not found")

type QuoteSource interface {
	Quote(ctx context.Context, instrument string) (Quote, error)
}

// Quote is a last-traded price snapshot. Bid/Ask are zero when the
// feed only carries LTP.
type Quote struct {
	Instrument string
	Token      uint32
	Time       time.Time
	Last       float64
	Bid        float64
	Ask        float64
}

func (q Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

// QuoteStore keeps the latest quote per instrument. The live ticker
// writes, the trading loop reads.
type QuoteStore struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	byTok  map[uint32]string
}

func NewQuoteStore() *QuoteStore {
	return &QuoteStore{
		quotes: make(map[string]Quote),
		byTok:  make(map[uint32]string),
	}
}

// Bind maps an instrument token to a symbol so token-only updates
// land under the right key.
func (s *QuoteStore) Bind(token uint32, instrument string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTok[token] = instrument
}

func (s *QuoteStore) Set(q Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.Instrument == "" {
		name, ok := s.byTok[q.Token]
		if !ok {
			return
		}
		q.Instrument = name
	}
	s.quotes[q.Instrument] = q
}

func (s *QuoteStore) Get(instrument string) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[instrument]
	if !ok {
		return Quote{}, ErrNoQuote
	}
	return q, nil
}

// Fresh returns the stored quote only if it is younger than maxAge at now.
func (s *QuoteStore) Fresh(instrument string, now time.Time, maxAge time.Duration) (Quote, bool) {
	q, err := s.Get(instrument)
	if err != nil {
		return Quote{}, false
	}
	if now.Sub(q.Time) > maxAge {
		return Quote{}, false
	}
	return q, true
}
