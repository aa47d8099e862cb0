package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/optbot/market"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerHalfOpen
	breakerOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerHalfOpen:
		return "half_open"
	case breakerOpen:
		return "open"
	}
	return "unknown"
}

type GuardConfig struct {
	MaxRetries       uint64
	InitialInterval  time.Duration
	MaxInterval      time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
	HalfOpenTrials   int
	DupWindow        time.Duration
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxRetries:       3,
		InitialInterval:  500 * time.Millisecond,
		MaxInterval:      5 * time.Second,
		BreakerThreshold: 3,
		BreakerCooldown:  2 * time.Minute,
		HalfOpenTrials:   1,
		DupWindow:        30 * time.Second,
	}
}

// Guard wraps a Broker with retries, a circuit breaker on new entries
// and duplicate order suppression.
//
// Data calls are retried on any transient error. Order calls are only
// retried on rate limiting because a timed-out order may have been
// executed.
type Guard struct {
	inner Broker
	cfg   GuardConfig
	log   zerolog.Logger
	now   func() time.Time

	mu         sync.Mutex
	state      breakerState
	failStreak int
	openedAt   time.Time
	halfTrials int

	lastKey string
	lastAt  time.Time
}

func NewGuard(inner Broker, cfg GuardConfig, log zerolog.Logger) *Guard {
	if cfg.BreakerThreshold < 1 {
		cfg.BreakerThreshold = 3
	}
	if cfg.HalfOpenTrials < 1 {
		cfg.HalfOpenTrials = 1
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = cfg.InitialInterval
	}
	return &Guard{
		inner: inner,
		cfg:   cfg,
		log:   log.With().Str("component", "broker").Logger(),
		now:   time.Now,
	}
}

// Breaker returns the breaker state name for status reporting.
func (g *Guard) Breaker() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.String()
}

func (g *Guard) Quote(ctx context.Context, instrument string) (market.Quote, error) {
	var q market.Quote
	err := g.retry(ctx, "quote", IsTransient, func() error {
		var err error
		q, err = g.inner.Quote(ctx, instrument)
		return err
	})
	return q, err
}

func (g *Guard) Candles(ctx context.Context, req CandlesRequest) ([]market.Candle, error) {
	var cs []market.Candle
	err := g.retry(ctx, "candles", IsTransient, func() error {
		var err error
		cs, err = g.inner.Candles(ctx, req)
		return err
	})
	return cs, err
}

func (g *Guard) Instruments(ctx context.Context, exchange string) ([]market.Instrument, error) {
	var rows []market.Instrument
	err := g.retry(ctx, "instruments", IsTransient, func() error {
		var err error
		rows, err = g.inner.Instruments(ctx, exchange)
		return err
	})
	return rows, err
}

func (g *Guard) Margins(ctx context.Context) (Account, error) {
	var a Account
	err := g.retry(ctx, "margins", IsTransient, func() error {
		var err error
		a, err = g.inner.Margins(ctx)
		return err
	})
	return a, err
}

func (g *Guard) PlaceBracketOrder(ctx context.Context, req BracketOrderRequest) (OrderFill, error) {
	now := g.now()
	metricOrdersAttempted.Inc()

	if !g.allow(now) {
		metricOrdersSuppressed.Inc()
		return OrderFill{}, ErrCircuitOpen
	}

	key := fmt.Sprintf("%s:%s:%d:%s", req.Exchange, req.Symbol, req.Quantity, req.Tag)
	g.mu.Lock()
	dup := key == g.lastKey && now.Sub(g.lastAt) < g.cfg.DupWindow
	g.mu.Unlock()
	if dup {
		metricOrdersSuppressed.Inc()
		return OrderFill{}, fmt.Errorf("duplicate order %s suppressed", req.Symbol)
	}

	var fill OrderFill
	err := g.retry(ctx, "place_order", rateLimited, func() error {
		var err error
		fill, err = g.inner.PlaceBracketOrder(ctx, req)
		return err
	})
	if err != nil {
		g.noteFailure(g.now(), err)
		metricOrdersFailed.Inc()
		if fill.OrderID != "" && !errors.Is(err, ErrRejected) {
			g.mu.Lock()
			g.lastKey, g.lastAt = key, now
			g.mu.Unlock()
		}
		return fill, err
	}

	g.noteSuccess()
	g.mu.Lock()
	g.lastKey, g.lastAt = key, now
	g.mu.Unlock()
	metricOrdersPlaced.Inc()
	return fill, nil
}

// ExitPosition bypasses the breaker: an open position must always be
// closable.
func (g *Guard) ExitPosition(ctx context.Context, req ExitRequest) (OrderFill, error) {
	var fill OrderFill
	err := g.retry(ctx, "exit_position", rateLimited, func() error {
		var err error
		fill, err = g.inner.ExitPosition(ctx, req)
		return err
	})
	if err != nil {
		g.noteFailure(g.now(), err)
		return fill, err
	}
	g.noteSuccess()
	return fill, nil
}

// Order reads are safe to repeat.
func (g *Guard) Order(ctx context.Context, orderID string) (OrderStatus, error) {
	var st OrderStatus
	err := g.retry(ctx, "order", IsTransient, func() error {
		var err error
		st, err = g.inner.Order(ctx, orderID)
		return err
	})
	return st, err
}

// CancelOrder bypasses the breaker like ExitPosition; cancelling twice
// is harmless.
func (g *Guard) CancelOrder(ctx context.Context, orderID string) error {
	return g.retry(ctx, "cancel_order", IsTransient, func() error {
		return g.inner.CancelOrder(ctx, orderID)
	})
}

// rateLimited never retries once the broker has accepted an entry.
func rateLimited(err error) bool {
	if errors.Is(err, ErrUnprotected) || errors.Is(err, ErrOrderPending) || errors.Is(err, ErrLegOpen) {
		return false
	}
	return errors.Is(err, ErrRateLimited)
}

func (g *Guard) retry(ctx context.Context, op string, retryable func(error) bool, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = g.cfg.InitialInterval
	eb.MaxInterval = g.cfg.MaxInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, g.cfg.MaxRetries), ctx)

	err := backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, d time.Duration) {
		metricRetries.WithLabelValues(op).Inc()
		g.log.Warn().Err(err).Str("op", op).Dur("backoff", d).Msg("retrying")
	})
	if err != nil {
		metricCallErrors.WithLabelValues(op).Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (g *Guard) allow(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if now.Sub(g.openedAt) >= g.cfg.BreakerCooldown {
			g.setState(breakerHalfOpen)
			g.halfTrials = 1
			return true
		}
		return false
	case breakerHalfOpen:
		if g.halfTrials < g.cfg.HalfOpenTrials {
			g.halfTrials++
			return true
		}
		return false
	}
	return false
}

func (g *Guard) noteSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failStreak = 0
	if g.state != breakerClosed {
		g.setState(breakerClosed)
	}
}

// noteFailure counts broker-side failures only; a rejected order or a
// cancelled context says nothing about broker health.
func (g *Guard) noteFailure(now time.Time, err error) {
	if errors.Is(err, ErrRejected) || errors.Is(err, ErrNotFilled) || errors.Is(err, context.Canceled) {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case breakerClosed:
		g.failStreak++
		if g.failStreak >= g.cfg.BreakerThreshold {
			g.openedAt = now
			g.setState(breakerOpen)
			g.log.Error().Err(err).Int("failures", g.failStreak).Msg("circuit breaker opened")
		}
	case breakerHalfOpen:
		g.openedAt = now
		g.setState(breakerOpen)
	case breakerOpen:
		g.openedAt = now
	}
}

// setState must be called with g.mu held.
func (g *Guard) setState(s breakerState) {
	g.state = s
	metricBreakerState.Set(float64(s))
}

var _ Broker = (*Guard)(nil)
