// Package paper fills orders against live quotes without touching the
// exchange. Market data comes from a real broker client.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/optbot/broker"
	"github.com/rustyeddy/optbot/internal/id"
	"github.com/rustyeddy/optbot/market"
)

// DataSource is the read side of a broker.
type DataSource interface {
	Quote(ctx context.Context, instrument string) (market.Quote, error)
	Candles(ctx context.Context, req broker.CandlesRequest) ([]market.Candle, error)
	Instruments(ctx context.Context, exchange string) ([]market.Instrument, error)
}

// Exit reasons for brackets closed by the engine itself.
const (
	ReasonStopLoss = "StopLoss"
	ReasonTarget   = "Target"
	ReasonManual   = "Exit"
)

// ClosedListener is told when a protective leg closes a bracket. It is
// called after the engine lock is released.
type ClosedListener interface {
	OnBracketClosed(b Bracket)
}

type Engine struct {
	mu       sync.Mutex
	data     DataSource
	live     *market.QuoteStore
	maxAge   time.Duration
	cash     float64
	used     float64
	brackets map[string]*Bracket
	listener ClosedListener
	now      func() time.Time
}

// NewEngine starts a paper account with capital in cash. live may be
// nil; when set, fresh streamed quotes are preferred over REST calls.
func NewEngine(data DataSource, capital float64, live *market.QuoteStore) *Engine {
	return &Engine{
		data:     data,
		live:     live,
		maxAge:   10 * time.Second,
		cash:     capital,
		brackets: make(map[string]*Bracket),
		now:      time.Now,
	}
}

// SetMaxAge bounds how old a streamed quote may be before the engine
// falls back to the data source.
func (e *Engine) SetMaxAge(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d > 0 {
		e.maxAge = d
	}
}

// SetClosedListener sets an optional listener for engine-side exits.
func (e *Engine) SetClosedListener(l ClosedListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

func (e *Engine) Candles(ctx context.Context, req broker.CandlesRequest) ([]market.Candle, error) {
	return e.data.Candles(ctx, req)
}

func (e *Engine) Instruments(ctx context.Context, exchange string) ([]market.Instrument, error) {
	return e.data.Instruments(ctx, exchange)
}

// Quote returns the latest price and runs it through the open brackets.
func (e *Engine) Quote(ctx context.Context, instrument string) (market.Quote, error) {
	if e.live != nil {
		if q, ok := e.live.Fresh(instrument, e.now(), e.maxAge); ok {
			e.UpdateQuote(q)
			return q, nil
		}
	}
	q, err := e.data.Quote(ctx, instrument)
	if err != nil {
		return market.Quote{}, err
	}
	if q.Instrument == "" {
		q.Instrument = instrument
	}
	e.UpdateQuote(q)
	return q, nil
}

func (e *Engine) Margins(ctx context.Context) (broker.Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return broker.Account{
		UserID:    "PAPER",
		Net:       e.cash + e.used,
		Available: e.cash,
		Used:      e.used,
	}, nil
}

func (e *Engine) PlaceBracketOrder(ctx context.Context, req broker.BracketOrderRequest) (broker.OrderFill, error) {
	if req.Quantity <= 0 {
		return broker.OrderFill{}, fmt.Errorf("quantity must be positive: %w", broker.ErrRejected)
	}
	key := req.Exchange + ":" + req.Symbol
	q, err := e.Quote(ctx, key)
	if err != nil {
		return broker.OrderFill{}, fmt.Errorf("paper fill %s: %w", key, err)
	}

	// Buys lift the offer.
	price := q.Ask
	if price <= 0 {
		price = q.Last
	}
	if price <= 0 {
		return broker.OrderFill{}, fmt.Errorf("paper fill %s: no price: %w", key, broker.ErrNoData)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cost := price * float64(req.Quantity)
	if cost > e.cash {
		return broker.OrderFill{}, fmt.Errorf("paper: need %.2f, have %.2f: %w", cost, e.cash, broker.ErrRejected)
	}

	oid := id.New()
	b := &Bracket{
		OrderID:    oid,
		Instrument: key,
		Exchange:   req.Exchange,
		Symbol:     req.Symbol,
		Quantity:   req.Quantity,
		EntryPrice: price,
		EntryTime:  e.fillTime(q),
		StopLoss:   req.StopLoss,
		Target:     req.Target,
		Open:       true,
	}
	if req.StopLoss > 0 {
		b.StopOrderID = oid + "-SL"
	}
	if req.Target > 0 {
		b.TargetOrderID = oid + "-TG"
	}
	e.brackets[oid] = b
	e.cash -= cost
	e.used += cost

	return broker.OrderFill{
		OrderID:       oid,
		StopOrderID:   b.StopOrderID,
		TargetOrderID: b.TargetOrderID,
		Exchange:      req.Exchange,
		Symbol:        req.Symbol,
		Quantity:      req.Quantity,
		Price:         price,
		Time:          b.EntryTime,
	}, nil
}

// ExitPosition sells at the bid. A bracket already closed by its stop
// or target returns that fill.
func (e *Engine) ExitPosition(ctx context.Context, req broker.ExitRequest) (broker.OrderFill, error) {
	key := req.Exchange + ":" + req.Symbol

	e.mu.Lock()
	b := e.findLocked(req, key)
	if b == nil {
		e.mu.Unlock()
		return e.exitUnknown(ctx, req, key)
	}
	if !b.Open {
		fill := b.exitFill()
		e.mu.Unlock()
		return fill, nil
	}
	e.mu.Unlock()

	q, err := e.Quote(ctx, key)
	if err != nil {
		return broker.OrderFill{}, fmt.Errorf("paper exit %s: %w", key, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !b.Open {
		// the quote we just fetched triggered a leg
		return b.exitFill(), nil
	}
	price := q.Bid
	if price <= 0 {
		price = q.Last
	}
	e.closeLocked(b, price, e.fillTime(q), ReasonManual)
	return b.exitFill(), nil
}

// exitUnknown sells a position the engine never saw, such as one left
// open by an earlier process, at the current bid.
func (e *Engine) exitUnknown(ctx context.Context, req broker.ExitRequest, key string) (broker.OrderFill, error) {
	q, err := e.Quote(ctx, key)
	if err != nil {
		return broker.OrderFill{}, fmt.Errorf("paper exit %s: %w", key, err)
	}
	price := q.Bid
	if price <= 0 {
		price = q.Last
	}
	if price <= 0 {
		return broker.OrderFill{}, fmt.Errorf("paper exit %s: no price: %w", key, broker.ErrNoData)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cash += price * float64(req.Quantity)
	return broker.OrderFill{
		OrderID:  id.New() + "-X",
		Exchange: req.Exchange,
		Symbol:   req.Symbol,
		Quantity: req.Quantity,
		Price:    price,
		Time:     e.fillTime(q),
	}, nil
}

// Restore re-opens a bracket carried over from an earlier run so its
// legs trigger again. The entry cost is taken from cash.
func (e *Engine) Restore(b Bracket) error {
	if b.OrderID == "" || b.Quantity <= 0 {
		return fmt.Errorf("paper: restore needs an order id and quantity: %w", broker.ErrRejected)
	}
	if b.Instrument == "" {
		b.Instrument = b.Exchange + ":" + b.Symbol
	}
	b.Open = true

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.brackets[b.OrderID]; ok {
		return nil
	}
	cost := b.EntryPrice * float64(b.Quantity)
	e.cash -= cost
	e.used += cost
	e.brackets[b.OrderID] = &b
	return nil
}

// Order reports an entry as complete and a leg as complete once it
// closed its bracket.
func (e *Engine) Order(ctx context.Context, orderID string) (broker.OrderStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, b := range e.brackets {
		switch orderID {
		case b.OrderID:
			return broker.OrderStatus{OrderID: orderID, Status: broker.OrderComplete, Price: b.EntryPrice, Quantity: b.Quantity, Time: b.EntryTime}, nil
		case b.StopOrderID, b.TargetOrderID:
			st := broker.OrderStatus{OrderID: orderID, Status: broker.OrderOpen, Quantity: b.Quantity}
			if orderID == b.StopOrderID {
				st.Status = broker.OrderTrigger
			}
			if !b.Open {
				st.Status = broker.OrderCancelled
				if f := b.exitFill(); f.OrderID == orderID {
					st.Status, st.Price, st.Time = broker.OrderComplete, f.Price, f.Time
				}
			}
			return st, nil
		}
	}
	return broker.OrderStatus{}, fmt.Errorf("paper: no order %s: %w", orderID, broker.ErrNoData)
}

// CancelOrder drops a protective leg from its bracket.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, b := range e.brackets {
		switch orderID {
		case b.StopOrderID:
			b.StopLoss = 0
			return nil
		case b.TargetOrderID:
			b.Target = 0
			return nil
		}
	}
	return fmt.Errorf("paper: no order %s: %w", orderID, broker.ErrRejected)
}

// UpdateQuote marks open brackets on q.Instrument and closes any whose
// stop or target is touched.
func (e *Engine) UpdateQuote(q market.Quote) {
	e.mu.Lock()

	var closed []Bracket
	for _, b := range e.brackets {
		if !b.Open || b.Instrument != q.Instrument {
			continue
		}
		mark := q.Bid
		if mark <= 0 {
			mark = q.Last
		}
		if mark <= 0 {
			continue
		}
		b.Mark = mark

		switch {
		case b.hitStop(mark):
			e.closeLocked(b, b.StopLoss, e.fillTime(q), ReasonStopLoss)
		case b.hitTarget(mark):
			e.closeLocked(b, b.Target, e.fillTime(q), ReasonTarget)
		default:
			continue
		}
		closed = append(closed, *b)
	}
	listener := e.listener
	e.mu.Unlock()

	if listener != nil {
		for _, b := range closed {
			listener.OnBracketClosed(b)
		}
	}
}

// Open returns copies of the open brackets.
func (e *Engine) Open() []Bracket {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Bracket
	for _, b := range e.brackets {
		if b.Open {
			out = append(out, *b)
		}
	}
	return out
}

func (e *Engine) findLocked(req broker.ExitRequest, key string) *Bracket {
	if b, ok := e.brackets[req.EntryOrderID]; ok {
		return b
	}
	for _, b := range e.brackets {
		if req.StopOrderID != "" && b.StopOrderID == req.StopOrderID {
			return b
		}
		if req.TargetOrderID != "" && b.TargetOrderID == req.TargetOrderID {
			return b
		}
	}
	// fall back to the open bracket on the same symbol
	for _, b := range e.brackets {
		if b.Open && b.Instrument == key {
			return b
		}
	}
	return nil
}

func (e *Engine) closeLocked(b *Bracket, price float64, t time.Time, reason string) {
	b.ExitPrice = price
	b.ExitTime = t
	b.Reason = reason
	b.PnL = (price - b.EntryPrice) * float64(b.Quantity)
	b.Open = false

	cost := b.EntryPrice * float64(b.Quantity)
	e.used -= cost
	e.cash += price * float64(b.Quantity)
}

func (e *Engine) fillTime(q market.Quote) time.Time {
	if q.Time.IsZero() {
		return e.now()
	}
	return q.Time
}

var _ broker.Broker = (*Engine)(nil)
