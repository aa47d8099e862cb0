package broker

import (
	"context"
	"math"
	"time"

	"github.com/rustyeddy/optbot/market"
)

// Broker is everything the trading loop needs from a broker account.
// Instrument arguments are exchange-qualified ("BFO:SENSEX2561081500CE").
type Broker interface {
	Quote(ctx context.Context, instrument string) (market.Quote, error)
	Candles(ctx context.Context, req CandlesRequest) ([]market.Candle, error)
	Instruments(ctx context.Context, exchange string) ([]market.Instrument, error)
	PlaceBracketOrder(ctx context.Context, req BracketOrderRequest) (OrderFill, error)
	ExitPosition(ctx context.Context, req ExitRequest) (OrderFill, error)
	Order(ctx context.Context, orderID string) (OrderStatus, error)
	CancelOrder(ctx context.Context, orderID string) error
	Margins(ctx context.Context) (Account, error)
}

// Account is the equity segment margin snapshot.
type Account struct {
	UserID    string
	Net       float64
	Available float64
	Used      float64
}

type CandlesRequest struct {
	Token    uint32
	Interval string // minute, 3minute, 5minute, ...
	From     time.Time
	To       time.Time
}

// BracketOrderRequest buys Quantity at market and protects it with a
// stop and a target order. Zero StopLoss or Target skips that leg.
type BracketOrderRequest struct {
	Exchange string
	Symbol   string
	Quantity int
	StopLoss float64
	Target   float64
	Tag      string
}

// ExitRequest sells an open position at market after cancelling its
// protective legs. EntryOrderID lets a broker confirm an entry that was
// never seen to fill before selling; ExitOrderID is a sell placed by an
// earlier attempt that has not been confirmed.
type ExitRequest struct {
	Exchange      string
	Symbol        string
	Quantity      int
	EntryOrderID  string
	ExitOrderID   string
	StopOrderID   string
	TargetOrderID string
	Tag           string
}

// Order statuses shared by the brokers.
const (
	OrderOpen      = "OPEN"
	OrderTrigger   = "TRIGGER PENDING"
	OrderComplete  = "COMPLETE"
	OrderCancelled = "CANCELLED"
	OrderRejected  = "REJECTED"
)

// OrderStatus is the latest known state of one order.
type OrderStatus struct {
	OrderID  string
	Status   string
	Message  string
	Price    float64
	Quantity int
	Time     time.Time
}

func (o OrderStatus) Filled() bool { return o.Status == OrderComplete }

// Done reports a terminal state that will not fill.
func (o OrderStatus) Done() bool {
	return o.Status == OrderCancelled || o.Status == OrderRejected
}

type OrderFill struct {
	OrderID       string
	StopOrderID   string
	TargetOrderID string
	Exchange      string
	Symbol        string
	Quantity      int
	Price         float64
	Time          time.Time
}

// Default protective offsets as fractions of the fill price.
const (
	DefaultStopPct   = 0.02
	DefaultTargetPct = 0.04
	DefaultTickSize  = 0.05
)

// BracketPrices returns stop and target prices for a long option
// entered at price, snapped to the exchange tick.
func BracketPrices(price, stopPct, targetPct, tick float64) (stop, target float64) {
	if tick <= 0 {
		tick = DefaultTickSize
	}
	if stopPct > 0 {
		stop = RoundTick(price*(1-stopPct), tick)
	}
	if targetPct > 0 {
		target = RoundTick(price*(1+targetPct), tick)
	}
	return stop, target
}

// RoundTick rounds x to the nearest multiple of tick.
func RoundTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	n := math.Round(x / tick)
	// Two decimals keeps 0.05 multiples printable as exchange prices.
	return math.Round(n*tick*100) / 100
}
