package paper

import (
	"time"

	"github.com/rustyeddy/optbot/broker"
)

// Bracket is a long option position with optional stop and target.
type Bracket struct {
	OrderID       string
	StopOrderID   string
	TargetOrderID string
	Instrument    string
	Exchange      string
	Symbol        string
	Quantity      int
	EntryPrice    float64
	EntryTime     time.Time
	StopLoss      float64
	Target        float64
	Mark          float64

	Open      bool
	ExitPrice float64
	ExitTime  time.Time
	Reason    string
	PnL       float64
}

func (b *Bracket) hitStop(price float64) bool {
	return b.StopLoss > 0 && price <= b.StopLoss
}

func (b *Bracket) hitTarget(price float64) bool {
	return b.Target > 0 && price >= b.Target
}

// exitFill reports the closing side. The order id names the leg that
// closed it.
func (b *Bracket) exitFill() broker.OrderFill {
	oid := b.OrderID + "-X"
	switch b.Reason {
	case ReasonStopLoss:
		oid = b.StopOrderID
	case ReasonTarget:
		oid = b.TargetOrderID
	}
	return broker.OrderFill{
		OrderID:  oid,
		Exchange: b.Exchange,
		Symbol:   b.Symbol,
		Quantity: b.Quantity,
		Price:    b.ExitPrice,
		Time:     b.ExitTime,
	}
}
