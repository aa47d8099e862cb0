package journal

import (
	"context"
	"time"
)

// Position status values.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// Position is one option trade from fill to exit.
type Position struct {
	ID            string
	Mode          string // paper or live
	Symbol        string
	Exchange      string
	OptionType    string // CE or PE
	Strike        float64
	Expiry        time.Time
	Quantity      int
	EntryPrice    float64
	EntryTime     time.Time
	EntryOrderID  string
	StopOrderID   string // protective legs, empty when not placed
	TargetOrderID string
	EntryIndex    float64 // underlying at entry
	StopLoss      float64 // underlying level (slow EMA at entry)
	Target        float64 // underlying level
	Confidence    float64

	Status     string
	ExitPrice  float64
	ExitTime   time.Time
	ExitReason string
	PnL        float64
}

func (p Position) Open() bool { return p.Status == StatusOpen }

// Held is the time between entry and exit, or entry and now for open
// positions.
func (p Position) Held(now time.Time) time.Duration {
	if p.Open() || p.ExitTime.IsZero() {
		return now.Sub(p.EntryTime)
	}
	return p.ExitTime.Sub(p.EntryTime)
}

// Session is one trading day's activity totals.
type Session struct {
	Date            string
	Mode            string
	StartedAt       time.Time
	EndedAt         time.Time
	Signals         int
	PositionsOpened int
	PositionsClosed int
	PnL             float64
}

// Event kinds.
const (
	EventStart     = "START"
	EventStop      = "STOP"
	EventSignal    = "SIGNAL"
	EventRiskDeny  = "RISK_DENY"
	EventHalt      = "HALT"
	EventDayReset  = "DAY_RESET"
	EventError     = "ERROR"
	EventOrder     = "ORDER"
	EventExit      = "EXIT"
	EventTokenLoad = "TOKEN"
)

// Event is an operational log line kept alongside trades.
type Event struct {
	Time    time.Time
	Kind    string
	Message string
}

// Journal is what the trading loop writes to.
type Journal interface {
	OpenPosition(ctx context.Context, p Position) error
	ClosePosition(ctx context.Context, id string, exit Exit) error
	RecordEvent(ctx context.Context, e Event) error
	Close() error
}

// Exit carries the closing side of a position.
type Exit struct {
	Price  float64
	Time   time.Time
	Reason string
	PnL    float64
}
