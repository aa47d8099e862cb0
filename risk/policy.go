package risk

import (
	"fmt"
	"time"
)

type Limits struct {
	// Circuit breakers
	MaxDailyTrades       int     // 3
	MaxConsecutiveLosses int     // 2
	MaxDailyLoss         float64 // -25000, a floor on realised P/L

	// Exposure
	MaxExposure float64 // 100000, premium * quantity

	// Sizing
	LotSize      int     // 20
	PositionSize int     // 100 contracts wanted per trade
	MarginUse    float64 // 0.9 of available funds

	AllowManualReset bool
}

func DefaultLimits() Limits {
	return Limits{
		MaxDailyTrades:       3,
		MaxConsecutiveLosses: 2,
		MaxDailyLoss:         -25000,
		MaxExposure:          100000,
		LotSize:              20,
		PositionSize:         100,
		MarginUse:            0.9,
	}
}

func (l Limits) Validate() error {
	if l.MaxDailyTrades <= 0 {
		return fmt.Errorf("max_daily_trades must be positive")
	}
	if l.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("max_consecutive_losses must be positive")
	}
	if l.MaxDailyLoss >= 0 {
		return fmt.Errorf("max_daily_loss must be negative, got %.2f", l.MaxDailyLoss)
	}
	if l.MaxExposure <= 0 {
		return fmt.Errorf("max_exposure must be positive")
	}
	if l.LotSize <= 0 {
		return fmt.Errorf("lot_size must be positive")
	}
	if l.PositionSize < l.LotSize {
		return fmt.Errorf("position_size %d is smaller than one lot (%d)", l.PositionSize, l.LotSize)
	}
	if l.MarginUse <= 0 || l.MarginUse > 1 {
		return fmt.Errorf("margin_use must be in (0,1]")
	}
	return nil
}

// Intent is the trade the gate is asked about. A zero Intent checks the
// counters only.
type Intent struct {
	Now      time.Time
	Symbol   string
	Quantity int
	Premium  float64
}

func (i Intent) Exposure() float64 { return float64(i.Quantity) * i.Premium }

// State is the day's risk counters. It has a single writer, the
// trading loop.
type State struct {
	Day               string // trading day key, YYYY-MM-DD
	TradesToday       int
	ConsecutiveLosses int
	DailyPnL          float64
	Halted            bool
	HaltReason        string
	UpdatedAt         time.Time
}
