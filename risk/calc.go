package risk

import (
	"errors"
	"fmt"
	"math"
)

var ErrInsufficientFunds = errors.New("insufficient funds for one lot")

type Inputs struct {
	Premium   float64 // option price per contract
	Available float64 // cash the broker reports as usable
}

type Result struct {
	Lots      int
	Quantity  int
	Cost      float64
	LimitedBy string // "position_size", "funds" or "exposure"
}

// Calculate sizes a trade in whole lots: the configured position size,
// capped by what MarginUse of available funds buys and by MaxExposure.
func Calculate(l Limits, in Inputs) (Result, error) {
	if in.Premium <= 0 {
		return Result{}, fmt.Errorf("premium must be positive, got %.2f", in.Premium)
	}
	lotCost := in.Premium * float64(l.LotSize)

	lots := l.PositionSize / l.LotSize
	limitedBy := "position_size"

	if afford := int(math.Floor(in.Available * l.MarginUse / lotCost)); afford < lots {
		lots, limitedBy = afford, "funds"
	}
	if capLots := int(math.Floor(l.MaxExposure / lotCost)); capLots < lots {
		lots, limitedBy = capLots, "exposure"
	}

	if lots < 1 {
		return Result{LimitedBy: limitedBy}, fmt.Errorf("%w: lot costs %.2f, available %.2f", ErrInsufficientFunds, lotCost, in.Available)
	}

	qty := lots * l.LotSize
	return Result{
		Lots:      lots,
		Quantity:  qty,
		Cost:      float64(qty) * in.Premium,
		LimitedBy: limitedBy,
	}, nil
}
