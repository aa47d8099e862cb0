package journal

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var positionCSVHeader = []string{
	"id", "mode", "symbol", "option_type", "strike", "quantity",
	"entry_price", "entry_time", "exit_price", "exit_time", "exit_reason", "pnl",
}

// WritePositionsCSV exports positions for spreadsheets.
func WritePositionsCSV(w io.Writer, ps []Position) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(positionCSVHeader); err != nil {
		return err
	}
	for _, p := range ps {
		exitTime := ""
		if !p.ExitTime.IsZero() {
			exitTime = p.ExitTime.Format(time.RFC3339)
		}
		if err := cw.Write([]string{
			p.ID,
			p.Mode,
			p.Symbol,
			p.OptionType,
			f(p.Strike),
			strconv.Itoa(p.Quantity),
			f(p.EntryPrice),
			p.EntryTime.Format(time.RFC3339),
			f(p.ExitPrice),
			exitTime,
			p.ExitReason,
			f(p.PnL),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 2, 64)
}
