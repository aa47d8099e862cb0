package journal

import (
	"fmt"
	"strings"
	"time"
)

// FormatPositionOrg renders a Position as an Org-mode block suitable for pasting into a journal.
// Structured facts live in a PROPERTIES drawer for easy search.
func FormatPositionOrg(p Position) string {
	heading := fmt.Sprintf("** %s: %s (%s)", p.OptionType, p.Symbol, shortID(p.ID))

	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n")
	b.WriteString(":PROPERTIES:\n")
	b.WriteString(fmt.Sprintf(":ID: %s\n", p.ID))
	b.WriteString(fmt.Sprintf(":MODE: %s\n", p.Mode))
	b.WriteString(fmt.Sprintf(":SYMBOL: %s\n", p.Symbol))
	b.WriteString(fmt.Sprintf(":STRIKE: %.0f\n", p.Strike))
	b.WriteString(fmt.Sprintf(":QUANTITY: %d\n", p.Quantity))
	b.WriteString(fmt.Sprintf(":ENTRY_PRICE: %.2f\n", p.EntryPrice))
	b.WriteString(fmt.Sprintf(":ENTRY_TIME: %s\n", p.EntryTime.UTC().Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf(":ENTRY_INDEX: %.2f\n", p.EntryIndex))
	b.WriteString(fmt.Sprintf(":STOP_LOSS: %.2f\n", p.StopLoss))
	b.WriteString(fmt.Sprintf(":TARGET: %.2f\n", p.Target))
	b.WriteString(fmt.Sprintf(":STATUS: %s\n", p.Status))
	if !p.Open() {
		b.WriteString(fmt.Sprintf(":EXIT_PRICE: %.2f\n", p.ExitPrice))
		b.WriteString(fmt.Sprintf(":EXIT_TIME: %s\n", p.ExitTime.UTC().Format(time.RFC3339)))
		b.WriteString(fmt.Sprintf(":EXIT_REASON: %s\n", p.ExitReason))
		b.WriteString(fmt.Sprintf(":PNL: %.2f\n", p.PnL))
	}
	b.WriteString(":END:\n")

	return b.String()
}

// FormatPositionsOrg renders multiple positions separated by blank lines.
func FormatPositionsOrg(ps []Position) string {
	var b strings.Builder
	for i, p := range ps {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(FormatPositionOrg(p))
	}
	return b.String()
}

// FormatSummaryOrg renders a day heading with its totals.
func FormatSummaryOrg(day string, s Summary) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("* %s\n", day))
	b.WriteString("| Trades | Wins | Losses | Win rate | P/L | Best | Worst |\n")
	b.WriteString("|--------+------+--------+----------+-----+------+-------|\n")
	b.WriteString(fmt.Sprintf("| %d | %d | %d | %.0f%% | %.2f | %.2f | %.2f |\n",
		s.Trades, s.Wins, s.Losses, s.WinRate*100, s.PnL, s.Best, s.Worst))
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[len(full)-8:]
}
