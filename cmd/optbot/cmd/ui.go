package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(18)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type row struct {
	label string
	value string
}

// panel renders a titled box of label/value rows.
func panel(title string, rows []row) string {
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, titleStyle.Render(title))
	for _, r := range rows {
		lines = append(lines, labelStyle.Render(r.label)+r.value)
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func pnlText(v float64) string {
	s := fmt.Sprintf("%+.2f", v)
	switch {
	case v > 0:
		return okStyle.Render(s)
	case v < 0:
		return badStyle.Render(s)
	}
	return s
}

// check prints one preflight line and reports whether it passed.
type check struct {
	name string
	err  error
	warn bool // a failure is reported but does not fail the run
}

func printChecks(w io.Writer, checks []check) (failed int) {
	for _, c := range checks {
		switch {
		case c.err == nil:
			fmt.Fprintf(w, "%s %s\n", okStyle.Render("✓"), c.name)
		case c.warn:
			fmt.Fprintf(w, "%s %s: %v\n", warnStyle.Render("!"), c.name, c.err)
		default:
			fmt.Fprintf(w, "%s %s: %v\n", badStyle.Render("✗"), c.name, c.err)
			failed++
		}
	}
	return failed
}
