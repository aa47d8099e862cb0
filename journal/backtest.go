package journal

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"
)

// BacktestRun mirrors the backtest_runs table.
type BacktestRun struct {
	RunID   string
	Created time.Time
	Dataset string

	Start time.Time
	End   time.Time

	Candles int
	Signals int
	Denied  int // signals the risk gate refused

	Trades int
	Wins   int
	Losses int

	NetPoints float64 // underlying points captured
	NetPL     float64 // points * quantity
	MaxDD     float64
	WinRate   float64

	Notes []string
}

func (j *SQLite) RecordBacktest(ctx context.Context, r BacktestRun) error {
	if r.Created.IsZero() {
		r.Created = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO backtest_runs
		(run_id, created, dataset, start_time, end_time, candles, signals, denied,
		 trades, wins, losses, net_points, net_pl, max_dd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Created.UTC(), r.Dataset, r.Start.UTC(), r.End.UTC(), r.Candles, r.Signals, r.Denied,
		r.Trades, r.Wins, r.Losses, r.NetPoints, r.NetPL, r.MaxDD,
	)
	if err != nil {
		return fmt.Errorf("insert backtest run %s: %w", r.RunID, err)
	}
	return nil
}

func (j *SQLite) GetBacktestRun(ctx context.Context, runID string) (BacktestRun, error) {
	var r BacktestRun
	err := j.db.QueryRowContext(ctx, `
		SELECT run_id, created, dataset, start_time, end_time, candles, signals, denied,
		       trades, wins, losses, net_points, net_pl, max_dd
		FROM backtest_runs WHERE run_id = ?`, runID).Scan(
		&r.RunID, &r.Created, &r.Dataset, &r.Start, &r.End, &r.Candles, &r.Signals, &r.Denied,
		&r.Trades, &r.Wins, &r.Losses, &r.NetPoints, &r.NetPL, &r.MaxDD,
	)
	if err != nil {
		return BacktestRun{}, fmt.Errorf("backtest run %q: %w", runID, err)
	}
	if r.Trades > 0 {
		r.WinRate = float64(r.Wins) / float64(r.Trades)
	}
	return r, nil
}

var backtestOrgFuncs = template.FuncMap{
	"mul100": func(x float64) float64 { return x * 100.0 },
	"orTime": func(t time.Time) time.Time {
		if t.IsZero() {
			return time.Now()
		}
		return t
	},
}

var backtestOrg = template.Must(template.New("backtest").Funcs(backtestOrgFuncs).Parse(BacktestOrgTemplate))

// BacktestOrg renders a run as an Org-mode report.
func (r BacktestRun) BacktestOrg() (string, error) {
	buf := new(bytes.Buffer)
	if err := backtestOrg.Execute(buf, r); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const BacktestOrgTemplate = `* BACKTEST: EMA pullback {{if .Dataset}}{{.Dataset}}{{else}}(dataset?){{end}}
:PROPERTIES:
:RUN_ID:      {{.RunID}}
:START_DATE:  {{.Start.Format "2006-01-02"}}
:END_DATE:    {{.End.Format "2006-01-02"}}
:CANDLES:     {{.Candles}}
:SIGNALS:     {{.Signals}}
:DENIED:      {{.Denied}}
:TRADES:      {{.Trades}}
:WINS:        {{.Wins}}
:LOSSES:      {{.Losses}}
:WIN_RATE:    {{printf "%.2f" (mul100 .WinRate)}}
:NET_POINTS:  {{printf "%.2f" .NetPoints}}
:NET_PL:      {{printf "%.2f" .NetPL}}
:MAX_DD:      {{printf "%.2f" .MaxDD}}
:CREATED:     [{{(orTime .Created).Format "2006-01-02 Mon 15:04"}}]
:END:

** Trade Distribution
| Outcome | Count |
|---------+-------|
| Wins    | {{.Wins}} |
| Losses  | {{.Losses}} |
| Total   | {{.Trades}} |
{{- if .Notes }}

** Observations
{{- range .Notes }}
- {{.}}
{{- end }}
{{- end }}
`
