package journal

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"
)

const positionColumns = `
	id, mode, symbol, exchange, option_type, strike, expiry, quantity,
	entry_price, entry_time, entry_order_id, stop_order_id, target_order_id,
	entry_index, stop_loss, target, confidence, status, exit_price, exit_time, exit_reason, pnl`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(r rowScanner) (Position, error) {
	var (
		p          Position
		expiry     sql.NullTime
		exitPrice  sql.NullFloat64
		exitTime   sql.NullTime
		exitReason sql.NullString
		pnl        sql.NullFloat64
	)
	err := r.Scan(
		&p.ID, &p.Mode, &p.Symbol, &p.Exchange, &p.OptionType, &p.Strike, &expiry, &p.Quantity,
		&p.EntryPrice, &p.EntryTime, &p.EntryOrderID, &p.StopOrderID, &p.TargetOrderID, &p.EntryIndex, &p.StopLoss, &p.Target, &p.Confidence,
		&p.Status, &exitPrice, &exitTime, &exitReason, &pnl,
	)
	if err != nil {
		return Position{}, err
	}
	p.Expiry = expiry.Time
	p.ExitPrice = exitPrice.Float64
	p.ExitTime = exitTime.Time
	p.ExitReason = exitReason.String
	p.PnL = pnl.Float64
	return p, nil
}

// GetPosition returns a single position by ID.
func (j *SQLite) GetPosition(ctx context.Context, id string) (Position, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Position{}, fmt.Errorf("position %q not found", id)
		}
		return Position{}, err
	}
	return p, nil
}

// OpenPositions lists positions not yet exited, oldest first.
func (j *SQLite) OpenPositions(ctx context.Context) ([]Position, error) {
	return j.listPositions(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE status = ?
		ORDER BY entry_time ASC`, StatusOpen)
}

// ListPositionsClosedBetween returns positions whose exit_time is within [start, end).
func (j *SQLite) ListPositionsClosedBetween(ctx context.Context, start, end time.Time) ([]Position, error) {
	return j.listPositions(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE status = ? AND exit_time >= ? AND exit_time < ?
		ORDER BY exit_time ASC`, StatusClosed, start.UTC(), end.UTC())
}

// ListPositionsOpenedBetween returns positions entered within [start, end).
func (j *SQLite) ListPositionsOpenedBetween(ctx context.Context, start, end time.Time) ([]Position, error) {
	return j.listPositions(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE entry_time >= ? AND entry_time < ?
		ORDER BY entry_time ASC`, start.UTC(), end.UTC())
}

func (j *SQLite) listPositions(ctx context.Context, query string, args ...any) ([]Position, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession returns the totals row for a trading day.
func (j *SQLite) GetSession(ctx context.Context, date string) (Session, error) {
	var (
		s     Session
		ended sql.NullTime
	)
	err := j.db.QueryRowContext(ctx, `
		SELECT date, mode, started_at, ended_at, signals, positions_opened, positions_closed, pnl
		FROM trading_sessions WHERE date = ?`, date).Scan(
		&s.Date, &s.Mode, &s.StartedAt, &ended, &s.Signals, &s.PositionsOpened, &s.PositionsClosed, &s.PnL,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return Session{}, fmt.Errorf("session %q not found", date)
		}
		return Session{}, err
	}
	s.EndedAt = ended.Time
	return s, nil
}

// ListEventsBetween returns events within [start, end), oldest first.
func (j *SQLite) ListEventsBetween(ctx context.Context, start, end time.Time) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT time, kind, message FROM events
		WHERE time >= ? AND time < ?
		ORDER BY id ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Time, &e.Kind, &e.Message); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Summary aggregates closed positions.
type Summary struct {
	Trades       int
	Wins         int
	Losses       int
	PnL          float64
	GrossProfit  float64
	GrossLoss    float64
	ProfitFactor float64
	WinRate      float64
	Best         float64
	Worst        float64
}

// Summarize ignores positions that are still open. A flat trade counts
// as neither win nor loss.
func Summarize(ps []Position) Summary {
	var s Summary
	for _, p := range ps {
		if p.Open() {
			continue
		}
		s.Trades++
		s.PnL += p.PnL
		switch {
		case p.PnL > 0:
			s.Wins++
			s.GrossProfit += p.PnL
		case p.PnL < 0:
			s.Losses++
			s.GrossLoss += -p.PnL
		}
		if s.Trades == 1 || p.PnL > s.Best {
			s.Best = p.PnL
		}
		if s.Trades == 1 || p.PnL < s.Worst {
			s.Worst = p.PnL
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
	}
	switch {
	case s.GrossLoss > 0:
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	case s.GrossProfit > 0:
		s.ProfitFactor = math.Inf(1)
	}
	return s
}
