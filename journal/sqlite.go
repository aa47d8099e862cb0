package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/optbot/risk"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// One writer; the status API reads through the same handle.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) OpenPosition(ctx context.Context, p Position) error {
	if p.Status == "" {
		p.Status = StatusOpen
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO positions
		(id, mode, symbol, exchange, option_type, strike, expiry, quantity,
		 entry_price, entry_time, entry_order_id, stop_order_id, target_order_id,
		 entry_index, stop_loss, target, confidence, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Mode, p.Symbol, p.Exchange, p.OptionType, p.Strike, nullTime(p.Expiry), p.Quantity,
		p.EntryPrice, p.EntryTime.UTC(), p.EntryOrderID, p.StopOrderID, p.TargetOrderID,
		p.EntryIndex, p.StopLoss, p.Target, p.Confidence, p.Status,
	)
	if err != nil {
		return fmt.Errorf("insert position %s: %w", p.ID, err)
	}
	return nil
}

func (j *SQLite) ClosePosition(ctx context.Context, id string, x Exit) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE positions
		SET status = ?, exit_price = ?, exit_time = ?, exit_reason = ?, pnl = ?
		WHERE id = ? AND status = ?`,
		StatusClosed, x.Price, x.Time.UTC(), x.Reason, x.PnL, id, StatusOpen,
	)
	if err != nil {
		return fmt.Errorf("close position %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("position %q not found or already closed", id)
	}
	return nil
}

func (j *SQLite) RecordEvent(ctx context.Context, e Event) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (time, kind, message) VALUES (?, ?, ?)`,
		e.Time.UTC(), e.Kind, e.Message,
	)
	return err
}

// UpsertSession writes the day's totals, creating the row on first use.
func (j *SQLite) UpsertSession(ctx context.Context, s Session) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO trading_sessions
		(date, mode, started_at, ended_at, signals, positions_opened, positions_closed, pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			mode = excluded.mode,
			ended_at = excluded.ended_at,
			signals = excluded.signals,
			positions_opened = excluded.positions_opened,
			positions_closed = excluded.positions_closed,
			pnl = excluded.pnl`,
		s.Date, s.Mode, s.StartedAt.UTC(), nullTime(s.EndedAt), s.Signals, s.PositionsOpened, s.PositionsClosed, s.PnL,
	)
	return err
}

// LoadRiskState implements risk.Store.
func (j *SQLite) LoadRiskState(ctx context.Context) (risk.State, bool, error) {
	var s risk.State
	err := j.db.QueryRowContext(ctx, `
		SELECT day, trades_today, consecutive_losses, daily_pnl, halted, halt_reason, updated_at
		FROM risk_state WHERE id = 1`).Scan(
		&s.Day, &s.TradesToday, &s.ConsecutiveLosses, &s.DailyPnL, &s.Halted, &s.HaltReason, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return risk.State{}, false, nil
	}
	if err != nil {
		return risk.State{}, false, err
	}
	return s, true, nil
}

// SaveRiskState implements risk.Store.
func (j *SQLite) SaveRiskState(ctx context.Context, s risk.State) error {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO risk_state
		(id, day, trades_today, consecutive_losses, daily_pnl, halted, halt_reason, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			day = excluded.day,
			trades_today = excluded.trades_today,
			consecutive_losses = excluded.consecutive_losses,
			daily_pnl = excluded.daily_pnl,
			halted = excluded.halted,
			halt_reason = excluded.halt_reason,
			updated_at = excluded.updated_at`,
		s.Day, s.TradesToday, s.ConsecutiveLosses, s.DailyPnL, s.Halted, s.HaltReason, s.UpdatedAt.UTC(),
	)
	return err
}

// Ping checks the database is reachable and writable.
func (j *SQLite) Ping(ctx context.Context) error {
	if err := j.db.PingContext(ctx); err != nil {
		return err
	}
	_, err := j.db.ExecContext(ctx, `UPDATE risk_state SET day = day WHERE id = 1`)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

// Times are stored in UTC so that range queries compare correctly as text.
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

var (
	_ Journal    = (*SQLite)(nil)
	_ risk.Store = (*SQLite)(nil)
)
