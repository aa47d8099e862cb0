package journal

const Schema = `
CREATE TABLE IF NOT EXISTS positions (
	id TEXT PRIMARY KEY,
	mode TEXT NOT NULL,
	symbol TEXT NOT NULL,
	exchange TEXT NOT NULL,
	option_type TEXT NOT NULL,
	strike REAL NOT NULL,
	expiry DATETIME,
	quantity INTEGER NOT NULL,
	entry_price REAL NOT NULL,
	entry_time DATETIME NOT NULL,
	entry_order_id TEXT NOT NULL,
	stop_order_id TEXT NOT NULL DEFAULT '',
	target_order_id TEXT NOT NULL DEFAULT '',
	entry_index REAL NOT NULL,
	stop_loss REAL NOT NULL,
	target REAL NOT NULL,
	confidence REAL NOT NULL,
	status TEXT NOT NULL,
	exit_price REAL,
	exit_time DATETIME,
	exit_reason TEXT,
	pnl REAL
);

CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
CREATE INDEX IF NOT EXISTS idx_positions_exit_time ON positions(exit_time);

CREATE TABLE IF NOT EXISTS trading_sessions (
	date TEXT PRIMARY KEY,
	mode TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	ended_at DATETIME,
	signals INTEGER NOT NULL,
	positions_opened INTEGER NOT NULL,
	positions_closed INTEGER NOT NULL,
	pnl REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	day TEXT NOT NULL,
	trades_today INTEGER NOT NULL,
	consecutive_losses INTEGER NOT NULL,
	daily_pnl REAL NOT NULL,
	halted INTEGER NOT NULL,
	halt_reason TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	time DATETIME NOT NULL,
	kind TEXT NOT NULL,
	message TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_time ON events(time);

CREATE TABLE IF NOT EXISTS backtest_runs (
	run_id TEXT PRIMARY KEY,
	created DATETIME NOT NULL,
	dataset TEXT NOT NULL,
	start_time DATETIME NOT NULL,
	end_time DATETIME NOT NULL,
	candles INTEGER NOT NULL,
	signals INTEGER NOT NULL,
	denied INTEGER NOT NULL,
	trades INTEGER NOT NULL,
	wins INTEGER NOT NULL,
	losses INTEGER NOT NULL,
	net_points REAL NOT NULL,
	net_pl REAL NOT NULL,
	max_dd REAL NOT NULL
);
`
