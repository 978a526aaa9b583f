package store

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	currency TEXT NOT NULL,
	initial_balance REAL NOT NULL,
	balance REAL NOT NULL,
	today_start_equity REAL NOT NULL,
	baseline_day TEXT NOT NULL DEFAULT '',
	max_equity_to_date REAL NOT NULL,
	daily_drawdown_percent REAL NOT NULL,
	overall_drawdown_percent REAL NOT NULL,
	profit_target_percent REAL NOT NULL,
	min_trading_days INTEGER NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id),
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	volume REAL NOT NULL,
	open_price REAL NOT NULL,
	stop_loss REAL,
	take_profit REAL,
	opened_at DATETIME NOT NULL,
	close_price REAL,
	closed_at DATETIME,
	close_reason TEXT,
	realized_pnl REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_positions_open ON positions(account_id) WHERE closed_at IS NULL;

CREATE TABLE IF NOT EXISTS violations (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id),
	type TEXT NOT NULL,
	trading_day TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	metrics TEXT NOT NULL,
	unclosed_positions TEXT NOT NULL DEFAULT '[]',
	UNIQUE (account_id, type, trading_day)
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	currency TEXT NOT NULL,
	initial_balance DOUBLE PRECISION NOT NULL,
	balance DOUBLE PRECISION NOT NULL,
	today_start_equity DOUBLE PRECISION NOT NULL,
	baseline_day TEXT NOT NULL DEFAULT '',
	max_equity_to_date DOUBLE PRECISION NOT NULL,
	daily_drawdown_percent DOUBLE PRECISION NOT NULL,
	overall_drawdown_percent DOUBLE PRECISION NOT NULL,
	profit_target_percent DOUBLE PRECISION NOT NULL,
	min_trading_days INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id),
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	volume DOUBLE PRECISION NOT NULL,
	open_price DOUBLE PRECISION NOT NULL,
	stop_loss DOUBLE PRECISION,
	take_profit DOUBLE PRECISION,
	opened_at TIMESTAMPTZ NOT NULL,
	close_price DOUBLE PRECISION,
	closed_at TIMESTAMPTZ,
	close_reason TEXT,
	realized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_positions_open ON positions(account_id) WHERE closed_at IS NULL;

CREATE TABLE IF NOT EXISTS violations (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id),
	type TEXT NOT NULL,
	trading_day TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	metrics JSONB NOT NULL,
	unclosed_positions JSONB NOT NULL DEFAULT '[]',
	UNIQUE (account_id, type, trading_day)
);
`

const accountColumns = `id, status, currency, initial_balance, balance,
	today_start_equity, baseline_day, max_equity_to_date,
	daily_drawdown_percent, overall_drawdown_percent, profit_target_percent, min_trading_days,
	created_at, updated_at`

const positionColumns = `id, account_id, symbol, side, volume, open_price, stop_loss, take_profit,
	opened_at, close_price, closed_at, close_reason, realized_pnl`

const violationColumns = `id, account_id, type, trading_day, created_at, metrics, unclosed_positions`
