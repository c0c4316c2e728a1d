package repository

// PostgresSchema is applied by `migrate` and by tests. seq preserves
// insertion order; id is the ULID minted when the trade was completed and
// makes replayed appends no-ops.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	owner_id   BIGINT PRIMARY KEY,
	username   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS trade_ledger (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	owner_id    BIGINT NOT NULL,
	occurred_on DATE NOT NULL,
	exchange    TEXT NOT NULL,
	buy_rate    NUMERIC NOT NULL,
	sell_rate   NUMERIC NOT NULL,
	volume      NUMERIC NOT NULL,
	principal   NUMERIC NOT NULL,
	currency    TEXT NOT NULL,
	expenses    NUMERIC NOT NULL DEFAULT 0,
	spread_pct  NUMERIC NOT NULL,
	profit      NUMERIC NOT NULL,
	formula     TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_trade_ledger_owner ON trade_ledger(owner_id, seq);
CREATE INDEX IF NOT EXISTS idx_trade_ledger_owner_day ON trade_ledger(owner_id, occurred_on);
`

// SQLiteSchema mirrors PostgresSchema. Decimals are TEXT so SQLite's type
// affinity never turns them into floats.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS users (
	owner_id   INTEGER PRIMARY KEY,
	username   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_ledger (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	owner_id    INTEGER NOT NULL,
	occurred_on TEXT NOT NULL,
	exchange    TEXT NOT NULL,
	buy_rate    TEXT NOT NULL,
	sell_rate   TEXT NOT NULL,
	volume      TEXT NOT NULL,
	principal   TEXT NOT NULL,
	currency    TEXT NOT NULL,
	expenses    TEXT NOT NULL,
	spread_pct  TEXT NOT NULL,
	profit      TEXT NOT NULL,
	formula     TEXT NOT NULL,
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trade_ledger_owner ON trade_ledger(owner_id, seq);
`

const tradeCols = `id, owner_id, occurred_on, exchange, buy_rate, sell_rate,
	volume, principal, currency, expenses, spread_pct, profit, formula, created_at`
