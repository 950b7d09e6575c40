package store

import "github.com/aristath/vigil/internal/database"

// schema holds the decision store's logical tables: the bounded verdict
// cache, the append-only decision log, the trade history and the judge
// audit trail. A single SQLite file in WAL mode carries all four.
const schema = `
CREATE TABLE IF NOT EXISTS decision_cache (
	symbol         TEXT NOT NULL,
	portfolio_hash TEXT NOT NULL,
	timestamp      TEXT NOT NULL,
	verdict        TEXT NOT NULL,
	score          REAL NOT NULL,
	direction      TEXT NOT NULL,
	entry          REAL NOT NULL,
	stop           REAL NOT NULL,
	tp1            REAL NOT NULL,
	tp2            REAL NOT NULL,
	risk_reward    REAL NOT NULL,
	size_hint      TEXT NOT NULL,
	justification  TEXT,
	PRIMARY KEY (symbol, portfolio_hash, timestamp)
);

CREATE TABLE IF NOT EXISTS decision_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol        TEXT NOT NULL,
	verdict       TEXT NOT NULL,
	score         REAL NOT NULL,
	direction     TEXT NOT NULL,
	entry         REAL,
	stop          REAL,
	tp1           REAL,
	tp2           REAL,
	risk_reward   REAL,
	justification TEXT,
	alerts        TEXT,
	timestamp     TEXT NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol      TEXT NOT NULL,
	direction   TEXT NOT NULL,
	entry_price REAL NOT NULL,
	entry_time  TEXT NOT NULL,
	exit_price  REAL,
	exit_time   TEXT,
	quantity    INTEGER NOT NULL,
	pnl         REAL,
	pnl_percent REAL,
	reason      TEXT,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS judge_audit (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol    TEXT NOT NULL,
	origin    TEXT NOT NULL,
	prompt    TEXT,
	result    TEXT,
	score     REAL,
	direction TEXT,
	timestamp TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_lookup ON decision_cache(symbol, portfolio_hash, timestamp);
CREATE INDEX IF NOT EXISTS idx_log_symbol   ON decision_log(symbol);
CREATE INDEX IF NOT EXISTS idx_trades_open  ON trade_history(symbol, exit_time);
`

// Migrate creates the decision store tables if they do not exist.
func Migrate(db *database.DB) error {
	_, err := db.Exec(schema)
	return err
}
