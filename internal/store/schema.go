package store

import "fmt"

// Times are epoch milliseconds throughout. The ohlc table is
// interval-qualified so every timeframe lands in one place.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS ohlc (
		symbol     TEXT    NOT NULL,
		interval   TEXT    NOT NULL,
		open_time  INTEGER NOT NULL,
		open       REAL    NOT NULL,
		high       REAL    NOT NULL,
		low        REAL    NOT NULL,
		close      REAL    NOT NULL,
		volume     REAL    NOT NULL,
		close_time INTEGER NOT NULL,
		PRIMARY KEY (symbol, interval, open_time)
	)`,
	`CREATE TABLE IF NOT EXISTS funding (
		symbol       TEXT    NOT NULL,
		funding_time INTEGER NOT NULL,
		funding_rate REAL    NOT NULL,
		PRIMARY KEY (symbol, funding_time)
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		run_id       TEXT PRIMARY KEY,
		created_at   INTEGER NOT NULL,
		strategy     TEXT,
		params_json  TEXT,
		summary_json TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS trades_fills (
		run_id       TEXT    NOT NULL,
		seq          INTEGER NOT NULL,
		ts           INTEGER NOT NULL,
		symbol       TEXT    NOT NULL,
		side         TEXT    NOT NULL,
		price        REAL    NOT NULL,
		qty          REAL    NOT NULL,
		realized_pnl REAL    NOT NULL DEFAULT 0,
		fee          REAL    NOT NULL DEFAULT 0,
		is_maker     INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS equity_curve (
		run_id TEXT    NOT NULL,
		ts     INTEGER NOT NULL,
		equity REAL    NOT NULL,
		PRIMARY KEY (run_id, ts)
	)`,
}

func (s *Store) ensureSchema() error {
	for _, ddl := range schemaDDL {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}
