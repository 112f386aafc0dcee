package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name:   DriverSQLite,
	rebind: rebindQuestion,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS funds (
			id                   INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id              TEXT NOT NULL REFERENCES users(id),
			code                 TEXT NOT NULL,
			initial_cost         TEXT NOT NULL,
			current_amount       TEXT NOT NULL,
			last_settlement_date TEXT,
			created_at           TEXT NOT NULL,
			UNIQUE(user_id, code)
		)`,
		`CREATE TABLE IF NOT EXISTS history (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id   TEXT NOT NULL,
			fund_code TEXT NOT NULL,
			date      TEXT NOT NULL,
			time      TEXT NOT NULL,
			value     TEXT NOT NULL,
			change    TEXT NOT NULL,
			UNIQUE(user_id, fund_code, date, time)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_user_date ON history(user_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_history_date ON history(date)`,
	},
}

// OpenSQLite opens (or creates) the SQLite database at path and runs migrations.
func OpenSQLite(ctx context.Context, path string, log zerolog.Logger) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers; SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := newSQLStore(db, sqliteDialect, log)
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", path).Msg("sqlite store opened")
	return s, nil
}
