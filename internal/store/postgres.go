package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

var postgresDialect = dialect{
	name:   DriverPostgres,
	rebind: rebindDollar,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS funds (
			id                   BIGSERIAL PRIMARY KEY,
			user_id              TEXT NOT NULL REFERENCES users(id),
			code                 TEXT NOT NULL,
			initial_cost         NUMERIC NOT NULL,
			current_amount       NUMERIC NOT NULL,
			last_settlement_date TEXT,
			created_at           TEXT NOT NULL,
			UNIQUE(user_id, code)
		)`,
		`CREATE TABLE IF NOT EXISTS history (
			id        BIGSERIAL PRIMARY KEY,
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

// OpenPostgres connects with lib/pq and runs migrations.
func OpenPostgres(ctx context.Context, dsn string, log zerolog.Logger) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := newSQLStore(db, postgresDialect, log)
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Msg("postgres store opened")
	return s, nil
}
