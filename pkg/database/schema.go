package database

import (
	"context"
	"fmt"
)

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGSERIAL PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		email         TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		tier          TEXT NOT NULL DEFAULT 'free',
		invite_code   TEXT NOT NULL DEFAULT '',
		is_active     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_login    TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS invite_codes (
		code       TEXT PRIMARY KEY,
		created_by TEXT NOT NULL,
		max_uses   INT NOT NULL DEFAULT 1,
		used_count INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS vip_applications (
		id          BIGSERIAL PRIMARY KEY,
		username    TEXT NOT NULL,
		email       TEXT NOT NULL DEFAULT '',
		plan        TEXT NOT NULL,
		contact     TEXT NOT NULL DEFAULT '',
		note        TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'pending',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		reviewed_at TIMESTAMPTZ,
		reviewed_by TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_vip_status ON vip_applications(status, created_at)`,

	`CREATE TABLE IF NOT EXISTS scan_runs (
		scan_id      TEXT PRIMARY KEY,
		username     TEXT NOT NULL DEFAULT '',
		scan_date    DATE,
		scan_session TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL,
		total        INT NOT NULL DEFAULT 0,
		processed    INT NOT NULL DEFAULT 0,
		found        INT NOT NULL DEFAULT 0,
		errors       INT NOT NULL DEFAULT 0,
		params       JSONB,
		started_at   TIMESTAMPTZ NOT NULL,
		finished_at  TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS scan_candidates (
		scan_id    TEXT NOT NULL REFERENCES scan_runs(scan_id) ON DELETE CASCADE,
		position   INT NOT NULL,
		code       TEXT NOT NULL,
		name       TEXT NOT NULL DEFAULT '',
		score      DOUBLE PRECISION NOT NULL,
		buy_date   DATE,
		buy_price  DOUBLE PRECISION,
		market_cap DOUBLE PRECISION,
		payload    JSONB NOT NULL,
		PRIMARY KEY (scan_id, position)
	)`,

	`CREATE TABLE IF NOT EXISTS daily_bars (
		code       TEXT NOT NULL,
		trade_date DATE NOT NULL,
		open       DOUBLE PRECISION NOT NULL,
		high       DOUBLE PRECISION NOT NULL,
		low        DOUBLE PRECISION NOT NULL,
		close      DOUBLE PRECISION NOT NULL,
		volume     DOUBLE PRECISION NOT NULL,
		amount     DOUBLE PRECISION NOT NULL DEFAULT 0,
		pct_change DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (code, trade_date)
	)`,
}

// Migrate creates the tables used by the API and the scan archive
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			head := stmt
			if len(head) > 40 {
				head = head[:40]
			}
			return fmt.Errorf("exec %q: %w", head, err)
		}
	}
	return nil
}
