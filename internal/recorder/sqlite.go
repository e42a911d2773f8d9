package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/pkg/logger"
)

// SQLiteRecorder persists scan history to a SQLite file.
type SQLiteRecorder struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *logger.Logger
}

// NewSQLiteRecorder opens (or creates) the database at dbPath and migrates it.
func NewSQLiteRecorder(dbPath string, log *logger.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, logger: log.WithComponent("recorder")}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	r.logger.WithField("path", dbPath).Info("SQLite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scan_runs (
			scan_id     TEXT PRIMARY KEY,
			status      TEXT NOT NULL,
			scan_date   TEXT,
			total       INTEGER,
			found       INTEGER,
			errors      INTEGER,
			min_score   REAL,
			max_cap     REAL,
			started_at  INTEGER,
			recorded_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scan_hits (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			scan_id    TEXT NOT NULL REFERENCES scan_runs(scan_id) ON DELETE CASCADE,
			rank       INTEGER NOT NULL,
			code       TEXT NOT NULL,
			name       TEXT,
			score      REAL,
			buy_date   TEXT,
			buy_price  REAL,
			market_cap REAL,
			gain_4w    REAL,
			gain_10w   REAL,
			features   TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_hits_code ON scan_hits(code)`,
		`CREATE INDEX IF NOT EXISTS idx_hits_scan ON scan_hits(scan_id)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// RecordScan replaces any earlier record of the same scan id.
func (r *SQLiteRecorder) RecordScan(ctx context.Context, p *contracts.Progress, cands []contracts.Candidate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	scanDate := ""
	if !p.Params.ScanDate.IsZero() {
		scanDate = p.Params.ScanDate.Format("2006-01-02")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM scan_hits WHERE scan_id = ?`, p.ScanID); err != nil {
		return fmt.Errorf("clear hits: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO scan_runs
		(scan_id, status, scan_date, total, found, errors, min_score, max_cap, started_at, recorded_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ScanID, string(p.Status), scanDate, p.Total, len(cands), p.Errors,
		p.Params.MinMatchScore, p.Params.MaxMarketCap, p.StartedAt.Unix(), time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO scan_hits
		(scan_id, rank, code, name, score, buy_date, buy_price, market_cap, gain_4w, gain_10w, features)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare hits: %w", err)
	}
	defer stmt.Close()

	for i, c := range cands {
		features, err := json.Marshal(c.Features)
		if err != nil {
			return fmt.Errorf("marshal features %s: %w", c.Code, err)
		}
		if _, err := stmt.ExecContext(ctx,
			p.ScanID, i+1, c.Code, c.Name, c.Score, c.BuyDate.Format("2006-01-02"), c.BuyPrice,
			nullable(c.MarketCap), nullable(c.Gain4W), nullable(c.Gain10W), string(features),
		); err != nil {
			return fmt.Errorf("insert hit %s: %w", c.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"scan_id": p.ScanID,
		"status":  p.Status,
		"found":   len(cands),
	}).Debug("Scan recorded")
	return nil
}

// Runs returns the most recent recorded scans, newest first
func (r *SQLiteRecorder) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT scan_id, status, scan_date, total, found, errors, started_at, recorded_at
		FROM scan_runs ORDER BY recorded_at DESC, scan_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run                 Run
			status              string
			started, recordedAt int64
		)
		if err := rows.Scan(&run.ScanID, &status, &run.ScanDate, &run.Total, &run.Found, &run.Errors, &started, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = contracts.Status(status)
		run.StartedAt = time.Unix(started, 0)
		run.RecordedAt = time.Unix(recordedAt, 0)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Hits lists every recorded appearance of code
func (r *SQLiteRecorder) Hits(ctx context.Context, code string) ([]Hit, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT h.scan_id, r.scan_date, h.code, h.name, h.score, h.buy_price
		FROM scan_hits h JOIN scan_runs r ON r.scan_id = h.scan_id
		WHERE h.code = ? ORDER BY r.recorded_at DESC, h.scan_id DESC`, code)
	if err != nil {
		return nil, fmt.Errorf("query hits: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ScanID, &h.ScanDate, &h.Code, &h.Name, &h.Score, &h.BuyPrice); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	r.logger.Info("Closing SQLite recorder")
	return r.db.Close()
}

func nullable(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
