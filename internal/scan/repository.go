package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/bullscan/internal/contracts"
)

// PGResultRepository stores finished scans in scan_runs and scan_candidates
type PGResultRepository struct {
	pool *pgxpool.Pool
}

// NewPGResultRepository creates a repository on pool
func NewPGResultRepository(pool *pgxpool.Pool) *PGResultRepository {
	return &PGResultRepository{pool: pool}
}

// RunSummary is one row of scan_runs
type RunSummary struct {
	ScanID      string           `json:"scan_id"`
	Username    string           `json:"username"`
	ScanDate    *time.Time       `json:"scan_date,omitempty"`
	ScanSession string           `json:"scan_session,omitempty"`
	Status      contracts.Status `json:"status"`
	Total       int              `json:"total"`
	Processed   int              `json:"processed"`
	Found       int              `json:"found"`
	Errors      int              `json:"errors"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  *time.Time       `json:"finished_at,omitempty"`
}

// SaveRun replaces the stored run and its candidates in one transaction
func (r *PGResultRepository) SaveRun(ctx context.Context, p *contracts.Progress, cands []contracts.Candidate) error {
	params, err := json.Marshal(p.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	var scanDate *time.Time
	if !p.Params.ScanDate.IsZero() {
		d := p.Params.ScanDate
		scanDate = &d
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO scan_runs (scan_id, username, scan_date, scan_session, status, total, processed, found, errors, params, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (scan_id) DO UPDATE SET
			status = EXCLUDED.status,
			processed = EXCLUDED.processed,
			found = EXCLUDED.found,
			errors = EXCLUDED.errors,
			finished_at = EXCLUDED.finished_at
	`, p.ScanID, p.Params.Username, scanDate, p.Params.ScanSession, string(p.Status),
		p.Total, p.Current, len(cands), p.Errors, params, p.StartedAt)
	if err != nil {
		return fmt.Errorf("upsert scan run %s: %w", p.ScanID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM scan_candidates WHERE scan_id = $1`, p.ScanID); err != nil {
		return fmt.Errorf("clear candidates %s: %w", p.ScanID, err)
	}

	batch := &pgx.Batch{}
	for i, c := range cands {
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal candidate %s: %w", c.Code, err)
		}
		batch.Queue(`
			INSERT INTO scan_candidates (scan_id, position, code, name, score, buy_date, buy_price, market_cap, payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, p.ScanID, i, c.Code, c.Name, c.Score, c.BuyDate, c.BuyPrice, c.MarketCap, payload)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert candidates %s: %w", p.ScanID, err)
		}
	}

	return tx.Commit(ctx)
}

// Candidates loads the stored candidates of a scan in scan order
func (r *PGResultRepository) Candidates(ctx context.Context, scanID string) ([]contracts.Candidate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT payload FROM scan_candidates WHERE scan_id = $1 ORDER BY position
	`, scanID)
	if err != nil {
		return nil, fmt.Errorf("query candidates %s: %w", scanID, err)
	}
	defer rows.Close()

	var out []contracts.Candidate
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var c contracts.Candidate
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, fmt.Errorf("decode candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Run loads one scan_runs row
func (r *PGResultRepository) Run(ctx context.Context, scanID string) (*RunSummary, error) {
	var s RunSummary
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT scan_id, username, scan_date, scan_session, status, total, processed, found, errors, started_at, finished_at
		FROM scan_runs WHERE scan_id = $1
	`, scanID).Scan(&s.ScanID, &s.Username, &s.ScanDate, &s.ScanSession, &status,
		&s.Total, &s.Processed, &s.Found, &s.Errors, &s.StartedAt, &s.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", scanID, ErrScanNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query scan run %s: %w", scanID, err)
	}
	s.Status = contracts.Status(status)
	return &s, nil
}

// RecentRuns lists the latest runs of username, newest first
func (r *PGResultRepository) RecentRuns(ctx context.Context, username string, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT scan_id, username, scan_date, scan_session, status, total, processed, found, errors, started_at, finished_at
		FROM scan_runs
		WHERE username = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, username, limit)
	if err != nil {
		return nil, fmt.Errorf("query scan runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		var status string
		if err := rows.Scan(&s.ScanID, &s.Username, &s.ScanDate, &s.ScanSession, &status,
			&s.Total, &s.Processed, &s.Found, &s.Errors, &s.StartedAt, &s.FinishedAt); err != nil {
			return nil, err
		}
		s.Status = contracts.Status(status)
		out = append(out, s)
	}
	return out, rows.Err()
}
