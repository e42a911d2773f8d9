package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/bullscan/internal/contracts"
)

// BarRepository stores daily bars in postgres
type BarRepository struct {
	pool *pgxpool.Pool
}

// NewBarRepository creates a new bar repository
func NewBarRepository(pool *pgxpool.Pool) *BarRepository {
	return &BarRepository{pool: pool}
}

// SaveDaily upserts bars for code in one batch
func (r *BarRepository) SaveDaily(ctx context.Context, code string, bars contracts.Bars) error {
	if len(bars) == 0 {
		return nil
	}

	query := `
		INSERT INTO daily_bars (code, trade_date, open, high, low, close, volume, amount, pct_change)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (code, trade_date) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			amount = EXCLUDED.amount,
			pct_change = EXCLUDED.pct_change
	`

	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(query, code, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume, b.Amount, b.PctChange)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save daily bars %s: %w", code, err)
	}
	return nil
}

// DailyRange loads bars for code in [from, to], ascending
func (r *BarRepository) DailyRange(ctx context.Context, code string, from, to time.Time) (contracts.Bars, error) {
	if to.IsZero() {
		to = time.Now()
	}

	query := `
		SELECT trade_date, open, high, low, close, volume, amount, pct_change
		FROM daily_bars
		WHERE code = $1 AND trade_date BETWEEN $2 AND $3
		ORDER BY trade_date ASC
	`

	rows, err := r.pool.Query(ctx, query, code, from, to)
	if err != nil {
		return nil, fmt.Errorf("query daily bars %s: %w", code, err)
	}
	defer rows.Close()

	var bars contracts.Bars
	for rows.Next() {
		var b contracts.Bar
		if err := rows.Scan(&b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Amount, &b.PctChange); err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// LatestDate returns the newest stored trade date for code
func (r *BarRepository) LatestDate(ctx context.Context, code string) (time.Time, error) {
	var d *time.Time
	err := r.pool.QueryRow(ctx, `SELECT MAX(trade_date) FROM daily_bars WHERE code = $1`, code).Scan(&d)
	if err != nil {
		return time.Time{}, err
	}
	if d == nil {
		return time.Time{}, contracts.ErrNotFound
	}
	return *d, nil
}
