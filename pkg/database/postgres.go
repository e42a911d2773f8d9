package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/bullscan/pkg/config"
)

// sessionTimeZone keeps DATE columns aligned with exchange trading days
const sessionTimeZone = "Asia/Shanghai"

// DB wraps the pgxpool.Pool. It is the only place a pool is created.
type DB struct {
	Pool *pgxpool.Pool
}

// New connects to cfg.Database.URL and pings within five seconds
func New(ctx context.Context, cfg *config.Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	rp := poolConfig.ConnConfig.RuntimeParams
	rp["application_name"] = "bullscan"
	if _, ok := rp["timezone"]; !ok {
		rp["timezone"] = sessionTimeZone
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the pool. Safe on a nil DB.
func (db *DB) Close() {
	if db != nil && db.Pool != nil {
		db.Pool.Close()
	}
}

// Ping checks if the database is accessible
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// HealthStatus is reported under "database" on /health
type HealthStatus struct {
	Healthy      bool      `json:"healthy"`
	ResponseTime string    `json:"response_time"`
	Error        string    `json:"error,omitempty"`
	Stats        PoolStats `json:"stats"`
}

// PoolStats is a snapshot of the pool counters
type PoolStats struct {
	AcquiredConns int32 `json:"acquired_conns"`
	IdleConns     int32 `json:"idle_conns"`
	TotalConns    int32 `json:"total_conns"`
	MaxConns      int32 `json:"max_conns"`
	AcquireCount  int64 `json:"acquire_count"`
}

// HealthCheck pings the database and snapshots the pool. The error is also
// recorded in the returned status so callers can report it directly.
func (db *DB) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()
	err := db.Pool.Ping(ctx)
	status := &HealthStatus{
		Healthy:      err == nil,
		ResponseTime: time.Since(start).Round(time.Microsecond).String(),
		Stats:        db.Stats(),
	}
	if err != nil {
		status.Error = err.Error()
		return status, err
	}
	return status, nil
}

// Stats returns the current pool statistics
func (db *DB) Stats() PoolStats {
	s := db.Pool.Stat()
	return PoolStats{
		AcquiredConns: s.AcquiredConns(),
		IdleConns:     s.IdleConns(),
		TotalConns:    s.TotalConns(),
		MaxConns:      s.MaxConns(),
		AcquireCount:  s.AcquireCount(),
	}
}
