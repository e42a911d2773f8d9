package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/pkg/redis"
)

const defaultProgressTTL = 24 * time.Hour

// ProgressStore persists scan state between polls and batch invocations
type ProgressStore interface {
	SaveProgress(ctx context.Context, p *contracts.Progress) error
	LoadProgress(ctx context.Context, scanID string) (*contracts.Progress, error)
	SaveResults(ctx context.Context, scanID string, cands []contracts.Candidate) error
	LoadResults(ctx context.Context, scanID string) ([]contracts.Candidate, error)
	SaveUniverse(ctx context.Context, scanID string, stocks []contracts.StockInfo) error
	LoadUniverse(ctx context.Context, scanID string) ([]contracts.StockInfo, error)
	SetLatest(ctx context.Context, username, scanID string) error
	Latest(ctx context.Context, username string) (string, error)
}

// RedisProgressStore keeps scan state under scan_* keys with a TTL.
// With a disabled client it falls back to process memory.
type RedisProgressStore struct {
	kv  *redis.KV
	ttl time.Duration
}

// NewRedisProgressStore creates a store on kv
func NewRedisProgressStore(kv *redis.KV, ttl time.Duration) *RedisProgressStore {
	if ttl <= 0 {
		ttl = defaultProgressTTL
	}
	return &RedisProgressStore{kv: kv, ttl: ttl}
}

// NewMemoryProgressStore keeps state in process memory
func NewMemoryProgressStore() *RedisProgressStore {
	return NewRedisProgressStore(redis.NewKV(redis.Disabled()), defaultProgressTTL)
}

func progressKey(id string) string { return "scan_progress:" + id }
func resultsKey(id string) string  { return "scan_results:" + id }
func universeKey(id string) string { return "scan_universe:" + id }
func latestKey(user string) string { return "scan_latest:" + user }

func (s *RedisProgressStore) SaveProgress(ctx context.Context, p *contracts.Progress) error {
	p.UpdatedAt = time.Now()
	if err := s.kv.SetJSON(ctx, progressKey(p.ScanID), p, s.ttl); err != nil {
		return fmt.Errorf("save progress %s: %w", p.ScanID, err)
	}
	return nil
}

func (s *RedisProgressStore) LoadProgress(ctx context.Context, scanID string) (*contracts.Progress, error) {
	var p contracts.Progress
	found, err := s.kv.GetJSON(ctx, progressKey(scanID), &p)
	if err != nil {
		return nil, fmt.Errorf("load progress %s: %w", scanID, err)
	}
	if !found {
		return nil, fmt.Errorf("%s: %w", scanID, ErrScanNotFound)
	}
	return &p, nil
}

func (s *RedisProgressStore) SaveResults(ctx context.Context, scanID string, cands []contracts.Candidate) error {
	if cands == nil {
		cands = []contracts.Candidate{}
	}
	if err := s.kv.SetJSON(ctx, resultsKey(scanID), cands, s.ttl); err != nil {
		return fmt.Errorf("save results %s: %w", scanID, err)
	}
	return nil
}

func (s *RedisProgressStore) LoadResults(ctx context.Context, scanID string) ([]contracts.Candidate, error) {
	var cands []contracts.Candidate
	found, err := s.kv.GetJSON(ctx, resultsKey(scanID), &cands)
	if err != nil {
		return nil, fmt.Errorf("load results %s: %w", scanID, err)
	}
	if !found {
		return nil, nil
	}
	return cands, nil
}

func (s *RedisProgressStore) SaveUniverse(ctx context.Context, scanID string, stocks []contracts.StockInfo) error {
	if err := s.kv.SetJSON(ctx, universeKey(scanID), stocks, s.ttl); err != nil {
		return fmt.Errorf("save universe %s: %w", scanID, err)
	}
	return nil
}

func (s *RedisProgressStore) LoadUniverse(ctx context.Context, scanID string) ([]contracts.StockInfo, error) {
	var stocks []contracts.StockInfo
	found, err := s.kv.GetJSON(ctx, universeKey(scanID), &stocks)
	if err != nil {
		return nil, fmt.Errorf("load universe %s: %w", scanID, err)
	}
	if !found {
		return nil, fmt.Errorf("universe of %s: %w", scanID, ErrScanNotFound)
	}
	return stocks, nil
}

func (s *RedisProgressStore) SetLatest(ctx context.Context, username, scanID string) error {
	if username == "" {
		username = "_"
	}
	return s.kv.SetJSON(ctx, latestKey(username), scanID, s.ttl)
}

func (s *RedisProgressStore) Latest(ctx context.Context, username string) (string, error) {
	if username == "" {
		username = "_"
	}
	var id string
	found, err := s.kv.GetJSON(ctx, latestKey(username), &id)
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrScanNotFound
	}
	return id, nil
}
