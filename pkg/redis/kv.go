package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV stores JSON documents and counters that must survive across requests:
// scan progress, watchlists, daily scan counters.
// With Redis disabled it falls back to process memory so the CLI works standalone.
type KV struct {
	client *Client

	mu     sync.Mutex
	memory map[string]memEntry
}

type memEntry struct {
	data    []byte
	expires time.Time
}

// NewKV creates a KV on top of client
func NewKV(client *Client) *KV {
	return &KV{
		client: client,
		memory: make(map[string]memEntry),
	}
}

// GetJSON loads key into dest. A missing key is (false, nil).
func (k *KV) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	var data []byte

	if k.client.Enabled() {
		b, err := k.client.Redis().Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("kv get %s: %w", key, err)
		}
		data = b
	} else {
		k.mu.Lock()
		e, ok := k.memory[key]
		if ok && !e.expires.IsZero() && time.Now().After(e.expires) {
			delete(k.memory, key)
			ok = false
		}
		k.mu.Unlock()
		if !ok {
			return false, nil
		}
		data = e.data
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("kv unmarshal %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores value under key. ttl <= 0 keeps it forever.
func (k *KV) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv marshal %s: %w", key, err)
	}

	if k.client.Enabled() {
		if ttl < 0 {
			ttl = 0
		}
		return k.client.Redis().Set(ctx, key, data, ttl).Err()
	}

	e := memEntry{data: data}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	k.mu.Lock()
	k.memory[key] = e
	k.mu.Unlock()
	return nil
}

// Delete removes key
func (k *KV) Delete(ctx context.Context, key string) error {
	if k.client.Enabled() {
		return k.client.Redis().Del(ctx, key).Err()
	}
	k.mu.Lock()
	delete(k.memory, key)
	k.mu.Unlock()
	return nil
}

// GetInt reads a counter, 0 when missing
func (k *KV) GetInt(ctx context.Context, key string) (int64, error) {
	if k.client.Enabled() {
		n, err := k.client.Redis().Get(ctx, key).Int64()
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("kv get int %s: %w", key, err)
		}
		return n, nil
	}

	var n int64
	if _, err := k.GetJSON(ctx, key, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Incr increments a counter and sets ttl on first creation
func (k *KV) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return k.IncrBy(ctx, key, 1, ttl)
}

// IncrBy adds delta to a counter and sets ttl on first creation
func (k *KV) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	if k.client.Enabled() {
		rdb := k.client.Redis()
		pipe := rdb.TxPipeline()
		incr := pipe.IncrBy(ctx, key, delta)
		pipe.ExpireNX(ctx, key, ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("kv incr %s: %w", key, err)
		}
		return incr.Val(), nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	var n int64
	e, ok := k.memory[key]
	if ok && (e.expires.IsZero() || time.Now().Before(e.expires)) {
		_ = json.Unmarshal(e.data, &n)
	} else {
		e = memEntry{}
		if ttl > 0 {
			e.expires = time.Now().Add(ttl)
		}
	}
	n += delta
	e.data, _ = json.Marshal(n)
	k.memory[key] = e
	return n, nil
}
