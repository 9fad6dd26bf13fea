package ubic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper tracks processed idempotency keys per target service with bounded
// retention. FirstDelivery atomically claims a key; Forget releases it so a
// failed handling can be retried.
type Deduper interface {
	FirstDelivery(ctx context.Context, service, key string) (bool, error)
	Forget(ctx context.Context, service, key string) error
}

// RedisDeduper stores dedup records in Redis with a TTL
type RedisDeduper struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisDeduper creates a Redis-backed deduper
func NewRedisDeduper(client redis.UniversalClient, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func dedupKey(service, key string) string {
	return fmt.Sprintf("ubic:dedup:%s:%s", service, key)
}

// FirstDelivery claims the key via SETNX; false means already processed
func (d *RedisDeduper) FirstDelivery(ctx context.Context, service, key string) (bool, error) {
	return d.client.SetNX(ctx, dedupKey(service, key), 1, d.ttl).Result()
}

// Forget releases a claimed key
func (d *RedisDeduper) Forget(ctx context.Context, service, key string) error {
	return d.client.Del(ctx, dedupKey(service, key)).Err()
}

// MemoryDeduper is an in-process deduper for tests and cacheless deployments
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

// NewMemoryDeduper creates an in-memory deduper
func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryDeduper{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// FirstDelivery claims the key; false means already processed
func (d *MemoryDeduper) FirstDelivery(ctx context.Context, service, key string) (bool, error) {
	k := dedupKey(service, key)
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.sweepLocked(now)
	if exp, ok := d.seen[k]; ok && now.Before(exp) {
		return false, nil
	}
	d.seen[k] = now.Add(d.ttl)
	return true, nil
}

// Forget releases a claimed key
func (d *MemoryDeduper) Forget(ctx context.Context, service, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, dedupKey(service, key))
	return nil
}

// sweepLocked drops expired records; caller holds d.mu
func (d *MemoryDeduper) sweepLocked(now time.Time) {
	if len(d.seen) < 1024 {
		return
	}
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
		}
	}
}
