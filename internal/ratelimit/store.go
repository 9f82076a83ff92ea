package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore is the storage primitive behind the hourly quota: a
// numeric counter with a TTL. IncrWithTTL must be atomic at the
// storage layer (a single read-increment-expire operation).
type CounterStore interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
}

// RedisStore implements CounterStore on Redis (INCR + EXPIRE).
type RedisStore struct {
	Client *redis.Client
}

func (s *RedisStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.Client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *RedisStore) Decr(ctx context.Context, key string) (int64, error) {
	return s.Client.Decr(ctx, key).Result()
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	n, err := s.Client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// MemoryStore implements CounterStore in process, for tests and
// single-process runs. Expired entries are pruned lazily.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memCounter
}

type memCounter struct {
	n         int64
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]*memCounter)}
}

func (s *MemoryStore) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.live(key)
	if c == nil {
		c = &memCounter{}
		s.counters[key] = c
	}
	c.n++
	c.expiresAt = time.Now().Add(ttl)
	return c.n, nil
}

func (s *MemoryStore) Decr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.live(key)
	if c == nil {
		c = &memCounter{}
		s.counters[key] = c
	}
	c.n--
	return c.n, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.live(key); c != nil {
		return c.n, nil
	}
	return 0, nil
}

// live returns the counter if present and unexpired, dropping it otherwise.
func (s *MemoryStore) live(key string) *memCounter {
	c, ok := s.counters[key]
	if !ok {
		return nil
	}
	if !c.expiresAt.IsZero() && time.Now().After(c.expiresAt) {
		delete(s.counters, key)
		return nil
	}
	return c
}

var (
	_ CounterStore = (*RedisStore)(nil)
	_ CounterStore = (*MemoryStore)(nil)
)
