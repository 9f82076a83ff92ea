package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisQueue(t *testing.T, client *redis.Client) *Redis {
	t.Helper()
	q := NewRedis(client, RedisOptions{}, nil)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestRedisEnqueueDeduplicatesByID(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	q := newRedisQueue(t, client)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "job-1", Payload{CampaignID: "job-1"}, time.Minute)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "job-1", Payload{CampaignID: "job-1"}, 0)
	require.NoError(t, err)

	n, err := client.ZCard(ctx, q.delayedKey()).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPromoteMovesDueJobExactlyOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	q := newRedisQueue(t, client)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "job-1", Payload{CampaignID: "job-1"}, 0)
	require.NoError(t, err)

	q.promoteDue(ctx)
	q.promoteDue(ctx)

	ready, err := client.LRange(ctx, q.readyKey(), 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, ready)

	remaining, err := client.ZCard(ctx, q.delayedKey()).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)
}

// Server plus worker, or several worker replicas, can each run a
// promoter over the same keys. A due id they all scan must still reach
// the ready list exactly once, or one enqueue turns into two deliveries.
func TestConcurrentPromotersPushDueJobOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	a := newRedisQueue(t, client)
	b := newRedisQueue(t, client)
	ctx := context.Background()

	_, err := a.Enqueue(ctx, "job-1", Payload{CampaignID: "job-1"}, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, q := range []*Redis{a, b} {
		wg.Add(1)
		go func(q *Redis) {
			defer wg.Done()
			q.promoteDue(ctx)
		}(q)
	}
	wg.Wait()

	n, err := client.LLen(ctx, a.readyKey()).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// The conditional move must hold even when both promoters already hold
// the same scan result: the second ZREM sees nothing and pushes nothing.
func TestPromoteScriptSkipsAlreadyRemovedMember(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	q := newRedisQueue(t, client)
	ctx := context.Background()

	require.NoError(t, client.ZAdd(ctx, q.delayedKey(), redis.Z{Score: 0, Member: "job-1"}).Err())
	keys := []string{q.delayedKey(), q.readyKey()}

	moved, err := promoteScript.Run(ctx, client, keys, "job-1").Int()
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	moved, err = promoteScript.Run(ctx, client, keys, "job-1").Int()
	require.NoError(t, err)
	assert.Equal(t, 0, moved)

	ready, err := client.LRange(ctx, q.readyKey(), 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, ready)
}
