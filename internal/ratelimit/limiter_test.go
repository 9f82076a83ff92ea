package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailshed/campaign-backend/internal/ratelimit"
)

func TestBucketKeyTruncatesToHour(t *testing.T) {
	early := time.Date(2025, 3, 1, 14, 0, 1, 0, time.UTC)
	late := time.Date(2025, 3, 1, 14, 59, 59, 0, time.UTC)
	next := time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)

	assert.Equal(t, ratelimit.BucketKey("owner", early), ratelimit.BucketKey("owner", late))
	assert.NotEqual(t, ratelimit.BucketKey("owner", early), ratelimit.BucketKey("owner", next))
	assert.NotEqual(t, ratelimit.BucketKey("a", early), ratelimit.BucketKey("b", early))
}

func TestReserveEnforcesLimitSerialized(t *testing.T) {
	limiter := ratelimit.NewHourlyLimiter(ratelimit.NewMemoryStore())
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)

	allowed := 0
	for i := 0; i < 10; i++ {
		ok, err := limiter.Reserve(ctx, "owner", 5, now)
		require.NoError(t, err)
		if ok {
			allowed++
		}
	}
	assert.Equal(t, 5, allowed)
}

// The atomic increment-and-compare path holds the bound even when
// workers reserve concurrently.
func TestReserveHoldsBoundUnderConcurrency(t *testing.T) {
	limiter := ratelimit.NewHourlyLimiter(ratelimit.NewMemoryStore())
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := limiter.Reserve(ctx, "owner", 5, now)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, allowed)
}

// The legacy check-then-increment pair lets every concurrent worker
// pass the check before any of them increments, exceeding the quota by
// up to workers-1 extra dispatches. This is the documented weakness the
// dispatch path avoids by using Reserve.
func TestPeekThenIncrementRaceExceedsLimit(t *testing.T) {
	store := ratelimit.NewMemoryStore()
	limiter := ratelimit.NewHourlyLimiter(store)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)
	const workers = 8

	// Every worker checks before any worker increments.
	decisions := make([]bool, workers)
	var checks sync.WaitGroup
	for i := 0; i < workers; i++ {
		checks.Add(1)
		go func(i int) {
			defer checks.Done()
			ok, err := limiter.Peek(ctx, "owner", 1, now)
			require.NoError(t, err)
			decisions[i] = ok
		}(i)
	}
	checks.Wait()

	dispatched := 0
	for _, ok := range decisions {
		if ok {
			require.NoError(t, limiter.Increment(ctx, "owner", now))
			dispatched++
		}
	}

	assert.Equal(t, workers, dispatched, "all workers pass the stale check")
	count, err := store.Get(ctx, ratelimit.BucketKey("owner", now))
	require.NoError(t, err)
	assert.Greater(t, count, int64(1), "bucket count exceeds the limit of 1")
}

func TestReleaseReturnsReservedSlot(t *testing.T) {
	limiter := ratelimit.NewHourlyLimiter(ratelimit.NewMemoryStore())
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)

	ok, err := limiter.Reserve(ctx, "owner", 1, now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = limiter.Reserve(ctx, "owner", 1, now)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, limiter.Release(ctx, "owner", now))

	ok, err = limiter.Reserve(ctx, "owner", 1, now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBucketsAreIndependentAcrossHours(t *testing.T) {
	limiter := ratelimit.NewHourlyLimiter(ratelimit.NewMemoryStore())
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 14, 59, 0, 0, time.UTC)

	ok, err := limiter.Reserve(ctx, "owner", 1, now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = limiter.Reserve(ctx, "owner", 1, now)
	require.NoError(t, err)
	require.False(t, ok)

	// The next hour-bucket starts from zero.
	ok, err = limiter.Reserve(ctx, "owner", 1, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStoreExpiresCounters(t *testing.T) {
	store := ratelimit.NewMemoryStore()
	ctx := context.Background()

	n, err := store.IncrWithTTL(ctx, "k", 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	time.Sleep(25 * time.Millisecond)

	n, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
