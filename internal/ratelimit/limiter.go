package ratelimit

import (
	"context"
	"time"
)

// bucketLayout truncates a timestamp to the hour, matching the
// counter key resolution.
const bucketLayout = "2006-01-02T15"

// counterTTL spans at least two bucket windows so a counter outlives
// clock skew between check and increment.
const counterTTL = 2 * time.Hour

// BucketKey is the counter key for an owner in the hour containing t.
func BucketKey(ownerID string, t time.Time) string {
	return "ratelimit:" + ownerID + ":" + t.UTC().Format(bucketLayout)
}

// HourlyLimiter enforces a per-owner cap on dispatches per hour-bucket.
type HourlyLimiter struct {
	store CounterStore
}

func NewHourlyLimiter(store CounterStore) *HourlyLimiter {
	return &HourlyLimiter{store: store}
}

// Reserve atomically takes one slot in the owner's current bucket.
// The decision is made from the post-increment count, so two workers
// can never both take the last slot. A rejected reservation is rolled
// back and reported as allowed=false; rejection is flow control, not
// an error.
func (l *HourlyLimiter) Reserve(ctx context.Context, ownerID string, limit int, now time.Time) (bool, error) {
	key := BucketKey(ownerID, now)
	n, err := l.store.IncrWithTTL(ctx, key, counterTTL)
	if err != nil {
		return false, err
	}
	if n > int64(limit) {
		if _, err := l.store.Decr(ctx, key); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// Release returns a reserved slot, used when a dispatch fails after
// reservation so transport failures never consume quota.
func (l *HourlyLimiter) Release(ctx context.Context, ownerID string, now time.Time) error {
	_, err := l.store.Decr(ctx, BucketKey(ownerID, now))
	return err
}

// Peek is the legacy non-atomic check: read the counter and compare.
// Between a Peek and the later increment another worker can pass the
// same check, so the quota can be exceeded by up to workers-1 extra
// dispatches. Kept only so that weakness stays demonstrable; the
// dispatch path uses Reserve.
func (l *HourlyLimiter) Peek(ctx context.Context, ownerID string, limit int, now time.Time) (bool, error) {
	n, err := l.store.Get(ctx, BucketKey(ownerID, now))
	if err != nil {
		return false, err
	}
	return n < int64(limit), nil
}

// Increment bumps the owner's current bucket, pairing with Peek in the
// legacy flow.
func (l *HourlyLimiter) Increment(ctx context.Context, ownerID string, now time.Time) error {
	_, err := l.store.IncrWithTTL(ctx, BucketKey(ownerID, now), counterTTL)
	return err
}

// MinPause resolves the post-dispatch spacing: the larger of the
// system minimum and the campaign's requested interval. Applied per
// worker slot, not globally.
func MinPause(floor, requested time.Duration) time.Duration {
	if requested > floor {
		return requested
	}
	return floor
}
