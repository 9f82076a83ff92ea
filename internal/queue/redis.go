package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the Redis-backed queue.
type RedisOptions struct {
	Prefix       string
	PollInterval time.Duration
	ClaimTimeout time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration

	// RunPromoter starts the background promoter that moves due jobs
	// from the delayed set to the ready list. Only consumers need it;
	// an enqueue-only client leaves it off.
	RunPromoter bool
}

// Redis is a DelayQueue backed by Redis. Layout:
//
//	{prefix}:job:{id}   job envelope (JSON); SETNX gives dedup by id
//	{prefix}:delayed    ZSET of ids scored by ready-at (unix ms)
//	{prefix}:ready      list of due ids
//	{prefix}:processing list of claimed ids
//
// Claim moves ids ready->processing with BLMOVE, so a job claimed by a
// crashed worker stays visible and delivery is at-least-once.
type Redis struct {
	client *redis.Client
	opts   RedisOptions
	log    *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

type jobEnvelope struct {
	Payload Payload `json:"payload"`
	Attempt int     `json:"attempt"`
}

// promoteScript moves one due id delayed->ready. ZREM and LPUSH run as
// a single script so that when several promoters scan the same id,
// only the one whose ZREM removes the member appends it.
var promoteScript = redis.NewScript(`
if redis.call("zrem", KEYS[1], ARGV[1]) == 1 then
	redis.call("lpush", KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// NewRedis creates a Redis queue. With RunPromoter set it also starts
// the promoter, which moves due jobs from the delayed set to the ready
// list.
func NewRedis(client *redis.Client, opts RedisOptions, logger *slog.Logger) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = "campaigns"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.ClaimTimeout <= 0 {
		opts.ClaimTimeout = 2 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	q := &Redis{
		client: client,
		opts:   opts,
		log:    logger.With("component", "delay-queue"),
		done:   make(chan struct{}),
	}
	if opts.RunPromoter {
		go q.promote()
	}
	return q
}

func (q *Redis) jobKey(id string) string { return q.opts.Prefix + ":job:" + id }
func (q *Redis) delayedKey() string { return q.opts.Prefix + ":delayed" }
func (q *Redis) readyKey() string { return q.opts.Prefix + ":ready" }
func (q *Redis) processingKey() string { return q.opts.Prefix + ":processing" }

func (q *Redis) Enqueue(ctx context.Context, id string, p Payload, delay time.Duration) (string, error) {
	body, err := json.Marshal(jobEnvelope{Payload: p})
	if err != nil {
		return "", fmt.Errorf("encode job payload: %w", err)
	}

	created, err := q.client.SetNX(ctx, q.jobKey(id), body, 0).Result()
	if err != nil {
		return "", fmt.Errorf("store job payload: %w", err)
	}
	if !created {
		// Dedup: the id is already scheduled or in flight.
		return id, nil
	}

	readyAt := time.Now().Add(delay).UnixMilli()
	if err := q.client.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(readyAt), Member: id}).Err(); err != nil {
		return "", fmt.Errorf("schedule job: %w", err)
	}
	return id, nil
}

func (q *Redis) promote() {
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-q.done:
			return
		case <-ticker.C:
		}
		q.promoteDue(ctx)
	}
}

func (q *Redis) promoteDue(ctx context.Context) {
	max := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   max,
		Count: 128,
	}).Result()
	if err != nil {
		q.log.Error("promote scan failed", "error", err)
		return
	}

	keys := []string{q.delayedKey(), q.readyKey()}
	for _, id := range due {
		if err := promoteScript.Run(ctx, q.client, keys, id).Err(); err != nil {
			q.log.Error("promote failed", "job_id", id, "error", err)
		}
	}
}

func (q *Redis) Claim(ctx context.Context) (*Job, error) {
	for {
		select {
		case <-q.done:
			return nil, ErrClosed
		default:
		}

		id, err := q.client.BLMove(ctx, q.readyKey(), q.processingKey(), "RIGHT", "LEFT", q.opts.ClaimTimeout).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("claim job: %w", err)
		}

		body, err := q.client.Get(ctx, q.jobKey(id)).Result()
		if err == redis.Nil {
			// Payload gone (acked elsewhere); drop the stale id.
			q.client.LRem(ctx, q.processingKey(), 1, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load job payload: %w", err)
		}

		var env jobEnvelope
		if err := json.Unmarshal([]byte(body), &env); err != nil {
			q.log.Error("dropping undecodable job", "job_id", id, "error", err)
			q.remove(ctx, id)
			continue
		}
		return &Job{ID: id, Attempt: env.Attempt, Payload: env.Payload}, nil
	}
}

func (q *Redis) Ack(ctx context.Context, job *Job) error {
	return q.remove(ctx, job.ID)
}

func (q *Redis) Fail(ctx context.Context, job *Job) error {
	attempt := job.Attempt + 1
	if attempt >= q.opts.MaxAttempts {
		return q.remove(ctx, job.ID)
	}

	body, err := json.Marshal(jobEnvelope{Payload: job.Payload, Attempt: attempt})
	if err != nil {
		return fmt.Errorf("encode job payload: %w", err)
	}
	readyAt := time.Now().Add(q.opts.RetryBackoff * time.Duration(attempt)).UnixMilli()

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), body, redis.KeepTTL)
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(readyAt), Member: job.ID})
	pipe.LRem(ctx, q.processingKey(), 1, job.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (q *Redis) Reschedule(ctx context.Context, job *Job, delay time.Duration) error {
	readyAt := time.Now().Add(delay).UnixMilli()

	pipe := q.client.TxPipeline()
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(readyAt), Member: job.ID})
	pipe.LRem(ctx, q.processingKey(), 1, job.ID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *Redis) remove(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, id)
	pipe.Del(ctx, q.jobKey(id))
	_, err := pipe.Exec(ctx)
	return err
}

func (q *Redis) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

var _ DelayQueue = (*Redis)(nil)
