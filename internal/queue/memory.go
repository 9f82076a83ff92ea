package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryOptions configures the in-memory queue.
type MemoryOptions struct {
	PollInterval time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

// Memory is an in-process DelayQueue used by tests and single-process
// deployments. It honors the same contract as the Redis queue: delayed
// release, dedup by id, reschedule of in-flight jobs.
type Memory struct {
	opts MemoryOptions

	mu      sync.Mutex
	entries map[string]*memEntry
	ready   chan string

	done      chan struct{}
	closeOnce sync.Once
}

type memEntry struct {
	payload  Payload
	attempt  int
	readyAt  time.Time
	queued   bool
	inflight bool
}

// NewMemory creates a running in-memory queue.
func NewMemory(opts MemoryOptions) *Memory {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	q := &Memory{
		opts:    opts,
		entries: make(map[string]*memEntry),
		ready:   make(chan string, 1024),
		done:    make(chan struct{}),
	}
	go q.promote()
	return q
}

func (q *Memory) promote() {
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.done:
			return
		case <-ticker.C:
		}

		now := time.Now()
		q.mu.Lock()
		for id, e := range q.entries {
			if e.queued || e.inflight || e.readyAt.After(now) {
				continue
			}
			select {
			case q.ready <- id:
				e.queued = true
			default:
				// Channel full, try again next tick.
			}
		}
		q.mu.Unlock()
	}
}

func (q *Memory) Enqueue(_ context.Context, id string, p Payload, delay time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Dedup: a known id keeps its original schedule.
	if _, exists := q.entries[id]; exists {
		return id, nil
	}
	q.entries[id] = &memEntry{payload: p, readyAt: time.Now().Add(delay)}
	return id, nil
}

func (q *Memory) Claim(ctx context.Context) (*Job, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, ErrClosed
		case id := <-q.ready:
			q.mu.Lock()
			e, ok := q.entries[id]
			if !ok {
				q.mu.Unlock()
				continue
			}
			e.queued = false
			e.inflight = true
			job := &Job{ID: id, Attempt: e.attempt, Payload: e.payload}
			q.mu.Unlock()
			return job, nil
		}
	}
}

func (q *Memory) Ack(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, job.ID)
	return nil
}

func (q *Memory) Fail(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[job.ID]
	if !ok {
		return nil
	}
	e.attempt++
	if e.attempt >= q.opts.MaxAttempts {
		delete(q.entries, job.ID)
		return nil
	}
	e.inflight = false
	e.readyAt = time.Now().Add(q.opts.RetryBackoff * time.Duration(e.attempt))
	return nil
}

func (q *Memory) Reschedule(_ context.Context, job *Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[job.ID]
	if !ok {
		return nil
	}
	e.inflight = false
	e.readyAt = time.Now().Add(delay)
	return nil
}

func (q *Memory) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

var _ DelayQueue = (*Memory)(nil)
