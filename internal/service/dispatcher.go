// internal/service/dispatcher.go
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mailshed/campaign-backend/internal/mailer"
	"github.com/mailshed/campaign-backend/internal/model"
	"github.com/mailshed/campaign-backend/internal/queue"
	"github.com/mailshed/campaign-backend/internal/ratelimit"
)

var (
	dispatchJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "campaign",
			Subsystem: "dispatch",
			Name:      "jobs_total",
			Help:      "Delivery jobs processed, by outcome.",
		},
		[]string{"outcome"},
	)
	dispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "campaign",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Duration of one delivery attempt.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// DispatchStore is the slice of the campaign store the worker pool
// needs: load a record, write a terminal status.
type DispatchStore interface {
	GetByID(id string) (*model.Campaign, error)
	MarkCompleted(id string, sentAt time.Time, previewURL string) error
	MarkFailed(id string) error
}

// SenderDirectory resolves an owner's sender identity.
type SenderDirectory interface {
	GetByID(id string) (*model.User, error)
}

// DispatcherConfig tunes the worker pool.
type DispatcherConfig struct {
	// Workers is the number of concurrent consumers.
	Workers int

	// DefaultMaxPerHour applies when a campaign carries no override.
	DefaultMaxPerHour int

	// MinPause is the system floor for post-dispatch spacing.
	MinPause time.Duration

	// DispatchPerSecond caps dispatch attempts across all workers.
	// This protects the outbound transport; it is independent of the
	// per-owner hourly quota.
	DispatchPerSecond int

	// RateLimitRetryDelay is how far a quota-rejected job is pushed out.
	RateLimitRetryDelay time.Duration

	// Fallback sender identity when the owner profile is unavailable.
	SenderName  string
	SenderEmail string
}

// Dispatcher is the fixed-size pool of workers that claim due jobs,
// enforce the rate limits, personalize, dispatch and reconcile the
// stored record.
type Dispatcher struct {
	Store   DispatchStore
	Users   SenderDirectory
	Queue   queue.DelayQueue
	Limiter *ratelimit.HourlyLimiter
	Mailer  mailer.Mailer
	Config  DispatcherConfig
	Log     *slog.Logger

	// Now and Sleep are clock seams for tests; nil means real time.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration)

	initOnce sync.Once
	global   *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	log      *slog.Logger
}

// Outcome tags of one delivery attempt. The worker interprets this
// decision table instead of relying on propagated errors.
type outcomeKind int

const (
	outcomeDelivered outcomeKind = iota
	outcomeRateLimited
	outcomeTransportFailed
	outcomeSkipped
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeDelivered:
		return "delivered"
	case outcomeRateLimited:
		return "rate_limited"
	case outcomeTransportFailed:
		return "transport_failed"
	default:
		return "skipped"
	}
}

type dispatchOutcome struct {
	kind       outcomeKind
	retryAfter time.Duration
	previewURL string
	err        error
}

const breakerOpenRetry = 30 * time.Second

func (d *Dispatcher) init() {
	d.initOnce.Do(func() {
		if d.Config.Workers <= 0 {
			d.Config.Workers = 5
		}
		if d.Config.DefaultMaxPerHour <= 0 {
			d.Config.DefaultMaxPerHour = 100
		}
		if d.Config.MinPause <= 0 {
			d.Config.MinPause = 2 * time.Second
		}
		if d.Config.DispatchPerSecond <= 0 {
			d.Config.DispatchPerSecond = 10
		}
		if d.Config.RateLimitRetryDelay <= 0 {
			d.Config.RateLimitRetryDelay = time.Hour
		}
		if d.Log == nil {
			d.Log = slog.Default()
		}
		d.log = d.Log.With("component", "dispatcher")

		d.global = rate.NewLimiter(rate.Limit(d.Config.DispatchPerSecond), d.Config.DispatchPerSecond)
		d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "mailer",
			Timeout: breakerOpenRetry,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 5 && failureRatio >= 0.5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				d.log.Warn("mailer circuit breaker state changed",
					"from", from.String(), "to", to.String())
			},
		})
	})
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) {
	if d.Sleep != nil {
		d.Sleep(ctx, dur)
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(dur):
	}
}

// Run starts the pool and blocks until ctx is cancelled or the queue
// closes. Jobs in flight finish their current attempt.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.init()
	d.log.Info("starting dispatch workers",
		"workers", d.Config.Workers,
		"dispatch_per_second", d.Config.DispatchPerSecond)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.Config.Workers; i++ {
		workerID := i
		g.Go(func() error {
			return d.worker(ctx, workerID)
		})
	}
	return g.Wait()
}

func (d *Dispatcher) worker(ctx context.Context, id int) error {
	log := d.log.With("worker", id)
	for {
		job, err := d.Queue.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			log.Error("claim failed", "error", err)
			d.sleep(ctx, time.Second)
			continue
		}
		d.process(ctx, log, job)
	}
}

// process runs one attempt and applies the decision table:
// delivered → terminal COMPLETED, ack, spacing pause;
// rate limited → reschedule, stored status untouched;
// transport failed → terminal FAILED, hand to the queue's retry policy;
// skipped → ack (already terminal, or record gone).
func (d *Dispatcher) process(ctx context.Context, log *slog.Logger, job *queue.Job) {
	start := time.Now()
	out := d.attempt(ctx, log, job)
	dispatchDuration.Observe(time.Since(start).Seconds())
	dispatchJobsTotal.WithLabelValues(out.kind.String()).Inc()

	campaignID := job.Payload.CampaignID
	switch out.kind {
	case outcomeDelivered:
		if err := d.Store.MarkCompleted(campaignID, d.now(), out.previewURL); err != nil {
			// The message left the building; never re-dispatch over a
			// bookkeeping failure.
			log.Error("status update failed after successful dispatch",
				"campaign_id", campaignID, "error", err)
		}
		if err := d.Queue.Ack(ctx, job); err != nil {
			log.Error("ack failed", "campaign_id", campaignID, "error", err)
		}
		pause := ratelimit.MinPause(d.Config.MinPause, time.Duration(job.Payload.MinIntervalMS)*time.Millisecond)
		d.sleep(ctx, pause)

	case outcomeRateLimited:
		log.Info("dispatch deferred", "campaign_id", campaignID, "retry_after", out.retryAfter)
		if err := d.Queue.Reschedule(ctx, job, out.retryAfter); err != nil {
			log.Error("reschedule failed", "campaign_id", campaignID, "error", err)
		}

	case outcomeTransportFailed:
		log.Error("dispatch failed", "campaign_id", campaignID, "error", out.err)
		if err := d.Store.MarkFailed(campaignID); err != nil {
			log.Error("failed-status update failed", "campaign_id", campaignID, "error", err)
		}
		if err := d.Queue.Fail(ctx, job); err != nil {
			log.Error("queue fail reporting failed", "campaign_id", campaignID, "error", err)
		}

	case outcomeSkipped:
		if err := d.Queue.Ack(ctx, job); err != nil {
			log.Error("ack failed", "campaign_id", campaignID, "error", err)
		}
	}
}

func (d *Dispatcher) attempt(ctx context.Context, log *slog.Logger, job *queue.Job) dispatchOutcome {
	p := job.Payload

	rec, err := d.Store.GetByID(p.CampaignID)
	if err != nil {
		log.Error("record load failed", "campaign_id", p.CampaignID, "error", err)
		return dispatchOutcome{kind: outcomeRateLimited, retryAfter: breakerOpenRetry}
	}
	if rec == nil {
		log.Warn("record gone, dropping job", "campaign_id", p.CampaignID)
		return dispatchOutcome{kind: outcomeSkipped}
	}
	if rec.Status.Terminal() {
		// At-least-once redelivery of a finished job is a no-op.
		return dispatchOutcome{kind: outcomeSkipped}
	}

	limit := d.Config.DefaultMaxPerHour
	if p.MaxPerHour > 0 {
		limit = p.MaxPerHour
	}
	reserved, err := d.Limiter.Reserve(ctx, p.OwnerID, limit, d.now())
	if err != nil {
		log.Error("quota check failed", "owner_id", p.OwnerID, "error", err)
		return dispatchOutcome{kind: outcomeRateLimited, retryAfter: breakerOpenRetry}
	}
	if !reserved {
		return dispatchOutcome{kind: outcomeRateLimited, retryAfter: d.Config.RateLimitRetryDelay}
	}

	subject, body := Personalize(p.Subject, p.Body, p.ToAddress)

	fromName, fromEmail := d.Config.SenderName, d.Config.SenderEmail
	if owner, err := d.Users.GetByID(p.OwnerID); err == nil && owner != nil {
		fromName, fromEmail = owner.Name, owner.Email
	} else if err != nil {
		log.Warn("owner lookup failed, using system sender", "owner_id", p.OwnerID, "error", err)
	}

	if err := d.global.Wait(ctx); err != nil {
		d.releaseQuota(ctx, log, p.OwnerID)
		return dispatchOutcome{kind: outcomeRateLimited, retryAfter: breakerOpenRetry}
	}

	res, err := d.breaker.Execute(func() (interface{}, error) {
		return d.Mailer.Dispatch(ctx, mailer.OutboundEmail{
			To:          p.ToAddress,
			Subject:     subject,
			HTMLBody:    body,
			FromName:    fromName,
			FromEmail:   fromEmail,
			Attachments: p.Attachments,
		})
	})
	if err != nil {
		d.releaseQuota(ctx, log, p.OwnerID)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Transport is shedding load; back off rather than fail.
			return dispatchOutcome{kind: outcomeRateLimited, retryAfter: breakerOpenRetry}
		}
		return dispatchOutcome{kind: outcomeTransportFailed, err: err}
	}

	out := dispatchOutcome{kind: outcomeDelivered}
	if r, ok := res.(*mailer.Result); ok && r != nil {
		out.previewURL = r.PreviewURL
	}
	return out
}

// releaseQuota rolls back a reservation after a dispatch that never
// completed, so failures do not consume the owner's hourly budget.
func (d *Dispatcher) releaseQuota(ctx context.Context, log *slog.Logger, ownerID string) {
	if err := d.Limiter.Release(ctx, ownerID, d.now()); err != nil {
		log.Error("quota release failed", "owner_id", ownerID, "error", err)
	}
}
