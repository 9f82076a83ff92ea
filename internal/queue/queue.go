package queue

import (
	"context"
	"errors"
	"time"

	"github.com/mailshed/campaign-backend/internal/model"
)

// ErrClosed is returned by Claim once the queue has shut down.
var ErrClosed = errors.New("queue closed")

// Payload is the message data carried by a scheduled delivery job.
type Payload struct {
	CampaignID    string             `json:"campaign_id"`
	OwnerID       string             `json:"owner_id"`
	ToAddress     string             `json:"to_address"`
	Subject       string             `json:"subject"`
	Body          string             `json:"body"`
	Attachments   []model.Attachment `json:"attachments,omitempty"`
	MaxPerHour    int                `json:"max_per_hour,omitempty"`
	MinIntervalMS int                `json:"min_interval_ms,omitempty"`
}

// Job is a claimed, in-flight delivery job. A worker holds exactly one
// until it calls Ack, Fail or Reschedule.
type Job struct {
	ID      string
	Attempt int
	Payload Payload
}

// DelayQueue is a persistent, at-least-once work queue that releases a
// job no earlier than its requested delay. Enqueue is idempotent with
// respect to the job id: a second enqueue with the same id never
// produces a second delivery.
type DelayQueue interface {
	// Enqueue schedules payload for release no earlier than now+delay
	// and returns the queue's handle for the job.
	Enqueue(ctx context.Context, id string, p Payload, delay time.Duration) (string, error)

	// Claim blocks until a due job is available or ctx is done.
	Claim(ctx context.Context) (*Job, error)

	// Ack drops a finished job.
	Ack(ctx context.Context, job *Job) error

	// Fail reports a terminal processing failure. The queue's own retry
	// policy (if configured) decides whether the job is redelivered;
	// otherwise it is dropped.
	Fail(ctx context.Context, job *Job) error

	// Reschedule moves an in-flight job back into the delayed state
	// without losing its payload or identity.
	Reschedule(ctx context.Context, job *Job, delay time.Duration) error

	Close() error
}
