// internal/service/campaign_service.go
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/mailshed/campaign-backend/internal/errors"
	"github.com/mailshed/campaign-backend/internal/model"
	"github.com/mailshed/campaign-backend/internal/queue"
	"github.com/mailshed/campaign-backend/internal/repository"
)

// CampaignService orchestrates campaign creation and the read views.
type CampaignService struct {
	Campaigns repository.CampaignRepositoryInterface
	Queue     queue.DelayQueue
	Log       *slog.Logger

	// Now is a clock seam for tests; nil means time.Now.
	Now func() time.Time
}

// CreateInput is a validated campaign creation request.
type CreateInput struct {
	ToAddress     string
	Title         string
	Content       string
	OwnerID       string
	ScheduleTime  *time.Time
	MaxPerHour    *int
	MinIntervalMS *int
	Files         []model.Attachment
}

// CreateResult is returned to the API caller after scheduling.
type CreateResult struct {
	TaskID  string `json:"taskId"`
	QueueID string `json:"queueId"`
	Status  string `json:"status"`
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *CampaignService) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// Create persists the campaign record, enqueues the delivery job with
// the record id as dedup key, and links the queue handle back. A
// persistence failure fails the call before anything is enqueued; an
// enqueue failure surfaces an error while the record stays queryable.
func (s *CampaignService) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	now := s.now()
	target := now
	var delay time.Duration
	if in.ScheduleTime != nil {
		target = *in.ScheduleTime
		if d := target.Sub(now); d > 0 {
			delay = d
		}
	}

	status := model.StatusPending
	if delay > 0 {
		status = model.StatusDelayed
	}

	c := &model.Campaign{
		ID:            uuid.NewString(),
		OwnerID:       in.OwnerID,
		Recipient:     in.ToAddress,
		Subject:       in.Title,
		Body:          in.Content,
		Attachments:   in.Files,
		Status:        status,
		ScheduledAt:   target,
		MaxPerHour:    in.MaxPerHour,
		MinIntervalMS: in.MinIntervalMS,
	}
	if err := s.Campaigns.Create(c); err != nil {
		s.logger().Error("campaign persistence failed", "owner_id", in.OwnerID, "error", err)
		return nil, apperrors.New(500, "failed to create campaign")
	}

	p := queue.Payload{
		CampaignID:  c.ID,
		OwnerID:     c.OwnerID,
		ToAddress:   c.Recipient,
		Subject:     c.Subject,
		Body:        c.Body,
		Attachments: c.Attachments,
	}
	if in.MaxPerHour != nil {
		p.MaxPerHour = *in.MaxPerHour
	}
	if in.MinIntervalMS != nil {
		p.MinIntervalMS = *in.MinIntervalMS
	}

	queueID, err := s.Queue.Enqueue(ctx, c.ID, p, delay)
	if err != nil {
		// The record was written before enqueue failed; it stays
		// queryable rather than being silently hidden.
		s.logger().Error("enqueue failed, campaign record remains without a queue job",
			"campaign_id", c.ID, "error", err)
		return nil, apperrors.New(500, "failed to schedule campaign")
	}

	if err := s.Campaigns.LinkQueueJob(c.ID, queueID); err != nil {
		// Delivery is already scheduled; losing the link is not fatal.
		s.logger().Warn("failed to link queue job id", "campaign_id", c.ID, "error", err)
	}

	return &CreateResult{TaskID: c.ID, QueueID: queueID, Status: "SCHEDULED"}, nil
}

// ListByOwner returns an owner's campaigns, newest scheduled first.
// An owner with no records gets an empty list, not an error.
func (s *CampaignService) ListByOwner(ownerID string) ([]model.Campaign, error) {
	return s.Campaigns.ListByOwner(ownerID)
}

// Details returns one campaign with the joined sender display fields.
func (s *CampaignService) Details(id string) (*model.CampaignWithSender, error) {
	c, err := s.Campaigns.GetWithSender(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperrors.NotFound("campaign task not found")
	}
	return c, nil
}

// Inbox is the simulated inbox: messages addressed to email
// (case-insensitive) that are delivered, or pending past their
// scheduled time.
func (s *CampaignService) Inbox(email string) ([]model.CampaignWithSender, error) {
	return s.Campaigns.ListInbox(strings.ToLower(email), s.now())
}
