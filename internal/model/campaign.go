// internal/model/campaign.go
package model

import "time"

// CampaignStatus is the lifecycle state of a scheduled message.
type CampaignStatus string

const (
	StatusPending   CampaignStatus = "PENDING"
	StatusDelayed   CampaignStatus = "DELAYED"
	StatusCompleted CampaignStatus = "COMPLETED"
	StatusFailed    CampaignStatus = "FAILED"
)

// Terminal reports whether no further transitions are permitted.
func (s CampaignStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Attachment is one file carried by a campaign. Content is base64.
type Attachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"`
}

// Campaign is one scheduled outbound message and its lifecycle record.
// The id doubles as the delay queue's dedup key.
type Campaign struct {
	ID            string         `db:"id" json:"id"`
	OwnerID       string         `db:"owner_id" json:"ownerId"`
	Recipient     string         `db:"recipient" json:"recipient"`
	Subject       string         `db:"subject" json:"subject"`
	Body          string         `db:"body" json:"body"`
	Attachments   []Attachment   `db:"attachments" json:"attachments,omitempty"`
	Status        CampaignStatus `db:"status" json:"status"`
	ScheduledAt   time.Time      `db:"scheduled_at" json:"scheduledAt"`
	SentAt        *time.Time     `db:"sent_at" json:"sentAt,omitempty"`
	QueueJobID    *string        `db:"queue_job_id" json:"queueJobId,omitempty"`
	PreviewURL    *string        `db:"preview_url" json:"previewUrl,omitempty"`
	MaxPerHour    *int           `db:"max_per_hour" json:"maxPerHour,omitempty"`
	MinIntervalMS *int           `db:"min_interval_ms" json:"minInterval,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updatedAt"`
}

// Sender carries the display fields joined from the owning user.
type Sender struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar,omitempty"`
}

// CampaignWithSender is a campaign plus its owner's display fields,
// used by the details and inbox views.
type CampaignWithSender struct {
	Campaign
	Sender *Sender `json:"user,omitempty"`
}
