package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mailshed/campaign-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(c *model.Campaign) error
	LinkQueueJob(id, queueJobID string) error
	GetByID(id string) (*model.Campaign, error)
	GetWithSender(id string) (*model.CampaignWithSender, error)
	ListByOwner(ownerID string) ([]model.Campaign, error)
	ListInbox(recipient string, now time.Time) ([]model.CampaignWithSender, error)

	// Terminal transitions. Both are guarded so a redelivered job can
	// never mutate a record that already reached COMPLETED or FAILED.
	MarkCompleted(id string, sentAt time.Time, previewURL string) error
	MarkFailed(id string) error
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, owner_id, recipient, subject, body, attachments, status,
	scheduled_at, sent_at, queue_job_id, preview_url, max_per_hour, min_interval_ms,
	created_at, updated_at`

func (r *CampaignRepository) Create(c *model.Campaign) error {
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = model.StatusPending
	}

	var attachments []byte
	if len(c.Attachments) > 0 {
		b, err := json.Marshal(c.Attachments)
		if err != nil {
			return fmt.Errorf("encode attachments: %w", err)
		}
		attachments = b
	}

	query := `
		INSERT INTO campaigns
			(id, owner_id, recipient, subject, body, attachments, status,
			 scheduled_at, max_per_hour, min_interval_ms, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.DB.Exec(query,
		c.ID, c.OwnerID, c.Recipient, c.Subject, c.Body, attachments, c.Status,
		c.ScheduledAt, c.MaxPerHour, c.MinIntervalMS, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// LinkQueueJob stores the queue handle assigned at enqueue time.
func (r *CampaignRepository) LinkQueueJob(id, queueJobID string) error {
	query := `UPDATE campaigns SET queue_job_id=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.Exec(query, queueJobID, id)
	return err
}

func (r *CampaignRepository) GetByID(id string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) GetWithSender(id string) (*model.CampaignWithSender, error) {
	query := `
		SELECT c.id, c.owner_id, c.recipient, c.subject, c.body, c.attachments, c.status,
		       c.scheduled_at, c.sent_at, c.queue_job_id, c.preview_url,
		       c.max_per_hour, c.min_interval_ms, c.created_at, c.updated_at,
		       u.name, u.email, u.avatar
		FROM campaigns c
		LEFT JOIN users u ON u.id = c.owner_id
		WHERE c.id = $1
	`
	row, err := scanCampaignWithSender(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row, nil
}

// ListByOwner returns an owner's campaigns, most recently scheduled first.
func (r *CampaignRepository) ListByOwner(ownerID string) ([]model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
		WHERE owner_id=$1 ORDER BY scheduled_at DESC`
	rows, err := r.DB.Query(query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// ListInbox returns messages addressed to recipient (case-insensitive)
// that are either COMPLETED or still pending past their scheduled time,
// newest send first.
func (r *CampaignRepository) ListInbox(recipient string, now time.Time) ([]model.CampaignWithSender, error) {
	query := `
		SELECT c.id, c.owner_id, c.recipient, c.subject, c.body, c.attachments, c.status,
		       c.scheduled_at, c.sent_at, c.queue_job_id, c.preview_url,
		       c.max_per_hour, c.min_interval_ms, c.created_at, c.updated_at,
		       u.name, u.email, u.avatar
		FROM campaigns c
		LEFT JOIN users u ON u.id = c.owner_id
		WHERE LOWER(c.recipient) = LOWER($1)
		  AND (c.status = 'COMPLETED'
		       OR (c.status IN ('PENDING', 'DELAYED') AND c.scheduled_at <= $2))
		ORDER BY c.sent_at DESC NULLS LAST
	`
	rows, err := r.DB.Query(query, recipient, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []model.CampaignWithSender{}
	for rows.Next() {
		m, err := scanCampaignWithSender(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

func (r *CampaignRepository) MarkCompleted(id string, sentAt time.Time, previewURL string) error {
	query := `
		UPDATE campaigns
		SET status='COMPLETED', sent_at=$2, preview_url=NULLIF($3, ''), updated_at=NOW()
		WHERE id=$1 AND status NOT IN ('COMPLETED', 'FAILED')
	`
	_, err := r.DB.Exec(query, id, sentAt, previewURL)
	return err
}

func (r *CampaignRepository) MarkFailed(id string) error {
	query := `
		UPDATE campaigns
		SET status='FAILED', updated_at=NOW()
		WHERE id=$1 AND status NOT IN ('COMPLETED', 'FAILED')
	`
	_, err := r.DB.Exec(query, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	var attachments []byte
	err := row.Scan(
		&c.ID, &c.OwnerID, &c.Recipient, &c.Subject, &c.Body, &attachments, &c.Status,
		&c.ScheduledAt, &c.SentAt, &c.QueueJobID, &c.PreviewURL,
		&c.MaxPerHour, &c.MinIntervalMS, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &c.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments: %w", err)
		}
	}
	return &c, nil
}

func scanCampaignWithSender(row rowScanner) (*model.CampaignWithSender, error) {
	var m model.CampaignWithSender
	var attachments []byte
	var name, email, avatar sql.NullString
	err := row.Scan(
		&m.ID, &m.OwnerID, &m.Recipient, &m.Subject, &m.Body, &attachments, &m.Status,
		&m.ScheduledAt, &m.SentAt, &m.QueueJobID, &m.PreviewURL,
		&m.MaxPerHour, &m.MinIntervalMS, &m.CreatedAt, &m.UpdatedAt,
		&name, &email, &avatar,
	)
	if err != nil {
		return nil, err
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments: %w", err)
		}
	}
	if name.Valid || email.Valid {
		m.Sender = &model.Sender{Name: name.String, Email: email.String, Avatar: avatar.String}
	}
	return &m, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
