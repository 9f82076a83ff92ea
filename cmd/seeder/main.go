// cmd/seeder/main.go
package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/mailshed/campaign-backend/internal/config"
	"github.com/mailshed/campaign-backend/internal/db"
	"github.com/mailshed/campaign-backend/internal/model"
	"github.com/mailshed/campaign-backend/internal/repository"
)

// Seeds a demo owner plus a few delivered messages so the inbox view
// has something to show.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, relying on OS environment")
	}
	cfg := config.Load()

	conn, err := db.Open(cfg)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	users := &repository.UserRepository{DB: conn}
	campaigns := &repository.CampaignRepository{DB: conn}

	owner := &model.User{
		ID:    uuid.NewString(),
		Name:  "Demo Sender",
		Email: "demo@localhost",
	}
	if err := users.Create(owner); err != nil {
		logger.Error("seed user failed", "error", err)
		os.Exit(1)
	}

	inbox := []struct {
		recipient string
		subject   string
		body      string
	}{
		{"alice@example.com", "Welcome aboard", "<p>Hi {{name}}, glad you are here.</p>"},
		{"alice@example.com", "Your weekly digest", "<p>Hi {{name}}, here is what happened.</p>"},
		{"bob@example.com", "Welcome aboard", "<p>Hi {{name}}, glad you are here.</p>"},
	}

	now := time.Now()
	for i, msg := range inbox {
		sentAt := now.Add(-time.Duration(i+1) * time.Hour)
		c := &model.Campaign{
			ID:          uuid.NewString(),
			OwnerID:     owner.ID,
			Recipient:   msg.recipient,
			Subject:     msg.subject,
			Body:        msg.body,
			Status:      model.StatusPending,
			ScheduledAt: sentAt,
		}
		if err := campaigns.Create(c); err != nil {
			logger.Error("seed campaign failed", "error", err)
			os.Exit(1)
		}
		if err := campaigns.MarkCompleted(c.ID, sentAt, ""); err != nil {
			logger.Error("seed completion failed", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("seeded demo data", "owner_id", owner.ID, "messages", len(inbox))
}
