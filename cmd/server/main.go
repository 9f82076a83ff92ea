// cmd/server/main.go
package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/mailshed/campaign-backend/internal/config"
	"github.com/mailshed/campaign-backend/internal/controller"
	"github.com/mailshed/campaign-backend/internal/db"
	"github.com/mailshed/campaign-backend/internal/queue"
	"github.com/mailshed/campaign-backend/internal/repository"
	"github.com/mailshed/campaign-backend/internal/service"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

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

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	// The server only enqueues; promotion runs in the worker.
	delayQueue := queue.NewRedis(redisClient, queue.RedisOptions{
		PollInterval: cfg.QueuePollInterval,
		MaxAttempts:  cfg.QueueMaxAttempts,
		RetryBackoff: cfg.QueueRetryBackoff,
	}, logger)
	defer delayQueue.Close()

	campaignRepo := &repository.CampaignRepository{DB: conn}

	campaignService := &service.CampaignService{
		Campaigns: campaignRepo,
		Queue:     delayQueue,
		Log:       logger,
	}
	campaignController := controller.NewCampaignController(campaignService, logger)

	r := chi.NewRouter()
	r.Post("/campaigns", campaignController.Schedule)
	r.Get("/campaigns/{userId}", campaignController.ListUserCampaigns)
	r.Get("/campaigns/job/{id}", campaignController.GetDetails)
	r.Get("/campaigns/inbox/{email}", campaignController.GetInbox)

	logger.Info("server listening", "port", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
