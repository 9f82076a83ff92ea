// cmd/worker/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mailshed/campaign-backend/internal/config"
	"github.com/mailshed/campaign-backend/internal/db"
	"github.com/mailshed/campaign-backend/internal/mailer"
	"github.com/mailshed/campaign-backend/internal/queue"
	"github.com/mailshed/campaign-backend/internal/ratelimit"
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

	delayQueue := queue.NewRedis(redisClient, queue.RedisOptions{
		PollInterval: cfg.QueuePollInterval,
		MaxAttempts:  cfg.QueueMaxAttempts,
		RetryBackoff: cfg.QueueRetryBackoff,
		RunPromoter:  true,
	}, logger)
	defer delayQueue.Close()

	outbound, err := buildMailer(cfg, logger)
	if err != nil {
		logger.Error("mailer setup failed", "driver", cfg.MailerDriver, "error", err)
		os.Exit(1)
	}

	dispatcher := &service.Dispatcher{
		Store:   &repository.CampaignRepository{DB: conn},
		Users:   &repository.UserRepository{DB: conn},
		Queue:   delayQueue,
		Limiter: ratelimit.NewHourlyLimiter(&ratelimit.RedisStore{Client: redisClient}),
		Mailer:  outbound,
		Config: service.DispatcherConfig{
			Workers:           cfg.WorkerCount,
			DefaultMaxPerHour: cfg.MaxPerHour,
			MinPause:          cfg.MinPause,
			DispatchPerSecond: cfg.DispatchPerSecond,
			SenderName:        cfg.SenderName,
			SenderEmail:       cfg.SenderEmail,
		},
		Log: logger,
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("worker running", "concurrency", cfg.WorkerCount)
	if err := dispatcher.Run(ctx); err != nil {
		logger.Error("dispatcher stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("worker shut down")
}

func buildMailer(cfg config.Config, logger *slog.Logger) (mailer.Mailer, error) {
	switch cfg.MailerDriver {
	case "smtp":
		return mailer.NewSMTPMailer(cfg.SMTPAddr, logger), nil
	case "amqp":
		return mailer.NewAMQPMailer(cfg.AMQPURL, "outbound_emails", logger)
	case "mock":
		return &mailer.Mock{}, nil
	default:
		return nil, fmt.Errorf("unknown mailer driver %q", cfg.MailerDriver)
	}
}
