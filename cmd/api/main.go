// cmd/api/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/storefront-backend/internal/config"
	"github.com/your-org/storefront-backend/internal/domain/notification"
	"github.com/your-org/storefront-backend/internal/infrastructure/database/postgres"
	"github.com/your-org/storefront-backend/internal/infrastructure/database/redis"
	httpserver "github.com/your-org/storefront-backend/internal/interfaces/http"
	"github.com/your-org/storefront-backend/internal/pkg/logger"
	"github.com/your-org/storefront-backend/internal/pkg/messaging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	log := logger.New(cfg.Logging)

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	db, err := postgres.NewConnection(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}

	migration := postgres.NewMigration(db, log)
	if err := migration.RunAutoMigrations(); err != nil {
		log.WithError(err).Fatal("failed to run migrations")
	}

	redisClient, err := redis.NewConnection(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to Redis")
	}
	defer redisClient.Close()

	// Outbox dispatcher
	workerCtx, stopWorker := context.WithCancel(context.Background())
	sender := messaging.NewClient(cfg.Messaging)
	worker := notification.NewWorker(db, sender, log,
		cfg.Messaging.PollInterval, cfg.Messaging.MaxAttempts)
	go worker.Run(workerCtx)

	server := httpserver.NewServer(cfg, db, redisClient.Redis, log)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			log.WithError(err).Fatal("HTTP server failed")
		}
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutdown signal received")
	}

	stopWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}
