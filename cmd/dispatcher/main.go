// Command dispatcher runs one notification batch and exits. It is meant to be
// scheduled (cron, Kubernetes CronJob) next to the long-running server.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"basket-shop/config"
	"basket-shop/internal/notify"
	"basket-shop/internal/redisclient"
	"basket-shop/internal/store"
	"basket-shop/internal/util"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	email := notify.NewResendClient(notify.ResendConfig{
		APIKey:  cfg.Email.APIKey,
		BaseURL: cfg.Email.BaseURL,
		Sender:  cfg.Email.Sender,
		Timeout: cfg.Email.Timeout,
	})
	dispatcher := notify.NewDispatcher(db, redisClient, email, nil, notify.Config{
		BatchSize:   cfg.Dispatcher.BatchSize,
		MaxAttempts: cfg.Dispatcher.MaxAttempts,
		LockTTL:     cfg.Dispatcher.LockTTL,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Dispatcher.LockTTL)
	defer cancel()

	start := time.Now()
	result, err := dispatcher.Run(ctx)
	if errors.Is(err, notify.ErrAlreadyRunning) {
		logger.Info("Another dispatch run is in progress")
		return
	}
	if err != nil {
		logger.Error("Notification dispatch failed", zap.Error(err))
		util.SyncLogger()
		os.Exit(1)
	}

	logger.Info("Notifications processed successfully",
		zap.Int("fetched", result.Fetched),
		zap.Int("delivered", result.Delivered),
		zap.Int("failed", result.Failed),
		zap.Int("dead_lettered", result.DeadLettered),
		zap.Duration("elapsed", time.Since(start)))
}
