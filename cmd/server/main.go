package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"basket-shop/config"
	"basket-shop/internal/api"
	"basket-shop/internal/auth"
	"basket-shop/internal/broker"
	"basket-shop/internal/cart"
	"basket-shop/internal/catalog"
	"basket-shop/internal/checkout"
	"basket-shop/internal/notify"
	"basket-shop/internal/redisclient"
	"basket-shop/internal/service"
	"basket-shop/internal/session"
	"basket-shop/internal/store"
	"basket-shop/internal/util"
	"basket-shop/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting basket shop")

	tp, err := util.InitTracer(util.TracingOptions{
		ServiceName: "basket-shop",
		Environment: cfg.Server.Env,
		Endpoint:    cfg.Observ.JaegerEndpoint,
		SampleRatio: cfg.Observ.SampleRatio,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.MigrateOnBoot {
		if err := db.Migrate(); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		logger.Info("Migrations applied")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	carts := cart.NewManager(session.NewRedisBackend(redisClient, cfg.Session.TTL), cart.MetricsObserver)
	catalogService := catalog.NewService(db, redisClient, cfg.Session.CatalogTTL)
	coordinator := checkout.NewCoordinator(carts, db, db, eventPublisher)
	profileService := service.NewProfileService(db, coordinator)
	orderService := service.NewOrderService(db, eventPublisher)

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

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(consumer, dispatcher, cfg.Dispatcher.BatchSize, cfg.Dispatcher.SweepInterval)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Notification worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Dependencies{
		Catalog:    catalogService,
		Carts:      carts,
		Checkout:   coordinator,
		Profiles:   profileService,
		Orders:     orderService,
		Dispatcher: dispatcher,
		Verifier:   auth.NewVerifier(cfg.Auth.JWTSecret),
		Probes: map[string]api.Probe{
			"postgres": db,
			"redis":    redisClient,
		},
	}, api.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SessionCookie:  cfg.Session.CookieName,
		SessionHeader:  cfg.Session.HeaderName,
		SessionTTL:     cfg.Session.TTL,
		SecureCookie:   cfg.Session.SecureCookie,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := notificationWorker.Stop(); err != nil {
		logger.Error("Error stopping notification worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
