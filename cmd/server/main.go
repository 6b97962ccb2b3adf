package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nekogravitycat/campsite-booking-backend/internal/app"
	"github.com/nekogravitycat/campsite-booking-backend/internal/config"
	"github.com/nekogravitycat/campsite-booking-backend/internal/db"
	"github.com/nekogravitycat/campsite-booking-backend/internal/notification"
	"github.com/nekogravitycat/campsite-booking-backend/internal/payment"
	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/lock"
	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/logger"
	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/metrics"
)

func main() {
	// For receiving Ctrl+C / SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Set(logger.NewLogger(cfg.AppEnv))
	defer logger.Sync()

	if cfg.RunMigrations {
		if err := db.Migrate(ctx, cfg.DBDSN); err != nil {
			logger.Fatal("failed to migrate database", zap.Error(err))
		}
	}

	// Connect DB
	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		logger.Fatal("failed to connect to db", zap.Error(err))
	}
	defer pool.Close()

	m := metrics.New()

	// Optional: Redis keeps the sweep to one instance at a time.
	var locks *lock.Manager
	if cfg.RedisURL != "" {
		client, err := lock.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer client.Close()
		locks = lock.NewManager(client, "campsite:lock:")
	} else {
		logger.Warn("REDIS_URL not set, lifecycle sweeps are not coordinated across instances")
	}

	// Optional: RabbitMQ for booking notifications, otherwise they are only logged.
	var notifier notification.Notifier = notification.NewLogNotifier()
	if cfg.AMQPURL != "" {
		publisher, err := notification.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Fatal("failed to connect to amqp", zap.Error(err))
		}
		defer publisher.Close()
		notifier = publisher
	}

	gateway := payment.NewStripeGateway(payment.StripeConfig{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		SuccessURL:    cfg.CheckoutSuccessURL,
		CancelURL:     cfg.CheckoutCancelURL,
		Timeout:       cfg.GatewayTimeout,
		MaxRetries:    cfg.GatewayMaxRetries,
		RetryBase:     cfg.GatewayRetryBase,
	}, m)

	container := app.NewContainer(app.Config{
		IsProduction:  cfg.IsProduction(),
		ProdOrigins:   cfg.ProdOrigins,
		DBPool:        pool,
		JWTSecret:     cfg.JWTSecret,
		Gateway:       gateway,
		Notifier:      notifier,
		Locks:         locks,
		Metrics:       m,
		Currency:      cfg.Currency,
		FeePercent:    cfg.ServiceFeePercent,
		PendingExpiry: cfg.PendingExpiry,
		SweepSchedule: cfg.SweepSchedule,
	})

	if err := container.Cron.Start(); err != nil {
		logger.Fatal("failed to start lifecycle sweeps", zap.Error(err))
	}

	// Use http.Server for graceful shutdown
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           container.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Run server in separate goroutine
	go func() {
		logger.Info("server running", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for Ctrl+C
	<-ctx.Done()
	logger.Info("shutdown signal received")

	// Create a shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	// Let a running sweep finish before the pool closes.
	container.Cron.Stop()

	logger.Info("server exited gracefully")
}
