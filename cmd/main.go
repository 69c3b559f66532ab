/**
 * @description
 * This is the main entry point for the payment-service. It initializes and
 * wires together all the components of the application: configuration, the
 * database connection, the plan catalog, the signature verifier, the gateway
 * client, the event producer, the repository, services, and the HTTP router.
 * Finally, it starts the HTTP server to listen for incoming requests.
 */
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/techwave-ventures/payment-service/internal/api"
	"github.com/techwave-ventures/payment-service/internal/app"
	"github.com/techwave-ventures/payment-service/internal/config"
	"github.com/techwave-ventures/payment-service/internal/plans"
	"github.com/techwave-ventures/payment-service/internal/signature"
	"github.com/techwave-ventures/payment-service/internal/store"
	"github.com/techwave-ventures/payment-service/pkg/rabbitmq"
	"github.com/techwave-ventures/payment-service/pkg/razorpayclient"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load application configuration from environment variables
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up channel to listen for OS signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Establish connection to the PostgreSQL database with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// IMPORTANT: Disable prepared statements to work with PgBouncer transaction pooling
	// Use simple protocol to avoid statement cache errors (SQLSTATE 42P05)
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Load the plan catalog; a configured path overrides the built-in table.
	catalog, err := plans.LoadCatalog(cfg.PlanCatalogPath)
	if err != nil {
		logger.Error("failed to load plan catalog", "error", err, "path", cfg.PlanCatalogPath)
		os.Exit(1)
	}
	logger.Info("plan catalog loaded", "plans", catalog.Len())

	// Connect to RabbitMQ for payment event fan-out; fall back to a no-op
	// producer so payment processing never depends on the broker being up.
	var producer rabbitmq.Publisher
	if eventProducer, prodErr := rabbitmq.NewEventProducer(cfg.RabbitMQURL); prodErr != nil {
		logger.Warn("rabbitmq unavailable; payment events will not be published", "error", prodErr)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		producer = eventProducer
	}
	defer producer.Close()

	// Optional Redis-backed rate limiting on order initiation.
	var limiter *app.RedisRateLimiter
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; initiation rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; initiation rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; initiation rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize application layers
	repository := store.NewPostgresRepository(dbpool)
	gateway := razorpayclient.NewClient(cfg.RazorpayAPIBaseURL, cfg.RazorpayKeyID, cfg.RazorpayKeySecret)
	verifier := signature.NewMultiVerifier(
		signature.RazorpaySecrets{KeySecret: cfg.RazorpayKeySecret, WebhookSecret: cfg.RazorpayWebhookSecret},
		signature.PhonePeSecrets{SaltKey: cfg.PhonePeSaltKey, SaltIndex: cfg.PhonePeSaltIndex},
	)
	service := app.NewService(repository, catalog, gateway, app.ServiceConfig{
		FreeTierLimit: cfg.FreeTierLimit,
		TopUpPrice:    cfg.TopUpPricePaise,
		Currency:      "INR",
		GatewayKeyID:  cfg.RazorpayKeyID,
	})
	reconciler := app.NewReconciler(repository, catalog, verifier, producer, cfg.TopUpPricePaise)
	handler := api.NewHandler(service, reconciler, limiter, cfg.InitiateRateLimitPerMinute)
	webhookHandler := api.NewWebhookHandler(reconciler)
	router := api.NewRouter(handler, webhookHandler, cfg.JWTSecret)

	// Configure and start the HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for an OS signal
	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	// Create a context with a timeout for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Attempt to gracefully shut down the server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
