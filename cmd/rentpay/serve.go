package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rentpay/internal/app/credentials"
	"rentpay/internal/app/payments"
	"rentpay/internal/app/transactions"
	"rentpay/internal/config"
	"rentpay/internal/gateway/mpesa"
	credentials_http "rentpay/internal/handler/http/credentials"
	payments_http "rentpay/internal/handler/http/payments"
	kafka_handler "rentpay/internal/handler/kafka"
	"rentpay/internal/infrastructure/database"
	kafka_infra "rentpay/internal/infrastructure/kafka"
	"rentpay/internal/outbox"
	"rentpay/internal/repository/callbacks_repo"
	"rentpay/internal/repository/credentials_repo"
	"rentpay/internal/repository/outbox_repo"
	"rentpay/internal/repository/transactions_repo"
	"rentpay/internal/sweeper"
	"rentpay/internal/tokencache"
	"rentpay/internal/validation"
)

func serveCmd() *cobra.Command {
	var skipMigrations bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, callback receiver, outbox relay and timeout sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, db, err := bootstrap(10)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer closeDB(db, logger)

			logger.Info("Rent payment service starting...", zap.String("version", Version))

			if !skipMigrations {
				if err := database.RunMigrations(db, logger); err != nil {
					return err
				}
			}

			topicsCtx, cancelTopics := context.WithTimeout(context.Background(), 10*time.Second)
			err = kafka_infra.EnsureTopics(topicsCtx, cfg.GetKafkaBrokers(), []string{
				cfg.KafkaPaymentStatusTopic,
				cfg.KafkaPaymentRequestsTopic,
			}, logger)
			cancelTopics()
			if err != nil {
				return fmt.Errorf("failed to ensure kafka topics: %w", err)
			}

			tokenStore, closeStore, err := newTokenStore(cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			return serve(cmd.Context(), cfg, db, tokenStore, logger)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply schema migrations on startup")
	return cmd
}

// newTokenStore picks the shared Redis cache when REDIS_URL is set so that
// replicas reuse each other's tokens, and falls back to process memory.
func newTokenStore(cfg *config.Config, logger *zap.Logger) (tokencache.Store, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info("Caching gateway tokens in process memory")
		return tokencache.NewMemory(), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	logger.Info("Caching gateway tokens in redis", zap.String("addr", opts.Addr))

	return tokencache.NewRedis(client), func() {
		if err := client.Close(); err != nil {
			logger.Error("Error closing redis client", zap.Error(err))
		}
	}, nil
}

func serve(parent context.Context, cfg *config.Config, db *sql.DB, tokenStore tokencache.Store, logger *zap.Logger) error {
	validator := validation.New()

	credentialRepository := credentials_repo.NewCredentialRepository()
	transactionRepository := transactions_repo.NewTransactionRepository()
	callbackRepository := callbacks_repo.NewCallbackRepository()
	outboxRepository := outbox_repo.NewOutboxRepository()

	vault := credentials.NewVault(
		db,
		credentialRepository,
		validator,
		logger.With(zap.String("component", "CredentialVault")),
	)

	gatewayClient := mpesa.NewClient(mpesa.Config{
		SandboxURL:    cfg.Gateway.SandboxURL,
		ProductionURL: cfg.Gateway.ProductionURL,
		CallbackURL:   cfg.Gateway.CallbackURL,
		Location:      cfg.GatewayLocation(),
		Timeout:       cfg.Gateway.Timeout,
	}, logger.With(zap.String("component", "MpesaClient")))

	tokenProvider := mpesa.NewTokenProvider(gatewayClient, tokenStore, mpesa.TokenProviderConfig{
		TTL:     cfg.TokenTTL,
		Skew:    cfg.TokenExpirySkew,
		Timeout: cfg.Gateway.Timeout,
	}, logger.With(zap.String("component", "AccessTokenProvider")))

	stateMachine := transactions.NewStateMachine(
		db,
		transactionRepository,
		callbackRepository,
		outboxRepository,
		cfg.KafkaPaymentStatusTopic,
		logger.With(zap.String("component", "TransactionStateMachine")),
	)

	paymentService := payments.NewPaymentService(
		vault,
		tokenProvider,
		gatewayClient,
		stateMachine,
		validator,
		payments.Config{
			MaxAttempts:    cfg.Gateway.MaxAttempts,
			GatewayTimeout: cfg.Gateway.Timeout,
			PendingTimeout: cfg.PendingTimeout,
		},
		logger.With(zap.String("component", "PaymentService")),
	)
	logger.Info("Payment Service initialized")

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(2 * cfg.Gateway.Timeout))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	httpLogger := logger.With(zap.String("component", "HTTPHandler"))
	payments_http.RegisterRoutes(router, paymentService, httpLogger)
	credentials_http.RegisterRoutes(router, vault, httpLogger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	kafkaProducer := kafka_infra.NewProducer(
		cfg.GetKafkaBrokers(),
		logger.With(zap.String("component", "KafkaProducer")),
	)
	defer func() {
		if err := kafkaProducer.Close(); err != nil {
			logger.Error("Error closing Kafka producer", zap.Error(err))
		} else {
			logger.Info("Kafka producer closed")
		}
	}()

	outboxProcessor := outbox.NewProcessor(
		db,
		outboxRepository,
		kafkaProducer,
		cfg.OutboxPollInterval,
		cfg.OutboxPollTimeout,
		logger.With(zap.String("component", "OutboxProcessor")),
	)

	requestsConsumer := kafka_infra.NewConsumer(
		cfg.GetKafkaBrokers(),
		cfg.KafkaConsumerGroup,
		cfg.KafkaPaymentRequestsTopic,
		logger.With(zap.String("component", "PaymentRequestsConsumer")),
	)
	requestHandler := kafka_handler.PaymentRequestMessageHandler(
		paymentService,
		logger.With(zap.String("component", "PaymentRequestHandler")),
	)

	timeoutSweeper := sweeper.New(
		paymentService,
		cfg.SweepInterval,
		logger.With(zap.String("component", "TimeoutSweeper")),
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := timeoutSweeper.Start(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	serverErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Starting Outbox Processor...")
		outboxProcessor.Start(ctx)
		logger.Info("Outbox Processor stopped")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := requestsConsumer.Start(ctx, requestHandler); err != nil {
			logger.Error("Payment requests consumer failed", zap.Error(err))
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down application...")
	case runErr = <-serverErr:
		logger.Error("HTTP server failed", zap.Error(runErr))
		stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	} else {
		logger.Info("HTTP server gracefully shut down")
	}

	if err := requestsConsumer.Close(); err != nil {
		logger.Error("Error closing payment requests consumer", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("Background workers did not stop within the shutdown timeout")
	}

	logger.Info("Application gracefully shut down")
	return runErr
}
