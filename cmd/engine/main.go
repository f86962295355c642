package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/projectpulse/beacon/internal/api"
	"github.com/projectpulse/beacon/internal/circuitbreaker"
	"github.com/projectpulse/beacon/internal/config"
	"github.com/projectpulse/beacon/internal/db"
	"github.com/projectpulse/beacon/internal/dispatch"
	"github.com/projectpulse/beacon/internal/engine"
	"github.com/projectpulse/beacon/internal/janitor"
	"github.com/projectpulse/beacon/internal/metrics"
	"github.com/projectpulse/beacon/internal/observ"
	"github.com/projectpulse/beacon/internal/prefs"
	"github.com/projectpulse/beacon/internal/redis"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting beacon engine",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	ctx := context.Background()

	// Durable mirror is optional. Without it the engine serves from memory
	// only and state is lost on restart.
	var history engine.History
	var backing prefs.Backing
	if cfg.DBHost != "" {
		database, err := db.New(ctx, db.Config{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Database: cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()

		logger.Info("database connection established",
			zap.String("host", cfg.DBHost),
			zap.Int("port", cfg.DBPort),
			zap.String("database", cfg.DBName),
		)

		repo := db.NewRepository(database, logger)
		history = repo
		backing = repo
	} else {
		logger.Warn("no database configured, running memory-only")
	}

	// Redis backs idempotent creation and per-recipient rate limiting.
	var idempotencyService *redis.IdempotencyService
	var rateLimiter *redis.RateLimiter
	if cfg.RedisHost != "" {
		redisClient, err := redis.New(ctx, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, idempotency and rate limiting disabled",
				zap.Error(err),
				zap.String("host", cfg.RedisHost),
			)
		} else {
			idempotencyService = redis.NewIdempotencyService(redisClient, logger)
			rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
				Limit:  cfg.RateLimitMax,
				Window: cfg.RateLimitWindow,
			})
			defer redisClient.Close()
		}
	}

	sender, err := buildSender(ctx, cfg, logger)
	if err != nil {
		return err
	}

	dispatcher := dispatch.New(sender, logger)
	prefsStore := prefs.NewStore(backing, logger)

	eng := engine.New(prefsStore, dispatcher, history, engine.Config{
		FeedBuffer: cfg.FeedBuffer,
	}, logger)
	defer eng.Close()

	// Retention sweeps run for the life of the process.
	jan := janitor.New(eng, janitor.Config{
		SweepInterval: cfg.JanitorInterval,
	}, logger)

	janitorCtx, janitorCancel := context.WithCancel(context.Background())
	defer janitorCancel()
	go jan.Start(janitorCtx)

	logger.Info("janitor started",
		zap.Duration("sweep_interval", cfg.JanitorInterval),
	)

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	var handler *api.Handler
	if idempotencyService != nil {
		handler = api.NewHandlerWithIdempotency(logger, eng, prefsStore, idempotencyService)
	} else {
		handler = api.NewHandler(logger, eng, prefsStore)
	}

	r.Group(func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.RecipientKeyFunc))
		handler.Routes(r)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// The feed stream holds connections open, so no blanket write timeout.
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		janitorCancel()

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// buildSender assembles the secondary-channel delivery stack. When an SQS
// relay queue is configured all secondary channels are enqueued for the
// external delivery worker; otherwise SES and SNS are called directly.
// Each provider sits behind its own circuit breaker. Outside production,
// deliveries fall back to log lines when no provider is configured.
func buildSender(ctx context.Context, cfg *config.Config, logger *zap.Logger) (dispatch.Sender, error) {
	directory := &dispatch.StaticDirectory{
		Emails: cfg.RecipientEmails,
		Phones: cfg.RecipientPhones,
	}

	if cfg.SQSQueueURL != "" {
		relay, err := dispatch.NewSQSRelay(ctx, dispatch.SQSConfig{
			Region:   cfg.AWSRegion,
			QueueURL: cfg.SQSQueueURL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQS delivery relay: %w", err)
		}
		logger.Info("delivery relay enabled", zap.String("queue_url", cfg.SQSQueueURL))
		return circuitbreaker.NewProtectedSender(relay,
			circuitbreaker.New(circuitbreaker.DefaultConfig("sqs-relay"), logger), logger), nil
	}

	var senders []dispatch.Sender

	sesSender, err := dispatch.NewSESSender(ctx, dispatch.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, directory, logger)
	if err != nil {
		logger.Warn("SES sender unavailable, email deliveries disabled", zap.Error(err))
	} else {
		senders = append(senders, circuitbreaker.NewProtectedSender(sesSender,
			circuitbreaker.New(circuitbreaker.DefaultConfig("ses"), logger), logger))
	}

	snsSender, err := dispatch.NewSNSSender(ctx, dispatch.SNSConfig{
		Region:       cfg.AWSRegion,
		PushTopicARN: cfg.SNSPushTopicARN,
	}, directory, logger)
	if err != nil {
		logger.Warn("SNS sender unavailable, push and SMS deliveries disabled", zap.Error(err))
	} else {
		senders = append(senders, circuitbreaker.NewProtectedSender(snsSender,
			circuitbreaker.New(circuitbreaker.DefaultConfig("sns"), logger), logger))
	}

	if len(senders) == 0 {
		if cfg.Env == "production" {
			return nil, fmt.Errorf("no delivery provider configured")
		}
		logger.Warn("no delivery provider configured, logging deliveries instead")
		return dispatch.NewLogSender(logger), nil
	}

	logger.Info("delivery providers initialized",
		zap.Int("providers", len(senders)),
	)

	return dispatch.NewMultiSender(logger, senders...), nil
}
