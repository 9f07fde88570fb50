package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/crmbus/crmbus/libs/config"
	"github.com/crmbus/crmbus/libs/db"
	"github.com/crmbus/crmbus/libs/httpx"
	"github.com/crmbus/crmbus/libs/kafkax"
	otelx "github.com/crmbus/crmbus/libs/otel"
	"github.com/crmbus/crmbus/libs/outbox"
	"github.com/crmbus/crmbus/libs/runtime"
	"github.com/crmbus/crmbus/services/contacts-service/internal/handlers"
	"github.com/crmbus/crmbus/services/contacts-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "contacts-service")
	port, err := config.Port("PORT", "8081")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	outboxStore := outbox.NewPGStore(pool, outbox.PGStoreConfig{
		MaxAttempts: config.Int("OUTBOX_MAX_ATTEMPTS", 5),
		Lease:       time.Duration(config.Int("OUTBOX_LEASE_SECONDS", 300)) * time.Second,
	})

	brokers, err := config.RequiredString("KAFKA_BROKERS")
	if err != nil {
		panic(err)
	}
	publisher := outbox.NewKafkaPublisher(outbox.KafkaPublisherConfig{
		Brokers:       brokers,
		SourceService: service,
		DefaultTopic:  config.String("KAFKA_CONTACT_TOPIC", "contacts.contact-events"),
		WriteTimeout:  time.Duration(config.Int("KAFKA_WRITE_TIMEOUT_SECONDS", 10)) * time.Second,
		AckAll:        config.Bool("KAFKA_ACK_ALL", true),
	})

	processor := outbox.NewProcessor(outboxStore, publisher, logger, outbox.ProcessorConfig{
		PollInterval: time.Duration(config.Int("OUTBOX_POLL_SECONDS", 30)) * time.Second,
		ErrorBackoff: time.Duration(config.Int("OUTBOX_ERROR_BACKOFF_SECONDS", 60)) * time.Second,
		CleanupEvery: time.Duration(config.Int("OUTBOX_CLEANUP_HOURS", 1)) * time.Hour,
		Retention:    time.Duration(config.Int("OUTBOX_RETENTION_DAYS", 7)) * 24 * time.Hour,
		BatchSize:    config.Int("OUTBOX_BATCH_SIZE", 50),
		Retry: outbox.RetryPolicy{
			Base: time.Duration(config.Int("OUTBOX_BACKOFF_BASE_MS", 500)) * time.Millisecond,
			Cap:  time.Duration(config.Int("OUTBOX_BACKOFF_CAP_MS", 300000)) * time.Millisecond,
		},
	})
	processorDone := make(chan struct{})
	go func() {
		defer close(processorDone)
		processor.Run(ctx)
	}()

	repo := storage.NewRepository(pool, outboxStore)
	contactHandler := handlers.New(repo)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/contacts", contactHandler.Collection)
	mux.HandleFunc("/api/v1/contacts/", contactHandler.Item)

	var rateLimit httpx.Middleware
	if redisURL := config.String("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "err", err)
			panic(err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		limiter := httpx.NewRedisRateLimiter(rdb, config.Int("RATE_LIMIT", 120), time.Minute, service)
		rateLimit = limiter.Middleware(logger, true)
	} else {
		rateLimit = httpx.NewRateLimiter(config.Int("RATE_LIMIT", 120), time.Minute).Middleware()
	}

	handler := httpx.Chain(mux,
		httpx.WithCorrelationID,
		httpx.WithAccessLog(logger),
		rateLimit,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS"),
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "X-Correlation-Id"},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(1<<20),
	)
	handler = otelhttp.NewHandler(handler, service)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}

	// The processor drains before the writer is flushed and closed, so no
	// acknowledged message goes unmarked.
	<-processorDone
	if err := publisher.Close(); err != nil {
		logger.Error("kafka writer close error", "err", err)
	}
	logger.Info("contacts service stopped")
}
