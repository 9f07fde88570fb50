package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/crmbus/crmbus/libs/config"
	"github.com/crmbus/crmbus/libs/db"
	"github.com/crmbus/crmbus/libs/httpx"
	"github.com/crmbus/crmbus/libs/kafkax"
	otelx "github.com/crmbus/crmbus/libs/otel"
	"github.com/crmbus/crmbus/libs/outbox"
	"github.com/crmbus/crmbus/libs/runtime"
	"github.com/crmbus/crmbus/services/reports-service/internal/consumer"
	"github.com/crmbus/crmbus/services/reports-service/internal/inbox"
	"github.com/crmbus/crmbus/services/reports-service/internal/reports"
)

func main() {
	service := config.String("SERVICE_NAME", "reports-service")
	port, err := config.Port("PORT", "8083")
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

	reportRepo := reports.NewRepository(pool)
	inboxRepo := inbox.NewRepository(pool)

	handler := func(ctx context.Context, meta kafkax.EventMeta, msg kafka.Message) error {
		if !isContactEvent(meta.EventType) {
			return nil
		}
		var env outbox.Envelope
		occurredAt := time.Now().UTC()
		if err := json.Unmarshal(msg.Value, &env); err == nil && !env.Timestamp.IsZero() {
			occurredAt = env.Timestamp
		}
		return reportRepo.Apply(ctx, meta.EventType, occurredAt)
	}

	brokers := config.String("KAFKA_BROKERS", "")
	eventConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: brokers,
		GroupID: config.String("KAFKA_GROUP_ID", "reports-service"),
		Topic:   config.String("KAFKA_CONTACT_TOPIC", "contacts.contact-events"),
	}, handler)
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/reports/contact-activity", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		days := config.Int("REPORT_WINDOW_DAYS", 30)
		since := time.Now().UTC().AddDate(0, 0, -days)
		rows, err := reportRepo.Activity(r.Context(), since)
		if err != nil {
			http.Error(w, "failed to load report", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"activity": rows})
	})

	httpHandler := httpx.Chain(mux,
		httpx.WithCorrelationID,
		httpx.WithAccessLog(logger),
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(httpHandler, service),
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
	logger.Info("reports service stopped")
}

func isContactEvent(eventType string) bool {
	return strings.HasPrefix(eventType, "Contact")
}
