package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/crmbus/crmbus/libs/config"
	"github.com/crmbus/crmbus/libs/correlation"
	"github.com/crmbus/crmbus/libs/db"
	"github.com/crmbus/crmbus/libs/httpx"
	"github.com/crmbus/crmbus/libs/kafkax"
	otelx "github.com/crmbus/crmbus/libs/otel"
	"github.com/crmbus/crmbus/libs/outbox"
	"github.com/crmbus/crmbus/libs/runtime"
	"github.com/crmbus/crmbus/services/notification-service/internal/consumer"
	"github.com/crmbus/crmbus/services/notification-service/internal/email"
	"github.com/crmbus/crmbus/services/notification-service/internal/inbox"
	"github.com/crmbus/crmbus/services/notification-service/internal/storage"
)

type contactData struct {
	ContactID string `json:"contactId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8082")
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

	var dedup *redis.Client
	if redisURL := config.String("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "err", err)
			panic(err)
		}
		dedup = redis.NewClient(opts)
		defer dedup.Close()
	}

	var sender email.Sender
	if smtpHost := config.String("SMTP_HOST", ""); smtpHost != "" {
		sender = email.NewSMTPSender(smtpHost, config.String("SMTP_PORT", "1025"), config.String("SMTP_FROM", ""))
	} else {
		logger.Warn("SMTP_HOST not set, email delivery disabled")
		sender = email.NewNoopSender()
	}

	opsRecipient := config.String("NOTIFY_RECIPIENT", "crm-team@crmbus.local")
	notifRepo := storage.NewRepository(pool)
	inboxRepo := inbox.NewRepository(pool)

	handler := func(ctx context.Context, meta kafkax.EventMeta, msg kafka.Message) error {
		var env outbox.Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			logger.Error("invalid event envelope", "err", err, "event_id", meta.EventID)
			return nil // malformed messages cannot succeed on redelivery
		}
		var data contactData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			logger.Error("invalid contact payload", "err", err, "event_id", meta.EventID)
			return nil
		}

		subject, body := composeEmail(meta.EventType, data)
		n := storage.Notification{
			EventID:       meta.EventID,
			EventType:     meta.EventType,
			ContactID:     data.ContactID,
			Recipient:     opsRecipient,
			Subject:       subject,
			CorrelationID: correlation.FromContext(ctx),
			Payload:       map[string]any{"name": data.Name, "email": data.Email, "phone": data.Phone},
			Status:        storage.StatusSent,
		}
		if err := sender.Send(opsRecipient, subject, body); err != nil {
			n.Status = storage.StatusFailed
			n.Error = err.Error()
			logger.Error("email send failed", "err", err,
				"event_id", meta.EventID, "correlation_id", n.CorrelationID)
		}
		return notifRepo.Insert(ctx, n)
	}

	brokers := config.String("KAFKA_BROKERS", "")
	eventConsumer := consumer.New(logger, inboxRepo, dedup, consumer.Config{
		Brokers: brokers,
		GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
		Topic:   config.String("KAFKA_CONTACT_TOPIC", "contacts.contact-events"),
	}, handler)
	go eventConsumer.Run(ctx)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	}
	if dedup != nil {
		readyChecks = append(readyChecks, runtime.ReadyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return dedup.Ping(ctx).Err() },
		})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.HandleFunc("/api/v1/notifications", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		items, err := notifRepo.ListRecent(r.Context(), 50)
		if err != nil {
			http.Error(w, "failed to list notifications", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"notifications": items})
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
	logger.Info("notification service stopped")
}

func composeEmail(eventType string, data contactData) (subject string, body string) {
	name := data.Name
	if name == "" {
		name = data.ContactID
	}
	switch eventType {
	case "ContactCreated":
		subject = fmt.Sprintf("New contact: %s", name)
		body = fmt.Sprintf("Contact %s (%s) was added to the CRM.", name, data.Email)
	case "ContactUpdated":
		subject = fmt.Sprintf("Contact updated: %s", name)
		body = fmt.Sprintf("Contact %s (%s) was updated.", name, data.Email)
	case "ContactDeleted":
		subject = fmt.Sprintf("Contact removed: %s", name)
		body = fmt.Sprintf("Contact %s was removed from the CRM.", name)
	default:
		subject = fmt.Sprintf("Contact event: %s", eventType)
		body = fmt.Sprintf("Received %s for contact %s.", eventType, name)
	}
	return subject, body
}
