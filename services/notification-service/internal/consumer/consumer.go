package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/crmbus/crmbus/libs/kafkax"
	"github.com/crmbus/crmbus/services/notification-service/internal/inbox"
)

type Handler func(ctx context.Context, meta kafkax.EventMeta, msg kafka.Message) error

// Consumer reads contact events, re-roots the correlation id from the
// message headers, and dedups by event id: a Redis SETNX fast path first,
// then the Postgres inbox as the durable source of truth.
type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	inbox   *inbox.Repository
	dedup   *redis.Client // optional
	handler Handler
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
}

const dedupTTL = 24 * time.Hour

func New(logger *slog.Logger, inboxRepo *inbox.Repository, dedup *redis.Client, cfg Config, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{
		reader:  reader,
		logger:  logger,
		inbox:   inboxRepo,
		dedup:   dedup,
		handler: handler,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}
		c.handleMessage(ctx, msg)
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg kafka.Message) {
	msgCtx := kafkax.ExtractTraceContext(ctx, msg)
	msgCtx, corrID := kafkax.ContextWithCorrelation(msgCtx, msg)

	spanCtx, span := otel.Tracer("kafka").Start(msgCtx, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)
	logger := c.logger.With(
		"event_id", meta.EventID,
		"event_type", meta.EventType,
		"correlation_id", corrID,
	)

	if c.seenInRedis(spanCtx, meta.EventID, logger) {
		logger.Info("duplicate event ignored (redis)")
		return
	}

	fresh, err := c.inbox.Record(spanCtx, meta.EventID, meta.EventType, corrID)
	if err != nil {
		logger.Error("inbox record failed", "err", err)
		span.RecordError(err)
		return
	}
	if !fresh {
		logger.Info("duplicate event ignored")
		return
	}

	if err := c.handler(spanCtx, meta, msg); err != nil {
		logger.Error("handler error", "err", err)
		span.RecordError(err)
		return
	}
	logger.Info("event handled")
}

// seenInRedis is best-effort: any Redis failure falls through to the
// Postgres inbox, which remains the correctness boundary.
func (c *Consumer) seenInRedis(ctx context.Context, eventID string, logger *slog.Logger) bool {
	if c.dedup == nil || eventID == "" {
		return false
	}
	set, err := c.dedup.SetNX(ctx, "notif:dedup:"+eventID, 1, dedupTTL).Result()
	if err != nil {
		logger.Warn("redis dedup unavailable", "err", err)
		return false
	}
	return !set
}
