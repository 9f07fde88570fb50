package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/crmbus/crmbus/libs/correlation"
	"github.com/crmbus/crmbus/libs/kafkax"
	otelx "github.com/crmbus/crmbus/libs/otel"
)

// Publisher turns one claimed record into exactly one broker message and
// waits for the broker acknowledgement before returning.
type Publisher interface {
	Publish(ctx context.Context, rec Record) error
	Close() error
}

type KafkaPublisherConfig struct {
	Brokers       string
	SourceService string
	// Topics routes an event type to a topic. Unrouted types go to
	// DefaultTopic.
	Topics       map[string]string
	DefaultTopic string
	WriteTimeout time.Duration
	// AckAll waits for acknowledgement from all in-sync replicas (default).
	// Disable only in tests and single-broker dev setups.
	AckAll bool
}

// KafkaPublisher owns a single kafka.Writer. The writer is synchronous: a
// nil return from Publish means the broker acknowledged the message.
type KafkaPublisher struct {
	writer        *kafka.Writer
	topics        map[string]string
	defaultTopic  string
	sourceService string
	now           func() time.Time
}

func NewKafkaPublisher(cfg KafkaPublisherConfig) *KafkaPublisher {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.DefaultTopic == "" {
		cfg.DefaultTopic = "crmbus.events"
	}
	acks := kafka.RequireAll
	if !cfg.AckAll {
		acks = kafka.RequireOne
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(kafkax.SplitBrokers(cfg.Brokers)...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: acks,
		Compression:  kafka.Snappy,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaPublisher{
		writer:        writer,
		topics:        cfg.Topics,
		defaultTopic:  cfg.DefaultTopic,
		sourceService: cfg.SourceService,
		now:           time.Now,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, rec Record) error {
	env, err := NewEnvelope(rec, p.sourceService, p.now())
	if err != nil {
		return err
	}
	body, err := env.Marshal()
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.topicFor(rec.EventType),
		Key:   []byte(rec.AggregateKey),
		Value: body,
		Headers: []kafka.Header{
			{Key: kafkax.HeaderContentType, Value: []byte("application/json")},
			{Key: kafkax.HeaderEventID, Value: []byte(env.EventID)},
			{Key: kafkax.HeaderEventType, Value: []byte(rec.EventType)},
			{Key: correlation.MessageHeader, Value: []byte(rec.CorrelationID)},
			{Key: kafkax.HeaderSourceService, Value: []byte(p.sourceService)},
		},
	}
	// Continue the trace of the request that enqueued the record, not the
	// processor's own polling loop.
	msgCtx := otelx.ContextWithTraceContext(ctx, rec.Traceparent, rec.Tracestate)
	msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish event %s to %s: %w", rec.ID, msg.Topic, err)
	}
	return nil
}

func (p *KafkaPublisher) topicFor(eventType string) string {
	if t, ok := p.topics[eventType]; ok {
		return t
	}
	return p.defaultTopic
}

// Close flushes buffered messages and releases the broker connection. Call
// it only after the processor has stopped, so no acknowledged-but-unmarked
// message is lost.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var _ Publisher = (*KafkaPublisher)(nil)
