package kafkax

import (
	"context"
	"strings"

	"github.com/crmbus/crmbus/libs/correlation"
	"github.com/segmentio/kafka-go"
)

// Canonical header keys carried on every message we publish.
const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderContentType   = "content-type"
	HeaderSourceService = "source_service"
)

// EventMeta is the canonical metadata carried on Kafka messages across services.
type EventMeta struct {
	EventID       string
	EventType     string
	CorrelationID string
	SourceService string
}

func ExtractEventMeta(msg kafka.Message) EventMeta {
	meta := EventMeta{
		EventID:       HeaderValue(msg.Headers, HeaderEventID),
		EventType:     HeaderValue(msg.Headers, HeaderEventType),
		CorrelationID: HeaderValue(msg.Headers, correlation.MessageHeader),
		SourceService: HeaderValue(msg.Headers, HeaderSourceService),
	}
	if meta.EventID == "" {
		meta.EventID = string(msg.Key)
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	return meta
}

// ContextWithCorrelation re-roots the consumer's correlation id from the
// message headers, so the trace started by the producing request continues
// unbroken on this side of the broker.
func ContextWithCorrelation(ctx context.Context, msg kafka.Message) (context.Context, string) {
	ctx = correlation.WithID(ctx, HeaderValue(msg.Headers, correlation.MessageHeader))
	return correlation.Ensure(ctx)
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
