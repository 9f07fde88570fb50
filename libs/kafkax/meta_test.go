package kafkax

import (
	"context"
	"testing"

	"github.com/crmbus/crmbus/libs/correlation"
	"github.com/segmentio/kafka-go"
)

func TestExtractEventMeta(t *testing.T) {
	msg := kafka.Message{
		Topic: "contacts.contact-events",
		Key:   []byte("contact-9"),
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte("evt-1")},
			{Key: HeaderEventType, Value: []byte("ContactCreated")},
			{Key: correlation.MessageHeader, Value: []byte("corr-1")},
			{Key: HeaderSourceService, Value: []byte("contacts-service")},
		},
	}
	meta := ExtractEventMeta(msg)
	if meta.EventID != "evt-1" || meta.EventType != "ContactCreated" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if meta.CorrelationID != "corr-1" || meta.SourceService != "contacts-service" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}

func TestExtractEventMetaFallbacks(t *testing.T) {
	msg := kafka.Message{Topic: "contacts.contact-events", Key: []byte("contact-9")}
	meta := ExtractEventMeta(msg)
	if meta.EventID != "contact-9" {
		t.Fatalf("expected key fallback, got %q", meta.EventID)
	}
	if meta.EventType != "contacts.contact-events" {
		t.Fatalf("expected topic fallback, got %q", meta.EventType)
	}
}

func TestContextWithCorrelation(t *testing.T) {
	msg := kafka.Message{
		Headers: []kafka.Header{{Key: correlation.MessageHeader, Value: []byte("corr-77")}},
	}
	ctx, id := ContextWithCorrelation(context.Background(), msg)
	if id != "corr-77" {
		t.Fatalf("expected header id adopted, got %q", id)
	}
	if correlation.FromContext(ctx) != "corr-77" {
		t.Fatal("context not rooted with header id")
	}

	ctxGen, idGen := ContextWithCorrelation(context.Background(), kafka.Message{})
	if idGen == "" || correlation.FromContext(ctxGen) != idGen {
		t.Fatalf("expected generated id on context, got %q", idGen)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092 ")
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %v", got)
	}
	if SplitBrokers("") != nil {
		t.Fatal("expected nil for empty input")
	}
}
