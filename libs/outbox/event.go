package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Status is the delivery state of an outbox record. Transitions are
// monotonic: pending -> processing -> published, or processing -> failed ->
// processing (retry) -> ... -> dead_lettered once attempts are exhausted.
type Status string

const (
	StatusPending      Status = "pending"
	StatusProcessing   Status = "processing"
	StatusPublished    Status = "published"
	StatusFailed       Status = "failed"
	StatusDeadLettered Status = "dead_lettered"
)

// Event is what a business transaction enqueues alongside its own writes.
// The correlation id is taken from the caller's context at insert time.
type Event struct {
	EventType    string
	AggregateKey string
	Payload      []byte
}

// Record is a stored outbox row. Payload, CorrelationID and the trace
// context are frozen at insert time; everything else is mutated only by
// the processor.
type Record struct {
	ID            uuid.UUID
	EventType     string
	AggregateKey  string
	Payload       []byte
	CorrelationID string
	Traceparent   string
	Tracestate    string
	Status        Status
	Attempts      int
	CreatedAt     time.Time
	LastAttemptAt *time.Time
	NextRetryAt   *time.Time
	PublishedAt   *time.Time
	LastError     *string
}
