package outbox

import (
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion of the message envelope published to the broker.
const SchemaVersion = "1.0"

// Envelope is the wire format wrapped around every outbox payload.
type Envelope struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	CorrelationID string          `json:"correlationId"`
	Timestamp     time.Time       `json:"timestamp"`
	SourceService string          `json:"sourceService"`
	SchemaVersion string          `json:"schemaVersion"`
	Data          json.RawMessage `json:"data"`
}

// NewEnvelope wraps a claimed record. A payload that is not valid JSON is a
// permanent failure: retrying cannot fix a malformed body.
func NewEnvelope(rec Record, sourceService string, now time.Time) (Envelope, error) {
	if !json.Valid(rec.Payload) {
		return Envelope{}, &PermanentError{Err: fmt.Errorf("event %s payload is not valid JSON", rec.ID)}
	}
	return Envelope{
		EventID:       rec.ID.String(),
		EventType:     rec.EventType,
		CorrelationID: rec.CorrelationID,
		Timestamp:     now.UTC(),
		SourceService: sourceService,
		SchemaVersion: SchemaVersion,
		Data:          rec.Payload,
	}, nil
}

func (e Envelope) Marshal() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("marshal envelope for event %s: %w", e.EventID, err)}
	}
	return body, nil
}
