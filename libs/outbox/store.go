package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the durable outbox collection the processor drains. Claim
// semantics live here: FetchPending and FetchRetryable atomically flip each
// returned record to processing (incrementing its attempt count), so
// concurrent processor instances never hold the same record at once.
type Store interface {
	// FetchPending claims up to batchSize pending records, oldest first.
	FetchPending(ctx context.Context, batchSize int, now time.Time) ([]Record, error)

	// FetchRetryable claims failed records whose retry time has come, plus
	// processing records whose claim lease has expired (crashed worker).
	FetchRetryable(ctx context.Context, batchSize int, now time.Time) ([]Record, error)

	// MarkPublished transitions processing -> published. Calling it on an
	// already-published record is a no-op.
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error

	// MarkFailed transitions processing -> failed with a scheduled retry,
	// or straight to dead_lettered once attempts have reached the limit.
	MarkFailed(ctx context.Context, id uuid.UUID, cause string, nextRetryAt time.Time) error

	// MarkDeadLettered parks a record permanently. Used for non-retryable
	// publish failures regardless of how many attempts remain.
	MarkDeadLettered(ctx context.Context, id uuid.UUID, cause string) error

	// DeleteOlderThan removes published records older than the retention
	// window. It never touches any other status.
	DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}
