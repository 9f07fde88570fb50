package outbox

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/crmbus/crmbus/libs/correlation"
	"github.com/crmbus/crmbus/libs/db"
	otelx "github.com/crmbus/crmbus/libs/otel"
)

// PGStore is the Postgres-backed outbox store. Claims are single atomic
// UPDATE ... WHERE id IN (SELECT ... FOR UPDATE SKIP LOCKED) statements, so
// multiple processor instances can drain the same table safely.
type PGStore struct {
	pool        *db.Pool
	maxAttempts int
	lease       time.Duration
}

type PGStoreConfig struct {
	MaxAttempts int
	// Lease is how long a record may sit in processing before it is
	// considered abandoned by a crashed worker and becomes reclaimable.
	Lease time.Duration
}

func NewPGStore(pool *db.Pool, cfg PGStoreConfig) *PGStore {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	return &PGStore{pool: pool, maxAttempts: cfg.MaxAttempts, lease: cfg.Lease}
}

// Insert writes an outbox record inside the caller's transaction, so the
// event and the business mutation persist or roll back together. The
// correlation id and trace context are read from ctx and frozen on the
// row, letting the asynchronous publish continue the originating trace.
func (s *PGStore) Insert(ctx context.Context, tx pgx.Tx, evt Event) (uuid.UUID, error) {
	id := uuid.New()
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (id, event_type, aggregate_key, payload, correlation_id, traceparent, tracestate, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
	`, id, evt.EventType, evt.AggregateKey, evt.Payload, correlation.FromContext(ctx), traceparent, tracestate)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

const recordColumns = `id, event_type, aggregate_key, payload, correlation_id, traceparent, tracestate, status, attempts, created_at, last_attempt_at, next_retry_at, published_at, last_error`

func (s *PGStore) FetchPending(ctx context.Context, batchSize int, now time.Time) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE outbox_events
		SET status = 'processing', attempts = attempts + 1, last_attempt_at = $2
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+recordColumns, batchSize, now)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (s *PGStore) FetchRetryable(ctx context.Context, batchSize int, now time.Time) ([]Record, error) {
	leaseCutoff := now.Add(-s.lease)
	rows, err := s.pool.Query(ctx, `
		UPDATE outbox_events
		SET status = 'processing', attempts = attempts + 1, last_attempt_at = $2
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE (status = 'failed' AND next_retry_at <= $2)
			   OR (status = 'processing' AND last_attempt_at <= $3)
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+recordColumns, batchSize, now, leaseCutoff)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (s *PGStore) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'published', published_at = $2, next_retry_at = NULL, last_error = NULL
		WHERE id = $1 AND status = 'processing'
	`, id, publishedAt)
	return err
}

func (s *PGStore) MarkFailed(ctx context.Context, id uuid.UUID, cause string, nextRetryAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = CASE WHEN attempts >= $4 THEN 'dead_lettered' ELSE 'failed' END,
		    next_retry_at = CASE WHEN attempts >= $4 THEN NULL ELSE $3 END,
		    last_error = $2
		WHERE id = $1 AND status = 'processing'
	`, id, cause, nextRetryAt, s.maxAttempts)
	return err
}

func (s *PGStore) MarkDeadLettered(ctx context.Context, id uuid.UUID, cause string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'dead_lettered', next_retry_at = NULL, last_error = $2
		WHERE id = $1 AND status IN ('processing', 'failed')
	`, id, cause)
	return err
}

func (s *PGStore) DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM outbox_events
		WHERE status = 'published' AND published_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rcd Record
		if err := rows.Scan(
			&rcd.ID, &rcd.EventType, &rcd.AggregateKey, &rcd.Payload,
			&rcd.CorrelationID, &rcd.Traceparent, &rcd.Tracestate,
			&rcd.Status, &rcd.Attempts, &rcd.CreatedAt,
			&rcd.LastAttemptAt, &rcd.NextRetryAt, &rcd.PublishedAt, &rcd.LastError,
		); err != nil {
			return nil, err
		}
		records = append(records, rcd)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	// RETURNING does not guarantee order; re-sort so events for the same
	// aggregate are always published oldest first.
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

var _ Store = (*PGStore)(nil)
