package inbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/crmbus/crmbus/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record returns false when the event id was already applied to the
// aggregates, keeping the report counters exact under redelivery.
func (r *Repository) Record(ctx context.Context, eventID string, eventType string, correlationID string) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type, correlation_id)
		VALUES ($1, $2, $3)
	`, eventID, eventType, correlationID)
	if err == nil {
		return true, nil
	}

	if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
		return false, nil
	}

	return false, err
}
