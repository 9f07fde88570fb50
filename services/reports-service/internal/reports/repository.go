package reports

import (
	"context"
	"time"

	"github.com/crmbus/crmbus/libs/db"
)

// Repository maintains daily contact-activity aggregates built from the
// event stream.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Apply(ctx context.Context, eventType string, occurredAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO contact_activity_daily (day, event_type, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (day, event_type) DO UPDATE
		SET count = contact_activity_daily.count + 1
	`, occurredAt.UTC().Truncate(24*time.Hour), eventType)
	return err
}

type ActivityRow struct {
	Day       time.Time `json:"day"`
	EventType string    `json:"event_type"`
	Count     int64     `json:"count"`
}

func (r *Repository) Activity(ctx context.Context, since time.Time) ([]ActivityRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT day, event_type, count
		FROM contact_activity_daily
		WHERE day >= $1
		ORDER BY day DESC, event_type
	`, since.UTC().Truncate(24*time.Hour))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActivityRow
	for rows.Next() {
		var row ActivityRow
		if err := rows.Scan(&row.Day, &row.EventType, &row.Count); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
