package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/crmbus/crmbus/libs/db"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

type Notification struct {
	EventID       string
	EventType     string
	ContactID     string
	Recipient     string
	Subject       string
	CorrelationID string
	Payload       map[string]any
	Status        string
	Error         string
	CreatedAt     time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications (event_id, event_type, contact_id, recipient, subject, correlation_id, payload, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, n.EventID, n.EventType, n.ContactID, n.Recipient, n.Subject, n.CorrelationID, payload, n.Status, n.Error)
	return err
}

func (r *Repository) ListRecent(ctx context.Context, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT event_id, event_type, contact_id, recipient, subject, correlation_id, payload, status, error, created_at
		FROM notifications
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var raw []byte
		if err := rows.Scan(&n.EventID, &n.EventType, &n.ContactID, &n.Recipient, &n.Subject, &n.CorrelationID, &raw, &n.Status, &n.Error, &n.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &n.Payload); err != nil {
				return nil, err
			}
		}
		out = append(out, n)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
