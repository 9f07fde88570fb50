package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/crmbus/crmbus/libs/db"
	"github.com/crmbus/crmbus/libs/outbox"
)

type Contact struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository persists contacts and enqueues the matching domain event in
// the same transaction, so the event and the mutation are atomic.
type Repository struct {
	pool   *db.Pool
	outbox *outbox.PGStore
}

func NewRepository(pool *db.Pool, outboxStore *outbox.PGStore) *Repository {
	return &Repository{pool: pool, outbox: outboxStore}
}

func (r *Repository) Create(ctx context.Context, name, email, phone string) (Contact, error) {
	var c Contact
	err := r.pool.WithinTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO contacts (id, name, email, phone)
			VALUES ($1, $2, $3, $4)
			RETURNING id::text, name, email, phone, created_at, updated_at
		`, uuid.NewString(), name, email, phone).
			Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return err
		}
		return r.enqueueEvent(ctx, tx, "ContactCreated", c)
	})
	if err != nil {
		return Contact{}, err
	}
	return c, nil
}

func (r *Repository) Update(ctx context.Context, id, name, email, phone string) (Contact, error) {
	var c Contact
	err := r.pool.WithinTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE contacts
			SET name = $2, email = $3, phone = $4, updated_at = now()
			WHERE id = $1
			RETURNING id::text, name, email, phone, created_at, updated_at
		`, id, name, email, phone).
			Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return err
		}
		return r.enqueueEvent(ctx, tx, "ContactUpdated", c)
	})
	if err != nil {
		return Contact{}, err
	}
	return c, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.pool.WithinTx(ctx, func(tx pgx.Tx) error {
		var c Contact
		err := tx.QueryRow(ctx, `
			DELETE FROM contacts
			WHERE id = $1
			RETURNING id::text, name, email, phone, created_at, updated_at
		`, id).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return err
		}
		return r.enqueueEvent(ctx, tx, "ContactDeleted", c)
	})
}

func (r *Repository) Get(ctx context.Context, id string) (Contact, error) {
	var c Contact
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, name, email, phone, created_at, updated_at
		FROM contacts
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r *Repository) List(ctx context.Context, limit int) ([]Contact, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, name, email, phone, created_at, updated_at
		FROM contacts
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) enqueueEvent(ctx context.Context, tx pgx.Tx, eventType string, c Contact) error {
	payload, err := json.Marshal(map[string]any{
		"contactId": c.ID,
		"name":      c.Name,
		"email":     c.Email,
		"phone":     c.Phone,
		"updatedAt": c.UpdatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	_, err = r.outbox.Insert(ctx, tx, outbox.Event{
		EventType:    eventType,
		AggregateKey: c.ID,
		Payload:      payload,
	})
	return err
}
