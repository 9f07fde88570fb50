package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/crmbus/crmbus/services/contacts-service/internal/storage"
)

type memContactStore struct {
	contacts map[string]storage.Contact
}

func newMemContactStore() *memContactStore {
	return &memContactStore{contacts: map[string]storage.Contact{}}
}

func (s *memContactStore) Create(_ context.Context, name, email, phone string) (storage.Contact, error) {
	c := storage.Contact{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		Phone:     phone,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	s.contacts[c.ID] = c
	return c, nil
}

func (s *memContactStore) Update(_ context.Context, id, name, email, phone string) (storage.Contact, error) {
	c, ok := s.contacts[id]
	if !ok {
		return storage.Contact{}, pgx.ErrNoRows
	}
	c.Name, c.Email, c.Phone = name, email, phone
	c.UpdatedAt = time.Now().UTC()
	s.contacts[id] = c
	return c, nil
}

func (s *memContactStore) Delete(_ context.Context, id string) error {
	if _, ok := s.contacts[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(s.contacts, id)
	return nil
}

func (s *memContactStore) Get(_ context.Context, id string) (storage.Contact, error) {
	c, ok := s.contacts[id]
	if !ok {
		return storage.Contact{}, pgx.ErrNoRows
	}
	return c, nil
}

func (s *memContactStore) List(_ context.Context, _ int) ([]storage.Contact, error) {
	var out []storage.Contact
	for _, c := range s.contacts {
		out = append(out, c)
	}
	return out, nil
}

func TestCreateContact(t *testing.T) {
	h := New(newMemContactStore())

	body := bytes.NewBufferString(`{"name":"Ada Lovelace","email":"ada@example.com","phone":"+4420123"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/contacts", body)
	rw := httptest.NewRecorder()
	h.Collection(rw, req)

	if rw.Code != http.StatusCreated {
		t.Fatalf("status %d, want 201: %s", rw.Code, rw.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["name"] != "Ada Lovelace" || resp["id"] == "" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestCreateContactValidation(t *testing.T) {
	h := New(newMemContactStore())

	cases := []struct {
		name string
		body string
	}{
		{"missing name", `{"email":"a@example.com"}`},
		{"bad email", `{"name":"A","email":"not-an-email"}`},
		{"bad json", `{`},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/contacts", bytes.NewBufferString(tc.body))
		rw := httptest.NewRecorder()
		h.Collection(rw, req)
		if rw.Code != http.StatusBadRequest {
			t.Fatalf("%s: status %d, want 400", tc.name, rw.Code)
		}
	}
}

func TestUpdateMissingContact(t *testing.T) {
	h := New(newMemContactStore())

	body := bytes.NewBufferString(`{"name":"B"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/contacts/"+uuid.NewString(), body)
	rw := httptest.NewRecorder()
	h.Item(rw, req)

	if rw.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rw.Code)
	}
}

func TestDeleteContact(t *testing.T) {
	store := newMemContactStore()
	c, _ := store.Create(context.Background(), "Grace", "", "")
	h := New(store)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/contacts/"+c.ID, nil)
	rw := httptest.NewRecorder()
	h.Item(rw, req)

	if rw.Code != http.StatusNoContent {
		t.Fatalf("status %d, want 204", rw.Code)
	}
	if _, err := store.Get(context.Background(), c.ID); err == nil {
		t.Fatal("contact still present after delete")
	}
}

func TestItemRejectsNestedPath(t *testing.T) {
	h := New(newMemContactStore())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/contacts/a/b", nil)
	rw := httptest.NewRecorder()
	h.Item(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rw.Code)
	}
}
