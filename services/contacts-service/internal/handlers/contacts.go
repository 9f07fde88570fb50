package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/crmbus/crmbus/services/contacts-service/internal/storage"
)

// ContactStore is the slice of the repository the handlers need; tests
// substitute an in-memory implementation.
type ContactStore interface {
	Create(ctx context.Context, name, email, phone string) (storage.Contact, error)
	Update(ctx context.Context, id, name, email, phone string) (storage.Contact, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (storage.Contact, error)
	List(ctx context.Context, limit int) ([]storage.Contact, error)
}

type Handler struct {
	store ContactStore
}

func New(store ContactStore) *Handler {
	return &Handler{store: store}
}

// Collection handles /api/v1/contacts (GET list, POST create).
func (h *Handler) Collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// Item handles /api/v1/contacts/{id} (GET, PUT, DELETE).
func (h *Handler) Item(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/contacts/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "invalid contact id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodPut:
		h.update(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type contactRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (req *contactRequest) validate() string {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" {
		return "name is required"
	}
	if req.Email != "" {
		if _, err := mail.ParseAddress(req.Email); err != nil {
			return "invalid email"
		}
	}
	return ""
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	c, err := h.store.Create(r.Context(), req.Name, req.Email, req.Phone)
	if err != nil {
		http.Error(w, "failed to create contact", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(contactJSON(c))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request, id string) {
	var req contactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	c, err := h.store.Update(r.Context(), id, req.Name, req.Email, req.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		http.Error(w, "contact not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to update contact", http.StatusInternalServerError)
		return
	}
	writeContact(w, c)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request, id string) {
	err := h.store.Delete(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		http.Error(w, "contact not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to delete contact", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, id string) {
	c, err := h.store.Get(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		http.Error(w, "contact not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to load contact", http.StatusInternalServerError)
		return
	}
	writeContact(w, c)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.store.List(r.Context(), 100)
	if err != nil {
		http.Error(w, "failed to list contacts", http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, contactJSON(c))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"contacts": out})
}

func writeContact(w http.ResponseWriter, c storage.Contact) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(contactJSON(c))
}

func contactJSON(c storage.Contact) map[string]any {
	return map[string]any{
		"id":         c.ID,
		"name":       c.Name,
		"email":      c.Email,
		"phone":      c.Phone,
		"created_at": c.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at": c.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
