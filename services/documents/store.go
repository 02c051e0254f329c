// Package documents holds the tenant documents served by the demo API.
package documents

import (
	"context"
	"sync"
	"time"

	"github.com/upb/request-shield/models"
	"github.com/upb/request-shield/services"
)

// Store reads and updates tenant documents
type Store interface {
	Get(ctx context.Context, tenantID, id string) (*models.Document, error)
	Update(ctx context.Context, tenantID, id string, update Update) (*models.Document, error)
}

// Update holds the client-editable fields; nil leaves a field unchanged
type Update struct {
	Title *string `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Body  *string `json:"body,omitempty" validate:"omitempty,max=100000"`
}

// MemoryStore is a Store kept in process memory
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]models.Document
	now  func() time.Time
}

// NewMemoryStore creates a store holding docs
func NewMemoryStore(docs ...models.Document) *MemoryStore {
	s := &MemoryStore{docs: make(map[string]models.Document, len(docs)), now: time.Now}
	for _, d := range docs {
		s.docs[key(d.TenantID, d.ID)] = d
	}
	return s
}

func key(tenantID, id string) string {
	return tenantID + "/" + id
}

// Get returns a copy of the document, or ErrDocumentNotFound
func (s *MemoryStore) Get(_ context.Context, tenantID, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.docs[key(tenantID, id)]
	if !ok {
		return nil, services.ErrDocumentNotFound
	}
	return &d, nil
}

// Update applies update and returns the stored result
func (s *MemoryStore) Update(_ context.Context, tenantID, id string, update Update) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[key(tenantID, id)]
	if !ok {
		return nil, services.ErrDocumentNotFound
	}
	if update.Title != nil {
		d.Title = *update.Title
	}
	if update.Body != nil {
		d.Body = *update.Body
	}
	d.UpdatedAt = s.now().UTC()
	s.docs[key(tenantID, id)] = d
	return &d, nil
}

// SampleDocuments seeds the demo tenants
func SampleDocuments() []models.Document {
	updated := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
	return []models.Document{
		{
			ID:            "1",
			TenantID:      "acme",
			Title:         "Quarterly plan",
			Body:          "Ship the new onboarding flow.",
			Owner:         models.Owner{ID: "u1", Name: "Ada", Email: "ada@acme.test", PasswordHash: "$2a$10$abcdefghijklmnopqrstuv"},
			InternalNotes: "legal review pending",
			ShareToken:    "shr_9f8e7d6c5b4a",
			UpdatedAt:     updated,
		},
		{
			ID:            "1",
			TenantID:      "globex",
			Title:         "Globex roadmap",
			Body:          "Confidential.",
			Owner:         models.Owner{ID: "u9", Name: "Hank", Email: "hank@globex.test"},
			InternalNotes: "do not share",
			UpdatedAt:     updated,
		},
	}
}
