package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/request-shield/services/documents"
	"go.uber.org/zap"
)

func documentRoutes() http.Handler {
	h := NewDocumentHandler(documents.NewMemoryStore(documents.SampleDocuments()...), nil, zap.NewNop())
	r := chi.NewRouter()
	r.Get("/api/tenants/{tenantID}/documents/{docID}", h.HandleGet)
	r.Put("/api/tenants/{tenantID}/documents/{docID}", h.HandleUpdate)
	return r
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data
}

func TestDocumentHandler_Get(t *testing.T) {
	routes := documentRoutes()

	t.Run("server-only fields are stripped", func(t *testing.T) {
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tenants/acme/documents/1", nil))
		require.Equal(t, http.StatusOK, w.Code)

		data := decodeData(t, w)
		assert.Equal(t, "Quarterly plan", data["title"])
		assert.NotContains(t, data, "internal_notes")
		assert.NotContains(t, data, "share_token")

		owner := data["owner"].(map[string]interface{})
		assert.Equal(t, "Ada", owner["name"])
		assert.NotContains(t, owner, "email")
		assert.NotContains(t, owner, "password_hash")
		assert.NotContains(t, w.Body.String(), "$2a$")
	})

	t.Run("fields narrows the projection", func(t *testing.T) {
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tenants/acme/documents/1?fields=title,owner,internal_notes", nil))
		require.Equal(t, http.StatusOK, w.Code)

		data := decodeData(t, w)
		assert.Len(t, data, 2)
		assert.Contains(t, data, "title")
		assert.Contains(t, data, "owner")
	})

	t.Run("unknown document", func(t *testing.T) {
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tenants/acme/documents/999", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestDocumentHandler_Update(t *testing.T) {
	routes := documentRoutes()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"title", `{"title":"New title"}`, http.StatusOK},
		{"empty title", `{"title":""}`, http.StatusBadRequest},
		{"unknown field", `{"internal_notes":"x"}`, http.StatusBadRequest},
		{"not json", `title=x`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			routes.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/tenants/acme/documents/1", strings.NewReader(tt.body)))
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}

	w := httptest.NewRecorder()
	routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tenants/acme/documents/1", nil))
	assert.Equal(t, "New title", decodeData(t, w)["title"])
}

func TestSelectFields(t *testing.T) {
	assert.Equal(t, DocumentFields, selectFields(""))
	assert.Equal(t, []string{"title"}, selectFields(" Title "))
	assert.Equal(t, []string{"owner.id", "owner.name"}, selectFields("owner"))
	assert.Equal(t, []string{"owner.name"}, selectFields("owner.name,owner.email"))
	assert.Equal(t, []string{"id"}, selectFields("share_token"))
}
