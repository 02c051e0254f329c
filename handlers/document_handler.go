package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/upb/request-shield/services/documents"
	"github.com/upb/request-shield/services/sanitize"
	"github.com/upb/request-shield/utils"
	"go.uber.org/zap"
)

const maxDocumentBodyBytes = 1 << 20

// DocumentFields are the document fields a client may ever see
var DocumentFields = []string{"id", "tenant_id", "title", "body", "owner.id", "owner.name", "updated_at"}

// DocumentHandler serves tenant documents. Authorization happens in the
// policy middleware in front of it; every response is projected through
// the sanitizer.
type DocumentHandler struct {
	store     documents.Store
	sanitizer *sanitize.Sanitizer
	logger    *zap.Logger
}

// NewDocumentHandler creates a new DocumentHandler
func NewDocumentHandler(store documents.Store, sanitizer *sanitize.Sanitizer, logger *zap.Logger) *DocumentHandler {
	if sanitizer == nil {
		sanitizer = sanitize.Default()
	}
	return &DocumentHandler{store: store, sanitizer: sanitizer, logger: logger}
}

// HandleGet handles GET /api/tenants/{tenantID}/documents/{docID}
// ?fields=title,owner narrows the response further
func (h *DocumentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.Get(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "docID"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	fields := selectFields(r.URL.Query().Get("fields"))
	_ = utils.WriteOK(w, h.sanitizer.Project(doc, fields...))
}

// HandleUpdate handles PUT /api/tenants/{tenantID}/documents/{docID}
func (h *DocumentHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var update documents.Update
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDocumentBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&update); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(update); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	doc, err := h.store.Update(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "docID"), update)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, h.sanitizer.Project(doc, DocumentFields...))
}

// selectFields keeps the requested names that DocumentFields allows. A
// parent name such as "owner" selects its allowed children.
func selectFields(requested string) []string {
	if strings.TrimSpace(requested) == "" {
		return DocumentFields
	}

	var out []string
	for _, want := range strings.Split(requested, ",") {
		want = strings.ToLower(strings.TrimSpace(want))
		if want == "" {
			continue
		}
		for _, allowed := range DocumentFields {
			if allowed == want || strings.HasPrefix(allowed, want+".") {
				out = append(out, allowed)
			}
		}
	}
	if len(out) == 0 {
		// nothing selectable: project to the id alone rather than everything
		return []string{"id"}
	}
	return out
}
