package handlers

import (
	"net/http"

	"github.com/upb/request-shield/middleware"
	"github.com/upb/request-shield/utils"
	"go.uber.org/zap"
)

// PageResponse describes the page the application would render
type PageResponse struct {
	Page          string `json:"page"`
	Authenticated bool   `json:"authenticated"`
	SubjectID     string `json:"subject_id,omitempty"`
	TenantID      string `json:"tenant_id,omitempty"`
}

// PageHandler serves the demo pages behind the pipeline. Rendering is out of
// scope, so each page answers with what it would show.
type PageHandler struct {
	logger *zap.Logger
}

// NewPageHandler creates a new PageHandler
func NewPageHandler(logger *zap.Logger) *PageHandler {
	return &PageHandler{logger: logger}
}

func (h *PageHandler) page(w http.ResponseWriter, r *http.Request, name string) {
	sc := middleware.GetSecurityContext(r)
	_ = utils.WriteOK(w, PageResponse{
		Page:          name,
		Authenticated: sc.IsAuthenticated(),
		SubjectID:     sc.SubjectID(),
		TenantID:      sc.TenantID(),
	})
}

// HandleHome handles GET /
func (h *PageHandler) HandleHome(w http.ResponseWriter, r *http.Request) {
	h.page(w, r, "home")
}

// HandleSignIn handles GET /sign-in. Signed-in users never get here.
func (h *PageHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	h.page(w, r, "sign-in")
}

// HandleDashboard handles GET /dashboard
func (h *PageHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	h.page(w, r, "dashboard")
}

// HandleInternalTest handles GET /api/internal/test
func (h *PageHandler) HandleInternalTest(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, map[string]string{
		"status":     "ok",
		"message":    "internal access granted",
		"request_id": middleware.GetRequestIDFromContext(r.Context()),
	})
}
