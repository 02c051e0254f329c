package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/upb/request-shield/models"
	"github.com/upb/request-shield/services/identity"
	"github.com/upb/request-shield/utils"
	"go.uber.org/zap"
)

const defaultSessionTTL = 24 * time.Hour

// TokenIssuer signs identity tokens
type TokenIssuer interface {
	Issue(identity *models.Identity, ttl time.Duration) (string, error)
}

// SessionStore starts and ends server-side sessions
type SessionStore interface {
	Start(ctx context.Context, identity *models.Identity, ttl time.Duration) (*models.Session, error)
	End(ctx context.Context, id string) error
}

// IssueSessionRequest is the body of POST /api/internal/sessions
type IssueSessionRequest struct {
	SubjectID  string            `json:"subject_id" validate:"required,max=128"`
	TenantID   string            `json:"tenant_id" validate:"omitempty,max=128"`
	Attributes map[string]string `json:"attributes,omitempty" validate:"omitempty,max=32"`
	TTLSeconds int               `json:"ttl_seconds,omitempty" validate:"omitempty,min=60,max=604800"`
}

// IssueSessionResponse carries the credentials minted for a subject
type IssueSessionResponse struct {
	Token     string    `json:"token,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthHandler mints and clears credentials. Minting is mounted on an
// internal-only route; an upstream login service calls it after it has
// verified the user.
type AuthHandler struct {
	issuer     TokenIssuer
	sessions   SessionStore
	signInPath string
	secure     bool
	logger     *zap.Logger
}

// NewAuthHandler creates a new AuthHandler. issuer and sessions may be nil.
func NewAuthHandler(issuer TokenIssuer, sessions SessionStore, signInPath string, secureCookies bool, logger *zap.Logger) *AuthHandler {
	if signInPath == "" {
		signInPath = "/sign-in"
	}
	return &AuthHandler{
		issuer:     issuer,
		sessions:   sessions,
		signInPath: signInPath,
		secure:     secureCookies,
		logger:     logger,
	}
}

// HandleIssue handles POST /api/internal/sessions
func (h *AuthHandler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	if h.issuer == nil && h.sessions == nil {
		_ = utils.WriteError(w, http.StatusServiceUnavailable, "No credential issuer configured", nil)
		return
	}

	var req IssueSessionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	ttl := defaultSessionTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	id := &models.Identity{SubjectID: req.SubjectID, TenantID: req.TenantID, Attributes: req.Attributes}
	resp := IssueSessionResponse{ExpiresAt: time.Now().Add(ttl).UTC()}

	if h.sessions != nil {
		session, err := h.sessions.Start(r.Context(), id, ttl)
		if err != nil {
			HandleServiceError(w, err, h.logger)
			return
		}
		resp.SessionID = session.ID
		resp.ExpiresAt = session.ExpiresAt
		h.setCookie(w, identity.SessionCookieName, session.ID, ttl)
	}
	if h.issuer != nil {
		token, err := h.issuer.Issue(id, ttl)
		if err != nil {
			HandleServiceError(w, err, h.logger)
			return
		}
		resp.Token = token
		h.setCookie(w, identity.TokenCookieName, token, ttl)
	}

	h.logger.Info("credentials issued",
		zap.String("subject_id", req.SubjectID),
		zap.String("tenant_id", req.TenantID),
		zap.Bool("session", resp.SessionID != ""),
		zap.Bool("token", resp.Token != ""))

	_ = utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse{Data: resp})
}

// HandleSignOut handles POST /sign-out: the server-side session is revoked,
// both credential cookies are cleared and the client is sent to sign-in.
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(identity.SessionCookieName); err == nil && c.Value != "" && h.sessions != nil {
		if err := h.sessions.End(r.Context(), c.Value); err != nil {
			h.logger.Warn("failed to revoke session", zap.Error(err))
		}
	}

	h.setCookie(w, identity.SessionCookieName, "", -1)
	h.setCookie(w, identity.TokenCookieName, "", -1)
	http.Redirect(w, r, h.signInPath, http.StatusSeeOther)
}

// setCookie writes an HttpOnly cookie; a negative ttl deletes it
func (h *AuthHandler) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	maxAge := int(ttl / time.Second)
	if ttl < 0 {
		maxAge = -1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})
}
