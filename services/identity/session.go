package identity

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/upb/request-shield/models"
	"github.com/upb/request-shield/repositories"
	"github.com/upb/request-shield/services"
)

// SessionProvider authenticates the opaque session_id cookie against the session store
type SessionProvider struct {
	repo repositories.SessionRepository
	now  func() time.Time
}

// NewSessionProvider creates a session-backed provider
func NewSessionProvider(repo repositories.SessionRepository) *SessionProvider {
	return &SessionProvider{repo: repo, now: time.Now}
}

// Authenticate implements Provider
func (p *SessionProvider) Authenticate(ctx context.Context, r *http.Request) (*models.Identity, error) {
	id := cookieValue(r, SessionCookieName)
	if id == "" {
		return nil, services.ErrNoCredential
	}

	session, err := p.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.NewDomainError(services.ErrorTypeUnauthorized, "unknown session", nil)
		}
		return nil, services.NewDomainError(services.ErrorTypeExternal, "session store unavailable", err)
	}
	if !session.IsActive(p.now()) {
		return nil, services.NewDomainError(services.ErrorTypeUnauthorized, "session expired or revoked", nil)
	}
	return session.Identity(), nil
}

// Start creates a session for identity and returns it; the caller sets the cookie
func (p *SessionProvider) Start(ctx context.Context, identity *models.Identity, ttl time.Duration) (*models.Session, error) {
	if identity == nil || identity.SubjectID == "" {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "session requires a subject", nil)
	}
	now := p.now().UTC()
	session := &models.Session{
		ID:         uuid.NewString(),
		SubjectID:  identity.SubjectID,
		TenantID:   identity.TenantID,
		Attributes: identity.Attributes,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := p.repo.Create(ctx, session); err != nil {
		return nil, services.WrapInternal("failed to create session", err)
	}
	return session, nil
}

// End revokes a session. Ending an unknown session is not an error.
func (p *SessionProvider) End(ctx context.Context, id string) error {
	err := p.repo.Revoke(ctx, id, p.now().UTC())
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return services.WrapInternal("failed to revoke session", err)
	}
	return nil
}
