// Package identity resolves who is making a request.
//
// Providers validate a credential carried by the request. The Resolver wraps
// a provider with a timeout and a request-scoped cache, and turns every
// failure into an anonymous SecurityContext.
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/upb/request-shield/models"
	"github.com/upb/request-shield/services"
)

// Credential locations
const (
	TokenCookieName   = "auth_token"
	LegacyCookieName  = "session"
	SessionCookieName = "session_id"
)

// Provider validates the credential on a request.
//
// Implementations return services.ErrNoCredential when the request carries
// nothing they understand, an unauthorized DomainError for a bad credential,
// and services.ErrIdentityProviderUnavailable (wrapped) when a backing
// system could not be reached.
type Provider interface {
	Authenticate(ctx context.Context, r *http.Request) (*models.Identity, error)
}

// ProviderFunc adapts a function to Provider
type ProviderFunc func(ctx context.Context, r *http.Request) (*models.Identity, error)

// Authenticate implements Provider
func (f ProviderFunc) Authenticate(ctx context.Context, r *http.Request) (*models.Identity, error) {
	return f(ctx, r)
}

// isNoCredential matches the ErrNoCredential sentinel itself rather than any
// unauthorized error
func isNoCredential(err error) bool {
	var derr *services.DomainError
	return errors.As(err, &derr) && derr == services.ErrNoCredential
}

// bearerToken extracts the token from "Authorization: Bearer <token>"
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func cookieValue(r *http.Request, name string) string {
	if c, err := r.Cookie(name); err == nil {
		return c.Value
	}
	return ""
}
