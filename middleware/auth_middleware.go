package middleware

import (
	"context"
	"net/http"
	"net/url"

	"github.com/upb/request-shield/models"
	"github.com/upb/request-shield/services/identity"
	"github.com/upb/request-shield/services/routing"
)

// AuthGuard checks identity presence. It only consults the identity provider
// for PROTECTED and AUTH_PAGE routes.
//
//   - PROTECTED without identity: API paths (/api/...) get 401, pages are
//     redirected to the sign-in page with redirect_url set to the original URI.
//   - AUTH_PAGE with identity: redirected to the after-sign-in page.
type AuthGuard struct {
	resolver        *identity.Resolver
	signInPath      string
	afterSignInPath string
}

// NewAuthGuard creates the authentication presence check
func NewAuthGuard(resolver *identity.Resolver, signInPath, afterSignInPath string) *AuthGuard {
	if signInPath == "" {
		signInPath = "/sign-in"
	}
	if afterSignInPath == "" {
		afterSignInPath = "/"
	}
	return &AuthGuard{
		resolver:        resolver,
		signInPath:      signInPath,
		afterSignInPath: afterSignInPath,
	}
}

// Name implements Guard
func (g *AuthGuard) Name() string { return "auth" }

// Passed implements Guard
func (g *AuthGuard) Passed() State { return StateAuthChecked }

// Evaluate implements Guard
func (g *AuthGuard) Evaluate(ctx context.Context, req *Request) Decision {
	switch req.Class {
	case models.RouteClassProtected:
		g.resolve(ctx, req)
		if req.Security.IsAuthenticated() {
			return Continue()
		}
		if isAPIPath(req.Path) {
			return Reject(http.StatusUnauthorized, "Authentication required")
		}
		return Redirect(g.signInURL(req.HTTP), "authentication required")

	case models.RouteClassAuthPage:
		g.resolve(ctx, req)
		if req.Security.IsAuthenticated() {
			return Redirect(g.afterSignInPath, "already authenticated")
		}
	}
	return Continue()
}

func (g *AuthGuard) resolve(ctx context.Context, req *Request) {
	req.resolved = true
	if g.resolver == nil {
		req.Security = models.Anonymous()
		return
	}
	req.Security = g.resolver.Resolve(ctx, req.HTTP)
}

func (g *AuthGuard) signInURL(r *http.Request) string {
	q := url.Values{}
	q.Set("redirect_url", r.URL.RequestURI())
	return g.signInPath + "?" + q.Encode()
}

func isAPIPath(p string) bool {
	return routing.MatchesPrefix(routing.NormalizePath(p), "/api")
}
