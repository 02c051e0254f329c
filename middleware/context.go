package middleware

import (
	"context"
	"net/http"

	"github.com/upb/request-shield/internal/observability"
	"github.com/upb/request-shield/models"
	"github.com/upb/request-shield/services/identity"
	"github.com/upb/request-shield/utils"
)

// Context key type to avoid collisions
type contextKey string

const (
	// SecurityContextKey is the context key for the resolved SecurityContext
	SecurityContextKey contextKey = "security_context"

	// RouteClassKey is the context key for the route classification
	RouteClassKey contextKey = "route_class"

	// ClientIPKey is the context key for the resolved client address
	ClientIPKey contextKey = "client_ip"

	// resolverKey carries the identity resolver for lazy resolution on public routes
	resolverKey contextKey = "identity_resolver"
)

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	return observability.RequestIDFromContext(ctx)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return observability.WithRequestID(ctx, requestID)
}

// WithSecurityContext stores the resolved SecurityContext
func WithSecurityContext(ctx context.Context, sc models.SecurityContext) context.Context {
	return context.WithValue(ctx, SecurityContextKey, sc)
}

// GetSecurityContext returns the SecurityContext for r.
//
// On PROTECTED and AUTH_PAGE routes the pipeline has already resolved it. On
// other routes it is resolved on first use through the request-scoped cache,
// so repeated calls within one request reach the identity provider once.
func GetSecurityContext(r *http.Request) models.SecurityContext {
	ctx := r.Context()
	if sc, ok := ctx.Value(SecurityContextKey).(models.SecurityContext); ok {
		return sc
	}
	if res, ok := ctx.Value(resolverKey).(*identity.Resolver); ok && res != nil {
		return res.Resolve(ctx, r)
	}
	return models.Anonymous()
}

func withResolver(ctx context.Context, res *identity.Resolver) context.Context {
	return context.WithValue(ctx, resolverKey, res)
}

// WithRouteClass stores the route classification
func WithRouteClass(ctx context.Context, class models.RouteClass) context.Context {
	return context.WithValue(ctx, RouteClassKey, class)
}

// GetRouteClassFromContext returns the route classification, public when absent
func GetRouteClassFromContext(ctx context.Context) models.RouteClass {
	if class, ok := ctx.Value(RouteClassKey).(models.RouteClass); ok {
		return class
	}
	return models.RouteClassPublic
}

// WithClientIP stores the resolved client address
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// GetClientIPFromContext returns the client address, 127.0.0.1 when absent
func GetClientIPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(ClientIPKey).(string); ok && ip != "" {
		return ip
	}
	return utils.DefaultClientIP
}
