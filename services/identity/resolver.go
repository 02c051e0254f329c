package identity

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/upb/request-shield/internal/observability"
	"github.com/upb/request-shield/models"
	"github.com/upb/request-shield/services"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single identity lookup
const DefaultTimeout = 3 * time.Second

// Resolver turns a request into a SecurityContext. It never fails: missing,
// invalid or unverifiable credentials all resolve to an anonymous context.
type Resolver struct {
	provider Provider
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewResolver creates a resolver. A nil provider always resolves anonymous.
func NewResolver(provider Provider, timeout time.Duration, logger *zap.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{provider: provider, timeout: timeout, logger: logger, now: time.Now}
}

// Resolve returns the SecurityContext for r. When ctx carries a request cache
// (see WithRequestCache) the provider is consulted at most once per request.
func (res *Resolver) Resolve(ctx context.Context, r *http.Request) models.SecurityContext {
	cache, _ := ctx.Value(requestCacheKey{}).(*requestCache)
	if cache == nil {
		return res.resolve(ctx, r)
	}

	cache.mu.Lock()
	defer cache.mu.Unlock()
	if cache.done {
		return cache.sc
	}
	cache.sc = res.resolve(ctx, r)
	cache.done = true
	return cache.sc
}

func (res *Resolver) resolve(ctx context.Context, r *http.Request) models.SecurityContext {
	if res.provider == nil {
		return models.Anonymous()
	}

	ctx, cancel := context.WithTimeout(ctx, res.timeout)
	defer cancel()

	type result struct {
		identity *models.Identity
		err      error
	}
	done := make(chan result, 1)
	go func() {
		identity, err := res.provider.Authenticate(ctx, r)
		done <- result{identity, err}
	}()

	var out result
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = services.NewDomainError(services.ErrorTypeExternal, "identity lookup timed out", ctx.Err())
	}

	logger := observability.WithRequest(res.logger, ctx)
	switch {
	case out.err == nil && out.identity == nil:
		return models.Anonymous()
	case out.err == nil:
		if !out.identity.ExpiresAt.IsZero() && !res.now().Before(out.identity.ExpiresAt) {
			logger.Debug("identity expired, continuing as anonymous", zap.String("subject_id", out.identity.SubjectID))
			return models.Anonymous()
		}
		return models.NewSecurityContext(out.identity)
	case isNoCredential(out.err):
		return models.Anonymous()
	case services.IsUnauthorizedError(out.err):
		logger.Debug("credential rejected, continuing as anonymous", zap.Error(out.err))
		return models.Anonymous()
	case errors.Is(out.err, context.Canceled):
		return models.Anonymous()
	default:
		logger.Warn("identity provider unavailable, continuing as anonymous", zap.Error(out.err))
		return models.Anonymous()
	}
}

type requestCacheKey struct{}

type requestCache struct {
	mu   sync.Mutex
	done bool
	sc   models.SecurityContext
}

// WithRequestCache attaches an empty identity cache scoped to one request
func WithRequestCache(ctx context.Context) context.Context {
	if _, ok := ctx.Value(requestCacheKey{}).(*requestCache); ok {
		return ctx
	}
	return context.WithValue(ctx, requestCacheKey{}, &requestCache{})
}
