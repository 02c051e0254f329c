package middleware

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/request-shield/internal/observability"
	"github.com/upb/request-shield/models"
	"github.com/upb/request-shield/services/audit"
	"github.com/upb/request-shield/services/policy"
	"github.com/upb/request-shield/utils"
	"go.uber.org/zap"
)

// Authorizer decides whether a subject may perform an action on a resource
type Authorizer interface {
	Can(ctx context.Context, sc models.SecurityContext, action, resource string) policy.Decision
}

// ResourceFunc names the resource a request targets
type ResourceFunc func(r *http.Request) string

// PolicyEnforcementMiddleware checks ABAC decisions for handlers
type PolicyEnforcementMiddleware struct {
	authorizer Authorizer
	audit      *audit.AuditService
	logger     *zap.Logger
}

// NewPolicyEnforcementMiddleware creates a new PolicyEnforcementMiddleware
func NewPolicyEnforcementMiddleware(authorizer Authorizer, auditService *audit.AuditService, logger *zap.Logger) *PolicyEnforcementMiddleware {
	return &PolicyEnforcementMiddleware{
		authorizer: authorizer,
		audit:      auditService,
		logger:     logger,
	}
}

// Require only calls next when the subject may perform action on the
// resource named by resource. Anonymous callers get 401, denied ones 403.
func (m *PolicyEnforcementMiddleware) Require(action string, resource ResourceFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sc := GetSecurityContext(r)
			target := resource(r)

			decision := m.authorizer.Can(ctx, sc, action, target)

			m.audit.LogAuthorization(audit.RequestInfo{
				RequestID:  GetRequestIDFromContext(ctx),
				ClientIP:   GetClientIPFromContext(ctx),
				Path:       r.URL.Path,
				RouteClass: GetRouteClassFromContext(ctx),
			}, sc, action, target, decision.Allowed, decision.Reason, decision.MatchedPolicyID)

			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			observability.WithRequest(m.logger, ctx).Warn("authorization denied",
				zap.String("subject_id", sc.SubjectID()),
				zap.String("action", action),
				zap.String("resource", target),
				zap.String("reason", decision.Reason),
				zap.String("policy_id", decision.MatchedPolicyID))

			if !sc.IsAuthenticated() {
				_ = utils.WriteUnauthorized(w, "")
				return
			}
			_ = utils.WriteForbidden(w, "")
		})
	}
}

// TenantResource names "tenants/{tenant}/{kind}/{id}" from chi URL parameters
func TenantResource(kind, tenantParam, idParam string) ResourceFunc {
	return func(r *http.Request) string {
		return "tenants/" + chi.URLParam(r, tenantParam) + "/" + kind + "/" + chi.URLParam(r, idParam)
	}
}
