package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/upb/request-shield/internal/observability"
	"github.com/upb/request-shield/models"
	"github.com/upb/request-shield/services"
	"go.uber.org/zap"
)

// Effect is the outcome a matching policy contributes
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Decision reasons
const (
	ReasonAllow          = "policy_allow"
	ReasonDeny           = "policy_deny"
	ReasonNoMatch        = "no_matching_policy"
	ReasonTenantMismatch = "tenant_mismatch"
)

// Resource identifies the object an action targets
type Resource struct {
	Type     string
	ID       string
	TenantID string // empty for resources without a tenant
}

// String renders the resource in its canonical form
func (r Resource) String() string {
	if r.TenantID != "" {
		return fmt.Sprintf("tenants/%s/%s/%s", r.TenantID, r.Type, r.ID)
	}
	return fmt.Sprintf("%s/%s", r.Type, r.ID)
}

// ParseResource parses "tenants/{tenant}/{type}/{id}" or "{type}/{id}".
// Anything else becomes a tenant-less resource of that type with an empty id.
func ParseResource(s string) Resource {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	switch {
	case len(parts) >= 4 && parts[0] == "tenants":
		return Resource{TenantID: parts[1], Type: parts[2], ID: strings.Join(parts[3:], "/")}
	case len(parts) >= 2:
		return Resource{Type: parts[0], ID: strings.Join(parts[1:], "/")}
	default:
		return Resource{Type: parts[0]}
	}
}

// Request is the tuple a policy predicate is evaluated against
type Request struct {
	Subject  models.SecurityContext
	Action   string
	Resource Resource
}

// Predicate decides whether a policy applies to a request
type Predicate interface {
	Matches(req Request) bool
}

// PredicateFunc adapts a function to Predicate
type PredicateFunc func(req Request) bool

// Matches implements Predicate
func (f PredicateFunc) Matches(req Request) bool {
	return f(req)
}

// Policy is a tagged predicate and effect record
type Policy struct {
	ID          string
	Effect      Effect
	Description string
	When        Predicate
}

// Decision is the result of an authorization check
type Decision struct {
	Allowed         bool
	Reason          string
	MatchedPolicyID string
}

// Engine evaluates an ordered policy set with deny-overrides and default deny.
// It knows nothing about roles; policies only see attributes.
type Engine struct {
	policies []Policy
	logger   *zap.Logger
}

// NewEngine validates and stores the policy set. Order is preserved.
func NewEngine(policies []Policy, logger *zap.Logger) (*Engine, error) {
	seen := make(map[string]struct{}, len(policies))
	for i, p := range policies {
		if p.ID == "" {
			return nil, services.NewDomainError(services.ErrorTypeValidation, "policy id is required", nil).
				WithDetail("index", i)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, services.NewDomainError(services.ErrorTypeValidation, "duplicate policy id", nil).
				WithDetail("policy_id", p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.Effect != EffectAllow && p.Effect != EffectDeny {
			return nil, services.NewDomainError(services.ErrorTypeValidation, "policy effect must be allow or deny", nil).
				WithDetail("policy_id", p.ID)
		}
		if p.When == nil {
			return nil, services.NewDomainError(services.ErrorTypeValidation, "policy predicate is required", nil).
				WithDetail("policy_id", p.ID)
		}
	}

	stored := make([]Policy, len(policies))
	copy(stored, policies)
	return &Engine{policies: stored, logger: logger}, nil
}

// Can decides whether the subject may perform action on the resource
func (e *Engine) Can(ctx context.Context, sc models.SecurityContext, action, resource string) Decision {
	decision := e.Evaluate(Request{Subject: sc, Action: action, Resource: ParseResource(resource)})

	observability.WithRequest(e.logger, ctx).Debug("authorization decision",
		zap.String("subject_id", sc.SubjectID()),
		zap.String("action", action),
		zap.String("resource", resource),
		zap.Bool("allowed", decision.Allowed),
		zap.String("reason", decision.Reason),
		zap.String("policy_id", decision.MatchedPolicyID))

	return decision
}

// Evaluate applies the policy set to req
func (e *Engine) Evaluate(req Request) Decision {
	if req.Resource.TenantID != "" && req.Resource.TenantID != req.Subject.TenantID() {
		return Decision{Allowed: false, Reason: ReasonTenantMismatch}
	}

	var firstAllow string
	for _, p := range e.policies {
		if !e.matches(p, req) {
			continue
		}
		if p.Effect == EffectDeny {
			return Decision{Allowed: false, Reason: ReasonDeny, MatchedPolicyID: p.ID}
		}
		if firstAllow == "" {
			firstAllow = p.ID
		}
	}

	if firstAllow != "" {
		return Decision{Allowed: true, Reason: ReasonAllow, MatchedPolicyID: firstAllow}
	}
	return Decision{Allowed: false, Reason: ReasonNoMatch}
}

// Policies returns the IDs of the loaded policies in evaluation order
func (e *Engine) Policies() []string {
	ids := make([]string, len(e.policies))
	for i, p := range e.policies {
		ids[i] = p.ID
	}
	return ids
}

// matches runs a predicate. A panicking predicate fails closed: deny
// policies match and allow policies do not.
func (e *Engine) matches(p Policy, req Request) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("policy predicate panicked",
				zap.String("policy_id", p.ID),
				zap.Any("panic", r))
			ok = p.Effect == EffectDeny
		}
	}()
	return p.When.Matches(req)
}
