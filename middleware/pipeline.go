package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/upb/request-shield/internal/observability"
	"github.com/upb/request-shield/models"
	"github.com/upb/request-shield/services/audit"
	"github.com/upb/request-shield/services/identity"
	"github.com/upb/request-shield/services/ratelimit"
	"github.com/upb/request-shield/services/routing"
	"github.com/upb/request-shield/utils"
	"go.uber.org/zap"
)

// State is a step of the per-request state machine
type State string

const (
	StateStart           State = "START"
	StateClassified      State = "CLASSIFIED"
	StateInternalChecked State = "INTERNAL_CHECKED"
	StateAuthChecked     State = "AUTH_CHECKED"
	StateRateChecked     State = "RATE_CHECKED"
	StateHeadersApplied  State = "HEADERS_APPLIED"
	StateForwarded       State = "FORWARDED"
	StateRejected        State = "REJECTED"
)

// Request is the evaluation state guards read and extend for one request
type Request struct {
	HTTP     *http.Request
	Path     string
	Class    models.RouteClass
	ClientIP string
	Security models.SecurityContext
	// Header holds response headers set by guards. They are sent on both
	// forwarded and rejected responses.
	Header http.Header

	resolved bool
}

// Rejection is a terminal guard outcome. Location is set for redirects.
type Rejection struct {
	Status   int
	Reason   string
	Location string
}

// Decision is returned by a guard: continue to the next guard, or reject
type Decision struct {
	rejection *Rejection
}

// Continue advances to the next guard
func Continue() Decision {
	return Decision{}
}

// Reject stops the pipeline with status and reason
func Reject(status int, reason string) Decision {
	return Decision{rejection: &Rejection{Status: status, Reason: reason}}
}

// Redirect stops the pipeline with a temporary redirect to location
func Redirect(location, reason string) Decision {
	return Decision{rejection: &Rejection{Status: http.StatusTemporaryRedirect, Reason: reason, Location: location}}
}

// Rejected returns the rejection, if any
func (d Decision) Rejected() (*Rejection, bool) {
	return d.rejection, d.rejection != nil
}

// Guard is one step of the pipeline
type Guard interface {
	// Name identifies the guard in logs and audit events
	Name() string
	// Passed is the state entered when the guard continues
	Passed() State
	Evaluate(ctx context.Context, req *Request) Decision
}

// Outcome is the result of running the guards over one request
type Outcome struct {
	State     State
	Trace     []State
	Stage     string
	Rejection *Rejection
	Request   *Request
}

func (o *Outcome) advance(s State) {
	o.State = s
	o.Trace = append(o.Trace, s)
}

// PipelineConfig wires the pipeline's collaborators. Nil collaborators turn
// the corresponding check into a pass-through, except the internal guard,
// which rejects every internal-only request when no key is configured.
type PipelineConfig struct {
	Classifier      *routing.Classifier
	InternalKeys    []string
	Resolver        *identity.Resolver
	SignInPath      string
	AfterSignInPath string
	Limiter         ratelimit.Limiter
	RateLimit       int
	RateWindow      time.Duration
	Headers         SecurityHeaders
	Audit           *audit.AuditService
	Logger          *zap.Logger
}

// Pipeline runs the guards in a fixed order: classify, internal key, authentication,
// rate limit. The first rejection ends evaluation. Security headers are written
// on every response the pipeline produces or forwards.
type Pipeline struct {
	guards   []Guard
	headers  SecurityHeaders
	resolver *identity.Resolver
	audit    *audit.AuditService
	logger   *zap.Logger
}

// NewPipeline creates the request pipeline
func NewPipeline(cfg PipelineConfig) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	headers := cfg.Headers
	if headers.FrameOptions == "" {
		headers = NewSecurityHeaders(headers.ContentSecurityPolicy, headers.PermissionsPolicy, headers.StrictTransportSecurity != "")
	}
	return &Pipeline{
		guards: []Guard{
			NewClassifyGuard(cfg.Classifier),
			NewInternalGuard(cfg.InternalKeys),
			NewAuthGuard(cfg.Resolver, cfg.SignInPath, cfg.AfterSignInPath),
			NewRateLimitGuard(cfg.Limiter, cfg.RateLimit, cfg.RateWindow),
		},
		headers:  headers,
		resolver: cfg.Resolver,
		audit:    cfg.Audit,
		logger:   logger,
	}
}

// Guards returns the guards in evaluation order
func (p *Pipeline) Guards() []Guard {
	return append([]Guard(nil), p.guards...)
}

// Evaluate runs the guards for r. Cancellation of ctx is observed between
// guards: the remaining guards are skipped and the request is rejected with 499.
func (p *Pipeline) Evaluate(ctx context.Context, r *http.Request) Outcome {
	req := &Request{
		HTTP:     r,
		Path:     r.URL.Path,
		Class:    models.RouteClassPublic,
		ClientIP: utils.GetClientIP(r),
		Security: models.Anonymous(),
		Header:   make(http.Header),
	}
	out := Outcome{State: StateStart, Trace: []State{StateStart}, Request: req}

	for _, g := range p.guards {
		if ctx.Err() != nil {
			out.reject(g.Name(), &Rejection{Status: utils.StatusClientClosedRequest, Reason: "request cancelled"})
			return out
		}
		if rej, ok := g.Evaluate(ctx, req).Rejected(); ok {
			out.reject(g.Name(), rej)
			return out
		}
		out.advance(g.Passed())
	}
	return out
}

func (o *Outcome) reject(stage string, rej *Rejection) {
	o.Stage = stage
	o.Rejection = rej
	o.advance(StateRejected)
}

// Handler wraps next with the pipeline
func (p *Pipeline) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := identity.WithRequestCache(r.Context())
		if p.resolver != nil {
			ctx = withResolver(ctx, p.resolver)
		}
		r = r.WithContext(ctx)

		out := p.Evaluate(ctx, r)

		h := w.Header()
		for k, v := range out.Request.Header {
			h[k] = v
		}
		p.headers.Apply(h)

		if out.Rejection != nil {
			p.writeRejection(w, r, out)
			return
		}
		out.advance(StateHeadersApplied)

		ctx = WithRouteClass(ctx, out.Request.Class)
		ctx = WithClientIP(ctx, out.Request.ClientIP)
		if out.Request.resolved {
			ctx = WithSecurityContext(ctx, out.Request.Security)
		}
		out.advance(StateForwarded)

		observability.WithRequest(p.logger, ctx).Debug("request forwarded",
			zap.String("path", out.Request.Path),
			zap.String("route_class", string(out.Request.Class)),
			zap.String("state", string(out.State)))

		next.ServeHTTP(&headerWriter{ResponseWriter: w, headers: p.headers}, r.WithContext(ctx))
	})
}

func (p *Pipeline) writeRejection(w http.ResponseWriter, r *http.Request, out Outcome) {
	rej := out.Rejection
	req := out.Request

	observability.WithRequest(p.logger, r.Context()).Warn("request rejected",
		zap.String("path", req.Path),
		zap.String("route_class", string(req.Class)),
		zap.String("client_ip", req.ClientIP),
		zap.String("stage", out.Stage),
		zap.Int("status", rej.Status),
		zap.String("reason", rej.Reason))

	p.audit.LogRejection(audit.RequestInfo{
		RequestID:  GetRequestIDFromContext(r.Context()),
		ClientIP:   req.ClientIP,
		Path:       req.Path,
		RouteClass: req.Class,
	}, req.Security, out.Stage, rej.Status, rej.Reason)

	if rej.Location != "" {
		w.Header().Set("Location", rej.Location)
		w.WriteHeader(rej.Status)
		return
	}
	_ = utils.WriteError(w, rej.Status, rej.Reason, nil)
}

// ClassifyGuard assigns the route class. It never rejects.
type ClassifyGuard struct {
	classifier *routing.Classifier
}

// NewClassifyGuard creates the classification step. A nil classifier
// classifies everything as public.
func NewClassifyGuard(classifier *routing.Classifier) *ClassifyGuard {
	return &ClassifyGuard{classifier: classifier}
}

// Name implements Guard
func (g *ClassifyGuard) Name() string { return "classify" }

// Passed implements Guard
func (g *ClassifyGuard) Passed() State { return StateClassified }

// Evaluate implements Guard
func (g *ClassifyGuard) Evaluate(_ context.Context, req *Request) Decision {
	if g.classifier != nil {
		req.Class = g.classifier.Classify(req.Path)
	}
	return Continue()
}
