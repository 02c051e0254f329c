package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/request-shield/app"
	"github.com/upb/request-shield/handlers"
	"github.com/upb/request-shield/middleware"
	"github.com/upb/request-shield/utils"
)

// SetupRoutes configures all application routes and middleware.
// Every route, including health probes and 404s, runs behind the pipeline.
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()
	cfg := deps.Config

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(deps.Pipeline.Handler)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.InternalKeyHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader, middleware.HeaderRateLimitRemaining, middleware.HeaderRetryAfter},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimiddleware.Timeout(60 * time.Second))

	health := handlers.NewHealthHandler(deps.Logger, readinessChecks(deps)...)
	pages := handlers.NewPageHandler(deps.Logger)
	docs := handlers.NewDocumentHandler(deps.Documents, deps.Sanitizer, deps.Logger)
	preview := handlers.NewLinkPreviewHandler(deps.Fetcher, deps.Audit, deps.Logger)
	auth := newAuthHandler(deps)

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	// Pages
	r.Get("/", pages.HandleHome)
	r.Get("/sign-in", pages.HandleSignIn)
	r.Post("/sign-out", auth.HandleSignOut)
	r.Get("/dashboard", pages.HandleDashboard)

	r.Route("/api", func(r chi.Router) {
		r.Route("/internal", func(r chi.Router) {
			r.Get("/test", pages.HandleInternalTest)
			r.Post("/sessions", auth.HandleIssue)
		})

		const document = "/tenants/{tenantID}/documents/{docID}"
		resource := middleware.TenantResource("documents", "tenantID", "docID")
		r.With(deps.PolicyMiddleware.Require("read", resource)).Get(document, docs.HandleGet)
		r.With(deps.PolicyMiddleware.Require("write", resource)).Put(document, docs.HandleUpdate)

		r.Post("/link-preview", preview.HandlePreview)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		_ = utils.WriteNotFound(w, "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "Method Not Allowed", nil)
	})

	return r
}

func readinessChecks(deps *app.Dependencies) []handlers.Check {
	var checks []handlers.Check
	if deps.Config.Database != nil {
		checks = append(checks, handlers.Check{Name: "database", Run: deps.Runtime.PingDatabase})
	}
	if deps.Config.Redis.Addr != "" {
		checks = append(checks, handlers.Check{Name: "redis", Run: deps.Runtime.PingRedis})
	}
	return checks
}

// newAuthHandler keeps unconfigured providers as nil interfaces
func newAuthHandler(deps *app.Dependencies) *handlers.AuthHandler {
	var issuer handlers.TokenIssuer
	if deps.Tokens != nil {
		issuer = deps.Tokens
	}
	var sessions handlers.SessionStore
	if deps.Sessions != nil {
		sessions = deps.Sessions
	}
	return handlers.NewAuthHandler(issuer, sessions, deps.Config.Security.SignInPath, deps.Config.Server.TLS.Enabled, deps.Logger)
}
