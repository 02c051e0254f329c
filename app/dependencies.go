package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/upb/request-shield/config"
	"github.com/upb/request-shield/middleware"
	"github.com/upb/request-shield/repositories/postgres"
	"github.com/upb/request-shield/services/audit"
	"github.com/upb/request-shield/services/documents"
	"github.com/upb/request-shield/services/egress"
	"github.com/upb/request-shield/services/identity"
	"github.com/upb/request-shield/services/policy"
	"github.com/upb/request-shield/services/ratelimit"
	"github.com/upb/request-shield/services/routing"
	"github.com/upb/request-shield/services/sanitize"
	"go.uber.org/zap"
)

// Dependencies holds the wired application. It is the only place where
// concrete implementations are chosen.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	Runtime *Runtime

	// Request pipeline
	Classifier *routing.Classifier
	Resolver   *identity.Resolver
	Limiter    ratelimit.Limiter
	Pipeline   *middleware.Pipeline

	// Identity. Either may be nil when not configured.
	Tokens   *identity.JWTProvider
	Sessions *identity.SessionProvider

	// Services used by handlers
	Policy           *policy.Engine
	PolicyMiddleware *middleware.PolicyEnforcementMiddleware
	Audit            *audit.AuditService
	Fetcher          *egress.Fetcher
	Documents        documents.Store
	Sanitizer        *sanitize.Sanitizer

	cancel context.CancelFunc
}

// NewDependencies opens the configured stores and wires every component.
// A configured database that cannot be reached is fatal; an unreachable
// Redis only degrades rate limiting to this instance.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	return newDependencies(ctx, cfg, logger, NewRuntime(cfg, logger))
}

func newDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, rt *Runtime) (*Dependencies, error) {
	deps := &Dependencies{
		Config:    cfg,
		Logger:    logger,
		Runtime:   rt,
		Sanitizer: sanitize.Default(),
		Documents: documents.NewMemoryStore(documents.SampleDocuments()...),
	}

	var factory *postgres.RepositoryFactory
	if cfg.Database != nil {
		db, err := rt.Database(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		factory = postgres.NewRepositoryFactory(db, logger)
	}

	if err := deps.initIdentity(factory); err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("failed to initialize identity: %w", err)
	}
	if err := deps.initRateLimit(ctx); err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}
	if err := deps.initPolicy(); err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("failed to initialize policies: %w", err)
	}
	deps.initAudit(factory)
	deps.initEgress()

	deps.Classifier = routing.NewClassifier(routing.Rules{
		Internal:  cfg.Routes.Internal,
		Protected: cfg.Routes.Protected,
		AuthPages: cfg.Routes.AuthPages,
	})
	deps.Pipeline = middleware.NewPipeline(middleware.PipelineConfig{
		Classifier:      deps.Classifier,
		InternalKeys:    cfg.Security.InternalAPIKeys,
		Resolver:        deps.Resolver,
		SignInPath:      cfg.Security.SignInPath,
		AfterSignInPath: cfg.Security.AfterSignInPath,
		Limiter:         deps.Limiter,
		RateLimit:       cfg.RateLimit.Requests,
		RateWindow:      cfg.RateLimit.Window,
		Headers: middleware.NewSecurityHeaders(
			cfg.Security.ContentSecurityPolicy,
			cfg.Security.PermissionsPolicy,
			cfg.Server.TLS.Enabled),
		Audit:  deps.Audit,
		Logger: logger,
	})
	deps.PolicyMiddleware = middleware.NewPolicyEnforcementMiddleware(deps.Policy, deps.Audit, logger)

	logger.Info("all dependencies initialized successfully",
		zap.Bool("database", factory != nil),
		zap.Bool("jwt", deps.Tokens != nil),
		zap.Strings("policies", deps.Policy.Policies()))
	return deps, nil
}

// initIdentity chains the configured providers: bearer/cookie JWTs first,
// then server-side sessions
func (d *Dependencies) initIdentity(factory *postgres.RepositoryFactory) error {
	cfg := d.Config.Identity
	var providers []identity.Provider

	if cfg.JWTSecret != "" || cfg.JWKSURL != "" {
		jwtProvider, err := identity.NewJWTProvider(identity.JWTConfig{
			Secret:   []byte(cfg.JWTSecret),
			JWKSURL:  cfg.JWKSURL,
			Issuer:   cfg.Issuer,
			Audience: cfg.Audience,
		})
		if err != nil {
			return err
		}
		d.Tokens = jwtProvider
		providers = append(providers, jwtProvider)
	}
	if factory != nil {
		d.Sessions = identity.NewSessionProvider(factory.Sessions())
		providers = append(providers, d.Sessions)
	}
	if len(providers) == 0 {
		d.Logger.Warn("no identity provider configured, every request is anonymous")
	}

	d.Resolver = identity.NewResolver(identity.NewChainProvider(providers...), cfg.Timeout, d.Logger)
	return nil
}

func (d *Dependencies) initRateLimit(ctx context.Context) error {
	var client redis.UniversalClient
	if d.Config.Redis.Addr != "" {
		c, err := d.Runtime.Redis(ctx)
		if err != nil {
			d.Logger.Warn("redis unavailable, rate limits are per instance", zap.Error(err))
		} else {
			client = c
		}
	}

	limiter, err := ratelimit.NewLimiter(ratelimit.Options{
		Strategy: ratelimit.Strategy(d.Config.RateLimit.Strategy),
		Capacity: d.Config.RateLimit.Capacity,
	}, client, d.Logger)
	if err != nil {
		return err
	}
	d.Limiter = limiter
	return nil
}

func (d *Dependencies) initPolicy() error {
	policies := policy.DefaultPolicies()
	if file := d.Config.Policy.File; file != "" {
		loaded, err := policy.LoadFile(file)
		if err != nil {
			return err
		}
		policies = append(policies, loaded...)
		d.Logger.Info("loaded policy file", zap.String("path", file), zap.Int("policies", len(loaded)))
	}

	engine, err := policy.NewEngine(policies, d.Logger)
	if err != nil {
		return err
	}
	d.Policy = engine
	return nil
}

func (d *Dependencies) initAudit(factory *postgres.RepositoryFactory) {
	var sink audit.Sink = audit.NewLoggerSink(d.Logger)
	if factory != nil {
		sink = audit.NewRepositorySink(factory.SecurityEvents())
	}
	d.Audit = audit.NewAuditService(sink, d.Logger, audit.Config{
		BufferSize:  d.Config.Audit.BufferSize,
		WorkerCount: d.Config.Audit.Workers,
	})
}

func (d *Dependencies) initEgress() {
	cfg := d.Config.Egress
	var resolver egress.Resolver
	if len(cfg.DNSServers) > 0 {
		resolver = egress.NewDNSResolver(cfg.DNSServers, 0)
	}
	validator := egress.NewValidator(egress.Options{
		Allowlist:    cfg.Allowlist,
		DenyHosts:    cfg.DenyHosts,
		AllowedPorts: cfg.AllowedPorts,
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}, resolver)
	d.Fetcher = egress.NewFetcher(validator, d.Logger)
}

// Start launches the background workers. They run until Close.
func (d *Dependencies) Start(ctx context.Context) error {
	if err := d.Audit.Start(); err != nil {
		return err
	}

	ctx, d.cancel = context.WithCancel(ctx)
	if memory, ok := d.Limiter.(*ratelimit.MemoryLimiter); ok {
		go memory.StartCleanupWorker(ctx, time.Minute)
	}
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	if d.cancel != nil {
		d.cancel()
	}

	var errs []error
	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if d.Audit.GetStats().Started {
		if err := d.Audit.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}
	if err := d.Runtime.Close(); err != nil {
		errs = append(errs, err)
	}

	_ = d.Logger.Sync()
	return errors.Join(errs...)
}
