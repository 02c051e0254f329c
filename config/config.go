package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// DemoInternalKey is the internal API key used outside production when none is configured
const DemoInternalKey = "demo-internal-key"

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      *DatabaseConfig // Optional: session store and audit sink. Nil when not configured.
	Redis         RedisConfig
	Security      SecurityConfig
	Routes        RoutesConfig
	RateLimit     RateLimitConfig
	Identity      IdentityConfig
	Egress        EgressConfig
	Policy        PolicyConfig
	CORS          CORSConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int           `validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int `validate:"gte=1"`
	MaxIdleConns     int `validate:"gte=0"`
	ConnMaxLifetime  time.Duration
}

// RedisConfig holds the optional shared rate-limit store. Empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int `validate:"gte=0"`
}

// SecurityConfig holds the perimeter settings consumed by the pipeline
type SecurityConfig struct {
	InternalAPIKeys       []string
	SignInPath            string `validate:"required,startswith=/"`
	AfterSignInPath       string `validate:"required,startswith=/"`
	ContentSecurityPolicy string `validate:"required"`
	PermissionsPolicy     string
}

// RoutesConfig holds the path prefixes for each route class
type RoutesConfig struct {
	Protected []string `validate:"dive,startswith=/"`
	Internal  []string `validate:"dive,startswith=/"`
	AuthPages []string `validate:"dive,startswith=/"`
}

// RateLimitConfig holds the per-client request budget
type RateLimitConfig struct {
	Requests int           `validate:"gt=0"`
	Window   time.Duration `validate:"gt=0"`
	Strategy string        `validate:"oneof=fixed sliding token"`
	Capacity int           `validate:"gt=0"`
}

// IdentityConfig holds credential validation settings
type IdentityConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
	JWKSURL   string        `validate:"omitempty,url"`
	Timeout   time.Duration `validate:"gt=0"`
}

// EgressConfig holds outbound request restrictions
type EgressConfig struct {
	Allowlist    []string
	DenyHosts    []string
	AllowedPorts []int
	Timeout      time.Duration `validate:"gt=0"`
	MaxRedirects int           `validate:"gte=-1,lte=20"`
	MaxBodyBytes int64         `validate:"gt=0"`
	DNSServers   []string      // host:port; empty uses the system resolver
}

// PolicyConfig points at the optional ABAC policy document
type PolicyConfig struct {
	File string
}

// CORSConfig holds cross-origin settings
type CORSConfig struct {
	AllowedOrigins []string
}

// AuditConfig holds the security audit worker settings
type AuditConfig struct {
	BufferSize int `validate:"gt=0"`
	Workers    int `validate:"gt=0,lte=64"`
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json text"`
}

var validate = validator.New()

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: loadDatabaseConfig(),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Security: SecurityConfig{
			InternalAPIKeys:       getEnvAsSlice("INTERNAL_API_KEYS", nil),
			SignInPath:            getEnv("SIGN_IN_PATH", "/sign-in"),
			AfterSignInPath:       getEnv("AFTER_SIGN_IN_PATH", "/dashboard"),
			ContentSecurityPolicy: getEnv("CONTENT_SECURITY_POLICY", DefaultContentSecurityPolicy),
			PermissionsPolicy:     getEnv("PERMISSIONS_POLICY", "camera=(), microphone=(), geolocation=()"),
		},
		Routes: RoutesConfig{
			Protected: getEnvAsSlice("ROUTES_PROTECTED", []string{"/dashboard", "/settings", "/api/tenants", "/api/link-preview"}),
			Internal:  getEnvAsSlice("ROUTES_INTERNAL", []string{"/api/internal"}),
			AuthPages: getEnvAsSlice("ROUTES_AUTH_PAGES", []string{"/sign-in", "/sign-up"}),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
			Window:   getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
			Strategy: getEnv("RATE_LIMIT_STRATEGY", "fixed"),
			Capacity: getEnvAsInt("RATE_LIMIT_CAPACITY", 10000),
		},
		Identity: IdentityConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", ""),
			Audience:  getEnv("JWT_AUDIENCE", ""),
			JWKSURL:   getEnv("JWKS_URL", ""),
			Timeout:   getEnvAsDuration("IDENTITY_TIMEOUT", 2*time.Second),
		},
		Egress: EgressConfig{
			Allowlist:    getEnvAsSlice("EGRESS_ALLOWLIST", nil),
			DenyHosts:    getEnvAsSlice("EGRESS_DENY_HOSTS", []string{"localhost", "*.internal", "*.local", "metadata.google.internal"}),
			AllowedPorts: getEnvAsIntSlice("EGRESS_ALLOWED_PORTS", []int{80, 443}),
			Timeout:      getEnvAsDuration("EGRESS_TIMEOUT", 10*time.Second),
			MaxRedirects: getEnvAsInt("EGRESS_MAX_REDIRECTS", 5),
			MaxBodyBytes: int64(getEnvAsInt("EGRESS_MAX_BODY_BYTES", 1<<20)),
			DNSServers:   getEnvAsSlice("EGRESS_DNS_SERVERS", nil),
		},
		Policy: PolicyConfig{
			File: getEnv("POLICY_FILE", ""),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Audit: AuditConfig{
			BufferSize: getEnvAsInt("AUDIT_BUFFER_SIZE", 1024),
			Workers:    getEnvAsInt("AUDIT_WORKERS", 2),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}
	cfg.Server.TLS.Enabled = getEnvAsBool("TLS_ENABLED", false)
	cfg.Server.TLS.CertFile = getEnv("TLS_CERT_FILE", "certs/cert.pem")
	cfg.Server.TLS.KeyFile = getEnv("TLS_KEY_FILE", "certs/key.pem")

	if len(cfg.Security.InternalAPIKeys) == 0 && !cfg.IsProduction() {
		cfg.Security.InternalAPIKeys = []string{DemoInternalKey}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultContentSecurityPolicy is applied when CONTENT_SECURITY_POLICY is unset
const DefaultContentSecurityPolicy = "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; " +
	"img-src 'self' data: https:; font-src 'self'; connect-src 'self'; frame-ancestors 'none'; " +
	"base-uri 'self'; form-action 'self'"

// Validate checks struct constraints and production hardening rules
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Database != nil && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("tls enabled but certificate or key file missing")
	}

	if len(c.Security.InternalAPIKeys) == 0 {
		return fmt.Errorf("at least one internal API key is required")
	}

	if c.IsProduction() {
		for _, key := range c.Security.InternalAPIKeys {
			if len(key) < 16 {
				return fmt.Errorf("internal API keys must be at least 16 bytes in production")
			}
			if key == DemoInternalKey {
				return fmt.Errorf("demo internal API key is not allowed in production")
			}
		}
		if c.Identity.JWTSecret == "" && c.Identity.JWKSURL == "" {
			return fmt.Errorf("JWT_SECRET or JWKS_URL is required in production")
		}
		for _, origin := range c.CORS.AllowedOrigins {
			if origin == "*" {
				return fmt.Errorf("wildcard CORS origin is not allowed in production")
			}
		}
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// Returns nil when neither is set; the service then runs without a session store.
func loadDatabaseConfig() *DatabaseConfig {
	pool := DatabaseConfig{
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		pool.ConnectionString = dbURL
		return &pool
	}
	if getEnv("DB_HOST", "") == "" {
		return nil
	}
	pool.Host = getEnv("DB_HOST", "")
	pool.Port = getEnvAsInt("DB_PORT", 5432)
	pool.User = getEnv("DB_USER", "")
	pool.Password = getEnv("DB_PASSWORD", "")
	pool.Database = getEnv("DB_NAME", "")
	pool.SSLMode = getEnv("DB_SSLMODE", "disable")
	return &pool
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice splits a comma separated value, dropping blanks
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvAsIntSlice(key string, defaultValue []int) []int {
	parts := getEnvAsSlice(key, nil)
	if len(parts) == 0 {
		return defaultValue
	}
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil {
			return defaultValue
		}
		out = append(out, v)
	}
	return out
}
