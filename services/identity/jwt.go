package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/request-shield/models"
	"github.com/upb/request-shield/services"
)

// JWTConfig configures JWTProvider. At least one of Secret or JWKSURL is required.
type JWTConfig struct {
	Secret       []byte // HS256
	JWKSURL      string // RS256 keys
	Issuer       string
	Audience     string
	Leeway       time.Duration
	JWKSCacheTTL time.Duration
	HTTPTimeout  time.Duration
}

// Claims is the token payload understood by JWTProvider
type Claims struct {
	jwt.RegisteredClaims
	Tenant string            `json:"tenant,omitempty"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}

// JWTProvider authenticates bearer tokens and token cookies
type JWTProvider struct {
	secret   []byte
	keys     *keySet
	parser   *jwt.Parser
	issuer   string
	audience string
}

// NewJWTProvider creates a JWT provider
func NewJWTProvider(cfg JWTConfig) (*JWTProvider, error) {
	if len(cfg.Secret) == 0 && cfg.JWKSURL == "" {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "jwt provider needs a secret or a jwks url", nil)
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = 30 * time.Second
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}

	var methods []string
	if len(cfg.Secret) > 0 {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	opts := []jwt.ParserOption{jwt.WithLeeway(cfg.Leeway), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	p := &JWTProvider{secret: cfg.Secret, issuer: cfg.Issuer, audience: cfg.Audience}
	if cfg.JWKSURL != "" {
		p.keys = newKeySet(cfg.JWKSURL, cfg.JWKSCacheTTL, &http.Client{Timeout: cfg.HTTPTimeout})
		methods = append(methods, jwt.SigningMethodRS256.Alg(), jwt.SigningMethodRS384.Alg(), jwt.SigningMethodRS512.Alg())
	}
	p.parser = jwt.NewParser(append(opts, jwt.WithValidMethods(methods))...)
	return p, nil
}

// Authenticate implements Provider. The Authorization header takes
// precedence over the token cookies.
func (p *JWTProvider) Authenticate(ctx context.Context, r *http.Request) (*models.Identity, error) {
	token := bearerToken(r)
	if token == "" {
		for _, name := range []string{TokenCookieName, LegacyCookieName} {
			if v := cookieValue(r, name); looksLikeJWT(v) {
				token = v
				break
			}
		}
	}
	if token == "" {
		return nil, services.ErrNoCredential
	}
	return p.Validate(ctx, token)
}

// Validate checks a raw token and maps its claims to an identity
func (p *JWTProvider) Validate(ctx context.Context, raw string) (*models.Identity, error) {
	claims := &Claims{}
	_, err := p.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			return p.secret, nil
		case *jwt.SigningMethodRSA:
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("kid header not found")
			}
			return p.keys.key(ctx, kid)
		}
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	})
	if err != nil {
		switch {
		case errors.Is(err, errJWKSFetch):
			return nil, services.NewDomainError(services.ErrorTypeExternal, "identity provider unavailable", err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, services.NewDomainError(services.ErrorTypeUnauthorized, "authentication token expired", err)
		}
		return nil, services.NewDomainError(services.ErrorTypeUnauthorized, "invalid authentication token", err)
	}

	if claims.Subject == "" {
		return nil, services.NewDomainError(services.ErrorTypeUnauthorized, "token has no subject", nil)
	}

	identity := &models.Identity{
		SubjectID:  claims.Subject,
		TenantID:   claims.Tenant,
		Attributes: claims.Attrs,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// Issue signs an HS256 token for identity
func (p *JWTProvider) Issue(identity *models.Identity, ttl time.Duration) (string, error) {
	if len(p.secret) == 0 {
		return "", services.NewDomainError(services.ErrorTypeValidation, "token issuing requires a secret", nil)
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.SubjectID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Tenant: identity.TenantID,
		Attrs:  identity.Attributes,
	}
	if p.audience != "" {
		claims.Audience = jwt.ClaimStrings{p.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", services.WrapInternal("failed to sign token", err)
	}
	return signed, nil
}

func looksLikeJWT(v string) bool {
	return strings.Count(v, ".") == 2 && strings.HasPrefix(v, "eyJ")
}
