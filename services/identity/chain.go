package identity

import (
	"context"
	"net/http"

	"github.com/upb/request-shield/models"
	"github.com/upb/request-shield/services"
)

// ChainProvider tries providers in order; the first one returning an identity wins
type ChainProvider struct {
	providers []Provider
}

// NewChainProvider creates a chain. Nil providers are skipped.
func NewChainProvider(providers ...Provider) *ChainProvider {
	c := &ChainProvider{}
	for _, p := range providers {
		if p != nil {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

// Authenticate implements Provider. When no provider produces an identity the
// first real failure is returned, or ErrNoCredential if every provider found
// nothing to check.
func (c *ChainProvider) Authenticate(ctx context.Context, r *http.Request) (*models.Identity, error) {
	var firstErr error
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		identity, err := p.Authenticate(ctx, r)
		if err == nil && identity != nil {
			return identity, nil
		}
		if err != nil && !isNoCredential(err) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, services.ErrNoCredential
}

// Len returns the number of providers in the chain
func (c *ChainProvider) Len() int {
	return len(c.providers)
}
