package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/request-shield/models"
	"github.com/upb/request-shield/services"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func fixed(identity *models.Identity, err error) ProviderFunc {
	return func(context.Context, *http.Request) (*models.Identity, error) {
		return identity, err
	}
}

func TestChainProvider(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.Background()
	alice := &models.Identity{SubjectID: "alice"}
	bob := &models.Identity{SubjectID: "bob"}
	outage := services.NewDomainError(services.ErrorTypeExternal, "down", nil)

	tests := []struct {
		name      string
		providers []Provider
		want      string
		wantErr   func(error) bool
	}{
		{
			name:      "first identity wins",
			providers: []Provider{fixed(nil, services.ErrNoCredential), fixed(alice, nil), fixed(bob, nil)},
			want:      "alice",
		},
		{
			name:      "failure does not stop the chain",
			providers: []Provider{fixed(nil, outage), fixed(bob, nil)},
			want:      "bob",
		},
		{
			name:      "nothing presented",
			providers: []Provider{fixed(nil, services.ErrNoCredential), nil},
			wantErr:   isNoCredential,
		},
		{
			name:      "first real failure is reported",
			providers: []Provider{fixed(nil, services.ErrNoCredential), fixed(nil, outage), fixed(nil, services.ErrInvalidToken)},
			wantErr:   services.IsExternalError,
		},
		{
			name:      "empty chain",
			providers: nil,
			wantErr:   isNoCredential,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity, err := NewChainProvider(tt.providers...).Authenticate(ctx, r)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, tt.wantErr(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, identity.SubjectID)
		})
	}
}

func TestResolver_AbsorbsFailures(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)

	tests := []struct {
		name     string
		provider Provider
		wantSub  string
		wantWarn bool
	}{
		{name: "identity", provider: fixed(&models.Identity{SubjectID: "u1", TenantID: "acme"}, nil), wantSub: "u1"},
		{name: "no credential", provider: fixed(nil, services.ErrNoCredential)},
		{name: "invalid credential", provider: fixed(nil, services.ErrInvalidToken)},
		{name: "provider outage", provider: fixed(nil, errors.New("connection refused")), wantWarn: true},
		{name: "nil provider", provider: nil},
		{
			name:     "expired identity",
			provider: fixed(&models.Identity{SubjectID: "u1", ExpiresAt: time.Now().Add(-time.Minute)}, nil),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.DebugLevel)
			sc := NewResolver(tt.provider, time.Second, zap.New(core)).Resolve(context.Background(), r)

			assert.Equal(t, tt.wantSub, sc.SubjectID())
			assert.Equal(t, tt.wantSub != "", sc.IsAuthenticated())
			assert.Equal(t, tt.wantWarn, logs.FilterLevelExact(zap.WarnLevel).Len() > 0)
		})
	}
}

func TestResolver_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	slow := ProviderFunc(func(ctx context.Context, r *http.Request) (*models.Identity, error) {
		<-release
		return &models.Identity{SubjectID: "late"}, nil
	})

	res := NewResolver(slow, 20*time.Millisecond, zap.NewNop())
	start := time.Now()
	sc := res.Resolve(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.False(t, sc.IsAuthenticated())
	assert.Less(t, time.Since(start), time.Second)
}

func TestResolver_RequestCache(t *testing.T) {
	var calls int32
	provider := ProviderFunc(func(context.Context, *http.Request) (*models.Identity, error) {
		atomic.AddInt32(&calls, 1)
		return &models.Identity{SubjectID: "u1"}, nil
	})
	res := NewResolver(provider, time.Second, zap.NewNop())
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	ctx := WithRequestCache(context.Background())
	assert.Equal(t, ctx, WithRequestCache(ctx), "cache is attached once")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "u1", res.Resolve(ctx, r).SubjectID())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// a new request gets a fresh cache
	res.Resolve(WithRequestCache(context.Background()), r)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	// without a cache every call reaches the provider
	res.Resolve(context.Background(), r)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
