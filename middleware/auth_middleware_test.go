package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/request-shield/models"
	"github.com/upb/request-shield/services/identity"
	"go.uber.org/zap"
)

func evaluateAuth(g *AuthGuard, class models.RouteClass, target, authz string) (Decision, *Request) {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	if authz != "" {
		r.Header.Set("Authorization", authz)
	}
	req := &Request{HTTP: r, Path: r.URL.Path, Class: class, Security: models.Anonymous(), Header: make(http.Header)}
	return g.Evaluate(context.Background(), req), req
}

func TestAuthGuard_Evaluate(t *testing.T) {
	g := NewAuthGuard(identity.NewResolver(tokenProvider(nil), time.Second, zap.NewNop()), "/sign-in", "/dashboard")

	tests := []struct {
		name         string
		class        models.RouteClass
		target       string
		authz        string
		wantStatus   int // 0 means continue
		wantLocation string
	}{
		{name: "public anonymous", class: models.RouteClassPublic, target: "/", wantStatus: 0},
		{name: "public with bad token", class: models.RouteClassPublic, target: "/", authz: "Bearer bad", wantStatus: 0},
		{name: "protected page anonymous", class: models.RouteClassProtected, target: "/dashboard?x=1", wantStatus: http.StatusTemporaryRedirect, wantLocation: "/sign-in?redirect_url=%2Fdashboard%3Fx%3D1"},
		{name: "protected api anonymous", class: models.RouteClassProtected, target: "/api/tenants/acme", wantStatus: http.StatusUnauthorized},
		{name: "protected api upper case", class: models.RouteClassProtected, target: "/API/tenants/acme", wantStatus: http.StatusUnauthorized},
		{name: "protected page signed in", class: models.RouteClassProtected, target: "/dashboard", authz: "Bearer good", wantStatus: 0},
		{name: "protected page bad token", class: models.RouteClassProtected, target: "/dashboard", authz: "Bearer bad", wantStatus: http.StatusTemporaryRedirect, wantLocation: "/sign-in?redirect_url=%2Fdashboard"},
		{name: "auth page anonymous", class: models.RouteClassAuthPage, target: "/sign-in", wantStatus: 0},
		{name: "auth page signed in", class: models.RouteClassAuthPage, target: "/sign-in", authz: "Bearer good", wantStatus: http.StatusTemporaryRedirect, wantLocation: "/dashboard"},
		{name: "internal route is not this guard's concern", class: models.RouteClassInternalOnly, target: "/api/internal/x", wantStatus: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, _ := evaluateAuth(g, tt.class, tt.target, tt.authz)
			rej, rejected := decision.Rejected()

			if tt.wantStatus == 0 {
				assert.False(t, rejected)
				return
			}
			require.True(t, rejected)
			assert.Equal(t, tt.wantStatus, rej.Status)
			assert.Equal(t, tt.wantLocation, rej.Location)
		})
	}
}

func TestAuthGuard_ResolvesOnlyWhenNeeded(t *testing.T) {
	var calls int32
	g := NewAuthGuard(identity.NewResolver(tokenProvider(&calls), time.Second, zap.NewNop()), "", "")

	_, req := evaluateAuth(g, models.RouteClassPublic, "/", "Bearer good")
	assert.False(t, req.resolved)
	assert.Zero(t, calls)

	_, req = evaluateAuth(g, models.RouteClassProtected, "/dashboard", "Bearer good")
	assert.True(t, req.resolved)
	assert.Equal(t, "u1", req.Security.SubjectID())
	assert.Equal(t, int32(1), calls)
}

func TestAuthGuard_Defaults(t *testing.T) {
	g := NewAuthGuard(nil, "", "")

	decision, _ := evaluateAuth(g, models.RouteClassProtected, "/settings", "Bearer good")
	rej, ok := decision.Rejected()
	require.True(t, ok, "no resolver means nobody is authenticated")
	assert.Equal(t, "/sign-in?redirect_url=%2Fsettings", rej.Location)
	assert.Equal(t, "auth", g.Name())
	assert.Equal(t, StateAuthChecked, g.Passed())
}
