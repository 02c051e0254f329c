package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/request-shield/app"
	"github.com/upb/request-shield/config"
	"github.com/upb/request-shield/middleware"
	"go.uber.org/zap"
)

const testKey = "routes-test-key"

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	for k, v := range map[string]string{
		"ENVIRONMENT":         "test",
		"DATABASE_URL":        "",
		"DB_HOST":             "",
		"REDIS_ADDR":          "",
		"POLICY_FILE":         "",
		"INTERNAL_API_KEYS":   testKey,
		"JWT_SECRET":          "routes-test-secret-0123456789abcdef",
		"RATE_LIMIT_REQUESTS": "5",
	} {
		t.Setenv(k, v)
	}

	cfg, err := config.New(context.Background())
	require.NoError(t, err)

	deps, err := app.NewDependencies(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, deps.Start(context.Background()))
	t.Cleanup(func() { _ = deps.Close(context.Background()) })

	return SetupRoutes(deps)
}

// request sends from its own client address so the rate limit of one
// subtest does not leak into another
func request(h http.Handler, method, target, ip string, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("X-Forwarded-For", ip)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func mintToken(t *testing.T, h http.Handler, subject, tenant string) string {
	t.Helper()
	w := request(h, http.MethodPost, "/api/internal/sessions", "10.0.0.1",
		`{"subject_id":"`+subject+`","tenant_id":"`+tenant+`"}`,
		map[string]string{middleware.InternalKeyHeader: testKey})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.Token)
	return resp.Data.Token
}

func TestSetupRoutes_Perimeter(t *testing.T) {
	h := newTestServer(t)

	tests := []struct {
		name         string
		method       string
		target       string
		header       map[string]string
		wantStatus   int
		wantLocation string
	}{
		{name: "liveness", method: http.MethodGet, target: "/healthz", wantStatus: http.StatusOK},
		{name: "readiness without stores", method: http.MethodGet, target: "/readyz", wantStatus: http.StatusOK},
		{name: "public home", method: http.MethodGet, target: "/", wantStatus: http.StatusOK},
		{name: "anonymous sign-in page", method: http.MethodGet, target: "/sign-in", wantStatus: http.StatusOK},
		{
			name:       "internal without key",
			method:     http.MethodGet,
			target:     "/api/internal/test",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "internal with key",
			method:     http.MethodGet,
			target:     "/api/internal/test",
			header:     map[string]string{middleware.InternalKeyHeader: testKey},
			wantStatus: http.StatusOK,
		},
		{
			name:       "internal with demo key when keys are configured",
			method:     http.MethodGet,
			target:     "/api/internal/test",
			header:     map[string]string{middleware.InternalKeyHeader: config.DemoInternalKey},
			wantStatus: http.StatusForbidden,
		},
		{
			name:         "anonymous dashboard redirects",
			method:       http.MethodGet,
			target:       "/dashboard?tab=usage",
			wantStatus:   http.StatusTemporaryRedirect,
			wantLocation: "/sign-in?redirect_url=%2Fdashboard%3Ftab%3Dusage",
		},
		{
			name:       "anonymous document api",
			method:     http.MethodGet,
			target:     "/api/tenants/acme/documents/1",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "anonymous link preview",
			method:     http.MethodPost,
			target:     "/api/link-preview",
			wantStatus: http.StatusUnauthorized,
		},
		{name: "unknown route", method: http.MethodGet, target: "/nope", wantStatus: http.StatusNotFound},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := request(h, tt.method, tt.target, fmt.Sprintf("10.1.0.%d", i+1), "", tt.header)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantLocation != "" {
				assert.Equal(t, tt.wantLocation, w.Header().Get("Location"))
			}
			assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
			assert.NotEmpty(t, w.Header().Get("Content-Security-Policy"))
			assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
		})
	}
}

func TestSetupRoutes_AuthenticatedDocuments(t *testing.T) {
	h := newTestServer(t)
	token := mintToken(t, h, "u1", "acme")
	bearer := map[string]string{"Authorization": "Bearer " + token}

	w := request(h, http.MethodGet, "/api/tenants/acme/documents/1", "10.2.0.1", "", bearer)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "internal_notes")
	assert.NotContains(t, w.Body.String(), "password_hash")

	w = request(h, http.MethodGet, "/api/tenants/globex/documents/1", "10.2.0.1", "", bearer)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// no editor attribute
	w = request(h, http.MethodPut, "/api/tenants/acme/documents/1", "10.2.0.1", `{"title":"x"}`, bearer)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = request(h, http.MethodGet, "/sign-in", "10.2.0.1", "", bearer)
	assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.Equal(t, "/dashboard", w.Header().Get("Location"))

	w = request(h, http.MethodGet, "/dashboard", "10.2.0.1", "", bearer)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"subject_id":"u1"`)
}

func TestSetupRoutes_LinkPreviewBlocksInternalTargets(t *testing.T) {
	h := newTestServer(t)
	bearer := map[string]string{"Authorization": "Bearer " + mintToken(t, h, "u1", "acme")}

	for _, target := range []string{
		"http://localhost/admin",
		"http://169.254.169.254/latest/meta-data/",
		"http://10.0.0.5/",
	} {
		w := request(h, http.MethodPost, "/api/link-preview", "10.3.0.1", `{"url":"`+target+`"}`, bearer)
		assert.Equal(t, http.StatusForbidden, w.Code, target)
	}
}

func TestSetupRoutes_RateLimit(t *testing.T) {
	h := newTestServer(t)

	for i := 0; i < 5; i++ {
		w := request(h, http.MethodGet, "/", "10.4.0.1", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := request(h, http.MethodGet, "/", "10.4.0.1", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRetryAfter))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	// another client is unaffected
	w = request(h, http.MethodGet, "/", "10.4.0.2", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
