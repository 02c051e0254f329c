package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/request-shield/models"
	"github.com/upb/request-shield/services/audit"
	"github.com/upb/request-shield/services/egress"
	"github.com/upb/request-shield/utils"
	"go.uber.org/zap"
)

type eventSink struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
}

func (s *eventSink) Write(_ context.Context, events []*models.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func newPreviewHandler(t *testing.T, opts egress.Options) (*LinkPreviewHandler, *audit.AuditService, *eventSink) {
	t.Helper()
	sink := &eventSink{}
	svc := audit.NewAuditService(sink, zap.NewNop(), audit.Config{BufferSize: 8, WorkerCount: 1, BatchSize: 1, FlushInterval: 10 * time.Millisecond})
	require.NoError(t, svc.Start())

	fetcher := egress.NewFetcher(egress.NewValidator(opts, nil), zap.NewNop())
	return NewLinkPreviewHandler(fetcher, svc, zap.NewNop()), svc, sink
}

func postPreview(h *LinkPreviewHandler, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.HandlePreview(w, httptest.NewRequest(http.MethodPost, "/api/link-preview", strings.NewReader(body)))
	return w
}

func TestLinkPreview_ExtractsMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<!doctype html><html><head>
<title>  Plain   title </title>
<meta property="og:description" content="An open graph description">
<meta name="description" content="fallback">
</head><body><title>ignored</title></body></html>`))
	}))
	defer srv.Close()

	h, svc, _ := newPreviewHandler(t, egress.Options{Allowlist: []string{"127.0.0.1"}})
	defer svc.Stop(time.Second)

	w := postPreview(h, `{"url":"`+srv.URL+`/page"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data LinkPreview `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Plain title", resp.Data.Title)
	assert.Equal(t, "An open graph description", resp.Data.Description)
	assert.Equal(t, "text/html", resp.Data.ContentType)
	assert.Equal(t, http.StatusOK, resp.Data.StatusCode)
}

func TestLinkPreview_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		audited    bool
	}{
		{name: "malformed body", body: `{"url":`, wantStatus: http.StatusBadRequest},
		{name: "unknown field", body: `{"url":"https://example.com","x":1}`, wantStatus: http.StatusBadRequest},
		{name: "missing url", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "non http scheme", body: `{"url":"file:///etc/passwd"}`, wantStatus: http.StatusBadRequest},
		{name: "cloud metadata", body: `{"url":"http://169.254.169.254/latest/meta-data"}`, wantStatus: http.StatusForbidden, audited: true},
		{name: "loopback", body: `{"url":"http://127.0.0.1:8080/admin"}`, wantStatus: http.StatusForbidden, audited: true},
		{name: "private range", body: `{"url":"http://10.0.0.5/"}`, wantStatus: http.StatusForbidden, audited: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, svc, sink := newPreviewHandler(t, egress.Options{})

			w := postPreview(h, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			var resp utils.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)

			require.NoError(t, svc.Stop(time.Second))
			sink.mu.Lock()
			defer sink.mu.Unlock()
			if tt.audited {
				require.Len(t, sink.events, 1)
				assert.Equal(t, models.SecurityEventEgressBlocked, sink.events[0].Kind)
			} else {
				assert.Empty(t, sink.events)
			}
		})
	}
}

func TestExtractMeta(t *testing.T) {
	tests := []struct {
		name, doc, title, description string
	}{
		{"og wins", `<head><title>t</title><meta property="og:title" content="OG"></head>`, "OG", ""},
		{"plain", `<head><title>Hello</title><meta name="Description" content="d"></head>`, "Hello", "d"},
		{"stops at body", `<head></head><body><title>late</title></body>`, "", ""},
		{"long title is cut", `<title>` + strings.Repeat("é", 400) + `</title>`, strings.Repeat("é", maxPreviewText), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, description := extractMeta(strings.NewReader(tt.doc))
			assert.Equal(t, tt.title, title)
			assert.Equal(t, tt.description, description)
		})
	}
}
