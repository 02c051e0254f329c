package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/upb/request-shield/middleware"
	"github.com/upb/request-shield/services"
	"github.com/upb/request-shield/services/audit"
	"github.com/upb/request-shield/services/egress"
	"github.com/upb/request-shield/services/sanitize"
	"github.com/upb/request-shield/utils"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

const maxPreviewText = 300

// URLFetcher performs a validated outbound GET
type URLFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*egress.Response, error)
}

// LinkPreviewRequest is the body of POST /api/link-preview
type LinkPreviewRequest struct {
	URL string `json:"url" validate:"required,http_url,max=2048"`
}

// LinkPreview summarizes a fetched page
type LinkPreview struct {
	URL         string `json:"url"`
	FinalURL    string `json:"final_url"`
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// LinkPreviewHandler fetches user-supplied URLs through the egress guard
type LinkPreviewHandler struct {
	fetcher   URLFetcher
	sanitizer *sanitize.Sanitizer
	audit     *audit.AuditService
	logger    *zap.Logger
}

// NewLinkPreviewHandler creates a new LinkPreviewHandler
func NewLinkPreviewHandler(fetcher URLFetcher, auditService *audit.AuditService, logger *zap.Logger) *LinkPreviewHandler {
	return &LinkPreviewHandler{
		fetcher:   fetcher,
		sanitizer: sanitize.Default(),
		audit:     auditService,
		logger:    logger,
	}
}

// HandlePreview handles POST /api/link-preview
func (h *LinkPreviewHandler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	var req LinkPreviewRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	ctx := r.Context()
	resp, err := h.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		if services.IsEgressRejection(err) {
			h.audit.LogEgressBlocked(audit.RequestInfo{
				RequestID:  middleware.GetRequestIDFromContext(ctx),
				ClientIP:   middleware.GetClientIPFromContext(ctx),
				Path:       r.URL.Path,
				RouteClass: middleware.GetRouteClassFromContext(ctx),
			}, middleware.GetSecurityContext(r), req.URL, string(services.GetErrorType(err)))
		}
		HandleServiceError(w, err, h.logger)
		return
	}

	preview := LinkPreview{
		URL:        req.URL,
		FinalURL:   resp.FinalURL,
		StatusCode: resp.StatusCode,
		Truncated:  resp.Truncated,
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	preview.ContentType = mediaType
	if mediaType == "text/html" || mediaType == "application/xhtml+xml" {
		preview.Title, preview.Description = extractMeta(bytes.NewReader(resp.Body))
	}

	_ = utils.WriteOK(w, h.sanitizer.Sanitize(preview))
}

// extractMeta reads the page title and description from the document head.
// og: properties win over the plain title and description tags.
func extractMeta(r io.Reader) (title, description string) {
	var ogTitle, ogDescription string
	z := html.NewTokenizer(r)
	inTitle := false

	for {
		switch z.Next() {
		case html.ErrorToken:
			return pick(ogTitle, title), pick(ogDescription, description)

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "title":
				inTitle = true
			case "meta":
				name, content := metaAttrs(tok)
				switch name {
				case "og:title":
					ogTitle = content
				case "og:description":
					ogDescription = content
				case "description":
					description = content
				}
			case "body":
				return pick(ogTitle, title), pick(ogDescription, description)
			}

		case html.TextToken:
			if inTitle && title == "" {
				title = strings.TrimSpace(string(z.Text()))
			}

		case html.EndTagToken:
			if tok := z.Token(); tok.Data == "title" {
				inTitle = false
			}
		}
	}
}

func metaAttrs(tok html.Token) (name, content string) {
	for _, a := range tok.Attr {
		switch strings.ToLower(a.Key) {
		case "name", "property":
			name = strings.ToLower(a.Val)
		case "content":
			content = a.Val
		}
	}
	return name, content
}

func pick(preferred, fallback string) string {
	v := preferred
	if v == "" {
		v = fallback
	}
	v = strings.Join(strings.Fields(v), " ")
	if runes := []rune(v); len(runes) > maxPreviewText {
		v = string(runes[:maxPreviewText])
	}
	return v
}
