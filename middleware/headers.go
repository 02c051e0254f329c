package middleware

import "net/http"

// SecurityHeaders is the baseline header set written on every response
type SecurityHeaders struct {
	FrameOptions          string
	ContentTypeOptions    string
	ReferrerPolicy        string
	ContentSecurityPolicy string
	PermissionsPolicy     string
	// StrictTransportSecurity is only sent when non-empty; set it when TLS is on
	StrictTransportSecurity string
}

// DefaultHSTS is the Strict-Transport-Security value used with TLS
const DefaultHSTS = "max-age=63072000; includeSubDomains"

// NewSecurityHeaders returns the baseline headers with the given CSP.
// An empty csp keeps a restrictive default.
func NewSecurityHeaders(csp, permissionsPolicy string, tls bool) SecurityHeaders {
	if csp == "" {
		csp = "default-src 'self'; frame-ancestors 'none'; base-uri 'self'"
	}
	h := SecurityHeaders{
		FrameOptions:          "DENY",
		ContentTypeOptions:    "nosniff",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: csp,
		PermissionsPolicy:     permissionsPolicy,
	}
	if tls {
		h.StrictTransportSecurity = DefaultHSTS
	}
	return h
}

// Apply writes the headers, replacing any value a handler set earlier
func (s SecurityHeaders) Apply(h http.Header) {
	h.Set("X-Frame-Options", s.FrameOptions)
	h.Set("X-Content-Type-Options", s.ContentTypeOptions)
	h.Set("Referrer-Policy", s.ReferrerPolicy)
	h.Set("Content-Security-Policy", s.ContentSecurityPolicy)
	if s.PermissionsPolicy != "" {
		h.Set("Permissions-Policy", s.PermissionsPolicy)
	}
	if s.StrictTransportSecurity != "" {
		h.Set("Strict-Transport-Security", s.StrictTransportSecurity)
	}
}

// headerWriter re-applies the baseline right before the status line goes
// out, so a handler cannot drop or weaken a security header.
type headerWriter struct {
	http.ResponseWriter
	headers     SecurityHeaders
	wroteHeader bool
}

func (w *headerWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.headers.Apply(w.ResponseWriter.Header())
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *headerWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Flush keeps streaming handlers working behind the wrapper
func (w *headerWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController
func (w *headerWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
