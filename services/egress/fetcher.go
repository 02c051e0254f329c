package egress

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/upb/request-shield/internal/observability"
	"github.com/upb/request-shield/services"
	"go.uber.org/zap"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxRedirects = 5
	DefaultMaxBodyBytes = 1 << 20
	userAgent           = "request-shield/1.0"
)

// Response is a fetched and size-capped response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Truncated  bool
	FinalURL   string
}

// Fetcher performs outbound GET requests against validated destinations only
type Fetcher struct {
	validator    *Validator
	client       *http.Client
	maxRedirects int
	maxBodyBytes int64
	logger       *zap.Logger
}

type destinationKey struct{}

// NewFetcher creates a fetcher that validates every hop with v
func NewFetcher(v *Validator, logger *zap.Logger) *Fetcher {
	opts := v.opts
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.MaxRedirects == 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}

	f := &Fetcher{
		validator:    v,
		maxRedirects: opts.MaxRedirects,
		maxBodyBytes: opts.MaxBodyBytes,
		logger:       logger,
	}

	base := &http.Transport{
		Proxy:                 nil,
		DisableKeepAlives:     true,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	f.client = &http.Client{
		Timeout:       opts.Timeout,
		Transport:     &pinningTransport{base: base, validator: v},
		CheckRedirect: f.checkRedirect,
	}
	return f
}

// Validator returns the validator used for every hop
func (f *Fetcher) Validator() *Validator {
	return f.validator
}

// Fetch validates rawURL, then GETs it. Validation failures return before
// any connection is made; redirects are re-validated hop by hop.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	logger := observability.WithRequest(f.logger, ctx)

	dest, err := f.validator.Validate(ctx, rawURL)
	if err != nil {
		logger.Warn("egress destination rejected",
			zap.String("url", rawURL),
			zap.String("type", string(services.GetErrorType(err))),
			zap.Error(err))
		return nil, err
	}

	req, err := http.NewRequestWithContext(context.WithValue(ctx, destinationKey{}, dest), http.MethodGet, dest.URL.String(), nil)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeInvalidURL, "cannot build request", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		var derr *services.DomainError
		if errors.As(err, &derr) {
			logger.Warn("egress redirect rejected",
				zap.String("url", rawURL),
				zap.String("type", string(derr.Type)),
				zap.Error(derr))
			return nil, derr
		}
		logger.Warn("egress request failed", zap.String("url", rawURL), zap.Error(err))
		return nil, services.NewDomainError(services.ErrorTypeNetwork, "request failed", err).
			WithDetail("host", dest.Host)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeNetwork, "failed to read response body", err).
			WithDetail("host", dest.Host)
	}
	truncated := int64(len(body)) > f.maxBodyBytes
	if truncated {
		body = body[:f.maxBodyBytes]
	}

	logger.Debug("egress request completed",
		zap.String("url", rawURL),
		zap.String("final_url", resp.Request.URL.String()),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)))

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Truncated:  truncated,
		FinalURL:   resp.Request.URL.String(),
	}, nil
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if f.maxRedirects < 0 || len(via) > f.maxRedirects {
		return services.NewDomainError(services.ErrorTypeRedirectBlocked, "too many redirects", nil).
			WithDetail("max_redirects", f.maxRedirects)
	}
	if _, err := f.validator.ValidateURL(req.Context(), req.URL); err != nil {
		return services.NewDomainError(services.ErrorTypeRedirectBlocked, "redirect target rejected", err).
			WithDetail("location", req.URL.String()).
			WithDetail("cause", string(services.GetErrorType(err)))
	}
	return nil
}

// pinningTransport dials the addresses that passed validation, in order,
// instead of letting the dialer resolve the hostname again.
type pinningTransport struct {
	base      *http.Transport
	validator *Validator
}

func (t *pinningTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	dest, ok := req.Context().Value(destinationKey{}).(*Destination)
	if !ok || dest.URL.String() != req.URL.String() {
		var err error
		if dest, err = t.validator.ValidateURL(req.Context(), req.URL); err != nil {
			return nil, err
		}
	}

	pinned := t.base.Clone()
	targets := dest.DialAddresses()
	pinned.DialContext = func(ctx context.Context, network, _ string) (net.Conn, error) {
		return dialFirst(ctx, network, targets)
	}
	if req.URL.Scheme == "https" {
		pinned.TLSClientConfig.ServerName = dest.Host
	}

	resp, err := pinned.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", dest.Host, err)
	}
	return resp, nil
}

// dialFirst connects to the first reachable target
func dialFirst(ctx context.Context, network string, targets []string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	var errs []error
	for _, target := range targets {
		conn, err := dialer.DialContext(ctx, network, target)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}
