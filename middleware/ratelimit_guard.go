package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/upb/request-shield/services/ratelimit"
)

// Rate limit response headers
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// RateLimitGuard enforces a per-client-IP request budget
type RateLimitGuard struct {
	limiter ratelimit.Limiter
	limit   int
	window  time.Duration
	now     func() time.Time
}

// NewRateLimitGuard creates the rate limit check. A nil limiter disables it.
func NewRateLimitGuard(limiter ratelimit.Limiter, limit int, window time.Duration) *RateLimitGuard {
	return &RateLimitGuard{limiter: limiter, limit: limit, window: window, now: time.Now}
}

// Name implements Guard
func (g *RateLimitGuard) Name() string { return "rate" }

// Passed implements Guard
func (g *RateLimitGuard) Passed() State { return StateRateChecked }

// Evaluate implements Guard
func (g *RateLimitGuard) Evaluate(ctx context.Context, req *Request) Decision {
	if g.limiter == nil {
		return Continue()
	}

	res := g.limiter.Allow(ctx, "ip:"+req.ClientIP, g.limit, g.window)
	req.Header.Set(HeaderRateLimitLimit, strconv.Itoa(res.Limit))
	req.Header.Set(HeaderRateLimitRemaining, strconv.Itoa(res.Remaining))
	req.Header.Set(HeaderRateLimitReset, strconv.FormatInt(res.ResetAt.Unix(), 10))

	if !res.Allowed {
		retry := res.RetryAfter(g.now())
		req.Header.Set(HeaderRetryAfter, strconv.Itoa(int(retry/time.Second)))
		return Reject(http.StatusTooManyRequests, "Too Many Requests")
	}
	return Continue()
}
