package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Strategy selects the window accounting used by a limiter
type Strategy string

const (
	StrategyFixed   Strategy = "fixed"
	StrategySliding Strategy = "sliding"
	StrategyToken   Strategy = "token"
)

// IsValid returns true if the strategy is known
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyFixed, StrategySliding, StrategyToken:
		return true
	}
	return false
}

// Result represents the outcome of a single Allow call
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Count     int
	ResetAt   time.Time
}

// RetryAfter returns how long the caller should wait before retrying
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed {
		return 0
	}
	d := r.ResetAt.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d.Round(time.Second)
}

// Limiter decides whether a request identified by key fits within limit per window.
// Implementations never block and are safe for concurrent use.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) Result
}

// Options configures NewLimiter
type Options struct {
	Strategy Strategy
	Capacity int
	Prefix   string
}

// NewLimiter returns a Redis-backed limiter when client is non-nil, with an
// in-memory limiter as fallback; otherwise the in-memory limiter alone.
func NewLimiter(opts Options, client redis.UniversalClient, logger *zap.Logger) (Limiter, error) {
	if opts.Strategy == "" {
		opts.Strategy = StrategyFixed
	}
	if !opts.Strategy.IsValid() {
		return nil, fmt.Errorf("unknown rate limit strategy %q", opts.Strategy)
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}

	memory := NewMemoryLimiter(opts.Strategy, opts.Capacity)
	if client == nil {
		logger.Info("rate limiter using in-memory store",
			zap.String("strategy", string(opts.Strategy)),
			zap.Int("capacity", opts.Capacity))
		return memory, nil
	}

	if opts.Strategy == StrategyToken {
		logger.Warn("token bucket strategy is not shared across instances, using in-memory store")
		return memory, nil
	}

	logger.Info("rate limiter using redis store",
		zap.String("strategy", string(opts.Strategy)))
	return NewRedisLimiter(client, opts.Strategy, opts.Prefix, memory, logger), nil
}

func normalizeLimit(limit int, window time.Duration) (int, time.Duration) {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return limit, window
}

func remainingFor(limit, count int) int {
	if remaining := limit - count; remaining > 0 {
		return remaining
	}
	return 0
}
