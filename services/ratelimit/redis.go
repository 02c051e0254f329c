package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultPrefix namespaces limiter keys in a shared Redis
const DefaultPrefix = "rl:"

const redisTimeout = 250 * time.Millisecond

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

var slidingLogScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1])
local allowed = 0
if count < limit then
  redis.call("ZADD", KEYS[1], now, ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call("PEXPIRE", KEYS[1], window)
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local reset = now + window
if oldest[2] then
  reset = tonumber(oldest[2]) + window
end
return {allowed, count, reset}
`)

// RedisLimiter shares window state across instances through Redis.
// Each decision is a single Lua script, so concurrent increments never interleave.
// Any Redis failure degrades to the fallback limiter.
type RedisLimiter struct {
	client   redis.UniversalClient
	strategy Strategy
	prefix   string
	fallback Limiter
	logger   *zap.Logger
	now      func() time.Time
}

// NewRedisLimiter creates a RedisLimiter
func NewRedisLimiter(client redis.UniversalClient, strategy Strategy, prefix string, fallback Limiter, logger *zap.Logger) *RedisLimiter {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if strategy != StrategySliding {
		strategy = StrategyFixed
	}
	if fallback == nil {
		fallback = NewMemoryLimiter(strategy, DefaultCapacity)
	}
	return &RedisLimiter{
		client:   client,
		strategy: strategy,
		prefix:   prefix,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// Allow implements Limiter
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) Result {
	limit, window = normalizeLimit(limit, window)
	if l.client == nil {
		return l.fallback.Allow(ctx, key, limit, window)
	}

	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	redisKey := l.prefix + string(l.strategy) + ":" + strconv.FormatInt(window.Milliseconds(), 10) + ":" + key

	var (
		res Result
		err error
	)
	if l.strategy == StrategySliding {
		res, err = l.sliding(ctx, redisKey, limit, window)
	} else {
		res, err = l.fixed(ctx, redisKey, limit, window)
	}
	if err != nil {
		l.logger.Warn("redis rate limit store unavailable, using in-memory fallback",
			zap.String("key", key),
			zap.Error(err))
		return l.fallback.Allow(ctx, key, limit, window)
	}
	return res
}

func (l *RedisLimiter) fixed(ctx context.Context, redisKey string, limit int, window time.Duration) (Result, error) {
	vals, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, err
	}
	if len(vals) < 2 {
		return Result{}, redis.Nil
	}
	count, ttlMs := int(vals[0]), vals[1]
	if ttlMs < 0 {
		ttlMs = window.Milliseconds()
	}
	return Result{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remainingFor(limit, count),
		Count:     count,
		ResetAt:   l.now().Add(time.Duration(ttlMs) * time.Millisecond),
	}, nil
}

func (l *RedisLimiter) sliding(ctx context.Context, redisKey string, limit int, window time.Duration) (Result, error) {
	nowMs := l.now().UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()
	vals, err := slidingLogScript.Run(ctx, l.client, []string{redisKey},
		nowMs, window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return Result{}, err
	}
	if len(vals) < 3 {
		return Result{}, redis.Nil
	}
	allowed := vals[0] == 1
	count := int(vals[1])
	hits := count
	if !allowed {
		hits = count + 1
	}
	return Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remainingFor(limit, count),
		Count:     hits,
		ResetAt:   time.UnixMilli(vals[2]),
	}, nil
}
