package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultCapacity bounds the number of tracked keys when none is configured
const DefaultCapacity = 10000

// entry is the per-key window state
type entry struct {
	key         string
	limit       int
	window      time.Duration
	windowStart time.Time     // fixed
	count       int           // fixed
	log         []time.Time   // sliding, oldest first, len <= limit
	bucket      *rate.Limiter // token
	lastSeen    time.Time
	element     *list.Element // For LRU tracking
}

func (e *entry) idle(now time.Time) bool {
	return now.Sub(e.lastSeen) > e.window
}

// MemoryLimiter is an in-process limiter with LRU eviction once capacity is reached.
// A single mutex serializes all updates, so increments for the same key are linearizable.
type MemoryLimiter struct {
	mu        sync.Mutex
	strategy  Strategy
	entries   map[string]*entry
	lruList   *list.List // front is most recently used
	capacity  int
	evictions uint64
	now       func() time.Time
}

// NewMemoryLimiter creates a MemoryLimiter tracking at most capacity keys
func NewMemoryLimiter(strategy Strategy, capacity int) *MemoryLimiter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if !strategy.IsValid() {
		strategy = StrategyFixed
	}
	return &MemoryLimiter{
		strategy: strategy,
		entries:  make(map[string]*entry),
		lruList:  list.New(),
		capacity: capacity,
		now:      time.Now,
	}
}

// Allow records one hit for key and reports whether it fits the budget
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) Result {
	limit, window = normalizeLimit(limit, window)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e := l.touch(key, limit, window, now)

	switch l.strategy {
	case StrategySliding:
		return l.allowSliding(e, now)
	case StrategyToken:
		return l.allowToken(e, now)
	default:
		return l.allowFixed(e, now)
	}
}

func (l *MemoryLimiter) allowFixed(e *entry, now time.Time) Result {
	if e.windowStart.IsZero() || now.Sub(e.windowStart) >= e.window {
		e.windowStart = now
		e.count = 0
	}
	e.count++
	return Result{
		Allowed:   e.count <= e.limit,
		Limit:     e.limit,
		Remaining: remainingFor(e.limit, e.count),
		Count:     e.count,
		ResetAt:   e.windowStart.Add(e.window),
	}
}

func (l *MemoryLimiter) allowSliding(e *entry, now time.Time) Result {
	cutoff := now.Add(-e.window)
	drop := 0
	for drop < len(e.log) && !e.log[drop].After(cutoff) {
		drop++
	}
	e.log = e.log[drop:]

	count := len(e.log) + 1
	allowed := len(e.log) < e.limit
	if allowed {
		e.log = append(e.log, now)
	}
	return Result{
		Allowed:   allowed,
		Limit:     e.limit,
		Remaining: remainingFor(e.limit, len(e.log)),
		Count:     count,
		ResetAt:   e.log[0].Add(e.window),
	}
}

func (l *MemoryLimiter) allowToken(e *entry, now time.Time) Result {
	interval := e.window / time.Duration(e.limit)
	if e.bucket == nil || e.bucket.Burst() != e.limit || e.bucket.Limit() != rate.Every(interval) {
		e.bucket = rate.NewLimiter(rate.Every(interval), e.limit)
	}

	allowed := e.bucket.AllowN(now, 1)
	tokens := e.bucket.TokensAt(now)
	if tokens < 0 {
		tokens = 0
	}

	var wait time.Duration
	if allowed {
		wait = time.Duration((float64(e.limit) - tokens) * float64(interval))
	} else {
		wait = time.Duration((1 - tokens) * float64(interval))
	}
	remaining := int(tokens)
	return Result{
		Allowed:   allowed,
		Limit:     e.limit,
		Remaining: remaining,
		Count:     e.limit - remaining,
		ResetAt:   now.Add(wait),
	}
}

// touch returns the entry for key, creating it and evicting the least recently
// used entry when full (must be called with lock held)
func (l *MemoryLimiter) touch(key string, limit int, window time.Duration, now time.Time) *entry {
	if e, ok := l.entries[key]; ok {
		if e.limit != limit || e.window != window {
			e.limit = limit
			e.window = window
			e.windowStart = time.Time{}
			e.count = 0
			e.log = nil
		}
		e.lastSeen = now
		l.lruList.MoveToFront(e.element)
		return e
	}

	if l.lruList.Len() >= l.capacity {
		l.evictLRU()
	}
	e := &entry{key: key, limit: limit, window: window, lastSeen: now}
	e.element = l.lruList.PushFront(key)
	l.entries[key] = e
	return e
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (l *MemoryLimiter) evictLRU() {
	back := l.lruList.Back()
	if back == nil {
		return
	}
	key := back.Value.(string)
	l.lruList.Remove(back)
	delete(l.entries, key)
	l.evictions++
}

// CleanupExpired removes entries idle for longer than their window and
// returns how many were removed. Correctness never depends on it.
func (l *MemoryLimiter) CleanupExpired() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, e := range l.entries {
		if e.idle(now) {
			l.lruList.Remove(e.element)
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker periodically drops idle entries until ctx is done
func (l *MemoryLimiter) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.CleanupExpired()
		case <-ctx.Done():
			return
		}
	}
}

// Stats returns limiter statistics
func (l *MemoryLimiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		Size:      l.lruList.Len(),
		Capacity:  l.capacity,
		Evictions: l.evictions,
	}
}

// Stats represents limiter statistics
type Stats struct {
	Size      int
	Capacity  int
	Evictions uint64
}
