package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/upb/request-shield/config"
	"github.com/upb/request-shield/repositories/postgres"
	"go.uber.org/zap"
)

var (
	// ErrNotConfigured is returned for a backing store the config leaves out
	ErrNotConfigured = errors.New("not configured")
	// ErrRuntimeClosed is returned once Close has run
	ErrRuntimeClosed = errors.New("runtime closed")
)

// Runtime owns the process-wide connections. Each handle is opened on first
// use and then shared; a failed open is not remembered, so the next caller
// tries again. Close releases everything exactly once.
type Runtime struct {
	cfg    *config.Config
	logger *zap.Logger

	mu     sync.Mutex
	db     *postgres.DB
	redis  redis.UniversalClient
	closed bool

	closeOnce sync.Once
	closeErr  error

	openDB    func(ctx context.Context) (*postgres.DB, error)
	openRedis func(ctx context.Context) (redis.UniversalClient, error)
}

// NewRuntime creates a runtime for cfg. Nothing is opened yet.
func NewRuntime(cfg *config.Config, logger *zap.Logger) *Runtime {
	rt := &Runtime{cfg: cfg, logger: logger}
	rt.openDB = rt.connectDatabase
	rt.openRedis = rt.connectRedis
	return rt
}

// Database returns the shared Postgres pool, opening it on first use
func (rt *Runtime) Database(ctx context.Context) (*postgres.DB, error) {
	if rt.cfg.Database == nil {
		return nil, fmt.Errorf("database: %w", ErrNotConfigured)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed {
		return nil, ErrRuntimeClosed
	}
	if rt.db != nil {
		return rt.db, nil
	}

	db, err := rt.openDB(ctx)
	if err != nil {
		return nil, err
	}
	rt.db = db
	return db, nil
}

// Redis returns the shared Redis client, opening it on first use
func (rt *Runtime) Redis(ctx context.Context) (redis.UniversalClient, error) {
	if rt.cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis: %w", ErrNotConfigured)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed {
		return nil, ErrRuntimeClosed
	}
	if rt.redis != nil {
		return rt.redis, nil
	}

	client, err := rt.openRedis(ctx)
	if err != nil {
		return nil, err
	}
	rt.redis = client
	return client, nil
}

// PingDatabase is a readiness probe for the pool
func (rt *Runtime) PingDatabase(ctx context.Context) error {
	db, err := rt.Database(ctx)
	if err != nil {
		return err
	}
	return db.HealthCheck(ctx)
}

// PingRedis is a readiness probe for the Redis client
func (rt *Runtime) PingRedis(ctx context.Context) error {
	client, err := rt.Redis(ctx)
	if err != nil {
		return err
	}
	return client.Ping(ctx).Err()
}

// Close releases the opened handles. Later calls return the first result.
func (rt *Runtime) Close() error {
	rt.closeOnce.Do(func() {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		rt.closed = true

		var errs []error
		if rt.redis != nil {
			if err := rt.redis.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
			}
			rt.redis = nil
		}
		if rt.db != nil {
			if err := rt.db.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close database: %w", err))
			}
			rt.db = nil
		}
		rt.closeErr = errors.Join(errs...)
	})
	return rt.closeErr
}

func (rt *Runtime) connectDatabase(ctx context.Context) (*postgres.DB, error) {
	db, err := postgres.NewDB(ctx, *rt.cfg.Database, rt.logger)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (rt *Runtime) connectRedis(ctx context.Context) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     rt.cfg.Redis.Addr,
		Password: rt.cfg.Redis.Password,
		DB:       rt.cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	rt.logger.Info("redis connection established", zap.String("addr", rt.cfg.Redis.Addr))
	return client, nil
}
