package app

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/abooddev/accounting-saas/internal/platform/cache"
	"github.com/abooddev/accounting-saas/internal/platform/db"
)

// Backends are the external connections opened for a process.
type Backends struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client
	Cache cache.Options
}

// OpenBackends connects to PostgreSQL (postgres driver only, schema applied)
// and Redis. A Redis failure is logged and the process continues without it.
func OpenBackends(ctx context.Context, cfg *Config, logger *slog.Logger) (*Backends, error) {
	b := &Backends{Cache: cache.Options{Addr: cfg.RedisAddr}}
	if cfg.StoreDriver == StoreDriverPostgres {
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		b.Pool = pool
	}
	client, err := cache.New(ctx, b.Cache)
	if err != nil {
		logger.Warn("redis unavailable, continuing without rate cache and queue", slog.Any("error", err))
		b.Cache.Addr = ""
	}
	b.Redis = client
	return b, nil
}

// Close releases every open connection.
func (b *Backends) Close(logger *slog.Logger) {
	if b == nil {
		return
	}
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if b.Pool != nil {
		b.Pool.Close()
	}
}

// QueueEnabled reports whether a Redis server backs the job queue.
func (b *Backends) QueueEnabled() bool {
	return b != nil && b.Redis != nil && b.Cache.Addr != ""
}
