package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"nidentity/cmd/internal/gotrue"
	"nidentity/cmd/internal/storage"
	"nidentity/cmd/security/seal"
)

// SessionStore is a gotrue.Store whose resources the app owns.
type SessionStore interface {
	gotrue.Store
	Close() error
}

// backend ties the chosen store to the connections behind it.
//
// Ownership model:
//   - app owns the pgx pool and closes it after the store
//   - RedisStore.Close closes its client
type backend struct {
	kind  string
	store SessionStore
	pool  *pgxpool.Pool
	redis *redis.Client
}

// newBackend opens the session store selected by cfg.Store.
func newBackend(ctx context.Context, cfg Config, sealer *seal.Sealer, log Logger) (*backend, error) {
	switch cfg.Store {
	case StoreMemory:
		log.Info("store.memory")
		return &backend{kind: StoreMemory, store: storage.NewMemoryStore()}, nil

	case StoreFile, "":
		path := cfg.StorePath
		if path == "" {
			p, err := storage.DefaultFilePath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		fs, err := storage.NewFileStore(path, cfg.StoreProfile, sealer)
		if err != nil {
			return nil, err
		}
		log.Info("store.file", "path", fs.Path(), "sealed", sealer != nil)
		return &backend{kind: StoreFile, store: fs}, nil

	case StoreRedis:
		client, err := storage.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		rs := storage.NewRedisStore(client, cfg.StoreProfile, cfg.StoreTTL, sealer)
		log.Info("store.redis", "key", rs.Key(), "ttl", cfg.StoreTTL.String(), "sealed", sealer != nil)
		return &backend{kind: StoreRedis, store: rs, redis: client}, nil

	case StorePostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		ps := storage.NewPostgresStore(pool, cfg.StoreProfile, sealer)
		if err := ps.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		log.Info("store.postgres", "sealed", sealer != nil)
		return &backend{kind: StorePostgres, store: ps, pool: pool}, nil
	}
	return nil, fmt.Errorf("%w: unknown NID_STORE %q", ErrConfig, cfg.Store)
}

// Ping reports whether the store's remote dependency answers.
func (b *backend) Ping(ctx context.Context) error {
	switch {
	case b.pool != nil:
		return PingDB(ctx, b.pool, 2*time.Second)
	case b.redis != nil:
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return b.redis.Ping(pingCtx).Err()
	}
	return nil
}

func (b *backend) Close() error {
	err := b.store.Close()
	if b.pool != nil {
		b.pool.Close()
	}
	return err
}
