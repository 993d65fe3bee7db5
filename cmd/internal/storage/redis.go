package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"nidentity/cmd/internal/gotrue"
	"nidentity/cmd/security/seal"
)

const redisKeyPrefix = "nidentity:session:"

// RedisStore keeps the session under one key per profile with a TTL.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	codec  codec
}

// NewRedisClient dials addr and pings it once.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	if addr == "" {
		return nil, ErrConfig
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// NewRedisStore wraps client. ttl<=0 stores without expiry.
func NewRedisStore(client *redis.Client, profile string, ttl time.Duration, s *seal.Sealer) *RedisStore {
	c := newCodec(profile, s)
	return &RedisStore{
		client: client,
		key:    redisKeyPrefix + c.profile,
		ttl:    ttl,
		codec:  c,
	}
}

// Key returns the Redis key in use.
func (s *RedisStore) Key() string { return s.key }

func (s *RedisStore) Load(ctx context.Context) (*gotrue.User, error) {
	b, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.codec.decode(b)
}

func (s *RedisStore) Save(ctx context.Context, u *gotrue.User) error {
	b, err := s.codec.encode(u)
	if err != nil {
		return err
	}
	ttl := s.ttl
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, s.key, b, ttl).Err()
}

func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error { return s.client.Close() }
