package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "fingenie:session:"

// redisAPI is the subset of *redis.Client used by RedisStore.
type redisAPI interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisOptions configures NewRedisClient.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects and pings the server, closing the client if the
// ping fails.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("repository: ping redis %s: %w", addr, err)
	}
	return client, nil
}

// RedisStore keeps each session's values in one Redis hash. Every write
// refreshes the hash expiry so idle sessions age out.
type RedisStore struct {
	api redisAPI
	ttl time.Duration
}

// NewRedisStore creates a store over api. A zero ttl keeps hashes forever.
func NewRedisStore(api redisAPI, ttl time.Duration) (*RedisStore, error) {
	if api == nil {
		return nil, errors.New("repository: redis client must not be nil")
	}
	if ttl < 0 {
		return nil, errors.New("repository: ttl must not be negative")
	}
	return &RedisStore{api: api, ttl: ttl}, nil
}

func redisSessionKey(sessionID string) string {
	return redisKeyPrefix + sessionID
}

func (s *RedisStore) Get(ctx context.Context, sessionID, key string) (string, bool, error) {
	v, err := s.api.HGet(ctx, redisSessionKey(sessionID), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("repository: hget %q: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, sessionID, key, value string) error {
	hash := redisSessionKey(sessionID)
	if err := s.api.HSet(ctx, hash, key, value).Err(); err != nil {
		return fmt.Errorf("repository: hset %q: %w", key, err)
	}
	if s.ttl > 0 {
		if err := s.api.Expire(ctx, hash, s.ttl).Err(); err != nil {
			return fmt.Errorf("repository: expire %q: %w", hash, err)
		}
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.api.Del(ctx, redisSessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("repository: del session: %w", err)
	}
	return nil
}
