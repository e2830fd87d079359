package database

import (
	"context"
	"log"
	"time"

	"astroconnect/config"

	"github.com/go-redis/redis/v8"
)

// KVStore is the durable key-value tier consumed by timer persistence and
// the transcript cache. Implementations must tolerate concurrent callers.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = redis.Nil

var sessionStoreClient *redis.Client

// InitSessionStore initializes the Redis client backing the durable tier.
func InitSessionStore() {
	sessionStoreClient = redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisSessionDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := sessionStoreClient.Ping(ctx).Result(); err != nil {
		log.Fatalf("Failed to connect to Redis (Session Store): %v", err)
	}
}

// GetSessionStore returns a KVStore over the shared Redis client.
func GetSessionStore() KVStore {
	if sessionStoreClient == nil {
		InitSessionStore()
	}
	return &redisStore{client: sessionStoreClient}
}

// NewRedisStore wraps an existing client, mainly for tests against miniature
// deployments.
func NewRedisStore(client *redis.Client) KVStore {
	return &redisStore{client: client}
}

type redisStore struct {
	client *redis.Client
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.client.Get(ctx, key).Bytes()
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, key, value, 0).Err()
}

func (s *redisStore) Remove(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *redisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}
