package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ICache stores JSON encoded values under a key with an expiry.
type ICache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Close() error
}

type Options struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// store is the part of *redis.Client the cache needs.
type store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

type redisClient struct {
	client store
	prefix string
	log    *logrus.Logger
}

// New connects to Redis. A failed ping is logged, not fatal: every cache
// miss or error simply means the prediction is recomputed.
func New(log *logrus.Logger, opts Options) ICache {
	log.Info(fmt.Sprintf("Connecting to Redis at %s...", opts.Address))

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		log.Error(fmt.Sprintf("Failed to connect to Redis: %v", err))
	} else {
		log.Info("Successfully connected to Redis")
	}

	return &redisClient{client: client, prefix: opts.Prefix, log: log}
}

func (r *redisClient) Get(ctx context.Context, key string, dest any) (bool, error) {
	key = r.prefix + key
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.log.Debug(fmt.Sprintf("Cache miss for key %s", key))
		return false, nil
	} else if err != nil {
		r.log.Error(fmt.Sprintf("Error getting key %s: %v", key, err))
		return false, err
	}

	if err := jsoniter.Unmarshal(val, dest); err != nil {
		return false, fmt.Errorf("failed to decode cached value %s: %w", key, err)
	}
	r.log.Debug(fmt.Sprintf("Cache hit for key %s", key))
	return true, nil
}

func (r *redisClient) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	key = r.prefix + key
	raw, err := jsoniter.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", key, err)
	}

	if err := r.client.Set(ctx, key, raw, expiration).Err(); err != nil {
		r.log.Error(fmt.Sprintf("Error setting key %s: %v", key, err))
		return err
	}
	return nil
}

func (r *redisClient) Close() error {
	return r.client.Close()
}
