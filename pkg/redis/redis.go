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

var ErrCacheMiss = errors.New("cache miss")

type IRedis interface {
	SetJSON(ctx context.Context, key string, value any, expiration time.Duration) error
	GetJSON(ctx context.Context, key string, dst any) error
	Close() error
}

type Config struct {
	Address  string
	Password string
	DB       int
}

type redisClient struct {
	log    *logrus.Logger
	client *redis.Client
}

func New(log *logrus.Logger, cfg Config) IRedis {
	log.Info(fmt.Sprintf("Connecting to Redis at %s...", cfg.Address))

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		log.Error(fmt.Sprintf("Failed to connect to Redis: %v", err))
	} else {
		log.Info("Successfully connected to Redis")
	}

	return &redisClient{log: log, client: client}
}

func (r *redisClient) SetJSON(ctx context.Context, key string, value any, expiration time.Duration) error {
	payload, err := jsoniter.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value for %s: %w", key, err)
	}

	if err := r.client.Set(ctx, key, payload, expiration).Err(); err != nil {
		r.log.Error(fmt.Sprintf("Error setting key %s: %v", key, err))
		return err
	}
	r.log.Debug(fmt.Sprintf("Cached key %s for %v", key, expiration))
	return nil
}

// GetJSON decodes the value at key into dst. A missing key is ErrCacheMiss.
func (r *redisClient) GetJSON(ctx context.Context, key string, dst any) error {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.log.Debug(fmt.Sprintf("Key %s not cached", key))
		return ErrCacheMiss
	} else if err != nil {
		r.log.Error(fmt.Sprintf("Error getting key %s: %v", key, err))
		return err
	}

	if err := jsoniter.Unmarshal(val, dst); err != nil {
		return fmt.Errorf("failed to decode cache value for %s: %w", key, err)
	}
	return nil
}

func (r *redisClient) Close() error {
	return r.client.Close()
}
