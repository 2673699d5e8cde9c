package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"retailpos/backend/internal/domain"
)

type RedisCustomerSummaryCache struct {
	client *redis.Client
}

func NewRedisCustomerSummaryCache(addr string, password string, db int) *RedisCustomerSummaryCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCustomerSummaryCache{client: client}
}

func (c *RedisCustomerSummaryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCustomerSummaryCache) Close() error {
	return c.client.Close()
}

func (c *RedisCustomerSummaryCache) Get(ctx context.Context, key string) (*domain.CustomerSummary, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var summary domain.CustomerSummary
	if err := json.Unmarshal([]byte(val), &summary); err != nil {
		return nil, false, err
	}
	return &summary, true, nil
}

func (c *RedisCustomerSummaryCache) Set(ctx context.Context, key string, value *domain.CustomerSummary, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisCustomerSummaryCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
