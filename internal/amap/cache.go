package amap

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCache：Cache 的 Redis 适配；错误向上传递，由 Geocode 按未命中处理
type redisCache struct {
	rc *redis.Client
}

// NewRedisCache：rc 为 nil 时返回 nil（不缓存）
func NewRedisCache(rc *redis.Client) Cache {
	if rc == nil {
		return nil
	}
	return &redisCache{rc: rc}
}

func (c *redisCache) Get(ctx context.Context, key string) (string, error) {
	return c.rc.Get(ctx, key).Result()
}

func (c *redisCache) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	return c.rc.Set(ctx, key, val, ttl).Err()
}
