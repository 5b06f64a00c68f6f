// Package redisstate 提供 StateRepository 接口的 Redis 实现。
package redisstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"collaborative-scene/internal/repository"
)

// RedisStateRepository 是 StateRepository 接口的 Redis 实现。
type RedisStateRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStateRepository 创建 RedisStateRepository 实例。
func NewRedisStateRepository(client *redis.Client, keyPrefix string) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "cs:" // 默认前缀 "cs:" (collaborative scene)
	}
	return &RedisStateRepository{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Get 读取键值；redis.Nil 映射为 repository.ErrNotFound，
// 其余错误归为 repository.ErrUnavailable，调用方可据此区分缺失和故障。
func (r *RedisStateRepository) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, r.keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("redis: failed to get key %s: %w: %w", key, repository.ErrUnavailable, err)
	}
	return value, nil
}

// Set 写入键值。
func (r *RedisStateRepository) Set(ctx context.Context, key string, value string) error {
	if err := r.client.Set(ctx, r.keyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis: failed to set key %s: %w: %w", key, repository.ErrUnavailable, err)
	}
	return nil
}

// Del 删除键。
func (r *RedisStateRepository) Del(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete key %s: %w: %w", key, repository.ErrUnavailable, err)
	}
	return nil
}

// CheckRateLimit 检查给定 key 的请求频率是否超限，并递增计数。
// 返回 true 表示超限。供限流中间件使用。
func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	pipe := r.client.Pipeline()
	incrCmd := pipe.Incr(ctx, r.keyPrefix+key)
	pipe.Expire(ctx, r.keyPrefix+key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: pipeline failed for rate limit check on key %s: %w", key, err)
	}
	count, err := incrCmd.Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to get incr result for rate limit on key %s: %w", key, err)
	}
	return count > int64(limit), nil
}
