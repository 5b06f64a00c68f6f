package repository

import "context"

// StateRepository 是可选的字符串 KV 持久化协作方，通常由 Redis 实现。
// 实体存储对它做写穿（write-through）：失败只降级为内存态，绝不向上抛错。
type StateRepository interface {
	// Get 读取键值。键不存在时返回 ErrNotFound。
	Get(ctx context.Context, key string) (string, error)

	// Set 写入键值。
	Set(ctx context.Context, key string, value string) error

	// Del 删除键。键不存在视为成功。
	Del(ctx context.Context, key string) error
}
