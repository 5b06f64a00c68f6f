package repository

import (
	"context"

	"collaborative-scene/internal/domain"
)

// TimelineRepository 定义了时间线条目在持久化存储（数据库）中的归档操作。
type TimelineRepository interface {
	// SaveBatch 批量写入时间线归档记录。
	SaveBatch(ctx context.Context, records []domain.TimelineRecord) error
}
