// Package gormpersistence 提供基于 GORM 的持久化仓库实现。
package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"collaborative-scene/internal/domain"
)

// GormTimelineRepository 是 TimelineRepository 接口的 GORM 实现。
type GormTimelineRepository struct {
	db *gorm.DB
}

// NewGormTimelineRepository 创建 GormTimelineRepository 实例。
func NewGormTimelineRepository(db *gorm.DB) *GormTimelineRepository {
	if db == nil {
		panic("database connection cannot be nil for GormTimelineRepository")
	}
	return &GormTimelineRepository{db: db}
}

// SaveBatch 批量写入时间线归档记录。
func (r *GormTimelineRepository) SaveBatch(ctx context.Context, records []domain.TimelineRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&records).Error; err != nil {
		return fmt.Errorf("gorm: failed to save timeline batch (size %d): %w", len(records), err)
	}
	return nil
}
