// Package setup 负责外部依赖（MySQL/Redis）的连接建立与迁移。
package setup

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"collaborative-scene/internal/domain"
)

// OpenMySQL 建立 MySQL 连接并配置连接池。
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("setup: failed to connect to MySQL: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("setup: failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// MigrateDB 迁移归档表结构。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("setup: cannot migrate database with nil DB connection")
	}
	if err := db.AutoMigrate(&domain.TimelineRecord{}); err != nil {
		return fmt.Errorf("setup: failed to migrate timeline records: %w", err)
	}
	return nil
}

// NewRedisClient 创建 Redis 客户端并探测连通性。
// 探测失败不是致命错误：返回客户端和错误，调用方决定是否降级为纯内存模式。
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 5,
		MaxConnAge:   30 * time.Minute,
	})
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return client, fmt.Errorf("setup: failed to ping Redis at %s: %w", addr, err)
	}
	return client, nil
}
