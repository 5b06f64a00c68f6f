// Package mocks 提供 repository 接口的 testify mock 实现，供单元测试使用。
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"collaborative-scene/internal/domain"
)

// StateRepository 是 repository.StateRepository 的 mock。
type StateRepository struct {
	mock.Mock
}

func (m *StateRepository) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *StateRepository) Set(ctx context.Context, key string, value string) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *StateRepository) Del(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// TimelineRepository 是 repository.TimelineRepository 的 mock。
type TimelineRepository struct {
	mock.Mock
}

func (m *TimelineRepository) SaveBatch(ctx context.Context, records []domain.TimelineRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

// TimelineArchiver 是 service.TimelineArchiver 的 mock。
type TimelineArchiver struct {
	mock.Mock
}

func (m *TimelineArchiver) Archive(ctx context.Context, entry domain.TimelineEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}
