// Package tasks 定义后台任务类型与入队客户端。
package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"collaborative-scene/internal/domain"
)

// TypeTimelineArchive 是时间线归档任务的类型名。
const TypeTimelineArchive = "timeline:archive"

// TimelineArchivePayload 是归档任务的负载：一条时间线落库记录。
type TimelineArchivePayload struct {
	Record domain.TimelineRecord `json:"record"`
}

// NewTimelineArchiveTask 构造归档任务。
func NewTimelineArchiveTask(record domain.TimelineRecord) (*asynq.Task, error) {
	payload, err := json.Marshal(TimelineArchivePayload{Record: record})
	if err != nil {
		return nil, fmt.Errorf("tasks: failed to marshal timeline archive payload: %w", err)
	}
	return asynq.NewTask(TypeTimelineArchive, payload, asynq.MaxRetry(3), asynq.Queue("low")), nil
}

// Archiver 把时间线条目投入任务队列，实现 service.TimelineArchiver。
type Archiver struct {
	client *asynq.Client
}

// NewArchiver 创建 Archiver 实例。
func NewArchiver(client *asynq.Client) *Archiver {
	if client == nil {
		panic("asynq client cannot be nil for Archiver")
	}
	return &Archiver{client: client}
}

// Archive 将时间线条目转换为落库记录并入队。
func (a *Archiver) Archive(ctx context.Context, entry domain.TimelineEntry) error {
	task, err := NewTimelineArchiveTask(entry.Record())
	if err != nil {
		return err
	}
	if _, err := a.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("tasks: failed to enqueue timeline archive: %w", err)
	}
	return nil
}
