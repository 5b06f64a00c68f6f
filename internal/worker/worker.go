// Package worker 运行 asynq 消费端，处理时间线归档任务。
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"collaborative-scene/internal/domain"
	"collaborative-scene/internal/repository"
	"collaborative-scene/internal/tasks"
)

// TimelineArchiveHandler 消费归档任务并写入持久化仓库。
type TimelineArchiveHandler struct {
	repo repository.TimelineRepository
}

// NewTimelineArchiveHandler 创建 TimelineArchiveHandler 实例。
func NewTimelineArchiveHandler(repo repository.TimelineRepository) *TimelineArchiveHandler {
	if repo == nil {
		panic("timeline repository cannot be nil for TimelineArchiveHandler")
	}
	return &TimelineArchiveHandler{repo: repo}
}

// ProcessTask 解码负载并落库。落库失败返回错误交由 asynq 重试。
func (h *TimelineArchiveHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.TimelineArchivePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		// 负载损坏重试也无济于事
		return fmt.Errorf("worker: invalid timeline archive payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := h.repo.SaveBatch(ctx, []domain.TimelineRecord{payload.Record}); err != nil {
		return fmt.Errorf("worker: failed to persist timeline record %s: %w", payload.Record.EntryID, err)
	}
	logrus.WithFields(logrus.Fields{"entry_id": payload.Record.EntryID, "room_id": payload.Record.RoomID}).Debug("Timeline record archived")
	return nil
}

// NewServer 创建 asynq 消费端。
func NewServer(redisAddr, redisPassword string, redisDB int) *asynq.Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr, Password: redisPassword, DB: redisDB},
		asynq.Config{
			Concurrency: 5,
			Queues: map[string]int{
				"default": 3,
				"low":     1,
			},
		},
	)
	return srv
}

// NewMux 构造任务路由。
func NewMux(repo repository.TimelineRepository) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(tasks.TypeTimelineArchive, NewTimelineArchiveHandler(repo))
	return mux
}
