package scheduler

import (
	"context"
	"fmt"

	"forward_bot/internal/logger"
)

// Recover 进程启动时从存储加载启用中的任务并重新注册
// 单个任务恢复失败只记录日志，返回成功恢复的数量
func Recover(ctx context.Context, store TaskStore, registry *Registry) (int, error) {
	tasks, err := store.ListActiveTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active tasks: %w", err)
	}

	resumed := 0
	for _, task := range tasks {
		if task == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return resumed, err
		}

		started, err := registry.Resume(task)
		if err != nil {
			logger.L().Errorf("Failed to resume forward task %s: %v", task.Key(), err)
			continue
		}
		if started {
			resumed++
			logger.L().Debugf("Resumed forward task %s (watermark=%d)", task.Key(), task.LastForwardedMessageID)
		}
	}

	logger.L().Infof("Recovered %d/%d active forward tasks", resumed, len(tasks))
	return resumed, nil
}
