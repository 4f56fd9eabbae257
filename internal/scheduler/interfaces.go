package scheduler

import (
	"context"
	"time"

	"forward_bot/internal/telegram/models"
)

// SendOptions 发送选项
type SendOptions struct {
	PreserveLinkPreview bool
}

// Platform 聊天平台能力
type Platform interface {
	// FetchSince 按 ID 升序返回 afterID 之后的消息，最多 limit 条
	FetchSince(ctx context.Context, channelID, afterID int64, limit int) ([]*models.ChannelMessage, error)

	// Send 将消息内容复制到目标频道，返回新消息 ID
	Send(ctx context.Context, channelID int64, msg *models.ChannelMessage, opts SendOptions) (int64, error)

	// ChatTitle 获取频道标题（仅用于展示）
	ChatTitle(ctx context.Context, channelID int64) (string, error)
}

// TaskStore 任务状态存储
type TaskStore interface {
	// GetTask 不存在时返回 ErrTaskNotFound
	GetTask(ctx context.Context, key models.TaskKey) (*models.ForwardingTask, error)

	// UpsertTask 按身份创建或替换任务定义
	UpsertTask(ctx context.Context, task *models.ForwardingTask) error

	// SetActive 修改启用状态，reason 非空时记录为 last_error
	SetActive(ctx context.Context, key models.TaskKey, active bool, reason string) error

	// SetWatermark 单调推进水位线，回退请求被忽略
	SetWatermark(ctx context.Context, key models.TaskKey, messageID int64) error

	// ListActiveTasks 列出启用中的任务（启动恢复用）
	ListActiveTasks(ctx context.Context) ([]*models.ForwardingTask, error)

	// ListTasksByOwner 列出用户的全部任务
	ListTasksByOwner(ctx context.Context, ownerID int64) ([]*models.ForwardingTask, error)

	// CountTasks 统计任务数量
	CountTasks(ctx context.Context, activeOnly bool) (int64, error)
}

// ForwardLog 转发日志
type ForwardLog interface {
	// AppendForwarded 幂等写入，重复记录视为成功
	AppendForwarded(ctx context.Context, record *models.ForwardedRecord) error

	// HasForwarded 判断源消息是否已转发
	HasForwarded(ctx context.Context, key models.TaskKey, sourceMessageID int64) (bool, error)

	// RecentFingerprints 返回目标频道最近的内容指纹，新的在前
	RecentFingerprints(ctx context.Context, targetChannelID int64, limit int) ([]string, error)

	// CountForwarded 转发日志总数
	CountForwarded(ctx context.Context) (int64, error)
}

// Tracker 简单计数器
type Tracker interface {
	Track(ctx context.Context, name string, delta int64) error
	Counters(ctx context.Context) (map[string]int64, error)
}

// Store 调度器依赖的全部持久化能力
type Store interface {
	TaskStore
	ForwardLog
	Tracker
}

// Notifier 通知任务所有者
type Notifier interface {
	NotifyOwner(ctx context.Context, ownerID int64, text string) error
}

// Metrics 进程内指标
type Metrics interface {
	IncForwarded()
	IncSkipped(reason string)
	IncSendErrors(class string)
	IncTaskFailures(reason string)
	ObserveCycle(duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) IncForwarded()              {}
func (noopMetrics) IncSkipped(string)          {}
func (noopMetrics) IncSendErrors(string)       {}
func (noopMetrics) IncTaskFailures(string)     {}
func (noopMetrics) ObserveCycle(time.Duration) {}
