package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"forward_bot/internal/telegram/models"
)

// 新配置的频道对默认使用 1~3 小时随机间隔
const (
	defaultRandomMinSeconds = 3600
	defaultRandomMaxSeconds = 10800
)

// TaskStatus 任务状态（供前端与面板展示）
type TaskStatus struct {
	Key         models.TaskKey `json:"key"`
	Mode        string         `json:"mode"`
	Schedule    string         `json:"schedule"`
	Running     bool           `json:"running"`
	Active      bool           `json:"active"`
	State       string         `json:"state"`
	Watermark   int64          `json:"watermark"`
	LastError   string         `json:"last_error,omitempty"`
	SourceTitle string         `json:"source_title,omitempty"`
	TargetTitle string         `json:"target_title,omitempty"`
}

// Stats 聚合计数（只读）
type Stats struct {
	Tasks        int64            `json:"tasks"`
	ActiveTasks  int64            `json:"active_tasks"`
	RunningTasks int              `json:"running_tasks"`
	Forwarded    int64            `json:"forwarded"`
	Counters     map[string]int64 `json:"counters"`
}

// StartOptions 启动选项
type StartOptions struct {
	PreserveLinkPreview bool
}

// Service 调度器对外接口
type Service struct {
	store    Store
	registry *Registry
	platform Platform
}

// NewService 创建调度服务
func NewService(store Store, registry *Registry, platform Platform) *Service {
	return &Service{
		store:    store,
		registry: registry,
		platform: platform,
	}
}

// Registry 返回任务注册表
func (s *Service) Registry() *Registry {
	return s.registry
}

// ConfigurePair 配置源/目标频道对，已存在时原样返回
func (s *Service) ConfigurePair(ctx context.Context, key models.TaskKey) (*models.ForwardingTask, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	task, err := s.store.GetTask(ctx, key)
	if err == nil {
		return task, nil
	}
	if !errors.Is(err, ErrTaskNotFound) {
		return nil, fmt.Errorf("%w: load task: %v", ErrPersistence, err)
	}

	task = models.NewForwardingTask(key)
	Schedule{
		Mode:       models.ScheduleModeRandom,
		MinSeconds: defaultRandomMinSeconds,
		MaxSeconds: defaultRandomMaxSeconds,
	}.Apply(task)
	task.PreserveLinkPreview = true

	if err := s.store.UpsertTask(ctx, task); err != nil {
		return nil, fmt.Errorf("%w: save task: %v", ErrPersistence, err)
	}
	return task, nil
}

// StartTask 按 mode/params 设置调度并启动任务
func (s *Service) StartTask(ctx context.Context, key models.TaskKey, mode string, params []string, opts StartOptions) (*models.ForwardingTask, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	sched, err := ParseSchedule(mode, params)
	if err != nil {
		return nil, err
	}

	task, err := s.store.GetTask(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrTaskNotFound) {
			return nil, fmt.Errorf("%w: load task: %v", ErrPersistence, err)
		}
		task = models.NewForwardingTask(key)
	}

	sched.Apply(task)
	task.PreserveLinkPreview = opts.PreserveLinkPreview

	if err := s.registry.Start(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// StopTask 停止任务；没有运行中的执行时返回 false 且不报错
func (s *Service) StopTask(ctx context.Context, key models.TaskKey) (bool, error) {
	return s.registry.Stop(ctx, key)
}

// GetStatus 返回用户全部任务的状态
func (s *Service) GetStatus(ctx context.Context, ownerID int64) ([]TaskStatus, error) {
	tasks, err := s.store.ListTasksByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	result := make([]TaskStatus, 0, len(tasks))
	for _, task := range tasks {
		key := task.Key()
		status := TaskStatus{
			Key:       key,
			Mode:      task.Mode,
			Schedule:  DescribeSchedule(task),
			Active:    task.Active,
			State:     StateStopped.String(),
			Watermark: task.LastForwardedMessageID,
			LastError: task.LastError,
		}
		if x, ok := s.registry.Lookup(key); ok {
			status.Running = true
			status.State = x.State.String()
		}
		status.SourceTitle = s.chatTitle(ctx, task.SourceChannelID)
		status.TargetTitle = s.chatTitle(ctx, task.TargetChannelID)
		result = append(result, status)
	}
	return result, nil
}

// GetStats 返回聚合计数
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	total, err := s.store.CountTasks(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	active, err := s.store.CountTasks(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("count active tasks: %w", err)
	}
	forwarded, err := s.store.CountForwarded(ctx)
	if err != nil {
		return nil, fmt.Errorf("count forwarded: %w", err)
	}
	counters, err := s.store.Counters(ctx)
	if err != nil {
		return nil, fmt.Errorf("load counters: %w", err)
	}

	return &Stats{
		Tasks:        total,
		ActiveTasks:  active,
		RunningTasks: s.registry.Count(),
		Forwarded:    forwarded,
		Counters:     counters,
	}, nil
}

// chatTitle 尽力获取频道标题
func (s *Service) chatTitle(ctx context.Context, channelID int64) string {
	if s.platform == nil {
		return ""
	}

	titleCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	title, err := s.platform.ChatTitle(titleCtx, channelID)
	if err != nil {
		return ""
	}
	return title
}

func validateKey(key models.TaskKey) error {
	if key.OwnerID == 0 || key.SourceChannelID == 0 || key.TargetChannelID == 0 {
		return fmt.Errorf("%w: owner, source and target are required", ErrInvalidConfiguration)
	}
	if key.SourceChannelID == key.TargetChannelID {
		return fmt.Errorf("%w: source and target must differ", ErrInvalidConfiguration)
	}
	return nil
}
