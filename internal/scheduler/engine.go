package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"forward_bot/internal/logger"
	"forward_bot/internal/telegram/models"
)

// State 单个任务执行的状态
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateFiltering
	StateSending
	StateAdvancing
	StateSleeping
	StateStopped
	StateFailed
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateFiltering:
		return "filtering"
	case StateSending:
		return "sending"
	case StateAdvancing:
		return "advancing"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Outcome 任务执行结束的原因
type Outcome int

const (
	OutcomeStopped Outcome = iota // 被取消
	OutcomeFailed                 // 不可恢复错误，任务已停用
	OutcomePaused                 // 持久化失败，任务保持启用但不再运行
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStopped:
		return "stopped"
	case OutcomeFailed:
		return "failed"
	case OutcomePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// EngineConfig 转发引擎配置
type EngineConfig struct {
	BatchSize      int           // 单轮最多拉取的消息数
	BackoffMax     time.Duration // 拉取失败退避上限
	PersistRetries int           // 持久化重试次数
	SendTimeout    time.Duration // 单次发送超时
	StoreTimeout   time.Duration // 单次存储操作超时
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = defaultBackoffMax
	}
	if c.PersistRetries <= 0 {
		c.PersistRetries = 5
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 10 * time.Second
	}
	return c
}

var errTaskInactive = errors.New("task is inactive")

// Engine 转发引擎，每个任务一个执行循环
// 引擎本身无状态，任务状态始终从 Store 读取并写回
type Engine struct {
	cfg      EngineConfig
	store    Store
	platform Platform
	dedup    *DedupFilter
	notifier Notifier
	metrics  Metrics

	nextDelay   func(*models.ForwardingTask) (time.Duration, error)
	retryDelay  func(err error, attempt int, channelID int64) time.Duration
	persistWait func(attempt int) time.Duration
	backoffBase time.Duration
}

// NewEngine 创建转发引擎，metrics 可为 nil
func NewEngine(cfg EngineConfig, store Store, platform Platform, dedup *DedupFilter, notifier Notifier, metrics Metrics) *Engine {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Engine{
		cfg:         cfg.withDefaults(),
		store:       store,
		platform:    platform,
		dedup:       dedup,
		notifier:    notifier,
		metrics:     metrics,
		nextDelay:   NextDelay,
		retryDelay:  sendRetryDelay,
		persistWait: func(attempt int) time.Duration { return time.Duration(attempt) * 500 * time.Millisecond },
		backoffBase: defaultBackoffBase,
	}
}

type taskRun struct {
	key     models.TaskKey
	runID   string
	log     *log.Entry
	backoff *Backoff
	observe func(State)
}

func (r *taskRun) setState(s State) {
	if r.observe != nil {
		r.observe(s)
	}
}

// Run 执行任务循环，直到 ctx 取消或遇到不可恢复错误
func (e *Engine) Run(ctx context.Context, key models.TaskKey, runID string, observe func(State)) Outcome {
	backoff := NewBackoff(e.cfg.BackoffMax)
	backoff.Base = e.backoffBase

	run := &taskRun{
		key:     key,
		runID:   runID,
		log:     logger.ForTask(key.String(), runID),
		backoff: backoff,
		observe: observe,
	}

	run.setState(StateIdle)
	run.log.Info("Forward task started")

	outcome := e.loop(ctx, run)
	switch outcome {
	case OutcomeFailed:
		run.setState(StateFailed)
	case OutcomePaused:
		run.setState(StatePaused)
	default:
		run.setState(StateStopped)
	}

	run.log.Infof("Forward task exited: outcome=%s", outcome)
	return outcome
}

func (e *Engine) loop(ctx context.Context, run *taskRun) Outcome {
	for {
		if ctx.Err() != nil {
			return OutcomeStopped
		}

		started := time.Now()
		task, err := e.cycle(ctx, run)
		e.metrics.ObserveCycle(time.Since(started))

		var wait time.Duration
		switch {
		case err == nil:
			run.backoff.Reset()
			wait, err = e.nextDelay(task)
			if err != nil {
				e.fail(ctx, run, err)
				return OutcomeFailed
			}
		case ctx.Err() != nil:
			return OutcomeStopped
		case errors.Is(err, errTaskInactive):
			run.log.Info("Task marked inactive in store, exiting")
			return OutcomeStopped
		case errors.Is(err, ErrTaskNotFound):
			run.log.Warn("Task definition disappeared from store, exiting")
			return OutcomeFailed
		case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrInvalidConfiguration):
			e.fail(ctx, run, err)
			return OutcomeFailed
		case errors.Is(err, ErrPersistence):
			e.pause(ctx, run, err)
			return OutcomePaused
		default:
			wait = fetchRetryDelay(err, run.backoff)
			if isFetchRetryable(err) {
				run.log.Warnf("Source fetch failed, backing off %s (attempt %d): %v", wait, run.backoff.Attempts(), err)
			} else {
				run.log.Errorf("Forward cycle failed, backing off %s (attempt %d): %v", wait, run.backoff.Attempts(), err)
			}
		}

		run.setState(StateSleeping)
		run.log.Debugf("Sleeping %s before next cycle", wait)
		if !sleepContext(ctx, wait) {
			return OutcomeStopped
		}
	}
}

// cycle 执行一轮 拉取 -> 过滤 -> 发送 -> 推进水位线
func (e *Engine) cycle(ctx context.Context, run *taskRun) (*models.ForwardingTask, error) {
	run.setState(StateFetching)

	task, err := e.loadTask(ctx, run.key)
	if err != nil {
		return nil, err
	}
	if !task.Active {
		return task, errTaskInactive
	}

	messages, err := e.platform.FetchSince(ctx, task.SourceChannelID, task.LastForwardedMessageID, e.cfg.BatchSize)
	if err != nil {
		return task, fmt.Errorf("fetch source %d: %w", task.SourceChannelID, err)
	}
	if len(messages) == 0 {
		return task, nil
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].TelegramMessageID < messages[j].TelegramMessageID
	})

	for _, msg := range messages {
		if msg == nil || msg.TelegramMessageID <= task.LastForwardedMessageID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return task, err
		}

		run.setState(StateFiltering)
		verdict, err := e.dedup.ShouldSkip(ctx, run.key, msg)
		if err != nil {
			return task, err
		}
		if verdict.Skip {
			run.log.Debugf("Skipping message %d: %s", msg.TelegramMessageID, verdict.Reason)
			e.metrics.IncSkipped(verdict.Reason)
			e.track(ctx, run, "skipped_"+verdict.Reason)
			if err := e.advance(ctx, run, nil, msg.TelegramMessageID); err != nil {
				return task, err
			}
			task.LastForwardedMessageID = msg.TelegramMessageID
			continue
		}

		run.setState(StateSending)
		targetMessageID, err := e.send(ctx, run, task, msg)
		if err != nil {
			if errors.Is(err, ErrPermissionDenied) {
				return task, err
			}
			if ctx.Err() != nil {
				return task, ctx.Err()
			}

			run.log.Warnf("Failed to send message %d, skipping: %v", msg.TelegramMessageID, err)
			e.metrics.IncSendErrors(sendErrorClass(err))
			e.track(ctx, run, "send_errors")

			run.setState(StateAdvancing)
			if err := e.advance(ctx, run, nil, msg.TelegramMessageID); err != nil {
				return task, err
			}
			task.LastForwardedMessageID = msg.TelegramMessageID
			continue
		}

		run.setState(StateAdvancing)
		record := models.NewForwardedRecord(run.key, msg.TelegramMessageID, targetMessageID, verdict.Fingerprint)
		if err := e.advance(ctx, run, record, msg.TelegramMessageID); err != nil {
			return task, err
		}
		task.LastForwardedMessageID = msg.TelegramMessageID

		e.dedup.Remember(task.TargetChannelID, verdict.Fingerprint)
		e.metrics.IncForwarded()
		e.track(ctx, run, "forwarded")
		run.log.Infof("Forwarded message %d -> %d", msg.TelegramMessageID, targetMessageID)
	}

	return task, nil
}

func (e *Engine) loadTask(ctx context.Context, key models.TaskKey) (*models.ForwardingTask, error) {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	task, err := e.store.GetTask(opCtx, key)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load task: %w", err)
	}
	return task, nil
}

// send 发送单条消息，临时错误在本轮内有限重试
// 发送本身不受取消影响，避免水位线状态不明
func (e *Engine) send(ctx context.Context, run *taskRun, task *models.ForwardingTask, msg *models.ChannelMessage) (int64, error) {
	opts := SendOptions{PreserveLinkPreview: task.PreserveLinkPreview}

	var lastErr error
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SendTimeout)
		targetMessageID, err := e.platform.Send(sendCtx, task.TargetChannelID, msg, opts)
		cancel()
		if err == nil {
			return targetMessageID, nil
		}

		lastErr = err
		if !isRetryableSendError(err) || attempt == maxSendAttempts {
			break
		}

		wait := e.retryDelay(err, attempt, task.TargetChannelID)
		run.log.Warnf("Send attempt %d for message %d failed: %v, retrying in %s", attempt, msg.TelegramMessageID, err, wait)
		if !sleepContext(ctx, wait) {
			return 0, ctx.Err()
		}
	}

	return 0, lastErr
}

// advance 先写转发记录再推进水位线
// 持久化不受取消影响；失败时只重试持久化，不重发消息
func (e *Engine) advance(ctx context.Context, run *taskRun, record *models.ForwardedRecord, messageID int64) error {
	persistCtx := context.WithoutCancel(ctx)

	if record != nil {
		err := e.persist(persistCtx, run, "append forwarded record", func(c context.Context) error {
			return e.store.AppendForwarded(c, record)
		})
		if err != nil {
			return err
		}
	}

	return e.persist(persistCtx, run, "set watermark", func(c context.Context) error {
		return e.store.SetWatermark(c, run.key, messageID)
	})
}

// persist 重试持久化；停止任务不打断重试，进程关闭时放弃剩余等待
func (e *Engine) persist(ctx context.Context, run *taskRun, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= e.cfg.PersistRetries; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
		err = fn(opCtx)
		cancel()
		if err == nil {
			return nil
		}

		run.log.Warnf("Persistence attempt %d/%d failed (%s): %v", attempt, e.cfg.PersistRetries, op, err)
		if attempt < e.cfg.PersistRetries && !sleepContext(shutdownContext(ctx), e.persistWait(attempt)) {
			run.log.Warnf("Persistence retries abandoned on shutdown (%s)", op)
			break
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}

func (e *Engine) track(ctx context.Context, run *taskRun, name string) {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.StoreTimeout)
	defer cancel()

	if err := e.store.Track(opCtx, name, 1); err != nil {
		run.log.Debugf("Failed to track %s: %v", name, err)
	}
}

// fail 停用任务并通知所有者（每次执行最多一次）
func (e *Engine) fail(ctx context.Context, run *taskRun, cause error) {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.StoreTimeout)
	defer cancel()

	reason := failureReason(cause)
	run.log.Errorf("Forward task failed: %v", cause)
	e.metrics.IncTaskFailures(reason)

	if err := e.store.SetActive(opCtx, run.key, false, cause.Error()); err != nil {
		run.log.Errorf("Failed to deactivate task: %v", err)
	}

	text := fmt.Sprintf(
		"⚠️ 转发任务已停止\n\n"+
			"源频道: %d\n"+
			"目标频道: %d\n"+
			"原因: %s\n\n"+
			"请检查 Bot 权限后使用 /startforward 重新启动",
		run.key.SourceChannelID, run.key.TargetChannelID, describeFailure(cause),
	)
	e.notify(opCtx, run, text)
}

// pause 持久化重试耗尽：保持启用状态但退出执行，等待重启或手动启动
func (e *Engine) pause(ctx context.Context, run *taskRun, cause error) {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.StoreTimeout)
	defer cancel()

	run.log.Errorf("Forward task paused: %v", cause)
	e.metrics.IncTaskFailures("persistence")

	text := fmt.Sprintf(
		"⏸ 转发任务已暂停\n\n"+
			"源频道: %d\n"+
			"目标频道: %d\n"+
			"原因: 数据库写入失败\n\n"+
			"任务仍处于启用状态，重启后或使用 /startforward 将继续",
		run.key.SourceChannelID, run.key.TargetChannelID,
	)
	e.notify(opCtx, run, text)
}

func (e *Engine) notify(ctx context.Context, run *taskRun, text string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.NotifyOwner(ctx, run.key.OwnerID, text); err != nil {
		run.log.Errorf("Failed to notify owner %d: %v", run.key.OwnerID, err)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission"
	case errors.Is(err, ErrInvalidConfiguration):
		return "configuration"
	default:
		return "other"
	}
}

func describeFailure(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Bot 在目标频道没有发送权限"
	case errors.Is(err, ErrInvalidConfiguration):
		return "调度配置无效"
	default:
		return err.Error()
	}
}

func sendErrorClass(err error) string {
	var rateLimited *RateLimitedError
	switch {
	case errors.As(err, &rateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "rejected"
	}
}

type shutdownKey struct{}

// withShutdown 附带进程级关闭信号，ctx 被 WithoutCancel 分离后仍可读取
func withShutdown(ctx, shutdown context.Context) context.Context {
	return context.WithValue(ctx, shutdownKey{}, shutdown)
}

func shutdownContext(ctx context.Context) context.Context {
	if shutdown, ok := ctx.Value(shutdownKey{}).(context.Context); ok {
		return shutdown
	}
	return context.Background()
}

// sleepContext 等待 d 或 ctx 取消，返回 false 表示已取消
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
