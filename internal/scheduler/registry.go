package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"forward_bot/internal/logger"
	"forward_bot/internal/telegram/models"
)

// ErrRegistryClosed 注册表已关闭
var ErrRegistryClosed = errors.New("registry closed")

// Runner 执行单个任务直到结束
type Runner interface {
	Run(ctx context.Context, key models.TaskKey, runID string, observe func(State)) Outcome
}

// execution 一次任务执行的句柄
type execution struct {
	runID     string
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	state     atomic.Int32
}

func (x *execution) setState(s State) {
	x.state.Store(int32(s))
}

// Execution 执行快照
type Execution struct {
	Key       models.TaskKey
	RunID     string
	State     State
	StartedAt time.Time
}

// Registry 任务身份 -> 运行中执行 的唯一持有者
// 同一身份最多一个执行；同一身份的 Start/Stop/Resume 由身份锁串行化，后到的 Start 总是生效
// 等待旧执行退出与写存储都在 mu 之外进行，不同身份之间互不阻塞
type Registry struct {
	store  TaskStore
	runner Runner

	mu      sync.Mutex
	tasks   map[models.TaskKey]*execution
	keyLock map[models.TaskKey]*sync.Mutex
	closed  bool

	base       context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup
}

// NewRegistry 创建任务注册表
func NewRegistry(store TaskStore, runner Runner) *Registry {
	base, cancel := context.WithCancel(context.Background())
	return &Registry{
		store:      store,
		runner:     runner,
		tasks:      make(map[models.TaskKey]*execution),
		keyLock:    make(map[models.TaskKey]*sync.Mutex),
		base:       base,
		cancelBase: cancel,
	}
}

// Start 启动任务：已有执行会先被取消并等待退出，然后持久化为启用并启动新执行
// 仅在持久化失败时返回 ErrPersistence
func (r *Registry) Start(ctx context.Context, task *models.ForwardingTask) error {
	key := task.Key()

	unlock := r.lockKey(key)
	defer unlock()

	if r.isClosed() {
		return ErrRegistryClosed
	}

	if r.cancelAndWait(key) {
		logger.L().Infof("Restarting forward task %s", key)
	}

	persisted := task.Clone()
	persisted.Active = true
	persisted.LastError = ""
	persisted.UpdatedAt = time.Now()
	if err := r.store.UpsertTask(ctx, persisted); err != nil {
		return fmt.Errorf("%w: persist task %s: %v", ErrPersistence, key, err)
	}
	task.Active = true
	task.LastError = ""

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		// 已持久化为启用，下次启动时由恢复流程继续
		return ErrRegistryClosed
	}
	r.launchLocked(key)
	return nil
}

// Resume 启动已持久化为启用的任务，不修改存储；已在运行时返回 false
func (r *Registry) Resume(task *models.ForwardingTask) (bool, error) {
	key := task.Key()

	unlock := r.lockKey(key)
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, ErrRegistryClosed
	}
	if _, ok := r.tasks[key]; ok {
		return false, nil
	}

	r.launchLocked(key)
	return true, nil
}

// Stop 取消执行并将任务标记为停用
// 没有运行中的执行时不是错误，返回 false
func (r *Registry) Stop(ctx context.Context, key models.TaskKey) (bool, error) {
	unlock := r.lockKey(key)
	defer unlock()

	wasRunning := r.cancelAndWait(key)

	if err := r.store.SetActive(ctx, key, false, ""); err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return wasRunning, nil
		}
		return wasRunning, fmt.Errorf("%w: deactivate task %s: %v", ErrPersistence, key, err)
	}

	if wasRunning {
		logger.L().Infof("Forward task %s stopped", key)
	}
	return wasRunning, nil
}

// IsRunning 任务是否有运行中的执行
func (r *Registry) IsRunning(key models.TaskKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.tasks[key]
	return ok
}

// Lookup 返回执行快照
func (r *Registry) Lookup(key models.TaskKey) (Execution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	x, ok := r.tasks[key]
	if !ok {
		return Execution{}, false
	}
	return snapshot(key, x), true
}

// Running 返回全部运行中执行的快照
func (r *Registry) Running() []Execution {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]Execution, 0, len(r.tasks))
	for key, x := range r.tasks {
		result = append(result, snapshot(key, x))
	}
	return result
}

// Count 运行中执行数量
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Shutdown 取消全部执行并等待退出，任务在存储中保持启用，重启后由恢复流程继续
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.cancelBase()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.L().Info("Task registry shut down")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for forward tasks: %w", ctx.Err())
	}
}

// lockKey 获取身份锁，返回解锁函数
func (r *Registry) lockKey(key models.TaskKey) func() {
	r.mu.Lock()
	l, ok := r.keyLock[key]
	if !ok {
		l = &sync.Mutex{}
		r.keyLock[key] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// cancelAndWait 取消执行并在 mu 之外等待其退出，调用方须持有身份锁
// 执行可能仍在完成发送与持久化，等待期间其他身份的操作不受影响
func (r *Registry) cancelAndWait(key models.TaskKey) bool {
	r.mu.Lock()
	x, ok := r.tasks[key]
	if ok {
		x.cancel()
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	<-x.done

	r.mu.Lock()
	if current, ok := r.tasks[key]; ok && current == x {
		delete(r.tasks, key)
	}
	r.mu.Unlock()
	return true
}

func (r *Registry) launchLocked(key models.TaskKey) {
	ctx, cancel := context.WithCancel(withShutdown(r.base, r.base))
	x := &execution{
		runID:     uuid.NewString(),
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	x.setState(StateIdle)
	r.tasks[key] = x

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()

		outcome := r.execute(ctx, key, x)
		close(x.done)
		r.release(key, x, outcome)
	}()
}

// execute 隔离单个任务的 panic，避免影响进程
func (r *Registry) execute(ctx context.Context, key models.TaskKey, x *execution) (outcome Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.L().Errorf("Forward task %s panicked: %v", key, rec)
			x.setState(StateFailed)
			outcome = OutcomeFailed
		}
	}()
	return r.runner.Run(ctx, key, x.runID, x.setState)
}

// release 执行自行退出时移出注册表；已被新执行替换时不做处理
func (r *Registry) release(key models.TaskKey, x *execution, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.tasks[key]; ok && current == x {
		delete(r.tasks, key)
		logger.L().Debugf("Forward task %s released: outcome=%s", key, outcome)
	}
}

func snapshot(key models.TaskKey, x *execution) Execution {
	return Execution{
		Key:       key,
		RunID:     x.runID,
		State:     State(x.state.Load()),
		StartedAt: x.startedAt,
	}
}
