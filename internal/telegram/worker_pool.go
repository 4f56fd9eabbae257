package telegram

import (
	"context"
	"sync"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"

	"forward_bot/internal/logger"
)

// HandlerTask Handler 任务
type HandlerTask struct {
	Ctx         context.Context
	BotInstance *bot.Bot
	Update      *botModels.Update
	Handler     bot.HandlerFunc
}

// WorkerPoolStats 工作池状态
type WorkerPoolStats struct {
	Workers       int
	QueueLength   int
	QueueCapacity int
}

// WorkerPool Handler 工作池
type WorkerPool struct {
	taskQueue chan HandlerTask
	wg        sync.WaitGroup
	workers   int

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool 创建工作池
// workers: worker 协程数量
// queueSize: 任务队列大小
func NewWorkerPool(workers int, queueSize int) *WorkerPool {
	pool := &WorkerPool{
		taskQueue: make(chan HandlerTask, queueSize),
		workers:   workers,
	}

	// 启动 worker goroutines
	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	logger.L().Infof("Worker pool started with %d workers, queue size %d", workers, queueSize)
	return pool
}

// worker 工作协程
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	logger.L().Debugf("Worker %d started", id)

	for task := range p.taskQueue {
		p.run(id, task)
	}

	logger.L().Debugf("Worker %d stopped", id)
}

// run 执行 handler，带 panic recovery
func (p *WorkerPool) run(id int, task HandlerTask) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Errorf("Worker %d: handler panic recovered: %v", id, r)
			if task.BotInstance != nil && task.Update != nil && task.Update.Message != nil {
				_, _ = task.BotInstance.SendMessage(task.Ctx, &bot.SendMessageParams{
					ChatID: task.Update.Message.Chat.ID,
					Text:   "❌ 服务器内部错误，请稍后重试",
				})
			}
		}
	}()

	task.Handler(task.Ctx, task.BotInstance, task.Update)
}

// Submit 提交任务到工作池，队列已满或已关闭时丢弃并返回 false
func (p *WorkerPool) Submit(task HandlerTask) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		logger.L().Warnf("Worker pool is shut down, task dropped")
		return false
	}

	select {
	case p.taskQueue <- task:
		return true
	default:
		logger.L().Warnf("Worker pool queue is full, task dropped")
		return false
	}
}

// Stats 返回工作池状态
func (p *WorkerPool) Stats() WorkerPoolStats {
	return WorkerPoolStats{
		Workers:       p.workers,
		QueueLength:   len(p.taskQueue),
		QueueCapacity: cap(p.taskQueue),
	}
}

// Shutdown 优雅关闭工作池
// 等待所有正在执行的任务完成，重复调用是安全的
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.taskQueue)
	p.mu.Unlock()

	logger.L().Info("Shutting down worker pool...")
	p.wg.Wait()
	logger.L().Info("Worker pool shut down successfully")
}

// asyncHandler 将 handler 包装为提交到工作池执行
func (b *Bot) asyncHandler(handler bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
		b.workerPool.Submit(HandlerTask{
			Ctx:         ctx,
			BotInstance: botInstance,
			Update:      update,
			Handler:     handler,
		})
	}
}
