package telegram

import (
	"context"
	"fmt"
	"time"

	"forward_bot/internal/config"
	"forward_bot/internal/logger"
	"forward_bot/internal/scheduler"
	"forward_bot/internal/telegram/forward"
	"forward_bot/internal/telegram/repository"
	"forward_bot/internal/telegram/service"

	"github.com/go-telegram/bot"
	"go.mongodb.org/mongo-driver/mongo"
)

// Config Telegram Bot 配置
type Config struct {
	Token            string        // Bot Token
	OwnerIDs         []int64       // Owner 用户 IDs
	Debug            bool          // 是否开启调试模式
	DailyReport      bool          // 是否每日向 Owner 推送统计
	Workers          int           // Handler 工作协程数
	QueueSize        int           // Handler 队列长度
	MessageRetention time.Duration // 频道消息收件箱保留时间
	DedupCacheSize   int           // 每个目标频道的指纹窗口
	Engine           scheduler.EngineConfig
	Client           forward.ClientConfig
	Metrics          scheduler.Metrics
}

// Bot Telegram Bot 服务
type Bot struct {
	bot        *bot.Bot
	db         *mongo.Database
	ownerIDs   []int64
	startTime  time.Time
	workerPool *WorkerPool

	store *repository.MongoStore
	inbox repository.ChannelMessageRepository

	userService    service.UserService
	forwardService *scheduler.Service
	recorder       *forward.Recorder
	dailyReport    *dailyReportScheduler
}

// New 创建 Telegram Bot 实例并装配转发调度器
func New(cfg Config, db *mongo.Database) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token cannot be empty")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	// 创建 repositories
	userRepo := repository.NewMongoUserRepository(db)
	inbox := repository.NewMongoChannelMessageRepository(db, cfg.MessageRetention)
	store := repository.NewMongoStore(db)

	telegramBot := &Bot{
		db:          db,
		ownerIDs:    cfg.OwnerIDs,
		startTime:   time.Now(),
		store:       store,
		inbox:       inbox,
		userService: service.NewUserService(userRepo),
		recorder:    forward.NewRecorder(inbox),
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(telegramBot.handleDefault),
		bot.WithAllowedUpdates(bot.AllowedUpdates{"message", "channel_post"}),
	}
	if cfg.Debug {
		opts = append(opts, bot.WithDebug())
	}

	b, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	telegramBot.bot = b

	// 装配调度器
	client := forward.NewClient(b, inbox, cfg.Client)
	notifier := NewNotifier(b, cfg.OwnerIDs)
	dedup := scheduler.NewDedupFilter(store, cfg.DedupCacheSize)
	engine := scheduler.NewEngine(cfg.Engine, store, client, dedup, notifier, cfg.Metrics)
	registry := scheduler.NewRegistry(store, engine)
	telegramBot.forwardService = scheduler.NewService(store, registry, client)

	// 初始化数据库索引
	if err := telegramBot.ensureIndexes(context.Background(), userRepo); err != nil {
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	// 初始化 owners
	if err := telegramBot.userService.InitOwners(context.Background(), cfg.OwnerIDs); err != nil {
		logger.L().Warnf("Failed to initialize owners: %v", err)
	}

	if cfg.DailyReport {
		telegramBot.dailyReport = newDailyReportScheduler(telegramBot)
	}

	telegramBot.workerPool = NewWorkerPool(cfg.Workers, cfg.QueueSize)
	telegramBot.registerHandlers()

	logger.L().Info("Telegram bot initialized successfully")
	return telegramBot, nil
}

// InitFromConfig 从应用配置初始化 Telegram Bot
func InitFromConfig(cfg *config.Config, db *mongo.Database, metrics scheduler.Metrics) (*Bot, error) {
	telegramCfg := Config{
		Token:            cfg.TelegramToken,
		OwnerIDs:         cfg.BotOwnerIDs,
		Debug:            cfg.Debug,
		DailyReport:      cfg.DailyReportEnabled,
		Workers:          cfg.HandlerWorkers,
		MessageRetention: time.Duration(cfg.MessageRetentionDays) * 24 * time.Hour,
		DedupCacheSize:   cfg.Forward.DedupCacheSize,
		Engine: scheduler.EngineConfig{
			BatchSize:      cfg.Forward.BatchSize,
			BackoffMax:     cfg.Forward.BackoffMax,
			PersistRetries: cfg.Forward.PersistRetries,
		},
		Client: forward.ClientConfig{
			RatePerSecond: cfg.Forward.SendRatePerSecond,
			ChatPerMinute: cfg.Forward.ChatSendPerMinute,
		},
		Metrics: metrics,
	}
	return New(telegramCfg, db)
}

// Scheduler 返回转发调度服务
func (b *Bot) Scheduler() *scheduler.Service {
	return b.forwardService
}

// Start 恢复启用中的任务后开始轮询（阻塞式，应在 goroutine 中运行）
func (b *Bot) Start(ctx context.Context) error {
	resumed, err := scheduler.Recover(ctx, b.store, b.forwardService.Registry())
	if err != nil {
		logger.L().Errorf("Failed to recover forward tasks: %v", err)
	} else {
		logger.L().Infof("Recovered %d forward tasks", resumed)
	}

	b.dailyReport.start()

	logger.L().Info("Starting Telegram bot...")
	b.bot.Start(ctx)
	logger.L().Info("Telegram bot stopped")
	return nil
}

// Stop 停止全部转发任务并关闭工作池
// 任务在存储中保持启用，下次启动时恢复
func (b *Bot) Stop(ctx context.Context) error {
	logger.L().Info("Stopping Telegram bot...")

	b.dailyReport.stop()
	err := b.forwardService.Registry().Shutdown(ctx)
	b.workerPool.Shutdown()

	if err != nil {
		return fmt.Errorf("failed to stop forward tasks: %w", err)
	}
	return nil
}

// ensureIndexes 确保所有数据库索引存在
func (b *Bot) ensureIndexes(ctx context.Context, userRepo repository.UserRepository) error {
	if err := userRepo.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("failed to ensure user indexes: %w", err)
	}
	logger.L().Debug("User indexes ensured")

	if err := b.inbox.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("failed to ensure channel message indexes: %w", err)
	}
	logger.L().Debug("Channel message indexes ensured")

	if err := b.store.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("failed to ensure forward indexes: %w", err)
	}
	logger.L().Debug("Forward indexes ensured")

	return nil
}
