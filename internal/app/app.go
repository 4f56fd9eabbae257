package app

import (
	"context"
	"fmt"

	"forward_bot/internal/config"
	"forward_bot/internal/dashboard"
	"forward_bot/internal/logger"
	"forward_bot/internal/metrics"
	"forward_bot/internal/mongo"
	"forward_bot/internal/telegram"
)

// App 应用服务容器
// 负责管理所有服务的生命周期（初始化、运行、关闭）
type App struct {
	MongoDB     *mongo.Client
	TelegramBot *telegram.Bot
	Metrics     metrics.Provider
	Dashboard   *dashboard.Server
}

// New 初始化应用及其所有服务
// 按顺序初始化各个服务，任何服务初始化失败都会返回错误
func New(cfg *config.Config) (*App, error) {
	app := &App{}

	// 初始化 MongoDB
	mongoClient, err := mongo.InitFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init MongoDB failed: %w", err)
	}
	app.MongoDB = mongoClient
	logger.L().Info("MongoDB initialized successfully")

	app.Metrics = metrics.New(cfg.MetricsEnabled)

	// 初始化 Telegram Bot 与转发调度器
	app.TelegramBot, err = telegram.InitFromConfig(cfg, mongoClient.Database(), app.Metrics)
	if err != nil {
		_ = app.Close(context.Background()) // 清理已初始化的服务
		return nil, fmt.Errorf("init Telegram bot failed: %w", err)
	}

	forwardService := app.TelegramBot.Scheduler()
	app.Metrics.WatchRunning(forwardService.Registry().Count)

	if cfg.DashboardAddr != "" {
		app.Dashboard = dashboard.NewServer(cfg.DashboardAddr, forwardService, app.Metrics)
	}

	return app, nil
}

// Run 启动面板并运行 Bot，阻塞直到 ctx 取消
func (a *App) Run(ctx context.Context) error {
	if a.Dashboard != nil {
		a.Dashboard.Start(ctx)
	}
	return a.TelegramBot.Start(ctx)
}

// Close 优雅关闭所有服务
// 应该在应用退出时调用，确保资源正确释放
func (a *App) Close(ctx context.Context) error {
	var firstErr error

	if a.TelegramBot != nil {
		if err := a.TelegramBot.Stop(ctx); err != nil {
			logger.L().Errorf("Stop Telegram bot failed: %v", err)
			firstErr = err
		}
	}

	if a.MongoDB != nil {
		if err := a.MongoDB.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close MongoDB failed: %w", err)
		}
	}

	return firstErr
}
