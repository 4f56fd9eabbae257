package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forward_bot/internal/app"
	"forward_bot/internal/config"
	"forward_bot/internal/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// 初始化logger
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		logger.L().Fatalf("配置加载失败: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		logger.L().Fatalf("应用初始化失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.L().Errorf("Bot 运行出错: %v", err)
	}

	logger.L().Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := application.Close(shutdownCtx); err != nil {
		logger.L().Errorf("应用关闭失败: %v", err)
		os.Exit(1)
	}
	logger.L().Info("Bye")
}
