package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 应用程序配置
type Config struct {
	TelegramToken        string  // Telegram Bot API Token
	BotOwnerIDs          []int64 // Bot Owner ID 列表，为空时首个 /start 用户成为 Owner
	MongoURI             string  // MongoDB连接URI
	MongoDBName          string  // MongoDB数据库名称
	MessageRetentionDays int     // 频道消息收件箱保留天数（过期自动删除）
	Debug                bool    // Bot 调试模式
	HandlerWorkers       int     // 命令处理协程数
	DashboardAddr        string  // 只读面板监听地址，为空时不启动；未指定主机时只监听本机
	MetricsEnabled       bool    // 是否导出 Prometheus 指标
	DailyReportEnabled   bool    // 是否每日向 Owner 推送转发统计
	Forward              ForwardConfig
}

// ForwardConfig 转发调度相关配置
type ForwardConfig struct {
	BatchSize         int           // 单轮最多处理的消息数
	BackoffMax        time.Duration // 拉取失败退避上限
	PersistRetries    int           // 水位线/日志写入重试次数
	DedupCacheSize    int           // 每个目标频道保留的指纹数
	SendRatePerSecond float64       // 全局发送速率
	ChatSendPerMinute int           // 单频道每分钟发送上限
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	mongoDBName := os.Getenv("MONGO_DB_NAME")
	if mongoDBName == "" {
		mongoDBName = "forward_bot"
	}

	cfg := &Config{
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),
		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDBName:   mongoDBName,
	}

	dashboardAddr, err := parseDashboardAddr(os.Getenv("DASHBOARD_ADDR"))
	if err != nil {
		return nil, err
	}
	cfg.DashboardAddr = dashboardAddr

	// 解析BOT_OWNER_IDS
	ownerIDsStr := os.Getenv("BOT_OWNER_IDS")
	if ownerIDsStr != "" {
		cfg.BotOwnerIDs, err = parseOwnerIDs(ownerIDsStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse BOT_OWNER_IDS: %w", err)
		}
	}

	// 解析MESSAGE_RETENTION_DAYS（默认7天）
	days, err := intFromEnv("MESSAGE_RETENTION_DAYS", 7)
	if err != nil {
		return nil, err
	}
	if days < 1 {
		return nil, fmt.Errorf("MESSAGE_RETENTION_DAYS must be >= 1, got %d", days)
	}
	cfg.MessageRetentionDays = days

	if cfg.Debug, err = boolFromEnv("BOT_DEBUG", false); err != nil {
		return nil, err
	}
	if cfg.MetricsEnabled, err = boolFromEnv("METRICS_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.DailyReportEnabled, err = boolFromEnv("DAILY_REPORT_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.HandlerWorkers, err = positiveIntFromEnv("HANDLER_WORKERS", 10); err != nil {
		return nil, err
	}

	forwardCfg, err := loadForwardConfig()
	if err != nil {
		return nil, err
	}
	cfg.Forward = forwardCfg

	return cfg, nil
}

// parseDashboardAddr 面板不做用户鉴权，":8080" 这类未指定主机的地址绑定到 127.0.0.1
// 需要对外暴露时须显式写出主机，例如 0.0.0.0:8080
func parseDashboardAddr(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return "", fmt.Errorf("invalid DASHBOARD_ADDR %q: %w", raw, err)
	}
	if port == "" {
		return "", fmt.Errorf("invalid DASHBOARD_ADDR %q: missing port", raw)
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port), nil
}

func loadForwardConfig() (ForwardConfig, error) {
	var (
		cfg ForwardConfig
		err error
	)

	if cfg.BatchSize, err = positiveIntFromEnv("FORWARD_BATCH_SIZE", 10); err != nil {
		return ForwardConfig{}, err
	}
	if cfg.PersistRetries, err = positiveIntFromEnv("FORWARD_PERSIST_RETRIES", 5); err != nil {
		return ForwardConfig{}, err
	}
	if cfg.DedupCacheSize, err = positiveIntFromEnv("DEDUP_CACHE_SIZE", 100); err != nil {
		return ForwardConfig{}, err
	}
	if cfg.ChatSendPerMinute, err = positiveIntFromEnv("CHAT_SEND_PER_MINUTE", 20); err != nil {
		return ForwardConfig{}, err
	}

	cfg.BackoffMax = 30 * time.Minute
	if raw := strings.TrimSpace(os.Getenv("FORWARD_BACKOFF_MAX")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return ForwardConfig{}, fmt.Errorf("invalid FORWARD_BACKOFF_MAX: %s", raw)
		}
		cfg.BackoffMax = d
	}

	cfg.SendRatePerSecond = 25
	if raw := strings.TrimSpace(os.Getenv("SEND_RATE_PER_SECOND")); raw != "" {
		rate, err := strconv.ParseFloat(raw, 64)
		if err != nil || rate <= 0 {
			return ForwardConfig{}, fmt.Errorf("invalid SEND_RATE_PER_SECOND: %s", raw)
		}
		cfg.SendRatePerSecond = rate
	}

	return cfg, nil
}

// parseOwnerIDs 解析逗号分隔的用户ID字符串
// 支持格式: "123456789" 或 "123456789,987654321"
func parseOwnerIDs(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid owner ID %q: %w", part, err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func intFromEnv(name string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return value, nil
}

func positiveIntFromEnv(name string, def int) (int, error) {
	value, err := intFromEnv(name, def)
	if err != nil {
		return 0, err
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s must be > 0, got %d", name, value)
	}
	return value, nil
}

func boolFromEnv(name string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return value, nil
}
