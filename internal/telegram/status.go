package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"forward_bot/internal/logger"
	"forward_bot/internal/scheduler"
)

// pingReport /ping 采集到的运行状况
type pingReport struct {
	Uptime     time.Duration
	Executions []scheduler.Execution
	Stats      *scheduler.Stats
	Pool       *WorkerPoolStats

	DBChecked bool
	DBErr     error

	APIChecked bool
	APILatency time.Duration
	APIErr     error
}

// buildPingMessage 构建 /ping 命令的响应文本
func (b *Bot) buildPingMessage(ctx context.Context) string {
	return formatPingReport(b.collectPingReport(ctx))
}

func (b *Bot) collectPingReport(ctx context.Context) pingReport {
	var report pingReport

	if !b.startTime.IsZero() {
		report.Uptime = time.Since(b.startTime)
	}

	if b.forwardService != nil {
		report.Executions = b.forwardService.Registry().Running()

		statsCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		stats, err := b.forwardService.GetStats(statsCtx)
		cancel()
		if err != nil {
			logger.L().Warnf("Failed to load stats for ping: %v", err)
		} else {
			report.Stats = stats
		}
	}

	if b.workerPool != nil {
		stats := b.workerPool.Stats()
		report.Pool = &stats
	}

	if b.db != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		report.DBChecked = true
		report.DBErr = b.db.Client().Ping(dbCtx, nil)
		cancel()
	}

	// 用 getMe 测量转发实际使用的 Bot API 链路
	if b.bot != nil {
		apiCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		start := time.Now()
		_, err := b.bot.GetMe(apiCtx)
		cancel()
		report.APIChecked = true
		report.APILatency = time.Since(start)
		report.APIErr = err
	}

	return report
}

// formatPingReport 格式化 /ping 文本
func formatPingReport(r pingReport) string {
	lines := []string{"🏓 Pong!"}

	if r.Uptime > 0 {
		lines = append(lines, fmt.Sprintf("⏱ 运行时间: %s", scheduler.FormatDuration(r.Uptime)))
	}

	var cycling, sleeping int
	for _, x := range r.Executions {
		if x.State == scheduler.StateSleeping {
			sleeping++
		} else {
			cycling++
		}
	}
	lines = append(lines, fmt.Sprintf("🔁 转发执行: %d 个（转发中 %d，等待下一轮 %d）", len(r.Executions), cycling, sleeping))

	if r.Stats != nil {
		lines = append(lines, fmt.Sprintf("📋 启用任务: %d/%d，累计转发 %d 条", r.Stats.ActiveTasks, r.Stats.Tasks, r.Stats.Forwarded))
		if errs := r.Stats.Counters["send_errors"]; errs > 0 {
			lines = append(lines, fmt.Sprintf("⚠️ 发送失败跳过: %d 条", errs))
		}
	}

	if r.Pool != nil {
		lines = append(lines, fmt.Sprintf("🛠 命令工作池: %d 个协程，队列 %d/%d", r.Pool.Workers, r.Pool.QueueLength, r.Pool.QueueCapacity))
	}

	if r.DBChecked {
		if r.DBErr != nil {
			lines = append(lines, fmt.Sprintf("🗄 数据库: ⚠️ %s", html.EscapeString(r.DBErr.Error())))
		} else {
			lines = append(lines, "🗄 数据库: ✅ 正常")
		}
	}

	if r.APIChecked {
		if r.APIErr != nil {
			lines = append(lines, fmt.Sprintf("🤖 Bot API: ⚠️ %s", html.EscapeString(r.APIErr.Error())))
		} else {
			lines = append(lines, fmt.Sprintf("🤖 Bot API 延迟: %s", r.APILatency.Round(time.Millisecond)))
		}
	}

	return strings.Join(lines, "\n")
}
