package telegram

import (
	"context"
	"fmt"
	"time"

	"forward_bot/internal/logger"
	"forward_bot/internal/scheduler"
)

// dailyReportScheduler 每天 00:00:05 向 Owner 推送转发统计
type dailyReportScheduler struct {
	stats      func(ctx context.Context) (*scheduler.Stats, error)
	recipients func(ctx context.Context) ([]int64, error)
	send       func(ctx context.Context, chatID int64, text string)

	location *time.Location
	cancel   context.CancelFunc
	done     chan struct{}

	// 上次推送时的累计转发数，用于计算日增量
	lastForwarded int64
	hasBaseline   bool
}

func newDailyReportScheduler(bot *Bot) *dailyReportScheduler {
	return &dailyReportScheduler{
		stats:      bot.forwardService.GetStats,
		recipients: bot.ownerRecipients,
		send: func(ctx context.Context, chatID int64, text string) {
			bot.sendMessage(ctx, chatID, text)
		},
		location: mustLoadChinaLocation(),
	}
}

func (s *dailyReportScheduler) start() {
	if s == nil {
		return
	}
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx)
	logger.L().Info("Daily report scheduler started")
}

func (s *dailyReportScheduler) stop() {
	if s == nil {
		return
	}
	if s.cancel == nil {
		return
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	logger.L().Info("Daily report scheduler stopped")
}

func (s *dailyReportScheduler) run(ctx context.Context) {
	defer close(s.done)

	for {
		now := time.Now().In(s.location)
		next := nextDailyRun(now, s.location)
		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}

		timer := time.NewTimer(wait)
		logger.L().Debugf("Daily report waiting %s until %s", wait.String(), next.Format(time.RFC3339))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.dispatch(ctx)
		}
	}
}

func (s *dailyReportScheduler) dispatch(parent context.Context) {
	if parent.Err() != nil {
		return
	}

	runCtx, cancel := context.WithTimeout(parent, 2*time.Minute)
	defer cancel()

	stats, err := s.stats(runCtx)
	if err != nil {
		logger.L().Errorf("Daily report failed to load stats: %v", err)
		return
	}

	recipients, err := s.recipients(runCtx)
	if err != nil {
		logger.L().Errorf("Daily report failed to list owners: %v", err)
		return
	}
	if len(recipients) == 0 {
		logger.L().Info("Daily report skipped: no owners")
		return
	}

	message := s.buildMessage(time.Now().In(s.location), stats)
	for _, chatID := range recipients {
		if runCtx.Err() != nil {
			logger.L().Warn("Daily report aborted: context canceled")
			return
		}
		s.send(runCtx, chatID, message)
	}

	s.lastForwarded = stats.Forwarded
	s.hasBaseline = true
	logger.L().Infof("Daily report sent to %d owners", len(recipients))
}

func (s *dailyReportScheduler) buildMessage(now time.Time, stats *scheduler.Stats) string {
	reportDate := previousReportDate(now, s.location)

	text := fmt.Sprintf("🗓 %s 转发日报\n\n%s", reportDate.Format("2006-01-02"), formatStats(stats))
	if s.hasBaseline {
		delta := stats.Forwarded - s.lastForwarded
		if delta < 0 {
			delta = 0
		}
		text += fmt.Sprintf("\n昨日新增转发: %d", delta)
	}
	return text
}

// ownerRecipients 配置的 Owner 与数据库中的 Owner（去重）
func (b *Bot) ownerRecipients(ctx context.Context) ([]int64, error) {
	seen := make(map[int64]struct{}, len(b.ownerIDs))
	result := make([]int64, 0, len(b.ownerIDs))
	for _, id := range b.ownerIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			result = append(result, id)
		}
	}

	users, err := b.userService.ListAuthorizedUsers(ctx)
	if err != nil {
		return result, err
	}
	for _, user := range users {
		if !user.IsOwner() {
			continue
		}
		if _, ok := seen[user.TelegramID]; !ok {
			seen[user.TelegramID] = struct{}{}
			result = append(result, user.TelegramID)
		}
	}
	return result, nil
}

func nextDailyRun(now time.Time, location *time.Location) time.Time {
	local := now.In(location)
	next := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 5, 0, location)
	if !next.After(local) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

func previousReportDate(now time.Time, location *time.Location) time.Time {
	local := now.In(location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, location)
	return midnight.AddDate(0, 0, -1)
}

func mustLoadChinaLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*3600)
	}
	return loc
}
