package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"forward_bot/internal/logger"
	"forward_bot/internal/scheduler"
	"forward_bot/internal/telegram/models"
	"forward_bot/internal/telegram/service"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
)

const recordTimeout = 5 * time.Second

// registerHandlers 注册所有命令处理器（异步执行）
func (b *Bot) registerHandlers() {
	// 普通命令 - 异步执行
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact,
		b.asyncHandler(b.handleStart))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/ping", bot.MatchTypeExact,
		b.asyncHandler(b.handlePing))

	// 用户管理（仅 Owner）
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/adduser", bot.MatchTypePrefix,
		b.asyncHandler(b.RequireOwner(b.handleAddUser)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/removeuser", bot.MatchTypePrefix,
		b.asyncHandler(b.RequireOwner(b.handleRemoveUser)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/listusers", bot.MatchTypeExact,
		b.asyncHandler(b.RequireOwner(b.handleListUsers)))

	// 转发命令（Owner 与白名单用户）
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/setpair", bot.MatchTypePrefix,
		b.asyncHandler(b.RequireAuthorized(b.handleSetPair)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/startforward", bot.MatchTypePrefix,
		b.asyncHandler(b.RequireAuthorized(b.handleStartForward)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/stopforward", bot.MatchTypePrefix,
		b.asyncHandler(b.RequireAuthorized(b.handleStopForward)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/status", bot.MatchTypeExact,
		b.asyncHandler(b.RequireAuthorized(b.handleStatus)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/stats", bot.MatchTypeExact,
		b.asyncHandler(b.RequireAuthorized(b.handleStats)))

	logger.L().Debug("All handlers registered with async execution")
}

// handleDefault 未匹配命令的更新：频道消息写入收件箱
func (b *Bot) handleDefault(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.ChannelPost == nil {
		return
	}

	recordCtx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	if err := b.recorder.Record(recordCtx, update.ChannelPost); err != nil {
		logger.L().Errorf("Failed to record channel post: chat_id=%d, message_id=%d, error=%v",
			update.ChannelPost.Chat.ID, update.ChannelPost.ID, err)
	}
}

// handleStart 处理 /start 命令
func (b *Bot) handleStart(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	from := update.Message.From
	userInfo := &service.TelegramUserInfo{
		TelegramID: from.ID,
		Username:   from.Username,
		FirstName:  from.FirstName,
	}

	user, err := b.userService.RegisterOrUpdateUser(ctx, userInfo)
	if err != nil {
		b.sendErrorMessage(ctx, update.Message.Chat.ID, "注册失败，请稍后重试")
		return
	}

	// 未配置 BOT_OWNER_IDS 时，第一个 /start 的用户成为 Owner
	if len(b.ownerIDs) == 0 && !user.IsOwner() {
		claimed, err := b.userService.ClaimOwnerIfVacant(ctx, from.ID)
		if err != nil {
			logger.L().Warnf("Failed to claim ownership for %d: %v", from.ID, err)
		} else if claimed {
			user.Role = models.RoleOwner
			b.sendSuccessMessage(ctx, update.Message.Chat.ID, "你已成为本 Bot 的 Owner")
		}
	}

	welcomeText := fmt.Sprintf(
		"👋 你好, %s!\n\n欢迎使用频道转发 Bot。\n\n可用命令:\n"+
			"/start - 开始\n/ping - 测试连接\n",
		from.FirstName,
	)
	if user.IsAuthorized() {
		welcomeText += "/setpair - 配置源/目标频道\n" +
			"/startforward - 启动转发\n" +
			"/stopforward - 停止转发\n" +
			"/status - 查看任务状态\n" +
			"/stats - 查看统计\n"
	} else {
		welcomeText += fmt.Sprintf("\n你的用户 ID: <code>%d</code>\n请联系 Owner 加入白名单后使用转发功能。", from.ID)
	}
	if user.IsOwner() {
		welcomeText += "/adduser - 添加白名单用户\n/removeuser - 移除白名单用户\n/listusers - 查看白名单\n"
	}

	b.sendMessage(ctx, update.Message.Chat.ID, welcomeText)
}

// handlePing 处理 /ping 命令
func (b *Bot) handlePing(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil {
		return
	}

	// 更新用户活跃时间
	if update.Message.From != nil {
		_ = b.userService.UpdateUserActivity(ctx, update.Message.From.ID)
	}

	b.sendMessage(ctx, update.Message.Chat.ID, b.buildPingMessage(ctx))
}

// handleAddUser 处理 /adduser 命令
func (b *Bot) handleAddUser(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	chatID := update.Message.Chat.ID

	targetID, err := parseUserID(commandArgs(update.Message.Text))
	if err != nil {
		b.sendUsageOrError(ctx, chatID, err, usageAddUser)
		return
	}

	if err := b.userService.ApproveUser(ctx, targetID, update.Message.From.ID); err != nil {
		b.sendErrorMessage(ctx, chatID, err.Error())
		return
	}

	b.sendSuccessMessage(ctx, chatID, fmt.Sprintf("已将用户 %d 加入白名单", targetID))
}

// handleRemoveUser 处理 /removeuser 命令
func (b *Bot) handleRemoveUser(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	chatID := update.Message.Chat.ID

	targetID, err := parseUserID(commandArgs(update.Message.Text))
	if err != nil {
		b.sendUsageOrError(ctx, chatID, err, usageRemoveUser)
		return
	}

	if err := b.userService.RevokeUser(ctx, targetID, update.Message.From.ID); err != nil {
		b.sendErrorMessage(ctx, chatID, err.Error())
		return
	}

	b.sendSuccessMessage(ctx, chatID, fmt.Sprintf("已将用户 %d 移出白名单", targetID))
}

// handleListUsers 处理 /listusers 命令
func (b *Bot) handleListUsers(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	users, err := b.userService.ListAuthorizedUsers(ctx)
	if err != nil {
		b.sendErrorMessage(ctx, update.Message.Chat.ID, "查询失败")
		return
	}

	b.sendMessage(ctx, update.Message.Chat.ID, formatUserList(users))
}

// handleSetPair 处理 /setpair 命令
func (b *Bot) handleSetPair(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	chatID := update.Message.Chat.ID

	source, target, err := parseChannelPair(commandArgs(update.Message.Text))
	if err != nil {
		b.sendUsageOrError(ctx, chatID, err, usageSetPair)
		return
	}

	key := models.TaskKey{OwnerID: update.Message.From.ID, SourceChannelID: source, TargetChannelID: target}
	task, err := b.forwardService.ConfigurePair(ctx, key)
	if err != nil {
		logger.L().Errorf("Failed to configure pair %s: %v", key, err)
		b.sendErrorMessage(ctx, chatID, describeStartError(err))
		return
	}

	b.sendSuccessMessage(ctx, chatID, fmt.Sprintf(
		"频道对已配置\n源频道: <code>%d</code>\n目标频道: <code>%d</code>\n调度: %s\n%s\n\n使用 /startforward 启动转发",
		source, target, scheduler.DescribeSchedule(task), b.describeInbox(ctx, source)))
}

// describeInbox 源频道收件箱状态，提示 Bot 是否已收到频道消息
func (b *Bot) describeInbox(ctx context.Context, sourceID int64) string {
	latest, err := b.inbox.LatestMessageID(ctx, sourceID)
	if err != nil {
		logger.L().Warnf("Failed to load latest inbox message: chat_id=%d, err=%v", sourceID, err)
		return "收件箱: 查询失败"
	}
	if latest == 0 {
		return "⚠️ 尚未收到源频道消息，请确认 Bot 已作为管理员加入源频道"
	}
	return fmt.Sprintf("收件箱: 已记录至消息 #%d", latest)
}

// handleStartForward 处理 /startforward 命令
func (b *Bot) handleStartForward(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	chatID := update.Message.Chat.ID

	args, err := parseStartForwardArgs(commandArgs(update.Message.Text))
	if err != nil {
		b.sendUsageOrError(ctx, chatID, err, usageStartForward)
		return
	}

	key := models.TaskKey{OwnerID: update.Message.From.ID, SourceChannelID: args.Source, TargetChannelID: args.Target}
	opts := scheduler.StartOptions{PreserveLinkPreview: args.PreserveLinkPreview}

	task, err := b.forwardService.StartTask(ctx, key, args.Mode, args.Params, opts)
	if err != nil {
		logger.L().Warnf("Failed to start forward task %s: %v", key, err)
		b.sendErrorMessage(ctx, chatID, describeStartError(err))
		if errors.Is(err, scheduler.ErrInvalidTimeFormat) || errors.Is(err, scheduler.ErrInvalidConfiguration) {
			b.sendMessage(ctx, chatID, usageStartForward)
		}
		return
	}

	preview := "保留"
	if !task.PreserveLinkPreview {
		preview = "关闭"
	}
	b.sendSuccessMessage(ctx, chatID, fmt.Sprintf(
		"转发已启动\n源频道: <code>%d</code>\n目标频道: <code>%d</code>\n调度: %s\n链接预览: %s",
		args.Source, args.Target, scheduler.DescribeSchedule(task), preview))
}

// handleStopForward 处理 /stopforward 命令
func (b *Bot) handleStopForward(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	chatID := update.Message.Chat.ID

	source, target, err := parseChannelPair(commandArgs(update.Message.Text))
	if err != nil {
		b.sendUsageOrError(ctx, chatID, err, usageStopForward)
		return
	}

	key := models.TaskKey{OwnerID: update.Message.From.ID, SourceChannelID: source, TargetChannelID: target}
	stopped, err := b.forwardService.StopTask(ctx, key)
	if err != nil {
		logger.L().Errorf("Failed to stop forward task %s: %v", key, err)
		b.sendErrorMessage(ctx, chatID, describeStartError(err))
		return
	}

	if !stopped {
		b.sendMessage(ctx, chatID, "ℹ️ 该转发任务当前未在运行")
		return
	}
	b.sendSuccessMessage(ctx, chatID, "转发已停止")
}

// handleStatus 处理 /status 命令
func (b *Bot) handleStatus(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	statuses, err := b.forwardService.GetStatus(ctx, update.Message.From.ID)
	if err != nil {
		logger.L().Errorf("Failed to load status for %d: %v", update.Message.From.ID, err)
		b.sendErrorMessage(ctx, update.Message.Chat.ID, "查询失败，请稍后重试")
		return
	}

	b.sendMessage(ctx, update.Message.Chat.ID, formatTaskStatuses(statuses))
}

// handleStats 处理 /stats 命令
func (b *Bot) handleStats(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	stats, err := b.forwardService.GetStats(ctx)
	if err != nil {
		logger.L().Errorf("Failed to load stats: %v", err)
		b.sendErrorMessage(ctx, update.Message.Chat.ID, "查询失败，请稍后重试")
		return
	}

	b.sendMessage(ctx, update.Message.Chat.ID, formatStats(stats))
}

// sendUsageOrError 参数缺失时发送用法，否则发送具体错误
func (b *Bot) sendUsageOrError(ctx context.Context, chatID int64, err error, usage string) {
	if errors.Is(err, errMissingArgs) {
		b.sendErrorMessage(ctx, chatID, usage)
		return
	}
	b.sendErrorMessage(ctx, chatID, err.Error())
}
