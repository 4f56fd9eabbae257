package telegram

import (
	"context"

	"forward_bot/internal/logger"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
)

// RequireOwner 中间件：仅允许 Owner 执行
func (b *Bot) RequireOwner(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
		if update.Message == nil || update.Message.From == nil {
			return
		}

		isOwner, err := b.userService.CheckOwnerPermission(ctx, update.Message.From.ID)
		if err != nil || !isOwner {
			logger.L().Warnf("Non-owner user %d attempted to use owner command", update.Message.From.ID)
			b.sendErrorMessage(ctx, update.Message.Chat.ID, "此命令仅限 Bot Owner 使用")
			return
		}

		next(ctx, botInstance, update)
	}
}

// RequireAuthorized 中间件：需要 Owner 或白名单用户
func (b *Bot) RequireAuthorized(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
		if update.Message == nil || update.Message.From == nil {
			return
		}

		allowed, err := b.userService.CheckAuthorizedPermission(ctx, update.Message.From.ID)
		if err != nil || !allowed {
			logger.L().Warnf("Unauthorized user %d attempted to use forward command", update.Message.From.ID)
			b.sendErrorMessage(ctx, update.Message.Chat.ID, "你没有使用转发功能的权限，请联系 Owner 加入白名单")
			return
		}

		_ = b.userService.UpdateUserActivity(ctx, update.Message.From.ID)
		next(ctx, botInstance, update)
	}
}
