package telegram

import (
	"context"
	"fmt"

	"forward_bot/internal/logger"
	"forward_bot/internal/scheduler"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
)

// messageSender 发送文本消息的最小能力
type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*botModels.Message, error)
}

// Notifier 通过私聊通知任务所有者
// 所有者无法接收时（未私聊过 Bot 或已屏蔽）转发给配置的 Owner
type Notifier struct {
	sender   messageSender
	fallback []int64
}

var _ scheduler.Notifier = (*Notifier)(nil)

// NewNotifier 创建通知器
func NewNotifier(sender messageSender, fallback []int64) *Notifier {
	return &Notifier{
		sender:   sender,
		fallback: append([]int64(nil), fallback...),
	}
}

// NotifyOwner 发送纯文本通知
func (n *Notifier) NotifyOwner(ctx context.Context, ownerID int64, text string) error {
	err := n.send(ctx, ownerID, text)
	if err == nil {
		return nil
	}
	logger.L().Warnf("Failed to notify owner %d: %v", ownerID, err)

	delivered := false
	for _, id := range n.fallback {
		if id == ownerID {
			continue
		}
		relayed := fmt.Sprintf("用户 %d 无法接收通知，转发如下:\n\n%s", ownerID, text)
		if sendErr := n.send(ctx, id, relayed); sendErr != nil {
			logger.L().Warnf("Failed to relay notification to owner %d: %v", id, sendErr)
			continue
		}
		delivered = true
	}

	if delivered {
		return nil
	}
	return fmt.Errorf("failed to notify owner %d: %w", ownerID, err)
}

func (n *Notifier) send(ctx context.Context, chatID int64, text string) error {
	_, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	return err
}
