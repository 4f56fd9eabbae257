package forward

import (
	"context"
	"fmt"
	"time"

	"forward_bot/internal/logger"
	"forward_bot/internal/scheduler"
	"forward_bot/internal/telegram/models"
	"forward_bot/internal/telegram/repository"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
)

var _ scheduler.Platform = (*Client)(nil)

// BotAPI 客户端用到的 Bot API 子集（*bot.Bot 实现）
type BotAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*botModels.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*botModels.Message, error)
	SendVideo(ctx context.Context, params *bot.SendVideoParams) (*botModels.Message, error)
	SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*botModels.Message, error)
	SendSticker(ctx context.Context, params *bot.SendStickerParams) (*botModels.Message, error)
	SendAnimation(ctx context.Context, params *bot.SendAnimationParams) (*botModels.Message, error)
	SendAudio(ctx context.Context, params *bot.SendAudioParams) (*botModels.Message, error)
	SendVoice(ctx context.Context, params *bot.SendVoiceParams) (*botModels.Message, error)
	GetChat(ctx context.Context, params *bot.GetChatParams) (*botModels.ChatFullInfo, error)
}

// ClientConfig 平台客户端配置
type ClientConfig struct {
	RatePerSecond  float64       // 全局发送速率
	ChatPerMinute  int           // 单个聊天每分钟发送数
	ChatCacheBytes int           // 频道信息缓存大小
	ChatCacheTTL   time.Duration // 频道信息缓存有效期
}

// Client 基于 Bot API 的平台实现
// 读取走收件箱（channel_post 落库），发送按媒体类型重新发送内容
type Client struct {
	api     BotAPI
	inbox   repository.ChannelMessageRepository
	limiter *RateLimiter
	chats   *chatCache
}

// NewClient 创建平台客户端
func NewClient(api BotAPI, inbox repository.ChannelMessageRepository, cfg ClientConfig) *Client {
	return &Client{
		api:     api,
		inbox:   inbox,
		limiter: NewRateLimiter(cfg.RatePerSecond, cfg.ChatPerMinute),
		chats:   newChatCache(cfg.ChatCacheBytes, cfg.ChatCacheTTL),
	}
}

// FetchSince 返回源频道 afterID 之后的消息
// 先确认 Bot 仍能访问源频道，再从收件箱读取
func (c *Client) FetchSince(ctx context.Context, channelID, afterID int64, limit int) ([]*models.ChannelMessage, error) {
	if _, err := c.lookupChat(ctx, channelID); err != nil {
		return nil, classifySourceError(err)
	}

	messages, err := c.inbox.ListAfter(ctx, channelID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scheduler.ErrTransient, err)
	}
	return messages, nil
}

// Send 将消息内容发送到目标频道，返回新消息 ID
func (c *Client) Send(ctx context.Context, channelID int64, msg *models.ChannelMessage, opts scheduler.SendOptions) (int64, error) {
	if err := c.limiter.Wait(ctx, channelID); err != nil {
		return 0, fmt.Errorf("%w: rate limiter wait: %v", scheduler.ErrTransient, err)
	}

	sent, err := c.send(ctx, channelID, msg, opts)
	if err != nil {
		classified := classifySendError(err)
		if _, ok := migrateToChatIDFromError(err); ok {
			c.chats.Invalidate(channelID)
		}
		return 0, classified
	}
	if sent == nil {
		return 0, fmt.Errorf("%w: empty response", scheduler.ErrTransient)
	}

	logger.L().Debugf("Sent %s message to %d: message_id=%d", msg.MediaKind, channelID, sent.ID)
	return int64(sent.ID), nil
}

func (c *Client) send(ctx context.Context, chatID int64, msg *models.ChannelMessage, opts scheduler.SendOptions) (*botModels.Message, error) {
	switch msg.MediaKind {
	case models.MediaKindPhoto:
		return c.api.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:  chatID,
			Photo:   &botModels.InputFileString{Data: msg.MediaRef},
			Caption: msg.Caption,
		})
	case models.MediaKindVideo:
		return c.api.SendVideo(ctx, &bot.SendVideoParams{
			ChatID:  chatID,
			Video:   &botModels.InputFileString{Data: msg.MediaRef},
			Caption: msg.Caption,
		})
	case models.MediaKindDocument:
		return c.api.SendDocument(ctx, &bot.SendDocumentParams{
			ChatID:   chatID,
			Document: &botModels.InputFileString{Data: msg.MediaRef},
			Caption:  msg.Caption,
		})
	case models.MediaKindSticker:
		return c.api.SendSticker(ctx, &bot.SendStickerParams{
			ChatID:  chatID,
			Sticker: &botModels.InputFileString{Data: msg.MediaRef},
		})
	case models.MediaKindAnimation:
		return c.api.SendAnimation(ctx, &bot.SendAnimationParams{
			ChatID:    chatID,
			Animation: &botModels.InputFileString{Data: msg.MediaRef},
			Caption:   msg.Caption,
		})
	case models.MediaKindAudio:
		return c.api.SendAudio(ctx, &bot.SendAudioParams{
			ChatID:  chatID,
			Audio:   &botModels.InputFileString{Data: msg.MediaRef},
			Caption: msg.Caption,
		})
	case models.MediaKindVoice:
		return c.api.SendVoice(ctx, &bot.SendVoiceParams{
			ChatID:  chatID,
			Voice:   &botModels.InputFileString{Data: msg.MediaRef},
			Caption: msg.Caption,
		})
	}

	if msg.Text == "" {
		return nil, errEmptyMessage
	}

	disablePreview := !opts.PreserveLinkPreview
	return c.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   msg.Text,
		LinkPreviewOptions: &botModels.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	})
}

// ChatTitle 获取频道标题
func (c *Client) ChatTitle(ctx context.Context, channelID int64) (string, error) {
	info, err := c.lookupChat(ctx, channelID)
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

// lookupChat 查询频道信息，成功结果写入缓存；失败不缓存，下一轮重新检查
func (c *Client) lookupChat(ctx context.Context, chatID int64) (chatInfo, error) {
	if info, ok := c.chats.Get(chatID); ok && info.Accessible {
		return info, nil
	}

	chat, err := c.api.GetChat(ctx, &bot.GetChatParams{ChatID: chatID})
	if err != nil {
		return chatInfo{}, err
	}

	info := chatInfo{Accessible: true}
	if chat != nil {
		info.Title = chat.Title
	}
	c.chats.Set(chatID, info)
	return info, nil
}
