package forward

import (
	"context"
	"fmt"
	"time"

	"forward_bot/internal/logger"
	"forward_bot/internal/telegram/models"
	"forward_bot/internal/telegram/repository"

	botModels "github.com/go-telegram/bot/models"
)

// Recorder 将频道消息写入收件箱，供调度器按水位线读取
type Recorder struct {
	inbox repository.ChannelMessageRepository
}

// NewRecorder 创建收件箱写入器
func NewRecorder(inbox repository.ChannelMessageRepository) *Recorder {
	return &Recorder{inbox: inbox}
}

// Record 记录一条频道消息（channel_post）
func (r *Recorder) Record(ctx context.Context, post *botModels.Message) error {
	msg := ChannelMessageFromPost(post)
	if msg == nil {
		return nil
	}

	if err := r.inbox.CreateMessage(ctx, msg); err != nil {
		return fmt.Errorf("record channel post %d/%d: %w", msg.ChatID, msg.TelegramMessageID, err)
	}

	logger.L().Debugf("Recorded channel post: chat_id=%d, message_id=%d, kind=%s",
		msg.ChatID, msg.TelegramMessageID, msg.MediaKind)
	return nil
}

// ChannelMessageFromPost 提取可重新发送的内容；不支持的消息类型返回 nil
func ChannelMessageFromPost(post *botModels.Message) *models.ChannelMessage {
	if post == nil || post.ID == 0 {
		return nil
	}

	msg := &models.ChannelMessage{
		TelegramMessageID: int64(post.ID),
		ChatID:            post.Chat.ID,
		Text:              post.Text,
		Caption:           post.Caption,
		MediaKind:         models.MediaKindNone,
		MediaGroupID:      post.MediaGroupID,
		SentAt:            time.Unix(int64(post.Date), 0),
	}

	switch {
	case len(post.Photo) > 0:
		msg.MediaKind = models.MediaKindPhoto
		msg.MediaRef = post.Photo[len(post.Photo)-1].FileID // 最大尺寸
	case post.Video != nil:
		msg.MediaKind = models.MediaKindVideo
		msg.MediaRef = post.Video.FileID
	case post.Animation != nil:
		// 动图同时带有 Document 字段，需先判断
		msg.MediaKind = models.MediaKindAnimation
		msg.MediaRef = post.Animation.FileID
	case post.Document != nil:
		msg.MediaKind = models.MediaKindDocument
		msg.MediaRef = post.Document.FileID
	case post.Sticker != nil:
		msg.MediaKind = models.MediaKindSticker
		msg.MediaRef = post.Sticker.FileID
	case post.Audio != nil:
		msg.MediaKind = models.MediaKindAudio
		msg.MediaRef = post.Audio.FileID
	case post.Voice != nil:
		msg.MediaKind = models.MediaKindVoice
		msg.MediaRef = post.Voice.FileID
	case post.Text == "":
		return nil
	}

	return msg
}
