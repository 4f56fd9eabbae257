package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 媒体类型常量
const (
	MediaKindNone      = "none"
	MediaKindPhoto     = "photo"
	MediaKindVideo     = "video"
	MediaKindDocument  = "document"
	MediaKindSticker   = "sticker"
	MediaKindAnimation = "animation"
	MediaKindAudio     = "audio"
	MediaKindVoice     = "voice"
)

// ChannelMessage 频道消息（收件箱）
// Bot API 无法读取频道历史，收到的 channel_post 先落库，再由调度器按水位线读取
type ChannelMessage struct {
	ID                primitive.ObjectID `bson:"_id,omitempty"`
	TelegramMessageID int64              `bson:"telegram_message_id"` // 频道内消息 ID
	ChatID            int64              `bson:"chat_id"`             // 频道 ID

	Text         string `bson:"text,omitempty"`
	Caption      string `bson:"caption,omitempty"`
	MediaKind    string `bson:"media_kind"`               // none/photo/video/...
	MediaRef     string `bson:"media_ref,omitempty"`      // Telegram file_id
	MediaGroupID string `bson:"media_group_id,omitempty"` // 相册 ID

	SentAt    time.Time `bson:"sent_at"`
	CreatedAt time.Time `bson:"created_at"`
}

// HasMedia 是否为媒体消息
func (m *ChannelMessage) HasMedia() bool {
	return m.MediaKind != "" && m.MediaKind != MediaKindNone
}

// Content 返回用于指纹的文本（正文优先，其次说明文字）
func (m *ChannelMessage) Content() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}
