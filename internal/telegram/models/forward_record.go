package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ForwardedRecord 转发日志（只追加）
// (任务身份, SourceMessageID) 唯一，作为幂等键
type ForwardedRecord struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	OwnerID         int64              `bson:"owner_id"`
	SourceChannelID int64              `bson:"source_channel_id"`
	TargetChannelID int64              `bson:"target_channel_id"`
	SourceMessageID int64              `bson:"source_message_id"`     // 源频道消息 ID
	TargetMessageID int64              `bson:"target_message_id"`     // 目标频道中的新消息 ID
	Fingerprint     string             `bson:"fingerprint,omitempty"` // 内容指纹（无文本时为空）
	ForwardedAt     time.Time          `bson:"forwarded_at"`
}

// Key 返回所属任务身份
func (r *ForwardedRecord) Key() TaskKey {
	return TaskKey{
		OwnerID:         r.OwnerID,
		SourceChannelID: r.SourceChannelID,
		TargetChannelID: r.TargetChannelID,
	}
}

// NewForwardedRecord 构造转发记录
func NewForwardedRecord(key TaskKey, sourceMessageID, targetMessageID int64, fingerprint string) *ForwardedRecord {
	return &ForwardedRecord{
		OwnerID:         key.OwnerID,
		SourceChannelID: key.SourceChannelID,
		TargetChannelID: key.TargetChannelID,
		SourceMessageID: sourceMessageID,
		TargetMessageID: targetMessageID,
		Fingerprint:     fingerprint,
		ForwardedAt:     time.Now(),
	}
}
