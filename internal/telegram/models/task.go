package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 调度模式常量
const (
	ScheduleModeFixed  = "fixed"  // 固定间隔
	ScheduleModeRandom = "random" // 区间内随机间隔
)

// TaskKey 转发任务身份 (owner, source, target)
// 值类型，可直接作为 map 键使用
type TaskKey struct {
	OwnerID         int64 `json:"owner_id"`
	SourceChannelID int64 `json:"source_channel_id"`
	TargetChannelID int64 `json:"target_channel_id"`
}

// String 返回用于日志的可读形式
func (k TaskKey) String() string {
	return fmt.Sprintf("%d:%d->%d", k.OwnerID, k.SourceChannelID, k.TargetChannelID)
}

// IsZero 是否为空身份
func (k TaskKey) IsZero() bool {
	return k.OwnerID == 0 && k.SourceChannelID == 0 && k.TargetChannelID == 0
}

// ForwardingTask 转发任务定义
// 身份字段创建后不变，仅 active、水位线与间隔配置会被修改；任务从不物理删除
type ForwardingTask struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	OwnerID         int64              `bson:"owner_id"`          // 任务所有者
	SourceChannelID int64              `bson:"source_channel_id"` // 源频道
	TargetChannelID int64              `bson:"target_channel_id"` // 目标频道

	// 调度配置
	Mode                 string `bson:"mode"`                             // fixed/random
	FixedIntervalSeconds int    `bson:"fixed_interval_seconds,omitempty"` // 固定间隔（秒）
	MinIntervalSeconds   int    `bson:"min_interval_seconds,omitempty"`   // 随机间隔下限（秒）
	MaxIntervalSeconds   int    `bson:"max_interval_seconds,omitempty"`   // 随机间隔上限（秒）

	Active                 bool   `bson:"active"`                    // 是否启用
	LastForwardedMessageID int64  `bson:"last_forwarded_message_id"` // 水位线：已处理的最大源消息 ID
	PreserveLinkPreview    bool   `bson:"preserve_link_preview"`     // 是否保留链接预览
	LastError              string `bson:"last_error,omitempty"`      // 最近一次导致停用的错误

	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Key 返回任务身份
func (t *ForwardingTask) Key() TaskKey {
	return TaskKey{
		OwnerID:         t.OwnerID,
		SourceChannelID: t.SourceChannelID,
		TargetChannelID: t.TargetChannelID,
	}
}

// Clone 返回副本，避免调用方修改共享状态
func (t *ForwardingTask) Clone() *ForwardingTask {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

// NewForwardingTask 根据身份创建未启用的任务
func NewForwardingTask(key TaskKey) *ForwardingTask {
	now := time.Now()
	return &ForwardingTask{
		OwnerID:         key.OwnerID,
		SourceChannelID: key.SourceChannelID,
		TargetChannelID: key.TargetChannelID,
		Mode:            ScheduleModeFixed,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
