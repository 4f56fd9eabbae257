package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 角色常量
const (
	RoleOwner    = "owner"    // 最高权限，由 BOT_OWNER_IDS 配置或首次 /start 认领
	RoleApproved = "approved" // 白名单用户，可管理自己的转发任务
	RoleUser     = "user"     // 普通用户
)

// User 用户模型
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	TelegramID   int64              `bson:"telegram_id"`        // Telegram 用户 ID（唯一）
	Username     string             `bson:"username,omitempty"` // @username
	FirstName    string             `bson:"first_name"`         // 名字
	Role         string             `bson:"role"`               // 角色：owner/approved/user
	IsActive     bool               `bson:"is_active"`          // 是否可接收通知
	GrantedBy    int64              `bson:"granted_by,omitempty"`
	GrantedAt    *time.Time         `bson:"granted_at,omitempty"`
	CreatedAt    time.Time          `bson:"created_at"` // 加入时间
	UpdatedAt    time.Time          `bson:"updated_at"`
	LastActiveAt time.Time          `bson:"last_active_at"` // 最后活跃时间
}

// IsOwner 是否为 Owner
func (u *User) IsOwner() bool {
	return u.Role == RoleOwner
}

// IsAuthorized 是否可使用转发命令（Owner 或白名单）
func (u *User) IsAuthorized() bool {
	return u.Role == RoleOwner || u.Role == RoleApproved
}
