package repository

import (
	"context"
	"errors"

	"forward_bot/internal/telegram/models"
)

// ErrUserNotFound 用户不存在
var ErrUserNotFound = errors.New("user not found")

// UserRepository 用户数据访问接口
type UserRepository interface {
	// CreateOrUpdate 创建或更新用户资料（不会降级已有角色）
	CreateOrUpdate(ctx context.Context, user *models.User) error

	// GetByTelegramID 根据 Telegram ID 获取用户，不存在时返回 ErrUserNotFound
	GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)

	// UpdateLastActive 更新用户最后活跃时间
	UpdateLastActive(ctx context.Context, telegramID int64) error

	// Approve 将用户加入白名单（用户不存在时创建）
	Approve(ctx context.Context, telegramID int64, grantedBy int64) error

	// Revoke 移出白名单
	Revoke(ctx context.Context, telegramID int64) error

	// SetOwner 设置为 Owner（用户不存在时创建）
	SetOwner(ctx context.Context, telegramID int64) error

	// ListAuthorized 列出 Owner 与白名单用户
	ListAuthorized(ctx context.Context) ([]*models.User, error)

	// CountByRole 按角色计数
	CountByRole(ctx context.Context, role string) (int64, error)

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}

// ChannelMessageRepository 频道消息收件箱
type ChannelMessageRepository interface {
	// CreateMessage 记录频道消息（重复投递幂等）
	CreateMessage(ctx context.Context, message *models.ChannelMessage) error

	// ListAfter 按消息 ID 升序返回 afterID 之后的消息
	ListAfter(ctx context.Context, chatID, afterID int64, limit int) ([]*models.ChannelMessage, error)

	// LatestMessageID 频道已记录的最大消息 ID，没有记录时返回 0
	LatestMessageID(ctx context.Context, chatID int64) (int64, error)

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}
