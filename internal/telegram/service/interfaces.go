package service

import (
	"context"

	"forward_bot/internal/telegram/models"
)

// UserService 用户业务逻辑接口
type UserService interface {
	// RegisterOrUpdateUser 注册或更新用户资料
	RegisterOrUpdateUser(ctx context.Context, info *TelegramUserInfo) (*models.User, error)

	// InitOwners 将配置的 Owner 写入数据库
	InitOwners(ctx context.Context, ownerIDs []int64) error

	// ClaimOwnerIfVacant 没有任何 Owner 时由调用者认领
	ClaimOwnerIfVacant(ctx context.Context, telegramID int64) (bool, error)

	// ApproveUser 加入白名单（仅 Owner）
	ApproveUser(ctx context.Context, targetID, grantedBy int64) error

	// RevokeUser 移出白名单（仅 Owner，不能移除 Owner）
	RevokeUser(ctx context.Context, targetID, revokedBy int64) error

	// GetUserInfo 获取用户信息
	GetUserInfo(ctx context.Context, telegramID int64) (*models.User, error)

	// ListAuthorizedUsers 列出 Owner 与白名单用户
	ListAuthorizedUsers(ctx context.Context) ([]*models.User, error)

	// CheckOwnerPermission 检查是否为 Owner
	CheckOwnerPermission(ctx context.Context, telegramID int64) (bool, error)

	// CheckAuthorizedPermission 检查是否可使用转发命令
	CheckAuthorizedPermission(ctx context.Context, telegramID int64) (bool, error)

	// UpdateUserActivity 更新用户活跃时间
	UpdateUserActivity(ctx context.Context, telegramID int64) error
}

// TelegramUserInfo Telegram 用户信息 DTO
type TelegramUserInfo struct {
	TelegramID int64
	Username   string
	FirstName  string
}
