package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"forward_bot/internal/logger"
	"forward_bot/internal/telegram/models"
	"forward_bot/internal/telegram/repository"
)

// UserServiceImpl 用户服务实现
type UserServiceImpl struct {
	userRepo repository.UserRepository
}

// NewUserService 创建用户服务
func NewUserService(userRepo repository.UserRepository) UserService {
	return &UserServiceImpl{
		userRepo: userRepo,
	}
}

// RegisterOrUpdateUser 注册或更新用户
func (s *UserServiceImpl) RegisterOrUpdateUser(ctx context.Context, info *TelegramUserInfo) (*models.User, error) {
	user := &models.User{
		TelegramID:   info.TelegramID,
		Username:     info.Username,
		FirstName:    info.FirstName,
		LastActiveAt: time.Now(),
	}

	if err := s.userRepo.CreateOrUpdate(ctx, user); err != nil {
		logger.L().Errorf("Failed to register/update user %d: %v", info.TelegramID, err)
		return nil, fmt.Errorf("failed to register user: %w", err)
	}

	stored, err := s.userRepo.GetByTelegramID(ctx, info.TelegramID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	logger.L().Infof("User %d (%s) registered/updated", info.TelegramID, info.Username)
	return stored, nil
}

// InitOwners 将配置的 Owner 写入数据库，单个失败只记录日志
func (s *UserServiceImpl) InitOwners(ctx context.Context, ownerIDs []int64) error {
	for _, ownerID := range ownerIDs {
		if err := s.userRepo.SetOwner(ctx, ownerID); err != nil {
			logger.L().Warnf("Failed to initialize owner %d: %v", ownerID, err)
			continue
		}
		logger.L().Infof("Initialized owner: %d", ownerID)
	}
	return nil
}

// ClaimOwnerIfVacant 首个执行 /start 的用户在没有 Owner 时成为 Owner
func (s *UserServiceImpl) ClaimOwnerIfVacant(ctx context.Context, telegramID int64) (bool, error) {
	count, err := s.userRepo.CountByRole(ctx, models.RoleOwner)
	if err != nil {
		return false, fmt.Errorf("failed to count owners: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	if err := s.userRepo.SetOwner(ctx, telegramID); err != nil {
		return false, fmt.Errorf("failed to claim owner: %w", err)
	}

	logger.L().Infof("User %d claimed bot ownership", telegramID)
	return true, nil
}

// ApproveUser 加入白名单（包含业务验证）
func (s *UserServiceImpl) ApproveUser(ctx context.Context, targetID, grantedBy int64) error {
	granter, err := s.userRepo.GetByTelegramID(ctx, grantedBy)
	if err != nil {
		logger.L().Errorf("Granter %d not found: %v", grantedBy, err)
		return fmt.Errorf("授权者不存在")
	}

	if !granter.IsOwner() {
		logger.L().Warnf("User %d attempted to approve user without owner permission", grantedBy)
		return fmt.Errorf("只有 Owner 可以添加白名单用户")
	}

	target, err := s.userRepo.GetByTelegramID(ctx, targetID)
	switch {
	case err == nil && target.IsAuthorized():
		logger.L().Infof("User %d is already authorized", targetID)
		return fmt.Errorf("用户已在白名单中")
	case err != nil && !errors.Is(err, repository.ErrUserNotFound):
		logger.L().Errorf("Failed to load target user %d: %v", targetID, err)
		return fmt.Errorf("查询用户失败")
	}

	// 目标用户尚未 /start 时也允许预先授权
	if err := s.userRepo.Approve(ctx, targetID, grantedBy); err != nil {
		logger.L().Errorf("Failed to approve user %d: %v", targetID, err)
		return fmt.Errorf("授权失败: %w", err)
	}

	logger.L().Infof("User %d approved by %d", targetID, grantedBy)
	return nil
}

// RevokeUser 移出白名单（包含业务验证）
func (s *UserServiceImpl) RevokeUser(ctx context.Context, targetID, revokedBy int64) error {
	revoker, err := s.userRepo.GetByTelegramID(ctx, revokedBy)
	if err != nil {
		logger.L().Errorf("Revoker %d not found: %v", revokedBy, err)
		return fmt.Errorf("撤销者不存在")
	}

	if !revoker.IsOwner() {
		logger.L().Warnf("User %d attempted to revoke user without owner permission", revokedBy)
		return fmt.Errorf("只有 Owner 可以移除白名单用户")
	}

	target, err := s.userRepo.GetByTelegramID(ctx, targetID)
	if err != nil {
		logger.L().Errorf("Target user %d not found: %v", targetID, err)
		return fmt.Errorf("目标用户不存在")
	}

	if target.IsOwner() {
		logger.L().Warnf("User %d attempted to revoke owner %d", revokedBy, targetID)
		return fmt.Errorf("不能移除 Owner")
	}

	if target.Role != models.RoleApproved {
		logger.L().Infof("User %d is not in the whitelist", targetID)
		return fmt.Errorf("用户不在白名单中")
	}

	if err := s.userRepo.Revoke(ctx, targetID); err != nil {
		logger.L().Errorf("Failed to revoke user %d: %v", targetID, err)
		return fmt.Errorf("撤销失败: %w", err)
	}

	logger.L().Infof("User %d revoked by %d", targetID, revokedBy)
	return nil
}

// GetUserInfo 获取用户信息
func (s *UserServiceImpl) GetUserInfo(ctx context.Context, telegramID int64) (*models.User, error) {
	user, err := s.userRepo.GetByTelegramID(ctx, telegramID)
	if err != nil {
		logger.L().Errorf("Failed to get user info for %d: %v", telegramID, err)
		return nil, fmt.Errorf("获取用户信息失败")
	}
	return user, nil
}

// ListAuthorizedUsers 列出 Owner 与白名单用户
func (s *UserServiceImpl) ListAuthorizedUsers(ctx context.Context) ([]*models.User, error) {
	users, err := s.userRepo.ListAuthorized(ctx)
	if err != nil {
		logger.L().Errorf("Failed to list authorized users: %v", err)
		return nil, fmt.Errorf("获取白名单失败")
	}
	return users, nil
}

// CheckOwnerPermission 检查是否为 Owner
func (s *UserServiceImpl) CheckOwnerPermission(ctx context.Context, telegramID int64) (bool, error) {
	user, err := s.userRepo.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return false, err
	}
	return user.IsOwner(), nil
}

// CheckAuthorizedPermission 检查是否为 Owner 或白名单用户
func (s *UserServiceImpl) CheckAuthorizedPermission(ctx context.Context, telegramID int64) (bool, error) {
	user, err := s.userRepo.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return false, err
	}
	return user.IsAuthorized(), nil
}

// UpdateUserActivity 更新用户活跃时间
func (s *UserServiceImpl) UpdateUserActivity(ctx context.Context, telegramID int64) error {
	if err := s.userRepo.UpdateLastActive(ctx, telegramID); err != nil {
		logger.L().Warnf("Failed to update user activity for %d: %v", telegramID, err)
		// 不返回错误，仅记录日志
	}
	return nil
}
