package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"forward_bot/internal/telegram/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoUserRepository 用户数据访问层（MongoDB 实现）
type MongoUserRepository struct {
	collection *mongo.Collection
}

// NewMongoUserRepository 创建用户 Repository
func NewMongoUserRepository(db *mongo.Database) UserRepository {
	return &MongoUserRepository{
		collection: db.Collection("users"),
	}
}

// CreateOrUpdate 创建或更新用户
func (r *MongoUserRepository) CreateOrUpdate(ctx context.Context, user *models.User) error {
	now := time.Now()
	user.UpdatedAt = now

	filter := bson.M{"telegram_id": user.TelegramID}

	setFields := bson.M{
		"username":       user.Username,
		"first_name":     user.FirstName,
		"is_active":      true,
		"updated_at":     user.UpdatedAt,
		"last_active_at": user.LastActiveAt,
	}

	update := bson.M{
		"$set": setFields,
		"$setOnInsert": bson.M{
			"role":       models.RoleUser, // 默认角色为普通用户，授权走 Approve/SetOwner
			"created_at": now,
		},
	}

	opts := options.Update().SetUpsert(true)
	_, err := r.collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("failed to create or update user: %w", err)
	}

	return nil
}

// GetByTelegramID 根据 Telegram ID 获取用户
func (r *MongoUserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	err := r.collection.FindOne(ctx, bson.M{"telegram_id": telegramID}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %d", ErrUserNotFound, telegramID)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// UpdateLastActive 更新用户最后活跃时间
func (r *MongoUserRepository) UpdateLastActive(ctx context.Context, telegramID int64) error {
	filter := bson.M{"telegram_id": telegramID}
	update := bson.M{
		"$set": bson.M{
			"last_active_at": time.Now(),
		},
	}

	_, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update last active: %w", err)
	}
	return nil
}

// Approve 加入白名单，Owner 保持不变
func (r *MongoUserRepository) Approve(ctx context.Context, telegramID int64, grantedBy int64) error {
	now := time.Now()
	filter := bson.M{
		"telegram_id": telegramID,
		"role":        bson.M{"$ne": models.RoleOwner},
	}
	update := bson.M{
		"$set": bson.M{
			"role":       models.RoleApproved,
			"granted_by": grantedBy,
			"granted_at": now,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"is_active":  true,
			"created_at": now,
		},
	}

	opts := options.Update().SetUpsert(true)
	_, err := r.collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		// Owner 命中唯一索引冲突，视为已授权
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to approve user: %w", err)
	}
	return nil
}

// Revoke 移出白名单
func (r *MongoUserRepository) Revoke(ctx context.Context, telegramID int64) error {
	filter := bson.M{
		"telegram_id": telegramID,
		"role":        models.RoleApproved,
	}
	update := bson.M{
		"$set": bson.M{
			"role":       models.RoleUser,
			"updated_at": time.Now(),
		},
		"$unset": bson.M{
			"granted_by": "",
			"granted_at": "",
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to revoke user: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %d", ErrUserNotFound, telegramID)
	}
	return nil
}

// SetOwner 设置为 Owner
func (r *MongoUserRepository) SetOwner(ctx context.Context, telegramID int64) error {
	now := time.Now()
	filter := bson.M{"telegram_id": telegramID}
	update := bson.M{
		"$set": bson.M{
			"role":       models.RoleOwner,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"is_active":  true,
			"created_at": now,
		},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to set owner: %w", err)
	}
	return nil
}

// ListAuthorized 列出 Owner 与白名单用户
func (r *MongoUserRepository) ListAuthorized(ctx context.Context) ([]*models.User, error) {
	filter := bson.M{
		"role": bson.M{
			"$in": []string{models.RoleOwner, models.RoleApproved},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "granted_at", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list authorized users: %w", err)
	}
	defer cursor.Close(ctx)

	var users []*models.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}

	return users, nil
}

// CountByRole 按角色计数
func (r *MongoUserRepository) CountByRole(ctx context.Context, role string) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"role": role})
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "telegram_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "role", Value: 1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}
