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

// MongoChannelMessageRepository 频道消息收件箱（MongoDB 实现）
type MongoChannelMessageRepository struct {
	collection *mongo.Collection
	retention  time.Duration
}

// NewMongoChannelMessageRepository 创建收件箱 Repository，retention<=0 时不过期
func NewMongoChannelMessageRepository(db *mongo.Database, retention time.Duration) ChannelMessageRepository {
	return &MongoChannelMessageRepository{
		collection: db.Collection("channel_messages"),
		retention:  retention,
	}
}

// CreateMessage 记录频道消息
func (r *MongoChannelMessageRepository) CreateMessage(ctx context.Context, message *models.ChannelMessage) error {
	now := time.Now()
	message.CreatedAt = now

	if message.MediaKind == "" {
		message.MediaKind = models.MediaKindNone
	}

	// 使用 Upsert 模式，避免重复插入
	filter := bson.M{
		"telegram_message_id": message.TelegramMessageID,
		"chat_id":             message.ChatID,
	}

	setFields := bson.M{
		"text":           message.Text,
		"caption":        message.Caption,
		"media_kind":     message.MediaKind,
		"media_ref":      message.MediaRef,
		"media_group_id": message.MediaGroupID,
		"sent_at":        message.SentAt,
	}

	update := bson.M{
		"$set": setFields,
		"$setOnInsert": bson.M{
			"created_at": message.CreatedAt,
		},
	}

	opts := options.Update().SetUpsert(true)
	_, err := r.collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	return nil
}

// ListAfter 按消息 ID 升序返回 afterID 之后的消息
func (r *MongoChannelMessageRepository) ListAfter(ctx context.Context, chatID, afterID int64, limit int) ([]*models.ChannelMessage, error) {
	filter := bson.M{
		"chat_id":             chatID,
		"telegram_message_id": bson.M{"$gt": afterID},
	}

	opts := options.Find().SetSort(bson.D{{Key: "telegram_message_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []*models.ChannelMessage
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}

	return messages, nil
}

// LatestMessageID 频道已记录的最大消息 ID
func (r *MongoChannelMessageRepository) LatestMessageID(ctx context.Context, chatID int64) (int64, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "telegram_message_id", Value: -1}}).
		SetProjection(bson.M{"telegram_message_id": 1})

	var doc struct {
		TelegramMessageID int64 `bson:"telegram_message_id"`
	}
	err := r.collection.FindOne(ctx, bson.M{"chat_id": chatID}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get latest message: %w", err)
	}
	return doc.TelegramMessageID, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoChannelMessageRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "chat_id", Value: 1},
				{Key: "telegram_message_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
	}

	if r.retention > 0 {
		indexes = append(indexes, mongo.IndexModel{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(r.retention / time.Second)),
		})
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes for channel_messages: %w", err)
	}

	return nil
}
