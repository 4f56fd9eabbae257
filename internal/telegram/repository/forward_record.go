package repository

import (
	"context"
	"fmt"

	"forward_bot/internal/telegram/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoForwardedRecordRepository 转发日志（只追加）
type MongoForwardedRecordRepository struct {
	collection *mongo.Collection
}

// NewMongoForwardedRecordRepository 创建转发日志 Repository
func NewMongoForwardedRecordRepository(db *mongo.Database) *MongoForwardedRecordRepository {
	return &MongoForwardedRecordRepository{
		collection: db.Collection("forwarded_records"),
	}
}

// AppendForwarded 写入转发记录，重复记录视为成功
func (r *MongoForwardedRecordRepository) AppendForwarded(ctx context.Context, record *models.ForwardedRecord) error {
	_, err := r.collection.InsertOne(ctx, record)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to create forwarded record: %w", err)
	}
	return nil
}

// HasForwarded 判断源消息是否已转发
func (r *MongoForwardedRecordRepository) HasForwarded(ctx context.Context, key models.TaskKey, sourceMessageID int64) (bool, error) {
	filter := bson.M{
		"owner_id":          key.OwnerID,
		"source_channel_id": key.SourceChannelID,
		"target_channel_id": key.TargetChannelID,
		"source_message_id": sourceMessageID,
	}

	count, err := r.collection.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to query forwarded record: %w", err)
	}
	return count > 0, nil
}

// RecentFingerprints 返回目标频道最近的内容指纹，新的在前
func (r *MongoForwardedRecordRepository) RecentFingerprints(ctx context.Context, targetChannelID int64, limit int) ([]string, error) {
	filter := bson.M{
		"target_channel_id": targetChannelID,
		"fingerprint":       bson.M{"$exists": true, "$ne": ""},
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "forwarded_at", Value: -1}}).
		SetProjection(bson.M{"fingerprint": 1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query fingerprints: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		Fingerprint string `bson:"fingerprint"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode fingerprints: %w", err)
	}

	fingerprints := make([]string, 0, len(docs))
	for _, doc := range docs {
		fingerprints = append(fingerprints, doc.Fingerprint)
	}
	return fingerprints, nil
}

// CountForwarded 转发日志总数
func (r *MongoForwardedRecordRepository) CountForwarded(ctx context.Context) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count forwarded records: %w", err)
	}
	return count, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoForwardedRecordRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		// 复合唯一索引（幂等键，防止重复转发）
		{
			Keys: bson.D{
				{Key: "owner_id", Value: 1},
				{Key: "source_channel_id", Value: 1},
				{Key: "target_channel_id", Value: 1},
				{Key: "source_message_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		// 按目标频道加载最近指纹
		{
			Keys: bson.D{
				{Key: "target_channel_id", Value: 1},
				{Key: "forwarded_at", Value: -1},
			},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes for forwarded_records: %w", err)
	}

	return nil
}
