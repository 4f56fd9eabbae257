package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStatsRepository 简单计数器
type MongoStatsRepository struct {
	collection *mongo.Collection
}

// NewMongoStatsRepository 创建计数器 Repository
func NewMongoStatsRepository(db *mongo.Database) *MongoStatsRepository {
	return &MongoStatsRepository{
		collection: db.Collection("forward_stats"),
	}
}

// Track 累加计数
func (r *MongoStatsRepository) Track(ctx context.Context, name string, delta int64) error {
	update := bson.M{
		"$inc": bson.M{"value": delta},
		"$set": bson.M{"updated_at": time.Now()},
	}

	opts := options.Update().SetUpsert(true)
	_, err := r.collection.UpdateOne(ctx, bson.M{"name": name}, update, opts)
	if err != nil {
		return fmt.Errorf("failed to track %s: %w", name, err)
	}
	return nil
}

// Counters 返回全部计数
func (r *MongoStatsRepository) Counters(ctx context.Context) (map[string]int64, error) {
	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list counters: %w", err)
	}
	defer cursor.Close(ctx)

	result := make(map[string]int64)
	for cursor.Next(ctx) {
		var doc struct {
			Name  string `bson:"name"`
			Value int64  `bson:"value"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode counter: %w", err)
		}
		result[doc.Name] = doc.Value
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return result, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoStatsRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes for forward_stats: %w", err)
	}
	return nil
}
