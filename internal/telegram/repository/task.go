package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"forward_bot/internal/scheduler"
	"forward_bot/internal/telegram/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoTaskRepository 转发任务数据访问层（MongoDB 实现）
type MongoTaskRepository struct {
	collection *mongo.Collection
}

// NewMongoTaskRepository 创建转发任务 Repository
func NewMongoTaskRepository(db *mongo.Database) *MongoTaskRepository {
	return &MongoTaskRepository{
		collection: db.Collection("forward_tasks"),
	}
}

func taskFilter(key models.TaskKey) bson.M {
	return bson.M{
		"owner_id":          key.OwnerID,
		"source_channel_id": key.SourceChannelID,
		"target_channel_id": key.TargetChannelID,
	}
}

// GetTask 获取任务，不存在时返回 scheduler.ErrTaskNotFound
func (r *MongoTaskRepository) GetTask(ctx context.Context, key models.TaskKey) (*models.ForwardingTask, error) {
	var task models.ForwardingTask
	err := r.collection.FindOne(ctx, taskFilter(key)).Decode(&task)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", scheduler.ErrTaskNotFound, key)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

// UpsertTask 创建或替换任务定义
// 水位线使用 $max，过期的任务副本不会让水位线回退
func (r *MongoTaskRepository) UpsertTask(ctx context.Context, task *models.ForwardingTask) error {
	now := time.Now()
	task.UpdatedAt = now

	update := bson.M{
		"$set": bson.M{
			"mode":                   task.Mode,
			"fixed_interval_seconds": task.FixedIntervalSeconds,
			"min_interval_seconds":   task.MinIntervalSeconds,
			"max_interval_seconds":   task.MaxIntervalSeconds,
			"active":                 task.Active,
			"preserve_link_preview":  task.PreserveLinkPreview,
			"last_error":             task.LastError,
			"updated_at":             task.UpdatedAt,
		},
		"$max": bson.M{
			"last_forwarded_message_id": task.LastForwardedMessageID,
		},
		"$setOnInsert": bson.M{
			"created_at": now,
		},
	}

	opts := options.Update().SetUpsert(true)
	_, err := r.collection.UpdateOne(ctx, taskFilter(task.Key()), update, opts)
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}
	return nil
}

// SetActive 修改启用状态
func (r *MongoTaskRepository) SetActive(ctx context.Context, key models.TaskKey, active bool, reason string) error {
	set := bson.M{
		"active":     active,
		"updated_at": time.Now(),
	}
	if reason != "" {
		set["last_error"] = reason
	}

	result, err := r.collection.UpdateOne(ctx, taskFilter(key), bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to set task active: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", scheduler.ErrTaskNotFound, key)
	}
	return nil
}

// SetWatermark 单调推进水位线
func (r *MongoTaskRepository) SetWatermark(ctx context.Context, key models.TaskKey, messageID int64) error {
	update := bson.M{
		"$max": bson.M{"last_forwarded_message_id": messageID},
		"$set": bson.M{"updated_at": time.Now()},
	}

	result, err := r.collection.UpdateOne(ctx, taskFilter(key), update)
	if err != nil {
		return fmt.Errorf("failed to set watermark: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", scheduler.ErrTaskNotFound, key)
	}
	return nil
}

// ListActiveTasks 列出启用中的任务
func (r *MongoTaskRepository) ListActiveTasks(ctx context.Context) ([]*models.ForwardingTask, error) {
	return r.find(ctx, bson.M{"active": true})
}

// ListTasksByOwner 列出用户的全部任务
func (r *MongoTaskRepository) ListTasksByOwner(ctx context.Context, ownerID int64) ([]*models.ForwardingTask, error) {
	return r.find(ctx, bson.M{"owner_id": ownerID})
}

func (r *MongoTaskRepository) find(ctx context.Context, filter bson.M) ([]*models.ForwardingTask, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer cursor.Close(ctx)

	var tasks []*models.ForwardingTask
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}
	return tasks, nil
}

// CountTasks 统计任务数量
func (r *MongoTaskRepository) CountTasks(ctx context.Context, activeOnly bool) (int64, error) {
	filter := bson.M{}
	if activeOnly {
		filter["active"] = true
	}

	count, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoTaskRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "owner_id", Value: 1},
				{Key: "source_channel_id", Value: 1},
				{Key: "target_channel_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "active", Value: 1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes for forward_tasks: %w", err)
	}
	return nil
}
