package repository

import (
	"context"

	"forward_bot/internal/scheduler"

	"go.mongodb.org/mongo-driver/mongo"
)

var _ scheduler.Store = (*MongoStore)(nil)

// MongoStore 组合任务、转发日志与计数器，实现调度器的 Store
type MongoStore struct {
	*MongoTaskRepository
	*MongoForwardedRecordRepository
	*MongoStatsRepository
}

// NewMongoStore 创建调度器存储
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		MongoTaskRepository:            NewMongoTaskRepository(db),
		MongoForwardedRecordRepository: NewMongoForwardedRecordRepository(db),
		MongoStatsRepository:           NewMongoStatsRepository(db),
	}
}

// EnsureIndexes 确保全部集合的索引存在
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if err := s.MongoTaskRepository.EnsureIndexes(ctx); err != nil {
		return err
	}
	if err := s.MongoForwardedRecordRepository.EnsureIndexes(ctx); err != nil {
		return err
	}
	return s.MongoStatsRepository.EnsureIndexes(ctx)
}
