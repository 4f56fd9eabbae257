package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"forward_bot/internal/telegram/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestMongoUserRepositoryCreateOrUpdate(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := &MongoUserRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))

		user := &models.User{
			TelegramID:   1001,
			Username:     "tester",
			FirstName:    "Test",
			LastActiveAt: time.Now().UTC().Add(-time.Minute),
		}

		if err := repo.CreateOrUpdate(context.Background(), user); err != nil {
			t.Fatalf("CreateOrUpdate failed: %v", err)
		}
		if user.UpdatedAt.IsZero() {
			t.Fatalf("expected updated_at to be set")
		}
	})

	mt.Run("update error", func(mt *mtest.T) {
		repo := &MongoUserRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    123,
			Name:    "WriteError",
			Message: "mock write failure",
		}))

		err := repo.CreateOrUpdate(context.Background(), &models.User{TelegramID: 1002, FirstName: "Error"})
		if err == nil || !strings.Contains(err.Error(), "failed to create or update user") {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestMongoUserRepositoryGetByTelegramID(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := &MongoUserRepository{collection: mt.Coll}
		now := time.Now().UTC().Truncate(time.Second)
		mt.AddMockResponses(mtest.CreateCursorResponse(
			0,
			userNamespace(mt),
			mtest.FirstBatch,
			bson.D{
				{Key: "telegram_id", Value: int64(2001)},
				{Key: "username", Value: "approved_user"},
				{Key: "first_name", Value: "Approved"},
				{Key: "role", Value: models.RoleApproved},
				{Key: "created_at", Value: now},
				{Key: "updated_at", Value: now},
				{Key: "last_active_at", Value: now},
			},
		))

		user, err := repo.GetByTelegramID(context.Background(), 2001)
		if err != nil {
			t.Fatalf("GetByTelegramID failed: %v", err)
		}
		if !user.IsAuthorized() || user.IsOwner() {
			t.Fatalf("unexpected role: %q", user.Role)
		}
	})

	mt.Run("not found", func(mt *mtest.T) {
		repo := &MongoUserRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, userNamespace(mt), mtest.FirstBatch))

		_, err := repo.GetByTelegramID(context.Background(), 9999)
		if !errors.Is(err, ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}
	})

	mt.Run("find one error", func(mt *mtest.T) {
		repo := &MongoUserRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Name:    "BadValue",
			Message: "mock find failure",
		}))

		_, err := repo.GetByTelegramID(context.Background(), 3001)
		if err == nil || !strings.Contains(err.Error(), "failed to get user") {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestMongoUserRepositoryApprove(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := &MongoUserRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))

		if err := repo.Approve(context.Background(), 5001, 1); err != nil {
			t.Fatalf("Approve failed: %v", err)
		}
	})

	mt.Run("owner conflict is success", func(mt *mtest.T) {
		repo := &MongoUserRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "E11000 duplicate key error",
		}))

		if err := repo.Approve(context.Background(), 1, 1); err != nil {
			t.Fatalf("expected owner conflict to be ignored, got %v", err)
		}
	})

	mt.Run("update error", func(mt *mtest.T) {
		repo := &MongoUserRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    123,
			Name:    "WriteError",
			Message: "mock write failure",
		}))

		err := repo.Approve(context.Background(), 5002, 1)
		if err == nil || !strings.Contains(err.Error(), "failed to approve user") {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestMongoUserRepositoryRevoke(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := &MongoUserRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))

		if err := repo.Revoke(context.Background(), 5001); err != nil {
			t.Fatalf("Revoke failed: %v", err)
		}
	})

	mt.Run("not approved", func(mt *mtest.T) {
		repo := &MongoUserRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0},
			bson.E{Key: "nModified", Value: 0},
		))

		err := repo.Revoke(context.Background(), 5003)
		if !errors.Is(err, ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}
	})
}

func TestMongoUserRepositoryListAuthorized(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := &MongoUserRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(
			0,
			userNamespace(mt),
			mtest.FirstBatch,
			bson.D{{Key: "telegram_id", Value: int64(1)}, {Key: "role", Value: models.RoleOwner}},
			bson.D{{Key: "telegram_id", Value: int64(2)}, {Key: "role", Value: models.RoleApproved}},
		))

		users, err := repo.ListAuthorized(context.Background())
		if err != nil {
			t.Fatalf("ListAuthorized failed: %v", err)
		}
		if len(users) != 2 || !users[0].IsOwner() {
			t.Fatalf("unexpected users: %+v", users)
		}
	})
}

func TestMongoUserRepositoryCountByRole(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := &MongoUserRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(
			0,
			userNamespace(mt),
			mtest.FirstBatch,
			bson.D{{Key: "n", Value: int32(1)}},
		))

		count, err := repo.CountByRole(context.Background(), models.RoleOwner)
		if err != nil {
			t.Fatalf("CountByRole failed: %v", err)
		}
		if count != 1 {
			t.Fatalf("expected 1, got %d", count)
		}
	})
}

func TestMongoUserRepositoryEnsureIndexes(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := &MongoUserRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		if err := repo.EnsureIndexes(context.Background()); err != nil {
			t.Fatalf("EnsureIndexes failed: %v", err)
		}
	})

	mt.Run("create indexes error", func(mt *mtest.T) {
		repo := &MongoUserRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    85,
			Name:    "IndexOptionsConflict",
			Message: "mock index error",
		}))

		err := repo.EnsureIndexes(context.Background())
		if err == nil || !strings.Contains(err.Error(), "failed to create indexes") {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func userNamespace(mt *mtest.T) string {
	return mt.DB.Name() + "." + mt.Coll.Name()
}
