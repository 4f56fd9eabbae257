package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"forward_bot/internal/telegram/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestMongoForwardedRecordRepositoryAppendForwarded(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := &MongoForwardedRecordRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		record := models.NewForwardedRecord(sampleTaskKey(), 10, 510, "abc")
		if err := repo.AppendForwarded(context.Background(), record); err != nil {
			t.Fatalf("AppendForwarded failed: %v", err)
		}
	})

	mt.Run("duplicate is success", func(mt *mtest.T) {
		repo := &MongoForwardedRecordRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "E11000 duplicate key error",
		}))

		record := models.NewForwardedRecord(sampleTaskKey(), 10, 510, "abc")
		if err := repo.AppendForwarded(context.Background(), record); err != nil {
			t.Fatalf("expected duplicate to be ignored, got %v", err)
		}
	})

	mt.Run("insert error", func(mt *mtest.T) {
		repo := &MongoForwardedRecordRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    123,
			Name:    "WriteError",
			Message: "mock write failure",
		}))

		err := repo.AppendForwarded(context.Background(), models.NewForwardedRecord(sampleTaskKey(), 11, 511, ""))
		if err == nil || !strings.Contains(err.Error(), "failed to create forwarded record") {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestMongoForwardedRecordRepositoryHasForwarded(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("forwarded", func(mt *mtest.T) {
		repo := &MongoForwardedRecordRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(
			0,
			forwardedRecordNamespace(mt),
			mtest.FirstBatch,
			bson.D{{Key: "n", Value: int32(1)}},
		))

		ok, err := repo.HasForwarded(context.Background(), sampleTaskKey(), 10)
		if err != nil {
			t.Fatalf("HasForwarded failed: %v", err)
		}
		if !ok {
			t.Fatalf("expected message to be forwarded")
		}
	})

	mt.Run("not forwarded", func(mt *mtest.T) {
		repo := &MongoForwardedRecordRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, forwardedRecordNamespace(mt), mtest.FirstBatch))

		ok, err := repo.HasForwarded(context.Background(), sampleTaskKey(), 11)
		if err != nil {
			t.Fatalf("HasForwarded failed: %v", err)
		}
		if ok {
			t.Fatalf("expected message not to be forwarded")
		}
	})

	mt.Run("query error", func(mt *mtest.T) {
		repo := &MongoForwardedRecordRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Name:    "BadValue",
			Message: "mock aggregate failure",
		}))

		if _, err := repo.HasForwarded(context.Background(), sampleTaskKey(), 12); err == nil {
			t.Fatalf("expected error but got nil")
		}
	})
}

func TestMongoForwardedRecordRepositoryRecentFingerprints(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := &MongoForwardedRecordRepository{collection: mt.Coll}
		now := time.Now().UTC()
		mt.AddMockResponses(mtest.CreateCursorResponse(
			0,
			forwardedRecordNamespace(mt),
			mtest.FirstBatch,
			bson.D{{Key: "fingerprint", Value: "newest"}, {Key: "forwarded_at", Value: now}},
			bson.D{{Key: "fingerprint", Value: "older"}, {Key: "forwarded_at", Value: now.Add(-time.Minute)}},
		))

		fps, err := repo.RecentFingerprints(context.Background(), -1002002, 100)
		if err != nil {
			t.Fatalf("RecentFingerprints failed: %v", err)
		}
		if len(fps) != 2 || fps[0] != "newest" || fps[1] != "older" {
			t.Fatalf("unexpected fingerprints: %v", fps)
		}
	})

	mt.Run("find error", func(mt *mtest.T) {
		repo := &MongoForwardedRecordRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Name:    "BadValue",
			Message: "mock find failure",
		}))

		_, err := repo.RecentFingerprints(context.Background(), -1002002, 100)
		if err == nil || !strings.Contains(err.Error(), "failed to query fingerprints") {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestMongoForwardedRecordRepositoryCountForwarded(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := &MongoForwardedRecordRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(
			0,
			forwardedRecordNamespace(mt),
			mtest.FirstBatch,
			bson.D{{Key: "n", Value: int64(57)}},
		))

		count, err := repo.CountForwarded(context.Background())
		if err != nil {
			t.Fatalf("CountForwarded failed: %v", err)
		}
		if count != 57 {
			t.Fatalf("expected 57, got %d", count)
		}
	})
}

func forwardedRecordNamespace(mt *mtest.T) string {
	return mt.DB.Name() + "." + mt.Coll.Name()
}
