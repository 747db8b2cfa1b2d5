package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"recovery_bot/internal/telegram/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func archiveNamespace(mt *mtest.T) string {
	return fmt.Sprintf("%s.%s", mt.DB.Name(), mt.Coll.Name())
}

func TestMongoArchiveRepositorySaveMessage(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := &MongoArchiveRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 0},
			bson.E{Key: "upserted", Value: bson.A{}},
		))

		msg := &models.ArchivedMessage{
			TelegramMessageID: 555,
			ChatID:            42,
			UserID:            42,
			Text:              "hello there",
			SentAt:            time.Now().UTC().Add(-time.Minute),
		}

		if err := repo.SaveMessage(context.Background(), msg); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
		if msg.CreatedAt.IsZero() || msg.UpdatedAt.IsZero() {
			t.Fatalf("expected timestamps to be set")
		}
	})

	mt.Run("write error", func(mt *mtest.T) {
		repo := &MongoArchiveRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    123,
			Name:    "WriteError",
			Message: "mock write failure",
		}))

		err := repo.SaveMessage(context.Background(), &models.ArchivedMessage{
			TelegramMessageID: 556,
			ChatID:            42,
		})
		if err == nil {
			t.Fatalf("expected error but got nil")
		}
		if !strings.Contains(err.Error(), "failed to archive message") {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestMongoArchiveRepositoryListInboundSince(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("returns messages in ascending order", func(mt *mtest.T) {
		repo := &MongoArchiveRepository{collection: mt.Coll}
		sentAt := time.Now().UTC().Truncate(time.Second)

		first := mtest.CreateCursorResponse(1, archiveNamespace(mt), mtest.FirstBatch,
			bson.D{
				{Key: "telegram_message_id", Value: int64(101)},
				{Key: "chat_id", Value: int64(42)},
				{Key: "user_id", Value: int64(42)},
				{Key: "from_bot", Value: false},
				{Key: "text", Value: "first"},
				{Key: "sent_at", Value: sentAt},
			})
		second := mtest.CreateCursorResponse(0, archiveNamespace(mt), mtest.NextBatch,
			bson.D{
				{Key: "telegram_message_id", Value: int64(102)},
				{Key: "chat_id", Value: int64(42)},
				{Key: "user_id", Value: int64(42)},
				{Key: "from_bot", Value: false},
				{Key: "text", Value: "second"},
				{Key: "sent_at", Value: sentAt},
			})
		mt.AddMockResponses(first, second)

		messages, err := repo.ListInboundSince(context.Background(), 42, 100, sentAt.Add(-time.Hour), 50)
		if err != nil {
			t.Fatalf("ListInboundSince failed: %v", err)
		}
		if len(messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(messages))
		}
		if messages[0].TelegramMessageID != 101 || messages[1].TelegramMessageID != 102 {
			t.Fatalf("unexpected order: %d, %d", messages[0].TelegramMessageID, messages[1].TelegramMessageID)
		}
		if messages[0].Text != "first" {
			t.Fatalf("unexpected text: %q", messages[0].Text)
		}
	})

	mt.Run("empty result", func(mt *mtest.T) {
		repo := &MongoArchiveRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, archiveNamespace(mt), mtest.FirstBatch))

		messages, err := repo.ListInboundSince(context.Background(), 42, 100, time.Now(), 50)
		if err != nil {
			t.Fatalf("ListInboundSince failed: %v", err)
		}
		if len(messages) != 0 {
			t.Fatalf("expected no messages, got %d", len(messages))
		}
	})

	// Telegram 时间戳只有秒级精度：已有游标的用户必须只按消息 ID 过滤，
	// 否则与游标同秒落档的缺口消息在每轮扫描里都会被时间条件排除
	mt.Run("cursor query filters by message id only", func(mt *mtest.T) {
		repo := &MongoArchiveRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, archiveNamespace(mt), mtest.FirstBatch))

		if _, err := repo.ListInboundSince(context.Background(), 42, 100, time.Now().UTC(), 50); err != nil {
			t.Fatalf("ListInboundSince failed: %v", err)
		}

		evt := mt.GetStartedEvent()
		if evt == nil || evt.CommandName != "find" {
			t.Fatalf("expected find command event, got %+v", evt)
		}
		filter := evt.Command.Lookup("filter").Document()
		if _, err := filter.LookupErr("sent_at"); err == nil {
			t.Fatalf("cursor query must not filter by sent_at: %s", filter)
		}
		if _, err := filter.LookupErr("telegram_message_id"); err != nil {
			t.Fatalf("expected telegram_message_id filter: %s", filter)
		}
	})

	mt.Run("first scan keeps the time window", func(mt *mtest.T) {
		repo := &MongoArchiveRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, archiveNamespace(mt), mtest.FirstBatch))

		if _, err := repo.ListInboundSince(context.Background(), 42, 0, time.Now().UTC().Add(-12*time.Hour), 50); err != nil {
			t.Fatalf("ListInboundSince failed: %v", err)
		}

		evt := mt.GetStartedEvent()
		if evt == nil || evt.CommandName != "find" {
			t.Fatalf("expected find command event, got %+v", evt)
		}
		filter := evt.Command.Lookup("filter").Document()
		if _, err := filter.LookupErr("sent_at"); err != nil {
			t.Fatalf("first scan must keep the sent_at window: %s", filter)
		}
	})
}

func TestMongoArchiveRepositoryListDialogUserIDs(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("returns distinct chat ids", func(mt *mtest.T) {
		repo := &MongoArchiveRepository{collection: mt.Coll}

		first := mtest.CreateCursorResponse(1, archiveNamespace(mt), mtest.FirstBatch,
			bson.D{{Key: "_id", Value: int64(7)}})
		second := mtest.CreateCursorResponse(0, archiveNamespace(mt), mtest.NextBatch,
			bson.D{{Key: "_id", Value: int64(42)}})
		mt.AddMockResponses(first, second)

		ids, err := repo.ListDialogUserIDs(context.Background(), 0, 100)
		if err != nil {
			t.Fatalf("ListDialogUserIDs failed: %v", err)
		}
		if len(ids) != 2 || ids[0] != 7 || ids[1] != 42 {
			t.Fatalf("unexpected ids: %v", ids)
		}
	})
}

func TestMongoInteractionRepositorySaveInteraction(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := &MongoInteractionRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		interaction := &models.Interaction{
			UserID:            42,
			UserMessage:       "hello",
			BotResponse:       "hi",
			PlatformMessageID: 555,
			IsRecovered:       true,
		}
		if err := repo.SaveInteraction(context.Background(), interaction); err != nil {
			t.Fatalf("SaveInteraction failed: %v", err)
		}
		if interaction.CreatedAt.IsZero() {
			t.Fatalf("expected created_at to be set")
		}
	})

	mt.Run("duplicate recovered interaction", func(mt *mtest.T) {
		repo := &MongoInteractionRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "duplicate key error",
		}))

		err := repo.SaveInteraction(context.Background(), &models.Interaction{
			UserID:            42,
			PlatformMessageID: 555,
			IsRecovered:       true,
		})
		if err == nil {
			t.Fatalf("expected duplicate key error")
		}
	})
}
