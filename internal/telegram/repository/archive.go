package repository

import (
	"context"
	"fmt"
	"time"

	"recovery_bot/internal/telegram/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoArchiveRepository 消息归档数据访问层（MongoDB 实现）
type MongoArchiveRepository struct {
	collection *mongo.Collection
}

// NewMongoArchiveRepository 创建归档 Repository
func NewMongoArchiveRepository(db *mongo.Database) ArchiveRepository {
	return &MongoArchiveRepository{
		collection: db.Collection("messages"),
	}
}

// SaveMessage 幂等落档消息
func (r *MongoArchiveRepository) SaveMessage(ctx context.Context, message *models.ArchivedMessage) error {
	now := time.Now().UTC()
	message.CreatedAt = now
	message.UpdatedAt = now

	// 使用 Upsert 模式，重放同一条更新不会产生重复记录
	filter := bson.M{
		"telegram_message_id": message.TelegramMessageID,
		"chat_id":             message.ChatID,
	}

	update := bson.M{
		"$set": bson.M{
			"user_id":    message.UserID,
			"from_bot":   message.FromBot,
			"text":       message.Text,
			"sent_at":    message.SentAt,
			"updated_at": message.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"created_at": message.CreatedAt,
		},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to archive message: %w", err)
	}
	return nil
}

// ListInboundSince 列出游标之后的入站文本消息（升序，回放顺序）
func (r *MongoArchiveRepository) ListInboundSince(ctx context.Context, userID, sinceID int64, sinceTime time.Time, limit int) ([]*models.ArchivedMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	filter := bson.M{
		"chat_id":             userID,
		"from_bot":            false,
		"telegram_message_id": bson.M{"$gt": sinceID},
		"text":                bson.M{"$ne": ""},
	}
	// 已有游标的用户只按消息 ID 判定缺口；时间窗口仅约束首次扫描，
	// 否则与游标同秒落档的消息会被秒级时间戳过滤掉
	if sinceID <= 0 {
		filter["sent_at"] = bson.M{"$gt": sinceTime}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "telegram_message_id", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list inbound messages: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []*models.ArchivedMessage
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode inbound messages: %w", err)
	}
	return messages, nil
}

// ListDialogUserIDs 分页枚举私聊用户 ID
func (r *MongoArchiveRepository) ListDialogUserIDs(ctx context.Context, afterUserID int64, pageSize int) ([]int64, error) {
	if pageSize <= 0 {
		pageSize = 100
	}

	pipeline := []bson.M{
		// chat_id > 0 只保留私聊（群组/频道为负数）
		{"$match": bson.M{"chat_id": bson.M{"$gt": afterUserID}, "from_bot": false}},
		{"$group": bson.M{"_id": "$chat_id"}},
		{"$sort": bson.M{"_id": 1}},
		{"$limit": pageSize},
	}
	if afterUserID <= 0 {
		pipeline[0] = bson.M{"$match": bson.M{"chat_id": bson.M{"$gt": int64(0)}, "from_bot": false}}
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to list dialog users: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []int64
	for cursor.Next(ctx) {
		var doc struct {
			ID int64 `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode dialog user id: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("dialog cursor error: %w", err)
	}
	return ids, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoArchiveRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "telegram_message_id", Value: 1},
				{Key: "chat_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "chat_id", Value: 1},
				{Key: "telegram_message_id", Value: 1},
			},
		},
		{
			Keys: bson.D{
				{Key: "chat_id", Value: 1},
				{Key: "sent_at", Value: -1},
			},
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create archive indexes: %w", err)
	}
	return nil
}
