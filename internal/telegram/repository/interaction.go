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

// MongoInteractionRepository 交互记录数据访问层（MongoDB 实现）
type MongoInteractionRepository struct {
	collection *mongo.Collection
}

// NewMongoInteractionRepository 创建交互记录 Repository
func NewMongoInteractionRepository(db *mongo.Database) InteractionRepository {
	return &MongoInteractionRepository{
		collection: db.Collection("interactions"),
	}
}

// SaveInteraction 持久化交互记录
func (r *MongoInteractionRepository) SaveInteraction(ctx context.Context, interaction *models.Interaction) error {
	if interaction.CreatedAt.IsZero() {
		interaction.CreatedAt = time.Now().UTC()
	}

	if _, err := r.collection.InsertOne(ctx, interaction); err != nil {
		return fmt.Errorf("failed to save interaction: %w", err)
	}
	return nil
}

// CountRecoveredByUser 统计某用户的恢复交互数
func (r *MongoInteractionRepository) CountRecoveredByUser(ctx context.Context, userID int64) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{
		"user_id":      userID,
		"is_recovered": true,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count recovered interactions: %w", err)
	}
	return count, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoInteractionRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "platform_message_id", Value: 1},
			},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"is_recovered": true}),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create interaction indexes: %w", err)
	}
	return nil
}
