package repository

import (
	"context"
	"time"

	"recovery_bot/internal/telegram/models"
)

// ArchiveRepository 消息归档数据访问接口
type ArchiveRepository interface {
	// SaveMessage 幂等落档一条消息（按 telegram_message_id + chat_id 去重）
	SaveMessage(ctx context.Context, message *models.ArchivedMessage) error

	// ListInboundSince 列出某用户在游标之后的入站文本消息
	// 只含对端发出、text 非空、telegram_message_id > sinceID 且 sent_at 晚于
	// sinceTime 的消息，按 telegram_message_id 升序返回
	ListInboundSince(ctx context.Context, userID, sinceID int64, sinceTime time.Time, limit int) ([]*models.ArchivedMessage, error)

	// ListDialogUserIDs 分页枚举归档中出现过的私聊用户 ID（升序）
	// afterUserID 为上一页最后一个 ID，首页传 0
	ListDialogUserIDs(ctx context.Context, afterUserID int64, pageSize int) ([]int64, error)

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}

// InteractionRepository 交互记录数据访问接口
type InteractionRepository interface {
	// SaveInteraction 持久化一次交互
	SaveInteraction(ctx context.Context, interaction *models.Interaction) error

	// CountRecoveredByUser 统计某用户的恢复交互数
	CountRecoveredByUser(ctx context.Context, userID int64) (int64, error)

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}
