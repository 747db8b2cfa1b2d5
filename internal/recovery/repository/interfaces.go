package repository

import (
	"context"
	"errors"
	"time"

	"recovery_bot/internal/recovery/models"
)

// ErrNotFound 目标记录不存在
var ErrNotFound = errors.New("record not found")

// CursorRepository 用户恢复游标数据访问接口
type CursorRepository interface {
	// GetLastMessagePerUser 批量查询游标位置，结果中缺失的用户视为从未恢复过
	GetLastMessagePerUser(ctx context.Context, userIDs []int64) (map[int64]models.CursorPoint, error)

	// UpdateCursor 幂等 upsert：覆盖游标位置，并把 recoveredDelta 累加到恢复计数
	// 调用方保证 messageID 是该批次内已处理的最大值
	UpdateCursor(ctx context.Context, userID, messageID int64, timestamp time.Time, recoveredDelta int64) error

	// GetCursor 查询单个用户的游标，不存在时返回 ErrNotFound
	GetCursor(ctx context.Context, userID int64) (*models.UserCursor, error)

	// ListAllCursors 列出全部游标，按 last_recovery_check_at 升序（最久未检查的在前）
	ListAllCursors(ctx context.Context) ([]*models.UserCursor, error)

	// TouchCheckedAt 仅刷新 last_recovery_check_at（本轮确认无缺口时使用）
	TouchCheckedAt(ctx context.Context, userID int64) error

	// EnsureSchema 确保表结构存在
	EnsureSchema(ctx context.Context) error
}

// OperationRepository 恢复操作记录数据访问接口
type OperationRepository interface {
	// Create 写入一条 running 状态的操作记录
	Create(ctx context.Context, op *models.RecoveryOperation) error

	// UpdateCounters 增量刷新操作计数器
	UpdateCounters(ctx context.Context, id string, usersChecked, recovered, skipped, errs int) error

	// MarkCompleted 标记操作成功结束
	MarkCompleted(ctx context.Context, id string) error

	// MarkFailed 标记操作失败并记录错误详情，已累计的计数保留
	MarkFailed(ctx context.Context, id string, errorDetails string) error

	// Get 查询操作记录，不存在时返回 ErrNotFound
	Get(ctx context.Context, id string) (*models.RecoveryOperation, error)

	// Latest 返回最近启动的一条操作记录，没有任何记录时返回 ErrNotFound
	Latest(ctx context.Context) (*models.RecoveryOperation, error)

	// EnsureSchema 确保表结构存在
	EnsureSchema(ctx context.Context) error
}
